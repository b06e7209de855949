// Package mhash implements a 128-bit compression hash built on the magenta
// cipher.
//
// Each padded block m is folded into the running state h as
//
//	x  = m ^ h
//	h' = E_m(x) ^ x
//
// where E_m is magenta-128 keyed with m itself. The state starts at zero.
// Padding appends an end marker (0x40) and the big-endian message length in
// the last eight bytes of the final block, spilling into an extra block when
// the marker leaves fewer than eight free bytes.
package mhash

import (
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"math/big"

	"github.com/magentakit/magenta/internal/blockutil"
	"github.com/magentakit/magenta/internal/magenta"
)

// Size is the digest size in bytes.
const Size = blockutil.BlockSize

// ErrDigestLength is returned when a decoded digest is not Size bytes.
var ErrDigestLength = errors.New("digest must be 16 bytes")

// Digest is a finished hash value.
type Digest [Size]byte

// String returns the lowercase hex form of d.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Int interprets d as a number whose base-2^32 digits are the digest bytes,
// least significant first: sum of d[i] * 2^(32*i).
func (d Digest) Int() *big.Int {
	n := new(big.Int)
	for i := Size - 1; i >= 0; i-- {
		n.Lsh(n, 32)
		n.Add(n, big.NewInt(int64(d[i])))
	}
	return n
}

// ParseDigest decodes a hex digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("failed to decode digest: %w", err)
	}
	if len(b) != Size {
		return d, ErrDigestLength
	}
	copy(d[:], b)
	return d, nil
}

// digest is the streaming state. It implements hash.Hash.
type digest struct {
	h   blockutil.Block
	buf [blockutil.BlockSize]byte
	nx  int
	len uint64
}

var _ hash.Hash = (*digest)(nil)

// New returns a streaming hash. Sum does not change the running state.
func New() hash.Hash {
	return &digest{}
}

func (d *digest) Reset() {
	*d = digest{}
}

func (d *digest) Size() int { return Size }

func (d *digest) BlockSize() int { return blockutil.BlockSize }

func (d *digest) Write(p []byte) (int, error) {
	n := len(p)
	d.len += uint64(n)

	if d.nx > 0 {
		c := copy(d.buf[d.nx:], p)
		d.nx += c
		p = p[c:]
		if d.nx < blockutil.BlockSize {
			return n, nil
		}
		d.h = compress(d.h, blockutil.Block(d.buf))
		d.nx = 0
	}

	for len(p) >= blockutil.BlockSize {
		d.h = compress(d.h, blockutil.Block(p[:blockutil.BlockSize]))
		p = p[blockutil.BlockSize:]
	}
	d.nx = copy(d.buf[:], p)
	return n, nil
}

func (d *digest) Sum(in []byte) []byte {
	s := d.checkSum()
	return append(in, s[:]...)
}

func (d *digest) checkSum() Digest {
	h := d.h
	for _, b := range blockutil.TerminalBlocks(d.buf[:d.nx], d.len, false) {
		h = compress(h, b)
	}
	return Digest(h)
}

// compress folds one block into the state.
func compress(h, m blockutil.Block) blockutil.Block {
	x := blockutil.Xor(m, h)
	return blockutil.Xor(magenta.New128(m).EncryptBlock(x), x)
}

// Sum hashes everything readable from r.
func Sum(r io.Reader) (Digest, error) {
	d := &digest{}
	if _, err := io.Copy(d, r); err != nil {
		return Digest{}, fmt.Errorf("failed to read input: %w", err)
	}
	return d.checkSum(), nil
}

// SumBytes hashes b.
func SumBytes(b []byte) Digest {
	d := &digest{}
	_, _ = d.Write(b)
	return d.checkSum()
}
