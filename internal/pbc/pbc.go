// Package pbc streams data through the magenta cipher in plaintext-feedback
// chaining mode.
//
// With p_0 = 0, each padded plaintext block is encrypted as
//
//	c_i = E(p_i) ^ p_{i-1}
//
// and decrypted as p_i = D(c_i ^ p_{i-1}). The plaintext is padded with an
// end marker and an 8-byte big-endian length trailer in the final block, so
// the ciphertext is at most two blocks longer than the input. Inputs shorter
// than one block always produce two blocks with the trailer in its own block.
//
// The mode has no integrity tag: decrypting with the wrong key is detected only
// when the recovered trailer is implausible.
package pbc

import (
	"errors"
	"fmt"
	"io"

	"github.com/magentakit/magenta/internal/blockutil"
	"github.com/magentakit/magenta/internal/magenta"
)

var (
	// ErrUnaligned is returned when ciphertext is not a whole number of blocks.
	ErrUnaligned = errors.New("ciphertext is not a multiple of the block size")

	// ErrTruncated is returned when ciphertext holds fewer than two blocks.
	ErrTruncated = errors.New("ciphertext shorter than two blocks")

	// ErrInvalidTrailer is returned when the decrypted length trailer does not
	// match the ciphertext length, usually because of a wrong key.
	ErrInvalidTrailer = errors.New("invalid length trailer")
)

// maxTail is the most plaintext the final two blocks can carry: a full block
// plus the bytes in front of a trailer.
const maxTail = blockutil.BlockSize + blockutil.BlockSize - blockutil.TrailerSize

// Codec encrypts and decrypts streams under one key. It is safe for
// concurrent use on different streams.
type Codec struct {
	block *magenta.Cipher
}

// NewCodec returns a codec for a 16, 24 or 32-byte key.
func NewCodec(key []byte) (*Codec, error) {
	c, err := magenta.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &Codec{block: c}, nil
}

// NewCodecFromCipher wraps an existing cipher.
func NewCodecFromCipher(c *magenta.Cipher) *Codec {
	return &Codec{block: c}
}

// Encrypt reads r to end of stream and writes the ciphertext to w. It returns
// the number of ciphertext bytes written, always a whole number of blocks.
func (c *Codec) Encrypt(r io.Reader, w io.Writer) (int64, error) {
	var (
		prev    blockutil.Block
		total   uint64
		written int64
	)

	emit := func(p blockutil.Block) error {
		ct := blockutil.Xor(c.block.EncryptBlock(p), prev)
		if _, err := w.Write(ct[:]); err != nil {
			return fmt.Errorf("failed to write ciphertext: %w", err)
		}
		prev = p
		written += blockutil.BlockSize
		return nil
	}

	var buf blockutil.Block
	for {
		n, err := io.ReadFull(r, buf[:])
		total += uint64(n)
		if err == nil {
			if err := emit(buf); err != nil {
				return written, err
			}
			continue
		}
		if err != io.EOF && err != io.ErrUnexpectedEOF {
			return written, fmt.Errorf("failed to read plaintext: %w", err)
		}

		for _, b := range blockutil.TerminalBlocks(buf[:n], total, written == 0) {
			if err := emit(b); err != nil {
				return written, err
			}
		}
		return written, nil
	}
}

// Decrypt reads ciphertext from r and writes the recovered plaintext to w.
// Plaintext is written as it is recovered, holding back two blocks until the
// trailer is known; on error w may already hold a prefix of the output.
func (c *Codec) Decrypt(r io.Reader, w io.Writer) error {
	var (
		prev    blockutil.Block
		pending [2]blockutil.Block
		held    int
		count   uint64
		buf     blockutil.Block
	)

	for {
		n, err := io.ReadFull(r, buf[:])
		if err == io.ErrUnexpectedEOF {
			return fmt.Errorf("%w: %d trailing bytes", ErrUnaligned, n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read ciphertext: %w", err)
		}

		p := c.block.DecryptBlock(blockutil.Xor(buf, prev))
		prev = p
		count++

		if held == len(pending) {
			if _, err := w.Write(pending[0][:]); err != nil {
				return fmt.Errorf("failed to write plaintext: %w", err)
			}
			pending[0] = pending[1]
			held--
		}
		pending[held] = p
		held++
	}

	if count < 2 {
		return ErrTruncated
	}

	size := blockutil.Length(pending[1])
	flushed := (count - 2) * blockutil.BlockSize
	if size < flushed || size-flushed > maxTail {
		return fmt.Errorf("%w: length %d for %d blocks", ErrInvalidTrailer, size, count)
	}

	tail := append(pending[0][:], pending[1][:]...)
	if _, err := w.Write(tail[:size-flushed]); err != nil {
		return fmt.Errorf("failed to write plaintext: %w", err)
	}
	return nil
}
