// Package envelope combines signing and encryption: a message and its
// signature are encrypted together so that one ciphertext carries both.
//
// The sealed plaintext is the message followed by "\n", the decimal r, "\n"
// and the decimal s.
package envelope

import (
	"bytes"
	"errors"
	"fmt"
	"hash"
	"io"
	"math/big"

	"github.com/magentakit/magenta/internal/ds"
	"github.com/magentakit/magenta/internal/mhash"
	"github.com/magentakit/magenta/internal/pbc"
)

// ErrNoSignature is returned by Open when the decrypted payload does not end
// in two signature lines.
var ErrNoSignature = errors.New("payload carries no signature")

// Sealed describes a sealed message.
type Sealed struct {
	PublicKey *big.Int
	Signature *ds.Signature
	Digest    mhash.Digest // digest of the message alone
	PlainSize int64
}

// Opened describes an opened envelope.
type Opened struct {
	Signature   *ds.Signature
	Digest      mhash.Digest
	MessageSize int64
	Verified    bool
}

// Seal signs msg with x and writes the encrypted message and signature to w.
// msg is read once.
func Seal(rand io.Reader, codec *pbc.Codec, x *big.Int, msg io.Reader, w io.Writer) (*Sealed, error) {
	h := mhash.New()
	trailer := &signatureReader{hash: h, sign: func(d mhash.Digest) (*big.Int, *ds.Signature, error) {
		return ds.SignDigest(rand, d, x)
	}}

	cr := &countingReader{r: msg}
	if _, err := codec.Encrypt(io.MultiReader(io.TeeReader(cr, h), trailer), w); err != nil {
		return nil, err
	}
	if trailer.err != nil {
		return nil, trailer.err
	}

	return &Sealed{
		PublicKey: trailer.y,
		Signature: trailer.sig,
		Digest:    trailer.digest,
		PlainSize: cr.n,
	}, nil
}

// signatureReader yields "\nr\ns" once the message has been fully hashed.
type signatureReader struct {
	hash hash.Hash
	sign func(mhash.Digest) (*big.Int, *ds.Signature, error)

	buf    *bytes.Reader
	digest mhash.Digest
	y      *big.Int
	sig    *ds.Signature
	err    error
}

func (s *signatureReader) Read(p []byte) (int, error) {
	if s.buf == nil {
		s.digest = mhash.Digest(s.hash.Sum(nil))
		y, sig, err := s.sign(s.digest)
		if err != nil {
			s.err = fmt.Errorf("failed to sign message: %w", err)
			return 0, s.err
		}
		text, err := sig.MarshalText()
		if err != nil {
			s.err = err
			return 0, err
		}
		payload := append([]byte{'\n'}, text...)
		s.buf = bytes.NewReader(payload)
		s.y, s.sig = y, sig
	}
	return s.buf.Read(p)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Open decrypts an envelope from r, writes the message to w and verifies the
// embedded signature against y. The message is written whether or not the
// signature verifies; check Opened.Verified.
func Open(codec *pbc.Codec, y *big.Int, r io.Reader, w io.Writer) (*Opened, error) {
	var plain bytes.Buffer
	if err := codec.Decrypt(r, &plain); err != nil {
		return nil, err
	}

	msg, sig, err := Split(plain.Bytes())
	if err != nil {
		return nil, err
	}

	d := mhash.SumBytes(msg)
	if _, err := w.Write(msg); err != nil {
		return nil, fmt.Errorf("failed to write message: %w", err)
	}

	return &Opened{
		Signature:   sig,
		Digest:      d,
		MessageSize: int64(len(msg)),
		Verified:    ds.Default.VerifyDigest(d, y, sig),
	}, nil
}

// Split separates a decrypted payload into the message and its signature.
func Split(payload []byte) ([]byte, *ds.Signature, error) {
	last := bytes.LastIndexByte(payload, '\n')
	if last < 0 {
		return nil, nil, ErrNoSignature
	}
	first := bytes.LastIndexByte(payload[:last], '\n')
	if first < 0 {
		return nil, nil, ErrNoSignature
	}

	sig, err := ds.ParseSignature(string(payload[first+1:]))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrNoSignature, err)
	}
	return payload[:first], sig, nil
}
