// Package ds implements the discrete-log signature scheme over the magenta
// hash.
//
// With private key x in [2, q), public key y = g^x mod p, message digest h and
// a fresh nonce k in [1, q):
//
//	r   = g^k mod p
//	rho = r mod q
//	s   = (h*k - rho*x) mod q
//
// A signature (r, s) verifies when r^h == g^s * y^rho (mod p).
package ds

import (
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/magentakit/magenta/internal/mhash"
	"github.com/magentakit/magenta/internal/modmath"
)

var (
	// ErrKeyOutOfRange is returned for a private key outside [2, q).
	ErrKeyOutOfRange = errors.New("private key out of range")

	// ErrNonceOutOfRange is returned for a nonce outside [1, q).
	ErrNonceOutOfRange = errors.New("nonce out of range")
)

var (
	one = big.NewInt(1)
	two = big.NewInt(2)
)

// Signature is an (r, s) pair.
type Signature struct {
	R *big.Int
	S *big.Int
}

// Equal reports whether two signatures hold the same values. A nil signature
// equals only another nil.
func (sig *Signature) Equal(other *Signature) bool {
	if sig == nil || other == nil {
		return sig == other
	}
	if sig.R == nil || sig.S == nil || other.R == nil || other.S == nil {
		return false
	}
	return sig.R.Cmp(other.R) == 0 && sig.S.Cmp(other.S) == 0
}

// GenerateKey draws a private key uniformly from [2, q).
func (pp *Params) GenerateKey(rand io.Reader) (*big.Int, error) {
	x, err := modmath.RandRange(rand, two, pp.Q)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	return x, nil
}

// PublicKey returns y = g^x mod p.
func (pp *Params) PublicKey(x *big.Int) *big.Int {
	return modmath.ModPow(pp.G, x, pp.P)
}

// Sign hashes msg and signs the digest with x using a nonce drawn from rand.
// It returns the public key for x alongside the signature.
func (pp *Params) Sign(rand io.Reader, msg io.Reader, x *big.Int) (*big.Int, *Signature, error) {
	k, err := modmath.RandRange(rand, one, pp.Q)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to draw nonce: %w", err)
	}
	return pp.SignWithNonce(msg, x, k)
}

// SignWithNonce is Sign with a caller-supplied nonce k. Reusing k across two
// messages reveals x.
func (pp *Params) SignWithNonce(msg io.Reader, x, k *big.Int) (*big.Int, *Signature, error) {
	if err := pp.checkRanges(x, k); err != nil {
		return nil, nil, err
	}
	d, err := mhash.Sum(msg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash message: %w", err)
	}
	return pp.signDigest(d, x, k)
}

// SignDigest signs an already computed digest with a nonce drawn from rand.
func (pp *Params) SignDigest(rand io.Reader, d mhash.Digest, x *big.Int) (*big.Int, *Signature, error) {
	k, err := modmath.RandRange(rand, one, pp.Q)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to draw nonce: %w", err)
	}
	if err := pp.checkRanges(x, k); err != nil {
		return nil, nil, err
	}
	return pp.signDigest(d, x, k)
}

func (pp *Params) checkRanges(x, k *big.Int) error {
	if x.Cmp(two) < 0 || x.Cmp(pp.Q) >= 0 {
		return ErrKeyOutOfRange
	}
	if k.Cmp(one) < 0 || k.Cmp(pp.Q) >= 0 {
		return ErrNonceOutOfRange
	}
	return nil
}

func (pp *Params) signDigest(d mhash.Digest, x, k *big.Int) (*big.Int, *Signature, error) {
	h := d.Int()

	r := modmath.ModPow(pp.G, k, pp.P)
	rho := new(big.Int).Mod(r, pp.Q)

	s := new(big.Int).Mul(h, k)
	s.Sub(s, new(big.Int).Mul(rho, x))
	s.Mod(s, pp.Q) // Mod is Euclidean, s is non-negative

	return pp.PublicKey(x), &Signature{R: r, S: s}, nil
}

// Verify re-hashes msg and checks sig against public key y. A mismatch is a
// false result; the error is set only when msg cannot be read.
func (pp *Params) Verify(msg io.Reader, y *big.Int, sig *Signature) (bool, error) {
	d, err := mhash.Sum(msg)
	if err != nil {
		return false, fmt.Errorf("failed to hash message: %w", err)
	}
	return pp.VerifyDigest(d, y, sig), nil
}

// VerifyDigest checks sig over an already computed digest.
func (pp *Params) VerifyDigest(d mhash.Digest, y *big.Int, sig *Signature) bool {
	if sig == nil || sig.R == nil || sig.S == nil || y == nil {
		return false
	}
	if sig.R.Sign() <= 0 || sig.R.Cmp(pp.P) >= 0 || sig.S.Sign() < 0 {
		return false
	}

	h := d.Int()
	rho := new(big.Int).Mod(sig.R, pp.Q)

	lhs := modmath.ModPow(sig.R, h, pp.P)
	rhs := new(big.Int).Mul(modmath.ModPow(pp.G, sig.S, pp.P), modmath.ModPow(y, rho, pp.P))
	rhs.Mod(rhs, pp.P)
	return lhs.Cmp(rhs) == 0
}

// GenerateKey draws a private key with the default parameters.
func GenerateKey(rand io.Reader) (*big.Int, error) { return Default.GenerateKey(rand) }

// PublicKey derives a public key with the default parameters.
func PublicKey(x *big.Int) *big.Int { return Default.PublicKey(x) }

// Sign signs msg with the default parameters.
func Sign(rand io.Reader, msg io.Reader, x *big.Int) (*big.Int, *Signature, error) {
	return Default.Sign(rand, msg, x)
}

// SignWithNonce signs msg with the default parameters and a fixed nonce.
func SignWithNonce(msg io.Reader, x, k *big.Int) (*big.Int, *Signature, error) {
	return Default.SignWithNonce(msg, x, k)
}

// SignDigest signs a digest with the default parameters.
func SignDigest(rand io.Reader, d mhash.Digest, x *big.Int) (*big.Int, *Signature, error) {
	return Default.SignDigest(rand, d, x)
}

// Verify checks sig with the default parameters.
func Verify(msg io.Reader, y *big.Int, sig *Signature) (bool, error) {
	return Default.Verify(msg, y, sig)
}
