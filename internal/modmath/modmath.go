// Package modmath provides the big-integer arithmetic used by the signature
// scheme.
package modmath

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
)

// ErrEmptyRange is returned by RandRange when low >= high.
var ErrEmptyRange = errors.New("modmath: empty range")

var one = big.NewInt(1)

// ModPow returns base^exp mod m by left-to-right square-and-multiply over the
// bits of exp. exp must be non-negative. A zero modulus is a programming error
// and panics.
func ModPow(base, exp, m *big.Int) *big.Int {
	if m.Sign() == 0 {
		panic("modmath: zero modulus")
	}
	if exp.Sign() < 0 {
		panic("modmath: negative exponent")
	}

	result := new(big.Int).Mod(one, m)
	b := new(big.Int).Mod(base, m)
	for i := exp.BitLen() - 1; i >= 0; i-- {
		result.Mul(result, result)
		result.Mod(result, m)
		if exp.Bit(i) == 1 {
			result.Mul(result, b)
			result.Mod(result, m)
		}
	}
	return result
}

// RandRange returns a uniform random integer in [low, high) drawn from r.
// A nil r means crypto/rand.Reader.
func RandRange(r io.Reader, low, high *big.Int) (*big.Int, error) {
	if low.Cmp(high) >= 0 {
		return nil, fmt.Errorf("%w: [%s, %s)", ErrEmptyRange, low, high)
	}
	if r == nil {
		r = rand.Reader
	}

	span := new(big.Int).Sub(high, low)
	n, err := rand.Int(r, span)
	if err != nil {
		return nil, fmt.Errorf("modmath: random draw failed: %w", err)
	}
	return n.Add(n, low), nil
}
