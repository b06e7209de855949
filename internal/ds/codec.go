package ds

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
)

var (
	// ErrMalformedSignature is returned when signature text is not two
	// decimal lines.
	ErrMalformedSignature = errors.New("malformed signature")

	// ErrMalformedKey is returned when key text is not a single decimal
	// integer.
	ErrMalformedKey = errors.New("malformed key")
)

// maxTextSize bounds how much of a key or signature file is read.
const maxTextSize = 64 << 10

// MarshalText encodes sig as "r\ns" in decimal.
func (sig *Signature) MarshalText() ([]byte, error) {
	if sig.R == nil || sig.S == nil {
		return nil, ErrMalformedSignature
	}
	return []byte(sig.R.String() + "\n" + sig.S.String()), nil
}

// UnmarshalText decodes the form written by MarshalText. One trailing newline
// is tolerated.
func (sig *Signature) UnmarshalText(text []byte) error {
	s := strings.TrimSuffix(string(text), "\n")
	lines := strings.Split(s, "\n")
	if len(lines) != 2 {
		return fmt.Errorf("%w: %d lines", ErrMalformedSignature, len(lines))
	}

	for i := range lines {
		lines[i] = strings.TrimSuffix(lines[i], "\r")
	}

	r, err := parseDecimal(lines[0])
	if err != nil {
		return fmt.Errorf("%w: r: %v", ErrMalformedSignature, err)
	}
	sv, err := parseDecimal(lines[1])
	if err != nil {
		return fmt.Errorf("%w: s: %v", ErrMalformedSignature, err)
	}

	sig.R, sig.S = r, sv
	return nil
}

func (sig *Signature) String() string {
	b, err := sig.MarshalText()
	if err != nil {
		return "<invalid signature>"
	}
	return strings.Replace(string(b), "\n", " ", 1)
}

// ParseSignature decodes signature text.
func ParseSignature(text string) (*Signature, error) {
	sig := &Signature{}
	if err := sig.UnmarshalText([]byte(text)); err != nil {
		return nil, err
	}
	return sig, nil
}

// WriteSignature writes sig to w in text form.
func WriteSignature(w io.Writer, sig *Signature) error {
	b, err := sig.MarshalText()
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("failed to write signature: %w", err)
	}
	return nil
}

// ReadSignature reads a signature from r.
func ReadSignature(r io.Reader) (*Signature, error) {
	b, err := readText(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read signature: %w", err)
	}
	return ParseSignature(string(b))
}

// EncodeKey renders a private or public key as decimal text.
func EncodeKey(k *big.Int) string {
	return k.String()
}

// ParseKey decodes a decimal key. Surrounding whitespace is ignored.
func ParseKey(text string) (*big.Int, error) {
	k, err := parseDecimal(strings.TrimSpace(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	return k, nil
}

// WriteKey writes k to w as decimal text.
func WriteKey(w io.Writer, k *big.Int) error {
	if _, err := io.WriteString(w, EncodeKey(k)); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}
	return nil
}

// ReadKey reads a decimal key from r.
func ReadKey(r io.Reader) (*big.Int, error) {
	b, err := readText(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}
	return ParseKey(string(b))
}

func readText(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxTextSize+1))
	if err != nil {
		return nil, err
	}
	if len(b) > maxTextSize {
		return nil, fmt.Errorf("input exceeds %d bytes", maxTextSize)
	}
	return b, nil
}

func parseDecimal(s string) (*big.Int, error) {
	if s == "" {
		return nil, errors.New("empty value")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("invalid digit %q", c)
		}
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	return n, nil
}
