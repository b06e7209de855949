// Package magenta implements the 128-bit-block Feistel cipher the toolkit is
// built around.
//
// The cipher accepts 128, 192 and 256-bit keys. A key is cut into 8-byte
// sub-keys which are applied over six or eight Feistel rounds following a fixed
// palindromic schedule:
//   - 128-bit: K1 K1 K2 K2 K1 K1
//   - 192-bit: K1 K2 K3 K3 K2 K1
//   - 256-bit: K1 K2 K3 K4 K4 K3 K2 K1
//
// Because the schedule reads the same backwards, decryption is encryption
// wrapped in a half swap: D(m) = V(E(V(m))).
//
// *Cipher satisfies crypto/cipher.Block.
package magenta

import (
	"crypto/cipher"
	"strconv"

	"github.com/magentakit/magenta/internal/blockutil"
)

// BlockSize is the cipher block size in bytes.
const BlockSize = blockutil.BlockSize

// mixDepth is the depth of the recursive mixing transform used by the round
// function.
const mixDepth = 3

// KeySize selects one of the three cipher variants.
type KeySize int

const (
	Key128 KeySize = 16
	Key192 KeySize = 24
	Key256 KeySize = 32
)

// schedules lists, per variant, the 1-based sub-key applied at each round.
var schedules = map[KeySize][]int{
	Key128: {1, 1, 2, 2, 1, 1},
	Key192: {1, 2, 3, 3, 2, 1},
	Key256: {1, 2, 3, 4, 4, 3, 2, 1},
}

// Bits returns the key length in bits.
func (k KeySize) Bits() int { return int(k) * 8 }

// SubKeys returns the number of 8-byte sub-keys of the variant.
func (k KeySize) SubKeys() int { return int(k) / blockutil.HalfSize }

// Rounds returns the number of Feistel rounds of the variant.
func (k KeySize) Rounds() int { return len(schedules[k]) }

// Schedule returns a copy of the round schedule (1-based sub-key positions).
func (k KeySize) Schedule() []int {
	return append([]int(nil), schedules[k]...)
}

func (k KeySize) String() string {
	switch k {
	case Key128, Key192, Key256:
		return "magenta-" + strconv.Itoa(k.Bits())
	default:
		return "magenta-invalid(" + strconv.Itoa(int(k)) + ")"
	}
}

// KeySizeError reports a key whose length is not 16, 24 or 32 bytes.
type KeySizeError int

func (k KeySizeError) Error() string {
	return "magenta: invalid key size " + strconv.Itoa(int(k))
}

// Cipher is an instance of the cipher keyed with one key. It holds no mutable
// state and is safe for concurrent use.
type Cipher struct {
	size   KeySize
	rounds []blockutil.Half
}

var _ cipher.Block = (*Cipher)(nil)

// NewCipher returns a cipher for a 16, 24 or 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	size := KeySize(len(key))
	sched, ok := schedules[size]
	if !ok {
		return nil, KeySizeError(len(key))
	}

	subkeys := make([]blockutil.Half, size.SubKeys())
	for i := range subkeys {
		copy(subkeys[i][:], key[i*blockutil.HalfSize:])
	}

	rounds := make([]blockutil.Half, len(sched))
	for i, pos := range sched {
		rounds[i] = subkeys[pos-1]
	}

	return &Cipher{size: size, rounds: rounds}, nil
}

// New128 returns a cipher keyed by a single block. It cannot fail.
func New128(key blockutil.Block) *Cipher {
	c, _ := NewCipher(key[:])
	return c
}

// KeySize returns the variant of c.
func (c *Cipher) KeySize() KeySize { return c.size }

// BlockSize returns the cipher block size.
func (c *Cipher) BlockSize() int { return BlockSize }

// EncryptBlock encrypts one block.
func (c *Cipher) EncryptBlock(m blockutil.Block) blockutil.Block {
	for _, k := range c.rounds {
		m = feistelRound(m, k)
	}
	return m
}

// DecryptBlock decrypts one block.
func (c *Cipher) DecryptBlock(m blockutil.Block) blockutil.Block {
	return swap(c.EncryptBlock(swap(m)))
}

// Encrypt encrypts the first block of src into dst.
func (c *Cipher) Encrypt(dst, src []byte) {
	checkLengths(dst, src)
	var m blockutil.Block
	copy(m[:], src)
	out := c.EncryptBlock(m)
	copy(dst, out[:])
}

// Decrypt decrypts the first block of src into dst.
func (c *Cipher) Decrypt(dst, src []byte) {
	checkLengths(dst, src)
	var m blockutil.Block
	copy(m[:], src)
	out := c.DecryptBlock(m)
	copy(dst, out[:])
}

func checkLengths(dst, src []byte) {
	if len(src) < BlockSize {
		panic("magenta: input not full block")
	}
	if len(dst) < BlockSize {
		panic("magenta: output not full block")
	}
}

// Encrypt encrypts m under key. key must be 16, 24 or 32 bytes.
func Encrypt(m blockutil.Block, key []byte) (blockutil.Block, error) {
	c, err := NewCipher(key)
	if err != nil {
		return blockutil.Block{}, err
	}
	return c.EncryptBlock(m), nil
}

// Decrypt decrypts m under key. key must be 16, 24 or 32 bytes.
func Decrypt(m blockutil.Block, key []byte) (blockutil.Block, error) {
	c, err := NewCipher(key)
	if err != nil {
		return blockutil.Block{}, err
	}
	return c.DecryptBlock(m), nil
}
