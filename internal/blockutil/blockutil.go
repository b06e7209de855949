// Package blockutil holds the fixed-size byte helpers shared by the cipher,
// the compression hash and the chained codec.
package blockutil

import (
	"strconv"
	"strings"
)

const (
	// BlockSize is the cipher block size in bytes.
	BlockSize = 16
	// HalfSize is the size of one Feistel half and of one sub-key.
	HalfSize = 8
	// TrailerSize is the size of the big-endian length trailer.
	TrailerSize = 8

	// EndMarker is written into the first unused byte of the final block.
	EndMarker byte = 0x40
)

// Block is one 16-byte cipher block.
type Block [BlockSize]byte

// Half is one 8-byte half block.
type Half [HalfSize]byte

// Xor returns a XOR b.
func Xor(a, b Block) Block {
	var out Block
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// XorHalf returns a XOR b.
func XorHalf(a, b Half) Half {
	var out Half
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// Split returns the upper and lower halves of b.
func Split(b Block) (hi, lo Half) {
	copy(hi[:], b[:HalfSize])
	copy(lo[:], b[HalfSize:])
	return hi, lo
}

// Concat joins two halves into a block, a first.
func Concat(a, b Half) Block {
	var out Block
	copy(out[:HalfSize], a[:])
	copy(out[HalfSize:], b[:])
	return out
}

// NthByte returns byte n of x, counting from the least significant byte.
func NthByte(x uint64, n uint) byte {
	return byte(x >> (8 * n))
}

// PutLength writes n into the last TrailerSize bytes of b, most significant
// byte first.
func PutLength(b *Block, n uint64) {
	for i := uint(0); i < TrailerSize; i++ {
		b[BlockSize-1-int(i)] = NthByte(n, i)
	}
}

// Length reads the trailer written by PutLength.
func Length(b Block) uint64 {
	var n uint64
	for _, c := range b[BlockSize-TrailerSize:] {
		n = n<<8 | uint64(c)
	}
	return n
}

// FillEndMarker sets buf[0] to EndMarker and zeroes the rest of buf.
func FillEndMarker(buf []byte) {
	if len(buf) == 0 {
		return
	}
	buf[0] = EndMarker
	clear(buf[1:])
}

// LengthFits reports whether a block holding used message bytes still has
// room for the length trailer.
func LengthFits(used int) bool {
	return BlockSize-used >= TrailerSize
}

// TerminalBlocks builds the one or two blocks that close a stream: tail are
// the leftover message bytes (fewer than BlockSize), total is the stream
// length. The trailer gets its own block when it does not fit after the end
// marker, or when separate is set.
func TerminalBlocks(tail []byte, total uint64, separate bool) []Block {
	var last Block
	n := copy(last[:], tail)
	FillEndMarker(last[n:])

	out := make([]Block, 0, 2)
	if separate || !LengthFits(n) {
		out = append(out, last)
		last = Block{}
	}
	PutLength(&last, total)
	return append(out, last)
}

// FormatBytes renders b as a bracketed, comma-separated list of byte values.
func FormatBytes(b []byte) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, c := range b {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(strconv.Itoa(int(c)))
	}
	sb.WriteByte(']')
	return sb.String()
}
