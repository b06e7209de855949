// Package manifest records a BLAKE3 fingerprint of an encrypted file so that
// corruption can be detected and located without the cipher key. The chaining
// mode carries no integrity tag of its own.
package manifest

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// Suffix is appended to a ciphertext path to name its manifest.
const Suffix = ".manifest.json"

// DefaultChunkSize is the fingerprint chunk size (1 MiB).
const DefaultChunkSize = 1 << 20

var (
	// ErrFingerprintMismatch is returned when a file no longer matches its
	// manifest.
	ErrFingerprintMismatch = errors.New("file does not match manifest")

	// ErrSizeMismatch is returned when the file length differs from the
	// manifest.
	ErrSizeMismatch = errors.New("file size does not match manifest")
)

// Manifest describes one encrypted file.
type Manifest struct {
	ID          string            `json:"id"`
	Operation   string            `json:"operation"`
	FileName    string            `json:"file_name"`
	Cipher      string            `json:"cipher"`
	PlainSize   int64             `json:"plain_size"`
	CipherSize  int64             `json:"cipher_size"`
	HashAlgo    string            `json:"hash_algo"`
	CipherHash  string            `json:"cipher_blake3"` // base64
	ChunkSize   int               `json:"chunk_size"`
	Chunks      []ChunkDescriptor `json:"chunks"`
	MerkleRoot  string            `json:"merkle_root"`
	PlainDigest string            `json:"plain_digest,omitempty"` // magenta hash, hex
	CreatedAt   time.Time         `json:"created_at"`
}

// ChunkDescriptor fingerprints one chunk of the ciphertext.
type ChunkDescriptor struct {
	Index  int    `json:"index"`
	Hash   string `json:"hash"`   // base64 BLAKE3
	Length int    `json:"length"` // bytes
}

// ChunkMismatchError names the first chunk whose fingerprint changed.
type ChunkMismatchError struct {
	Index int
}

func (e *ChunkMismatchError) Error() string {
	return fmt.Sprintf("chunk %d does not match manifest", e.Index)
}

func (e *ChunkMismatchError) Unwrap() error { return ErrFingerprintMismatch }

// Builder fingerprints ciphertext as it is written. It implements io.Writer so
// it can sit behind an io.MultiWriter next to the output file.
type Builder struct {
	chunkSize int
	whole     *blake3.Hasher
	chunk     *blake3.Hasher
	inChunk   int
	size      int64
	chunks    []ChunkDescriptor
}

// NewBuilder returns a builder using chunkSize, or DefaultChunkSize if
// chunkSize is not positive.
func NewBuilder(chunkSize int) *Builder {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Builder{
		chunkSize: chunkSize,
		whole:     blake3.New(),
		chunk:     blake3.New(),
	}
}

func (b *Builder) Write(p []byte) (int, error) {
	n := len(p)
	b.whole.Write(p)
	b.size += int64(n)

	for len(p) > 0 {
		take := min(b.chunkSize-b.inChunk, len(p))
		b.chunk.Write(p[:take])
		b.inChunk += take
		p = p[take:]
		if b.inChunk == b.chunkSize {
			b.closeChunk()
		}
	}
	return n, nil
}

func (b *Builder) closeChunk() {
	b.chunks = append(b.chunks, ChunkDescriptor{
		Index:  len(b.chunks),
		Hash:   base64.StdEncoding.EncodeToString(b.chunk.Sum(nil)),
		Length: b.inChunk,
	})
	b.chunk.Reset()
	b.inChunk = 0
}

// Manifest finishes the fingerprint. fileName is stored without its
// directory. The builder must not be written to afterwards.
func (b *Builder) Manifest(fileName, operation string, plainSize int64) (*Manifest, error) {
	if b.inChunk > 0 || len(b.chunks) == 0 {
		b.closeChunk()
	}

	hashes := make([]string, len(b.chunks))
	for i, c := range b.chunks {
		hashes[i] = c.Hash
	}
	root, err := ComputeMerkleRoot(hashes)
	if err != nil {
		return nil, fmt.Errorf("failed to compute merkle root: %w", err)
	}

	return &Manifest{
		ID:         uuid.New().String(),
		Operation:  operation,
		FileName:   filepath.Base(fileName),
		Cipher:     "magenta-pfb",
		PlainSize:  plainSize,
		CipherSize: b.size,
		HashAlgo:   "BLAKE3",
		CipherHash: base64.StdEncoding.EncodeToString(b.whole.Sum(nil)),
		ChunkSize:  b.chunkSize,
		Chunks:     b.chunks,
		MerkleRoot: root,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// Compute fingerprints the file at path.
func Compute(path, operation string, plainSize int64, chunkSize int) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	b := NewBuilder(chunkSize)
	if _, err := io.Copy(b, f); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return b.Manifest(path, operation, plainSize)
}

// Verify re-fingerprints the file at path and compares it with m. A changed
// chunk is reported as *ChunkMismatchError.
func (m *Manifest) Verify(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if info.Size() != m.CipherSize {
		return fmt.Errorf("%w: %d bytes, manifest has %d", ErrSizeMismatch, info.Size(), m.CipherSize)
	}

	got, err := Compute(path, m.Operation, m.PlainSize, m.ChunkSize)
	if err != nil {
		return err
	}

	if len(got.Chunks) != len(m.Chunks) {
		return fmt.Errorf("%w: %d chunks, manifest has %d", ErrFingerprintMismatch, len(got.Chunks), len(m.Chunks))
	}
	for i := range got.Chunks {
		if got.Chunks[i].Hash != m.Chunks[i].Hash {
			return &ChunkMismatchError{Index: i}
		}
	}
	if got.CipherHash != m.CipherHash || got.MerkleRoot != m.MerkleRoot {
		return ErrFingerprintMismatch
	}
	return nil
}

// Save writes m as indented JSON.
func (m *Manifest) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// Load reads a manifest written by Save.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	return &m, nil
}
