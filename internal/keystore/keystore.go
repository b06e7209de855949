// Package keystore reads and writes key material: raw 16-byte cipher keys,
// passphrase-derived cipher keys and decimal signature keys.
package keystore

import (
	"bytes"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"

	"github.com/magentakit/magenta/internal/ds"
	"github.com/magentakit/magenta/internal/validation"
)

const (
	// CipherKeySize is the length of a cipher key file.
	CipherKeySize = 16

	// SaltSuffix is appended to a key path to name its salt file.
	SaltSuffix = ".salt"

	saltSize    = 16
	saltVersion = 1
	kdfName     = "argon2id"
)

var (
	// ErrInvalidKeySize is returned when a cipher key file is not 16 bytes.
	ErrInvalidKeySize = errors.New("cipher key file must be 16 bytes")

	// ErrInvalidPassphrase is returned when a passphrase does not reproduce the
	// stored key.
	ErrInvalidPassphrase = errors.New("passphrase does not match key")

	// ErrKeyExists is returned when a write without overwrite finds a file
	// already in place.
	ErrKeyExists = errors.New("key file already exists")

	// ErrInvalidSalt is returned when a salt file is malformed.
	ErrInvalidSalt = errors.New("invalid salt file")
)

// Argon2Params are the Argon2id cost parameters for passphrase keys.
type Argon2Params struct {
	Time    uint32 `yaml:"time" json:"time" validate:"min=1"`
	Memory  uint32 `yaml:"memory_kib" json:"memory_kib" validate:"min=8,max=4194304"`
	Threads uint8  `yaml:"threads" json:"threads" validate:"min=1"`
}

// DefaultArgon2Params returns the interactive-use defaults: 3 passes over
// 64 MiB with 4 lanes.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{Time: 3, Memory: 64 * 1024, Threads: 4}
}

// SaltEntry is the JSON salt file written next to a derived key.
type SaltEntry struct {
	Version int          `json:"version"`
	KDF     string       `json:"kdf"`
	Params  Argon2Params `json:"params"`
	Salt    []byte       `json:"salt"`
}

// GenerateCipherKey draws a random cipher key. rand defaults to crypto/rand.
func GenerateCipherKey(r io.Reader) ([]byte, error) {
	if r == nil {
		r = rand.Reader
	}
	key := make([]byte, CipherKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to generate cipher key: %w", err)
	}
	return key, nil
}

// SaveCipherKey writes key as a raw file readable only by the owner. Unless
// overwrite is set an existing file is left alone and ErrKeyExists returned.
func SaveCipherKey(path string, key []byte, overwrite bool) error {
	if len(key) != CipherKeySize {
		return ErrInvalidKeySize
	}
	return writePrivate(path, key, overwrite)
}

// LoadCipherKey reads a raw cipher key file.
func LoadCipherKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cipher key: %w", err)
	}
	if len(data) != CipherKeySize {
		return nil, fmt.Errorf("%w: %s has %d bytes", ErrInvalidKeySize, path, len(data))
	}
	return data, nil
}

// DeriveCipherKey stretches passphrase with Argon2id into a cipher key.
func DeriveCipherKey(passphrase string, salt []byte, p Argon2Params) []byte {
	return argon2.IDKey([]byte(passphrase), salt, p.Time, p.Memory, p.Threads, CipherKeySize)
}

// DeriveAndSave derives a cipher key from passphrase with a fresh salt, writes
// the key to path and the salt entry to path+SaltSuffix. The overwrite rule of
// SaveCipherKey applies to the key file.
func DeriveAndSave(path, passphrase string, p Argon2Params, r io.Reader, overwrite bool) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase must not be empty")
	}
	if err := validation.ValidateStruct(p); err != nil {
		return nil, fmt.Errorf("argon2 parameters: %w", err)
	}
	if r == nil {
		r = rand.Reader
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(r, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key := DeriveCipherKey(passphrase, salt, p)

	entry := SaltEntry{Version: saltVersion, KDF: kdfName, Params: p, Salt: salt}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal salt entry: %w", err)
	}

	if err := SaveCipherKey(path, key, overwrite); err != nil {
		return nil, err
	}
	if err := writePrivate(path+SaltSuffix, data, true); err != nil {
		os.Remove(path)
		return nil, err
	}
	return key, nil
}

// LoadSalt reads the salt entry stored next to a derived key.
func LoadSalt(keyPath string) (*SaltEntry, error) {
	data, err := os.ReadFile(keyPath + SaltSuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to read salt file: %w", err)
	}

	var entry SaltEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal salt entry: %w", err)
	}
	if entry.Version != saltVersion {
		return nil, fmt.Errorf("unsupported salt file version: %d", entry.Version)
	}
	if entry.KDF != kdfName {
		return nil, fmt.Errorf("unsupported KDF: %s", entry.KDF)
	}
	if len(entry.Salt) == 0 {
		return nil, fmt.Errorf("%w: empty salt", ErrInvalidSalt)
	}
	if err := validation.ValidateStruct(entry.Params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSalt, err)
	}
	return &entry, nil
}

// Rederive recomputes the key at keyPath from passphrase and its salt file.
// If the key file exists it must match.
func Rederive(keyPath, passphrase string) ([]byte, error) {
	entry, err := LoadSalt(keyPath)
	if err != nil {
		return nil, err
	}
	key := DeriveCipherKey(passphrase, entry.Salt, entry.Params)

	stored, err := LoadCipherKey(keyPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return key, nil
	case err != nil:
		return nil, err
	case subtle.ConstantTimeCompare(stored, key) != 1:
		return nil, ErrInvalidPassphrase
	}
	return key, nil
}

// SavePrivateKey writes a signature private key as decimal text, with the same
// overwrite rule as SaveCipherKey.
func SavePrivateKey(path string, x *big.Int, overwrite bool) error {
	var buf bytes.Buffer
	if err := ds.WriteKey(&buf, x); err != nil {
		return err
	}
	return writePrivate(path, buf.Bytes(), overwrite)
}

// LoadPrivateKey reads a signature private key and checks that it lies in
// [2, q).
func LoadPrivateKey(path string) (*big.Int, error) {
	x, err := loadDecimal(path)
	if err != nil {
		return nil, err
	}
	if x.Cmp(big.NewInt(2)) < 0 || x.Cmp(ds.Default.Q) >= 0 {
		return nil, fmt.Errorf("%w: %s", ds.ErrKeyOutOfRange, path)
	}
	return x, nil
}

// SavePublicKey writes a public key as decimal text.
func SavePublicKey(path string, y *big.Int) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(ds.EncodeKey(y)), 0644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}
	return nil
}

// LoadPublicKey reads a decimal public key.
func LoadPublicKey(path string) (*big.Int, error) {
	return loadDecimal(path)
}

func loadDecimal(path string) (*big.Int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open key file: %w", err)
	}
	defer f.Close()

	k, err := ds.ReadKey(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return k, nil
}

func writePrivate(path string, data []byte, overwrite bool) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	flag := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flag = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(path, flag, 0600)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: %s", ErrKeyExists, path)
	}
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	return nil
}

// DefaultKeysDir returns the default key directory.
// On Windows: %APPDATA%\magenta\keys
// On Unix: $XDG_DATA_HOME/magenta/keys or ~/.local/share/magenta/keys
func DefaultKeysDir() string {
	if appData := os.Getenv("APPDATA"); appData != "" {
		return filepath.Join(appData, "magenta", "keys")
	}
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "magenta", "keys")
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".local", "share", "magenta", "keys")
}
