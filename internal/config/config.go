// Package config loads toolkit settings from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/magentakit/magenta/internal/keystore"
	"github.com/magentakit/magenta/internal/validation"
)

// Environment variables that override file settings.
const (
	EnvConfig        = "MAGENTA_CONFIG"
	EnvLogLevel      = "MAGENTA_LOG_LEVEL"
	EnvLogFormat     = "MAGENTA_LOG_FORMAT"
	EnvKeysDir       = "MAGENTA_KEYS_DIR"
	EnvMetricsFile   = "MAGENTA_METRICS_FILE"
	EnvWriteManifest = "MAGENTA_WRITE_MANIFEST"
	EnvMaxRate       = "MAGENTA_MAX_BYTES_PER_SECOND"
)

// Config holds toolkit configuration
type Config struct {
	KeysDir       string `yaml:"keys_dir" validate:"required"`
	LogLevel      string `yaml:"log_level" validate:"oneof=trace debug info warn error disabled"`
	LogFormat     string `yaml:"log_format" validate:"oneof=json console"`
	MetricsFile   string `yaml:"metrics_file"`
	WriteManifest bool   `yaml:"write_manifest"`
	ChunkSize     int    `yaml:"manifest_chunk_size" validate:"min=4096"`
	// MaxBytesPerSecond caps input read throughput; 0 disables the cap.
	MaxBytesPerSecond int64 `yaml:"max_bytes_per_second" validate:"min=0"`

	Suffixes Suffixes              `yaml:"suffixes"`
	Argon2   keystore.Argon2Params `yaml:"argon2"`
}

// Suffixes name the files derived from an input path.
type Suffixes struct {
	Encrypted string `yaml:"encrypted" validate:"suffix"`
	Decrypted string `yaml:"decrypted" validate:"suffix"`
	Signature string `yaml:"signature" validate:"suffix"`
	Verified  string `yaml:"verified" validate:"suffix"`
	PublicKey string `yaml:"public_key" validate:"suffix"`
	Sealed    string `yaml:"sealed" validate:"suffix"`
	KeyFile   string `yaml:"key_file" validate:"suffix"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		KeysDir:       keystore.DefaultKeysDir(),
		LogLevel:      "info",
		LogFormat:     "json",
		WriteManifest: false,
		ChunkSize:     1 << 20, // 1 MiB
		Suffixes: Suffixes{
			Encrypted: ".enc",
			Decrypted: ".dec",
			Signature: ".ds",
			Verified:  ".dsok",
			PublicKey: ".pk",
			Sealed:    ".sealed",
			KeyFile:   ".key",
		},
		Argon2: keystore.DefaultArgon2Params(),
	}
}

// Load reads configPath over the defaults, applies environment overrides and
// validates the result. An empty configPath falls back to $MAGENTA_CONFIG;
// with neither set only defaults and the environment apply.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		configPath = os.Getenv(EnvConfig)
	}
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", configPath, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv(EnvKeysDir); v != "" {
		c.KeysDir = v
	}
	if v := os.Getenv(EnvMetricsFile); v != "" {
		c.MetricsFile = v
	}
	if v := os.Getenv(EnvWriteManifest); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvWriteManifest, err)
		}
		c.WriteManifest = b
	}
	if v := os.Getenv(EnvMaxRate); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxRate, err)
		}
		c.MaxBytesPerSecond = n
	}
	return nil
}

// Validate checks field constraints and that no two suffixes collide.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}

	seen := make(map[string]string)
	for name, s := range map[string]string{
		"encrypted":  c.Suffixes.Encrypted,
		"decrypted":  c.Suffixes.Decrypted,
		"signature":  c.Suffixes.Signature,
		"verified":   c.Suffixes.Verified,
		"public_key": c.Suffixes.PublicKey,
		"sealed":     c.Suffixes.Sealed,
		"key_file":   c.Suffixes.KeyFile,
	} {
		if other, ok := seen[s]; ok {
			return fmt.Errorf("%w: suffixes %s and %s are both %q", validation.ErrInvalidConfig, other, name, s)
		}
		seen[s] = name
	}
	return nil
}

// Save writes c as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ErrNoKeysDir is returned by KeyPath when no key directory is configured.
var ErrNoKeysDir = errors.New("no key directory configured")

// KeyPath resolves a key reference. Bare names are looked up in KeysDir with
// the key file suffix added; anything containing a path separator is used
// as given.
func (c *Config) KeyPath(ref string) (string, error) {
	if ref == "" {
		return "", validation.ErrEmptyString
	}
	if strings.ContainsRune(ref, os.PathSeparator) || strings.ContainsRune(ref, '/') {
		return ref, nil
	}
	if c.KeysDir == "" {
		return "", ErrNoKeysDir
	}
	name := ref
	if filepath.Ext(name) == "" {
		name += c.Suffixes.KeyFile
	}
	return filepath.Join(c.KeysDir, name), nil
}
