package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magentakit/magenta/internal/validation"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvConfig, EnvLogLevel, EnvLogFormat, EnvKeysDir, EnvMetricsFile, EnvWriteManifest, EnvMaxRate} {
		t.Setenv(k, "")
	}
}

// TestDefaultConfig tests that the defaults validate and keep the file suffixes
func TestDefaultConfig(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, ".enc", cfg.Suffixes.Encrypted)
	assert.Equal(t, ".dec", cfg.Suffixes.Decrypted)
	assert.Equal(t, ".ds", cfg.Suffixes.Signature)
	assert.Equal(t, ".dsok", cfg.Suffixes.Verified)
	assert.Equal(t, ".pk", cfg.Suffixes.PublicKey)
	assert.False(t, cfg.WriteManifest)
	assert.NotEmpty(t, cfg.KeysDir)
}

// TestLoadFile tests YAML loading over defaults
func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "magenta.yaml")
	yaml := `
keys_dir: /srv/keys
log_level: debug
write_manifest: true
suffixes:
  encrypted: .mgt
argon2:
  time: 2
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/keys", cfg.KeysDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.WriteManifest)
	assert.Equal(t, ".mgt", cfg.Suffixes.Encrypted)
	assert.Equal(t, ".dec", cfg.Suffixes.Decrypted, "unset keys keep defaults")
	assert.Equal(t, uint32(2), cfg.Argon2.Time)
	assert.Equal(t, uint32(64*1024), cfg.Argon2.Memory)
}

// TestLoadFromEnvPath tests MAGENTA_CONFIG and env overrides
func TestLoadFromEnvPath(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\nkeys_dir: /a\n"), 0644))

	t.Setenv(EnvConfig, path)
	t.Setenv(EnvKeysDir, "/b")
	t.Setenv(EnvMetricsFile, "/tmp/m.prom")
	t.Setenv(EnvWriteManifest, "true")
	t.Setenv(EnvMaxRate, "1048576")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "/b", cfg.KeysDir)
	assert.Equal(t, "/tmp/m.prom", cfg.MetricsFile)
	assert.True(t, cfg.WriteManifest)
	assert.Equal(t, int64(1<<20), cfg.MaxBytesPerSecond)

	t.Setenv(EnvMaxRate, "fast")
	_, err = Load("")
	assert.Error(t, err)
	t.Setenv(EnvMaxRate, "")

	t.Setenv(EnvWriteManifest, "perhaps")
	_, err = Load("")
	assert.Error(t, err)
}

// TestLoadInvalid tests rejection of bad settings
func TestLoadInvalid(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	cases := map[string]string{
		"bad level":     "log_level: loud\n",
		"bad format":    "log_format: xml\n",
		"bad suffix":    "suffixes:\n  encrypted: enc\n",
		"dup suffix":    "suffixes:\n  encrypted: .ds\n",
		"tiny chunks":   "manifest_chunk_size: 10\n",
		"zero argon2":   "argon2:\n  threads: 0\n",
		"empty keysdir": "keys_dir: \"\"\n",
		"negative rate": "max_bytes_per_second: -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0644))
			_, err := Load(path)
			assert.True(t, errors.Is(err, validation.ErrInvalidConfig), "got %v", err)
		})
	}

	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: [unclosed"), 0644))
	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

// TestSaveRoundTrip tests writing and re-reading a config
func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	cfg := DefaultConfig()
	cfg.KeysDir = "/k"
	cfg.LogFormat = "console"

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

// TestKeyPath tests key reference resolution
func TestKeyPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KeysDir = "/keys"

	p, err := cfg.KeyPath("work")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/keys", "work.key"), p)

	p, err = cfg.KeyPath("work.pk")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/keys", "work.pk"), p)

	p, err = cfg.KeyPath("./local.key")
	require.NoError(t, err)
	assert.Equal(t, "./local.key", p)

	_, err = cfg.KeyPath("")
	assert.Error(t, err)

	cfg.KeysDir = ""
	_, err = cfg.KeyPath("x")
	assert.True(t, errors.Is(err, ErrNoKeysDir))
}
