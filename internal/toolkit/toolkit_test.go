package toolkit

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/magentakit/magenta/internal/config"
	"github.com/magentakit/magenta/internal/keystore"
	"github.com/magentakit/magenta/internal/manifest"
	"github.com/magentakit/magenta/internal/mhash"
	"github.com/magentakit/magenta/internal/observability"
	"github.com/magentakit/magenta/internal/pbc"
	"github.com/magentakit/magenta/internal/validation"
)

type fixture struct {
	tk  *Toolkit
	dir string
	log *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.KeysDir = filepath.Join(dir, "keys")
	cfg.Argon2 = keystore.Argon2Params{Time: 1, Memory: 64, Threads: 1}

	var buf bytes.Buffer
	log := observability.NewLogger("magenta-test", "dev", &buf)
	return &fixture{tk: New(cfg, log, nil), dir: dir, log: &buf}
}

func (f *fixture) write(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

// TestEncryptDecryptFile tests the file round trip with derived paths
func TestEncryptDecryptFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.tk.GenerateCipherKey(ctx, "work", false)
	require.NoError(t, err)

	data := []byte(strings.Repeat("plaintext feedback ", 40))
	in := f.write(t, "doc.txt", data)

	enc, err := f.tk.EncryptFile(ctx, in, "", "work")
	require.NoError(t, err)
	assert.Equal(t, in+".enc", enc.Output)
	assert.Equal(t, int64(len(data)), enc.PlainSize)
	assert.Zero(t, enc.CipherSize%16)
	assert.Empty(t, enc.ManifestPath)

	dec, err := f.tk.DecryptFile(ctx, enc.Output, "", "work")
	require.NoError(t, err)
	assert.Equal(t, in+".enc.dec", dec.Output)
	assert.Equal(t, enc.CipherSize, dec.CipherSize)

	got, err := os.ReadFile(dec.Output)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	assert.Contains(t, f.log.String(), `"message":"file encrypted"`)
	assert.Contains(t, f.log.String(), `"message":"file decrypted"`)
}

// TestEmptyFileEncryptsToTwoBlocks tests the empty input case on disk
func TestEmptyFileEncryptsToTwoBlocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.tk.GenerateCipherKey(ctx, "k", false)
	require.NoError(t, err)

	in := f.write(t, "empty", nil)
	enc, err := f.tk.EncryptFile(ctx, in, "", "k")
	require.NoError(t, err)
	assert.Equal(t, int64(32), enc.CipherSize)

	dec, err := f.tk.DecryptFile(ctx, enc.Output, filepath.Join(f.dir, "back"), "k")
	require.NoError(t, err)
	assert.Equal(t, int64(0), dec.PlainSize)
}

// TestDecryptWrongKeyLeavesNoOutput tests that failures do not leave partial files
func TestDecryptWrongKeyLeavesNoOutput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.tk.GenerateCipherKey(ctx, "a", false)
	require.NoError(t, err)
	_, err = f.tk.GenerateCipherKey(ctx, "b", false)
	require.NoError(t, err)

	in := f.write(t, "msg", []byte("some secret content for the wrong key test"))
	enc, err := f.tk.EncryptFile(ctx, in, "", "a")
	require.NoError(t, err)

	out := filepath.Join(f.dir, "out")
	_, err = f.tk.DecryptFile(ctx, enc.Output, out, "b")
	require.Error(t, err)
	assert.True(t, errors.Is(err, pbc.ErrInvalidTrailer), "got %v", err)

	_, statErr := os.Stat(out)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "partial output left behind")

	entries, _ := os.ReadDir(f.dir)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "temp file %s left behind", e.Name())
	}
	assert.Contains(t, f.log.String(), `"message":"operation failed"`)
}

// TestEncryptRejectsSamePath tests that input cannot be overwritten
func TestEncryptRejectsSamePath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.tk.GenerateCipherKey(ctx, "k", false)
	require.NoError(t, err)

	in := f.write(t, "x", []byte("x"))
	_, err = f.tk.EncryptFile(ctx, in, in, "k")
	assert.True(t, errors.Is(err, validation.ErrSamePath))
}

// TestEncryptMissingInputs tests input and key errors
func TestEncryptMissingInputs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := f.write(t, "x", []byte("x"))
	_, err := f.tk.EncryptFile(ctx, in, "", "nokey")
	assert.Error(t, err)

	_, err = f.tk.GenerateCipherKey(ctx, "k", false)
	require.NoError(t, err)
	_, err = f.tk.EncryptFile(ctx, filepath.Join(f.dir, "missing"), "", "k")
	assert.True(t, errors.Is(err, validation.ErrPathNotExists))
}

// TestManifest tests the sidecar for encrypted output
func TestManifest(t *testing.T) {
	f := newFixture(t)
	f.tk.cfg.WriteManifest = true
	ctx := context.Background()
	_, err := f.tk.GenerateCipherKey(ctx, "k", false)
	require.NoError(t, err)

	in := f.write(t, "big", bytes.Repeat([]byte{7}, 10000))
	enc, err := f.tk.EncryptFile(ctx, in, "", "k")
	require.NoError(t, err)
	require.Equal(t, enc.Output+manifest.Suffix, enc.ManifestPath)

	m, err := f.tk.VerifyManifest(ctx, enc.Output, "")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), m.PlainSize)
	assert.Equal(t, enc.CipherSize, m.CipherSize)
	assert.Equal(t, mhash.SumBytes(bytes.Repeat([]byte{7}, 10000)).String(), m.PlainDigest)

	ct, _ := os.ReadFile(enc.Output)
	ct[100] ^= 1
	require.NoError(t, os.WriteFile(enc.Output, ct, 0644))
	_, err = f.tk.VerifyManifest(ctx, enc.Output, "")
	assert.True(t, errors.Is(err, manifest.ErrFingerprintMismatch))
}

// TestHashFile tests digests of files
func TestHashFile(t *testing.T) {
	f := newFixture(t)
	res, err := f.tk.HashFile(context.Background(), f.write(t, "abc", []byte("abc")))
	require.NoError(t, err)
	assert.Equal(t, "507672b325468633d1fe63c90ba8fb38", res.Digest.String())
	assert.Equal(t, int64(3), res.Size)
}

// TestSignVerifyFile tests signing, verification and the marker file
func TestSignVerifyFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	key, err := f.tk.GenerateSigningKey(ctx, "signer", false)
	require.NoError(t, err)
	assert.FileExists(t, key.PublicKeyPath)

	in := f.write(t, "contract.txt", []byte("I agree to the terms."))
	sig, err := f.tk.SignFile(ctx, in, "signer")
	require.NoError(t, err)
	assert.Equal(t, in+".ds", sig.SignaturePath)
	assert.Equal(t, in+".pk", sig.PublicKeyPath)
	assert.Equal(t, 0, sig.PublicKey.Cmp(key.PublicKey))

	res, err := f.tk.VerifyFile(ctx, in, "", "")
	require.NoError(t, err)
	assert.True(t, res.Verified)
	marker, err := os.ReadFile(in + ".dsok")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(marker))

	// tamper with the file
	require.NoError(t, os.WriteFile(in, []byte("I agree to the terms!"), 0644))
	res, err = f.tk.VerifyFile(ctx, in, "", "")
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.NoFileExists(t, in+".dsok")
	assert.Contains(t, f.log.String(), `"message":"signature mismatch"`)
}

// TestVerifyMalformedSignature tests that a broken signature file is an error
func TestVerifyMalformedSignature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.tk.GenerateSigningKey(ctx, "s", false)
	require.NoError(t, err)

	in := f.write(t, "f", []byte("data"))
	_, err = f.tk.SignFile(ctx, in, "s")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(in+".ds", []byte("only one line"), 0644))
	_, err = f.tk.VerifyFile(ctx, in, "", "")
	assert.Error(t, err)
}

// TestSealOpenFile tests the combined sign-then-encrypt flow
func TestSealOpenFile(t *testing.T) {
	f := newFixture(t)
	f.tk.cfg.WriteManifest = true
	ctx := context.Background()
	_, err := f.tk.GenerateCipherKey(ctx, "box", false)
	require.NoError(t, err)
	_, err = f.tk.GenerateSigningKey(ctx, "me", false)
	require.NoError(t, err)

	data := []byte("sealed line one\nsealed line two\n")
	in := f.write(t, "letter", data)

	sealed, err := f.tk.SealFile(ctx, in, "", "box", "me")
	require.NoError(t, err)
	assert.Equal(t, in+".sealed", sealed.Output)
	assert.Equal(t, int64(len(data)), sealed.PlainSize)
	assert.FileExists(t, sealed.Output+".pk")
	assert.FileExists(t, sealed.ManifestPath)

	opened, err := f.tk.OpenFile(ctx, sealed.Output, filepath.Join(f.dir, "letter.out"), "box", "")
	require.NoError(t, err)
	assert.True(t, opened.Verified)

	got, err := os.ReadFile(opened.Output)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

// TestKeyGenerationRefusesOverwrite tests key file protection
func TestKeyGenerationRefusesOverwrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.tk.GenerateCipherKey(ctx, "k", false)
	require.NoError(t, err)
	_, err = f.tk.GenerateCipherKey(ctx, "k", false)
	assert.True(t, errors.Is(err, ErrKeyExists))

	second, err := f.tk.GenerateCipherKey(ctx, "k", true)
	require.NoError(t, err)
	assert.NotEqual(t, first.CipherKey, second.CipherKey)
}

// TestPassphraseKeys tests deriving and rederiving a passphrase key
func TestPassphraseKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	derived, err := f.tk.DeriveCipherKey(ctx, "pass", "hunter2", false)
	require.NoError(t, err)
	assert.FileExists(t, derived.Path+keystore.SaltSuffix)

	require.NoError(t, os.Remove(derived.Path))
	again, err := f.tk.RederiveCipherKey(ctx, "pass", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, derived.CipherKey, again.CipherKey)

	_, err = f.tk.RederiveCipherKey(ctx, "pass", "hunter3")
	assert.True(t, errors.Is(err, keystore.ErrInvalidPassphrase))

	_, err = f.tk.DeriveCipherKey(ctx, "blank", "", false)
	assert.True(t, errors.Is(err, validation.ErrEmptyString))
}

// TestSelfCheck tests the primitive self checks
func TestSelfCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.tk.SelfCheck(ctx, "dev")
	assert.Equal(t, observability.HealthStatusDegraded, resp.Status, "keys dir does not exist yet")
	for _, name := range []string{"cipher", "hash", "codec", "signature"} {
		assert.Equal(t, observability.HealthStatusOK, resp.Checks[name].Status, name)
	}

	_, err := f.tk.GenerateCipherKey(ctx, "k", false)
	require.NoError(t, err)
	resp = f.tk.SelfCheck(ctx, "dev")
	assert.Equal(t, observability.HealthStatusOK, resp.Status)
}

// TestCancelledContext tests that a cancelled context stops an operation
func TestCancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.tk.HashFile(ctx, f.write(t, "x", []byte("x")))
	assert.True(t, errors.Is(err, context.Canceled))
}

// TestThrottledRoundTrip tests that a throughput cap still moves every byte
func TestThrottledRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.tk.cfg.MaxBytesPerSecond = 1 << 30
	tk := New(f.tk.cfg, nil, nil)
	require.NotNil(t, tk.limiter)
	assert.Equal(t, ioBufferSize, tk.limiter.Burst())
	ctx := context.Background()

	_, err := tk.GenerateCipherKey(ctx, "k", false)
	require.NoError(t, err)

	data := bytes.Repeat([]byte{0x5a}, 3*ioBufferSize+7)
	in := f.write(t, "big.bin", data)
	enc, err := tk.EncryptFile(ctx, in, "", "k")
	require.NoError(t, err)
	dec, err := tk.DecryptFile(ctx, enc.Output, "", "k")
	require.NoError(t, err)

	got, err := os.ReadFile(dec.Output)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestThrottleBurst(t *testing.T) {
	assert.Equal(t, 100, throttleBurst(100))
	assert.Equal(t, ioBufferSize, throttleBurst(1<<40))
}

// TestOperationSpans tests that each operation ends one span carrying its
// outcome
func TestOperationSpans(t *testing.T) {
	f := newFixture(t)
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	seed := bytes.Repeat([]byte{0xab}, 16)
	tk := New(f.tk.cfg, nil, nil, WithTracer(tp.Tracer("test")), WithRand(bytes.NewReader(seed)))
	ctx := context.Background()

	res, err := tk.GenerateCipherKey(ctx, "fixed", false)
	require.NoError(t, err)
	assert.Equal(t, seed, res.CipherKey)

	_, err = tk.HashFile(ctx, filepath.Join(f.dir, "missing"))
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "magenta.keygen_cipher", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, "magenta.hash", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
