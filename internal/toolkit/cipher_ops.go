package toolkit

import (
	"bufio"
	"context"
	"fmt"
	"hash"
	"io"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/magentakit/magenta/internal/keystore"
	"github.com/magentakit/magenta/internal/manifest"
	"github.com/magentakit/magenta/internal/mhash"
	"github.com/magentakit/magenta/internal/observability"
	"github.com/magentakit/magenta/internal/pbc"
	"github.com/magentakit/magenta/internal/ratelimit"
	"github.com/magentakit/magenta/internal/validation"
)

const ioBufferSize = 64 << 10

// EncryptResult reports an encryption.
type EncryptResult struct {
	Output       string
	PlainSize    int64
	CipherSize   int64
	ManifestPath string
}

// DecryptResult reports a decryption.
type DecryptResult struct {
	Output     string
	CipherSize int64
	PlainSize  int64
}

// HashResult reports a digest.
type HashResult struct {
	Digest mhash.Digest
	Size   int64
}

func (t *Toolkit) loadCodec(keyRef string) (*pbc.Codec, error) {
	path, err := t.cfg.KeyPath(keyRef)
	if err != nil {
		return nil, err
	}
	key, err := keystore.LoadCipherKey(path)
	if err != nil {
		return nil, err
	}
	return pbc.NewCodec(key)
}

// input is an opened source file read through the toolkit's throttle.
type input struct {
	io.Reader
	f *os.File
}

func (i *input) Close() error { return i.f.Close() }

// openInput opens path for a read that stops once ctx is done and honours
// the configured throughput cap.
func (t *Toolkit) openInput(ctx context.Context, path string) (*input, error) {
	if err := validation.ValidateFilePath(path, true); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	return &input{Reader: ratelimit.NewReader(ctx, f, t.limiter), f: f}, nil
}

// EncryptFile encrypts in with the cipher key keyRef. The output defaults to
// in plus the encrypted suffix.
func (t *Toolkit) EncryptFile(ctx context.Context, in, out, keyRef string) (*EncryptResult, error) {
	out = derive(out, in, t.cfg.Suffixes.Encrypted)
	res := &EncryptResult{Output: out}

	err := t.run(ctx, "encrypt", []attribute.KeyValue{
		attribute.String("magenta.input", in),
		attribute.String("magenta.output", out),
	}, func(ctx context.Context, log *observability.Logger) error {
		start := t.now()
		if err := validation.ValidateDistinctPaths(in, out); err != nil {
			return err
		}
		codec, err := t.loadCodec(keyRef)
		if err != nil {
			return err
		}

		src, err := t.openInput(ctx, in)
		if err != nil {
			return err
		}
		defer src.Close()

		dst, err := createAtomic(out, 0644)
		if err != nil {
			return err
		}
		defer dst.Abort()

		var (
			fingerprint *manifest.Builder
			plainHash   hash.Hash
		)
		cw := &countingWriter{w: dst}
		cr := &countingReader{r: src}
		var w io.Writer = cw
		var r io.Reader = cr
		if t.cfg.WriteManifest {
			fingerprint = manifest.NewBuilder(t.cfg.ChunkSize)
			w = io.MultiWriter(cw, fingerprint)
			plainHash = mhash.New()
			r = io.TeeReader(cr, plainHash)
		}

		bw := bufio.NewWriterSize(w, ioBufferSize)
		if _, err := codec.Encrypt(bufio.NewReaderSize(r, ioBufferSize), bw); err != nil {
			return err
		}
		if err := bw.Flush(); err != nil {
			return fmt.Errorf("failed to write ciphertext: %w", err)
		}
		if err := dst.Commit(); err != nil {
			return err
		}

		n := cr.n
		res.PlainSize, res.CipherSize = n, cw.n
		t.metrics.RecordBytes(n, cw.n)
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.Int64("magenta.plain_size", n),
			attribute.Int64("magenta.cipher_size", cw.n),
		)

		if fingerprint != nil {
			d := mhash.Digest(plainHash.Sum(nil))
			path, err := t.saveManifest(log, fingerprint, out, "encrypt", n, d)
			if err != nil {
				return err
			}
			res.ManifestPath = path
		}

		log.FileEncrypted(in, out, n, cw.n, t.now().Sub(start))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (t *Toolkit) saveManifest(log *observability.Logger, b *manifest.Builder, out, op string, plainSize int64, plain mhash.Digest) (string, error) {
	m, err := b.Manifest(out, op, plainSize)
	if err != nil {
		return "", err
	}
	m.PlainDigest = plain.String()
	path := out + manifest.Suffix
	if err := m.Save(path); err != nil {
		return "", err
	}
	log.ManifestWritten(path, m.ID, len(m.Chunks))
	return path, nil
}

// DecryptFile decrypts in with the cipher key keyRef. The output defaults to
// in plus the decrypted suffix.
func (t *Toolkit) DecryptFile(ctx context.Context, in, out, keyRef string) (*DecryptResult, error) {
	out = derive(out, in, t.cfg.Suffixes.Decrypted)
	res := &DecryptResult{Output: out}

	err := t.run(ctx, "decrypt", []attribute.KeyValue{
		attribute.String("magenta.input", in),
		attribute.String("magenta.output", out),
	}, func(ctx context.Context, log *observability.Logger) error {
		start := t.now()
		if err := validation.ValidateDistinctPaths(in, out); err != nil {
			return err
		}
		codec, err := t.loadCodec(keyRef)
		if err != nil {
			return err
		}

		src, err := t.openInput(ctx, in)
		if err != nil {
			return err
		}
		defer src.Close()

		dst, err := createAtomic(out, 0644)
		if err != nil {
			return err
		}
		defer dst.Abort()

		cr := &countingReader{r: src}
		cw := &countingWriter{w: dst}
		bw := bufio.NewWriterSize(cw, ioBufferSize)
		if err := codec.Decrypt(bufio.NewReaderSize(cr, ioBufferSize), bw); err != nil {
			return err
		}
		if err := bw.Flush(); err != nil {
			return fmt.Errorf("failed to write plaintext: %w", err)
		}
		if err := dst.Commit(); err != nil {
			return err
		}

		res.CipherSize, res.PlainSize = cr.n, cw.n
		t.metrics.RecordBytes(cr.n, cw.n)
		log.FileDecrypted(in, out, cr.n, cw.n, t.now().Sub(start))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// HashFile computes the magenta digest of in.
func (t *Toolkit) HashFile(ctx context.Context, in string) (*HashResult, error) {
	res := &HashResult{}
	err := t.run(ctx, "hash", []attribute.KeyValue{
		attribute.String("magenta.input", in),
	}, func(ctx context.Context, log *observability.Logger) error {
		src, err := t.openInput(ctx, in)
		if err != nil {
			return err
		}
		defer src.Close()

		cr := &countingReader{r: src}
		d, err := mhash.Sum(bufio.NewReaderSize(cr, ioBufferSize))
		if err != nil {
			return err
		}
		res.Digest, res.Size = d, cr.n
		t.metrics.RecordBytes(cr.n, 0)
		log.DigestComputed(in, d.String(), cr.n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// VerifyManifest checks an encrypted file against its sidecar manifest. The
// manifest path defaults to in plus the manifest suffix.
func (t *Toolkit) VerifyManifest(ctx context.Context, in, manifestPath string) (*manifest.Manifest, error) {
	manifestPath = derive(manifestPath, in, manifest.Suffix)
	var m *manifest.Manifest
	err := t.run(ctx, "manifest_verify", []attribute.KeyValue{
		attribute.String("magenta.input", in),
	}, func(ctx context.Context, log *observability.Logger) error {
		var err error
		m, err = manifest.Load(manifestPath)
		if err != nil {
			return err
		}
		return m.Verify(in)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}
