package toolkit

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/magentakit/magenta/internal/ds"
	"github.com/magentakit/magenta/internal/envelope"
	"github.com/magentakit/magenta/internal/keystore"
	"github.com/magentakit/magenta/internal/manifest"
	"github.com/magentakit/magenta/internal/observability"
	"github.com/magentakit/magenta/internal/validation"
)

// verifiedMarker is the content of the file written next to a verified input.
const verifiedMarker = "ok"

// SignResult reports a new signature.
type SignResult struct {
	SignaturePath string
	PublicKeyPath string
	Signature     *ds.Signature
	PublicKey     *big.Int
}

// VerifyResult reports a signature check. A mismatch is Verified == false
// with a nil error.
type VerifyResult struct {
	Verified   bool
	MarkerPath string
}

// SealResult reports a sealed envelope.
type SealResult struct {
	Output        string
	PublicKeyPath string
	PlainSize     int64
	CipherSize    int64
	ManifestPath  string
}

// OpenResult reports an opened envelope.
type OpenResult struct {
	Output   string
	Verified bool
	Size     int64
}

func (t *Toolkit) loadPrivateKey(ref string) (*big.Int, error) {
	path, err := t.cfg.KeyPath(ref)
	if err != nil {
		return nil, err
	}
	return keystore.LoadPrivateKey(path)
}

// loadPublicKey resolves ref like any key reference; an empty ref reads the
// file at fallback as given.
func (t *Toolkit) loadPublicKey(ref, fallback string) (*big.Int, error) {
	path := fallback
	if ref != "" {
		var err error
		if path, err = t.cfg.KeyPath(ref); err != nil {
			return nil, err
		}
	}
	return keystore.LoadPublicKey(path)
}

// SignFile signs in with the private key privRef and writes the signature to
// in plus the signature suffix and the public key to in plus the public key
// suffix.
func (t *Toolkit) SignFile(ctx context.Context, in, privRef string) (*SignResult, error) {
	res := &SignResult{
		SignaturePath: in + t.cfg.Suffixes.Signature,
		PublicKeyPath: in + t.cfg.Suffixes.PublicKey,
	}

	err := t.run(ctx, "sign", []attribute.KeyValue{
		attribute.String("magenta.input", in),
	}, func(ctx context.Context, log *observability.Logger) error {
		x, err := t.loadPrivateKey(privRef)
		if err != nil {
			return err
		}
		src, err := t.openInput(ctx, in)
		if err != nil {
			return err
		}
		defer src.Close()

		cr := &countingReader{r: src}
		y, sig, err := ds.Sign(t.rand, bufio.NewReaderSize(cr, ioBufferSize), x)
		if err != nil {
			return err
		}

		var buf bytes.Buffer
		if err := ds.WriteSignature(&buf, sig); err != nil {
			return err
		}
		if err := writeFileAtomic(res.SignaturePath, buf.Bytes(), 0644); err != nil {
			return err
		}
		if err := writeFileAtomic(res.PublicKeyPath, []byte(ds.EncodeKey(y)), 0644); err != nil {
			return err
		}

		res.Signature, res.PublicKey = sig, y
		t.metrics.RecordBytes(cr.n, 0)
		log.FileSigned(in, res.SignaturePath, res.PublicKeyPath)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// VerifyFile checks in against a signature file and public key. Paths default
// to in plus the signature and public key suffixes. When the signature holds,
// a marker file containing "ok" is written to in plus the verified suffix;
// otherwise any stale marker is removed.
func (t *Toolkit) VerifyFile(ctx context.Context, in, sigPath, pubRef string) (*VerifyResult, error) {
	sigPath = derive(sigPath, in, t.cfg.Suffixes.Signature)
	res := &VerifyResult{MarkerPath: in + t.cfg.Suffixes.Verified}

	err := t.run(ctx, "verify", []attribute.KeyValue{
		attribute.String("magenta.input", in),
		attribute.String("magenta.signature", sigPath),
	}, func(ctx context.Context, log *observability.Logger) error {
		sig, err := readSignature(sigPath)
		if err != nil {
			return err
		}
		y, err := t.loadPublicKey(pubRef, in+t.cfg.Suffixes.PublicKey)
		if err != nil {
			return err
		}
		src, err := t.openInput(ctx, in)
		if err != nil {
			return err
		}
		defer src.Close()

		cr := &countingReader{r: src}
		ok, err := ds.Verify(bufio.NewReaderSize(cr, ioBufferSize), y, sig)
		if err != nil {
			return err
		}
		t.metrics.RecordBytes(cr.n, 0)
		t.metrics.RecordVerification(ok)
		trace.SpanFromContext(ctx).SetAttributes(attribute.Bool("magenta.verified", ok))
		log.SignatureChecked(in, ok)

		res.Verified = ok
		if ok {
			return writeFileAtomic(res.MarkerPath, []byte(verifiedMarker), 0644)
		}
		if err := os.Remove(res.MarkerPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove stale marker: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func readSignature(path string) (*ds.Signature, error) {
	if err := validation.ValidateFilePath(path, true); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open signature: %w", err)
	}
	defer f.Close()
	return ds.ReadSignature(f)
}

// SealFile signs in with privRef and encrypts message and signature together
// with the cipher key keyRef. The public key is written next to the output.
func (t *Toolkit) SealFile(ctx context.Context, in, out, keyRef, privRef string) (*SealResult, error) {
	out = derive(out, in, t.cfg.Suffixes.Sealed)
	res := &SealResult{Output: out, PublicKeyPath: out + t.cfg.Suffixes.PublicKey}

	err := t.run(ctx, "seal", []attribute.KeyValue{
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
		x, err := t.loadPrivateKey(privRef)
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

		var fingerprint *manifest.Builder
		cw := &countingWriter{w: dst}
		var w io.Writer = cw
		if t.cfg.WriteManifest {
			fingerprint = manifest.NewBuilder(t.cfg.ChunkSize)
			w = io.MultiWriter(cw, fingerprint)
		}

		bw := bufio.NewWriterSize(w, ioBufferSize)
		sealed, err := envelope.Seal(t.rand, codec, x, bufio.NewReaderSize(src, ioBufferSize), bw)
		if err != nil {
			return err
		}
		if err := bw.Flush(); err != nil {
			return fmt.Errorf("failed to write envelope: %w", err)
		}
		if err := dst.Commit(); err != nil {
			return err
		}
		if err := writeFileAtomic(res.PublicKeyPath, []byte(ds.EncodeKey(sealed.PublicKey)), 0644); err != nil {
			return err
		}

		res.PlainSize, res.CipherSize = sealed.PlainSize, cw.n
		t.metrics.RecordBytes(sealed.PlainSize, cw.n)

		if fingerprint != nil {
			path, err := t.saveManifest(log, fingerprint, out, "seal", sealed.PlainSize, sealed.Digest)
			if err != nil {
				return err
			}
			res.ManifestPath = path
		}

		log.FileEncrypted(in, out, sealed.PlainSize, cw.n, t.now().Sub(start))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// OpenFile decrypts an envelope with keyRef, writes the message and verifies
// its signature against pubRef, which defaults to in plus the public key
// suffix. The message is written even when the signature does not verify.
func (t *Toolkit) OpenFile(ctx context.Context, in, out, keyRef, pubRef string) (*OpenResult, error) {
	out = derive(out, in, t.cfg.Suffixes.Decrypted)
	res := &OpenResult{Output: out}

	err := t.run(ctx, "open", []attribute.KeyValue{
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
		y, err := t.loadPublicKey(pubRef, in+t.cfg.Suffixes.PublicKey)
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
		opened, err := envelope.Open(codec, y, bufio.NewReaderSize(cr, ioBufferSize), dst)
		if err != nil {
			return err
		}
		if err := dst.Commit(); err != nil {
			return err
		}

		res.Verified, res.Size = opened.Verified, opened.MessageSize
		t.metrics.RecordBytes(cr.n, opened.MessageSize)
		t.metrics.RecordVerification(opened.Verified)
		log.FileDecrypted(in, out, cr.n, opened.MessageSize, t.now().Sub(start))
		log.SignatureChecked(in, opened.Verified)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
