// Package toolkit runs file-level operations: it resolves paths and keys from
// the configuration, drives the cipher, hash and signature packages, and
// records a log event, metrics and a trace span for every operation.
package toolkit

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/magentakit/magenta/internal/config"
	"github.com/magentakit/magenta/internal/observability"
	"github.com/magentakit/magenta/internal/ratelimit"
)

// Toolkit is safe for concurrent use when its logger and metrics are.
type Toolkit struct {
	cfg     *config.Config
	log     *observability.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
	rand    io.Reader
	now     func() time.Time
	limiter *ratelimit.TokenBucket
}

// Option customizes a Toolkit.
type Option func(*Toolkit)

// WithRand replaces the randomness source for keys and nonces.
func WithRand(r io.Reader) Option {
	return func(t *Toolkit) { t.rand = r }
}

// WithTracer replaces the tracer taken from the global provider.
func WithTracer(tr trace.Tracer) Option {
	return func(t *Toolkit) { t.tracer = tr }
}

// New returns a toolkit. A nil logger discards logs; nil metrics get a fresh
// registry.
func New(cfg *config.Config, log *observability.Logger, metrics *observability.Metrics, opts ...Option) *Toolkit {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if log == nil {
		log = observability.Nop()
	}
	if metrics == nil {
		metrics = observability.NewMetrics()
	}
	t := &Toolkit{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		tracer:  observability.Tracer(),
		rand:    rand.Reader,
		now:     time.Now,
	}
	if cfg.MaxBytesPerSecond > 0 {
		t.limiter = ratelimit.NewTokenBucket(float64(cfg.MaxBytesPerSecond), throttleBurst(cfg.MaxBytesPerSecond))
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// run wraps one operation with a span, an operation id, failure logging and
// metrics.
func (t *Toolkit) run(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(context.Context, *observability.Logger) error) error {
	id := uuid.New().String()
	ctx, span := t.tracer.Start(ctx, "magenta."+op, trace.WithAttributes(
		append(attrs, attribute.String("magenta.operation_id", id))...,
	))
	defer span.End()

	log := t.log.WithOperation(op, id)
	start := t.now()

	err := ctx.Err()
	if err == nil {
		err = fn(ctx, log)
	}
	t.metrics.RecordOperation(op, err == nil, t.now().Sub(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.OperationFailed(op, err)
		return err
	}
	return nil
}

// throttleBurst allows up to one I/O buffer, or a second of throughput when
// that is smaller.
func throttleBurst(rate int64) int {
	if rate < ioBufferSize {
		return int(rate)
	}
	return ioBufferSize
}

// derive returns path+suffix unless explicit is set.
func derive(explicit, path, suffix string) string {
	if explicit != "" {
		return explicit
	}
	return path + suffix
}

// atomicFile writes to a temporary file next to path and renames it into
// place on Commit, so a failed operation leaves no partial output.
type atomicFile struct {
	*os.File
	path string
	done bool
}

func createAtomic(path string, perm os.FileMode) (*atomicFile, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	if err := f.Chmod(perm); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to set output permissions: %w", err)
	}
	return &atomicFile{File: f, path: path}, nil
}

// Commit flushes and renames the file into place.
func (a *atomicFile) Commit() error {
	if err := a.File.Sync(); err != nil {
		a.Abort()
		return fmt.Errorf("failed to flush output: %w", err)
	}
	if err := a.File.Close(); err != nil {
		os.Remove(a.File.Name())
		a.done = true
		return fmt.Errorf("failed to close output: %w", err)
	}
	if err := os.Rename(a.File.Name(), a.path); err != nil {
		os.Remove(a.File.Name())
		a.done = true
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	a.done = true
	return nil
}

// Abort discards the file. It is a no-op after Commit.
func (a *atomicFile) Abort() {
	if a.done {
		return
	}
	a.done = true
	a.File.Close()
	os.Remove(a.File.Name())
}

// writeFileAtomic writes data to path through an atomicFile.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	f, err := createAtomic(path, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Abort()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Commit()
}

// countingReader counts bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// countingWriter counts bytes written through it.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
