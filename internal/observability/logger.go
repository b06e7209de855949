package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stderr
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// NewConfiguredLogger creates a logger with the given format ("json" or
// "console") and level name.
func NewConfiguredLogger(service, version string, output io.Writer, format, level string) (*Logger, error) {
	if output == nil {
		output = os.Stderr
	}

	switch strings.ToLower(format) {
	case "", "json":
	case "console":
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	l := NewLogger(service, version, output)
	if level == "" {
		return l, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return l.WithLevel(lvl), nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// WithLevel returns a copy of the logger filtered at lvl.
func (l *Logger) WithLevel(lvl zerolog.Level) *Logger {
	return &Logger{logger: l.logger.Level(lvl)}
}

// WithOperation adds operation and operation_id context to logger.
func (l *Logger) WithOperation(operation, id string) *Logger {
	return &Logger{
		logger: l.logger.With().
			Str("operation", operation).
			Str("operation_id", id).
			Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// FileEncrypted logs a completed encryption.
func (l *Logger) FileEncrypted(input, output string, plainSize, cipherSize int64, duration time.Duration) {
	l.logger.Info().
		Str("input", input).
		Str("output", output).
		Int64("plain_size", plainSize).
		Int64("cipher_size", cipherSize).
		Float64("duration_seconds", duration.Seconds()).
		Msg("file encrypted")
}

// FileDecrypted logs a completed decryption.
func (l *Logger) FileDecrypted(input, output string, cipherSize, plainSize int64, duration time.Duration) {
	l.logger.Info().
		Str("input", input).
		Str("output", output).
		Int64("cipher_size", cipherSize).
		Int64("plain_size", plainSize).
		Float64("duration_seconds", duration.Seconds()).
		Msg("file decrypted")
}

// DigestComputed logs a hash result.
func (l *Logger) DigestComputed(input, digest string, size int64) {
	l.logger.Info().
		Str("input", input).
		Str("digest", digest).
		Int64("size", size).
		Msg("digest computed")
}

// FileSigned logs a new signature.
func (l *Logger) FileSigned(input, signaturePath, publicKeyPath string) {
	l.logger.Info().
		Str("input", input).
		Str("signature_path", signaturePath).
		Str("public_key_path", publicKeyPath).
		Msg("file signed")
}

// SignatureChecked logs a verification outcome. A mismatch is a warning, not
// an error.
func (l *Logger) SignatureChecked(input string, verified bool) {
	ev := l.logger.Info()
	msg := "signature verified"
	if !verified {
		ev = l.logger.Warn()
		msg = "signature mismatch"
	}
	ev.Str("input", input).Bool("verified", verified).Msg(msg)
}

// KeyGenerated logs creation of key material.
func (l *Logger) KeyGenerated(kind, path string) {
	l.logger.Info().
		Str("key_kind", kind).
		Str("key_path", path).
		Msg("key generated")
}

// ManifestWritten logs a sidecar manifest.
func (l *Logger) ManifestWritten(path, id string, chunks int) {
	l.logger.Debug().
		Str("manifest_path", path).
		Str("manifest_id", id).
		Int("chunks", chunks).
		Msg("manifest written")
}

// OperationFailed logs an aborted operation.
func (l *Logger) OperationFailed(operation string, err error) {
	l.logger.Error().
		Str("operation", operation).
		Err(err).
		Msg("operation failed")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
