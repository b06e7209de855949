// Package cli holds the start-up and shut-down sequence shared by the
// command-line tools.
package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/magentakit/magenta/internal/config"
	"github.com/magentakit/magenta/internal/observability"
	"github.com/magentakit/magenta/internal/toolkit"
)

// Exit codes.
const (
	ExitOK       = 0
	ExitError    = 1
	ExitMismatch = 2
)

// Env is a ready toolkit with its logger, metrics and tracing.
type Env struct {
	Config  *config.Config
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Toolkit *toolkit.Toolkit

	shutdown func(context.Context) error
}

// AddConfigFlag registers the -config flag on fs.
func AddConfigFlag(fs *flag.FlagSet) *string {
	return fs.String("config", "", "Config file (default: $"+config.EnvConfig+")")
}

// Setup loads configuration and wires logging, metrics and tracing.
func Setup(ctx context.Context, service, version, configPath string) (*Env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := observability.NewConfiguredLogger(service, version, os.Stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	shutdown, err := observability.InitTracing(ctx, service, version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	metrics := observability.NewMetrics()
	return &Env{
		Config:   cfg,
		Logger:   logger,
		Metrics:  metrics,
		Toolkit:  toolkit.New(cfg, logger, metrics),
		shutdown: shutdown,
	}, nil
}

// Close flushes traces and writes the metrics textfile if one is configured.
func (e *Env) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.shutdown(ctx); err != nil {
		e.Logger.Error(err, "failed to flush traces")
	}
	if e.Config.MetricsFile != "" {
		if err := e.Metrics.WriteTextfile(e.Config.MetricsFile); err != nil {
			e.Logger.Error(err, "failed to write metrics file")
		}
	}
}

// Fail prints err and exits with ExitError.
func Fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(ExitError)
}
