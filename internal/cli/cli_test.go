package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magentakit/magenta/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		config.EnvConfig, config.EnvLogLevel, config.EnvLogFormat, config.EnvKeysDir,
		config.EnvMetricsFile, config.EnvWriteManifest, config.EnvMaxRate,
		"OTEL_EXPORTER_JAEGER_ENDPOINT",
	} {
		t.Setenv(k, "")
	}
}

// TestSetupAndClose tests that a configured run writes its metrics on close
func TestSetupAndClose(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	metricsPath := filepath.Join(dir, "magenta.prom")
	cfgPath := filepath.Join(dir, "magenta.yaml")
	body := "keys_dir: " + filepath.Join(dir, "keys") + "\nlog_level: error\nmetrics_file: " + metricsPath + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0644))

	env, err := Setup(context.Background(), "magenta-test", "dev", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "keys"), env.Config.KeysDir)
	require.NotNil(t, env.Toolkit)

	env.Metrics.RecordOperation("hash", true, 0.01)
	env.Close()

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `magenta_operations_total{operation="hash",result="success"} 1`)
}

// TestSetupRejectsBadConfig tests that configuration errors surface
func TestSetupRejectsBadConfig(t *testing.T) {
	clearEnv(t)
	cfgPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("log_format: xml\n"), 0644))

	_, err := Setup(context.Background(), "magenta-test", "dev", cfgPath)
	assert.Error(t, err)
}
