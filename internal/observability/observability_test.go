package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestLoggerFields tests the base context fields and domain events
func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("magenta", "1.2.3", &buf)

	l.WithOperation("encrypt", "op-1").FileEncrypted("a.txt", "a.txt.enc", 10, 32, time.Second)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	want := map[string]any{
		"service":      "magenta",
		"version":      "1.2.3",
		"operation":    "encrypt",
		"operation_id": "op-1",
		"input":        "a.txt",
		"message":      "file encrypted",
		"level":        "info",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("field %s = %v, want %v", k, entry[k], v)
		}
	}
	if entry["cipher_size"] != float64(32) {
		t.Errorf("cipher_size = %v", entry["cipher_size"])
	}
}

// TestSignatureCheckedLevels tests that mismatches log at warn
func TestSignatureCheckedLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("magenta", "dev", &buf)

	l.SignatureChecked("f", false)
	if !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Errorf("mismatch not logged at warn: %s", buf.String())
	}

	buf.Reset()
	l.SignatureChecked("f", true)
	if !strings.Contains(buf.String(), `"verified":true`) {
		t.Errorf("unexpected log line: %s", buf.String())
	}
}

// TestConfiguredLogger tests level filtering and format selection
func TestConfiguredLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewConfiguredLogger("magenta", "dev", &buf, "json", "warn")
	if err != nil {
		t.Fatalf("NewConfiguredLogger() failed: %v", err)
	}
	l.Info("hidden")
	l.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("level filter not applied: %s", buf.String())
	}

	buf.Reset()
	l, err = NewConfiguredLogger("magenta", "dev", &buf, "console", "")
	if err != nil {
		t.Fatalf("NewConfiguredLogger(console) failed: %v", err)
	}
	l.Info("pretty")
	if strings.HasPrefix(buf.String(), "{") {
		t.Errorf("console format produced JSON: %s", buf.String())
	}

	if _, err := NewConfiguredLogger("m", "v", &buf, "xml", ""); err == nil {
		t.Error("unknown format accepted")
	}
	if _, err := NewConfiguredLogger("m", "v", &buf, "json", "loud"); err == nil {
		t.Error("unknown level accepted")
	}
}

func exposition(t *testing.T, m *Metrics) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "magenta.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	return string(data)
}

// TestMetrics tests counters on the private registry
func TestMetrics(t *testing.T) {
	m := NewMetrics()
	m.RecordOperation("encrypt", true, 0.01)
	m.RecordOperation("encrypt", false, 0.02)
	m.RecordOperation("encrypt", true, 0.01)
	m.RecordBytes(100, 132)
	m.RecordVerification(false)
	m.RecordKeyGenerated("cipher")

	text := exposition(t, m)
	for _, line := range []string{
		`magenta_operations_total{operation="encrypt",result="success"} 2`,
		`magenta_operations_total{operation="encrypt",result="failure"} 1`,
		`magenta_bytes_processed_total{direction="out"} 132`,
		`magenta_verifications_total{result="invalid"} 1`,
		`magenta_keys_generated_total{kind="cipher"} 1`,
		`magenta_operation_duration_seconds_count{operation="encrypt"} 3`,
	} {
		if !strings.Contains(text, line) {
			t.Errorf("exposition missing %q", line)
		}
	}

	// separate instances do not collide
	if strings.Contains(exposition(t, NewMetrics()), "magenta_operations_total{") {
		t.Error("fresh registry already has samples")
	}
}

// TestInitTracingNoop tests that tracing stays off without an endpoint
func TestInitTracingNoop(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_JAEGER_ENDPOINT", "")
	shutdown, err := InitTracing(context.Background(), "magenta", "dev")
	if err != nil {
		t.Fatalf("InitTracing() failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() failed: %v", err)
	}

	_, span := Tracer().Start(context.Background(), "noop")
	span.End()
}

// TestHealthChecker tests status aggregation
func TestHealthChecker(t *testing.T) {
	hc := NewHealthChecker("dev")
	hc.RegisterCheck("a", func(context.Context) (string, error) { return "fine", nil })

	resp := hc.Check(context.Background())
	if resp.Status != HealthStatusOK || resp.Checks["a"].Message != "fine" {
		t.Errorf("Check() = %+v", resp)
	}

	hc.RegisterCheck("b", func(context.Context) (string, error) {
		return "", fmt.Errorf("slow: %w", &DegradedError{Reason: "keys dir missing"})
	})
	if resp := hc.Check(context.Background()); resp.Status != HealthStatusDegraded {
		t.Errorf("Status = %s, want degraded", resp.Status)
	}

	hc.RegisterCheck("c", func(context.Context) (string, error) { return "", errors.New("broken") })
	resp = hc.Check(context.Background())
	if resp.Status != HealthStatusUnhealthy {
		t.Errorf("Status = %s, want unhealthy", resp.Status)
	}
	if resp.Checks["c"].Status != HealthStatusUnhealthy || resp.Checks["b"].Status != HealthStatusDegraded {
		t.Errorf("Checks = %+v", resp.Checks)
	}

	if names := hc.Names(); strings.Join(names, ",") != "a,b,c" {
		t.Errorf("Names() = %v", names)
	}
}

// TestSamplerFromEnv tests parsing of the trace sample ratio
func TestSamplerFromEnv(t *testing.T) {
	s, err := samplerFromEnv("")
	if err != nil {
		t.Fatalf("samplerFromEnv() failed: %v", err)
	}
	if s.Description() != "AlwaysOnSampler" {
		t.Errorf("default sampler = %s, want AlwaysOnSampler", s.Description())
	}

	s, err = samplerFromEnv("0.25")
	if err != nil {
		t.Fatalf("samplerFromEnv() failed: %v", err)
	}
	if !strings.Contains(s.Description(), "TraceIDRatioBased{0.25}") {
		t.Errorf("sampler = %s, want a 0.25 ratio", s.Description())
	}

	for _, bad := range []string{"half", "-0.1", "1.5"} {
		if _, err := samplerFromEnv(bad); err == nil {
			t.Errorf("samplerFromEnv(%q) accepted", bad)
		}
	}
}
