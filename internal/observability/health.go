package observability

import (
	"context"
	"errors"
	"sort"
	"time"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusOK        HealthStatus = "ok"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	LatencyMS int64        `json:"latency_ms"`
}

// HealthCheckResponse represents the overall health check response.
type HealthCheckResponse struct {
	Status    HealthStatus               `json:"status"`
	Version   string                     `json:"version"`
	Timestamp string                     `json:"timestamp"`
	Checks    map[string]ComponentHealth `json:"checks"`
}

// HealthChecker runs a set of named self-checks.
type HealthChecker struct {
	version string
	checks  map[string]HealthCheckFunc
}

// HealthCheckFunc checks one component and returns a short status message. A
// *DegradedError marks the component degraded, any other error unhealthy.
type HealthCheckFunc func(ctx context.Context) (string, error)

// DegradedError marks a check that works but not as configured.
type DegradedError struct {
	Reason string
}

func (e *DegradedError) Error() string { return e.Reason }

// NewHealthChecker creates a new health checker.
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		version: version,
		checks:  make(map[string]HealthCheckFunc),
	}
}

// RegisterCheck registers a health check for a component.
func (hc *HealthChecker) RegisterCheck(name string, checkFunc HealthCheckFunc) {
	hc.checks[name] = checkFunc
}

// Names lists registered checks in sorted order.
func (hc *HealthChecker) Names() []string {
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check performs all health checks.
func (hc *HealthChecker) Check(ctx context.Context) HealthCheckResponse {
	response := HealthCheckResponse{
		Status:    HealthStatusOK,
		Version:   hc.version,
		Timestamp: time.Now().Format(time.RFC3339),
		Checks:    make(map[string]ComponentHealth),
	}

	for _, name := range hc.Names() {
		start := time.Now()
		msg, err := hc.checks[name](ctx)
		health := ComponentHealth{
			Status:    HealthStatusOK,
			Message:   msg,
			LatencyMS: time.Since(start).Milliseconds(),
		}

		if err != nil {
			health.Message = err.Error()
			var degraded *DegradedError
			if errors.As(err, &degraded) {
				health.Status = HealthStatusDegraded
			} else {
				health.Status = HealthStatusUnhealthy
			}
		}
		response.Checks[name] = health

		// Update overall status
		if health.Status == HealthStatusUnhealthy {
			response.Status = HealthStatusUnhealthy
		} else if health.Status == HealthStatusDegraded && response.Status != HealthStatusUnhealthy {
			response.Status = HealthStatusDegraded
		}
	}

	return response
}
