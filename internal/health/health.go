// Package health probes the gateway's local subsystems (the KV store, and
// whatever else gets registered) for the admin health report. Probes report
// an error to mean unhealthy; the registry stamps name, latency, and a
// per-probe deadline so one stuck subsystem cannot hang the whole report.
package health

import (
	"context"
	"sync"
	"time"
)

// DefaultProbeTimeout bounds each individual probe.
const DefaultProbeTimeout = 2 * time.Second

// Status is one subsystem's result as it appears in the admin report.
type Status struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	LatencyMs int64  `json:"latency_ms"`
	Detail    string `json:"detail,omitempty"`
}

// Probe checks one subsystem. A non-nil error marks it unhealthy; the
// returned detail is informational either way.
type Probe func(ctx context.Context) (detail string, err error)

// Registry holds named probes and runs them on demand.
type Registry struct {
	mu      sync.RWMutex
	probes  []namedProbe
	timeout time.Duration
}

type namedProbe struct {
	name  string
	probe Probe
}

// NewRegistry creates a probe registry. A zero timeout uses
// DefaultProbeTimeout.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Registry{timeout: timeout}
}

// Register adds a named probe.
func (r *Registry) Register(name string, probe Probe) {
	r.mu.Lock()
	r.probes = append(r.probes, namedProbe{name: name, probe: probe})
	r.mu.Unlock()
}

// CheckAll runs every probe under its own deadline and returns the aggregate
// verdict plus per-subsystem results in registration order.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	probes := make([]namedProbe, len(r.probes))
	copy(probes, r.probes)
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, len(probes))

	for i, np := range probes {
		statuses[i] = r.run(ctx, np)
		if !statuses[i].Healthy {
			healthy = false
		}
	}

	return healthy, statuses
}

func (r *Registry) run(ctx context.Context, np namedProbe) Status {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	detail, err := np.probe(ctx)
	status := Status{
		Name:      np.name,
		Healthy:   err == nil,
		LatencyMs: time.Since(start).Milliseconds(),
		Detail:    detail,
	}
	if err != nil {
		status.Detail = err.Error()
	}
	return status
}
