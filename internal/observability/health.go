package observability

import (
	"context"
	"sync"
	"time"
)

// ComponentStatus is the health state of one component.
type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusDegraded  ComponentStatus = "degraded"
	StatusUnhealthy ComponentStatus = "unhealthy"
)

// Probe checks one component.
type Probe func(ctx context.Context) error

// ComponentHealth is one probed result.
type ComponentHealth struct {
	Name    string          `json:"name"`
	Status  ComponentStatus `json:"status"`
	Message string          `json:"message,omitempty"`
	Latency time.Duration   `json:"latency_ms"`
}

// SystemHealth aggregates every component.
type SystemHealth struct {
	Status     ComponentStatus   `json:"status"`
	Components []ComponentHealth `json:"components"`
	Uptime     time.Duration     `json:"uptime_s"`
	Timestamp  time.Time         `json:"ts"`
}

// Health evaluates registered probes on demand. Probes run with a per-probe
// timeout so a hung RPC node cannot stall the health endpoint.
type Health struct {
	mu           sync.Mutex
	probes       map[string]Probe
	order        []string
	started      time.Time
	probeTimeout time.Duration
}

// NewHealth creates a health evaluator.
func NewHealth(probeTimeout time.Duration) *Health {
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	return &Health{
		probes:       make(map[string]Probe),
		started:      time.Now(),
		probeTimeout: probeTimeout,
	}
}

// Register adds a named probe. Registration order is the report order.
func (h *Health) Register(name string, probe Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, dup := h.probes[name]; !dup {
		h.order = append(h.order, name)
	}
	h.probes[name] = probe
}

// Check runs every probe and aggregates. Any failing probe degrades the
// system; all probes failing marks it unhealthy.
func (h *Health) Check(ctx context.Context) SystemHealth {
	h.mu.Lock()
	names := make([]string, len(h.order))
	copy(names, h.order)
	probes := make(map[string]Probe, len(h.probes))
	for k, v := range h.probes {
		probes[k] = v
	}
	started := h.started
	timeout := h.probeTimeout
	h.mu.Unlock()

	components := make([]ComponentHealth, 0, len(names))
	failed := 0
	for _, name := range names {
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		begin := time.Now()
		err := probes[name](probeCtx)
		cancel()

		ch := ComponentHealth{
			Name:    name,
			Status:  StatusHealthy,
			Latency: time.Since(begin),
		}
		if err != nil {
			ch.Status = StatusUnhealthy
			ch.Message = err.Error()
			failed++
		}
		components = append(components, ch)
	}

	status := StatusHealthy
	switch {
	case len(components) > 0 && failed == len(components):
		status = StatusUnhealthy
	case failed > 0:
		status = StatusDegraded
	}

	return SystemHealth{
		Status:     status,
		Components: components,
		Uptime:     time.Since(started),
		Timestamp:  time.Now(),
	}
}
