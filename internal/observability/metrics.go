package observability

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// Lightweight in-process metrics, exposed as JSON by the control API.
// ---------------------------------------------------------------------------

// MetricType identifies the kind of metric.
type MetricType string

const (
	MetricCounter MetricType = "counter"
	MetricGauge   MetricType = "gauge"
)

// MetricEntry is one exported metric value.
type MetricEntry struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"ts"`
}

// Counter is a monotonically increasing counter.
type Counter struct {
	value atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by delta. Negative deltas are ignored.
func (c *Counter) Add(delta int64) {
	if delta > 0 {
		c.value.Add(delta)
	}
}

// Value returns the current count.
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	mu    sync.Mutex
	value float64
}

// Set replaces the gauge value.
func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = v
}

// Add shifts the gauge by delta.
func (g *Gauge) Add(delta float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value += delta
}

// Value returns the current gauge value.
func (g *Gauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

type metricKey struct {
	name   string
	labels string
}

// Registry holds named metrics. Counter/Gauge lookups create on first use,
// so callers never nil-check.
type Registry struct {
	mu       sync.Mutex
	counters map[metricKey]*Counter
	gauges   map[metricKey]*Gauge
	labels   map[metricKey]map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[metricKey]*Counter),
		gauges:   make(map[metricKey]*Gauge),
		labels:   make(map[metricKey]map[string]string),
	}
}

// Counter returns the counter for name and labels, creating it on first use.
func (r *Registry) Counter(name string, labels map[string]string) *Counter {
	key := metricKey{name: name, labels: flattenLabels(labels)}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counters[key]
	if !ok {
		c = &Counter{}
		r.counters[key] = c
		r.labels[key] = labels
	}
	return c
}

// Gauge returns the gauge for name and labels, creating it on first use.
func (r *Registry) Gauge(name string, labels map[string]string) *Gauge {
	key := metricKey{name: name, labels: flattenLabels(labels)}
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gauges[key]
	if !ok {
		g = &Gauge{}
		r.gauges[key] = g
		r.labels[key] = labels
	}
	return g
}

// Export returns every metric, sorted by name then labels for stable output.
func (r *Registry) Export() []MetricEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	out := make([]MetricEntry, 0, len(r.counters)+len(r.gauges))
	for key, c := range r.counters {
		out = append(out, MetricEntry{
			Name:      key.name,
			Type:      MetricCounter,
			Value:     float64(c.Value()),
			Labels:    r.labels[key],
			Timestamp: now,
		})
	}
	for key, g := range r.gauges {
		out = append(out, MetricEntry{
			Name:      key.name,
			Type:      MetricGauge,
			Value:     g.Value(),
			Labels:    r.labels[key],
			Timestamp: now,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return flattenLabels(out[i].Labels) < flattenLabels(out[j].Labels)
	})
	return out
}

func flattenLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	flat := ""
	for _, k := range keys {
		flat += k + "=" + labels[k] + ","
	}
	return flat
}
