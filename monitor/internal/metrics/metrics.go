package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// Counter is a monotonically increasing metric. Safe for concurrent use.
type Counter struct {
	bits atomic.Uint64 // float64 bits
}

// Inc adds 1 to the counter.
func (c *Counter) Inc() { c.Add(1) }

// Add adds delta to the counter. Negative deltas are ignored.
func (c *Counter) Add(delta float64) {
	if delta < 0 {
		return
	}
	for {
		old := c.bits.Load()
		next := floatBits(floatFrom(old) + delta)
		if c.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

// Value returns the current counter value.
func (c *Counter) Value() float64 { return floatFrom(c.bits.Load()) }

// Gauge is a metric that can go up and down. Safe for concurrent use.
type Gauge struct {
	bits atomic.Uint64
}

// Set replaces the gauge's value.
func (g *Gauge) Set(v float64) { g.bits.Store(floatBits(v)) }

// Value returns the current gauge value.
func (g *Gauge) Value() float64 { return floatFrom(g.bits.Load()) }

type metric struct {
	name    string
	help    string
	kind    dto.MetricType
	counter *Counter
	gauge   *Gauge
}

// Registry holds named metrics and renders them in Prometheus text format.
// Registering the same name twice returns the existing metric.
type Registry struct {
	mu      sync.Mutex
	metrics map[string]*metric
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]*metric)}
}

// Counter registers (or retrieves) a counter with the given name and help text.
func (r *Registry) Counter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.metrics[name]; ok {
		return m.counter
	}
	m := &metric{name: name, help: help, kind: dto.MetricType_COUNTER, counter: &Counter{}}
	r.metrics[name] = m
	return m.counter
}

// Gauge registers (or retrieves) a gauge with the given name and help text.
func (r *Registry) Gauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.metrics[name]; ok {
		return m.gauge
	}
	m := &metric{name: name, help: help, kind: dto.MetricType_GAUGE, gauge: &Gauge{}}
	r.metrics[name] = m
	return m.gauge
}

// Gather renders all registered metrics as MetricFamily protos, sorted by
// name for deterministic output.
func (r *Registry) Gather() []*dto.MetricFamily {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*dto.MetricFamily, 0, len(names))
	for _, name := range names {
		m := r.metrics[name]
		mf := &dto.MetricFamily{
			Name: proto.String(m.name),
			Help: proto.String(m.help),
			Type: m.kind.Enum(),
		}
		switch m.kind {
		case dto.MetricType_COUNTER:
			mf.Metric = []*dto.Metric{{
				Counter: &dto.Counter{Value: proto.Float64(m.counter.Value())},
			}}
		case dto.MetricType_GAUGE:
			mf.Metric = []*dto.Metric{{
				Gauge: &dto.Gauge{Value: proto.Float64(m.gauge.Value())},
			}}
		}
		out = append(out, mf)
	}
	return out
}

// Handler returns an http.Handler serving GET /metrics in text format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		format := expfmt.NewFormat(expfmt.TypeTextPlain)
		w.Header().Set("Content-Type", string(format))
		enc := expfmt.NewEncoder(w, format)
		for _, mf := range r.Gather() {
			if err := enc.Encode(mf); err != nil {
				http.Error(w, fmt.Sprintf("encode metrics: %v", err), http.StatusInternalServerError)
				return
			}
		}
	})
}

func floatBits(f float64) uint64 { return math.Float64bits(f) }
func floatFrom(b uint64) float64 { return math.Float64frombits(b) }
