package observability

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Result label values for orbit_operations_total.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// OrbitCollector bundles Prometheus metrics for a social circle: operation
// counts and latencies plus gauges tracking the size of the orbit.
type OrbitCollector struct {
	gatherer prometheus.Gatherer

	Operations *prometheus.CounterVec
	Durations  *prometheus.HistogramVec
	Evictions  prometheus.Counter

	Entities  prometheus.Gauge
	Relations prometheus.Gauge
	Tracks    prometheus.Gauge
}

// NewOrbitCollector registers orbit metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewOrbitCollector(reg prometheus.Registerer) (*OrbitCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	operations, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orbit_operations_total",
		Help: "Total number of circle operations, labeled by operation and result.",
	}, []string{"operation", "result"}), "orbit_operations_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orbit_operation_duration_seconds",
		Help:    "Circle operation latency in seconds.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}, []string{"operation"}), "orbit_operation_duration_seconds")
	if err != nil {
		return nil, err
	}

	evictions, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbit_evictions_total",
		Help: "Total number of entities evicted after losing every path from the center.",
	}), "orbit_evictions_total")
	if err != nil {
		return nil, err
	}

	entities, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbit_entities",
		Help: "Current number of entities on the orbit, the center included.",
	}), "orbit_entities")
	if err != nil {
		return nil, err
	}
	relations, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbit_relations",
		Help: "Current number of directed relations.",
	}), "orbit_relations")
	if err != nil {
		return nil, err
	}
	tracks, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbit_tracks",
		Help: "Current number of declared tracks.",
	}), "orbit_tracks")
	if err != nil {
		return nil, err
	}

	return &OrbitCollector{
		gatherer:   gatherer,
		Operations: operations,
		Durations:  durations,
		Evictions:  evictions,
		Entities:   entities,
		Relations:  relations,
		Tracks:     tracks,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *OrbitCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveOperation records one circle operation and its latency.
func (c *OrbitCollector) ObserveOperation(operation string, err error, d time.Duration) {
	if c == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	if c.Operations != nil {
		c.Operations.WithLabelValues(operation, result).Inc()
	}
	if c.Durations != nil {
		c.Durations.WithLabelValues(operation).Observe(d.Seconds())
	}
}

// AddEvictions counts n evicted entities.
func (c *OrbitCollector) AddEvictions(n int) {
	if c == nil || c.Evictions == nil || n <= 0 {
		return
	}
	c.Evictions.Add(float64(n))
}

// SetOrbitCounts satisfies the circle's MetricsRecorder interface so the
// facade can drive gauge values directly from its mutators.
func (c *OrbitCollector) SetOrbitCounts(entities, relations, tracks int) {
	if c == nil {
		return
	}
	if c.Entities != nil {
		c.Entities.Set(float64(entities))
	}
	if c.Relations != nil {
		c.Relations.Set(float64(relations))
	}
	if c.Tracks != nil {
		c.Tracks.Set(float64(tracks))
	}
}

// WriteText writes a compact, sorted rendering of every orbit_* sample the
// collector's gatherer knows about. Histograms are summarised by count and sum.
func (c *OrbitCollector) WriteText(w io.Writer) error {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	families, err := gatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	var lines []string
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "orbit_") {
			continue
		}
		for _, m := range mf.GetMetric() {
			name := mf.GetName() + formatLabels(m.GetLabel())
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				lines = append(lines, fmt.Sprintf("%s %g", name, m.GetCounter().GetValue()))
			case dto.MetricType_GAUGE:
				lines = append(lines, fmt.Sprintf("%s %g", name, m.GetGauge().GetValue()))
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				lines = append(lines,
					fmt.Sprintf("%s_count%s %d", mf.GetName(), formatLabels(m.GetLabel()), h.GetSampleCount()),
					fmt.Sprintf("%s_sum%s %g", mf.GetName(), formatLabels(m.GetLabel()), h.GetSampleSum()),
				)
			}
		}
	}
	sort.Strings(lines)
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func formatLabels(pairs []*dto.LabelPair) string {
	if len(pairs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(pairs))
	for _, lp := range pairs {
		parts = append(parts, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
