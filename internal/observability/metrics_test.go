package observability

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestObserveOperationRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewOrbitCollector(reg)
	if err != nil {
		t.Fatalf("NewOrbitCollector: %v", err)
	}

	collector.ObserveOperation("AddRelation", nil, 2*time.Millisecond)
	collector.ObserveOperation("AddRelation", errors.New("boom"), time.Millisecond)

	if got := testutil.ToFloat64(collector.Operations.WithLabelValues("AddRelation", ResultOK)); got != 1 {
		t.Fatalf("orbit_operations_total ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.Operations.WithLabelValues("AddRelation", ResultError)); got != 1 {
		t.Fatalf("orbit_operations_total error = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "orbit_operation_duration_seconds", map[string]string{
		"operation": "AddRelation",
	}); count != 2 {
		t.Fatalf("orbit_operation_duration_seconds sample_count = %d, want 2", count)
	}
}

func TestOrbitGaugesAndEvictions(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewOrbitCollector(reg)
	if err != nil {
		t.Fatalf("NewOrbitCollector: %v", err)
	}

	collector.SetOrbitCounts(3, 4, 2)
	collector.AddEvictions(2)
	collector.AddEvictions(0)

	if got := testutil.ToFloat64(collector.Entities); got != 3 {
		t.Fatalf("orbit_entities = %v, want 3", got)
	}
	if got := testutil.ToFloat64(collector.Relations); got != 4 {
		t.Fatalf("orbit_relations = %v, want 4", got)
	}
	if got := testutil.ToFloat64(collector.Tracks); got != 2 {
		t.Fatalf("orbit_tracks = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.Evictions); got != 2 {
		t.Fatalf("orbit_evictions_total = %v, want 2", got)
	}
}

func TestNewOrbitCollectorReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewOrbitCollector(reg)
	if err != nil {
		t.Fatalf("first NewOrbitCollector: %v", err)
	}
	second, err := NewOrbitCollector(reg)
	if err != nil {
		t.Fatalf("second NewOrbitCollector: %v", err)
	}
	second.AddEvictions(1)
	if got := testutil.ToFloat64(first.Evictions); got != 1 {
		t.Fatalf("collectors do not share registered metrics, evictions = %v", got)
	}
}

func TestWriteText(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewOrbitCollector(reg)
	if err != nil {
		t.Fatalf("NewOrbitCollector: %v", err)
	}
	collector.SetOrbitCounts(3, 2, 1)
	collector.ObserveOperation("RemoveRelation", nil, time.Millisecond)

	var buf bytes.Buffer
	if err := collector.WriteText(&buf); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"orbit_entities 3",
		"orbit_relations 2",
		"orbit_tracks 1",
		`orbit_operations_total{operation="RemoveRelation",result="ok"} 1`,
		`orbit_operation_duration_seconds_count{operation="RemoveRelation"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("WriteText output missing %q:\n%s", want, out)
		}
	}
}

func TestMetricsHandlerExposesOrbitGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewOrbitCollector(reg)
	if err != nil {
		t.Fatalf("NewOrbitCollector: %v", err)
	}
	collector.SetOrbitCounts(5, 6, 7)
	collector.ObserveOperation("AddCenter", nil, time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		"orbit_entities 5",
		"orbit_relations 6",
		"orbit_tracks 7",
		"orbit_operation_duration_seconds_bucket",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in /metrics output", want)
		}
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *OrbitCollector
	c.ObserveOperation("x", nil, 0)
	c.AddEvictions(1)
	c.SetOrbitCounts(1, 1, 1)
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
