package circle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/signalsfoundry/social-orbit/core"
	"github.com/signalsfoundry/social-orbit/internal/logging"
	"github.com/signalsfoundry/social-orbit/internal/observability"
	"github.com/signalsfoundry/social-orbit/kb"
	"github.com/signalsfoundry/social-orbit/model"
)

func newTestCircle(t *testing.T, center string, opts ...Option) *Circle {
	t.Helper()

	opts = append([]Option{WithOrbitOptions(core.WithAngleSource(func() float64 { return 0 }))}, opts...)
	c := New(logging.Noop(), opts...)
	if center == "" {
		return c
	}
	ok, err := c.AddCenter(context.Background(), model.NewPerson(center, 30, model.SexFemale))
	if err != nil || !ok {
		t.Fatalf("AddCenter(%q) = %v, %v", center, ok, err)
	}
	return c
}

func mustAdd(t *testing.T, c *Circle, from, to string, w float64) {
	t.Helper()
	if err := c.AddRelation(context.Background(), from, to, w); err != nil {
		t.Fatalf("AddRelation(%s, %s) error = %v", from, to, err)
	}
	if err := c.Check(); err != nil {
		t.Fatalf("Check() after AddRelation(%s, %s) = %v", from, to, err)
	}
}

func mustLevel(t *testing.T, c *Circle, name string) int {
	t.Helper()
	level, err := c.Level(name)
	if err != nil {
		t.Fatalf("Level(%s) error = %v", name, err)
	}
	return level
}

func TestScenarioByName(t *testing.T) {
	c := newTestCircle(t, "Alice")
	ctx := context.Background()

	mustAdd(t, c, "Alice", "Bob", 1)
	mustAdd(t, c, "Bob", "Carol", 0.5)

	if got := mustLevel(t, c, "Bob"); got != 1 {
		t.Fatalf("Bob level = %d, want 1", got)
	}
	if got := mustLevel(t, c, "Carol"); got != 2 {
		t.Fatalf("Carol level = %d, want 2", got)
	}
	if got := c.Relations("Alice"); !reflect.DeepEqual(got, map[string]float64{"Bob": 1}) {
		t.Fatalf("Relations(Alice) = %v", got)
	}
	if got := c.Sources("Carol"); !reflect.DeepEqual(got, map[string]float64{"Bob": 0.5}) {
		t.Fatalf("Sources(Carol) = %v", got)
	}
	if got := c.PeopleAtLevel(2); !reflect.DeepEqual(got, []string{"Carol"}) {
		t.Fatalf("PeopleAtLevel(2) = %v", got)
	}
	if d, err := c.PhysicalDistance("Bob", "Carol"); err != nil || d != 2 {
		t.Fatalf("PhysicalDistance(Bob, Carol) = %v, %v, want 2", d, err)
	}
	if d, err := c.LogicalDistance("Alice", "Carol"); err != nil || d != 2 {
		t.Fatalf("LogicalDistance(Alice, Carol) = %v, %v, want 2", d, err)
	}
	if d, err := c.LogicalDistance("Carol", "Alice"); err != nil || d != core.Unreachable {
		t.Fatalf("LogicalDistance(Carol, Alice) = %v, %v, want unreachable", d, err)
	}

	removed, err := c.RemoveRelation(ctx, "Alice", "Bob")
	if err != nil || !removed {
		t.Fatalf("RemoveRelation(Alice, Bob) = %v, %v", removed, err)
	}
	if got := c.Names(); !reflect.DeepEqual(got, []string{"Alice"}) {
		t.Fatalf("Names() after eviction = %v, want [Alice]", got)
	}
	if _, err := c.Level("Carol"); !errors.Is(err, ErrPersonNotFound) {
		t.Fatalf("Level(Carol) error = %v, want ErrPersonNotFound", err)
	}
	if err := c.Check(); err != nil {
		t.Fatalf("Check() = %v", err)
	}
}

func TestAddCenterOnlyOnce(t *testing.T) {
	c := newTestCircle(t, "Alice")

	ok, err := c.AddCenter(context.Background(), model.NewPerson("Zed", 40, model.SexMale))
	if err != nil || ok {
		t.Fatalf("second AddCenter = %v, %v, want false, nil", ok, err)
	}
	center, _ := c.Center()
	if center.Name() != "Alice" {
		t.Fatalf("Center() = %q, want Alice", center.Name())
	}
	if c.Person("Zed") != nil {
		t.Fatalf("rejected center must not be added to the circle")
	}
}

func TestAddCenterInvalid(t *testing.T) {
	c := newTestCircle(t, "")
	if _, err := c.AddCenter(context.Background(), nil); err == nil {
		t.Fatalf("AddCenter(nil) should fail")
	}
	if _, ok := c.Center(); ok {
		t.Fatalf("no center expected after a failed AddCenter")
	}
}

func TestAddRelationUnknownSource(t *testing.T) {
	c := newTestCircle(t, "Alice")

	err := c.AddRelation(context.Background(), "Mallory", "Trent", 1)
	if !errors.Is(err, ErrPersonNotFound) {
		t.Fatalf("AddRelation error = %v, want ErrPersonNotFound", err)
	}
	if !errors.Is(err, core.ErrUnknownSource) {
		t.Fatalf("AddRelation error = %v, want the core error kept in the chain", err)
	}
	if got := c.Names(); !reflect.DeepEqual(got, []string{"Alice"}) {
		t.Fatalf("Names() = %v, placeholders must not be kept", got)
	}
}

func TestAddRelationInvalidTargetLeavesNoTrace(t *testing.T) {
	tests := []struct {
		name   string
		target string
		policy func(string) *model.Person
	}{
		{name: "empty target", target: ""},
		{name: "nil default person", target: "Bob", policy: func(string) *model.Person { return nil }},
		{name: "nameless default person", target: "Bob", policy: func(string) *model.Person { return model.NewPerson("", 20, model.SexMale) }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var opts []Option
			if tc.policy != nil {
				opts = append(opts, WithDefaultPerson(tc.policy))
			}
			c := newTestCircle(t, "Alice", opts...)

			err := c.AddRelation(context.Background(), "Alice", tc.target, 1)
			if !errors.Is(err, kb.ErrPersonInvalid) {
				t.Fatalf("AddRelation(Alice, %q) error = %v, want ErrPersonInvalid", tc.target, err)
			}
			if c.Len() != 1 || len(c.Relations("Alice")) != 0 {
				t.Fatalf("failed AddRelation changed state: len=%d relations=%v", c.Len(), c.Relations("Alice"))
			}
			if err := c.Check(); err != nil {
				t.Fatalf("Check() = %v", err)
			}
		})
	}
}

func TestAddRelationWithoutCenter(t *testing.T) {
	c := newTestCircle(t, "")

	err := c.AddRelation(context.Background(), "Alice", "Bob", 1)
	if !errors.Is(err, ErrNoCenter) || !errors.Is(err, ErrPersonNotFound) {
		t.Fatalf("AddRelation error = %v, want ErrNoCenter and ErrPersonNotFound", err)
	}
}

func TestDefaultPersonPolicy(t *testing.T) {
	c := newTestCircle(t, "Alice")
	mustAdd(t, c, "Alice", "Bob", 1)

	bob := c.Person("Bob")
	if bob == nil || bob.Age != 20 || bob.Sex != model.SexMale {
		t.Fatalf("Person(Bob) = %+v, want a 20 year old male", bob)
	}

	custom := newTestCircle(t, "Alice", WithDefaultPerson(func(name string) *model.Person {
		return model.NewPerson(name, 33, model.SexFemale)
	}))
	mustAdd(t, custom, "Alice", "Eve", 1)
	if eve := custom.Person("Eve"); eve == nil || eve.Age != 33 || eve.Sex != model.SexFemale {
		t.Fatalf("Person(Eve) = %+v, want the custom default", eve)
	}
}

func TestAddRelationAtUsesAngle(t *testing.T) {
	c := newTestCircle(t, "Alice")
	if err := c.AddRelationAt(context.Background(), "Alice", "Bob", 1, 90); err != nil {
		t.Fatalf("AddRelationAt error = %v", err)
	}
	pos, err := c.Position("Bob")
	if err != nil {
		t.Fatalf("Position(Bob) error = %v", err)
	}
	if pos != (model.Position{Level: 1, Angle: 90}) {
		t.Fatalf("Position(Bob) = %v, want level 1 angle 90", pos)
	}
}

func TestRemoveRelationErrors(t *testing.T) {
	c := newTestCircle(t, "Alice")
	mustAdd(t, c, "Alice", "Bob", 1)

	if _, err := c.RemoveRelation(context.Background(), "Alice", "Nobody"); !errors.Is(err, ErrPersonNotFound) {
		t.Fatalf("RemoveRelation unknown target error = %v", err)
	}
	removed, err := c.RemoveRelation(context.Background(), "Bob", "Alice")
	if err != nil || removed {
		t.Fatalf("RemoveRelation missing edge = %v, %v, want false, nil", removed, err)
	}
}

func TestUnknownNameQueries(t *testing.T) {
	c := newTestCircle(t, "Alice")

	if got := c.Relations("Nobody"); got == nil || len(got) != 0 {
		t.Fatalf("Relations(Nobody) = %v, want empty map", got)
	}
	if got := c.Sources("Nobody"); got == nil || len(got) != 0 {
		t.Fatalf("Sources(Nobody) = %v, want empty map", got)
	}
	if _, err := c.Diffusion("Nobody"); !errors.Is(err, ErrPersonNotFound) {
		t.Fatalf("Diffusion(Nobody) error = %v", err)
	}
	if _, err := c.PhysicalDistance("Alice", "Nobody"); !errors.Is(err, ErrPersonNotFound) {
		t.Fatalf("PhysicalDistance error = %v", err)
	}
	if err := c.ChangeAngle(context.Background(), "Nobody", 10); !errors.Is(err, ErrPersonNotFound) {
		t.Fatalf("ChangeAngle error = %v", err)
	}
}

func TestDiffusionAndChangeAngle(t *testing.T) {
	c := newTestCircle(t, "Alice")
	mustAdd(t, c, "Alice", "Bob", 1.5)
	mustAdd(t, c, "Alice", "Carol", 2)

	d, err := c.Diffusion("Alice")
	if err != nil || d != 3.5 {
		t.Fatalf("Diffusion(Alice) = %v, %v, want 3.5", d, err)
	}

	if err := c.ChangeAngle(context.Background(), "Carol", 60); err != nil {
		t.Fatalf("ChangeAngle error = %v", err)
	}
	pos, _ := c.Position("Carol")
	if pos.Level != 1 || pos.Angle != 60 {
		t.Fatalf("Position(Carol) = %v, want level 1 angle 60", pos)
	}
	want := math.Abs(math.Cos(60) * 1)
	if got, _ := c.PhysicalDistance("Carol", "Bob"); math.Abs(got-want) > 1e-12 {
		t.Fatalf("PhysicalDistance(Carol, Bob) = %v, want %v", got, want)
	}
}

func TestDeclareTrackErrors(t *testing.T) {
	c := newTestCircle(t, "Alice")
	ctx := context.Background()

	if err := c.DeclareTrack(ctx, 3, 4); err != nil {
		t.Fatalf("DeclareTrack(3) error = %v", err)
	}
	if c.TrackCount() != 1 {
		t.Fatalf("TrackCount() = %d, want 1", c.TrackCount())
	}

	tests := []struct {
		name  string
		level int
	}{
		{name: "duplicate", level: 3},
		{name: "center level", level: 0},
		{name: "negative", level: -2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := c.DeclareTrack(ctx, tc.level, 1); !errors.Is(err, ErrInvalidTrack) {
				t.Fatalf("DeclareTrack(%d) error = %v, want ErrInvalidTrack", tc.level, err)
			}
		})
	}
}

func TestRemovePerson(t *testing.T) {
	c := newTestCircle(t, "Alice")
	mustAdd(t, c, "Alice", "Bob", 1)
	mustAdd(t, c, "Bob", "Carol", 1)
	mustAdd(t, c, "Alice", "Dave", 1)

	if err := c.RemovePerson(context.Background(), "Bob"); err != nil {
		t.Fatalf("RemovePerson(Bob) error = %v", err)
	}
	if got := c.Names(); !reflect.DeepEqual(got, []string{"Alice", "Dave"}) {
		t.Fatalf("Names() = %v, want [Alice Dave]", got)
	}
	if err := c.RemovePerson(context.Background(), "Bob"); !errors.Is(err, ErrPersonNotFound) {
		t.Fatalf("second RemovePerson error = %v", err)
	}

	if err := c.RemovePerson(context.Background(), "Alice"); err != nil {
		t.Fatalf("RemovePerson(center) error = %v", err)
	}
	if c.Len() != 0 || len(c.Names()) != 0 {
		t.Fatalf("circle should be empty after removing the center, names = %v", c.Names())
	}
	if err := c.Check(); err != nil {
		t.Fatalf("Check() = %v", err)
	}
}

func TestMetricsTracingAndLogs(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := observability.NewOrbitCollector(reg)
	if err != nil {
		t.Fatalf("NewOrbitCollector: %v", err)
	}
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	zcore, logs := observer.New(zapcore.DebugLevel)

	c := New(logging.NewZap(zap.New(zcore)),
		WithMetrics(collector),
		WithTracer(tp.Tracer(observability.TracerName)),
		WithOrbitOptions(core.WithSeed(7)),
	)
	ctx := context.Background()
	if _, err := c.AddCenter(ctx, model.NewPerson("Alice", 30, model.SexFemale)); err != nil {
		t.Fatalf("AddCenter error = %v", err)
	}
	mustAdd(t, c, "Alice", "Bob", 1)
	mustAdd(t, c, "Bob", "Carol", 1)
	if _, err := c.RemoveRelation(ctx, "Alice", "Bob"); err != nil {
		t.Fatalf("RemoveRelation error = %v", err)
	}
	_ = c.AddRelation(ctx, "Nobody", "Bob", 1)

	if got := testutil.ToFloat64(collector.Evictions); got != 2 {
		t.Fatalf("orbit_evictions_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.Entities); got != 1 {
		t.Fatalf("orbit_entities = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.Relations); got != 0 {
		t.Fatalf("orbit_relations = %v, want 0", got)
	}
	if got := testutil.ToFloat64(collector.Operations.WithLabelValues("AddRelation", observability.ResultOK)); got != 2 {
		t.Fatalf("AddRelation ok count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.Operations.WithLabelValues("AddRelation", observability.ResultError)); got != 1 {
		t.Fatalf("AddRelation error count = %v, want 1", got)
	}

	var removal sdktrace.ReadOnlySpan
	for _, s := range recorder.Ended() {
		if s.Name() == "circle/RemoveRelation" {
			removal = s
		}
	}
	if removal == nil {
		t.Fatalf("no circle/RemoveRelation span recorded")
	}
	evicted := int64(-1)
	for _, kv := range removal.Attributes() {
		if kv.Key == "circle.evicted" {
			evicted = kv.Value.AsInt64()
		}
	}
	if evicted != 2 {
		t.Fatalf("circle.evicted = %d, want 2", evicted)
	}

	if n := logs.FilterMessage("person evicted").Len(); n != 2 {
		t.Fatalf("logged %d evictions, want 2", n)
	}
	if n := logs.FilterMessage("circle operation failed").Len(); n != 1 {
		t.Fatalf("logged %d failures, want 1", n)
	}
}

func TestConcurrentUse(t *testing.T) {
	c := newTestCircle(t, "Alice")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("friend-%d", i)
			if err := c.AddRelation(ctx, "Alice", name, float64(i)); err != nil {
				t.Errorf("AddRelation(%s) error = %v", name, err)
				return
			}
			_ = c.Relations(name)
			_, _ = c.Level(name)
			_ = c.Names()
		}(i)
	}
	wg.Wait()

	if c.Len() != 9 {
		t.Fatalf("Len() = %d, want 9", c.Len())
	}
	if got := len(c.PeopleAtLevel(1)); got != 8 {
		t.Fatalf("PeopleAtLevel(1) has %d people, want 8", got)
	}
	if err := c.Check(); err != nil {
		t.Fatalf("Check() = %v", err)
	}
}
