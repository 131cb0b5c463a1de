// Package circle models a social network circle: people placed on an orbit
// around a center user and addressed by name. It translates names to people,
// applies the placeholder policy for unknown names, and carries the logging,
// tracing and metrics for every mutation. The orbit itself lives in core.
package circle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/social-orbit/core"
	"github.com/signalsfoundry/social-orbit/internal/logging"
	"github.com/signalsfoundry/social-orbit/internal/observability"
	"github.com/signalsfoundry/social-orbit/kb"
	"github.com/signalsfoundry/social-orbit/model"
)

// MetricsRecorder receives operation outcomes and orbit size updates.
type MetricsRecorder interface {
	ObserveOperation(operation string, err error, d time.Duration)
	AddEvictions(n int)
	SetOrbitCounts(entities, relations, tracks int)
}

// Circle is a named view over an orbit of people.
//
// Circle is safe for concurrent use. All orbit access happens under one
// coarse lock because a single mutation touches relations, levels and
// tracks together.
type Circle struct {
	// mu guards orbit and pending. Take it before touching people to keep
	// the lock order Circle -> Directory.
	mu sync.RWMutex

	orbit *core.Orbit[*model.Person]

	// people mirrors the orbit by name.
	people *kb.Directory

	// pending collects people evicted during the current mutation.
	pending []*model.Person

	log     logging.Logger
	metrics MetricsRecorder
	tracer  trace.Tracer

	placeholder func(name string) *model.Person
	orbitOpts   []core.Option
}

// Option customises Circle construction.
type Option func(*Circle)

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(c *Circle) {
		c.metrics = m
	}
}

// WithTracer uses t for operation spans instead of the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(c *Circle) {
		c.tracer = t
	}
}

// WithOrbitOptions passes options to the underlying orbit.
func WithOrbitOptions(opts ...core.Option) Option {
	return func(c *Circle) {
		c.orbitOpts = append(c.orbitOpts, opts...)
	}
}

// WithDefaultPerson replaces the policy used to create people for names
// that a relation mentions before they are known.
func WithDefaultPerson(fn func(name string) *model.Person) Option {
	return func(c *Circle) {
		if fn != nil {
			c.placeholder = fn
		}
	}
}

// DefaultPerson creates a 20 year old male person.
func DefaultPerson(name string) *model.Person {
	return model.NewPerson(name, 20, model.SexMale)
}

// New constructs an empty circle without a center user.
func New(log logging.Logger, opts ...Option) *Circle {
	if log == nil {
		log = logging.Noop()
	}
	c := &Circle{
		people:      kb.NewDirectory(),
		log:         log,
		placeholder: DefaultPerson,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	c.orbit = core.NewOrbit[*model.Person](c.orbitOpts...)
	c.orbit.OnEvict(func(p *model.Person) {
		c.pending = append(c.pending, p)
	})
	c.people.Subscribe(func(ev kb.Event) {
		c.log.Debug(context.Background(), "directory "+ev.Type.String(),
			logging.String("person", ev.Person.Name()))
	})
	c.updateMetricsLocked()
	return c
}

//
// ---------- Mutations ----------
//

// AddCenter makes p the center user. It returns false without error when
// the circle already has a center.
func (c *Circle) AddCenter(ctx context.Context, p *model.Person) (bool, error) {
	added := false
	err := c.mutate(ctx, "AddCenter", func(ctx context.Context, log logging.Logger) error {
		if p == nil || p.Name() == "" {
			return fmt.Errorf("%w", kb.ErrPersonInvalid)
		}
		if !c.orbit.SetCenter(p) {
			current, _ := c.orbit.Center()
			log.Info(ctx, "center user already set",
				logging.String("center", current.Name()),
				logging.String("rejected", p.Name()))
			return nil
		}
		if err := c.people.Add(p); err != nil {
			_ = c.orbit.RemoveEntity(p)
			return err
		}
		added = true
		log.Info(ctx, "center user added", logging.String("person", p.Name()))
		return nil
	}, attribute.String("circle.person", nameOf(p)))
	return added, err
}

// AddRelation records a relation from name1 to name2. A target that is not
// on the circle yet is created with the default person policy and placed. The
// source must already be on the circle.
func (c *Circle) AddRelation(ctx context.Context, name1, name2 string, weight float64) error {
	return c.addRelation(ctx, "AddRelation", name1, name2, weight, nil)
}

// AddRelationAt is AddRelation with an explicit angle for a new target.
func (c *Circle) AddRelationAt(ctx context.Context, name1, name2 string, weight, angle float64) error {
	return c.addRelation(ctx, "AddRelationAt", name1, name2, weight, &angle)
}

func (c *Circle) addRelation(ctx context.Context, op, name1, name2 string, weight float64, angle *float64) error {
	return c.mutate(ctx, op, func(ctx context.Context, log logging.Logger) error {
		if _, ok := c.orbit.Center(); !ok {
			return fmt.Errorf("%w: %w", ErrPersonNotFound, ErrNoCenter)
		}
		src := c.people.Get(name1)
		if src == nil {
			src = c.placeholder(name1)
		}
		dst := c.people.Get(name2)
		created := dst == nil
		if created {
			dst = c.placeholder(name2)
			if name2 == "" || dst == nil || dst.Name() != name2 {
				return fmt.Errorf("%w: target %q", kb.ErrPersonInvalid, name2)
			}
		}

		var err error
		if angle != nil {
			err = c.orbit.AddRelationAt(src, dst, weight, *angle)
		} else {
			err = c.orbit.AddRelation(src, dst, weight)
		}
		if err != nil {
			return err
		}
		if created {
			if err := c.people.Add(dst); err != nil {
				_ = c.orbit.RemoveEntity(dst)
				return err
			}
		}

		level, _ := c.orbit.LevelOf(dst)
		log.Debug(ctx, "relation added",
			logging.String("source", name1),
			logging.String("target", name2),
			logging.Float64("weight", weight),
			logging.Int("target_level", level),
			logging.Bool("target_created", created))
		return nil
	}, attribute.String("circle.source", name1), attribute.String("circle.target", name2))
}

// RemoveRelation deletes the relation from name1 to name2 and reports
// whether it existed. People left without a path from the center are
// evicted from the circle.
func (c *Circle) RemoveRelation(ctx context.Context, name1, name2 string) (bool, error) {
	removed := false
	err := c.mutate(ctx, "RemoveRelation", func(ctx context.Context, log logging.Logger) error {
		src := c.people.Get(name1)
		if src == nil {
			return notFound(name1)
		}
		dst := c.people.Get(name2)
		if dst == nil {
			return notFound(name2)
		}
		ok, err := c.orbit.RemoveRelation(src, dst)
		if err != nil {
			return err
		}
		removed = ok
		log.Debug(ctx, "relation removal",
			logging.String("source", name1),
			logging.String("target", name2),
			logging.Bool("removed", ok))
		return nil
	}, attribute.String("circle.source", name1), attribute.String("circle.target", name2))
	return removed, err
}

// RemovePerson takes name off the circle together with its relations.
func (c *Circle) RemovePerson(ctx context.Context, name string) error {
	return c.mutate(ctx, "RemovePerson", func(ctx context.Context, log logging.Logger) error {
		p := c.people.Get(name)
		if p == nil {
			return notFound(name)
		}
		if err := c.orbit.RemoveEntity(p); err != nil {
			return err
		}
		if err := c.people.Remove(name); err != nil {
			return err
		}
		log.Info(ctx, "person removed", logging.String("person", name))
		return nil
	}, attribute.String("circle.person", name))
}

// DeclareTrack registers an empty track at level.
func (c *Circle) DeclareTrack(ctx context.Context, level, capacityHint int) error {
	return c.mutate(ctx, "DeclareTrack", func(ctx context.Context, log logging.Logger) error {
		return c.orbit.DeclareTrack(level, capacityHint)
	}, attribute.Int("circle.level", level))
}

// ChangeAngle moves name to a new angle on its current track.
func (c *Circle) ChangeAngle(ctx context.Context, name string, angle float64) error {
	return c.mutate(ctx, "ChangeAngle", func(ctx context.Context, log logging.Logger) error {
		p := c.people.Get(name)
		if p == nil {
			return notFound(name)
		}
		return c.orbit.Reposition(p, angle)
	}, attribute.String("circle.person", name))
}

//
// ---------- Queries ----------
//

// Center returns the center user.
func (c *Circle) Center() (*model.Person, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.orbit.Center()
}

// Person returns the person called name, or nil.
func (c *Circle) Person(name string) *model.Person {
	return c.people.Get(name)
}

// Names returns the names of everyone on the circle, sorted.
func (c *Circle) Names() []string {
	return c.people.Names()
}

// Len returns the number of people on the circle, the center included.
func (c *Circle) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.orbit.Len()
}

// TrackCount returns the number of declared tracks.
func (c *Circle) TrackCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.orbit.TrackCount()
}

// Levels returns the declared track levels in ascending order.
func (c *Circle) Levels() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.orbit.Levels()
}

// Level returns the track level of name.
func (c *Circle) Level(name string) (int, error) {
	pos, err := c.Position(name)
	if err != nil {
		return core.Unreachable, err
	}
	return pos.Level, nil
}

// Position returns the position of name.
func (c *Circle) Position(name string) (model.Position, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p := c.people.Get(name)
	if p == nil {
		return model.Position{}, notFound(name)
	}
	pos, err := c.orbit.PositionOf(p)
	return pos, Translate(err)
}

// PeopleAtLevel returns the names on a track in placement order.
func (c *Circle) PeopleAtLevel(level int) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	members := c.orbit.EntitiesAt(level)
	out := make([]string, 0, len(members))
	for _, p := range members {
		out = append(out, p.Name())
	}
	return out
}

// Relations returns the outgoing relations of name keyed by target name.
// Unknown names yield an empty map.
func (c *Circle) Relations(name string) map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p := c.people.Get(name)
	if p == nil {
		return map[string]float64{}
	}
	m, err := c.orbit.Targets(p)
	if err != nil {
		return map[string]float64{}
	}
	return m
}

// Sources returns the incoming relations of name keyed by source name.
// Unknown names yield an empty map.
func (c *Circle) Sources(name string) map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p := c.people.Get(name)
	if p == nil {
		return map[string]float64{}
	}
	m, err := c.orbit.Sources(p)
	if err != nil {
		return map[string]float64{}
	}
	return m
}

// Diffusion returns the sum of name's outgoing relation weights.
func (c *Circle) Diffusion(name string) (float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p := c.people.Get(name)
	if p == nil {
		return 0, notFound(name)
	}
	d, err := c.orbit.Diffusion(p)
	return d, Translate(err)
}

// LogicalDistance returns the hop distance from name1 to name2, or
// core.Unreachable when no directed path exists.
func (c *Circle) LogicalDistance(name1, name2 string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p1, p2, err := c.pair(name1, name2)
	if err != nil {
		return core.Unreachable, err
	}
	d, err := c.orbit.LogicalDistance(p1, p2)
	return d, Translate(err)
}

// PhysicalDistance returns the position-derived distance from name1 to
// name2. See core.Orbit.PhysicalDistance for the formula.
func (c *Circle) PhysicalDistance(name1, name2 string) (float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p1, p2, err := c.pair(name1, name2)
	if err != nil {
		return 0, err
	}
	d, err := c.orbit.PhysicalDistance(p1, p2)
	return d, Translate(err)
}

// Check verifies that every level matches the current relations and that
// the name table mirrors the orbit.
func (c *Circle) Check() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.orbit.Check(); err != nil {
		return err
	}
	if got, want := c.people.Len(), c.orbit.Len(); got != want {
		return fmt.Errorf("%w: %d names for %d people on the orbit", core.ErrInconsistent, got, want)
	}
	for _, p := range c.orbit.Entities() {
		if c.people.Get(p.Name()) != p {
			return fmt.Errorf("%w: %q missing from the name table", core.ErrInconsistent, p.Name())
		}
	}
	return nil
}

//
// ---------- Helpers ----------
//

// mutate runs fn under the write lock inside a span, then settles
// evictions, metrics and logging for the operation.
func (c *Circle) mutate(ctx context.Context, op string, fn func(context.Context, logging.Logger) error, attrs ...attribute.KeyValue) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, log := logging.WithRequestLogger(ctx, c.log)
	log = log.With(logging.String("operation", op))
	ctx, span := observability.StartSpan(ctx, c.tracer, op, attrs...)
	start := time.Now()

	c.mu.Lock()
	err := Translate(fn(ctx, log))
	evicted := c.settleEvictionsLocked(ctx, log)
	c.updateMetricsLocked()
	c.mu.Unlock()

	if evicted > 0 {
		span.SetAttributes(attribute.Int("circle.evicted", evicted))
	}
	if err != nil {
		log.Warn(ctx, "circle operation failed", logging.Err(err))
	}
	observability.EndSpan(span, err)
	if c.metrics != nil {
		c.metrics.ObserveOperation(op, err, time.Since(start))
	}
	return err
}

// settleEvictionsLocked drops evicted people from the name table.
func (c *Circle) settleEvictionsLocked(ctx context.Context, log logging.Logger) int {
	n := len(c.pending)
	for _, p := range c.pending {
		if err := c.people.Remove(p.Name()); err != nil && !errors.Is(err, kb.ErrPersonNotFound) {
			log.Error(ctx, "failed to drop evicted person", logging.String("person", p.Name()), logging.Err(err))
			continue
		}
		log.Info(ctx, "person evicted", logging.String("person", p.Name()))
	}
	c.pending = c.pending[:0]
	if n > 0 && c.metrics != nil {
		c.metrics.AddEvictions(n)
	}
	return n
}

func (c *Circle) updateMetricsLocked() {
	if c.metrics == nil {
		return
	}
	c.metrics.SetOrbitCounts(c.orbit.Len(), c.orbit.RelationCount(), c.orbit.TrackCount())
}

func (c *Circle) pair(name1, name2 string) (*model.Person, *model.Person, error) {
	p1 := c.people.Get(name1)
	if p1 == nil {
		return nil, nil, notFound(name1)
	}
	p2 := c.people.Get(name2)
	if p2 == nil {
		return nil, nil, notFound(name2)
	}
	return p1, p2, nil
}

func nameOf(p *model.Person) string {
	if p == nil {
		return ""
	}
	return p.Name()
}
