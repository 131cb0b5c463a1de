package core

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/signalsfoundry/social-orbit/model"
	"github.com/signalsfoundry/social-orbit/relation"
	"github.com/signalsfoundry/social-orbit/track"
)

// Unreachable is the logical distance between entities with no directed path.
const Unreachable = relation.Unreachable

var (
	ErrUnknownEntity = errors.New("entity is not in the orbit")
	// ErrUnknownSource also matches ErrUnknownEntity.
	ErrUnknownSource = fmt.Errorf("relation source: %w", ErrUnknownEntity)
	ErrNoSuchTrack   = track.ErrNoSuchTrack
	ErrTrackExists   = track.ErrTrackExists
	ErrInvalidLevel  = track.ErrInvalidLevel
	ErrInconsistent  = errors.New("orbit state is inconsistent")
)

// Orbit arranges entities on concentric tracks around a single center. An
// entity's level always equals its shortest directed hop distance from the
// center, following relations from source to target. Entities that lose
// every path from the center are evicted.
//
// Orbit is not safe for concurrent use; hosts that share one across
// goroutines must guard the whole structure with a single lock.
type Orbit[E model.Entity] struct {
	graph  *relation.Graph
	tracks *track.Registry

	handles  map[E]model.Handle
	entities map[model.Handle]E
	next     model.Handle

	center    model.Handle
	hasCenter bool

	angle func() float64

	subs   []evictSub[E]
	nextID int
}

type evictSub[E model.Entity] struct {
	id int
	fn func(E)
}

type options struct {
	angle func() float64
}

// Option customises Orbit construction.
type Option func(*options)

// WithAngleSource replaces the pseudo-random default angle picker.
func WithAngleSource(fn func() float64) Option {
	return func(o *options) {
		if fn != nil {
			o.angle = fn
		}
	}
}

// WithSeed makes default angles deterministic.
func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.angle = randomAngles(seed)
	}
}

// NewOrbit constructs an empty orbit with no center.
func NewOrbit[E model.Entity](opts ...Option) *Orbit[E] {
	cfg := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.angle == nil {
		cfg.angle = randomAngles(uint64(time.Now().UnixNano()))
	}
	return &Orbit[E]{
		graph:    relation.NewGraph(),
		tracks:   track.NewRegistry(),
		handles:  make(map[E]model.Handle),
		entities: make(map[model.Handle]E),
		next:     1,
		angle:    cfg.angle,
	}
}

// randomAngles yields whole degrees in [0, 360).
func randomAngles(seed uint64) func() float64 {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return func() float64 {
		return float64(rng.IntN(360))
	}
}

//
// ---------- Center and tracks ----------
//

// SetCenter installs e at level 0. It returns false and changes nothing
// when a center already exists.
func (o *Orbit[E]) SetCenter(e E) bool {
	if o.hasCenter {
		return false
	}
	h := o.register(e)
	// level 0 always exists in the registry
	_ = o.tracks.Place(h, model.Position{Level: 0, Angle: 0})
	o.center = h
	o.hasCenter = true
	return true
}

// Center returns the center entity, if any.
func (o *Orbit[E]) Center() (E, bool) {
	if !o.hasCenter {
		var zero E
		return zero, false
	}
	return o.entities[o.center], true
}

// DeclareTrack registers a level >= 1 for placement.
func (o *Orbit[E]) DeclareTrack(level, capacityHint int) error {
	return o.tracks.Declare(level, capacityHint)
}

// TrackCount returns the number of declared tracks.
func (o *Orbit[E]) TrackCount() int { return o.tracks.Count() }

// Levels returns the declared track levels in ascending order.
func (o *Orbit[E]) Levels() []int { return o.tracks.Levels() }

//
// ---------- Relations ----------
//

// AddRelation records src -> dst with the given weight, placing dst on the
// orbit if it is new. A new target gets a default angle.
func (o *Orbit[E]) AddRelation(src, dst E, weight float64) error {
	return o.addRelation(src, dst, weight, o.angle)
}

// AddRelationAt behaves like AddRelation but places a new target at angle.
// The angle is ignored when dst is already on the orbit.
func (o *Orbit[E]) AddRelationAt(src, dst E, weight, angle float64) error {
	return o.addRelation(src, dst, weight, func() float64 { return angle })
}

func (o *Orbit[E]) addRelation(src, dst E, weight float64, pick func() float64) error {
	sh, ok := o.handles[src]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSource, src.Name())
	}
	if sh == o.center {
		o.ensureTrack(1)
	}

	dh, known := o.handles[dst]
	var angle float64
	if !known {
		// Bootstrap on track 1; reconcile moves it to its true level.
		o.ensureTrack(1)
		angle = pick()
		dh = o.register(dst)
		if err := o.tracks.Place(dh, model.Position{Level: 1, Angle: angle}); err != nil {
			o.unregister(dh)
			return err
		}
	}

	if err := o.graph.AddOrUpdate(sh, dh, weight); err != nil {
		return err
	}
	o.reconcile()

	if !known {
		// A first placement keeps its chosen angle even if the bootstrap
		// level turned out to be wrong.
		pos, err := o.tracks.PositionOf(dh)
		if err == nil && pos.Angle != angle {
			pos.Angle = angle
			_ = o.tracks.Place(dh, pos)
		}
	}
	return nil
}

// RemoveRelation deletes src -> dst and reports whether it existed. Levels
// are recomputed afterwards; entities left without a path from the center
// are evicted.
func (o *Orbit[E]) RemoveRelation(src, dst E) (bool, error) {
	sh, err := o.handleOf(src)
	if err != nil {
		return false, err
	}
	dh, err := o.handleOf(dst)
	if err != nil {
		return false, err
	}
	removed, err := o.graph.Remove(sh, dh)
	if err != nil || !removed {
		return false, err
	}
	o.reconcile()
	return true, nil
}

// Weight returns the weight of src -> dst.
func (o *Orbit[E]) Weight(src, dst E) (float64, bool) {
	sh, ok := o.handles[src]
	if !ok {
		return 0, false
	}
	dh, ok := o.handles[dst]
	if !ok {
		return 0, false
	}
	return o.graph.Weight(sh, dh)
}

// Targets returns the outgoing relations of e keyed by target name.
func (o *Orbit[E]) Targets(e E) (map[string]float64, error) {
	h, err := o.handleOf(e)
	if err != nil {
		return nil, err
	}
	m, err := o.graph.Targets(h)
	if err != nil {
		return nil, err
	}
	return o.byName(m), nil
}

// Sources returns the incoming relations of e keyed by source name.
func (o *Orbit[E]) Sources(e E) (map[string]float64, error) {
	h, err := o.handleOf(e)
	if err != nil {
		return nil, err
	}
	m, err := o.graph.Sources(h)
	if err != nil {
		return nil, err
	}
	return o.byName(m), nil
}

// RelationCount returns the number of directed relations.
func (o *Orbit[E]) RelationCount() int { return o.graph.EdgeCount() }

//
// ---------- Entities ----------
//

// RemoveEntity takes e off the orbit together with every relation that
// starts or ends at it. Entities whose only path from the center ran
// through e are evicted. Removing the center empties the orbit.
func (o *Orbit[E]) RemoveEntity(e E) error {
	h, err := o.handleOf(e)
	if err != nil {
		return err
	}
	if h == o.center {
		o.hasCenter = false
		o.center = 0
	}
	o.drop(h)
	o.reconcile()
	return nil
}

// Reposition changes the angle of e without touching its level.
func (o *Orbit[E]) Reposition(e E, angle float64) error {
	h, err := o.handleOf(e)
	if err != nil {
		return err
	}
	pos, err := o.tracks.PositionOf(h)
	if err != nil {
		return err
	}
	pos.Angle = angle
	return o.tracks.Place(h, pos)
}

// Contains reports whether e is on the orbit.
func (o *Orbit[E]) Contains(e E) bool {
	_, ok := o.handles[e]
	return ok
}

// Len returns the number of entities on the orbit, the center included.
func (o *Orbit[E]) Len() int { return len(o.handles) }

// PositionOf returns the current position of e.
func (o *Orbit[E]) PositionOf(e E) (model.Position, error) {
	h, err := o.handleOf(e)
	if err != nil {
		return model.Position{}, err
	}
	return o.tracks.PositionOf(h)
}

// LevelOf returns the current level of e.
func (o *Orbit[E]) LevelOf(e E) (int, error) {
	pos, err := o.PositionOf(e)
	if err != nil {
		return Unreachable, err
	}
	return pos.Level, nil
}

// EntitiesAt returns the entities on level in placement order.
func (o *Orbit[E]) EntitiesAt(level int) []E {
	handles := o.tracks.At(level)
	out := make([]E, 0, len(handles))
	for _, h := range handles {
		out = append(out, o.entities[h])
	}
	return out
}

// Entities returns every entity: the center first, then each track from the
// innermost outwards.
func (o *Orbit[E]) Entities() []E {
	out := make([]E, 0, len(o.handles))
	for _, h := range o.placed() {
		out = append(out, o.entities[h])
	}
	return out
}

// OnEvict registers fn to be called for every entity evicted because it lost
// its last path from the center. Callbacks run after the mutation that
// caused the eviction has completed, in eviction order. The returned
// function removes the subscription.
func (o *Orbit[E]) OnEvict(fn func(E)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	id := o.nextID
	o.nextID++
	o.subs = append(o.subs, evictSub[E]{id: id, fn: fn})
	return func() {
		for i, s := range o.subs {
			if s.id == id {
				o.subs = append(o.subs[:i], o.subs[i+1:]...)
				return
			}
		}
	}
}

//
// ---------- Helpers ----------
//

func (o *Orbit[E]) register(e E) model.Handle {
	if h, ok := o.handles[e]; ok {
		return h
	}
	h := o.next
	o.next++
	o.handles[e] = h
	o.entities[h] = e
	o.graph.AddNode(h)
	return h
}

func (o *Orbit[E]) unregister(h model.Handle) {
	e, ok := o.entities[h]
	if !ok {
		return
	}
	o.graph.RemoveNode(h)
	delete(o.handles, e)
	delete(o.entities, h)
}

// drop removes h from every internal structure.
func (o *Orbit[E]) drop(h model.Handle) {
	_ = o.tracks.Remove(h)
	o.unregister(h)
}

func (o *Orbit[E]) handleOf(e E) (model.Handle, error) {
	h, ok := o.handles[e]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownEntity, e.Name())
	}
	return h, nil
}

func (o *Orbit[E]) ensureTrack(level int) {
	if !o.tracks.Has(level) {
		_ = o.tracks.Declare(level, 1)
	}
}

func (o *Orbit[E]) byName(m map[model.Handle]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for h, w := range m {
		out[o.entities[h].Name()] = w
	}
	return out
}

// placed lists every handle on the orbit, center first, then by level and
// placement order.
func (o *Orbit[E]) placed() []model.Handle {
	out := make([]model.Handle, 0, o.tracks.Len())
	out = append(out, o.tracks.At(0)...)
	for _, level := range o.tracks.Levels() {
		out = append(out, o.tracks.At(level)...)
	}
	return out
}
