// Package track keeps per-level membership and positions for orbit entities.
package track

import (
	"errors"
	"fmt"
	"sort"

	"github.com/signalsfoundry/social-orbit/model"
)

var (
	ErrTrackExists   = errors.New("track already exists")
	ErrNoSuchTrack   = errors.New("no such track")
	ErrInvalidLevel  = errors.New("invalid track level")
	ErrUnknownEntity = errors.New("entity is not on any track")
)

// Track is one concentric level of the orbit. Members keep insertion order.
type Track struct {
	Level    int
	Capacity int

	members []model.Handle
}

// Registry maps levels to tracks and handles to positions. Level 0 holds the
// center and exists implicitly; every other level must be declared before
// anything is placed on it.
//
// Registry is not safe for concurrent use.
type Registry struct {
	tracks    map[int]*Track
	positions map[model.Handle]model.Position
}

// NewRegistry creates a registry containing only the implicit center level.
func NewRegistry() *Registry {
	return &Registry{
		tracks:    map[int]*Track{0: {Level: 0, Capacity: 1}},
		positions: make(map[model.Handle]model.Position),
	}
}

// Declare registers a new level. capacityHint only sizes the member slice.
func (r *Registry) Declare(level, capacityHint int) error {
	if level < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidLevel, level)
	}
	if _, exists := r.tracks[level]; exists {
		return fmt.Errorf("%w: level %d", ErrTrackExists, level)
	}
	if capacityHint < 0 {
		capacityHint = 0
	}
	r.tracks[level] = &Track{
		Level:    level,
		Capacity: capacityHint,
		members:  make([]model.Handle, 0, capacityHint),
	}
	return nil
}

// Has reports whether level can receive entities.
func (r *Registry) Has(level int) bool {
	_, ok := r.tracks[level]
	return ok
}

// Levels returns the declared levels (>= 1) in ascending order.
func (r *Registry) Levels() []int {
	out := make([]int, 0, len(r.tracks)-1)
	for level := range r.tracks {
		if level == 0 {
			continue
		}
		out = append(out, level)
	}
	sort.Ints(out)
	return out
}

// Count returns the number of declared tracks, not counting the center level.
func (r *Registry) Count() int { return len(r.tracks) - 1 }

// Place inserts h at pos, or moves it there. Moving within the same level
// updates the angle and keeps the entity's place in the member order.
func (r *Registry) Place(h model.Handle, pos model.Position) error {
	if pos.Level < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLevel, pos.Level)
	}
	dst, ok := r.tracks[pos.Level]
	if !ok {
		return fmt.Errorf("%w: level %d", ErrNoSuchTrack, pos.Level)
	}

	if old, placed := r.positions[h]; placed {
		if old.Level == pos.Level {
			r.positions[h] = pos
			return nil
		}
		r.detach(h, old.Level)
	}
	dst.members = append(dst.members, h)
	r.positions[h] = pos
	return nil
}

// Remove drops h from its track and forgets its position.
func (r *Registry) Remove(h model.Handle) error {
	pos, ok := r.positions[h]
	if !ok {
		return fmt.Errorf("%w: handle %d", ErrUnknownEntity, h)
	}
	r.detach(h, pos.Level)
	delete(r.positions, h)
	return nil
}

// Contains reports whether h currently has a position.
func (r *Registry) Contains(h model.Handle) bool {
	_, ok := r.positions[h]
	return ok
}

// PositionOf returns the stored position of h.
func (r *Registry) PositionOf(h model.Handle) (model.Position, error) {
	pos, ok := r.positions[h]
	if !ok {
		return model.Position{}, fmt.Errorf("%w: handle %d", ErrUnknownEntity, h)
	}
	return pos, nil
}

// At returns a snapshot of the members of level in insertion order. Unknown
// levels yield nil.
func (r *Registry) At(level int) []model.Handle {
	t, ok := r.tracks[level]
	if !ok {
		return nil
	}
	return append([]model.Handle(nil), t.members...)
}

// Len returns the number of placed entities, the center included.
func (r *Registry) Len() int { return len(r.positions) }

func (r *Registry) detach(h model.Handle, level int) {
	t, ok := r.tracks[level]
	if !ok {
		return
	}
	for i, m := range t.members {
		if m == h {
			t.members = append(t.members[:i], t.members[i+1:]...)
			return
		}
	}
}
