package core

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/social-orbit/model"
	"github.com/signalsfoundry/social-orbit/relation"
)

// reconcile recomputes every level with one breadth-first search from the
// center. Entities whose level changed move to the new track with a fresh
// angle; unreachable ones are evicted. Subscribers are notified last.
func (o *Orbit[E]) reconcile() {
	var dist map[model.Handle]int
	if o.hasCenter {
		// the center is always a graph node
		dist, _ = o.graph.Distances(o.center)
	}

	var evicted []E
	for _, h := range o.placed() {
		if o.hasCenter && h == o.center {
			continue
		}
		level, reachable := dist[h]
		if !reachable {
			// Edges leaving an unreachable node lie on no path from the
			// center, so dropping them cannot change other levels.
			evicted = append(evicted, o.entities[h])
			o.drop(h)
			continue
		}
		pos, err := o.tracks.PositionOf(h)
		if err != nil || pos.Level == level {
			continue
		}
		o.ensureTrack(level)
		_ = o.tracks.Place(h, model.Position{Level: level, Angle: o.angle()})
	}

	if len(evicted) == 0 {
		return
	}
	subs := append([]evictSub[E](nil), o.subs...)
	for _, e := range evicted {
		for _, s := range subs {
			s.fn(e)
		}
	}
}

// LogicalDistance returns the shortest directed hop count from a to b, or
// Unreachable. It is computed on the current graph, not read from levels.
func (o *Orbit[E]) LogicalDistance(a, b E) (int, error) {
	ah, err := o.handleOf(a)
	if err != nil {
		return Unreachable, err
	}
	bh, err := o.handleOf(b)
	if err != nil {
		return Unreachable, err
	}
	return o.graph.ShortestHops(ah, bh)
}

// PhysicalDistance derives a value from the stored positions of a and b:
//
//	|cos(level(a) * angle(a)) * (level(b) + angle(b))|
//
// The angle is passed to cos unconverted. The result is not symmetric in
// a and b and is not a metric.
func (o *Orbit[E]) PhysicalDistance(a, b E) (float64, error) {
	pa, err := o.PositionOf(a)
	if err != nil {
		return 0, err
	}
	pb, err := o.PositionOf(b)
	if err != nil {
		return 0, err
	}
	return physicalDistance(pa, pb), nil
}

func physicalDistance(p1, p2 model.Position) float64 {
	return math.Abs(math.Cos(float64(p1.Level)*p1.Angle) * (float64(p2.Level) + p2.Angle))
}

// Diffusion returns the sum of the weights of e's outgoing relations.
func (o *Orbit[E]) Diffusion(e E) (float64, error) {
	h, err := o.handleOf(e)
	if err != nil {
		return 0, err
	}
	targets, err := o.graph.Targets(h)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, w := range targets {
		sum += w
	}
	return sum, nil
}

// Check verifies that every entity sits on the track matching its current
// hop distance from the center and that the graph and tracks agree on which
// entities exist.
func (o *Orbit[E]) Check() error {
	if o.graph.Len() != len(o.handles) || o.tracks.Len() != len(o.handles) {
		return fmt.Errorf("%w: %d entities, %d graph nodes, %d positions",
			ErrInconsistent, len(o.handles), o.graph.Len(), o.tracks.Len())
	}
	if !o.hasCenter {
		if len(o.handles) != 0 {
			return fmt.Errorf("%w: %d entities without a center", ErrInconsistent, len(o.handles))
		}
		return nil
	}

	for h, e := range o.entities {
		want, err := o.graph.ShortestHops(o.center, h)
		if err != nil {
			return err
		}
		if want == relation.Unreachable {
			return fmt.Errorf("%w: %q is unreachable from the center", ErrInconsistent, e.Name())
		}
		pos, err := o.tracks.PositionOf(h)
		if err != nil {
			return err
		}
		if pos.Level != want {
			return fmt.Errorf("%w: %q on level %d, distance %d", ErrInconsistent, e.Name(), pos.Level, want)
		}
		if !contains(o.tracks.At(pos.Level), h) {
			return fmt.Errorf("%w: %q missing from track %d", ErrInconsistent, e.Name(), pos.Level)
		}
	}
	return nil
}

func contains(hs []model.Handle, h model.Handle) bool {
	for _, x := range hs {
		if x == h {
			return true
		}
	}
	return false
}
