// Package relation stores directed, weighted relations between orbit entities.
package relation

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/social-orbit/model"
)

// Unreachable is returned by hop-distance queries when no directed path exists.
const Unreachable = -1

// ErrUnknownEntity indicates a handle that was never added to the graph.
var ErrUnknownEntity = errors.New("unknown entity")

// Graph is a directed adjacency store with at most one weight per ordered
// pair of handles. Outgoing and incoming edges are indexed separately so
// both directions can be listed without a scan.
//
// Graph is not safe for concurrent use.
type Graph struct {
	out   map[model.Handle]map[model.Handle]float64
	in    map[model.Handle]map[model.Handle]float64
	edges int
}

// NewGraph creates an empty relation graph.
func NewGraph() *Graph {
	return &Graph{
		out: make(map[model.Handle]map[model.Handle]float64),
		in:  make(map[model.Handle]map[model.Handle]float64),
	}
}

//
// ---------- Nodes ----------
//

// AddNode registers h. Adding a known handle is a no-op.
func (g *Graph) AddNode(h model.Handle) {
	if _, ok := g.out[h]; ok {
		return
	}
	g.out[h] = make(map[model.Handle]float64)
	g.in[h] = make(map[model.Handle]float64)
}

// HasNode reports whether h is known to the graph.
func (g *Graph) HasNode(h model.Handle) bool {
	_, ok := g.out[h]
	return ok
}

// RemoveNode drops h together with every edge that starts or ends at it.
// It reports whether h was present.
func (g *Graph) RemoveNode(h model.Handle) bool {
	targets, ok := g.out[h]
	if !ok {
		return false
	}
	for dst := range targets {
		delete(g.in[dst], h)
		g.edges--
	}
	// a self-loop was already dropped from g.in[h] above
	for src := range g.in[h] {
		delete(g.out[src], h)
		g.edges--
	}
	delete(g.out, h)
	delete(g.in, h)
	return true
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.out) }

// EdgeCount returns the number of directed edges.
func (g *Graph) EdgeCount() int { return g.edges }

//
// ---------- Edges ----------
//

// AddOrUpdate inserts the edge src -> dst or overwrites its weight. Both
// endpoints must already be known; the graph never adds nodes implicitly.
func (g *Graph) AddOrUpdate(src, dst model.Handle, weight float64) error {
	if err := g.require(src, dst); err != nil {
		return err
	}
	if _, exists := g.out[src][dst]; !exists {
		g.edges++
	}
	g.out[src][dst] = weight
	g.in[dst][src] = weight
	return nil
}

// Remove deletes the edge src -> dst and reports whether it existed.
func (g *Graph) Remove(src, dst model.Handle) (bool, error) {
	if err := g.require(src, dst); err != nil {
		return false, err
	}
	if _, exists := g.out[src][dst]; !exists {
		return false, nil
	}
	delete(g.out[src], dst)
	delete(g.in[dst], src)
	g.edges--
	return true, nil
}

// Weight returns the weight of src -> dst, if such an edge exists.
func (g *Graph) Weight(src, dst model.Handle) (float64, bool) {
	w, ok := g.out[src][dst]
	return w, ok
}

// Targets returns a copy of the outgoing relations of h.
func (g *Graph) Targets(h model.Handle) (map[model.Handle]float64, error) {
	if err := g.require(h); err != nil {
		return nil, err
	}
	return copyWeights(g.out[h]), nil
}

// Sources returns a copy of the incoming relations of h.
func (g *Graph) Sources(h model.Handle) (map[model.Handle]float64, error) {
	if err := g.require(h); err != nil {
		return nil, err
	}
	return copyWeights(g.in[h]), nil
}

//
// ---------- Paths ----------
//

// ShortestHops returns the minimum number of directed edges on a path from
// -> to, or Unreachable. Weights do not influence the result.
func (g *Graph) ShortestHops(from, to model.Handle) (int, error) {
	if err := g.require(from, to); err != nil {
		return Unreachable, err
	}
	if from == to {
		return 0, nil
	}

	dist := map[model.Handle]int{from: 0}
	queue := []model.Handle{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next := range g.out[cur] {
			if _, seen := dist[next]; seen {
				continue
			}
			if next == to {
				return dist[cur] + 1, nil
			}
			dist[next] = dist[cur] + 1
			queue = append(queue, next)
		}
	}
	return Unreachable, nil
}

// Distances runs a single breadth-first search from `from` and returns the
// hop count of every reachable node, `from` itself included at 0.
func (g *Graph) Distances(from model.Handle) (map[model.Handle]int, error) {
	if err := g.require(from); err != nil {
		return nil, err
	}

	dist := map[model.Handle]int{from: 0}
	queue := []model.Handle{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next := range g.out[cur] {
			if _, seen := dist[next]; seen {
				continue
			}
			dist[next] = dist[cur] + 1
			queue = append(queue, next)
		}
	}
	return dist, nil
}

//
// ---------- Helpers ----------
//

func (g *Graph) require(handles ...model.Handle) error {
	for _, h := range handles {
		if _, ok := g.out[h]; !ok {
			return fmt.Errorf("%w: handle %d", ErrUnknownEntity, h)
		}
	}
	return nil
}

func copyWeights(m map[model.Handle]float64) map[model.Handle]float64 {
	out := make(map[model.Handle]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
