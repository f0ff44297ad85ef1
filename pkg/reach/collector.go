// Package reach discovers every object reachable from a set of seeds,
// breadth-first, keeping excluded and scratch objects out of the result.
package reach

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/ritzau/refcycles/pkg/heap"
	"github.com/ritzau/refcycles/pkg/identity"
	"github.com/ritzau/refcycles/pkg/ignore"
	"github.com/ritzau/refcycles/pkg/logging"
)

// ErrReflectionUnavailable means the reflector could not answer a query.
// A partial reachable set is never returned.
var ErrReflectionUnavailable = errors.New("reflection unavailable")

// Set is the filtered reachable set, in discovery order
type Set struct {
	ids    []identity.ID
	values []reflect.Value
	index  map[identity.ID]int
}

// Len returns the number of objects in the set
func (s *Set) Len() int {
	return len(s.ids)
}

// IDs returns the members in discovery order
func (s *Set) IDs() []identity.ID {
	return s.ids
}

// Values returns the member objects, parallel to IDs
func (s *Set) Values() []reflect.Value {
	return s.values
}

// Contains reports whether id is a member
func (s *Set) Contains(id identity.ID) bool {
	_, ok := s.index[id]
	return ok
}

// Value returns the object of member id
func (s *Set) Value(id identity.ID) (reflect.Value, bool) {
	i, ok := s.index[id]
	if !ok {
		return reflect.Value{}, false
	}
	return s.values[i], true
}

// Collector runs the breadth-first discovery of one check
type Collector struct {
	Edges    heap.Edges
	Policy   ignore.Policy
	IDs      *identity.Assigner
	Registry *ignore.Registry
	Walker   *heap.Walker // Expands seeds passed by value

	ignored  map[identity.ID]struct{}
	admitted map[identity.ID]struct{}
}

// NewCollector creates a collector. A nil policy excludes nothing, a nil
// registry gets a fresh one.
func NewCollector(edges heap.Edges, policy ignore.Policy, ids *identity.Assigner, registry *ignore.Registry) *Collector {
	if policy == nil {
		policy = ignore.None
	}
	if registry == nil {
		registry = ignore.NewRegistry()
	}
	return &Collector{
		Edges:    edges,
		Policy:   policy,
		IDs:      ids,
		Registry: registry,
		Walker:   heap.NewWalker(),
	}
}

// Collect explores outward from seeds, one reflector query per layer, and
// returns every admitted object including the seeds themselves. A seed that
// is not an object (a struct passed by value) is replaced by the objects it
// holds.
func (c *Collector) Collect(ctx context.Context, seeds []reflect.Value) (*Set, error) {
	c.ignored = make(map[identity.ID]struct{})
	c.admitted = make(map[identity.ID]struct{})
	c.Registry.Register(c, c.ignored, c.admitted)

	if c.Walker == nil {
		c.Walker = heap.NewWalker()
	}
	set := &Set{index: make(map[identity.ID]int)}
	candidates := c.Walker.Roots(seeds)

	for layer := 0; ; layer++ {
		if err := c.shadow(candidates); err != nil {
			return nil, err
		}

		front := make([]reflect.Value, 0, len(candidates))
		for _, v := range candidates {
			id, ok, err := c.admit(v)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			set.index[id] = len(set.ids)
			set.ids = append(set.ids, id)
			set.values = append(set.values, v)
			front = append(front, v)
		}

		logging.TraceContext(ctx, "reach layer",
			"layer", layer, "candidates", len(candidates), "admitted", len(front), "ignored", len(c.ignored))

		if len(front) == 0 {
			break
		}

		next, err := c.Edges.Adjacent(front)
		if err != nil {
			return nil, fmt.Errorf("%w: %s edges of layer %d: %w", ErrReflectionUnavailable, c.Edges.Direction(), layer, err)
		}
		if len(next) != len(front) {
			return nil, fmt.Errorf("%w: reflector answered %d of %d objects", ErrReflectionUnavailable, len(next), len(front))
		}
		for _, s := range c.Edges.Scratch() {
			c.Registry.RegisterValue(s)
		}

		candidates = flatten(next)
	}

	return c.prune(set), nil
}

// shadow moves the shadows of every candidate into the ignore set before
// any candidate of the layer is admitted
func (c *Collector) shadow(candidates []reflect.Value) error {
	for _, v := range candidates {
		for _, s := range c.Policy.Shadows(v) {
			id, ok, err := c.IDs.Assign(s)
			if err != nil {
				return err
			}
			if ok {
				c.ignored[id] = struct{}{}
			}
		}
	}
	return nil
}

// admit decides whether v becomes a node. Excluded candidates join the
// ignore set so later layers skip them without asking the policy again.
func (c *Collector) admit(v reflect.Value) (identity.ID, bool, error) {
	id, ok, err := c.IDs.Assign(v)
	if err != nil || !ok {
		return 0, false, err
	}
	if _, seen := c.admitted[id]; seen {
		return 0, false, nil
	}
	if _, skip := c.ignored[id]; skip {
		return 0, false, nil
	}
	if c.Policy.Exclude(v) || c.Registry.Contains(v) {
		c.ignored[id] = struct{}{}
		return 0, false, nil
	}
	c.admitted[id] = struct{}{}
	return id, true, nil
}

// prune drops members that were shadowed or registered after admission
func (c *Collector) prune(set *Set) *Set {
	out := &Set{
		ids:    make([]identity.ID, 0, len(set.ids)),
		values: make([]reflect.Value, 0, len(set.values)),
		index:  make(map[identity.ID]int, len(set.ids)),
	}
	for i, id := range set.ids {
		v := set.values[i]
		if _, skip := c.ignored[id]; skip || c.Registry.Contains(v) {
			continue
		}
		out.index[id] = len(out.ids)
		out.ids = append(out.ids, id)
		out.values = append(out.values, v)
	}
	return out
}

// Ignored reports whether id ended up in the ignore set of the last run
func (c *Collector) Ignored(id identity.ID) bool {
	_, ok := c.ignored[id]
	return ok
}

func flatten(batches [][]reflect.Value) []reflect.Value {
	n := 0
	for _, b := range batches {
		n += len(b)
	}
	out := make([]reflect.Value, 0, n)
	for _, b := range batches {
		out = append(out, b...)
	}
	return out
}
