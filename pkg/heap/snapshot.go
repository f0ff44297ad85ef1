package heap

import (
	"reflect"
)

// Snapshot is a Reflector over a fixed universe: every object reachable
// from its roots when the first backward query arrives.
//
// Go offers no way to enumerate who points at an object, so referrers are
// answered from a reverse index. Building it is the one full scan of the
// universe; every later batch is served from the index. The universe must
// not change while a check runs.
type Snapshot struct {
	walker    *Walker
	roots     []reflect.Value
	referrers map[Key][]reflect.Value
	size      int
}

// NewSnapshot creates a snapshot reflector over the given roots.
// A nil walker gets a fresh one.
func NewSnapshot(walker *Walker, roots ...any) *Snapshot {
	if walker == nil {
		walker = NewWalker()
	}
	values := make([]reflect.Value, 0, len(roots))
	for _, r := range roots {
		values = append(values, reflect.ValueOf(r))
	}
	return &Snapshot{
		walker: walker,
		roots:  values,
	}
}

// Referents returns the objects each of objs references directly
func (s *Snapshot) Referents(objs []reflect.Value) ([][]reflect.Value, error) {
	return s.walker.Referents(objs)
}

// Referrers returns, for each of objs, the objects of the universe that
// reference it directly. Objects outside the universe have no referrers.
func (s *Snapshot) Referrers(objs []reflect.Value) ([][]reflect.Value, error) {
	if s.referrers == nil {
		s.index()
	}

	out := make([][]reflect.Value, len(objs))
	for i, v := range objs {
		if k, ok := KeyOf(v); ok {
			out[i] = s.referrers[k]
		}
	}
	return out, nil
}

// Len returns the number of objects in the universe, indexing it if needed
func (s *Snapshot) Len() int {
	if s.referrers == nil {
		s.index()
	}
	return s.size
}

// index walks the universe breadth-first and records every reference
// backwards
func (s *Snapshot) index() {
	s.referrers = make(map[Key][]reflect.Value)
	seen := make(map[Key]bool)
	queue := make([]reflect.Value, 0, len(s.roots))

	enqueue := func(v reflect.Value) {
		k, ok := KeyOf(v)
		if !ok || seen[k] {
			return
		}
		seen[k] = true
		queue = append(queue, v)
	}

	for _, root := range s.walker.Roots(s.roots) {
		enqueue(root)
	}

	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]

		for _, r := range s.walker.referentsOf(v) {
			k, _ := KeyOf(r)
			s.referrers[k] = append(s.referrers[k], v)
			enqueue(r)
		}
	}

	s.size = len(seen)
}
