package reach

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/ritzau/refcycles/pkg/heap"
	"github.com/ritzau/refcycles/pkg/identity"
	"github.com/ritzau/refcycles/pkg/ignore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type obj struct {
	name    string
	shadows []any
}

func (o *obj) CycleShadows() []any {
	return o.shadows
}

// fakeHeap is a reflector over an explicit adjacency table
type fakeHeap struct {
	adj     map[*obj][]*obj
	calls   int
	scratch map[int][]*obj // call number -> scratch reported after it
	last    []reflect.Value
	fail    error
}

func newFakeHeap() *fakeHeap {
	return &fakeHeap{adj: make(map[*obj][]*obj), scratch: make(map[int][]*obj)}
}

func (h *fakeHeap) link(from *obj, to ...*obj) {
	h.adj[from] = append(h.adj[from], to...)
}

func (h *fakeHeap) Referents(objs []reflect.Value) ([][]reflect.Value, error) {
	h.calls++
	if h.fail != nil {
		return nil, h.fail
	}
	h.last = nil
	for _, s := range h.scratch[h.calls] {
		h.last = append(h.last, reflect.ValueOf(s))
	}
	out := make([][]reflect.Value, len(objs))
	for i, v := range objs {
		for _, n := range h.adj[v.Interface().(*obj)] {
			out[i] = append(out[i], reflect.ValueOf(n))
		}
	}
	return out, nil
}

func (h *fakeHeap) Referrers(objs []reflect.Value) ([][]reflect.Value, error) {
	h.calls++
	out := make([][]reflect.Value, len(objs))
	for i, v := range objs {
		target := v.Interface().(*obj)
		for from, tos := range h.adj {
			for _, to := range tos {
				if to == target {
					out[i] = append(out[i], reflect.ValueOf(from))
				}
			}
		}
	}
	return out, nil
}

func (h *fakeHeap) Scratch() []reflect.Value {
	return h.last
}

func names(s *Set) []string {
	out := make([]string, 0, s.Len())
	for _, v := range s.Values() {
		out = append(out, v.Interface().(*obj).name)
	}
	return out
}

func collect(t *testing.T, h *fakeHeap, dir heap.Direction, policy ignore.Policy, seeds ...*obj) (*Set, error) {
	t.Helper()
	values := make([]reflect.Value, 0, len(seeds))
	for _, s := range seeds {
		values = append(values, reflect.ValueOf(s))
	}
	c := NewCollector(heap.EdgesFor(h, dir), policy, identity.NewAssigner(nil), nil)
	return c.Collect(context.Background(), values)
}

func TestCollect_ChainInLayerOrder(t *testing.T) {
	h := newFakeHeap()
	a, b, c, d := &obj{name: "a"}, &obj{name: "b"}, &obj{name: "c"}, &obj{name: "d"}
	h.link(a, b, c)
	h.link(b, d)
	h.link(c, d)

	set, err := collect(t, h, heap.Forward, nil, a)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c", "d"}, names(set))
	// layers: {a} {b c} {d} and one final query for d's (empty) referents
	assert.Equal(t, 3, h.calls, "one reflector call per frontier layer")
}

func TestCollect_SeedsIncludedWithoutEdges(t *testing.T) {
	h := newFakeHeap()
	x := &obj{name: "x"}

	set, err := collect(t, h, heap.Backward, nil, x)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, names(set))
}

func TestCollect_CycleTerminates(t *testing.T) {
	h := newFakeHeap()
	a, b := &obj{name: "a"}, &obj{name: "b"}
	h.link(a, b)
	h.link(b, a)

	set, err := collect(t, h, heap.Forward, nil, a, a)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names(set))
}

func TestCollect_ExcludedNotExpanded(t *testing.T) {
	h := newFakeHeap()
	a, gate, hidden := &obj{name: "a"}, &obj{name: "gate"}, &obj{name: "hidden"}
	h.link(a, gate)
	h.link(gate, hidden)

	reg := ignore.NewRegistry()
	reg.Register(gate)

	set, err := collect(t, h, heap.Forward, reg, a)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names(set))
}

func TestCollect_ShadowsExcluded(t *testing.T) {
	h := newFakeHeap()
	table := &obj{name: "table"}
	a := &obj{name: "a", shadows: []any{table}}
	b := &obj{name: "b"}
	behind := &obj{name: "behind"}
	h.link(a, table, b)
	h.link(table, behind)

	set, err := collect(t, h, heap.Forward, ignore.Shadowing{}, a)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names(set), "shadow and what only it reaches stay out")
}

func TestCollect_ShadowSeenLaterIsPruned(t *testing.T) {
	h := newFakeHeap()
	a, b := &obj{name: "a"}, &obj{name: "b"}
	// c declares a as part of itself, but a was admitted first
	c := &obj{name: "c", shadows: []any{a}}
	h.link(a, b)
	h.link(b, c)

	set, err := collect(t, h, heap.Forward, ignore.Shadowing{}, a)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, names(set))
}

func TestCollect_ScratchRegistered(t *testing.T) {
	h := newFakeHeap()
	a, b := &obj{name: "a"}, &obj{name: "b"}
	batch := &obj{name: "batch"}
	h.link(a, b)
	h.link(b, batch)
	// the reflector allocates batch while answering the first query
	h.scratch[1] = []*obj{batch}

	set, err := collect(t, h, heap.Forward, nil, a)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names(set))
}

func TestCollect_ReflectionFailure(t *testing.T) {
	h := newFakeHeap()
	h.fail = errors.New("no gc hooks")

	set, err := collect(t, h, heap.Forward, nil, &obj{name: "a"})
	assert.Nil(t, set, "no partial result")
	assert.ErrorIs(t, err, ErrReflectionUnavailable)
	assert.ErrorContains(t, err, "no gc hooks")
}

func TestCollect_RegistersOwnState(t *testing.T) {
	h := newFakeHeap()
	reg := ignore.NewRegistry()
	c := NewCollector(heap.ForwardEdges(h), nil, identity.NewAssigner(nil), reg)

	_, err := c.Collect(context.Background(), []reflect.Value{reflect.ValueOf(&obj{name: "a"})})
	require.NoError(t, err)

	assert.True(t, reg.Contains(reflect.ValueOf(c)))
	assert.True(t, reg.Contains(reflect.ValueOf(c.admitted)))
}

func TestCollect_NonObjectsSkipped(t *testing.T) {
	h := newFakeHeap()
	c := NewCollector(heap.ForwardEdges(h), nil, identity.NewAssigner(nil), nil)

	set, err := c.Collect(context.Background(), []reflect.Value{reflect.ValueOf(3), reflect.ValueOf("s")})
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())
	assert.Equal(t, 0, h.calls)
}

func TestCollect_SeedByValueExpanded(t *testing.T) {
	h := newFakeHeap()
	a, b := &obj{name: "a"}, &obj{name: "b"}
	h.link(a, b)
	h.link(b, a)

	type pair struct {
		First, Second *obj
		Count         int
	}
	c := NewCollector(heap.ForwardEdges(h), nil, identity.NewAssigner(nil), nil)
	set, err := c.Collect(context.Background(), []reflect.Value{reflect.ValueOf(pair{First: a, Count: 2})})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, names(set), "a struct seed stands for the objects it holds")
}
