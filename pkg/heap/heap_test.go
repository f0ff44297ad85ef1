package heap

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type node struct {
	name string
	next *node
}

type holder struct {
	label  string
	hidden *node
	Any    any
	List   []*node
	Table  map[string]*node
	Pair   [2]*node
	Empty  *struct{}
	Fn     func()
	Ch     chan int
}

func keys(t *testing.T, vs []reflect.Value) []Key {
	t.Helper()
	out := make([]Key, 0, len(vs))
	for _, v := range vs {
		k, ok := KeyOf(v)
		require.True(t, ok, "referent %s is not an object", v.Type())
		out = append(out, k)
	}
	return out
}

func mustKey(t *testing.T, obj any) Key {
	t.Helper()
	k, ok := KeyOf(reflect.ValueOf(obj))
	require.True(t, ok)
	return k
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("Backward")
	require.NoError(t, err)
	assert.Equal(t, Backward, d)

	d, err = ParseDirection("forward")
	require.NoError(t, err)
	assert.Equal(t, Forward, d)

	_, err = ParseDirection("sideways")
	assert.Error(t, err)
	assert.Equal(t, "backward", Backward.String())
}

func TestKeyOf(t *testing.T) {
	n := &node{name: "a"}

	k, ok := KeyOf(reflect.ValueOf(n))
	require.True(t, ok)
	assert.Equal(t, reflect.TypeOf(n), k.Type)

	_, ok = KeyOf(reflect.ValueOf((*node)(nil)))
	assert.False(t, ok, "nil pointer is not an object")

	_, ok = KeyOf(reflect.ValueOf(&struct{}{}))
	assert.False(t, ok, "zero-size pointee is not an object")

	_, ok = KeyOf(reflect.ValueOf(42))
	assert.False(t, ok, "plain values are not objects")

	_, ok = KeyOf(reflect.ValueOf([]int{}))
	assert.False(t, ok, "empty slice is not an object")

	_, ok = KeyOf(reflect.ValueOf(map[string]int{}))
	assert.True(t, ok, "empty non-nil map is an object")

	_, ok = KeyOf(reflect.ValueOf(func() {}))
	assert.False(t, ok)
}

func TestKeyOf_FirstFieldSharesAddress(t *testing.T) {
	type outer struct {
		inner node
	}
	o := &outer{}

	ko := mustKey(t, o)
	ki := mustKey(t, &o.inner)

	assert.Equal(t, ko.Addr, ki.Addr)
	assert.NotEqual(t, ko, ki, "type must separate a struct from its first field")
}

func TestWalker_Referents(t *testing.T) {
	a := &node{name: "a"}
	b := &node{name: "b"}
	c := &node{name: "c"}
	d := &node{name: "d"}
	e := &node{name: "e"}
	h := &holder{
		label:  "h",
		hidden: a,
		Any:    b,
		List:   []*node{c},
		Table:  map[string]*node{"d": d},
		Pair:   [2]*node{e, nil},
		Empty:  &struct{}{},
		Fn:     func() {},
		Ch:     make(chan int),
	}

	w := NewWalker()
	out, err := w.Referents([]reflect.Value{reflect.ValueOf(h)})
	require.NoError(t, err)
	require.Len(t, out, 1)

	got := keys(t, out[0])
	assert.ElementsMatch(t, []Key{
		mustKey(t, a),
		mustKey(t, b),
		mustKey(t, h.List),
		mustKey(t, h.Table),
		mustKey(t, e),
	}, got)
}

func TestWalker_ContainersAreObjects(t *testing.T) {
	a := &node{name: "a"}
	list := []*node{a, a}
	table := map[*node]string{a: "a"}

	w := NewWalker()
	out, err := w.Referents([]reflect.Value{reflect.ValueOf(list), reflect.ValueOf(table)})
	require.NoError(t, err)

	assert.Equal(t, []Key{mustKey(t, a), mustKey(t, a)}, keys(t, out[0]))
	assert.Equal(t, []Key{mustKey(t, a)}, keys(t, out[1]))
}

func TestWalker_SelfReference(t *testing.T) {
	a := &node{name: "a"}
	a.next = a

	out, err := NewWalker().Referents([]reflect.Value{reflect.ValueOf(a)})
	require.NoError(t, err)
	assert.Equal(t, []Key{mustKey(t, a)}, keys(t, out[0]))
}

func TestWalker_ReferrersUnsupported(t *testing.T) {
	_, err := NewWalker().Referrers([]reflect.Value{reflect.ValueOf(&node{})})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestSnapshot_Referrers(t *testing.T) {
	a := &node{name: "a"}
	b := &node{name: "b", next: a}
	c := &node{name: "c", next: a}
	lonely := &node{name: "lonely"}

	s := NewSnapshot(nil, b, c)
	out, err := s.Referrers([]reflect.Value{
		reflect.ValueOf(a),
		reflect.ValueOf(b),
		reflect.ValueOf(lonely),
	})
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.ElementsMatch(t, []Key{mustKey(t, b), mustKey(t, c)}, keys(t, out[0]))
	assert.Empty(t, out[1])
	assert.Empty(t, out[2], "objects outside the universe have no referrers")
	assert.Equal(t, 3, s.Len())
}

func TestSnapshot_RootByValue(t *testing.T) {
	a := &node{name: "a"}
	type bag struct{ Items []*node }
	s := NewSnapshot(nil, bag{Items: []*node{a}})

	out, err := s.Referrers([]reflect.Value{reflect.ValueOf(a)})
	require.NoError(t, err)
	require.Len(t, out[0], 1)
	assert.Equal(t, reflect.Slice, out[0][0].Kind())
}

func TestEdgesFor(t *testing.T) {
	a := &node{name: "a"}
	b := &node{name: "b", next: a}
	s := NewSnapshot(nil, b)

	fwd := EdgesFor(s, Forward)
	assert.Equal(t, Forward, fwd.Direction())
	out, err := fwd.Adjacent([]reflect.Value{reflect.ValueOf(b)})
	require.NoError(t, err)
	assert.Equal(t, []Key{mustKey(t, a)}, keys(t, out[0]))

	back := EdgesFor(s, Backward)
	assert.Equal(t, Backward, back.Direction())
	out, err = back.Adjacent([]reflect.Value{reflect.ValueOf(a)})
	require.NoError(t, err)
	assert.Equal(t, []Key{mustKey(t, b)}, keys(t, out[0]))
	assert.Nil(t, back.Scratch())
}

func TestForwardBackwardEdges(t *testing.T) {
	s := NewSnapshot(nil, &node{name: "b"})

	assert.Equal(t, Forward, ForwardEdges(s).Direction())
	assert.Equal(t, Backward, BackwardEdges(s).Direction())
	assert.Equal(t, Forward, EdgesFor(s, Direction(7)).Direction(), "unknown directions fall back to forward")
}

type category struct {
	name string
}

func (c *category) CycleType() string {
	return c.name
}

func TestTypeName(t *testing.T) {
	assert.Equal(t, "*heap.node", TypeName(reflect.ValueOf(&node{})))
	assert.Equal(t, "*app.conn", TypeName(reflect.ValueOf(&category{name: "*app.conn"})))
	assert.Equal(t, "*heap.category", TypeName(reflect.ValueOf(&category{})))

	var boxed any = &category{name: "boxed"}
	assert.Equal(t, "boxed", TypeName(reflect.ValueOf(&boxed).Elem()))
	assert.Equal(t, "<invalid>", TypeName(reflect.Value{}))
}
