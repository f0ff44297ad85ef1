// Package memgraph is a synthetic heap: named objects and the references
// between them, answering the same queries a live heap does. Fixtures and
// the command line tool check these graphs instead of Go objects.
package memgraph

import (
	"cmp"
	"fmt"
	"reflect"
	"slices"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/multi"

	"github.com/ritzau/refcycles/pkg/heap"
)

// Object is one node of a synthetic heap
type Object struct {
	id      int64
	Name    string
	Kind    string
	shadows []*Object
}

// ID implements graph.Node
func (o *Object) ID() int64 {
	return o.id
}

func (o *Object) String() string {
	if o.Kind == "" {
		return o.Name
	}
	return o.Name + ":" + o.Kind
}

// CycleType reports the declared kind, which stands in for a Go type in
// reports and type patterns
func (o *Object) CycleType() string {
	return o.Kind
}

// CycleShadows returns the objects declared as o's bookkeeping
func (o *Object) CycleShadows() []any {
	out := make([]any, len(o.shadows))
	for i, s := range o.shadows {
		out[i] = s
	}
	return out
}

// Option configures a Graph
type Option func(*Graph)

// Transient makes every query allocate a batch object that references the
// queried objects and itself, the way a live heap sees the caller's own
// argument list. Batches are reported through Scratch.
func Transient() Option {
	return func(g *Graph) {
		g.transient = true
	}
}

// Graph holds the objects of a synthetic heap. References may repeat and
// objects may reference themselves.
type Graph struct {
	g      *multi.DirectedGraph
	byName map[string]*Object
	byID   map[int64]*Object
	nextID int64

	transient bool
	batches   map[*Object][]*Object
	scratch   []reflect.Value
}

var (
	_ heap.Typed     = (*Object)(nil)
	_ heap.Reflector = (*Graph)(nil)
	_ heap.Scratcher = (*Graph)(nil)
)

// New creates an empty graph
func New(opts ...Option) *Graph {
	g := &Graph{
		g:       multi.NewDirectedGraph(),
		byName:  make(map[string]*Object),
		byID:    make(map[int64]*Object),
		batches: make(map[*Object][]*Object),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Add creates a named object
func (g *Graph) Add(name, kind string) (*Object, error) {
	if name == "" {
		return nil, fmt.Errorf("object name must not be empty")
	}
	if _, exists := g.byName[name]; exists {
		return nil, fmt.Errorf("duplicate object %q", name)
	}
	o := &Object{id: g.nextID, Name: name, Kind: kind}
	g.nextID++
	g.g.AddNode(o)
	g.byName[name] = o
	g.byID[o.id] = o
	return o, nil
}

// MustAdd is Add for graphs built in code, panicking on error
func (g *Graph) MustAdd(name, kind string) *Object {
	o, err := g.Add(name, kind)
	if err != nil {
		panic(err)
	}
	return o
}

// Link records that from references each of to
func (g *Graph) Link(from *Object, to ...*Object) {
	for _, t := range to {
		g.g.SetLine(g.g.NewLine(from, t))
	}
}

// Shadow declares shadows as bookkeeping of owner
func (g *Graph) Shadow(owner *Object, shadows ...*Object) {
	owner.shadows = append(owner.shadows, shadows...)
}

// Object returns the object with the given name
func (g *Graph) Object(name string) (*Object, bool) {
	o, ok := g.byName[name]
	return o, ok
}

// Objects returns every object in order of creation
func (g *Graph) Objects() []*Object {
	out := make([]*Object, 0, len(g.byID))
	for _, o := range g.byID {
		out = append(out, o)
	}
	slices.SortFunc(out, byID)
	return out
}

// Len returns the number of objects, batches excluded
func (g *Graph) Len() int {
	return len(g.byID)
}

// Referents returns the objects each of objs references
func (g *Graph) Referents(objs []reflect.Value) ([][]reflect.Value, error) {
	return g.query(objs, false)
}

// Referrers returns the objects referencing each of objs
func (g *Graph) Referrers(objs []reflect.Value) ([][]reflect.Value, error) {
	return g.query(objs, true)
}

// Scratch returns the batch allocated by the most recent query
func (g *Graph) Scratch() []reflect.Value {
	return g.scratch
}

func (g *Graph) query(objs []reflect.Value, backward bool) ([][]reflect.Value, error) {
	members := make([]*Object, len(objs))
	for i, v := range objs {
		o, err := g.resolve(v)
		if err != nil {
			return nil, err
		}
		members[i] = o
	}

	var batch *Object
	g.scratch = nil
	if g.transient {
		n := len(g.batches)
		batch = &Object{id: -1 - int64(n), Name: fmt.Sprintf("batch#%d", n), Kind: "batch"}
		g.batches[batch] = members
		g.scratch = []reflect.Value{reflect.ValueOf(batch)}
	}

	out := make([][]reflect.Value, len(members))
	for i, o := range members {
		adj := g.adjacent(o, backward)
		if batch != nil && backward {
			adj = append(adj, batch)
		}
		out[i] = make([]reflect.Value, len(adj))
		for j, a := range adj {
			out[i][j] = reflect.ValueOf(a)
		}
	}
	return out, nil
}

func (g *Graph) adjacent(o *Object, backward bool) []*Object {
	if members, isBatch := g.batches[o]; isBatch {
		// A batch holds its members and is held by itself
		if backward {
			return []*Object{o}
		}
		return append(slices.Clone(members), o)
	}

	it := g.g.From(o.id)
	if backward {
		it = g.g.To(o.id)
	}
	adj := make([]*Object, 0, it.Len())
	for _, n := range graph.NodesOf(it) {
		adj = append(adj, n.(*Object))
	}
	slices.SortFunc(adj, byID)
	return adj
}

func (g *Graph) resolve(v reflect.Value) (*Object, error) {
	for v.Kind() == reflect.Interface && !v.IsNil() {
		v = v.Elem()
	}
	if !v.IsValid() || !v.CanInterface() {
		return nil, fmt.Errorf("%w: %v is not a memgraph object", heap.ErrUnsupported, v)
	}
	o, ok := v.Interface().(*Object)
	if !ok || o == nil {
		return nil, fmt.Errorf("%w: %s is not a memgraph object", heap.ErrUnsupported, v.Type())
	}
	if g.byID[o.id] == o {
		return o, nil
	}
	if _, isBatch := g.batches[o]; isBatch {
		return o, nil
	}
	return nil, fmt.Errorf("%w: %s belongs to another graph", heap.ErrUnsupported, o)
}

func byID(a, b *Object) int {
	return cmp.Compare(a.id, b.id)
}
