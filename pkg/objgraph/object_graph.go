// Package objgraph holds the filtered object graph of one check: the
// reachable objects and the reference edges between them. The graph
// satisfies gonum's graph.Directed so gonum algorithms can run on it.
package objgraph

import (
	"fmt"
	"reflect"
	"slices"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/iterator"

	"github.com/ritzau/refcycles/pkg/heap"
	"github.com/ritzau/refcycles/pkg/identity"
	"github.com/ritzau/refcycles/pkg/reach"
)

// Node is one object of the graph
type Node struct {
	id    int64
	Type  string // e.g. "*cache.entry" or "map[string]*cache.entry", see heap.TypeName
	Label string // Stringer output when available, otherwise type@address
}

// ID implements graph.Node
func (n *Node) ID() int64 {
	return n.id
}

func (n *Node) String() string {
	return n.Label
}

// Edge is a reference from one object to another, in the check's direction
type Edge struct {
	F, T *Node
}

func (e Edge) From() graph.Node         { return e.F }
func (e Edge) To() graph.Node           { return e.T }
func (e Edge) ReversedEdge() graph.Edge { return Edge{F: e.T, T: e.F} }

// Graph is the object graph induced by a reachable set
type Graph struct {
	nodes map[int64]*Node
	order []int64 // ascending IDs
	from  map[int64][]int64
	to    map[int64][]int64
	edges map[edgeKey]struct{}
}

type edgeKey struct {
	from, to int64
}

var _ graph.Directed = (*Graph)(nil)

// New creates an empty graph
func New() *Graph {
	return &Graph{
		nodes: make(map[int64]*Node),
		from:  make(map[int64][]int64),
		to:    make(map[int64][]int64),
		edges: make(map[edgeKey]struct{}),
	}
}

// Build queries the adjacency of every member of set in one batch and keeps
// the edges whose target is also a member. Edges leaving the set are dropped.
func Build(set *reach.Set, edges heap.Edges, ids *identity.Assigner) (*Graph, error) {
	g := New()
	for i, id := range set.IDs() {
		g.AddObject(id, set.Values()[i])
	}
	if set.Len() == 0 {
		return g, nil
	}

	adj, err := edges.Adjacent(set.Values())
	if err != nil {
		return nil, fmt.Errorf("%w: %s edges of %d objects: %w",
			reach.ErrReflectionUnavailable, edges.Direction(), set.Len(), err)
	}
	if len(adj) != set.Len() {
		return nil, fmt.Errorf("%w: reflector answered %d of %d objects",
			reach.ErrReflectionUnavailable, len(adj), set.Len())
	}

	for i, from := range set.IDs() {
		for _, v := range adj[i] {
			to, ok := ids.Lookup(v)
			if !ok || !set.Contains(to) {
				continue
			}
			g.AddEdge(from, to)
		}
	}

	return g, nil
}

// AddObject adds a node for object v under id
func (g *Graph) AddObject(id int64, v reflect.Value) *Node {
	if n, exists := g.nodes[id]; exists {
		return n
	}
	n := &Node{id: id, Type: heap.TypeName(v), Label: Describe(v)}
	g.addNode(n)
	return n
}

// AddNode adds a node that is not backed by a live object
func (g *Graph) AddNode(id int64, typ, label string) *Node {
	if n, exists := g.nodes[id]; exists {
		return n
	}
	n := &Node{id: id, Type: typ, Label: label}
	g.addNode(n)
	return n
}

func (g *Graph) addNode(n *Node) {
	g.nodes[n.id] = n
	i, _ := slices.BinarySearch(g.order, n.id)
	g.order = slices.Insert(g.order, i, n.id)
}

// AddEdge adds a reference edge. Duplicate edges are ignored; self-loops
// are kept, they are cycles of one.
func (g *Graph) AddEdge(from, to int64) {
	if g.nodes[from] == nil || g.nodes[to] == nil {
		return
	}
	k := edgeKey{from, to}
	if _, dup := g.edges[k]; dup {
		return
	}
	g.edges[k] = struct{}{}
	g.from[from] = append(g.from[from], to)
	g.to[to] = append(g.to[to], from)
}

// Len returns the number of nodes
func (g *Graph) Len() int {
	return len(g.nodes)
}

// EdgeCount returns the number of distinct edges
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// Object returns the node with the given ID
func (g *Graph) Object(id int64) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Successors returns the IDs id references, in discovery order
func (g *Graph) Successors(id int64) []int64 {
	return g.from[id]
}

// Predecessors returns the IDs referencing id, in discovery order
func (g *Graph) Predecessors(id int64) []int64 {
	return g.to[id]
}

// SelfLoop reports whether id references itself directly
func (g *Graph) SelfLoop(id int64) bool {
	return g.HasEdgeFromTo(id, id)
}

// Node implements graph.Graph
func (g *Graph) Node(id int64) graph.Node {
	if n, ok := g.nodes[id]; ok {
		return n
	}
	return nil
}

// Nodes implements graph.Graph; nodes come in ascending ID order
func (g *Graph) Nodes() graph.Nodes {
	if len(g.order) == 0 {
		return graph.Empty
	}
	return iterator.NewOrderedNodes(g.list(g.order))
}

// From implements graph.Graph
func (g *Graph) From(id int64) graph.Nodes {
	if len(g.from[id]) == 0 {
		return graph.Empty
	}
	return iterator.NewOrderedNodes(g.list(g.from[id]))
}

// To implements graph.Directed
func (g *Graph) To(id int64) graph.Nodes {
	if len(g.to[id]) == 0 {
		return graph.Empty
	}
	return iterator.NewOrderedNodes(g.list(g.to[id]))
}

// HasEdgeBetween implements graph.Graph
func (g *Graph) HasEdgeBetween(xid, yid int64) bool {
	return g.HasEdgeFromTo(xid, yid) || g.HasEdgeFromTo(yid, xid)
}

// HasEdgeFromTo implements graph.Directed
func (g *Graph) HasEdgeFromTo(uid, vid int64) bool {
	_, ok := g.edges[edgeKey{uid, vid}]
	return ok
}

// Edge implements graph.Graph
func (g *Graph) Edge(uid, vid int64) graph.Edge {
	if !g.HasEdgeFromTo(uid, vid) {
		return nil
	}
	return Edge{F: g.nodes[uid], T: g.nodes[vid]}
}

func (g *Graph) list(ids []int64) []graph.Node {
	out := make([]graph.Node, len(ids))
	for i, id := range ids {
		out[i] = g.nodes[id]
	}
	return out
}
