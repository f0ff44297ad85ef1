package cycles

import (
	"slices"

	"gonum.org/v1/gonum/graph"
)

// TarjanSCC finds all strongly connected components using Tarjan's algorithm.
//
// The depth-first search runs on an explicit stack of frames rather than
// the call stack, so chains as long as the heap cannot overflow it. Nodes
// are given dense positions in ascending ID order and every per-node value
// lives in a slice indexed by position.
type TarjanSCC struct {
	graph   graph.Directed
	squeeze bool

	ids      []int64   // position -> node ID
	adj      [][]int32 // position -> successor positions
	index    []int32   // discovery index, -1 when unvisited
	lowLink  []int32
	onStack  []bool
	selfLoop []bool
	stack    []int32
	frames   []frame
	next     int32
	sccs     [][]int64
}

// frame is one suspended visit: the node and how far through its
// successors the visit has got
type frame struct {
	v      int32
	cursor int32
}

// NewTarjanSCC creates a new Tarjan SCC finder. Degenerate components are
// squeezed out unless SetSqueeze(false) is called.
func NewTarjanSCC(g graph.Directed) *TarjanSCC {
	return &TarjanSCC{
		graph:   g,
		squeeze: true,
	}
}

// SetSqueeze controls whether single-node components without a self-loop
// are dropped (the default) or kept
func (t *TarjanSCC) SetSqueeze(squeeze bool) {
	t.squeeze = squeeze
}

// FindSCCs returns the strongly connected components in the order they are
// completed. Members of a component are ascending by ID.
func (t *TarjanSCC) FindSCCs() [][]int64 {
	t.load()

	for root := range t.ids {
		if t.index[root] < 0 {
			t.strongConnect(int32(root))
		}
	}
	return t.sccs
}

// SelfLoop reports whether node id was seen referencing itself during the
// last FindSCCs
func (t *TarjanSCC) SelfLoop(id int64) bool {
	i, found := slices.BinarySearch(t.ids, id)
	return found && t.selfLoop[i]
}

// load flattens the graph into position-indexed adjacency
func (t *TarjanSCC) load() {
	t.ids = t.ids[:0]
	nodes := t.graph.Nodes()
	for nodes.Next() {
		t.ids = append(t.ids, nodes.Node().ID())
	}
	slices.Sort(t.ids)

	n := len(t.ids)
	pos := make(map[int64]int32, n)
	for i, id := range t.ids {
		pos[id] = int32(i)
	}

	t.adj = make([][]int32, n)
	for i, id := range t.ids {
		successors := t.graph.From(id)
		for successors.Next() {
			if w, ok := pos[successors.Node().ID()]; ok {
				t.adj[i] = append(t.adj[i], w)
			}
		}
	}

	t.index = make([]int32, n)
	for i := range t.index {
		t.index[i] = -1
	}
	t.lowLink = make([]int32, n)
	t.onStack = make([]bool, n)
	t.selfLoop = make([]bool, n)
	t.stack = t.stack[:0]
	t.frames = t.frames[:0]
	t.next = 0
	t.sccs = nil
}

// visit assigns the discovery index of v and pushes it on both stacks
func (t *TarjanSCC) visit(v int32) {
	t.index[v] = t.next
	t.lowLink[v] = t.next
	t.next++

	t.stack = append(t.stack, v)
	t.onStack[v] = true
	t.frames = append(t.frames, frame{v: v})
}

// strongConnect runs Tarjan's algorithm from root without recursion
func (t *TarjanSCC) strongConnect(root int32) {
	t.visit(root)

	for len(t.frames) > 0 {
		top := &t.frames[len(t.frames)-1]
		v := top.v

		if int(top.cursor) < len(t.adj[v]) {
			w := t.adj[v][top.cursor]
			top.cursor++

			if t.index[w] < 0 {
				// Successor has not yet been visited; descend into it
				t.visit(w)
			} else if t.onStack[w] {
				// Successor is on stack and hence in the current SCC
				t.lowLink[v] = min(t.lowLink[v], t.index[w])
				if w == v {
					t.selfLoop[v] = true
				}
			}
			continue
		}

		// All successors done: return to the parent frame
		t.frames = t.frames[:len(t.frames)-1]
		if len(t.frames) > 0 {
			parent := t.frames[len(t.frames)-1].v
			t.lowLink[parent] = min(t.lowLink[parent], t.lowLink[v])
		}

		if t.lowLink[v] == t.index[v] {
			t.emit(v)
		}
	}
}

// emit pops the component rooted at v off the stack
func (t *TarjanSCC) emit(v int32) {
	scc := make([]int64, 0, 1)
	for {
		w := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		t.onStack[w] = false
		scc = append(scc, t.ids[w])
		if w == v {
			break
		}
	}

	// A lone node is only a cycle if it references itself
	if t.squeeze && len(scc) == 1 && !t.selfLoop[v] {
		return
	}

	slices.Sort(scc)
	t.sccs = append(t.sccs, scc)
}
