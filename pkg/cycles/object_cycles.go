// Package cycles finds reference cycles in an object graph
package cycles

import (
	"cmp"
	"slices"

	"github.com/ritzau/refcycles/pkg/model"
	"github.com/ritzau/refcycles/pkg/objgraph"
)

// FindObjectCycles finds every strongly connected component of the object
// graph, largest first. Equal sizes are ordered by their smallest member ID,
// which makes the order stable for a fixed graph and identity assignment.
func FindObjectCycles(g *objgraph.Graph, squeeze bool) model.ComponentList {
	tarjan := NewTarjanSCC(g)
	tarjan.SetSqueeze(squeeze)
	sccs := SortComponents(tarjan.FindSCCs())

	components := make(model.ComponentList, 0, len(sccs))
	for _, scc := range sccs {
		c := model.Component{Nodes: make([]model.Node, 0, len(scc))}
		for _, id := range scc {
			node, ok := g.Object(id)
			if !ok {
				continue
			}
			c.Nodes = append(c.Nodes, model.Node{
				ID:    id,
				Type:  node.Type,
				Label: node.Label,
			})
		}
		if len(scc) == 1 {
			c.SelfLoop = tarjan.SelfLoop(scc[0])
		}
		components = append(components, c)
	}

	return components
}

// SortComponents orders components by descending size, ties by smallest
// member. Members must already be ascending.
func SortComponents(sccs [][]int64) [][]int64 {
	slices.SortStableFunc(sccs, func(a, b []int64) int {
		if c := cmp.Compare(len(b), len(a)); c != 0 {
			return c
		}
		if len(a) == 0 {
			return 0
		}
		return cmp.Compare(a[0], b[0])
	})
	return sccs
}
