package model

import (
	"slices"
)

// Direction names the edge direction a check followed
type Direction string

const (
	DirectionForward  Direction = "forward"  // object -> what it references
	DirectionBackward Direction = "backward" // object -> what references it
)

// Node is one object taking part in a cycle. It describes the object, it
// does not hold on to it.
type Node struct {
	ID    int64  `json:"id"`    // Identity within one check
	Type  string `json:"type"`  // Go type (e.g., "*session.Conn")
	Label string `json:"label"` // Human readable label (e.g., "*session.Conn@0xc000012345")
}

// Component is a set of objects that all reach each other. A component of
// one object is a direct self-reference.
type Component struct {
	Nodes    []Node `json:"nodes"`               // Members, ascending by ID
	SelfLoop bool   `json:"self_loop,omitempty"` // Set for single objects referencing themselves
}

// Size returns the number of objects in the component
func (c Component) Size() int {
	return len(c.Nodes)
}

// IDs returns the member IDs in order
func (c Component) IDs() []int64 {
	ids := make([]int64, len(c.Nodes))
	for i, n := range c.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// Contains returns true if the object with the given ID is a member
func (c Component) Contains(id int64) bool {
	_, found := slices.BinarySearchFunc(c.Nodes, id, func(n Node, id int64) int {
		switch {
		case n.ID < id:
			return -1
		case n.ID > id:
			return 1
		}
		return 0
	})
	return found
}

// Types returns a histogram of member types
func (c Component) Types() map[string]int {
	hist := make(map[string]int)
	for _, n := range c.Nodes {
		hist[n.Type]++
	}
	return hist
}

// ComponentList is the result of a check, largest component first
type ComponentList []Component

// Len returns the number of components
func (l ComponentList) Len() int {
	return len(l)
}

// Empty returns true when no cycle was found
func (l ComponentList) Empty() bool {
	return len(l) == 0
}

// Sizes returns the size of each component, in order
func (l ComponentList) Sizes() []int {
	sizes := make([]int, len(l))
	for i, c := range l {
		sizes[i] = c.Size()
	}
	return sizes
}

// Objects returns the total number of objects over all components
func (l ComponentList) Objects() int {
	n := 0
	for _, c := range l {
		n += c.Size()
	}
	return n
}

// Joined merges every component into one, for reports that want a single
// picture of all cycles
func (l ComponentList) Joined() ComponentList {
	if len(l) <= 1 {
		return l
	}
	var joined Component
	for _, c := range l {
		joined.Nodes = append(joined.Nodes, c.Nodes...)
	}
	slices.SortFunc(joined.Nodes, func(a, b Node) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return ComponentList{joined}
}

// Report is the outcome of one check as published by the command line tool
type Report struct {
	CheckID    string        `json:"check_id"`
	Fixture    string        `json:"fixture,omitempty"`
	Direction  Direction     `json:"direction"`
	Reachable  int           `json:"reachable"`
	Components ComponentList `json:"components"`
}

// HasCycles returns true when the check found at least one component
func (r *Report) HasCycles() bool {
	return r != nil && !r.Components.Empty()
}
