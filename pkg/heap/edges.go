// Package heap is the reflection port of the cycle checker. It answers
// adjacency questions about live objects: which objects a batch of objects
// references (forward) and which objects reference them (backward).
package heap

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ErrUnsupported is returned by reflectors asked a question they cannot answer
var ErrUnsupported = errors.New("heap: unsupported query")

// Direction selects which kind of reference edge a check follows
type Direction int

const (
	// Forward follows the references an object holds
	Forward Direction = iota
	// Backward follows the references held to an object
	Backward
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ParseDirection parses "forward" or "backward", ignoring case
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "forward", "fwd", "":
		return Forward, nil
	case "backward", "back", "bwd":
		return Backward, nil
	}
	return Forward, fmt.Errorf("unknown direction %q (want forward or backward)", s)
}

// Reflector answers adjacency queries about live objects in batches.
// For both methods result[i] holds the neighbours of objs[i].
type Reflector interface {
	Referents(objs []reflect.Value) ([][]reflect.Value, error)
	Referrers(objs []reflect.Value) ([][]reflect.Value, error)
}

// Scratcher is implemented by reflectors that allocate transient containers
// while answering a query. Scratch reports the ones allocated by the most
// recent call so they can be kept out of the graph.
type Scratcher interface {
	Scratch() []reflect.Value
}

// Edges is a Reflector seen along a single direction
type Edges interface {
	Adjacent(objs []reflect.Value) ([][]reflect.Value, error)
	Direction() Direction
	Scratcher
}

// ForwardEdges returns the referent edges of r
func ForwardEdges(r Reflector) Edges {
	return edges{r: r, dir: Forward}
}

// BackwardEdges returns the referrer edges of r
func BackwardEdges(r Reflector) Edges {
	return edges{r: r, dir: Backward}
}

// EdgesFor returns the edges of r in direction dir
func EdgesFor(r Reflector, dir Direction) Edges {
	if dir == Backward {
		return BackwardEdges(r)
	}
	return ForwardEdges(r)
}

type edges struct {
	r   Reflector
	dir Direction
}

func (e edges) Adjacent(objs []reflect.Value) ([][]reflect.Value, error) {
	if e.dir == Backward {
		return e.r.Referrers(objs)
	}
	return e.r.Referents(objs)
}

func (e edges) Direction() Direction {
	return e.dir
}

func (e edges) Scratch() []reflect.Value {
	if s, ok := e.r.(Scratcher); ok {
		return s.Scratch()
	}
	return nil
}
