// Package ignore decides which objects must never become nodes of the graph
// a cycle check analyses.
package ignore

import (
	"reflect"
)

// Policy is consulted for every candidate node.
//
// Exclude reports whether the candidate itself must be dropped. Shadows
// lists objects that are part of the candidate's own representation and
// must be dropped as well, whether or not the candidate is.
type Policy interface {
	Exclude(v reflect.Value) bool
	Shadows(v reflect.Value) []reflect.Value
}

// Shadowed is implemented by objects that keep bookkeeping they do not want
// analysed: caches, back-pointers to owners, registration tables and such.
type Shadowed interface {
	CycleShadows() []any
}

// Shadowing is the policy that surfaces CycleShadows. It never excludes.
type Shadowing struct{}

// Exclude never drops the candidate itself
func (Shadowing) Exclude(reflect.Value) bool {
	return false
}

// Shadows returns the candidate's CycleShadows, if it has any
func (Shadowing) Shadows(v reflect.Value) []reflect.Value {
	if !v.IsValid() || !v.CanInterface() {
		return nil
	}
	s, ok := v.Interface().(Shadowed)
	if !ok {
		return nil
	}
	objs := s.CycleShadows()
	out := make([]reflect.Value, 0, len(objs))
	for _, o := range objs {
		out = append(out, reflect.ValueOf(o))
	}
	return out
}

// Chain combines policies: a candidate is excluded if any policy excludes
// it, its shadows are the union of all shadows
func Chain(policies ...Policy) Policy {
	flat := make(chain, 0, len(policies))
	for _, p := range policies {
		switch p := p.(type) {
		case nil:
		case chain:
			flat = append(flat, p...)
		default:
			flat = append(flat, p)
		}
	}
	return flat
}

type chain []Policy

func (c chain) Exclude(v reflect.Value) bool {
	for _, p := range c {
		if p.Exclude(v) {
			return true
		}
	}
	return false
}

func (c chain) Shadows(v reflect.Value) []reflect.Value {
	var out []reflect.Value
	for _, p := range c {
		out = append(out, p.Shadows(v)...)
	}
	return out
}

// None excludes nothing
var None Policy = chain{}

// Default is the policy checks use unless told otherwise: the traversal
// registry, the default excluded types and object-declared shadows
func Default(registry *Registry) Policy {
	return Chain(registry, MustTypes(DefaultTypes...), Shadowing{})
}
