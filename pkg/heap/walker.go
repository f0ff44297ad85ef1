package heap

import (
	"fmt"
	"reflect"
	"sync"
)

// Walker finds the objects a Go value references directly, using reflection.
//
// Values held inline (struct fields, array elements, interface payloads that
// are not objects themselves) are walked through. The first object met on
// each path is a referent and is not descended into. Unexported fields are
// read without calling Interface, so private references count as well.
type Walker struct {
	refs sync.Map // reflect.Type -> bool
}

// NewWalker creates a new reflection walker
func NewWalker() *Walker {
	return &Walker{}
}

// Referents returns the objects each of objs references directly
func (w *Walker) Referents(objs []reflect.Value) ([][]reflect.Value, error) {
	out := make([][]reflect.Value, len(objs))
	for i, v := range objs {
		out[i] = w.referentsOf(v)
	}
	return out, nil
}

// Roots returns vs with every value that is not an object replaced by the
// objects it holds directly. A struct passed by value stands for what it
// references.
func (w *Walker) Roots(vs []reflect.Value) []reflect.Value {
	out := make([]reflect.Value, 0, len(vs))
	for _, v := range vs {
		if IsObject(v) {
			out = append(out, v)
			continue
		}
		out = append(out, w.referentsOf(v)...)
	}
	return out
}

// Referrers is not supported: a walker only sees outgoing references.
// Wrap it in a Snapshot to answer backward queries.
func (w *Walker) Referrers(objs []reflect.Value) ([][]reflect.Value, error) {
	return nil, fmt.Errorf("%w: walker cannot enumerate referrers of %d objects", ErrUnsupported, len(objs))
}

func (w *Walker) referentsOf(v reflect.Value) []reflect.Value {
	if !v.IsValid() {
		return nil
	}

	var out []reflect.Value
	emit := func(r reflect.Value) {
		out = append(out, r)
	}

	switch v.Kind() {
	case reflect.Interface:
		if !v.IsNil() {
			return w.referentsOf(v.Elem())
		}

	case reflect.Pointer:
		if !v.IsNil() {
			w.inline(v.Elem(), emit)
		}

	case reflect.Map:
		t := v.Type()
		if v.IsNil() || (!w.holdsRefs(t.Key()) && !w.holdsRefs(t.Elem())) {
			return nil
		}
		iter := v.MapRange()
		for iter.Next() {
			w.inline(iter.Key(), emit)
			w.inline(iter.Value(), emit)
		}

	case reflect.Slice:
		if !w.holdsRefs(v.Type().Elem()) {
			return nil
		}
		for i := 0; i < v.Len(); i++ {
			w.inline(v.Index(i), emit)
		}

	default:
		// Plain values are walked as if they were the contents of an object
		w.inline(v, emit)
	}

	return out
}

// inline walks a value stored inside an object and emits every object it
// references
func (w *Walker) inline(v reflect.Value, emit func(reflect.Value)) {
	if !v.IsValid() || !w.holdsRefs(v.Type()) {
		return
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice:
		if IsObject(v) {
			emit(v)
		}
	case reflect.Interface:
		if !v.IsNil() {
			w.inline(v.Elem(), emit)
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			w.inline(v.Field(i), emit)
		}
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			w.inline(v.Index(i), emit)
		}
	}
}

// holdsRefs reports whether a value of type t can reference an object
func (w *Walker) holdsRefs(t reflect.Type) bool {
	if cached, ok := w.refs.Load(t); ok {
		return cached.(bool)
	}

	var holds bool
	switch t.Kind() {
	case reflect.Pointer:
		holds = t.Elem().Size() > 0
	case reflect.Map, reflect.Slice, reflect.Interface:
		holds = true
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if w.holdsRefs(t.Field(i).Type) {
				holds = true
				break
			}
		}
	case reflect.Array:
		holds = t.Len() > 0 && w.holdsRefs(t.Elem())
	}

	w.refs.Store(t, holds)
	return holds
}
