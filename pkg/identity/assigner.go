// Package identity assigns dense, comparable IDs to the objects met during
// one cycle check.
package identity

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/ritzau/refcycles/pkg/heap"
)

// ErrIdentityCollision means two distinct live objects produced the same key.
// It is an internal invariant violation: the nodes are never merged.
var ErrIdentityCollision = errors.New("identity collision")

// ID is the token of one object for the duration of a check
type ID = int64

// KeyFunc maps an object to its host identity. ok is false for values that
// are not objects.
type KeyFunc func(v reflect.Value) (key heap.Key, ok bool)

// Assigner hands out IDs in order of first sight, starting at zero
type Assigner struct {
	keyOf  KeyFunc
	ids    map[heap.Key]ID
	values []reflect.Value
}

// NewAssigner creates an assigner using keyOf, or heap.KeyOf when nil
func NewAssigner(keyOf KeyFunc) *Assigner {
	if keyOf == nil {
		keyOf = heap.KeyOf
	}
	return &Assigner{
		keyOf: keyOf,
		ids:   make(map[heap.Key]ID),
	}
}

// Assign returns the ID of v, assigning the next free one on first sight
func (a *Assigner) Assign(v reflect.Value) (ID, bool, error) {
	key, ok := a.keyOf(v)
	if !ok {
		return 0, false, nil
	}

	if id, exists := a.ids[key]; exists {
		if prev := a.values[id]; !sameObject(prev, v) {
			return 0, false, fmt.Errorf("%w: %s and %s both map to key %s",
				ErrIdentityCollision, describe(prev), describe(v), key)
		}
		return id, true, nil
	}

	id := ID(len(a.values))
	a.ids[key] = id
	a.values = append(a.values, v)
	return id, true, nil
}

// Lookup returns the ID already assigned to v
func (a *Assigner) Lookup(v reflect.Value) (ID, bool) {
	key, ok := a.keyOf(v)
	if !ok {
		return 0, false
	}
	id, ok := a.ids[key]
	return id, ok
}

// Key returns the key of v as computed by the assigner's key function
func (a *Assigner) Key(v reflect.Value) (heap.Key, bool) {
	return a.keyOf(v)
}

// Value returns the object bound to id
func (a *Assigner) Value(id ID) reflect.Value {
	if id < 0 || int(id) >= len(a.values) {
		return reflect.Value{}
	}
	return a.values[id]
}

// Len returns the number of IDs handed out
func (a *Assigner) Len() int {
	return len(a.values)
}

// sameObject compares by host identity: same dynamic type, same address
// and, for slices, same length
func sameObject(x, y reflect.Value) bool {
	x, y = unwrap(x), unwrap(y)
	if x.Type() != y.Type() {
		return false
	}
	switch x.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return x.Pointer() == y.Pointer()
	case reflect.Slice:
		return x.Pointer() == y.Pointer() && x.Len() == y.Len()
	}
	// Values without an address can only be compared when comparable
	if x.Comparable() && x.CanInterface() && y.CanInterface() {
		return x.Interface() == y.Interface()
	}
	return false
}

func unwrap(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Interface && !v.IsNil() {
		v = v.Elem()
	}
	return v
}

func describe(v reflect.Value) string {
	v = unwrap(v)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return fmt.Sprintf("%s@%#x", v.Type(), v.Pointer())
	}
	return v.Type().String()
}
