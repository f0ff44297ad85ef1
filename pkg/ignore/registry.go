package ignore

import (
	"reflect"

	"github.com/ritzau/refcycles/pkg/heap"
)

// Registry records objects that exist only to run a check: the checker's
// own working state and containers a reflector allocated to answer a query.
// Membership is the whole policy, nothing is matched by type.
type Registry struct {
	keys map[heap.Key]struct{}
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{keys: make(map[heap.Key]struct{})}
}

// Register adds objects to the registry. Values that are not objects are
// ignored, they cannot show up as nodes.
func (r *Registry) Register(objs ...any) {
	for _, o := range objs {
		if v, ok := o.(reflect.Value); ok {
			r.RegisterValue(v)
			continue
		}
		r.RegisterValue(reflect.ValueOf(o))
	}
}

// RegisterValue adds one object to the registry
func (r *Registry) RegisterValue(v reflect.Value) {
	if k, ok := heap.KeyOf(v); ok {
		r.keys[k] = struct{}{}
	}
}

// Contains reports whether v was registered
func (r *Registry) Contains(v reflect.Value) bool {
	if r == nil {
		return false
	}
	k, ok := heap.KeyOf(v)
	if !ok {
		return false
	}
	_, found := r.keys[k]
	return found
}

// ContainsKey reports whether the object with key k was registered
func (r *Registry) ContainsKey(k heap.Key) bool {
	if r == nil {
		return false
	}
	_, found := r.keys[k]
	return found
}

// Len returns the number of registered objects
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Reset forgets every registered object
func (r *Registry) Reset() {
	r.keys = make(map[heap.Key]struct{})
}

// Exclude implements Policy
func (r *Registry) Exclude(v reflect.Value) bool {
	return r.Contains(v)
}

// Shadows implements Policy; registered objects have no shadows of their own
func (r *Registry) Shadows(reflect.Value) []reflect.Value {
	return nil
}
