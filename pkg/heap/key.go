package heap

import (
	"fmt"
	"reflect"
)

// Key identifies one heap object by host identity: its type and address,
// plus the length for slices. A pointer to a struct and a pointer to its
// first field share an address, the type tells them apart.
type Key struct {
	Type reflect.Type
	Addr uintptr
	Len  int
}

// KeyOf returns the identity of v, or false if v is not a heap object.
//
// Objects are non-nil pointers to values of non-zero size, non-nil maps and
// non-empty slices. Pointers to zero-size values may share one address in
// Go and cannot hold references, so they are never objects. Funcs, chans
// and unsafe pointers are opaque to reflection and are skipped too.
func KeyOf(v reflect.Value) (Key, bool) {
	if !v.IsValid() {
		return Key{}, false
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return Key{}, false
		}
		return KeyOf(v.Elem())

	case reflect.Pointer:
		if v.IsNil() || v.Type().Elem().Size() == 0 {
			return Key{}, false
		}
		return Key{Type: v.Type(), Addr: v.Pointer()}, true

	case reflect.Map:
		if v.IsNil() {
			return Key{}, false
		}
		return Key{Type: v.Type(), Addr: v.Pointer()}, true

	case reflect.Slice:
		if v.Len() == 0 || v.Type().Elem().Size() == 0 {
			return Key{}, false
		}
		return Key{Type: v.Type(), Addr: v.Pointer(), Len: v.Len()}, true
	}

	return Key{}, false
}

// IsObject reports whether v is a heap object
func IsObject(v reflect.Value) bool {
	_, ok := KeyOf(v)
	return ok
}

func (k Key) String() string {
	if k.Type == nil {
		return "<nil>"
	}
	if k.Len > 0 {
		return fmt.Sprintf("%s@%#x[%d]", k.Type, k.Addr, k.Len)
	}
	return fmt.Sprintf("%s@%#x", k.Type, k.Addr)
}

// Typed is implemented by objects that report a category of their own in
// place of their Go type, such as the objects of a synthetic heap
type Typed interface {
	CycleType() string
}

// TypeName returns the category of v: its CycleType when v implements Typed
// and reports one, otherwise its Go type string
func TypeName(v reflect.Value) string {
	for v.Kind() == reflect.Interface && !v.IsNil() {
		v = v.Elem()
	}
	if !v.IsValid() {
		return "<invalid>"
	}
	if v.CanInterface() {
		if t, ok := v.Interface().(Typed); ok {
			if name := t.CycleType(); name != "" {
				return name
			}
		}
	}
	return v.Type().String()
}
