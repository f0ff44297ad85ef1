package objgraph

import (
	"fmt"
	"reflect"
)

// Describe renders a short, human readable label for an object. Objects
// implementing fmt.Stringer describe themselves when they are reachable
// through exported fields; everything else is type@address.
func Describe(v reflect.Value) (label string) {
	for v.Kind() == reflect.Interface && !v.IsNil() {
		v = v.Elem()
	}
	if !v.IsValid() {
		return "<invalid>"
	}

	addr := ""
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		addr = fmt.Sprintf("@%#x", v.Pointer())
	}
	fallback := v.Type().String() + addr

	if !v.CanInterface() {
		return fallback
	}
	s, ok := v.Interface().(fmt.Stringer)
	if !ok {
		return fallback
	}

	// A broken String method must not take the report down with it
	defer func() {
		if recover() != nil {
			label = fallback
		}
	}()
	return fmt.Sprintf("%s (%s)", s.String(), fallback)
}
