package ignore

import (
	"fmt"
	"path"
	"reflect"
	"sync"

	"github.com/ritzau/refcycles/pkg/heap"
)

// DefaultTypes are object types no check should treat as nodes: runtime
// type descriptors (they point at each other through method tables and
// pointer-to types), test harness state and runtime introspection handles.
// The pointer star is escaped so each pattern names exactly one type.
var DefaultTypes = []string{
	`\*reflect.rtype`,
	`\*abi.Type`,
	`\*abi.ITab`,
	`\*runtime.Func`,
	`\*runtime.Frames`,
	`\*testing.T`,
	`\*testing.B`,
	`\*testing.F`,
	`\*testing.common`,
	`\*sync.Pool`,
}

// Types excludes objects whose type name (see heap.TypeName) matches one of
// a set of path.Match patterns. A leading '*' is a wildcard like any other:
// "*mypkg.cache" also matches "othermypkg.cache" and "[]*mypkg.cache".
// Escape it as `\*mypkg.cache` to match the pointer type only.
type Types struct {
	patterns []string
	mu       sync.Mutex
	memo     map[string]bool
}

// NewTypes validates the patterns and builds the policy
func NewTypes(patterns ...string) (*Types, error) {
	for _, p := range patterns {
		if _, err := path.Match(p, ""); err != nil {
			return nil, fmt.Errorf("invalid type pattern %q: %w", p, err)
		}
	}
	return &Types{
		patterns: append([]string(nil), patterns...),
		memo:     make(map[string]bool),
	}, nil
}

// MustTypes is NewTypes for patterns known to be valid
func MustTypes(patterns ...string) *Types {
	t, err := NewTypes(patterns...)
	if err != nil {
		panic(err)
	}
	return t
}

// Patterns returns the configured patterns
func (t *Types) Patterns() []string {
	return append([]string(nil), t.patterns...)
}

// Exclude reports whether the type name of v matches a pattern
func (t *Types) Exclude(v reflect.Value) bool {
	for v.Kind() == reflect.Interface && !v.IsNil() {
		v = v.Elem()
	}
	if !v.IsValid() {
		return false
	}

	name := heap.TypeName(v)
	t.mu.Lock()
	defer t.mu.Unlock()

	if excluded, ok := t.memo[name]; ok {
		return excluded
	}
	excluded := false
	for _, p := range t.patterns {
		if ok, _ := path.Match(p, name); ok {
			excluded = true
			break
		}
	}
	t.memo[name] = excluded
	return excluded
}

// Shadows implements Policy; type exclusion has no shadows
func (t *Types) Shadows(reflect.Value) []reflect.Value {
	return nil
}
