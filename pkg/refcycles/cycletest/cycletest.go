// Package cycletest wraps the cycle assertions for use in tests
package cycletest

import (
	"github.com/ritzau/refcycles/pkg/refcycles"
)

// TB is the part of testing.TB the helpers need
type TB interface {
	Helper()
	Errorf(format string, args ...any)
}

// NoCycles marks the test failed if a cycle is reachable from objs
func NoCycles(t TB, objs ...any) bool {
	t.Helper()
	return check(t, refcycles.AssertNoCycles(objs...))
}

// NoBackCycles marks the test failed if a cycle is found following the
// references held to objs
func NoBackCycles(t TB, objs ...any) bool {
	t.Helper()
	return check(t, refcycles.AssertNoBackCycles(objs...))
}

// With returns helpers bound to a configured checker
func With(c *refcycles.Checker) Checks {
	return Checks{checker: c}
}

// Checks are the helpers of one checker
type Checks struct {
	checker *refcycles.Checker
}

// NoCycles is the checker's variant of the package level NoCycles
func (c Checks) NoCycles(t TB, objs ...any) bool {
	t.Helper()
	return check(t, c.checker.AssertNoCycles(objs...))
}

// NoBackCycles is the checker's variant of the package level NoBackCycles
func (c Checks) NoBackCycles(t TB, objs ...any) bool {
	t.Helper()
	return check(t, c.checker.AssertNoBackCycles(objs...))
}

func check(t TB, err error) bool {
	t.Helper()
	if err != nil {
		t.Errorf("%v", err)
		return false
	}
	return true
}
