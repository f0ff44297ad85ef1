package refcycles

import (
	"errors"
	"fmt"

	"github.com/ritzau/refcycles/pkg/heap"
	"github.com/ritzau/refcycles/pkg/identity"
	"github.com/ritzau/refcycles/pkg/model"
	"github.com/ritzau/refcycles/pkg/reach"
)

var (
	// ErrCycleDetected is matched by every *CycleFailure
	ErrCycleDetected = errors.New("reference cycle detected")

	// ErrReflectionUnavailable means the reflector could not answer a
	// query. The check was aborted without a result.
	ErrReflectionUnavailable = reach.ErrReflectionUnavailable

	// ErrIdentityCollision means two distinct objects got the same key.
	// It points at a broken KeyFunc, never at the objects checked.
	ErrIdentityCollision = identity.ErrIdentityCollision
)

// CycleFailure is returned by the assertions when a check finds cycles
type CycleFailure struct {
	CheckID    string
	Direction  heap.Direction
	Components model.ComponentList
	Report     string // Rendered report, as the user would see it
}

func (f *CycleFailure) Error() string {
	return fmt.Sprintf("%s: %d %s component(s), %d object(s)\n%s",
		ErrCycleDetected, f.Components.Len(), f.Direction, f.Components.Objects(), f.Report)
}

func (f *CycleFailure) Unwrap() error {
	return ErrCycleDetected
}
