// Package refcycles checks that objects are not part of, or do not lead
// to, reference cycles.
//
// A check explores every object reachable from the seeds, either along the
// references each object holds (forward) or along the references held to
// it (backward), and reports the strongly connected components of the
// resulting graph:
//
//	if err := refcycles.AssertNoCycles(conn); err != nil {
//		t.Fatal(err)
//	}
//
// Go's collector reclaims cycles, so a cycle is not a leak by itself. What a
// check surfaces is structure: an object that can reach itself keeps
// everything on the way alive for as long as any part of it is reachable.
package refcycles

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"slices"

	"github.com/google/uuid"

	"github.com/ritzau/refcycles/pkg/config"
	"github.com/ritzau/refcycles/pkg/cycles"
	"github.com/ritzau/refcycles/pkg/heap"
	"github.com/ritzau/refcycles/pkg/identity"
	"github.com/ritzau/refcycles/pkg/ignore"
	"github.com/ritzau/refcycles/pkg/logging"
	"github.com/ritzau/refcycles/pkg/model"
	"github.com/ritzau/refcycles/pkg/objgraph"
	"github.com/ritzau/refcycles/pkg/output"
	"github.com/ritzau/refcycles/pkg/reach"
)

// Options configure a Checker. The zero value checks live Go objects with
// the default ignore policy.
type Options struct {
	// Reflector answers adjacency queries. Nil means a heap.Snapshot over
	// the seeds and Universe, built per check.
	Reflector heap.Reflector

	// Universe are extra roots for the default reflector. Backward checks
	// only see referrers reachable from the seeds or the universe.
	Universe []any

	// Policy decides what is not a node. Nil means ignore.Default. The
	// check's own bookkeeping is always excluded.
	Policy ignore.Policy

	// KeyFunc maps objects to their identity. Nil means heap.KeyOf.
	KeyFunc identity.KeyFunc

	// KeepTrivial keeps single-object components that do not reference
	// themselves
	KeepTrivial bool

	// Report controls the rendering of failures
	Report output.Options

	// ReportTo receives the report of every failed assertion before it
	// is returned
	ReportTo io.Writer
}

// OptionsFromConfig maps loaded configuration onto checker options
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	extra, err := ignore.NewTypes(cfg.IgnoreTypes...)
	if err != nil {
		return Options{}, fmt.Errorf("invalid ignore-types: %w", err)
	}
	return Options{
		Policy: ignore.Chain(
			ignore.MustTypes(ignore.DefaultTypes...),
			extra,
			ignore.Shadowing{},
		),
		KeepTrivial: !cfg.Squeeze,
		Report: output.Options{
			Color:       cfg.Color,
			Joined:      cfg.Joined,
			DepthMargin: cfg.DepthMargin,
			MaxPaths:    cfg.MaxPaths,
		},
	}, nil
}

// Checker runs cycle checks. It holds no state between checks and may be
// shared, though checks on objects that are being mutated give undefined
// results.
type Checker struct {
	opts Options
}

// Result is the outcome of one check
type Result struct {
	CheckID    string
	Direction  heap.Direction
	Components model.ComponentList
	Graph      *objgraph.Graph // Graph of the reachable set
	Reachable  int
}

// New creates a checker
func New(opts Options) *Checker {
	return &Checker{opts: opts}
}

// FindComponents runs the check pipeline from seeds in direction dir and
// returns the components found, largest first
func (c *Checker) FindComponents(seeds []any, dir heap.Direction) (*Result, error) {
	checkID := uuid.NewString()
	ctx := logging.WithCheckID(context.Background(), checkID)

	registry := ignore.NewRegistry()
	reflector := c.opts.Reflector
	if reflector == nil {
		roots := append(slices.Clone(seeds), c.opts.Universe...)
		snapshot := heap.NewSnapshot(nil, roots...)
		registry.Register(snapshot, roots)
		reflector = snapshot
	}

	values := make([]reflect.Value, 0, len(seeds))
	for _, s := range seeds {
		values = append(values, reflect.ValueOf(s))
	}
	registry.Register(values)

	edges := heap.EdgesFor(reflector, dir)
	ids := identity.NewAssigner(c.opts.KeyFunc)

	logging.DebugContext(ctx, "Starting cycle check", "direction", dir, "seeds", len(seeds))

	set, err := reach.NewCollector(edges, c.policy(registry), ids, registry).Collect(ctx, values)
	if err != nil {
		logging.DebugContext(ctx, "Cycle check aborted", "error", err)
		return nil, err
	}

	g, err := objgraph.Build(set, edges, ids)
	if err != nil {
		logging.DebugContext(ctx, "Cycle check aborted", "error", err)
		return nil, err
	}

	components := cycles.FindObjectCycles(g, !c.opts.KeepTrivial)
	for i, comp := range components {
		logging.TraceContext(ctx, "Component", "index", i, "size", comp.Size(), "self_loop", comp.SelfLoop)
	}
	logging.DebugContext(ctx, "Cycle check done",
		"reachable", set.Len(),
		"edges", g.EdgeCount(),
		"components", components.Len(),
		"ignored", registry.Len())

	return &Result{
		CheckID:    checkID,
		Direction:  dir,
		Components: components,
		Graph:      g,
		Reachable:  set.Len(),
	}, nil
}

// AssertNoCycles fails with a *CycleFailure if any cycle is reachable from
// objs along the references they hold. Cycles that merely point at one of
// objs are not found, use AssertNoBackCycles for those.
func (c *Checker) AssertNoCycles(objs ...any) error {
	return c.assert(objs, heap.Forward)
}

// AssertNoBackCycles fails with a *CycleFailure if any cycle is found
// following the references held to objs
func (c *Checker) AssertNoBackCycles(objs ...any) error {
	return c.assert(objs, heap.Backward)
}

func (c *Checker) assert(objs []any, dir heap.Direction) error {
	res, err := c.FindComponents(objs, dir)
	if err != nil {
		return err
	}
	if res.Components.Empty() {
		return nil
	}

	report := c.Render(res)
	if c.opts.ReportTo != nil {
		if _, err := io.WriteString(c.opts.ReportTo, report); err != nil {
			logging.Warn("Failed to write cycle report", "check", res.CheckID, "error", err)
		}
	}
	logging.Info("Reference cycles detected",
		"check", res.CheckID,
		"direction", dir,
		"components", res.Components.Len(),
		"objects", res.Components.Objects())

	return &CycleFailure{
		CheckID:    res.CheckID,
		Direction:  dir,
		Components: res.Components,
		Report:     report,
	}
}

// Render renders the report of a result with the checker's report options
func (c *Checker) Render(res *Result) string {
	opts := c.opts.Report
	opts.Direction = model.Direction(res.Direction.String())
	return output.RenderCycles(res.Components, res.Graph, opts)
}

func (c *Checker) policy(registry *ignore.Registry) ignore.Policy {
	if c.opts.Policy == nil {
		return ignore.Default(registry)
	}
	return ignore.Chain(registry, c.opts.Policy)
}

var defaultChecker = New(Options{})

// AssertNoCycles runs Checker.AssertNoCycles with default options
func AssertNoCycles(objs ...any) error {
	return defaultChecker.AssertNoCycles(objs...)
}

// AssertNoBackCycles runs Checker.AssertNoBackCycles with default options
func AssertNoBackCycles(objs ...any) error {
	return defaultChecker.AssertNoBackCycles(objs...)
}

// FindComponents is the lower level entry point for custom checks. A nil
// policy means ignore.Default.
func FindComponents(seeds []any, dir heap.Direction, policy ignore.Policy, squeeze bool) (model.ComponentList, error) {
	res, err := New(Options{Policy: policy, KeepTrivial: !squeeze}).FindComponents(seeds, dir)
	if err != nil {
		return nil, err
	}
	return res.Components, nil
}
