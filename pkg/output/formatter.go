package output

import (
	"bytes"
	"cmp"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/fatih/color"

	"github.com/ritzau/refcycles/pkg/model"
	"github.com/ritzau/refcycles/pkg/objgraph"
)

const (
	DefaultDepthMargin = 5
	DefaultMaxPaths    = 10
)

// Options controls how cycles are rendered
type Options struct {
	Color       bool            // ANSI colours
	Joined      bool            // Render all components as one
	DepthMargin int             // Back reference depth is component size plus this
	MaxPaths    int             // Back reference paths shown per component
	Direction   model.Direction // Edge direction of the check that found the cycles
}

func (o Options) withDefaults() Options {
	if o.DepthMargin <= 0 {
		o.DepthMargin = DefaultDepthMargin
	}
	if o.MaxPaths <= 0 {
		o.MaxPaths = DefaultMaxPaths
	}
	if o.Direction == "" {
		o.Direction = model.DirectionForward
	}
	return o
}

type palette struct {
	bold, red, yellow, cyan, faint *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		bold:   color.New(color.Bold),
		red:    color.New(color.FgRed, color.Bold),
		yellow: color.New(color.FgYellow),
		cyan:   color.New(color.FgCyan),
		faint:  color.New(color.Faint),
	}
	for _, c := range []*color.Color{p.bold, p.red, p.yellow, p.cyan, p.faint} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// RenderCycles renders the report as a string
func RenderCycles(components model.ComponentList, g *objgraph.Graph, opts Options) string {
	var buf bytes.Buffer
	_ = FormatCycles(&buf, components, g, opts)
	return buf.String()
}

// FormatCycles writes a report of every component: a histogram of the
// types involved and, per member, the shortest chain of references inside
// the component that leads back to it
func FormatCycles(w io.Writer, components model.ComponentList, g *objgraph.Graph, opts Options) error {
	opts = opts.withDefaults()
	p := newPalette(opts.Color)

	var b strings.Builder
	if components.Empty() {
		b.WriteString(p.bold.Sprint("No reference cycles found") + "\n")
		_, err := io.WriteString(w, b.String())
		return err
	}

	b.WriteString(p.bold.Sprintf("Found %d reference cycle(s) (%s, %d objects)",
		components.Len(), opts.Direction, components.Objects()))
	b.WriteString("\n")

	sections := components
	if opts.Joined {
		sections = components.Joined()
	}

	for i, c := range sections {
		b.WriteString("\n")
		title := fmt.Sprintf("Cycle %d: %d object(s)", i+1, c.Size())
		if opts.Joined {
			title = fmt.Sprintf("All cycles: %d object(s)", c.Size())
		}
		if c.SelfLoop {
			title += " referencing itself"
		}
		b.WriteString(p.red.Sprint(title) + "\n")

		writeHistogram(&b, c, p)
		writePaths(&b, c, g, opts, p)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// TypeCount is one row of a type histogram
type TypeCount struct {
	Name  string
	Count int
}

// Histogram returns the member types of c, most frequent first
func Histogram(c model.Component) []TypeCount {
	counts := make([]TypeCount, 0)
	for name, n := range c.Types() {
		counts = append(counts, TypeCount{Name: name, Count: n})
	}
	slices.SortFunc(counts, func(a, b TypeCount) int {
		if d := cmp.Compare(b.Count, a.Count); d != 0 {
			return d
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return counts
}

func writeHistogram(b *strings.Builder, c model.Component, p palette) {
	b.WriteString("  Types:\n")
	for _, tc := range Histogram(c) {
		fmt.Fprintf(b, "    %5d  %s\n", tc.Count, p.cyan.Sprint(tc.Name))
	}
}

func writePaths(b *strings.Builder, c model.Component, g *objgraph.Graph, opts Options, p palette) {
	if g == nil {
		return
	}
	depth := c.Size() + opts.DepthMargin
	fmt.Fprintf(b, "  Back references (max depth %d):\n", depth)

	shown := 0
	for _, n := range c.Nodes {
		if shown == opts.MaxPaths {
			b.WriteString(p.faint.Sprintf("    ... %d more object(s)", c.Size()-shown) + "\n")
			return
		}
		path := BackPath(g, c, n.ID, depth, opts.Direction)
		if path == nil {
			fmt.Fprintf(b, "    %s %s\n", label(g, n.ID), p.faint.Sprint("(no path within depth)"))
		} else {
			parts := make([]string, len(path))
			for i, id := range path {
				parts[i] = label(g, id)
			}
			b.WriteString("    " + p.yellow.Sprint(strings.Join(parts, " <- ")) + "\n")
		}
		shown++
	}
}

func label(g *objgraph.Graph, id int64) string {
	if n, ok := g.Object(id); ok {
		return n.Label
	}
	return fmt.Sprintf("#%d", id)
}

// BackPath returns the shortest chain start <- r1 <- ... <- start where
// each element references the one before it and every element belongs to
// c, or nil if none exists within depth references
func BackPath(g *objgraph.Graph, c model.Component, start int64, depth int, dir model.Direction) []int64 {
	referrers := g.Predecessors
	if dir == model.DirectionBackward {
		// Edges of a backward check point from an object to its referrers
		referrers = g.Successors
	}

	parent := map[int64]int64{start: start}
	dist := map[int64]int{start: 0}
	queue := []int64{start}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if dist[cur] >= depth {
			continue
		}

		for _, r := range referrers(cur) {
			if !c.Contains(r) {
				continue
			}
			if r == start {
				return unwind(parent, start, cur)
			}
			if _, seen := dist[r]; seen {
				continue
			}
			dist[r] = dist[cur] + 1
			parent[r] = cur
			queue = append(queue, r)
		}
	}
	return nil
}

// unwind turns the BFS parent chain ending in last into start <- ... <- last <- start
func unwind(parent map[int64]int64, start, last int64) []int64 {
	var rev []int64
	for id := last; id != start; id = parent[id] {
		rev = append(rev, id)
	}
	path := []int64{start}
	for i := len(rev) - 1; i >= 0; i-- {
		path = append(path, rev[i])
	}
	return append(path, start)
}
