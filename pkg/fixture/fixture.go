// Package fixture loads synthetic heaps from TOML or YAML files:
//
//	seeds = ["conn"]
//
//	[[objects]]
//	name = "conn"
//	kind = "*net.Conn"
//	refs = ["session"]
//
//	[[objects]]
//	name = "session"
//	refs = ["conn"]
//	shadows = []
package fixture

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"github.com/ritzau/refcycles/pkg/memgraph"
)

// ErrInvalid is wrapped by every error about the content of a fixture
var ErrInvalid = errors.New("invalid fixture")

type objectEntry struct {
	Name    string   `koanf:"name" yaml:"name"`
	Kind    string   `koanf:"kind" yaml:"kind"`
	Refs    []string `koanf:"refs" yaml:"refs"`
	Shadows []string `koanf:"shadows" yaml:"shadows"`
}

type document struct {
	Seeds     []string      `koanf:"seeds" yaml:"seeds"`
	Transient bool          `koanf:"transient" yaml:"transient"`
	Objects   []objectEntry `koanf:"objects" yaml:"objects"`
}

// Fixture is a loaded synthetic heap and the objects to check
type Fixture struct {
	Path  string
	Graph *memgraph.Graph
	Seeds []*memgraph.Object
}

// SeedValues returns the seeds in the form the checks take them
func (f *Fixture) SeedValues() []any {
	out := make([]any, len(f.Seeds))
	for i, s := range f.Seeds {
		out[i] = s
	}
	return out
}

// Load reads and validates the fixture at path. Files ending in .yaml or
// .yml are YAML, everything else is TOML.
func Load(path string) (*Fixture, error) {
	var (
		s   document
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		s, err = readYAML(path)
	default:
		s, err = readTOML(path)
	}
	if err != nil {
		return nil, err
	}

	f, err := build(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.Path = path
	return f, nil
}

func readTOML(path string) (document, error) {
	var s document
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		return s, fmt.Errorf("failed to load fixture %s: %w", path, err)
	}
	if err := k.Unmarshal("", &s); err != nil {
		return s, fmt.Errorf("failed to unmarshal fixture %s: %w", path, err)
	}
	return s, nil
}

func readYAML(path string) (document, error) {
	var s document
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("failed to load fixture %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("failed to unmarshal fixture %s: %w", path, err)
	}
	return s, nil
}

// build creates the graph, reporting every problem rather than the first
func build(s document) (*Fixture, error) {
	var opts []memgraph.Option
	if s.Transient {
		opts = append(opts, memgraph.Transient())
	}
	g := memgraph.New(opts...)

	var errs *multierror.Error
	invalid := func(format string, args ...any) {
		errs = multierror.Append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	for _, o := range s.Objects {
		if _, err := g.Add(o.Name, o.Kind); err != nil {
			invalid("%w", err)
		}
	}

	for _, o := range s.Objects {
		from, ok := g.Object(o.Name)
		if !ok {
			continue
		}
		for _, ref := range o.Refs {
			to, ok := g.Object(ref)
			if !ok {
				invalid("ref of %q names unknown object %q", o.Name, ref)
				continue
			}
			g.Link(from, to)
		}
		for _, name := range o.Shadows {
			shadow, ok := g.Object(name)
			if !ok {
				invalid("shadow of %q names unknown object %q", o.Name, name)
				continue
			}
			g.Shadow(from, shadow)
		}
	}

	if len(s.Seeds) == 0 {
		invalid("no seeds")
	}
	seeds := make([]*memgraph.Object, 0, len(s.Seeds))
	for _, name := range s.Seeds {
		obj, ok := g.Object(name)
		if !ok {
			invalid("unknown seed %q", name)
			continue
		}
		seeds = append(seeds, obj)
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return &Fixture{Graph: g, Seeds: seeds}, nil
}
