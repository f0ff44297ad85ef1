package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/ritzau/refcycles/pkg/heap"
)

const (
	// DefaultFile is read from the working directory when present
	DefaultFile = "refcycles.toml"
	envPrefix   = "REFCYCLES_"
)

// Config holds all configuration for cycle checks and the CLI
type Config struct {
	Direction   string   `koanf:"direction"`
	Squeeze     bool     `koanf:"squeeze"`
	IgnoreTypes []string `koanf:"ignore-types"`
	DepthMargin int      `koanf:"depth-margin"`
	MaxPaths    int      `koanf:"max-paths"`
	Joined      bool     `koanf:"joined"`
	Color       bool     `koanf:"color"`
	JSON        bool     `koanf:"json"`
	Watch       bool     `koanf:"watch"`
	Serve       string   `koanf:"serve"` // Address of the report server in watch mode, empty for none
	Verbosity   string   `koanf:"verbosity"`
	VerboseCnt  int      `koanf:"verbose"`
}

// Defaults returns the configuration used when nothing else is set
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"direction":    "forward",
		"squeeze":      true,
		"ignore-types": []string{},
		"depth-margin": 5,
		"max-paths":    10,
		"joined":       false,
		"color":        false,
		"json":         false,
		"watch":        false,
		"serve":        "",
		"verbosity":    "",
		"verbose":      0,
	}
}

// Load loads configuration from defaults, config file, environment variables, and flags.
// Priority: Flags > Env > Config File > Defaults
//
// The config file is DefaultFile unless the flag set carries a "config" flag.
func Load(f *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(makeMapProvider(Defaults()), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config File. The default one is optional, an explicit one is not
	path, explicit := configPath(f)
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil && explicit {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	// 3. Environment Variables
	// Prefix: REFCYCLES_ (e.g., REFCYCLES_DEPTH_MARGIN=8)
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, envPrefix)), "_", "-")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags
	if f != nil {
		if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.IgnoreTypes = splitList(cfg.IgnoreTypes)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that the type system cannot
func (c *Config) Validate() error {
	if _, err := heap.ParseDirection(c.Direction); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.DepthMargin < 0 {
		return fmt.Errorf("invalid config: depth-margin must not be negative, got %d", c.DepthMargin)
	}
	if c.MaxPaths < 0 {
		return fmt.Errorf("invalid config: max-paths must not be negative, got %d", c.MaxPaths)
	}
	if c.Serve != "" && !c.Watch {
		return fmt.Errorf("invalid config: serve requires watch")
	}
	return nil
}

func configPath(f *pflag.FlagSet) (string, bool) {
	if f == nil {
		return DefaultFile, false
	}
	flag := f.Lookup("config")
	if flag == nil || flag.Value.String() == "" {
		return DefaultFile, false
	}
	return flag.Value.String(), flag.Changed
}

// splitList accepts comma separated entries, which is how lists arrive
// from environment variables
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Helper to use map as a provider
type mapProvider struct {
	m map[string]interface{}
}

func makeMapProvider(m map[string]interface{}) *mapProvider {
	return &mapProvider{m: m}
}

func (p *mapProvider) Read() (map[string]interface{}, error) {
	return p.m, nil
}

func (p *mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}
