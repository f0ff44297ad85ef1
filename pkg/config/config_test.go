package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	f := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f.String("config", "", "")
	f.String("direction", "forward", "")
	f.Int("depth-margin", 5, "")
	f.StringSlice("ignore-types", nil, "")
	f.Bool("joined", false, "")
	require.NoError(t, f.Parse(args))
	return f
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "forward", cfg.Direction)
	assert.True(t, cfg.Squeeze)
	assert.Equal(t, 5, cfg.DepthMargin)
	assert.Equal(t, 10, cfg.MaxPaths)
	assert.Empty(t, cfg.IgnoreTypes)
	assert.False(t, cfg.Joined)
}

func TestLoad_Priority(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFile), []byte(`
direction = "backward"
depth-margin = 7
max-paths = 3
joined = true
`), 0o644))
	t.Setenv("REFCYCLES_DEPTH_MARGIN", "9")
	t.Setenv("REFCYCLES_IGNORE_TYPES", "*sync.Pool,*app.cache")

	cfg, err := Load(flags(t, "--direction=forward"))
	require.NoError(t, err)

	assert.Equal(t, "forward", cfg.Direction, "flag beats file")
	assert.Equal(t, 9, cfg.DepthMargin, "env beats file")
	assert.Equal(t, 3, cfg.MaxPaths, "file beats default")
	assert.True(t, cfg.Joined, "unset flag keeps file value")
	assert.Equal(t, []string{"*sync.Pool", "*app.cache"}, cfg.IgnoreTypes)
}

func TestLoad_ExplicitConfigMustExist(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load(flags(t, "--config=missing.toml"))
	assert.Error(t, err)
}

func TestLoad_InvalidDirection(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load(flags(t, "--direction=sideways"))
	assert.ErrorContains(t, err, "invalid config")
}

func TestValidate(t *testing.T) {
	cfg := Config{Direction: "backward", DepthMargin: -1}
	assert.Error(t, cfg.Validate())

	cfg.DepthMargin = 0
	assert.NoError(t, cfg.Validate())
}

func TestValidate_ServeRequiresWatch(t *testing.T) {
	cfg := Config{Direction: "forward", Serve: "localhost:8080"}
	assert.ErrorContains(t, cfg.Validate(), "serve requires watch")

	cfg.Watch = true
	assert.NoError(t, cfg.Validate())
}
