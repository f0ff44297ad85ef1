package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ritzau/refcycles/pkg/model"
)

const cyclic = `
seeds = ["a"]

[[objects]]
name = "a"
kind = "*app.conn"
refs = ["b"]

[[objects]]
name = "b"
kind = "*app.session"
refs = ["a"]
`

const acyclic = `
seeds = ["a"]

[[objects]]
name = "a"
refs = ["b"]

[[objects]]
name = "b"
`

func fixtureFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "heap.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRun_Acyclic(t *testing.T) {
	path := fixtureFile(t, acyclic)
	var stdout, stderr bytes.Buffer

	code := run([]string{path}, &stdout, &stderr)

	assert.Equal(t, exitOK, code, stderr.String())
	assert.Contains(t, stdout.String(), "No reference cycles found")
}

func TestRun_Cycles(t *testing.T) {
	path := fixtureFile(t, cyclic)
	var stdout, stderr bytes.Buffer

	code := run([]string{path}, &stdout, &stderr)

	assert.Equal(t, exitCycles, code, stderr.String())
	assert.Contains(t, stdout.String(), "Cycle 1: 2 object(s)")
	assert.Contains(t, stdout.String(), "*app.conn")
	assert.Empty(t, stderr.String())
}

func TestRun_JSON(t *testing.T) {
	path := fixtureFile(t, cyclic)
	var stdout, stderr bytes.Buffer

	code := run([]string{"--json", "-d", "backward", path}, &stdout, &stderr)
	require.Equal(t, exitCycles, code, stderr.String())

	var report model.Report
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &report))
	assert.Equal(t, "backward", string(report.Direction))
	assert.Equal(t, 2, report.Reachable)
	assert.Equal(t, []int{2}, report.Components.Sizes())
	assert.NotEmpty(t, report.CheckID)
}

func TestRun_Errors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	dir := t.TempDir()
	t.Chdir(dir)

	assert.Equal(t, exitError, run([]string{filepath.Join(dir, "missing.toml")}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Error:")

	assert.Equal(t, exitError, run([]string{}, &stdout, &stderr), "a fixture argument is required")

	path := fixtureFile(t, cyclic)
	assert.Equal(t, exitError, run([]string{"--direction=up", path}, &stdout, &stderr))

	stderr.Reset()
	assert.Equal(t, exitError, run([]string{"--serve=localhost:0", path}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "serve requires watch")
}

func TestRun_ConfigFile(t *testing.T) {
	path := fixtureFile(t, cyclic)
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "refcycles.toml"),
		[]byte(`ignore-types = ["*app.*"]`+"\n"), 0o644))
	var stdout, stderr bytes.Buffer

	code := run([]string{path}, &stdout, &stderr)

	assert.Equal(t, exitOK, code, "every object is ignored: %s", stderr.String())
}

func TestRun_Kinds(t *testing.T) {
	path := fixtureFile(t, `
seeds = ["a"]

[[objects]]
name = "a"
kind = "*app.conn"
refs = ["b"]

[[objects]]
name = "b"
kind = "*app.cache"
refs = ["a"]
`)
	var stdout, stderr bytes.Buffer

	code := run([]string{path}, &stdout, &stderr)
	require.Equal(t, exitCycles, code, stderr.String())
	assert.Contains(t, stdout.String(), "1  *app.cache")
	assert.Contains(t, stdout.String(), "1  *app.conn")
	assert.NotContains(t, stdout.String(), "*memgraph.Object\n")

	stdout.Reset()
	code = run([]string{"--ignore-types", `\*app.cache`, path}, &stdout, &stderr)
	assert.Equal(t, exitOK, code, "ignoring one kind breaks the cycle: %s", stdout.String())
}
