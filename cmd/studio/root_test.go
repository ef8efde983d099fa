package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// studio runs the root command once, like a fresh process would.
func studio(t *testing.T, cfgPath string, args ...string) string {
	t.Helper()
	stdin = nil
	assumeYes = false
	backend = ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(bytes.NewReader(nil))
	rootCmd.SetArgs(append([]string{"--config", cfgPath, "--session", "cli"}, args...))
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func writeConfig(t *testing.T) string {
	t.Helper()
	t.Setenv("STUDIO_STORE", "")
	t.Setenv("STUDIO_RUNTIME", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "studio.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
runtime:
  backend: starlark
store:
  kind: file
  path: `+filepath.Join(dir, "store.json")+`
`), 0o644))
	return path
}

func TestSelectionCarriesAcrossInvocations(t *testing.T) {
	cfg := writeConfig(t)

	studio(t, cfg, "files", "select", "1")
	out := studio(t, cfg, "run")
	assert.Contains(t, out, "--- running example_loop.py ---")
	assert.Contains(t, out, "line 4")
	assert.NotContains(t, out, "fib(10)")

	studio(t, cfg, "files", "new", "mine.py")
	assert.Equal(t, "# new file\n", studio(t, cfg, "files", "cat"))

	studio(t, cfg, "examples", "import", "1")
	assert.Contains(t, studio(t, cfg, "files", "cat"), "def primes(n):")
}
