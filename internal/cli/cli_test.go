package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandSurface(t *testing.T) {
	var names []string
	for _, cmd := range rootCmd.Commands() {
		names = append(names, cmd.Name())
	}

	assert.Contains(t, names, "build")
	assert.Contains(t, names, "detect")
	assert.Contains(t, names, "graph")
	assert.Contains(t, names, "config")
	assert.Contains(t, names, "version")
}

func TestBuildFlags(t *testing.T) {
	for _, flag := range []string{"env", "dry-run", "fail-fast", "verify", "concurrency"} {
		assert.NotNil(t, buildCmd.Flags().Lookup(flag), flag)
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("verbose"))
}

func TestExitError(t *testing.T) {
	err := &ExitError{Code: 2, Message: "build completed with failures or skipped units"}
	assert.Equal(t, "build completed with failures or skipped units", err.Error())
	assert.Equal(t, 2, err.Code)
}

func TestProjectRoot(t *testing.T) {
	// No argument resolves to the working directory.
	wd, err := os.Getwd()
	require.NoError(t, err)
	root, err := projectRoot(nil)
	require.NoError(t, err)
	assert.Equal(t, wd, root)

	// A directory argument resolves to its absolute path.
	dir := t.TempDir()
	root, err = projectRoot([]string{dir})
	require.NoError(t, err)
	assert.Equal(t, dir, root)

	// Files and missing paths are rejected.
	file := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = projectRoot([]string{file})
	assert.ErrorContains(t, err, "not a directory")

	_, err = projectRoot([]string{filepath.Join(dir, "missing")})
	assert.Error(t, err)
}
