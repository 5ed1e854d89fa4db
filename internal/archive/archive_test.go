package archive

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/updraft-io/updraft/internal/ir"
)

func writeSource(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func readZip(t *testing.T, path string) map[string]*zip.File {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	out := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		out[f.Name] = f
	}
	return out
}

func TestBuild_Deterministic(t *testing.T) {
	dir := writeSource(t, map[string]string{
		"lambda_function.py": "def lambda_handler(event, context):\n    return {}\n",
		"lib/util.py":        "VALUE = 1\n",
	})
	unit := &ir.Unit{
		ID: ir.FunctionID("users"), Kind: ir.KindFunction, Name: "users", SourceDir: dir,
	}

	first, err := Build(unit, t.TempDir())
	require.NoError(t, err)
	second, err := Build(unit, t.TempDir())
	require.NoError(t, err)

	a, err := os.ReadFile(first.Path)
	require.NoError(t, err)
	b, err := os.ReadFile(second.Path)
	require.NoError(t, err)

	// Fixed timestamps and sorted entries make rebuilds byte-identical.
	assert.True(t, bytes.Equal(a, b))
	assert.Equal(t, first.SHA256, second.SHA256)
	assert.Equal(t, first.CodeSHA256, second.CodeSHA256)
	assert.Equal(t, first.Size, second.Size)
}

func TestBuild_ExcludesArtifactsAndCaches(t *testing.T) {
	dir := writeSource(t, map[string]string{
		"lambda_function.py":           "def lambda_handler(event, context):\n    return {}\n",
		"util.py":                      "VALUE = 1\n",
		"util.pyc":                     "compiled",
		"__pycache__/util.cpython.pyc": "compiled",
		"_virtualenv/lib/site.py":      "venv",
		"native-darwin.so":             "mac only",
		".DS_Store":                    "junk",
		".layers":                      "common\n",
		".invokes":                     "other\n",
	})
	unit := &ir.Unit{
		ID: ir.FunctionID("users"), Kind: ir.KindFunction, Name: "users", SourceDir: dir,
	}

	artifact, err := Build(unit, t.TempDir())
	require.NoError(t, err)

	files := readZip(t, artifact.Path)
	assert.Contains(t, files, "lambda_function.py")
	assert.Contains(t, files, "util.py")
	for _, name := range []string{
		"util.pyc", "__pycache__/util.cpython.pyc", "_virtualenv/lib/site.py",
		"native-darwin.so", ".DS_Store", ".layers", ".invokes",
	} {
		assert.NotContains(t, files, name)
	}
}

func TestBuild_PreservesExecutableBit(t *testing.T) {
	dir := writeSource(t, map[string]string{
		"lambda_function.py": "def lambda_handler(event, context):\n    return {}\n",
		"bin/tool":           "#!/bin/sh\n",
	})
	require.NoError(t, os.Chmod(filepath.Join(dir, "bin", "tool"), 0o755))
	unit := &ir.Unit{
		ID: ir.FunctionID("users"), Kind: ir.KindFunction, Name: "users", SourceDir: dir,
	}

	artifact, err := Build(unit, t.TempDir())
	require.NoError(t, err)

	files := readZip(t, artifact.Path)
	require.Contains(t, files, "bin/tool")
	assert.NotZero(t, files["bin/tool"].Mode()&0o100)
	assert.Zero(t, files["lambda_function.py"].Mode()&0o100)
}

func TestBuild_LayerContentIsPrefixed(t *testing.T) {
	dir := writeSource(t, map[string]string{
		"shared.py":     "VERSION = 1\n",
		"pkg/helper.py": "X = 2\n",
	})
	unit := &ir.Unit{
		ID: ir.LayerID("common"), Kind: ir.KindLayer, Name: "common", SourceDir: dir,
	}

	artifact, err := Build(unit, t.TempDir())
	require.NoError(t, err)

	files := readZip(t, artifact.Path)
	assert.Contains(t, files, "python/shared.py")
	assert.Contains(t, files, "python/pkg/helper.py")
	assert.NotContains(t, files, "shared.py")
}

func TestBuild_AlreadyPrefixedLayerPassesThrough(t *testing.T) {
	dir := writeSource(t, map[string]string{
		"python/shared.py": "VERSION = 1\n",
	})
	unit := &ir.Unit{
		ID: ir.LayerID("common"), Kind: ir.KindLayer, Name: "common", SourceDir: dir,
	}

	artifact, err := Build(unit, t.TempDir())
	require.NoError(t, err)

	files := readZip(t, artifact.Path)
	assert.Contains(t, files, "python/shared.py")
	assert.NotContains(t, files, "python/python/shared.py")
}

func TestBuild_GeneratedFilesWin(t *testing.T) {
	dir := writeSource(t, map[string]string{
		"lambda_function.py": "original\n",
	})
	unit := &ir.Unit{
		ID: ir.FunctionID("users"), Kind: ir.KindFunction, Name: "users", SourceDir: dir,
		Generated: map[string][]byte{
			"lambda_function.py": []byte("wrapped\n"),
			"runtime_meta.py":    []byte("META = 1\n"),
		},
	}

	artifact, err := Build(unit, t.TempDir())
	require.NoError(t, err)

	files := readZip(t, artifact.Path)
	require.Contains(t, files, "lambda_function.py")
	rc, err := files["lambda_function.py"].Open()
	require.NoError(t, err)
	defer rc.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(rc)
	require.NoError(t, err)
	assert.Equal(t, "wrapped\n", buf.String())
	assert.Contains(t, files, "runtime_meta.py")
}

func TestBuild_MissingHandlerFails(t *testing.T) {
	dir := writeSource(t, map[string]string{
		"util.py": "VALUE = 1\n",
	})
	unit := &ir.Unit{
		ID: ir.FunctionID("users"), Kind: ir.KindFunction, Name: "users", SourceDir: dir,
	}

	_, err := Build(unit, t.TempDir())

	var pkgErr *PackagingError
	require.ErrorAs(t, err, &pkgErr)
	assert.Equal(t, MissingArtifact, pkgErr.Kind)
	assert.Contains(t, err.Error(), "lambda_function.py")
}

func TestBuild_MissingSourceDirFails(t *testing.T) {
	unit := &ir.Unit{
		ID: ir.LayerID("common"), Kind: ir.KindLayer, Name: "common",
		SourceDir: "/nonexistent/layers/common",
	}

	_, err := Build(unit, t.TempDir())

	var pkgErr *PackagingError
	require.ErrorAs(t, err, &pkgErr)
	assert.Equal(t, MissingArtifact, pkgErr.Kind)
	assert.Equal(t, ir.LayerID("common"), pkgErr.UnitID)
}

func TestBuild_EmptyUnitFails(t *testing.T) {
	unit := &ir.Unit{
		ID: ir.LayerID("common"), Kind: ir.KindLayer, Name: "common", SourceDir: t.TempDir(),
	}

	_, err := Build(unit, t.TempDir())

	var pkgErr *PackagingError
	require.ErrorAs(t, err, &pkgErr)
	assert.Equal(t, MissingArtifact, pkgErr.Kind)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "layer-common.zip", FileName(ir.LayerID("common")))
	assert.Equal(t, "function-users.zip", FileName(ir.FunctionID("users")))
	assert.Equal(t, "route-GET--users.zip", FileName(ir.RouteID("GET", "/users")))
}
