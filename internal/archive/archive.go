package archive

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/updraft-io/updraft/internal/ir"
)

// Entries carry a fixed timestamp so archives over identical input are
// byte-identical regardless of when they were built.
var archiveEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// layerPrefix is where the runtime expects layer code to live inside the
// archive.
const layerPrefix = "python/"

var excludedDirs = map[string]bool{
	"__pycache__": true,
}

var excludedFiles = map[string]bool{
	".DS_Store": true,
}

// excluded reports whether a file name is kept out of archives.
func excluded(name string) bool {
	if excludedFiles[name] {
		return true
	}
	switch name {
	case ".layers", ".invokes":
		return true
	}
	if strings.HasSuffix(name, ".pyc") || strings.HasSuffix(name, "-darwin.so") {
		return true
	}
	return strings.HasPrefix(name, "_virtualenv")
}

// excludedDir reports whether a directory subtree is kept out of archives.
func excludedDir(name string) bool {
	return excludedDirs[name] || strings.HasPrefix(name, "_virtualenv")
}

// FileEntry is one file destined for a unit's archive.
type FileEntry struct {
	Rel  string
	Mode fs.FileMode

	path string // on disk, mutually exclusive with data
	data []byte
}

// Content returns the entry's bytes.
func (e FileEntry) Content() ([]byte, error) {
	if e.path != "" {
		return os.ReadFile(e.path)
	}
	return e.data, nil
}

// SourceFiles collects everything that belongs in a unit's archive:
// the source tree minus exclusions, plus the unit's generated files.
// Entries come back sorted by relative path. The same collection feeds
// both packaging and content hashing, so the two can never disagree
// about what a unit's inputs are.
func SourceFiles(unit *ir.Unit) ([]FileEntry, error) {
	byRel := make(map[string]FileEntry)

	if unit.SourceDir != "" {
		if _, err := os.Stat(unit.SourceDir); err != nil {
			if os.IsNotExist(err) {
				return nil, &PackagingError{Kind: MissingArtifact, UnitID: unit.ID, Path: unit.SourceDir, Err: err}
			}
			return nil, &PackagingError{Kind: IOFailure, UnitID: unit.ID, Path: unit.SourceDir, Err: err}
		}

		err := filepath.WalkDir(unit.SourceDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != unit.SourceDir && excludedDir(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || excluded(d.Name()) {
				return nil
			}
			rel, err := filepath.Rel(unit.SourceDir, path)
			if err != nil {
				return err
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			byRel[rel] = FileEntry{Rel: rel, Mode: info.Mode(), path: path}
			return nil
		})
		if err != nil {
			return nil, &PackagingError{Kind: IOFailure, UnitID: unit.ID, Path: unit.SourceDir, Err: err}
		}
	}

	// Generated files win over same-named files on disk.
	for name, data := range unit.Generated {
		rel := filepath.ToSlash(name)
		byRel[rel] = FileEntry{Rel: rel, Mode: 0o644, data: data}
	}

	entries := make([]FileEntry, 0, len(byRel))
	for _, e := range byRel {
		entries = append(entries, e)
	}

	if unit.Kind == ir.KindLayer {
		entries = prefixLayerEntries(entries)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Rel < entries[j].Rel })
	return entries, nil
}

// prefixLayerEntries nests layer content under the runtime's import path
// unless the source tree already provides it.
func prefixLayerEntries(entries []FileEntry) []FileEntry {
	for _, e := range entries {
		if strings.HasPrefix(e.Rel, layerPrefix) {
			return entries
		}
	}
	out := make([]FileEntry, len(entries))
	for i, e := range entries {
		e.Rel = layerPrefix + e.Rel
		out[i] = e
	}
	return out
}

// Build packages one unit into a zip under destDir and returns the
// artifact with its digests. Entries are written in sorted order with a
// fixed timestamp and preserved permission bits, so byte-identical
// sources always produce byte-identical archives.
func Build(unit *ir.Unit, destDir string) (*ir.Artifact, error) {
	entries, err := SourceFiles(unit)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, &PackagingError{
			Kind: MissingArtifact, UnitID: unit.ID, Path: unit.SourceDir,
			Err: errors.New("no files to package"),
		}
	}
	if unit.Kind == ir.KindFunction {
		if err := requireHandler(unit, entries); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, entry := range entries {
		header := &zip.FileHeader{
			Name:     entry.Rel,
			Method:   zip.Deflate,
			Modified: archiveEpoch,
		}
		header.SetMode(entry.Mode.Perm())

		w, err := zw.CreateHeader(header)
		if err != nil {
			return nil, &PackagingError{Kind: IOFailure, UnitID: unit.ID, Path: entry.Rel, Err: err}
		}
		content, err := entry.Content()
		if err != nil {
			return nil, &PackagingError{Kind: IOFailure, UnitID: unit.ID, Path: entry.Rel, Err: err}
		}
		if _, err := w.Write(content); err != nil {
			return nil, &PackagingError{Kind: IOFailure, UnitID: unit.ID, Path: entry.Rel, Err: err}
		}
	}
	if err := zw.Close(); err != nil {
		return nil, &PackagingError{Kind: IOFailure, UnitID: unit.ID, Path: destDir, Err: err}
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, &PackagingError{Kind: IOFailure, UnitID: unit.ID, Path: destDir, Err: err}
	}
	path := filepath.Join(destDir, FileName(unit.ID))
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return nil, &PackagingError{Kind: IOFailure, UnitID: unit.ID, Path: path, Err: err}
	}

	sum := sha256.Sum256(buf.Bytes())
	return &ir.Artifact{
		UnitID:     unit.ID,
		Path:       path,
		Size:       int64(buf.Len()),
		SHA256:     hex.EncodeToString(sum[:]),
		CodeSHA256: base64.StdEncoding.EncodeToString(sum[:]),
	}, nil
}

// requireHandler rejects function archives without their entry point.
func requireHandler(unit *ir.Unit, entries []FileEntry) error {
	handlerFile := "lambda_function.py"
	for _, e := range entries {
		if e.Rel == handlerFile {
			return nil
		}
	}
	return &PackagingError{
		Kind: MissingArtifact, UnitID: unit.ID, Path: unit.SourceDir,
		Err: fmt.Errorf("entry point %s not found", handlerFile),
	}
}

// FileName returns the archive file name for a unit identifier.
func FileName(unitID string) string {
	s := strings.NewReplacer(":", "-", "/", "-", " ", "-").Replace(unitID)
	return s + ".zip"
}
