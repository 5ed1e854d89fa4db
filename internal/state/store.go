package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/updraft-io/updraft/internal/ir"
)

const (
	// DirName is the project-local directory holding the record, lock
	// and packaged artifacts.
	DirName    = ".updraft"
	recordFile = "record.json"
)

// Store handles reading and writing of the deployment record.
type Store struct {
	dir string
}

func NewStore(root string) *Store {
	return &Store{dir: filepath.Join(root, DirName)}
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) RecordPath() string {
	return filepath.Join(s.dir, recordFile)
}

// ArtifactsDir is where packaged archives land.
func (s *Store) ArtifactsDir() string {
	return filepath.Join(s.dir, "artifacts")
}

// Read loads the record from disk. A missing record yields a fresh
// empty one; anything unreadable, corrupt, or written by an unknown
// schema version is a StoreError. The record is never silently reset.
func (s *Store) Read() (*ir.Record, error) {
	path := s.RecordPath()

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ir.NewRecord(), nil
	}
	if err != nil {
		return nil, &StoreError{Op: "reading", Path: path, Err: err}
	}

	var record ir.Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, &StoreError{Op: "parsing", Path: path, Err: err}
	}
	if record.Version != ir.RecordVersion {
		return nil, &StoreError{
			Op:   "parsing",
			Path: path,
			Err:  fmt.Errorf("unsupported record version %d (this build understands version %d)", record.Version, ir.RecordVersion),
		}
	}
	if record.Units == nil {
		record.Units = make(map[string]*ir.RecordEntry)
	}
	return &record, nil
}

// Write persists the record atomically: a temp file in the same
// directory is renamed over the old record, so a crash mid-write can
// never leave a half-written record behind.
func (s *Store) Write(record *ir.Record) error {
	path := s.RecordPath()
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return &StoreError{Op: "writing", Path: path, Err: err}
	}

	record.Version = ir.RecordVersion
	record.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return &StoreError{Op: "writing", Path: path, Err: err}
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &StoreError{Op: "writing", Path: path, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &StoreError{Op: "writing", Path: path, Err: err}
	}
	return nil
}
