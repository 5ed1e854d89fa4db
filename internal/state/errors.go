package state

import "fmt"

// StoreError is a deployment record problem. Every StoreError is fatal:
// the record is the source of truth for incremental builds, and running
// against a record we cannot trust would redeploy or orphan resources.
type StoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s deployment record %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
