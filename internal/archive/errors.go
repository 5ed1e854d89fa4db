package archive

import "fmt"

// PackagingErrorKind separates "the input is incomplete" from "the
// filesystem failed".
type PackagingErrorKind string

const (
	MissingArtifact PackagingErrorKind = "missing_artifact"
	IOFailure       PackagingErrorKind = "io_failure"
)

// PackagingError is a per-unit packaging failure. It never aborts
// unrelated units on its own.
type PackagingError struct {
	Kind   PackagingErrorKind
	UnitID string
	Path   string
	Err    error
}

func (e *PackagingError) Error() string {
	return fmt.Sprintf("packaging %s: %s at %s: %v", e.UnitID, e.Kind, e.Path, e.Err)
}

func (e *PackagingError) Unwrap() error {
	return e.Err
}
