package detect

import "fmt"

// DetectionError reports a project layout that cannot be built from.
// It is always fatal; no graph work happens after one.
type DetectionError struct {
	Path   string
	Reason string
	Err    error
}

func (e *DetectionError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("detection failed at %s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("detection failed: %s", e.Reason)
}

func (e *DetectionError) Unwrap() error {
	return e.Err
}
