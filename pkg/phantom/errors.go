package phantom

import (
	"fmt"

	"ct2egsphant/internal/models"
)

// ConsistencyError reports slices that cannot share a grid.
type ConsistencyError struct {
	Z      float64
	Reason string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("inconsistent slice at z=%g: %s", e.Z, e.Reason)
}

// ResizeError reports a crop rectangle that does not map to a non-empty
// pixel rectangle inside the slice.
type ResizeError struct {
	Z      float64
	Rect   models.Rect
	Reason string
}

func (e *ResizeError) Error() string {
	return fmt.Sprintf("cannot crop slice at z=%g to %s: %s", e.Z, e.Rect, e.Reason)
}

// EmptyResultError is returned when an operation would produce a grid
// without slices.
type EmptyResultError struct {
	Reason string
	Err    error
}

func (e *EmptyResultError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("empty phantom: %s: %v", e.Reason, e.Err)
	}
	return "empty phantom: " + e.Reason
}

func (e *EmptyResultError) Unwrap() error { return e.Err }

// UnknownStructureError is returned when a named structure is not known to
// the structure provider.
type UnknownStructureError struct {
	Name string
}

func (e *UnknownStructureError) Error() string {
	return fmt.Sprintf("no such structure: %s", e.Name)
}
