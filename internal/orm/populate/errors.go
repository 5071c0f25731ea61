package populate

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRelationPath is returned when a populate or populateWhere path
	// does not resolve through declared relationships
	ErrInvalidRelationPath = errors.New("invalid relation path")

	// ErrMaxDepthExceeded is returned when a populate path is nested deeper than allowed
	ErrMaxDepthExceeded = errors.New("maximum relationship depth exceeded")

	// ErrInvalidPagination is returned for negative limit or offset values
	ErrInvalidPagination = errors.New("invalid pagination")

	// ErrInvalidRelationType is returned when an invalid relationship type is encountered
	ErrInvalidRelationType = errors.New("invalid relationship type")
)

// PathError describes a relation path that failed to resolve.
type PathError struct {
	Root   string
	Path   string
	Reason string
	Err    error
}

// Error implements the error interface
func (e *PathError) Error() string {
	msg := fmt.Sprintf("%s: %q on %s", ErrInvalidRelationPath, e.Path, e.Root)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports ErrInvalidRelationPath so callers can match with errors.Is.
func (e *PathError) Is(target error) bool {
	return target == ErrInvalidRelationPath
}

// Unwrap returns the underlying resolution error
func (e *PathError) Unwrap() error {
	return e.Err
}
