package identify

import (
	"fmt"
	"strings"
)

// DuplicateSampleError reports a sample that already has sequences in the
// database.
type DuplicateSampleError struct {
	Sample string
	Path   string
}

func (e *DuplicateSampleError) Error() string {
	return fmt.Sprintf("sample %q (%s) already has sequences", e.Sample, e.Path)
}

// NamingCollisionError reports a sample name used by more than one input
// file of a run.
type NamingCollisionError struct {
	Sample string
	Paths  []string
}

func (e *NamingCollisionError) Error() string {
	return fmt.Sprintf("sample name %q is used by more than one file: %s", e.Sample, strings.Join(e.Paths, ", "))
}

// UnexpectedProcessingError wraps a failure while processing one read that
// is not an alignment failure. The read is dropped.
type UnexpectedProcessingError struct {
	ReadID string
	Err    interface{}
	Stack  string
}

func (e *UnexpectedProcessingError) Error() string {
	return fmt.Sprintf("unexpected error processing read %s: %v", e.ReadID, e.Err)
}
