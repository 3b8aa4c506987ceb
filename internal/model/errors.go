package model

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable marks a write-path failure where the backing medium
// cannot be written. Callers should treat it as retryable; the entry was
// not persisted.
var ErrStoreUnavailable = errors.New("segment store unavailable")

// ErrCompressionFailed marks an archive attempt whose verification did not
// round-trip. The sealed original is kept and retried on the next sweep.
var ErrCompressionFailed = errors.New("segment compression failed")

// ValidationError reports one malformed entry. Index is the entry's
// position within a batch submission (0 for single submissions). A
// validation failure never aborts the rest of a batch.
type ValidationError struct {
	Index  int    `json:"index"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("entry %d: invalid %s: %s", e.Index, e.Field, e.Reason)
}

// QueryError reports malformed filter input, rejected before any segment
// is scanned.
type QueryError struct {
	Reason string
}

func (e *QueryError) Error() string {
	return "invalid query: " + e.Reason
}

// SweepError aggregates the per-file failures of a retention sweep that
// kept going past them. Deletions that did succeed stay deleted.
type SweepError struct {
	Failures []string
}

func (e *SweepError) Error() string {
	return fmt.Sprintf("retention sweep: %d segments could not be removed", len(e.Failures))
}
