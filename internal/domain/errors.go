package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Error taxonomy for the pipeline. Stage boundaries wrap their failures with
// one of these sentinels so callers can classify with errors.Is.
var (
	// ErrMalformedRecord marks a raw payload missing its track identifier.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrSourceUnavailable marks an upstream fetch failure; nothing was staged.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrStagingWrite marks a failed staging mutation (write or clear).
	ErrStagingWrite = errors.New("staging write failure")
	// ErrStagingRead marks a failed staging read; no history mutation occurred.
	ErrStagingRead = errors.New("staging read failure")
	// ErrIntegrityViolation marks a track observed with zero or multiple
	// current dimension rows.
	ErrIntegrityViolation = errors.New("reconciliation integrity violation")
	// ErrPartialBatch marks a reconciliation that failed for a subset of the
	// batch; committed transitions stand and staging is preserved for replay.
	ErrPartialBatch = errors.New("partial batch failure")
)

// IntegrityViolationError reports a track whose current-row count is not one.
type IntegrityViolationError struct {
	TrackID     string
	CurrentRows int
}

func (e *IntegrityViolationError) Error() string {
	return fmt.Sprintf("track %s has %d current rows, want exactly 1", e.TrackID, e.CurrentRows)
}

func (e *IntegrityViolationError) Unwrap() error { return ErrIntegrityViolation }

// PartialBatchError aggregates per-track reconciliation failures for a batch.
type PartialBatchError struct {
	BatchID uuid.UUID
	Failed  map[string]error
}

func (e *PartialBatchError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return fmt.Sprintf("batch %s: reconciliation failed for %d tracks: %s",
		e.BatchID, len(ids), strings.Join(ids, ", "))
}

func (e *PartialBatchError) Unwrap() error { return ErrPartialBatch }
