package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run statuses recorded in pipeline_runs.
const (
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
	RunStatusPartial   = "partial"
	RunStatusEmpty     = "empty"
)

// PipelineRun captures the outcome of one orchestrated pipeline invocation.
type PipelineRun struct {
	ID            uuid.UUID
	BatchID       uuid.UUID
	Status        string
	TracksFetched int
	Processed     int
	Inserted      int
	Updated       int
	Unchanged     int
	Malformed     int
	ErrorMessage  string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// RunError captures a record level issue that occurred during a run, such as
// a payload dropped for missing its track id.
type RunError struct {
	ID           uuid.UUID
	BatchID      uuid.UUID
	Seq          *int
	ErrorMessage string
	CreatedAt    time.Time
}
