// Package pipeline orchestrates one ingest cycle: fetch, stage, normalize,
// deduplicate, reconcile, clean up.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/rpattn/trackdim/internal/config"
	"github.com/rpattn/trackdim/internal/dedup"
	"github.com/rpattn/trackdim/internal/domain"
	"github.com/rpattn/trackdim/internal/metrics"
	"github.com/rpattn/trackdim/internal/normalize"
	"github.com/rpattn/trackdim/internal/reconcile"
	"github.com/rpattn/trackdim/internal/repository"

	"github.com/google/uuid"
)

// SourceClient is the upstream catalog seam the orchestrator consumes.
type SourceClient interface {
	FetchNewReleaseTracks(ctx context.Context, limit int) ([]domain.RawTrack, error)
}

// Trigger is the opaque event that starts a run.
type Trigger struct {
	// Limit overrides the configured number of new-release albums to pull.
	Limit int `json:"limit,omitempty"`
}

// RunResult reports the outcome of one pipeline invocation.
type RunResult struct {
	RunID         uuid.UUID `json:"runId"`
	BatchID       uuid.UUID `json:"batchId,omitempty"`
	Status        string    `json:"status"`
	TracksFetched int       `json:"tracksFetched"`
	Processed     int       `json:"processed"`
	Inserted      int       `json:"inserted"`
	Updated       int       `json:"updated"`
	Unchanged     int       `json:"unchanged"`
	Healed        int       `json:"healed"`
	Malformed     int       `json:"malformed"`
}

// Service sequences the pipeline stages as a single logical unit of work. Any
// stage failure aborts the remainder and leaves staging intact so the batch
// can be replayed; replays are no-ops for unchanged tracks.
type Service struct {
	source     SourceClient
	staging    repository.StagingRepository
	reconciler *reconcile.Reconciler
	runs       repository.RunLogRepository
	policy     config.PipelineConfig
	limit      int
	now        func() time.Time
}

// NewService wires the orchestrator.
func NewService(
	source SourceClient,
	staging repository.StagingRepository,
	reconciler *reconcile.Reconciler,
	runs repository.RunLogRepository,
	policy config.PipelineConfig,
	releaseLimit int,
) *Service {
	if releaseLimit <= 0 {
		releaseLimit = 5
	}
	return &Service{
		source:     source,
		staging:    staging,
		reconciler: reconciler,
		runs:       runs,
		policy:     policy,
		limit:      releaseLimit,
		now:        time.Now,
	}
}

// Run executes one ingest cycle.
func (s *Service) Run(ctx context.Context, trigger Trigger) (RunResult, error) {
	started := s.now()
	result := RunResult{RunID: uuid.New()}

	limit := trigger.Limit
	if limit <= 0 {
		limit = s.limit
	}

	log.Printf("[PIPELINE] Run %s started (limit=%d)", result.RunID, limit)

	tracks, err := s.source.FetchNewReleaseTracks(ctx, limit)
	if err != nil {
		return s.finish(ctx, result, started, domain.RunStatusFailed, fmt.Errorf("fetch stage: %w", err))
	}
	result.TracksFetched = len(tracks)
	metrics.TracksFetched.Add(float64(len(tracks)))

	if len(tracks) == 0 {
		log.Printf("[PIPELINE] Run %s: no new tracks, nothing staged", result.RunID)
		return s.finish(ctx, result, started, domain.RunStatusEmpty, nil)
	}

	payloads := make([]json.RawMessage, 0, len(tracks))
	for _, track := range tracks {
		payload, marshalErr := json.Marshal(track)
		if marshalErr != nil {
			return s.finish(ctx, result, started, domain.RunStatusFailed,
				fmt.Errorf("%w: failed to encode track %s: %v", domain.ErrStagingWrite, track.ID, marshalErr))
		}
		payloads = append(payloads, payload)
	}

	result.BatchID = uuid.New()
	if _, err := s.staging.WriteBatch(ctx, result.BatchID, payloads, s.now().UTC()); err != nil {
		return s.finish(ctx, result, started, domain.RunStatusFailed,
			fmt.Errorf("%w: %v", domain.ErrStagingWrite, err))
	}

	staged, err := s.staging.ReadBatch(ctx, result.BatchID)
	if err != nil {
		return s.finish(ctx, result, started, domain.RunStatusFailed,
			fmt.Errorf("%w: %v", domain.ErrStagingRead, err))
	}

	snapshots, dropped, err := normalize.Batch(staged, normalize.Options{AbortOnMalformed: s.policy.AbortOnMalformed})
	if err != nil {
		return s.finish(ctx, result, started, domain.RunStatusFailed, fmt.Errorf("normalize stage: %w", err))
	}
	result.Malformed = len(dropped)
	for _, drop := range dropped {
		seq := drop.Seq
		s.recordError(ctx, domain.RunError{BatchID: result.BatchID, Seq: &seq, ErrorMessage: drop.Reason})
		metrics.MalformedDropped.Inc()
		log.Printf("[PIPELINE] Run %s: dropped staged record %d: %s", result.RunID, drop.Seq, drop.Reason)
	}

	deduped := dedup.LatestPerTrack(snapshots)

	reconciled, err := s.reconciler.Apply(ctx, result.BatchID, deduped)
	result.Inserted = reconciled.Inserted
	result.Updated = reconciled.Updated
	result.Unchanged = reconciled.Unchanged
	result.Healed = reconciled.Healed
	result.Processed = reconciled.Processed()
	if err != nil {
		// Staging stays intact: committed tracks are no-ops on replay, the
		// failed ones get retried from the same batch contents.
		return s.finish(ctx, result, started, domain.RunStatusPartial, err)
	}

	if err := s.staging.ClearBatch(ctx, result.BatchID); err != nil {
		return s.finish(ctx, result, started, domain.RunStatusFailed,
			fmt.Errorf("%w: cleanup: %v", domain.ErrStagingWrite, err))
	}

	log.Printf("[PIPELINE] Run %s finished: %d processed (%d inserted, %d updated, %d unchanged)",
		result.RunID, result.Processed, result.Inserted, result.Updated, result.Unchanged)
	return s.finish(ctx, result, started, domain.RunStatusSucceeded, nil)
}

func (s *Service) finish(ctx context.Context, result RunResult, started time.Time, status string, err error) (RunResult, error) {
	result.Status = status
	metrics.RunsTotal.WithLabelValues(status).Inc()

	run := domain.PipelineRun{
		ID:            result.RunID,
		BatchID:       result.BatchID,
		Status:        status,
		TracksFetched: result.TracksFetched,
		Processed:     result.Processed,
		Inserted:      result.Inserted,
		Updated:       result.Updated,
		Unchanged:     result.Unchanged,
		Malformed:     result.Malformed,
		StartedAt:     started,
		FinishedAt:    s.now(),
	}
	if err != nil {
		run.ErrorMessage = err.Error()
		log.Printf("[PIPELINE] Run %s %s: %v", result.RunID, status, err)
	}
	if s.runs != nil {
		if recordErr := s.runs.RecordRun(ctx, run); recordErr != nil {
			log.Printf("[PIPELINE] Failed to record run %s: %v", result.RunID, recordErr)
		}
	}
	return result, err
}

func (s *Service) recordError(ctx context.Context, entry domain.RunError) {
	if s.runs == nil {
		return
	}
	if err := s.runs.RecordError(ctx, entry); err != nil {
		log.Printf("[PIPELINE] Failed to record run error: %v", err)
	}
}
