package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rpattn/trackdim/internal/domain"

	"github.com/google/uuid"
)

// TrackHistoryRepository defines the operations the reconciler and export
// surface need against the track dimension.
type TrackHistoryRepository interface {
	// SelectCurrent returns the single current row for a track, or false when
	// the track has no current row. Observing more than one current row is an
	// integrity violation and is returned as such.
	SelectCurrent(ctx context.Context, trackID string) (domain.TrackVersion, bool, error)
	// LatestVersion returns the highest-version row for a track regardless of
	// its current flag, or false when the track has no history at all.
	LatestVersion(ctx context.Context, trackID string) (domain.TrackVersion, bool, error)
	// InsertVersion appends a new dimension row.
	InsertVersion(ctx context.Context, v domain.TrackVersion) error
	// ExpireAndInsert closes the current row (effective_end, current flag) and
	// inserts its successor inside one transaction; a crash between the two
	// writes must roll both back.
	ExpireAndInsert(ctx context.Context, currentID uuid.UUID, end time.Time, next domain.TrackVersion) error
	// PromoteLatest re-marks the highest version of a track as current with an
	// open interval. Used by the healing sweep; idempotent.
	PromoteLatest(ctx context.Context, trackID string) (domain.TrackVersion, error)
	// ListOrphanedTracks returns track ids that have history but no current row.
	ListOrphanedTracks(ctx context.Context) ([]string, error)
	ListHistory(ctx context.Context, trackID string) ([]domain.TrackVersion, error)
	ListCurrent(ctx context.Context) ([]domain.TrackVersion, error)
	ListAll(ctx context.Context) ([]domain.TrackVersion, error)
}

// StagingRepository is the write-once landing area for raw track batches.
type StagingRepository interface {
	// WriteBatch lands the payloads under batchID, assigning sequence numbers
	// in write order, and returns the number of records staged.
	WriteBatch(ctx context.Context, batchID uuid.UUID, payloads []json.RawMessage, loadedAt time.Time) (int, error)
	ReadBatch(ctx context.Context, batchID uuid.UUID) ([]domain.StagedTrack, error)
	// ClearBatch removes a consumed batch; clearing an absent batch is not an
	// error.
	ClearBatch(ctx context.Context, batchID uuid.UUID) error
}

// RunLogRepository records pipeline run outcomes and dropped records.
type RunLogRepository interface {
	RecordRun(ctx context.Context, run domain.PipelineRun) error
	RecordError(ctx context.Context, entry domain.RunError) error
	ListErrors(ctx context.Context, batchID uuid.UUID, limit int) ([]domain.RunError, error)
}
