package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rpattn/trackdim/internal/db"
	"github.com/rpattn/trackdim/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// stagingRepository implements StagingRepository over a Postgres landing table.
type stagingRepository struct {
	pool *pgxpool.Pool
}

// NewStagingRepository creates a new staging repository.
func NewStagingRepository(pool *pgxpool.Pool) StagingRepository {
	return &stagingRepository{pool: pool}
}

// WriteBatch lands the batch in one transaction so a partially written batch
// never becomes readable. Sequence numbers follow write order, which is the
// documented tiebreak for duplicate tracks loaded at the same instant.
func (r *stagingRepository) WriteBatch(ctx context.Context, batchID uuid.UUID, payloads []json.RawMessage, loadedAt time.Time) (int, error) {
	if len(payloads) == 0 {
		return 0, nil
	}

	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for seq, payload := range payloads {
			if _, err := tx.Exec(
				ctx,
				`INSERT INTO track_staging (batch_id, seq, raw_track, loaded_at) VALUES ($1, $2, $3, $4)`,
				batchID, seq, payload, loadedAt,
			); err != nil {
				return fmt.Errorf("failed to stage record %d: %w", seq, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to write batch %s: %w", batchID, err)
	}
	return len(payloads), nil
}

func (r *stagingRepository) ReadBatch(ctx context.Context, batchID uuid.UUID) ([]domain.StagedTrack, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT batch_id, seq, raw_track, loaded_at FROM track_staging WHERE batch_id = $1 ORDER BY seq`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch %s: %w", batchID, err)
	}
	defer rows.Close()

	staged := []domain.StagedTrack{}
	for rows.Next() {
		var record domain.StagedTrack
		if scanErr := rows.Scan(&record.BatchID, &record.Seq, &record.Payload, &record.LoadedAt); scanErr != nil {
			return nil, fmt.Errorf("failed to scan staged record: %w", scanErr)
		}
		staged = append(staged, record)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate batch %s: %w", batchID, rowsErr)
	}
	return staged, nil
}

// ClearBatch is idempotent: clearing an already-cleared batch deletes zero
// rows and succeeds.
func (r *stagingRepository) ClearBatch(ctx context.Context, batchID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM track_staging WHERE batch_id = $1`, batchID); err != nil {
		return fmt.Errorf("failed to clear batch %s: %w", batchID, err)
	}
	return nil
}
