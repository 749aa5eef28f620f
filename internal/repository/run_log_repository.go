package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/trackdim/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type runLogRepository struct {
	pool *pgxpool.Pool
}

// NewRunLogRepository wires a repository backed by pgxpool.
func NewRunLogRepository(pool *pgxpool.Pool) RunLogRepository {
	return &runLogRepository{pool: pool}
}

func (r *runLogRepository) RecordRun(ctx context.Context, run domain.PipelineRun) error {
	if r.pool == nil {
		return fmt.Errorf("run log repository not initialized")
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO pipeline_runs (
			id, batch_id, status, tracks_fetched, processed, inserted, updated,
			unchanged, malformed, error_message, started_at, finished_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		run.ID, run.BatchID, run.Status, run.TracksFetched, run.Processed,
		run.Inserted, run.Updated, run.Unchanged, run.Malformed,
		run.ErrorMessage, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record pipeline run: %w", err)
	}
	return nil
}

func (r *runLogRepository) RecordError(ctx context.Context, entry domain.RunError) error {
	if r.pool == nil {
		return fmt.Errorf("run log repository not initialized")
	}

	var seq any
	if entry.Seq != nil {
		seq = *entry.Seq
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO pipeline_run_errors (batch_id, seq, error_message) VALUES ($1, $2, $3)`,
		entry.BatchID, seq, entry.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to record run error: %w", err)
	}
	return nil
}

func (r *runLogRepository) ListErrors(ctx context.Context, batchID uuid.UUID, limit int) ([]domain.RunError, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("run log repository not initialized")
	}
	if limit <= 0 {
		limit = 200
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, batch_id, seq, error_message, created_at
		 FROM pipeline_run_errors
		 WHERE batch_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		batchID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list run errors: %w", err)
	}
	defer rows.Close()

	entries := []domain.RunError{}
	for rows.Next() {
		var (
			entry     domain.RunError
			seq       pgtype.Int4
			createdAt pgtype.Timestamptz
		)
		if scanErr := rows.Scan(&entry.ID, &entry.BatchID, &seq, &entry.ErrorMessage, &createdAt); scanErr != nil {
			return nil, fmt.Errorf("failed to scan run error: %w", scanErr)
		}
		if seq.Valid {
			value := int(seq.Int32)
			entry.Seq = &value
		}
		if createdAt.Valid {
			entry.CreatedAt = createdAt.Time
		}
		entries = append(entries, entry)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate run errors: %w", rowsErr)
	}
	return entries, nil
}
