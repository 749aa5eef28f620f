package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/trackdim/internal/db"
	"github.com/rpattn/trackdim/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const versionColumns = `id, track_id, track_name, duration_ms, is_explicit, popularity, preview_url,
	album_id, album_name, album_release_date, album_type,
	primary_artist_id, primary_artist_name, artist_ids, artist_names,
	row_hash, effective_start, effective_end, is_current, version, updated_at`

// trackHistoryRepository implements TrackHistoryRepository over pgx.
type trackHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewTrackHistoryRepository creates a new track history repository.
func NewTrackHistoryRepository(pool *pgxpool.Pool) TrackHistoryRepository {
	return &trackHistoryRepository{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (domain.TrackVersion, error) {
	var (
		v           domain.TrackVersion
		releaseDate pgtype.Date
		end         pgtype.Timestamptz
	)
	err := row.Scan(
		&v.ID,
		&v.TrackID,
		&v.Name,
		&v.DurationMS,
		&v.Explicit,
		&v.Popularity,
		&v.PreviewURL,
		&v.AlbumID,
		&v.AlbumName,
		&releaseDate,
		&v.AlbumType,
		&v.PrimaryArtistID,
		&v.PrimaryArtistName,
		&v.ArtistIDs,
		&v.ArtistNames,
		&v.RowHash,
		&v.EffectiveStart,
		&end,
		&v.IsCurrent,
		&v.Version,
		&v.UpdatedAt,
	)
	if err != nil {
		return domain.TrackVersion{}, err
	}
	if releaseDate.Valid {
		v.AlbumReleaseDate = releaseDate.Time
	}
	if end.Valid {
		t := end.Time
		v.EffectiveEnd = &t
	}
	return v, nil
}

func (r *trackHistoryRepository) SelectCurrent(ctx context.Context, trackID string) (domain.TrackVersion, bool, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT `+versionColumns+` FROM track_dim WHERE track_id = $1 AND is_current`,
		trackID,
	)
	if err != nil {
		return domain.TrackVersion{}, false, fmt.Errorf("failed to select current version: %w", err)
	}
	defer rows.Close()

	var current []domain.TrackVersion
	for rows.Next() {
		v, scanErr := scanVersion(rows)
		if scanErr != nil {
			return domain.TrackVersion{}, false, fmt.Errorf("failed to scan current version: %w", scanErr)
		}
		current = append(current, v)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return domain.TrackVersion{}, false, fmt.Errorf("failed to iterate current versions: %w", rowsErr)
	}

	switch len(current) {
	case 0:
		return domain.TrackVersion{}, false, nil
	case 1:
		return current[0], true, nil
	default:
		return domain.TrackVersion{}, false, &domain.IntegrityViolationError{TrackID: trackID, CurrentRows: len(current)}
	}
}

func (r *trackHistoryRepository) LatestVersion(ctx context.Context, trackID string) (domain.TrackVersion, bool, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT `+versionColumns+` FROM track_dim WHERE track_id = $1 ORDER BY version DESC LIMIT 1`,
		trackID,
	)
	v, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TrackVersion{}, false, nil
		}
		return domain.TrackVersion{}, false, fmt.Errorf("failed to select latest version: %w", err)
	}
	return v, true, nil
}

func insertVersionTx(ctx context.Context, tx pgx.Tx, v domain.TrackVersion) error {
	_, err := tx.Exec(
		ctx,
		`INSERT INTO track_dim (
			id, track_id, track_name, duration_ms, is_explicit, popularity, preview_url,
			album_id, album_name, album_release_date, album_type,
			primary_artist_id, primary_artist_name, artist_ids, artist_names,
			row_hash, effective_start, effective_end, is_current, version, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,now())`,
		v.ID, v.TrackID, v.Name, v.DurationMS, v.Explicit, v.Popularity, v.PreviewURL,
		v.AlbumID, v.AlbumName, nullableDate(v.AlbumReleaseDate), v.AlbumType,
		v.PrimaryArtistID, v.PrimaryArtistName, v.ArtistIDs, v.ArtistNames,
		v.RowHash, v.EffectiveStart, v.EffectiveEnd, v.IsCurrent, v.Version,
	)
	return err
}

func nullableDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func (r *trackHistoryRepository) InsertVersion(ctx context.Context, v domain.TrackVersion) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return insertVersionTx(ctx, tx, v)
	})
	if err != nil {
		return fmt.Errorf("failed to insert version %d of track %s: %w", v.Version, v.TrackID, err)
	}
	return nil
}

// ExpireAndInsert runs the two-phase transition as one transaction: the
// warehouse merge primitive cannot update a matched row and insert its
// successor in a single statement, so the expire and the insert are separate
// statements that commit or roll back together.
func (r *trackHistoryRepository) ExpireAndInsert(ctx context.Context, currentID uuid.UUID, end time.Time, next domain.TrackVersion) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(
			ctx,
			`UPDATE track_dim
			 SET effective_end = $2, is_current = FALSE, updated_at = now()
			 WHERE id = $1 AND is_current AND effective_end IS NULL`,
			currentID, end,
		)
		if err != nil {
			return fmt.Errorf("failed to expire current version: %w", err)
		}
		if tag.RowsAffected() != 1 {
			// The row was already expired or vanished; abort so the insert
			// does not produce a second lineage.
			return &domain.IntegrityViolationError{TrackID: next.TrackID, CurrentRows: 0}
		}
		if err := insertVersionTx(ctx, tx, next); err != nil {
			return fmt.Errorf("failed to insert successor version: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to transition track %s to version %d: %w", next.TrackID, next.Version, err)
	}
	return nil
}

func (r *trackHistoryRepository) PromoteLatest(ctx context.Context, trackID string) (domain.TrackVersion, error) {
	var promoted domain.TrackVersion
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(
			ctx,
			`SELECT `+versionColumns+` FROM track_dim
			 WHERE track_id = $1 ORDER BY version DESC LIMIT 1 FOR UPDATE`,
			trackID,
		)
		latest, err := scanVersion(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("track %s has no history to promote", trackID)
			}
			return fmt.Errorf("failed to select latest version: %w", err)
		}

		if latest.IsCurrent {
			promoted = latest
			return nil
		}

		_, err = tx.Exec(
			ctx,
			`UPDATE track_dim
			 SET is_current = TRUE, effective_end = NULL, updated_at = now()
			 WHERE id = $1`,
			latest.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to promote version %d: %w", latest.Version, err)
		}
		latest.IsCurrent = true
		latest.EffectiveEnd = nil
		promoted = latest
		return nil
	})
	if err != nil {
		return domain.TrackVersion{}, fmt.Errorf("failed to heal track %s: %w", trackID, err)
	}
	return promoted, nil
}

func (r *trackHistoryRepository) ListOrphanedTracks(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT track_id FROM track_dim GROUP BY track_id HAVING NOT bool_or(is_current) ORDER BY track_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list orphaned tracks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if scanErr := rows.Scan(&id); scanErr != nil {
			return nil, fmt.Errorf("failed to scan orphaned track id: %w", scanErr)
		}
		ids = append(ids, id)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate orphaned tracks: %w", rowsErr)
	}
	return ids, nil
}

func (r *trackHistoryRepository) ListHistory(ctx context.Context, trackID string) ([]domain.TrackVersion, error) {
	return r.list(ctx, `SELECT `+versionColumns+` FROM track_dim WHERE track_id = $1 ORDER BY version`, trackID)
}

func (r *trackHistoryRepository) ListCurrent(ctx context.Context) ([]domain.TrackVersion, error) {
	return r.list(ctx, `SELECT `+versionColumns+` FROM track_dim WHERE is_current ORDER BY track_id`)
}

func (r *trackHistoryRepository) ListAll(ctx context.Context) ([]domain.TrackVersion, error) {
	return r.list(ctx, `SELECT `+versionColumns+` FROM track_dim ORDER BY track_id, version`)
}

func (r *trackHistoryRepository) list(ctx context.Context, query string, args ...any) ([]domain.TrackVersion, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	versions := []domain.TrackVersion{}
	for rows.Next() {
		v, scanErr := scanVersion(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan version: %w", scanErr)
		}
		versions = append(versions, v)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate versions: %w", rowsErr)
	}
	return versions, nil
}
