// Package reconcile maintains the track dimension as a type 2 slowly changing
// dimension: attribute changes insert new versions, old versions are expired
// in place, and the full lineage of every track is retained.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/rpattn/trackdim/internal/domain"
	"github.com/rpattn/trackdim/internal/metrics"
	"github.com/rpattn/trackdim/internal/repository"

	"github.com/google/uuid"
)

// Result summarizes one reconciliation pass.
type Result struct {
	Inserted  int
	Updated   int
	Unchanged int
	Healed    int
}

// Processed returns the number of tracks the pass brought up to date.
func (r Result) Processed() int {
	return r.Inserted + r.Updated + r.Unchanged
}

// Reconciler applies deduplicated snapshots to the track dimension.
type Reconciler struct {
	history repository.TrackHistoryRepository
}

// New creates a reconciler over the given history repository.
func New(history repository.TrackHistoryRepository) *Reconciler {
	return &Reconciler{history: history}
}

// Apply brings the dimension in line with the snapshot set. Each track's
// transition commits independently; a failing track does not roll back the
// tracks already reconciled. When any track fails the whole batch surfaces a
// PartialBatchError so the caller preserves staging and replays — replays are
// no-ops for tracks whose fingerprints already match.
func (r *Reconciler) Apply(ctx context.Context, batchID uuid.UUID, snapshots []domain.TrackSnapshot) (Result, error) {
	var result Result
	failed := map[string]error{}

	for _, snap := range snapshots {
		outcome, err := r.applyOne(ctx, snap)
		if err != nil && errors.Is(err, domain.ErrIntegrityViolation) {
			// A track with a broken current-row set must be healed before any
			// further writes for it.
			log.Printf("[RECONCILE] Integrity violation on track %s, healing: %v", snap.TrackID, err)
			if _, healErr := r.history.PromoteLatest(ctx, snap.TrackID); healErr != nil {
				failed[snap.TrackID] = fmt.Errorf("heal after %v: %w", err, healErr)
				continue
			}
			result.Healed++
			metrics.HealPromotions.Inc()
			outcome, err = r.applyOne(ctx, snap)
		}
		if err != nil {
			failed[snap.TrackID] = err
			continue
		}

		switch outcome {
		case outcomeInserted:
			result.Inserted++
			metrics.VersionsInserted.Inc()
		case outcomeUpdated:
			result.Updated++
			metrics.VersionsInserted.Inc()
			metrics.VersionsExpired.Inc()
		case outcomeUnchanged:
			result.Unchanged++
		}
	}

	if len(failed) > 0 {
		return result, &domain.PartialBatchError{BatchID: batchID, Failed: failed}
	}
	return result, nil
}

type outcome int

const (
	outcomeInserted outcome = iota
	outcomeUpdated
	outcomeUnchanged
)

// applyOne runs the per-track state machine.
func (r *Reconciler) applyOne(ctx context.Context, snap domain.TrackSnapshot) (outcome, error) {
	latest, exists, err := r.history.LatestVersion(ctx, snap.TrackID)
	if err != nil {
		return 0, fmt.Errorf("failed to load latest version of track %s: %w", snap.TrackID, err)
	}

	// No history at all: open the lineage at version 1.
	if !exists {
		if err := r.history.InsertVersion(ctx, domain.NewTrackVersion(snap, 1)); err != nil {
			return 0, err
		}
		return outcomeInserted, nil
	}

	// History exists but no version is current: a prior run expired the
	// current row and crashed before inserting the successor.
	if !latest.IsCurrent {
		return 0, &domain.IntegrityViolationError{TrackID: snap.TrackID, CurrentRows: 0}
	}

	// Unchanged fingerprint: reprocessing the same state must not add versions.
	if latest.RowHash == snap.Fingerprint() {
		return outcomeUnchanged, nil
	}

	// Changed: expire the current version and insert its successor as one
	// atomic transition. The successor's interval opens exactly where the
	// expired one closes.
	next := domain.NewTrackVersion(snap, latest.Version+1)
	if err := r.history.ExpireAndInsert(ctx, latest.ID, snap.LoadedAt, next); err != nil {
		return 0, err
	}
	return outcomeUpdated, nil
}

// Heal is the safety-net sweep: any track left with history but no current
// row gets its highest version re-promoted to current with an open interval.
// Running it on a healthy dimension is a no-op.
func (r *Reconciler) Heal(ctx context.Context) (int, error) {
	orphaned, err := r.history.ListOrphanedTracks(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to find tracks needing healing: %w", err)
	}

	healed := 0
	for _, trackID := range orphaned {
		promoted, err := r.history.PromoteLatest(ctx, trackID)
		if err != nil {
			return healed, err
		}
		log.Printf("[RECONCILE] Healed track %s: version %d re-promoted to current", trackID, promoted.Version)
		healed++
		metrics.HealPromotions.Inc()
	}
	return healed, nil
}

// Audit verifies the single-current invariant across the dimension and
// returns one IntegrityViolationError per broken track.
func (r *Reconciler) Audit(ctx context.Context) ([]*domain.IntegrityViolationError, error) {
	all, err := r.history.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to audit dimension: %w", err)
	}

	currentRows := map[string]int{}
	hasHistory := map[string]bool{}
	for _, v := range all {
		hasHistory[v.TrackID] = true
		if v.IsCurrent {
			currentRows[v.TrackID]++
		}
	}

	var violations []*domain.IntegrityViolationError
	for trackID := range hasHistory {
		if n := currentRows[trackID]; n != 1 {
			violations = append(violations, &domain.IntegrityViolationError{TrackID: trackID, CurrentRows: n})
		}
	}
	return violations, nil
}
