package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rpattn/trackdim/internal/domain"

	"github.com/google/uuid"
)

// stubHistoryRepo is an in-memory stand-in for the dimension table. Writes
// honor the same atomicity the Postgres implementation guarantees.
type stubHistoryRepo struct {
	rows      []domain.TrackVersion
	failWrite map[string]error // track id -> injected write failure
}

func (s *stubHistoryRepo) SelectCurrent(_ context.Context, trackID string) (domain.TrackVersion, bool, error) {
	var current []domain.TrackVersion
	for _, v := range s.rows {
		if v.TrackID == trackID && v.IsCurrent {
			current = append(current, v)
		}
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

func (s *stubHistoryRepo) LatestVersion(_ context.Context, trackID string) (domain.TrackVersion, bool, error) {
	var latest domain.TrackVersion
	found := false
	for _, v := range s.rows {
		if v.TrackID == trackID && (!found || v.Version > latest.Version) {
			latest = v
			found = true
		}
	}
	return latest, found, nil
}

func (s *stubHistoryRepo) InsertVersion(_ context.Context, v domain.TrackVersion) error {
	if err := s.failWrite[v.TrackID]; err != nil {
		return err
	}
	s.rows = append(s.rows, v)
	return nil
}

func (s *stubHistoryRepo) ExpireAndInsert(_ context.Context, currentID uuid.UUID, end time.Time, next domain.TrackVersion) error {
	if err := s.failWrite[next.TrackID]; err != nil {
		return err
	}
	for i := range s.rows {
		if s.rows[i].ID == currentID && s.rows[i].IsCurrent {
			endCopy := end
			s.rows[i].EffectiveEnd = &endCopy
			s.rows[i].IsCurrent = false
			s.rows = append(s.rows, next)
			return nil
		}
	}
	return &domain.IntegrityViolationError{TrackID: next.TrackID, CurrentRows: 0}
}

func (s *stubHistoryRepo) PromoteLatest(ctx context.Context, trackID string) (domain.TrackVersion, error) {
	latest, found, _ := s.LatestVersion(ctx, trackID)
	if !found {
		return domain.TrackVersion{}, fmt.Errorf("track %s has no history to promote", trackID)
	}
	for i := range s.rows {
		if s.rows[i].ID == latest.ID {
			s.rows[i].IsCurrent = true
			s.rows[i].EffectiveEnd = nil
			return s.rows[i], nil
		}
	}
	return domain.TrackVersion{}, fmt.Errorf("row vanished")
}

func (s *stubHistoryRepo) ListOrphanedTracks(context.Context) ([]string, error) {
	hasCurrent := map[string]bool{}
	seen := map[string]bool{}
	var order []string
	for _, v := range s.rows {
		if !seen[v.TrackID] {
			seen[v.TrackID] = true
			order = append(order, v.TrackID)
		}
		if v.IsCurrent {
			hasCurrent[v.TrackID] = true
		}
	}
	var orphaned []string
	for _, id := range order {
		if !hasCurrent[id] {
			orphaned = append(orphaned, id)
		}
	}
	return orphaned, nil
}

func (s *stubHistoryRepo) ListHistory(_ context.Context, trackID string) ([]domain.TrackVersion, error) {
	var history []domain.TrackVersion
	for _, v := range s.rows {
		if v.TrackID == trackID {
			history = append(history, v)
		}
	}
	for i := range history {
		for j := i + 1; j < len(history); j++ {
			if history[j].Version < history[i].Version {
				history[i], history[j] = history[j], history[i]
			}
		}
	}
	return history, nil
}

func (s *stubHistoryRepo) ListCurrent(context.Context) ([]domain.TrackVersion, error) {
	var current []domain.TrackVersion
	for _, v := range s.rows {
		if v.IsCurrent {
			current = append(current, v)
		}
	}
	return current, nil
}

func (s *stubHistoryRepo) ListAll(context.Context) ([]domain.TrackVersion, error) {
	return append([]domain.TrackVersion(nil), s.rows...), nil
}

var batchID = uuid.MustParse("6f8e2c4a-0d1b-4f3a-9a77-2f64c1f0b9d1")

func snapshot(trackID string, duration int, loadedAt time.Time) domain.TrackSnapshot {
	return domain.TrackSnapshot{
		TrackID:           trackID,
		Name:              "Song A",
		DurationMS:        duration,
		AlbumID:           "alb1",
		PrimaryArtistID:   "art1",
		PrimaryArtistName: "Artist One",
		LoadedAt:          loadedAt,
	}
}

func mustSingleCurrent(t *testing.T, repo *stubHistoryRepo) {
	t.Helper()
	violations, err := New(repo).Audit(context.Background())
	if err != nil {
		t.Fatalf("audit failed: %v", err)
	}
	if len(violations) != 0 {
		t.Fatalf("single-current invariant broken: %v", violations)
	}
}

func TestApplyNewTrack(t *testing.T) {
	repo := &stubHistoryRepo{}
	r := New(repo)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	result, err := r.Apply(context.Background(), batchID, []domain.TrackSnapshot{snapshot("T1", 200, t0)})
	if err != nil {
		t.Fatalf("apply returned error: %v", err)
	}
	if result.Inserted != 1 || result.Processed() != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	history, _ := repo.ListHistory(context.Background(), "T1")
	if len(history) != 1 {
		t.Fatalf("expected 1 row, got %d", len(history))
	}
	v := history[0]
	if v.Version != 1 || !v.IsCurrent || v.EffectiveEnd != nil {
		t.Fatalf("unexpected version row: %+v", v)
	}
	if !v.EffectiveStart.Equal(t0) {
		t.Fatalf("effective start %v, want %v", v.EffectiveStart, t0)
	}
	mustSingleCurrent(t, repo)
}

func TestApplyUnchangedIsIdempotent(t *testing.T) {
	repo := &stubHistoryRepo{}
	r := New(repo)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	batch := []domain.TrackSnapshot{snapshot("T1", 200, t0)}

	if _, err := r.Apply(context.Background(), batchID, batch); err != nil {
		t.Fatalf("first apply returned error: %v", err)
	}
	result, err := r.Apply(context.Background(), batchID, batch)
	if err != nil {
		t.Fatalf("second apply returned error: %v", err)
	}
	if result.Unchanged != 1 || result.Inserted != 0 {
		t.Fatalf("reprocessing should be a no-op, got %+v", result)
	}

	history, _ := repo.ListHistory(context.Background(), "T1")
	if len(history) != 1 {
		t.Fatalf("expected still 1 row after rerun, got %d", len(history))
	}
	mustSingleCurrent(t, repo)
}

func TestApplyChangedTrack(t *testing.T) {
	repo := &stubHistoryRepo{}
	r := New(repo)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	t1 := t0.Add(24 * time.Hour)

	if _, err := r.Apply(context.Background(), batchID, []domain.TrackSnapshot{snapshot("T1", 200, t0)}); err != nil {
		t.Fatalf("first apply returned error: %v", err)
	}
	changed := snapshot("T1", 210, t1)
	result, err := r.Apply(context.Background(), batchID, []domain.TrackSnapshot{changed})
	if err != nil {
		t.Fatalf("second apply returned error: %v", err)
	}
	if result.Updated != 1 {
		t.Fatalf("expected 1 update, got %+v", result)
	}

	history, _ := repo.ListHistory(context.Background(), "T1")
	if len(history) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(history))
	}

	v1, v2 := history[0], history[1]
	if v1.IsCurrent || v1.EffectiveEnd == nil || !v1.EffectiveEnd.Equal(t1) {
		t.Fatalf("version 1 not expired at second arrival: %+v", v1)
	}
	if !v2.IsCurrent || v2.EffectiveEnd != nil || v2.Version != 2 {
		t.Fatalf("version 2 not current: %+v", v2)
	}
	// No gap and no overlap between consecutive intervals.
	if !v1.EffectiveEnd.Equal(v2.EffectiveStart) {
		t.Fatalf("interval discontinuity: end %v vs start %v", v1.EffectiveEnd, v2.EffectiveStart)
	}
	if v2.RowHash != changed.Fingerprint() {
		t.Fatal("version 2 hash should reflect the changed attributes")
	}
	mustSingleCurrent(t, repo)
}

func TestVersionDensityAcrossChanges(t *testing.T) {
	repo := &stubHistoryRepo{}
	r := New(repo)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	const changes = 5
	for i := 0; i < changes; i++ {
		batch := []domain.TrackSnapshot{snapshot("T1", 200+i, t0.Add(time.Duration(i)*time.Hour))}
		if _, err := r.Apply(context.Background(), batchID, batch); err != nil {
			t.Fatalf("apply %d returned error: %v", i, err)
		}
	}

	history, _ := repo.ListHistory(context.Background(), "T1")
	if len(history) != changes {
		t.Fatalf("expected %d versions, got %d", changes, len(history))
	}
	for i, v := range history {
		if v.Version != i+1 {
			t.Fatalf("version numbers not dense: position %d holds version %d", i, v.Version)
		}
		if i > 0 {
			prev := history[i-1]
			if prev.EffectiveEnd == nil || !prev.EffectiveEnd.Equal(v.EffectiveStart) {
				t.Fatalf("interval discontinuity between versions %d and %d", prev.Version, v.Version)
			}
		}
	}
	if !history[changes-1].IsCurrent {
		t.Fatal("highest version must be the current one")
	}
	mustSingleCurrent(t, repo)
}

func TestApplyPartialBatchFailure(t *testing.T) {
	repo := &stubHistoryRepo{failWrite: map[string]error{"B": errors.New("warehouse hiccup")}}
	r := New(repo)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	batch := []domain.TrackSnapshot{
		snapshot("A", 100, t0),
		snapshot("B", 200, t0),
		snapshot("C", 300, t0),
	}
	result, err := r.Apply(context.Background(), batchID, batch)
	if !errors.Is(err, domain.ErrPartialBatch) {
		t.Fatalf("expected partial batch error, got %v", err)
	}

	var partial *domain.PartialBatchError
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialBatchError, got %T", err)
	}
	if len(partial.Failed) != 1 || partial.Failed["B"] == nil {
		t.Fatalf("expected only B to fail, got %v", partial.Failed)
	}
	if result.Inserted != 2 {
		t.Fatalf("independent transitions should have committed, got %+v", result)
	}

	// Replaying the same batch only retries the failed track.
	repo.failWrite = nil
	result, err = r.Apply(context.Background(), batchID, batch)
	if err != nil {
		t.Fatalf("replay returned error: %v", err)
	}
	if result.Inserted != 1 || result.Unchanged != 2 {
		t.Fatalf("replay should insert B and no-op A/C, got %+v", result)
	}
	mustSingleCurrent(t, repo)
}

// orphanTrack seeds a track whose only version was expired without a
// successor, the state a crash between expire and insert would leave behind
// if the two writes were not transactional.
func orphanTrack(repo *stubHistoryRepo, trackID string, t0 time.Time) {
	v := domain.NewTrackVersion(snapshot(trackID, 200, t0), 1)
	end := t0.Add(time.Hour)
	v.IsCurrent = false
	v.EffectiveEnd = &end
	repo.rows = append(repo.rows, v)
}

func TestHealPromotesLatestVersion(t *testing.T) {
	repo := &stubHistoryRepo{}
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	orphanTrack(repo, "T1", t0)
	r := New(repo)

	healed, err := r.Heal(context.Background())
	if err != nil {
		t.Fatalf("heal returned error: %v", err)
	}
	if healed != 1 {
		t.Fatalf("expected 1 healed track, got %d", healed)
	}

	current, found, _ := repo.SelectCurrent(context.Background(), "T1")
	if !found || current.Version != 1 || current.EffectiveEnd != nil {
		t.Fatalf("expected version 1 re-promoted, got %+v found=%v", current, found)
	}

	// Healing a healthy dimension is a no-op.
	healed, err = r.Heal(context.Background())
	if err != nil {
		t.Fatalf("second heal returned error: %v", err)
	}
	if healed != 0 {
		t.Fatalf("expected nothing to heal, got %d", healed)
	}
}

func TestApplyHealsOrphanBeforeWriting(t *testing.T) {
	repo := &stubHistoryRepo{}
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	orphanTrack(repo, "T1", t0)
	r := New(repo)

	changed := snapshot("T1", 999, t0.Add(2*time.Hour))
	result, err := r.Apply(context.Background(), batchID, []domain.TrackSnapshot{changed})
	if err != nil {
		t.Fatalf("apply returned error: %v", err)
	}
	if result.Healed != 1 || result.Updated != 1 {
		t.Fatalf("expected heal then update, got %+v", result)
	}

	history, _ := repo.ListHistory(context.Background(), "T1")
	if len(history) != 2 || history[1].Version != 2 || !history[1].IsCurrent {
		t.Fatalf("expected dense versions after healing, got %+v", history)
	}
	mustSingleCurrent(t, repo)
}

func TestAuditReportsViolations(t *testing.T) {
	repo := &stubHistoryRepo{}
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Two current rows for the same track.
	repo.rows = append(repo.rows,
		domain.NewTrackVersion(snapshot("T1", 200, t0), 1),
		domain.NewTrackVersion(snapshot("T1", 210, t0.Add(time.Hour)), 2),
	)
	orphanTrack(repo, "T2", t0)

	violations, err := New(repo).Audit(context.Background())
	if err != nil {
		t.Fatalf("audit returned error: %v", err)
	}
	if len(violations) != 2 {
		t.Fatalf("expected 2 violations, got %v", violations)
	}
	counts := map[string]int{}
	for _, v := range violations {
		counts[v.TrackID] = v.CurrentRows
	}
	if counts["T1"] != 2 || counts["T2"] != 0 {
		t.Fatalf("unexpected violation counts: %v", counts)
	}
}
