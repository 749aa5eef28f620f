package export

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rpattn/trackdim/internal/domain"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

type stubHistory struct {
	current []domain.TrackVersion
	all     []domain.TrackVersion
}

func (s *stubHistory) SelectCurrent(context.Context, string) (domain.TrackVersion, bool, error) {
	return domain.TrackVersion{}, false, nil
}

func (s *stubHistory) LatestVersion(context.Context, string) (domain.TrackVersion, bool, error) {
	return domain.TrackVersion{}, false, nil
}

func (s *stubHistory) InsertVersion(context.Context, domain.TrackVersion) error { return nil }

func (s *stubHistory) ExpireAndInsert(context.Context, uuid.UUID, time.Time, domain.TrackVersion) error {
	return nil
}

func (s *stubHistory) PromoteLatest(context.Context, string) (domain.TrackVersion, error) {
	return domain.TrackVersion{}, nil
}

func (s *stubHistory) ListOrphanedTracks(context.Context) ([]string, error) { return nil, nil }

func (s *stubHistory) ListHistory(context.Context, string) ([]domain.TrackVersion, error) {
	return nil, nil
}

func (s *stubHistory) ListCurrent(context.Context) ([]domain.TrackVersion, error) {
	return s.current, nil
}

func (s *stubHistory) ListAll(context.Context) ([]domain.TrackVersion, error) {
	return s.all, nil
}

func sampleVersions() (current domain.TrackVersion, expired domain.TrackVersion) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	t1 := t0.Add(24 * time.Hour)

	expired = domain.TrackVersion{
		ID:                uuid.New(),
		TrackID:           "T1",
		Name:              "Song A",
		DurationMS:        200,
		Popularity:        40,
		AlbumID:           "alb1",
		AlbumName:         "Album One",
		AlbumReleaseDate:  time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC),
		AlbumType:         "album",
		PrimaryArtistID:   "art1",
		PrimaryArtistName: "Artist One",
		ArtistIDs:         []string{"art1", "art2"},
		ArtistNames:       []string{"Artist One", "Artist Two"},
		RowHash:           "aaaa",
		EffectiveStart:    t0,
		EffectiveEnd:      &t1,
		Version:           1,
	}

	current = expired
	current.ID = uuid.New()
	current.DurationMS = 210
	current.RowHash = "bbbb"
	current.EffectiveStart = t1
	current.EffectiveEnd = nil
	current.IsCurrent = true
	current.Version = 2
	return current, expired
}

func TestExportCSVCurrentScope(t *testing.T) {
	current, expired := sampleVersions()
	repo := &stubHistory{current: []domain.TrackVersion{current}, all: []domain.TrackVersion{expired, current}}
	svc := NewService(repo, t.TempDir())

	result, err := svc.Export(context.Background(), Options{Format: FormatCSV})
	if err != nil {
		t.Fatalf("export returned error: %v", err)
	}
	if result.Rows != 1 {
		t.Fatalf("expected 1 row, got %d", result.Rows)
	}
	if !strings.HasSuffix(result.Path, ".csv") || !strings.Contains(result.Path, "current") {
		t.Fatalf("unexpected file name: %s", result.Path)
	}

	file, err := os.Open(result.Path)
	if err != nil {
		t.Fatalf("failed to open export: %v", err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("failed to read export: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected header plus 1 row, got %d records", len(records))
	}
	if records[0][0] != "track_id" {
		t.Fatalf("unexpected header: %v", records[0])
	}

	row := records[1]
	if row[0] != "T1" || row[2] != "210" || row[18] != "2" {
		t.Fatalf("unexpected row contents: %v", row)
	}
	if row[12] != "art1;art2" {
		t.Fatalf("artist ids not joined: %q", row[12])
	}
	if row[16] != "" || row[17] != "true" {
		t.Fatalf("current row should have open interval and current flag: end=%q current=%q", row[16], row[17])
	}
}

func TestExportCSVHistoryScope(t *testing.T) {
	current, expired := sampleVersions()
	repo := &stubHistory{current: []domain.TrackVersion{current}, all: []domain.TrackVersion{expired, current}}
	svc := NewService(repo, t.TempDir())

	result, err := svc.Export(context.Background(), Options{Format: FormatCSV, Scope: ScopeHistory})
	if err != nil {
		t.Fatalf("export returned error: %v", err)
	}
	if result.Rows != 2 {
		t.Fatalf("expected full lineage, got %d rows", result.Rows)
	}
	if !strings.Contains(result.Path, "history") {
		t.Fatalf("unexpected file name: %s", result.Path)
	}

	file, err := os.Open(result.Path)
	if err != nil {
		t.Fatalf("failed to open export: %v", err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("failed to read export: %v", err)
	}
	expiredRow := records[1]
	if expiredRow[16] == "" || expiredRow[17] != "false" {
		t.Fatalf("expired row should carry its end timestamp: %v", expiredRow)
	}
}

func TestExportXLSXDefaultFormat(t *testing.T) {
	current, _ := sampleVersions()
	repo := &stubHistory{current: []domain.TrackVersion{current}}
	svc := NewService(repo, t.TempDir())

	result, err := svc.Export(context.Background(), Options{})
	if err != nil {
		t.Fatalf("export returned error: %v", err)
	}
	if !strings.HasSuffix(result.Path, ".xlsx") {
		t.Fatalf("expected xlsx default, got %s", result.Path)
	}

	workbook, err := excelize.OpenFile(result.Path)
	if err != nil {
		t.Fatalf("failed to open workbook: %v", err)
	}
	defer workbook.Close()

	rows, err := workbook.GetRows("track_dim")
	if err != nil {
		t.Fatalf("failed to read sheet: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header plus 1 row, got %d", len(rows))
	}
	if rows[0][0] != "track_id" || rows[1][0] != "T1" {
		t.Fatalf("unexpected sheet contents: %v", rows)
	}
}

func TestExportUnsupportedFormat(t *testing.T) {
	svc := NewService(&stubHistory{}, t.TempDir())

	_, err := svc.Export(context.Background(), Options{Format: "pdf"})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestExportUnsupportedScope(t *testing.T) {
	svc := NewService(&stubHistory{}, t.TempDir())

	_, err := svc.Export(context.Background(), Options{Format: FormatCSV, Scope: "weekly"})
	if err == nil {
		t.Fatal("expected error for unknown scope")
	}
}
