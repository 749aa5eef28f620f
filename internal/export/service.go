// Package export writes dimension snapshots to spreadsheet files.
package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/trackdim/internal/domain"
	"github.com/rpattn/trackdim/internal/repository"

	"github.com/xuri/excelize/v2"
)

// Supported formats and scopes.
const (
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"

	ScopeCurrent = "current"
	ScopeHistory = "history"
)

// ErrUnsupportedFormat is returned for formats other than xlsx and csv.
var ErrUnsupportedFormat = errors.New("unsupported export format")

var header = []string{
	"track_id", "track_name", "duration_ms", "is_explicit", "popularity", "preview_url",
	"album_id", "album_name", "album_release_date", "album_type",
	"primary_artist_id", "primary_artist_name", "artist_ids", "artist_names",
	"row_hash", "effective_start", "effective_end", "is_current", "version",
}

// Options select what to export and how.
type Options struct {
	// Format is xlsx (default) or csv.
	Format string
	// Scope is current (default, current rows only) or history (full lineage).
	Scope string
}

// Result points at the written file.
type Result struct {
	Path string `json:"file"`
	Rows int    `json:"rows"`
}

// Service exports the track dimension to files under an export directory.
type Service struct {
	history   repository.TrackHistoryRepository
	exportDir string
	now       func() time.Time
}

// NewService creates an export service writing into exportDir.
func NewService(history repository.TrackHistoryRepository, exportDir string) *Service {
	return &Service{
		history:   history,
		exportDir: filepath.Clean(exportDir),
		now:       time.Now,
	}
}

// Export writes the selected rows and returns the file location.
func (s *Service) Export(ctx context.Context, opts Options) (Result, error) {
	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = FormatXLSX
	}
	if format != FormatXLSX && format != FormatCSV {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, opts.Format)
	}

	scope := strings.ToLower(strings.TrimSpace(opts.Scope))
	if scope == "" {
		scope = ScopeCurrent
	}

	var (
		versions []domain.TrackVersion
		err      error
	)
	switch scope {
	case ScopeCurrent:
		versions, err = s.history.ListCurrent(ctx)
	case ScopeHistory:
		versions, err = s.history.ListAll(ctx)
	default:
		return Result{}, fmt.Errorf("unsupported export scope: %s", opts.Scope)
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to load dimension rows: %w", err)
	}

	if err := os.MkdirAll(s.exportDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("failed to create export directory: %w", err)
	}

	name := fmt.Sprintf("track_dim_%s_%s.%s", scope, s.now().UTC().Format("20060102_150405"), format)
	path := filepath.Join(s.exportDir, name)

	switch format {
	case FormatXLSX:
		err = writeXLSX(path, versions)
	case FormatCSV:
		err = writeCSV(path, versions)
	}
	if err != nil {
		return Result{}, err
	}

	return Result{Path: path, Rows: len(versions)}, nil
}

func writeXLSX(path string, versions []domain.TrackVersion) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const sheet = "track_dim"
	f.SetSheetName(f.GetSheetName(0), sheet)

	headerRow := make([]any, len(header))
	for i, column := range header {
		headerRow[i] = column
	}
	if err := f.SetSheetRow(sheet, "A1", &headerRow); err != nil {
		return fmt.Errorf("failed to write header row: %w", err)
	}

	for i, v := range versions {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to compute cell name: %w", err)
		}
		record := versionRecord(v)
		row := make([]any, len(record))
		for j, value := range record {
			row[j] = value
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func writeCSV(path string, versions []domain.TrackVersion) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, v := range versions {
		if err := writer.Write(versionRecord(v)); err != nil {
			return fmt.Errorf("failed to write row for track %s: %w", v.TrackID, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush export file: %w", err)
	}
	return nil
}

func versionRecord(v domain.TrackVersion) []string {
	releaseDate := ""
	if !v.AlbumReleaseDate.IsZero() {
		releaseDate = v.AlbumReleaseDate.Format("2006-01-02")
	}
	end := ""
	if v.EffectiveEnd != nil {
		end = v.EffectiveEnd.UTC().Format(time.RFC3339)
	}
	return []string{
		v.TrackID,
		v.Name,
		strconv.Itoa(v.DurationMS),
		strconv.FormatBool(v.Explicit),
		strconv.Itoa(v.Popularity),
		v.PreviewURL,
		v.AlbumID,
		v.AlbumName,
		releaseDate,
		v.AlbumType,
		v.PrimaryArtistID,
		v.PrimaryArtistName,
		strings.Join(v.ArtistIDs, ";"),
		strings.Join(v.ArtistNames, ";"),
		v.RowHash,
		v.EffectiveStart.UTC().Format(time.RFC3339),
		end,
		strconv.FormatBool(v.IsCurrent),
		strconv.Itoa(v.Version),
	}
}
