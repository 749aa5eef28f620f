// Package normalize flattens raw catalog payloads into track snapshots.
//
// Every optional field has an enumerated default: missing strings become "",
// a missing popularity becomes 0 (the upstream feed omits track popularity and
// the album fallback can be absent too), a missing release date becomes the
// zero time. Only the track id is required; a payload without one is malformed.
package normalize

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rpattn/trackdim/internal/domain"
)

// Dropped describes a staged record that was rejected during normalization.
type Dropped struct {
	Seq    int
	Reason string
}

// Options control batch normalization policy.
type Options struct {
	// AbortOnMalformed fails the whole batch on the first malformed payload
	// instead of dropping it and continuing.
	AbortOnMalformed bool
}

// releaseDateLayouts covers the precision levels the catalog API emits.
var releaseDateLayouts = []string{"2006-01-02", "2006-01", "2006"}

// Snapshot flattens one raw track into an immutable snapshot.
func Snapshot(raw domain.RawTrack, loadedAt time.Time, seq int) (domain.TrackSnapshot, error) {
	if raw.ID == "" {
		return domain.TrackSnapshot{}, fmt.Errorf("%w: payload has no track id", domain.ErrMalformedRecord)
	}

	snap := domain.TrackSnapshot{
		TrackID:    raw.ID,
		Name:       raw.Name,
		DurationMS: raw.DurationMS,
		Explicit:   raw.Explicit,
		PreviewURL: raw.PreviewURL,
		AlbumID:    raw.Album.ID,
		AlbumName:  raw.Album.Name,
		AlbumType:  raw.Album.AlbumType,
		LoadedAt:   loadedAt,
		Seq:        seq,
	}

	if raw.Popularity != nil {
		snap.Popularity = *raw.Popularity
	}
	if raw.Album.ReleaseDate != "" {
		snap.AlbumReleaseDate = parseReleaseDate(raw.Album.ReleaseDate)
	}

	for i, artist := range raw.Artists {
		if i == 0 {
			snap.PrimaryArtistID = artist.ID
			snap.PrimaryArtistName = artist.Name
		}
		if i >= domain.MaxArtists {
			break
		}
		// Missing slots are omitted, never null-padded.
		if artist.ID != "" {
			snap.ArtistIDs = append(snap.ArtistIDs, artist.ID)
		}
		if artist.Name != "" {
			snap.ArtistNames = append(snap.ArtistNames, artist.Name)
		}
	}

	return snap, nil
}

// Batch decodes and flattens a staged batch. Malformed payloads are dropped
// and reported unless AbortOnMalformed is set, in which case the first one
// fails the batch.
func Batch(staged []domain.StagedTrack, opts Options) ([]domain.TrackSnapshot, []Dropped, error) {
	snapshots := make([]domain.TrackSnapshot, 0, len(staged))
	var dropped []Dropped

	for _, record := range staged {
		var raw domain.RawTrack
		if err := json.Unmarshal(record.Payload, &raw); err != nil {
			wrapped := fmt.Errorf("%w: record %d is not valid JSON: %v", domain.ErrMalformedRecord, record.Seq, err)
			if opts.AbortOnMalformed {
				return nil, nil, wrapped
			}
			dropped = append(dropped, Dropped{Seq: record.Seq, Reason: wrapped.Error()})
			continue
		}

		snap, err := Snapshot(raw, record.LoadedAt, record.Seq)
		if err != nil {
			if opts.AbortOnMalformed {
				return nil, nil, fmt.Errorf("record %d: %w", record.Seq, err)
			}
			dropped = append(dropped, Dropped{Seq: record.Seq, Reason: err.Error()})
			continue
		}
		snapshots = append(snapshots, snap)
	}

	return snapshots, dropped, nil
}

func parseReleaseDate(raw string) time.Time {
	for _, layout := range releaseDateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts
		}
	}
	return time.Time{}
}
