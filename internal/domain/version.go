package domain

import (
	"time"

	"github.com/google/uuid"
)

// TrackVersion is one row of the track dimension: a versioned snapshot with a
// validity interval. Rows are inserted by the reconciler, mutated exactly once
// (to close the interval) and never deleted.
type TrackVersion struct {
	ID                uuid.UUID
	TrackID           string
	Name              string
	DurationMS        int
	Explicit          bool
	Popularity        int
	PreviewURL        string
	AlbumID           string
	AlbumName         string
	AlbumReleaseDate  time.Time
	AlbumType         string
	PrimaryArtistID   string
	PrimaryArtistName string
	ArtistIDs         []string
	ArtistNames       []string
	RowHash           string
	EffectiveStart    time.Time
	EffectiveEnd      *time.Time
	IsCurrent         bool
	Version           int
	UpdatedAt         time.Time
}

// NewTrackVersion builds the dimension row for a snapshot. The validity
// interval opens at the snapshot's load timestamp.
func NewTrackVersion(s TrackSnapshot, version int) TrackVersion {
	return TrackVersion{
		ID:                uuid.New(),
		TrackID:           s.TrackID,
		Name:              s.Name,
		DurationMS:        s.DurationMS,
		Explicit:          s.Explicit,
		Popularity:        s.Popularity,
		PreviewURL:        s.PreviewURL,
		AlbumID:           s.AlbumID,
		AlbumName:         s.AlbumName,
		AlbumReleaseDate:  s.AlbumReleaseDate,
		AlbumType:         s.AlbumType,
		PrimaryArtistID:   s.PrimaryArtistID,
		PrimaryArtistName: s.PrimaryArtistName,
		ArtistIDs:         append([]string(nil), s.ArtistIDs...),
		ArtistNames:       append([]string(nil), s.ArtistNames...),
		RowHash:           s.Fingerprint(),
		EffectiveStart:    s.LoadedAt,
		EffectiveEnd:      nil,
		IsCurrent:         true,
		Version:           version,
		UpdatedAt:         time.Now(),
	}
}
