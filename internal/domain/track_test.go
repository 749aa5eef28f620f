package domain

import (
	"testing"
	"time"
)

func baseSnapshot() TrackSnapshot {
	return TrackSnapshot{
		TrackID:           "T1",
		Name:              "Song A",
		DurationMS:        200,
		Explicit:          false,
		Popularity:        10,
		PreviewURL:        "https://cdn.example/p/T1",
		AlbumID:           "alb1",
		AlbumName:         "Album One",
		AlbumType:         "album",
		PrimaryArtistID:   "art1",
		PrimaryArtistName: "Artist One",
		LoadedAt:          time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestFingerprintIsDeterministic(t *testing.T) {
	a := baseSnapshot()
	b := baseSnapshot()

	// Fields excluded from the hash must not affect it.
	b.LoadedAt = b.LoadedAt.Add(48 * time.Hour)
	b.Seq = 99
	b.AlbumName = "Renamed Album"

	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("identical mutable attributes produced different fingerprints: %s vs %s",
			a.Fingerprint(), b.Fingerprint())
	}
}

func TestFingerprintChangesWithAttributes(t *testing.T) {
	base := baseSnapshot()

	mutations := map[string]func(*TrackSnapshot){
		"name":       func(s *TrackSnapshot) { s.Name = "Song B" },
		"duration":   func(s *TrackSnapshot) { s.DurationMS = 210 },
		"explicit":   func(s *TrackSnapshot) { s.Explicit = true },
		"popularity": func(s *TrackSnapshot) { s.Popularity = 11 },
		"preview":    func(s *TrackSnapshot) { s.PreviewURL = "" },
		"album":      func(s *TrackSnapshot) { s.AlbumID = "alb2" },
		"artist":     func(s *TrackSnapshot) { s.PrimaryArtistID = "art2" },
	}

	for field, mutate := range mutations {
		changed := baseSnapshot()
		mutate(&changed)
		if changed.Fingerprint() == base.Fingerprint() {
			t.Errorf("changing %s did not change the fingerprint", field)
		}
	}
}

func TestFingerprintSeparatorAvoidsCollisions(t *testing.T) {
	a := baseSnapshot()
	a.Name = "ab"
	a.PreviewURL = ""

	b := baseSnapshot()
	b.Name = "a"
	b.PreviewURL = "b"

	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("distinct attribute tuples collided")
	}
}

func TestNewTrackVersionOpensInterval(t *testing.T) {
	snap := baseSnapshot()
	v := NewTrackVersion(snap, 3)

	if v.Version != 3 {
		t.Fatalf("expected version 3, got %d", v.Version)
	}
	if !v.IsCurrent {
		t.Fatal("new version should be current")
	}
	if v.EffectiveEnd != nil {
		t.Fatal("new version should have an open interval")
	}
	if !v.EffectiveStart.Equal(snap.LoadedAt) {
		t.Fatalf("effective start %v should equal load time %v", v.EffectiveStart, snap.LoadedAt)
	}
	if v.RowHash != snap.Fingerprint() {
		t.Fatal("row hash should equal the snapshot fingerprint")
	}
}
