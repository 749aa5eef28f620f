// Package dedup reduces a normalized batch to one snapshot per track.
package dedup

import (
	"sort"

	"github.com/rpattn/trackdim/internal/domain"
)

// LatestPerTrack keeps, for every distinct track id, the snapshot with the
// latest load timestamp. Equal timestamps are broken by the highest staging
// sequence number (last write wins) so the choice never depends on incidental
// row order. Output is sorted by track id; empty input yields empty output.
func LatestPerTrack(snapshots []domain.TrackSnapshot) []domain.TrackSnapshot {
	latest := make(map[string]domain.TrackSnapshot, len(snapshots))
	for _, snap := range snapshots {
		best, seen := latest[snap.TrackID]
		if !seen || newer(snap, best) {
			latest[snap.TrackID] = snap
		}
	}

	deduped := make([]domain.TrackSnapshot, 0, len(latest))
	for _, snap := range latest {
		deduped = append(deduped, snap)
	}
	sort.Slice(deduped, func(i, j int) bool { return deduped[i].TrackID < deduped[j].TrackID })
	return deduped
}

func newer(candidate, best domain.TrackSnapshot) bool {
	if candidate.LoadedAt.After(best.LoadedAt) {
		return true
	}
	return candidate.LoadedAt.Equal(best.LoadedAt) && candidate.Seq > best.Seq
}
