package domain

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxArtists caps how many associated artists are denormalized onto a snapshot.
const MaxArtists = 3

// RawArtist is an artist reference as delivered by the catalog API.
type RawArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RawAlbum carries the album attributes denormalized onto every track payload.
type RawAlbum struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ReleaseDate string `json:"release_date"`
	AlbumType   string `json:"album_type"`
}

// RawTrack is the nested track payload as fetched from the catalog API and
// landed verbatim in staging.
type RawTrack struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	DurationMS int         `json:"duration_ms"`
	Explicit   bool        `json:"explicit"`
	Popularity *int        `json:"popularity,omitempty"`
	PreviewURL string      `json:"preview_url"`
	Album      RawAlbum    `json:"album"`
	Artists    []RawArtist `json:"artists"`
}

// StagedTrack is one raw payload as read back from the staging store. Seq is
// the write order inside the batch and serves as the deterministic tiebreak
// for duplicates with identical load timestamps.
type StagedTrack struct {
	BatchID  uuid.UUID
	Seq      int
	Payload  json.RawMessage
	LoadedAt time.Time
}

// TrackSnapshot is the flattened, point-in-time view of a track produced by
// the normalizer. Immutable once created.
type TrackSnapshot struct {
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
	LoadedAt          time.Time
	Seq               int
}

// Fingerprint hashes the mutable attributes of the snapshot. Identifiers and
// timestamps are excluded; the tuple order is fixed so the same attribute
// values always produce the same hash, regardless of arrival order or process
// restarts.
func (s TrackSnapshot) Fingerprint() string {
	tuple := strings.Join([]string{
		s.Name,
		strconv.Itoa(s.DurationMS),
		strconv.FormatBool(s.Explicit),
		strconv.Itoa(s.Popularity),
		s.PreviewURL,
		s.AlbumID,
		s.PrimaryArtistID,
	}, "||")
	sum := md5.Sum([]byte(tuple))
	return hex.EncodeToString(sum[:])
}
