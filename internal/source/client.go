// Package source pulls newly released tracks from the catalog API.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/trackdim/internal/config"
	"github.com/rpattn/trackdim/internal/domain"
	"github.com/rpattn/trackdim/internal/secrets"
)

// Client talks to the catalog API using client-credential tokens fetched via
// the credential provider on every run.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokenURL   string
	secretName string
	provider   secrets.Provider
	retries    int
}

// NewClient builds a catalog client from config and a credential provider.
func NewClient(cfg config.SourceConfig, provider secrets.Provider) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = 3
	}
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout, Transport: tr},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		tokenURL:   cfg.TokenURL,
		secretName: cfg.SecretName,
		provider:   provider,
		retries:    retries,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

type albumRef struct {
	ID string `json:"id"`
}

type newReleasesResponse struct {
	Albums struct {
		Items []albumRef `json:"items"`
	} `json:"albums"`
}

type albumDetail struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ReleaseDate string `json:"release_date"`
	AlbumType   string `json:"album_type"`
	Popularity  *int   `json:"popularity"`
}

type albumTracksResponse struct {
	Items []domain.RawTrack `json:"items"`
}

// FetchNewReleaseTracks pulls up to limit newly released albums and returns
// their tracks, each denormalized with the album's id, name, release date,
// type and popularity. Any failure is classified as source unavailability;
// nothing has been staged at that point.
func (c *Client) FetchNewReleaseTracks(ctx context.Context, limit int) ([]domain.RawTrack, error) {
	creds, err := c.provider.GetSecret(ctx, c.secretName)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load credentials: %v", domain.ErrSourceUnavailable, err)
	}
	clientID, clientSecret := creds["client_id"], creds["client_secret"]
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("%w: secret %s is missing client_id or client_secret", domain.ErrSourceUnavailable, c.secretName)
	}

	token, err := c.authenticate(ctx, clientID, clientSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err)
	}

	albums, err := c.newReleases(ctx, token, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err)
	}

	var tracks []domain.RawTrack
	for _, album := range albums {
		albumTracks, err := c.albumTracks(ctx, token, album.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: album %s: %v", domain.ErrSourceUnavailable, album.ID, err)
		}
		tracks = append(tracks, albumTracks...)
	}
	return tracks, nil
}

// authenticate obtains an access token with the client-credentials grant.
func (c *Client) authenticate(ctx context.Context, clientID, clientSecret string) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}

	var token string
	err := c.withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return fmt.Errorf("failed to build token request: %w", err)
		}
		req.SetBasicAuth(clientID, clientSecret)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		var payload tokenResponse
		if err := c.do(req, &payload); err != nil {
			return fmt.Errorf("token request failed: %w", err)
		}
		if payload.AccessToken == "" {
			return fmt.Errorf("token response contained no access token")
		}
		token = payload.AccessToken
		return nil
	})
	return token, err
}

func (c *Client) newReleases(ctx context.Context, token string, limit int) ([]albumRef, error) {
	endpoint := c.baseURL + "/browse/new-releases?limit=" + strconv.Itoa(limit)

	var payload newReleasesResponse
	err := c.withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("failed to build new-releases request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return c.do(req, &payload)
	})
	if err != nil {
		return nil, fmt.Errorf("new-releases request failed: %w", err)
	}
	return payload.Albums.Items, nil
}

// albumTracks fetches the album detail first so every track can be enriched
// with the album attributes the tracks endpoint does not carry.
func (c *Client) albumTracks(ctx context.Context, token, albumID string) ([]domain.RawTrack, error) {
	var detail albumDetail
	err := c.withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/albums/"+albumID, nil)
		if err != nil {
			return fmt.Errorf("failed to build album request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return c.do(req, &detail)
	})
	if err != nil {
		return nil, fmt.Errorf("album request failed: %w", err)
	}

	var payload albumTracksResponse
	err = c.withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/albums/"+albumID+"/tracks", nil)
		if err != nil {
			return fmt.Errorf("failed to build album-tracks request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return c.do(req, &payload)
	})
	if err != nil {
		return nil, fmt.Errorf("album-tracks request failed: %w", err)
	}

	popularity := 0
	if detail.Popularity != nil {
		popularity = *detail.Popularity
	}

	tracks := payload.Items
	for i := range tracks {
		tracks[i].Album = domain.RawAlbum{
			ID:          detail.ID,
			Name:        detail.Name,
			ReleaseDate: detail.ReleaseDate,
			AlbumType:   detail.AlbumType,
		}
		// The tracks endpoint does not return track popularity; carry the
		// album popularity instead, defaulting to 0.
		p := popularity
		tracks[i].Popularity = &p
	}
	return tracks, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// withRetry runs fn with exponential backoff between attempts.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	delay := 250 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
	}
	return lastErr
}
