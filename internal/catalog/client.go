/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Client is an HTTP implementation of Catalog against the catalog service's
// JSON API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

// NewClient creates a catalog client for the given base URL.
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "catalog").Logger(),
	}
}

// GetTrack fetches a track descriptor by id.
func (c *Client) GetTrack(ctx context.Context, id string) (*Track, error) {
	var track Track
	if err := c.getJSON(ctx, "/v1/tracks/"+url.PathEscape(id), &track); err != nil {
		return nil, err
	}
	return &track, nil
}

// GetPlaylistTrackIDs fetches the ordered track ids of a playlist.
func (c *Client) GetPlaylistTrackIDs(ctx context.Context, playlistID string) ([]string, error) {
	var resp struct {
		TrackIDs []string `json:"track_ids"`
	}
	if err := c.getJSON(ctx, "/v1/playlists/"+url.PathEscape(playlistID)+"/tracks", &resp); err != nil {
		return nil, err
	}
	return resp.TrackIDs, nil
}

// GetCommercialIDs fetches the full commercial pool.
func (c *Client) GetCommercialIDs(ctx context.Context) ([]string, error) {
	var resp struct {
		TrackIDs []string `json:"track_ids"`
	}
	if err := c.getJSON(ctx, "/v1/commercials", &resp); err != nil {
		return nil, err
	}
	return resp.TrackIDs, nil
}

// GetScheduleOverride looks up the calendar override for (date, slot).
func (c *Client) GetScheduleOverride(ctx context.Context, date string, slot int) (string, bool, error) {
	var resp struct {
		PlaylistID string `json:"playlist_id"`
	}
	path := "/v1/schedule?date=" + url.QueryEscape(date) + "&slot=" + strconv.Itoa(slot)
	err := c.getJSON(ctx, path, &resp)
	if err == ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return resp.PlaylistID, true, nil
}

// GetFallbackPlaylistID looks up the day-of-week fallback playlist.
func (c *Client) GetFallbackPlaylistID(ctx context.Context, weekday time.Weekday) (string, error) {
	var resp struct {
		PlaylistID string `json:"playlist_id"`
	}
	err := c.getJSON(ctx, "/v1/fallback/"+strings.ToLower(weekday.String()), &resp)
	if err == ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return resp.PlaylistID, nil
}

// ListPlaylistIDs fetches every playlist id known to the catalog.
func (c *Client) ListPlaylistIDs(ctx context.Context) ([]string, error) {
	var resp struct {
		PlaylistIDs []string `json:"playlist_ids"`
	}
	if err := c.getJSON(ctx, "/v1/playlists", &resp); err != nil {
		return nil, err
	}
	return resp.PlaylistIDs, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("catalog request %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		c.logger.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("catalog returned non-200")
		return fmt.Errorf("catalog %s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode catalog response %s: %w", path, err)
	}
	return nil
}
