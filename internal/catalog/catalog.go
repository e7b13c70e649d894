/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package catalog provides read-only access to the external media catalog
// service. All lookups are eventually consistent; callers treat failures as
// "content unusable" and move on rather than stalling playback.
package catalog

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the catalog has no record for the requested id.
var ErrNotFound = errors.New("catalog: not found")

// Track is the immutable descriptor for a playable item. Trim points are in
// seconds; an EndOffset of zero means "play to Duration".
type Track struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Artists     []string `json:"artists"`
	Duration    float64  `json:"duration_seconds"`
	StartOffset float64  `json:"start_offset_seconds"`
	EndOffset   float64  `json:"end_offset_seconds"`
	Commercial  bool     `json:"is_commercial"`
}

// EndPoint returns the effective end of the playable range.
func (t *Track) EndPoint() float64 {
	if t.EndOffset > 0 {
		return t.EndOffset
	}
	return t.Duration
}

// Catalog is the read-only collaborator consulted by the conductor.
type Catalog interface {
	GetTrack(ctx context.Context, id string) (*Track, error)
	GetPlaylistTrackIDs(ctx context.Context, playlistID string) ([]string, error)
	GetCommercialIDs(ctx context.Context) ([]string, error)
	// GetScheduleOverride returns the playlist id scheduled for the given
	// date and 10-minute slot, or ("", false, nil) when no override exists.
	GetScheduleOverride(ctx context.Context, date string, slot int) (string, bool, error)
	// GetFallbackPlaylistID returns the weekday fallback playlist id, or
	// ("", nil) when none is configured for that weekday.
	GetFallbackPlaylistID(ctx context.Context, weekday time.Weekday) (string, error)
	ListPlaylistIDs(ctx context.Context) ([]string, error)
}
