/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package schedule maps wall-clock time to 10-minute calendar slots and
// applies scheduled playlist overrides to the queue state.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/venuecast/conductor/internal/catalog"
	"github.com/venuecast/conductor/internal/queue"
)

// SlotMinutes is the calendar granularity.
const SlotMinutes = 10

// SlotIndex returns the slot for a wall-clock instant. Slots are computed in
// UTC; every venue of a deployment shares the server's clock.
func SlotIndex(t time.Time) int {
	t = t.UTC()
	return (t.Hour()*60 + t.Minute()) / SlotMinutes
}

// SlotDate returns the calendar date key used alongside the slot index.
func SlotDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Action describes what a slot check did to the queue state.
type Action string

const (
	ActionNone    Action = "none"    // override matches what is already active
	ActionLoaded  Action = "loaded"  // a scheduled playlist was swapped in
	ActionCleared Action = "cleared" // an explicit no-schedule cleared the cursor
)

// Resolver consults the catalog calendar at slot boundaries.
type Resolver struct {
	catalog catalog.Catalog
	logger  zerolog.Logger
}

// NewResolver creates a schedule resolver.
func NewResolver(cat catalog.Catalog, logger zerolog.Logger) *Resolver {
	return &Resolver{
		catalog: cat,
		logger:  logger.With().Str("component", "schedule").Logger(),
	}
}

// CheckSlot applies the calendar override for (date, slot) to the state.
// Called at most once per slot boundary. A lookup failure leaves the state
// untouched; the caller retries at the next boundary.
func (r *Resolver) CheckSlot(ctx context.Context, state *queue.State, date string, slot int) (Action, string, error) {
	playlistID, ok, err := r.catalog.GetScheduleOverride(ctx, date, slot)
	if err != nil {
		return ActionNone, "", fmt.Errorf("schedule lookup %s/%d: %w", date, slot, err)
	}

	if !ok || playlistID == "" {
		// Explicit "no schedule": drop a scheduled playlist, leave a manual
		// one alone.
		if state.Scheduled() {
			cleared := state.PlaylistID()
			state.ClearPlaylist()
			r.logger.Info().Str("playlist", cleared).Int("slot", slot).Msg("scheduled playlist cleared")
			return ActionCleared, cleared, nil
		}
		return ActionNone, "", nil
	}

	// Identical marker: keep the cursor where it is rather than restarting
	// the playlist on every boundary.
	if state.Scheduled() && state.PlaylistID() == playlistID {
		return ActionNone, playlistID, nil
	}

	trackIDs, err := r.catalog.GetPlaylistTrackIDs(ctx, playlistID)
	if err != nil {
		return ActionNone, "", fmt.Errorf("load scheduled playlist %s: %w", playlistID, err)
	}

	state.SetPlaylist(playlistID, trackIDs, true)
	r.logger.Info().Str("playlist", playlistID).Int("slot", slot).Int("tracks", len(trackIDs)).Msg("scheduled playlist activated")
	return ActionLoaded, playlistID, nil
}
