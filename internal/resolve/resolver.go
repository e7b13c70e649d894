/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package resolve decides what plays next. Resolution is a peek: the winning
// source is not dequeued until the conductor commits, so a DJ skip can
// supersede a peeked decision before it is consumed.
package resolve

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/venuecast/conductor/internal/catalog"
	"github.com/venuecast/conductor/internal/queue"
)

// ErrNothingPlayable indicates every content source is empty.
var ErrNothingPlayable = errors.New("resolve: nothing playable")

// Origin is the closed set of source categories a resolution can come from.
type Origin string

const (
	OriginManualCommercial Origin = "manual_commercial"
	OriginAutoCommercial   Origin = "auto_commercial"
	OriginRequest          Origin = "request"
	OriginPlaylist         Origin = "playlist"
	OriginFallbackWeekday  Origin = "fallback_weekday"
	OriginFallbackRandom   Origin = "fallback_random"
)

// Commercial reports whether the origin itself marks the item as a commercial.
func (o Origin) Commercial() bool {
	return o == OriginManualCommercial || o == OriginAutoCommercial
}

// Resolution names the next playable item and where it came from.
type Resolution struct {
	TrackID string
	Origin  Origin
	// Request carries the full entry for request-origin resolutions so its
	// status can be reported after play.
	Request *queue.RequestEntry
}

// Resolver implements the priority walk over the queue state. The peeked
// resolution is cached until Commit or Invalidate so repeated peeks within
// one playback cycle are stable, including the random picks.
type Resolver struct {
	catalog   catalog.Catalog
	threshold int
	logger    zerolog.Logger

	pending *Resolution

	// Injection points for tests.
	now      func() time.Time
	randIntN func(int) int
}

// New creates a resolver. threshold is the commercial cadence trip point.
func New(cat catalog.Catalog, threshold int, logger zerolog.Logger) *Resolver {
	return &Resolver{
		catalog:   cat,
		threshold: threshold,
		logger:    logger.With().Str("component", "resolver").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
		randIntN:  rand.Intn,
	}
}

// Peek returns the next playable item without dequeuing it. The only state
// mutation allowed here is materializing a fallback playlist into the cursor
// (steps 5 and 6 of the priority walk); queues and the commercial counter are
// untouched until Commit.
func (r *Resolver) Peek(ctx context.Context, state *queue.State) (*Resolution, error) {
	if r.pending != nil {
		return r.pending, nil
	}

	res, err := r.walk(ctx, state)
	if err != nil {
		return nil, err
	}
	r.pending = res
	return res, nil
}

// Invalidate drops the cached peek, forcing the next Peek to re-walk the
// queues. Called on skip commands and on any queue mutation.
func (r *Resolver) Invalidate() {
	r.pending = nil
}

// Commit consumes the resolution: the winning queue is shifted and the
// commercial counter is advanced. commercial covers both commercial origins
// and catalog-flagged commercial tracks.
func (r *Resolver) Commit(state *queue.State, res *Resolution, commercial bool) {
	switch res.Origin {
	case OriginManualCommercial:
		state.DequeueManual()
	case OriginAutoCommercial:
		// Picked from the cached pool, nothing queued to shift.
	case OriginRequest:
		state.DequeueRequest()
	case OriginPlaylist, OriginFallbackWeekday, OriginFallbackRandom:
		state.DequeueCursor()
	}

	if commercial {
		state.NoteCommercialPlayed()
	} else {
		state.NoteNonCommercialPlayed()
	}

	r.pending = nil
}

// Discard drops the resolved id from its queue without advancing the
// commercial counter. Used when the catalog rejects the id and the conductor
// retries resolution.
func (r *Resolver) Discard(state *queue.State, res *Resolution) {
	switch res.Origin {
	case OriginManualCommercial:
		state.DequeueManual()
	case OriginAutoCommercial:
		// Nothing queued to drop.
	case OriginRequest:
		state.DequeueRequest()
	case OriginPlaylist, OriginFallbackWeekday, OriginFallbackRandom:
		state.DequeueCursor()
	}
	r.pending = nil
}

func (r *Resolver) walk(ctx context.Context, state *queue.State) (*Resolution, error) {
	// 1. Manual commercial injections beat everything.
	if id, ok := state.ManualHead(); ok {
		return &Resolution{TrackID: id, Origin: OriginManualCommercial}, nil
	}

	// 2. Forced commercial once the cadence counter trips.
	if state.Counter() >= r.threshold {
		if pool := state.CommercialPool(); len(pool) > 0 {
			pick := pool[r.randIntN(len(pool))]
			return &Resolution{TrackID: pick, Origin: OriginAutoCommercial}, nil
		}
	}

	// 3. Listener requests.
	if entry, ok := state.RequestHead(); ok {
		return &Resolution{TrackID: entry.TrackID, Origin: OriginRequest, Request: &entry}, nil
	}

	// 4. Active playlist cursor.
	if id, ok := state.CursorHead(); ok {
		return &Resolution{TrackID: id, Origin: OriginPlaylist}, nil
	}

	// 5. Weekday fallback playlist, loaded then retried once.
	weekday := r.now().Weekday()
	if playlistID, ok := state.FallbackFor(weekday); ok {
		if err := r.loadPlaylist(ctx, state, playlistID); err != nil {
			r.logger.Warn().Err(err).Str("playlist", playlistID).Msg("weekday fallback load failed")
		} else if id, ok := state.CursorHead(); ok {
			return &Resolution{TrackID: id, Origin: OriginFallbackWeekday}, nil
		}
	}

	// 6. Last resort: a random playlist from the whole catalog.
	ids, err := r.catalog.ListPlaylistIDs(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("catalog playlist listing failed")
		return nil, ErrNothingPlayable
	}
	if len(ids) > 0 {
		playlistID := ids[r.randIntN(len(ids))]
		if err := r.loadPlaylist(ctx, state, playlistID); err != nil {
			r.logger.Warn().Err(err).Str("playlist", playlistID).Msg("random fallback load failed")
		} else if id, ok := state.CursorHead(); ok {
			return &Resolution{TrackID: id, Origin: OriginFallbackRandom}, nil
		}
	}

	// 7. Silence.
	return nil, ErrNothingPlayable
}

func (r *Resolver) loadPlaylist(ctx context.Context, state *queue.State, playlistID string) error {
	trackIDs, err := r.catalog.GetPlaylistTrackIDs(ctx, playlistID)
	if err != nil {
		return err
	}
	state.SetPlaylist(playlistID, trackIDs, false)
	return nil
}

// PreviewItem is one entry of the next-up list shown to clients.
type PreviewItem struct {
	TrackID string `json:"track_id"`
	Origin  Origin `json:"origin"`
}

// Preview walks the queues in priority order and returns up to limit
// upcoming items. Auto commercials and fallbacks are not materialized here;
// the preview only covers content that is actually queued.
func Preview(state *queue.State, limit int) []PreviewItem {
	items := make([]PreviewItem, 0, limit)

	for _, id := range state.ManualIDs() {
		if len(items) >= limit {
			return items
		}
		items = append(items, PreviewItem{TrackID: id, Origin: OriginManualCommercial})
	}
	for _, entry := range state.Requests() {
		if len(items) >= limit {
			return items
		}
		items = append(items, PreviewItem{TrackID: entry.TrackID, Origin: OriginRequest})
	}
	for _, id := range state.CursorIDs() {
		if len(items) >= limit {
			return items
		}
		items = append(items, PreviewItem{TrackID: id, Origin: OriginPlaylist})
	}
	return items
}
