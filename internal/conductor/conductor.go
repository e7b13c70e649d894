/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package conductor runs the authoritative playback state machine. All
// mutation of playback state and the content queues happens on the conductor
// goroutine; administrative commands and client signals are marshaled onto it
// through a command mailbox, so there is exactly one writer by construction.
package conductor

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/venuecast/conductor/internal/catalog"
	"github.com/venuecast/conductor/internal/events"
	"github.com/venuecast/conductor/internal/queue"
	"github.com/venuecast/conductor/internal/resolve"
	"github.com/venuecast/conductor/internal/schedule"
	"github.com/venuecast/conductor/internal/telemetry"
)

// Buffer identifies one of the two alternating client playback slots.
type Buffer string

const (
	BufferA Buffer = "A"
	BufferB Buffer = "B"
)

// Other returns the opposite buffer.
func (b Buffer) Other() Buffer {
	if b == BufferA {
		return BufferB
	}
	return BufferA
}

// Status is the conductor's playback cycle state.
type Status string

const (
	StatusIdle          Status = "idle"
	StatusPlaying       Status = "playing"
	StatusTransitioning Status = "transitioning"
)

// Snapshot is an immutable copy of the playback state handed to the gateway.
type Snapshot struct {
	Unit              string                `json:"unit"`
	Status            Status                `json:"status"`
	Track             *catalog.Track        `json:"track,omitempty"`
	Origin            resolve.Origin        `json:"origin,omitempty"`
	Elapsed           float64               `json:"elapsed_seconds"`
	ActiveBuffer      Buffer                `json:"active_buffer"`
	Transitioning     bool                  `json:"transitioning"`
	Paused            bool                  `json:"paused"`
	Overlay           string                `json:"overlay,omitempty"`
	CommercialCounter int                   `json:"commercial_counter"`
	NextUp            []resolve.PreviewItem `json:"next_up"`
}

// Config carries the conductor's tuning knobs.
type Config struct {
	Unit             string
	TickInterval     time.Duration
	CrossfadeWindow  time.Duration
	LookupRetryLimit int
	RefreshInterval  time.Duration
}

// Conductor is the single-writer tick loop.
type Conductor struct {
	cfg      Config
	catalog  catalog.Catalog
	resolver *resolve.Resolver
	schedule *schedule.Resolver
	state    *queue.State
	bus      *events.Bus
	logger   zerolog.Logger

	commands chan func()

	// Mutated only on the conductor goroutine.
	ctx           context.Context
	current       *catalog.Track
	currentOrigin resolve.Origin
	nextTrack     *catalog.Track
	activeBuffer  Buffer
	transitioning bool
	paused        bool
	overlay       string
	connected     int
	lastSlot      int

	// Elapsed position is derived from an absolute anchor so I/O stalls and
	// GC pauses cannot make it drift.
	anchor      time.Time
	elapsedBase float64

	now func() time.Time
}

// New creates a conductor. Run must be called before any command method.
func New(cfg Config, cat catalog.Catalog, res *resolve.Resolver, sched *schedule.Resolver, state *queue.State, bus *events.Bus, logger zerolog.Logger) *Conductor {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 250 * time.Millisecond
	}
	if cfg.CrossfadeWindow <= 0 {
		cfg.CrossfadeWindow = 4 * time.Second
	}
	if cfg.LookupRetryLimit <= 0 {
		cfg.LookupRetryLimit = 3
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Minute
	}
	return &Conductor{
		ctx:          context.Background(),
		cfg:          cfg,
		catalog:      cat,
		resolver:     res,
		schedule:     sched,
		state:        state,
		bus:          bus,
		logger:       logger.With().Str("component", "conductor").Logger(),
		commands:     make(chan func(), 128),
		activeBuffer: BufferA,
		lastSlot:     -1,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Run executes the tick loop until context cancellation.
func (c *Conductor) Run(ctx context.Context) error {
	c.ctx = ctx
	c.logger.Info().Dur("tick", c.cfg.TickInterval).Msg("conductor started")

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	refresh := time.NewTicker(c.cfg.RefreshInterval)
	defer refresh.Stop()

	c.refreshCaches(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("conductor stopped")
			return ctx.Err()
		case cmd := <-c.commands:
			cmd()
		case <-ticker.C:
			c.tick()
		case <-refresh.C:
			c.refreshCaches(ctx)
		}
	}
}

// refreshCaches fetches the commercial pool and fallback map off-loop and
// applies the results through the mailbox.
func (c *Conductor) refreshCaches(ctx context.Context) {
	go func() {
		fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		pool, poolErr := c.catalog.GetCommercialIDs(fetchCtx)
		fallback := make(map[time.Weekday]string)
		var fallbackErr error
		for day := time.Sunday; day <= time.Saturday; day++ {
			id, err := c.catalog.GetFallbackPlaylistID(fetchCtx, day)
			if err != nil {
				fallbackErr = err
				continue
			}
			if id != "" {
				fallback[day] = id
			}
		}

		c.post(func() {
			if poolErr != nil {
				c.logger.Warn().Err(poolErr).Msg("commercial pool refresh failed")
			} else {
				c.state.SetCommercialPool(pool)
			}
			if fallbackErr != nil {
				c.logger.Warn().Err(fallbackErr).Msg("fallback map refresh incomplete")
			}
			if len(fallback) > 0 || fallbackErr == nil {
				c.state.SetFallback(fallback)
			}
		})
	}()
}

func (c *Conductor) post(fn func()) {
	select {
	case c.commands <- fn:
	case <-c.ctx.Done():
	}
}

// tick advances one scheduling step. Runs only on the conductor goroutine.
func (c *Conductor) tick() {
	telemetry.ConductorTicksTotal.Inc()
	now := c.now()

	// Slot boundaries are only observed while someone is watching; a
	// scheduled playlist should not be consumed by an empty room.
	if c.connected > 0 {
		if slot := schedule.SlotIndex(now); slot != c.lastSlot {
			c.lastSlot = slot
			c.checkSlot(now, slot)
		}
	}

	if c.current == nil || c.paused {
		return
	}

	elapsed := c.elapsed(now)
	endPoint := c.current.EndPoint()

	// Informational only: clients run their own render clock and use this
	// for drift correction.
	c.bus.Publish(events.EventProgress, events.Payload{
		"unit":    c.cfg.Unit,
		"elapsed": elapsed,
		"total":   c.current.Duration,
		"paused":  c.paused,
	})

	if !c.transitioning && elapsed >= endPoint-c.cfg.CrossfadeWindow.Seconds() {
		c.beginTransition()
	}

	if elapsed >= endPoint {
		c.advance(false)
	}
}

func (c *Conductor) checkSlot(now time.Time, slot int) {
	action, playlistID, err := c.schedule.CheckSlot(c.ctx, c.state, schedule.SlotDate(now), slot)
	if err != nil {
		telemetry.ScheduleChecksTotal.WithLabelValues("error").Inc()
		c.logger.Warn().Err(err).Int("slot", slot).Msg("slot check failed")
		return
	}
	telemetry.ScheduleChecksTotal.WithLabelValues(string(action)).Inc()

	switch action {
	case schedule.ActionLoaded:
		c.resolver.Invalidate()
		c.bus.Publish(events.EventPlaylistChanged, events.Payload{
			"unit":        c.cfg.Unit,
			"playlist_id": playlistID,
			"scheduled":   true,
		})
		if c.current == nil {
			c.advance(true)
		}
	case schedule.ActionCleared:
		c.resolver.Invalidate()
		c.bus.Publish(events.EventPlaylistCleared, events.Payload{
			"unit":        c.cfg.Unit,
			"playlist_id": playlistID,
		})
	}
}

// beginTransition peeks the next item and signals the crossfade. The peek is
// not committed; a skip can still supersede it before the end point.
func (c *Conductor) beginTransition() {
	res, err := c.resolver.Peek(c.ctx, c.state)
	if err != nil {
		// Nothing to fade into; the end point will stop playback.
		return
	}

	next := c.nextTrack
	if next == nil || next.ID != res.TrackID {
		fetched, ferr := c.catalog.GetTrack(c.ctx, res.TrackID)
		if ferr != nil {
			// Leave the transition unarmed; the commit path retries and
			// drops the id if the catalog keeps failing.
			c.logger.Warn().Err(ferr).Str("track", res.TrackID).Msg("next track fetch failed")
			return
		}
		next = fetched
		c.nextTrack = fetched
	}

	c.transitioning = true
	telemetry.TransitionsTotal.WithLabelValues("crossfade").Inc()
	c.bus.Publish(events.EventBeginCrossfade, events.Payload{
		"unit":            c.cfg.Unit,
		"fade_out_buffer": string(c.activeBuffer),
		"fade_in_buffer":  string(c.activeBuffer.Other()),
		"next":            next,
		"origin":          string(res.Origin),
		"window_seconds":  c.cfg.CrossfadeWindow.Seconds(),
	})
}

// advance commits the next resolution and starts it. forced marks hard cuts
// (idle start, skip, unplayable report) as opposed to natural end-of-track.
func (c *Conductor) advance(forced bool) {
	wasIdle := c.current == nil

	for attempt := 0; attempt <= c.cfg.LookupRetryLimit; attempt++ {
		res, err := c.resolver.Peek(c.ctx, c.state)
		if err != nil {
			if !errors.Is(err, resolve.ErrNothingPlayable) {
				c.logger.Warn().Err(err).Msg("resolution failed")
			}
			c.stopPlayback()
			return
		}

		track := c.takeNextTrack(res.TrackID)
		if track == nil {
			fetched, ferr := c.catalog.GetTrack(c.ctx, res.TrackID)
			if ferr != nil {
				// Unusable id: drop it and retry, bounded so a corrupt queue
				// cannot starve the tick.
				telemetry.CatalogLookupFailuresTotal.Inc()
				c.logger.Warn().Err(ferr).Str("track", res.TrackID).Str("origin", string(res.Origin)).Msg("track unusable, dropping")
				c.resolver.Discard(c.state, res)
				continue
			}
			track = fetched
		}

		commercial := track.Commercial || res.Origin.Commercial()
		c.resolver.Commit(c.state, res, commercial)
		telemetry.ResolutionsTotal.WithLabelValues(string(res.Origin)).Inc()
		c.startTrack(track, res.Origin, forced || wasIdle)
		return
	}

	c.logger.Error().Int("limit", c.cfg.LookupRetryLimit).Msg("lookup retries exhausted")
	c.stopPlayback()
}

func (c *Conductor) startTrack(track *catalog.Track, origin resolve.Origin, hardCut bool) {
	if c.current != nil {
		c.activeBuffer = c.activeBuffer.Other()
	}
	c.current = track
	c.currentOrigin = origin
	c.nextTrack = nil
	c.transitioning = false
	c.paused = false
	c.anchor = c.now()
	c.elapsedBase = track.StartOffset

	eventType := events.EventNowPlaying
	if hardCut {
		eventType = events.EventHardCut
		telemetry.TransitionsTotal.WithLabelValues("hard_cut").Inc()
	}
	c.bus.Publish(eventType, events.Payload{
		"unit":    c.cfg.Unit,
		"buffer":  string(c.activeBuffer),
		"track":   track,
		"origin":  string(origin),
		"elapsed": track.StartOffset,
	})
	c.bus.Publish(events.EventQueueChanged, events.Payload{"unit": c.cfg.Unit})

	c.logger.Info().
		Str("track", track.ID).
		Str("title", track.Title).
		Str("origin", string(origin)).
		Str("buffer", string(c.activeBuffer)).
		Bool("hard_cut", hardCut).
		Msg("now playing")
}

func (c *Conductor) stopPlayback() {
	wasPlaying := c.current != nil
	c.current = nil
	c.currentOrigin = ""
	c.nextTrack = nil
	c.transitioning = false
	c.paused = false

	if wasPlaying {
		telemetry.SilenceEpisodesTotal.Inc()
	}
	c.bus.Publish(events.EventStop, events.Payload{
		"unit":   c.cfg.Unit,
		"reason": "nothing_playable",
	})
	c.logger.Info().Msg("playback stopped, nothing playable")
}

func (c *Conductor) takeNextTrack(id string) *catalog.Track {
	if c.nextTrack != nil && c.nextTrack.ID == id {
		track := c.nextTrack
		c.nextTrack = nil
		return track
	}
	return nil
}

func (c *Conductor) elapsed(now time.Time) float64 {
	if c.current == nil {
		return 0
	}
	if c.paused {
		return c.elapsedBase
	}
	return c.elapsedBase + now.Sub(c.anchor).Seconds()
}

func (c *Conductor) status() Status {
	switch {
	case c.current == nil:
		return StatusIdle
	case c.transitioning:
		return StatusTransitioning
	default:
		return StatusPlaying
	}
}

func (c *Conductor) snapshot() Snapshot {
	snap := Snapshot{
		Unit:              c.cfg.Unit,
		Status:            c.status(),
		Origin:            c.currentOrigin,
		Elapsed:           c.elapsed(c.now()),
		ActiveBuffer:      c.activeBuffer,
		Transitioning:     c.transitioning,
		Paused:            c.paused,
		Overlay:           c.overlay,
		CommercialCounter: c.state.Counter(),
		NextUp:            resolve.Preview(c.state, 5),
	}
	if c.current != nil {
		copied := *c.current
		snap.Track = &copied
	}
	return snap
}
