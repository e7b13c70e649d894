/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package conductor

import (
	"errors"
	"math/rand"

	"github.com/venuecast/conductor/internal/events"
	"github.com/venuecast/conductor/internal/queue"
	"github.com/venuecast/conductor/internal/schedule"
	"github.com/venuecast/conductor/internal/telemetry"
)

// ErrNoCommercials indicates the commercial pool is empty.
var ErrNoCommercials = errors.New("conductor: commercial pool empty")

// Command methods marshal onto the conductor goroutine and block until the
// command has been applied. They must not be called from the loop itself.

// Snapshot returns an immutable copy of the playback state.
func (c *Conductor) Snapshot() Snapshot {
	ch := make(chan Snapshot, 1)
	c.post(func() { ch <- c.snapshot() })
	return <-ch
}

// SkipNow forces the end-of-track branch immediately, abandoning any peeked
// resolution. From idle it attempts to start playback.
func (c *Conductor) SkipNow() {
	done := make(chan struct{})
	c.post(func() {
		defer close(done)
		c.skipNow()
	})
	<-done
}

func (c *Conductor) skipNow() {
	c.resolver.Invalidate()
	c.nextTrack = nil
	c.advance(true)
}

// ForceCommercial queues a commercial for immediate consideration. An empty
// trackID picks uniformly from the cached pool.
func (c *Conductor) ForceCommercial(trackID string) error {
	ch := make(chan error, 1)
	c.post(func() { ch <- c.forceCommercial(trackID) })
	return <-ch
}

func (c *Conductor) forceCommercial(trackID string) error {
	if trackID == "" {
		pool := c.state.CommercialPool()
		if len(pool) == 0 {
			return ErrNoCommercials
		}
		trackID = pool[rand.Intn(len(pool))]
	}
	c.state.EnqueueManual(trackID)
	c.resolver.Invalidate()
	c.bus.Publish(events.EventQueueChanged, events.Payload{"unit": c.cfg.Unit})
	if c.current == nil {
		c.advance(true)
	}
	return nil
}

// LoadPlaylist swaps the named playlist into the cursor as a manual
// (non-scheduled) selection.
func (c *Conductor) LoadPlaylist(playlistID string) error {
	ch := make(chan error, 1)
	c.post(func() { ch <- c.loadPlaylist(playlistID) })
	return <-ch
}

func (c *Conductor) loadPlaylist(playlistID string) error {
	trackIDs, err := c.catalog.GetPlaylistTrackIDs(c.ctx, playlistID)
	if err != nil {
		return err
	}
	c.state.SetPlaylist(playlistID, trackIDs, false)
	c.resolver.Invalidate()
	c.bus.Publish(events.EventPlaylistChanged, events.Payload{
		"unit":        c.cfg.Unit,
		"playlist_id": playlistID,
		"scheduled":   false,
	})
	if c.current == nil {
		c.advance(true)
	}
	return nil
}

// EnqueueRequest adds a listener request, subject to the dedup guard.
func (c *Conductor) EnqueueRequest(trackID, sourceUnit, requesterTag string) (queue.RequestEntry, error) {
	type result struct {
		entry queue.RequestEntry
		err   error
	}
	ch := make(chan result, 1)
	c.post(func() {
		entry, err := c.enqueueRequest(trackID, sourceUnit, requesterTag)
		ch <- result{entry, err}
	})
	res := <-ch
	return res.entry, res.err
}

func (c *Conductor) enqueueRequest(trackID, sourceUnit, requesterTag string) (queue.RequestEntry, error) {
	playingID := ""
	if c.current != nil {
		playingID = c.current.ID
	}
	entry, err := c.state.EnqueueRequest(trackID, sourceUnit, requesterTag, playingID)
	if err != nil {
		telemetry.RequestsRejectedTotal.Inc()
		return queue.RequestEntry{}, err
	}
	c.resolver.Invalidate()
	c.bus.Publish(events.EventQueueChanged, events.Payload{"unit": c.cfg.Unit})
	if c.current == nil {
		c.advance(true)
	}
	return entry, nil
}

// RemoveRequest drops a queued request by entry id.
func (c *Conductor) RemoveRequest(entryID string) error {
	ch := make(chan error, 1)
	c.post(func() {
		err := c.state.RemoveRequest(entryID)
		if err == nil {
			c.resolver.Invalidate()
			c.bus.Publish(events.EventQueueChanged, events.Payload{"unit": c.cfg.Unit})
		}
		ch <- err
	})
	return <-ch
}

// ReportUnplayable handles a client playback fault. Only a report about the
// currently playing track forces a skip; stale reports are ignored.
func (c *Conductor) ReportUnplayable(trackID string) {
	done := make(chan struct{})
	c.post(func() {
		defer close(done)
		c.reportUnplayable(trackID)
	})
	<-done
}

func (c *Conductor) reportUnplayable(trackID string) {
	if c.current == nil || c.current.ID != trackID {
		return
	}
	c.logger.Warn().Str("track", trackID).Msg("client reported unplayable, skipping")
	c.skipNow()
}

// SetOverlay updates the overlay asset shown by all clients.
func (c *Conductor) SetOverlay(url string) {
	done := make(chan struct{})
	c.post(func() {
		defer close(done)
		c.overlay = url
		c.bus.Publish(events.EventOverlayChanged, events.Payload{
			"unit": c.cfg.Unit,
			"url":  url,
		})
	})
	<-done
}

// Pause freezes the elapsed position.
func (c *Conductor) Pause() {
	done := make(chan struct{})
	c.post(func() {
		defer close(done)
		c.pause()
	})
	<-done
}

func (c *Conductor) pause() {
	if c.current == nil || c.paused {
		return
	}
	now := c.now()
	c.elapsedBase = c.elapsed(now)
	c.anchor = now
	c.paused = true
}

// Resume restarts a paused track, or attempts to start playback from idle.
func (c *Conductor) Resume() {
	done := make(chan struct{})
	c.post(func() {
		defer close(done)
		c.resume()
	})
	<-done
}

func (c *Conductor) resume() {
	if c.current == nil {
		c.advance(true)
		return
	}
	if !c.paused {
		return
	}
	c.anchor = c.now()
	c.paused = false
}

// ClientConnected registers a playback client and returns the snapshot the
// gateway sends as the connect greeting. The first client wakes the
// conductor: schedule check plus an idle start attempt.
func (c *Conductor) ClientConnected() Snapshot {
	ch := make(chan Snapshot, 1)
	c.post(func() { ch <- c.clientConnected() })
	return <-ch
}

func (c *Conductor) clientConnected() Snapshot {
	c.connected++
	telemetry.ConnectedClients.Set(float64(c.connected))
	c.bus.Publish(events.EventClientConnect, events.Payload{
		"unit":      c.cfg.Unit,
		"connected": c.connected,
	})

	if c.connected == 1 {
		now := c.now()
		c.lastSlot = schedule.SlotIndex(now)
		c.checkSlot(now, c.lastSlot)
		if c.current == nil {
			c.advance(true)
		}
	}
	return c.snapshot()
}

// ClientDisconnected deregisters a playback client.
func (c *Conductor) ClientDisconnected() {
	done := make(chan struct{})
	c.post(func() {
		defer close(done)
		if c.connected > 0 {
			c.connected--
		}
		telemetry.ConnectedClients.Set(float64(c.connected))
		c.bus.Publish(events.EventClientDisconnect, events.Payload{
			"unit":      c.cfg.Unit,
			"connected": c.connected,
		})
	})
	<-done
}

// RestoreHint seeds state from a persisted snapshot before Run starts. Queues
// are re-derived from the catalog, only the cadence counter and overlay carry
// over.
func (c *Conductor) RestoreHint(commercialCounter int, overlay string) {
	c.state.SetCounter(commercialCounter)
	c.overlay = overlay
}

// QueueDump is the queue content captured alongside a snapshot for
// persistence.
type QueueDump struct {
	ManualIDs  []string
	Requests   []queue.RequestEntry
	CursorIDs  []string
	PlaylistID string
	Scheduled  bool
	Counter    int
}

// DumpState captures the playback snapshot and queue contents in one command,
// so the persisted pair is internally consistent.
func (c *Conductor) DumpState() (Snapshot, QueueDump) {
	type dump struct {
		snap  Snapshot
		queue QueueDump
	}
	ch := make(chan dump, 1)
	c.post(func() {
		ch <- dump{
			snap: c.snapshot(),
			queue: QueueDump{
				ManualIDs:  c.state.ManualIDs(),
				Requests:   c.state.Requests(),
				CursorIDs:  c.state.CursorIDs(),
				PlaylistID: c.state.PlaylistID(),
				Scheduled:  c.state.Scheduled(),
				Counter:    c.state.Counter(),
			},
		}
	})
	result := <-ch
	return result.snap, result.queue
}
