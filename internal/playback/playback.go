/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playback implements the client-side double-buffer player driven by
// the gateway event stream. The server owns all sequencing decisions; this
// engine only renders them, and its single upstream signal is an unplayable
// report when local loading fails.
package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/venuecast/conductor/internal/catalog"
	"github.com/venuecast/conductor/internal/conductor"
)

// Buffer is one of the two media slots. Implementations wrap whatever the
// underlying player exposes (a video element, a GStreamer sink).
type Buffer interface {
	Load(ctx context.Context, track *catalog.Track) error
	Play() error
	Pause() error
	Stop() error
	Seek(seconds float64) error
	SetVolume(volume float64) error
}

// Reporter carries client signals back to the conductor.
type Reporter interface {
	ReportUnplayable(trackID string)
}

// Config tunes the render engine.
type Config struct {
	// FadeInterval is the volume ramp step period. The default of 30ms keeps
	// the ramp above 30 updates per second.
	FadeInterval time.Duration
	// SeekCompensation is added to the snapshot elapsed position on reconnect
	// to cover transfer and decode latency.
	SeekCompensation time.Duration
}

// Controller renders conductor events onto the two buffers.
type Controller struct {
	cfg      Config
	reporter Reporter
	logger   zerolog.Logger

	mu       sync.Mutex
	buffers  map[conductor.Buffer]Buffer
	active   conductor.Buffer
	current  *catalog.Track
	fadeStop chan struct{}

	now func() time.Time
}

// NewController creates a controller over the two buffers.
func NewController(cfg Config, bufferA, bufferB Buffer, reporter Reporter, logger zerolog.Logger) *Controller {
	if cfg.FadeInterval <= 0 {
		cfg.FadeInterval = 30 * time.Millisecond
	}
	if cfg.SeekCompensation <= 0 {
		cfg.SeekCompensation = 2 * time.Second
	}
	return &Controller{
		cfg:      cfg,
		reporter: reporter,
		logger:   logger.With().Str("component", "playback").Logger(),
		buffers: map[conductor.Buffer]Buffer{
			conductor.BufferA: bufferA,
			conductor.BufferB: bufferB,
		},
		active: conductor.BufferA,
		now:    time.Now,
	}
}

// ApplySnapshot restores playback state after connect or reconnect. The seek
// target is the reported elapsed position plus the network compensation, so
// the client lands roughly where the server clock is by the time media flows.
func (c *Controller) ApplySnapshot(ctx context.Context, snap conductor.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelFadeLocked()

	idle := c.buffers[snap.ActiveBuffer.Other()]
	idle.Stop()

	if snap.Track == nil {
		c.buffers[snap.ActiveBuffer].Stop()
		c.active = snap.ActiveBuffer
		c.current = nil
		return nil
	}

	target := c.buffers[snap.ActiveBuffer]
	if err := c.loadLocked(ctx, target, snap.Track); err != nil {
		return err
	}

	seekTo := snap.Elapsed
	if !snap.Paused {
		seekTo += c.cfg.SeekCompensation.Seconds()
	}
	if end := snap.Track.EndPoint(); seekTo > end {
		seekTo = end
	}
	if err := target.Seek(seekTo); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	target.SetVolume(1)

	if snap.Paused {
		target.Pause()
	} else if err := target.Play(); err != nil {
		return fmt.Errorf("play: %w", err)
	}

	c.active = snap.ActiveBuffer
	c.current = snap.Track
	c.logger.Info().Str("track", snap.Track.ID).Float64("seek", seekTo).Msg("snapshot applied")
	return nil
}

// HardCut replaces playback immediately on the given buffer, interrupting any
// crossfade in flight.
func (c *Controller) HardCut(ctx context.Context, buffer conductor.Buffer, track *catalog.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelFadeLocked()

	c.buffers[buffer.Other()].Stop()

	target := c.buffers[buffer]
	if err := c.loadLocked(ctx, target, track); err != nil {
		return err
	}
	if err := target.Seek(track.StartOffset); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	target.SetVolume(1)
	if err := target.Play(); err != nil {
		return fmt.Errorf("play: %w", err)
	}

	c.active = buffer
	c.current = track
	return nil
}

// BeginCrossfade preloads next on the inactive buffer and ramps volumes
// linearly on the wall clock over the window.
func (c *Controller) BeginCrossfade(ctx context.Context, fadeIn conductor.Buffer, next *catalog.Track, window time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelFadeLocked()

	in := c.buffers[fadeIn]
	out := c.buffers[fadeIn.Other()]

	if err := c.loadLocked(ctx, in, next); err != nil {
		return err
	}
	if err := in.Seek(next.StartOffset); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	in.SetVolume(0)
	if err := in.Play(); err != nil {
		return fmt.Errorf("play: %w", err)
	}

	stop := make(chan struct{})
	c.fadeStop = stop
	go c.runFade(in, out, window, stop)

	c.logger.Debug().Str("next", next.ID).Dur("window", window).Msg("crossfade started")
	return nil
}

// runFade ramps the two volumes until the window closes. Progress is derived
// from the wall clock, not tick counts, so a missed tick cannot stretch the
// fade.
func (c *Controller) runFade(in, out Buffer, window time.Duration, stop chan struct{}) {
	start := c.now()
	ticker := time.NewTicker(c.cfg.FadeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			progress := float64(c.now().Sub(start)) / float64(window)
			if progress >= 1 {
				in.SetVolume(1)
				out.SetVolume(0)
				out.Stop()
				return
			}
			in.SetVolume(progress)
			out.SetVolume(1 - progress)
		}
	}
}

// Committed confirms the server-side advance at the end point. The buffer in
// the event is authoritative; a mismatch means this client drifted and gets a
// hard cut instead of a seamless hand-off.
func (c *Controller) Committed(ctx context.Context, buffer conductor.Buffer, track *catalog.Track) error {
	c.mu.Lock()
	recovered := c.current == nil || c.current.ID != track.ID || c.active.Other() != buffer
	c.mu.Unlock()

	if recovered {
		c.logger.Warn().Str("track", track.ID).Msg("commit mismatch, hard cutting")
		return c.HardCut(ctx, buffer, track)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = buffer
	c.current = track
	return nil
}

// Stop silences both buffers.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelFadeLocked()
	for _, buffer := range c.buffers {
		buffer.Stop()
	}
	c.current = nil
}

// Pause halts the active buffer in place.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffers[c.active].Pause()
}

// Resume continues the active buffer.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffers[c.active].Play()
}

// Active returns the buffer currently carrying playback.
func (c *Controller) Active() conductor.Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) loadLocked(ctx context.Context, target Buffer, track *catalog.Track) error {
	if err := target.Load(ctx, track); err != nil {
		c.logger.Warn().Err(err).Str("track", track.ID).Msg("load failed, reporting unplayable")
		if c.reporter != nil {
			c.reporter.ReportUnplayable(track.ID)
		}
		return fmt.Errorf("load %s: %w", track.ID, err)
	}
	return nil
}

func (c *Controller) cancelFadeLocked() {
	if c.fadeStop != nil {
		close(c.fadeStop)
		c.fadeStop = nil
	}
}
