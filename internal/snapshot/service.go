/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package snapshot persists periodic conductor state dumps and the play
// history. Restore is best effort: a stale snapshot yields a sane boot state,
// never a crash.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/venuecast/conductor/internal/catalog"
	"github.com/venuecast/conductor/internal/conductor"
	"github.com/venuecast/conductor/internal/db"
	"github.com/venuecast/conductor/internal/events"
	"github.com/venuecast/conductor/internal/models"
	"github.com/venuecast/conductor/internal/queue"
)

// keepSnapshots bounds the per-unit snapshot history.
const keepSnapshots = 10

// Service owns the snapshot writer and the play history recorder.
type Service struct {
	database  *gorm.DB
	conductor *conductor.Conductor
	bus       *events.Bus
	unit      string
	interval  time.Duration
	logger    zerolog.Logger
}

// New creates the snapshot service.
func New(database *gorm.DB, cond *conductor.Conductor, bus *events.Bus, unit string, interval time.Duration, logger zerolog.Logger) *Service {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Service{
		database:  database,
		conductor: cond,
		bus:       bus,
		unit:      unit,
		interval:  interval,
		logger:    logger.With().Str("component", "snapshot").Logger(),
	}
}

// Run persists snapshots on the configured interval and records play history
// from the event stream until context cancellation.
func (s *Service) Run(ctx context.Context) error {
	nowPlaying := s.bus.Subscribe(events.EventNowPlaying)
	hardCuts := s.bus.Subscribe(events.EventHardCut)
	defer s.bus.Unsubscribe(events.EventNowPlaying, nowPlaying)
	defer s.bus.Unsubscribe(events.EventHardCut, hardCuts)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final dump so a clean shutdown restores exactly.
			s.persist(context.Background())
			return ctx.Err()
		case <-ticker.C:
			s.persist(ctx)
			db.UpdateConnectionMetrics(s.database)
		case payload := <-nowPlaying:
			s.recordPlay(ctx, payload, false)
		case payload := <-hardCuts:
			s.recordPlay(ctx, payload, true)
		}
	}
}

func (s *Service) persist(ctx context.Context) {
	snap, dump := s.conductor.DumpState()

	manual, err := json.Marshal(dump.ManualIDs)
	if err != nil {
		s.logger.Error().Err(err).Msg("manual queue marshal failed")
		return
	}
	cursor, err := json.Marshal(dump.CursorIDs)
	if err != nil {
		s.logger.Error().Err(err).Msg("cursor marshal failed")
		return
	}
	requests := make([]models.RequestRecord, 0, len(dump.Requests))
	for _, entry := range dump.Requests {
		requests = append(requests, models.RequestRecord{
			EntryID:      entry.ID,
			TrackID:      entry.TrackID,
			SourceUnit:   entry.SourceUnit,
			RequesterTag: entry.RequesterTag,
		})
	}
	requestsJSON, err := json.Marshal(requests)
	if err != nil {
		s.logger.Error().Err(err).Msg("request queue marshal failed")
		return
	}

	record := models.PlaybackSnapshot{
		Unit:              s.unit,
		Origin:            string(snap.Origin),
		Elapsed:           snap.Elapsed,
		ActiveBuffer:      string(snap.ActiveBuffer),
		Paused:            snap.Paused,
		Overlay:           snap.Overlay,
		CommercialCounter: dump.Counter,
		PlaylistID:        dump.PlaylistID,
		Scheduled:         dump.Scheduled,
		ManualQueue:       string(manual),
		RequestQueue:      string(requestsJSON),
		Cursor:            string(cursor),
	}
	if snap.Track != nil {
		record.TrackID = snap.Track.ID
	}

	if err := s.database.WithContext(ctx).Create(&record).Error; err != nil {
		s.logger.Error().Err(err).Msg("snapshot persist failed")
		return
	}
	s.prune(ctx)
}

// prune drops all but the newest snapshots for this unit.
func (s *Service) prune(ctx context.Context) {
	var stale []string
	err := s.database.WithContext(ctx).
		Model(&models.PlaybackSnapshot{}).
		Where("unit = ?", s.unit).
		Order("created_at desc").
		Offset(keepSnapshots).
		Pluck("id", &stale).Error
	if err != nil || len(stale) == 0 {
		return
	}
	if err := s.database.WithContext(ctx).Delete(&models.PlaybackSnapshot{}, "id IN ?", stale).Error; err != nil {
		s.logger.Warn().Err(err).Msg("snapshot prune failed")
	}
}

func (s *Service) recordPlay(ctx context.Context, payload events.Payload, hardCut bool) {
	track, ok := payload["track"].(*catalog.Track)
	if !ok || track == nil {
		return
	}
	origin, _ := payload["origin"].(string)

	entry := models.PlayHistory{
		Unit:      s.unit,
		TrackID:   track.ID,
		Title:     track.Title,
		Origin:    origin,
		HardCut:   hardCut,
		StartedAt: time.Now().UTC(),
	}
	if err := s.database.WithContext(ctx).Create(&entry).Error; err != nil {
		s.logger.Warn().Err(err).Msg("play history write failed")
	}
}

// Restore loads the newest persisted snapshot into the queue state. It must
// run before the conductor loop starts; the returned counter and overlay are
// applied through RestoreHint. found is false when no snapshot exists.
func Restore(ctx context.Context, database *gorm.DB, unit string, state *queue.State, logger zerolog.Logger) (counter int, overlay string, found bool, err error) {
	var record models.PlaybackSnapshot
	err = database.WithContext(ctx).
		Where("unit = ?", unit).
		Order("created_at desc").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, err
	}

	var manual []string
	if record.ManualQueue != "" {
		if err := json.Unmarshal([]byte(record.ManualQueue), &manual); err != nil {
			logger.Warn().Err(err).Msg("manual queue decode failed, skipping")
		}
	}
	for _, id := range manual {
		state.EnqueueManual(id)
	}

	var requests []models.RequestRecord
	if record.RequestQueue != "" {
		if err := json.Unmarshal([]byte(record.RequestQueue), &requests); err != nil {
			logger.Warn().Err(err).Msg("request queue decode failed, skipping")
		}
	}
	if len(requests) > 0 {
		entries := make([]queue.RequestEntry, 0, len(requests))
		for _, record := range requests {
			entries = append(entries, queue.RequestEntry{
				ID:           record.EntryID,
				TrackID:      record.TrackID,
				SourceUnit:   record.SourceUnit,
				RequesterTag: record.RequesterTag,
			})
		}
		state.RestoreRequests(entries)
	}

	var cursor []string
	if record.Cursor != "" {
		if err := json.Unmarshal([]byte(record.Cursor), &cursor); err != nil {
			logger.Warn().Err(err).Msg("cursor decode failed, skipping")
		}
	}
	if record.PlaylistID != "" {
		state.SetPlaylist(record.PlaylistID, cursor, record.Scheduled)
	}

	logger.Info().
		Str("snapshot", record.ID).
		Time("taken", record.CreatedAt).
		Int("manual", len(manual)).
		Int("requests", len(requests)).
		Int("cursor", len(cursor)).
		Msg("state restored from snapshot")
	return record.CommercialCounter, record.Overlay, true, nil
}
