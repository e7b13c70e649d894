/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package models defines the persisted records for the conductor. The
// database is a recovery and audit aid, never the playback source of truth;
// live state lives in the conductor goroutine.
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PlaybackSnapshot is a periodic dump of the conductor state, used to restore
// the queues and commercial counter after a restart.
type PlaybackSnapshot struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	Unit      string `gorm:"index;not null"`
	CreatedAt time.Time

	TrackID           string
	Origin            string
	Elapsed           float64
	ActiveBuffer      string
	Paused            bool
	Overlay           string
	CommercialCounter int

	PlaylistID string
	Scheduled  bool

	// Queue contents as JSON arrays of ids / request entries.
	ManualQueue  string `gorm:"type:text"`
	RequestQueue string `gorm:"type:text"`
	Cursor       string `gorm:"type:text"`
}

// BeforeCreate assigns a UUID primary key.
func (s *PlaybackSnapshot) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// PlayHistory records every committed track start for venue reporting.
type PlayHistory struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Unit      string `gorm:"index;not null"`
	TrackID   string `gorm:"index;not null"`
	Title     string
	Origin    string `gorm:"index"`
	HardCut   bool
	StartedAt time.Time `gorm:"index"`
}

// RequestRecord is the persisted form of one queued request.
type RequestRecord struct {
	EntryID      string `json:"entry_id"`
	TrackID      string `json:"track_id"`
	SourceUnit   string `json:"source_unit"`
	RequesterTag string `json:"requester_tag"`
}
