/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package queue holds the authoritative content queues consumed by the
// conductor. The state is deliberately unlocked: every mutation happens on
// the conductor goroutine, which is the single writer.
package queue

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// dedupWindow is how many leading request entries are checked when rejecting
// duplicate requests.
const dedupWindow = 5

var (
	// ErrDuplicateRequest indicates the requested id is already playing or
	// already sits near the head of the request queue.
	ErrDuplicateRequest = errors.New("queue: duplicate request")

	// ErrRequestNotFound indicates no queued request carries the given id.
	ErrRequestNotFound = errors.New("queue: request not found")
)

// RequestEntry is a single listener request.
type RequestEntry struct {
	ID           string `json:"id"`
	TrackID      string `json:"track_id"`
	SourceUnit   string `json:"source_unit"`
	RequesterTag string `json:"requester_tag"`
}

// State aggregates the four content sources and the commercial cadence
// counter.
type State struct {
	manual   []string
	requests []RequestEntry

	cursor     []string
	playlistID string
	scheduled  bool

	fallback       map[time.Weekday]string
	commercialPool []string

	counter int
}

// NewState creates an empty queue state.
func NewState() *State {
	return &State{fallback: make(map[time.Weekday]string)}
}

// EnqueueManual appends a track id to the manual commercial queue.
func (s *State) EnqueueManual(trackID string) {
	s.manual = append(s.manual, trackID)
}

// ManualHead returns the head of the manual commercial queue.
func (s *State) ManualHead() (string, bool) {
	if len(s.manual) == 0 {
		return "", false
	}
	return s.manual[0], true
}

// DequeueManual shifts the head off the manual commercial queue.
func (s *State) DequeueManual() (string, bool) {
	if len(s.manual) == 0 {
		return "", false
	}
	head := s.manual[0]
	s.manual = s.manual[1:]
	return head, true
}

// EnqueueRequest appends a listener request, rejecting duplicates of the
// currently playing id or of any id within the dedup window.
func (s *State) EnqueueRequest(trackID, sourceUnit, requesterTag, playingID string) (RequestEntry, error) {
	if playingID != "" && trackID == playingID {
		return RequestEntry{}, ErrDuplicateRequest
	}
	for i, entry := range s.requests {
		if i >= dedupWindow {
			break
		}
		if entry.TrackID == trackID {
			return RequestEntry{}, ErrDuplicateRequest
		}
	}

	entry := RequestEntry{
		ID:           uuid.NewString(),
		TrackID:      trackID,
		SourceUnit:   sourceUnit,
		RequesterTag: requesterTag,
	}
	s.requests = append(s.requests, entry)
	return entry, nil
}

// RemoveRequest deletes a queued request by entry id.
func (s *State) RemoveRequest(entryID string) error {
	for i, entry := range s.requests {
		if entry.ID == entryID {
			s.requests = append(s.requests[:i], s.requests[i+1:]...)
			return nil
		}
	}
	return ErrRequestNotFound
}

// RequestHead returns the head of the request queue.
func (s *State) RequestHead() (RequestEntry, bool) {
	if len(s.requests) == 0 {
		return RequestEntry{}, false
	}
	return s.requests[0], true
}

// DequeueRequest shifts the head off the request queue.
func (s *State) DequeueRequest() (RequestEntry, bool) {
	if len(s.requests) == 0 {
		return RequestEntry{}, false
	}
	head := s.requests[0]
	s.requests = s.requests[1:]
	return head, true
}

// Requests returns a copy of the queued request entries.
func (s *State) Requests() []RequestEntry {
	return append([]RequestEntry(nil), s.requests...)
}

// RestoreRequests replaces the request queue wholesale. Used when reloading a
// persisted snapshot at boot, before the conductor loop starts.
func (s *State) RestoreRequests(entries []RequestEntry) {
	s.requests = append([]RequestEntry(nil), entries...)
}

// SetPlaylist replaces the active playlist cursor wholesale.
func (s *State) SetPlaylist(playlistID string, trackIDs []string, scheduled bool) {
	s.playlistID = playlistID
	s.cursor = append([]string(nil), trackIDs...)
	s.scheduled = scheduled
}

// ClearPlaylist empties the cursor and drops the scheduled marker.
func (s *State) ClearPlaylist() {
	s.playlistID = ""
	s.cursor = nil
	s.scheduled = false
}

// CursorHead returns the head of the active playlist cursor.
func (s *State) CursorHead() (string, bool) {
	if len(s.cursor) == 0 {
		return "", false
	}
	return s.cursor[0], true
}

// DequeueCursor shifts the head off the active playlist cursor.
func (s *State) DequeueCursor() (string, bool) {
	if len(s.cursor) == 0 {
		return "", false
	}
	head := s.cursor[0]
	s.cursor = s.cursor[1:]
	return head, true
}

// CursorIDs returns a copy of the remaining cursor track ids.
func (s *State) CursorIDs() []string {
	return append([]string(nil), s.cursor...)
}

// PlaylistID returns the id backing the active cursor, empty when none.
func (s *State) PlaylistID() string { return s.playlistID }

// Scheduled reports whether the active cursor came from a calendar override.
func (s *State) Scheduled() bool { return s.scheduled }

// ManualIDs returns a copy of the manual commercial queue.
func (s *State) ManualIDs() []string {
	return append([]string(nil), s.manual...)
}

// SetFallback replaces the weekday fallback mapping.
func (s *State) SetFallback(mapping map[time.Weekday]string) {
	s.fallback = make(map[time.Weekday]string, len(mapping))
	for day, id := range mapping {
		s.fallback[day] = id
	}
}

// FallbackFor returns the fallback playlist id configured for weekday.
func (s *State) FallbackFor(weekday time.Weekday) (string, bool) {
	id, ok := s.fallback[weekday]
	return id, ok && id != ""
}

// SetCommercialPool replaces the cached auto-commercial pool.
func (s *State) SetCommercialPool(ids []string) {
	s.commercialPool = append([]string(nil), ids...)
}

// CommercialPool returns the cached auto-commercial pool.
func (s *State) CommercialPool() []string {
	return s.commercialPool
}

// Counter returns the commercial cadence counter.
func (s *State) Counter() int { return s.counter }

// SetCounter restores the counter, used when resuming from a snapshot.
func (s *State) SetCounter(n int) {
	if n < 0 {
		n = 0
	}
	s.counter = n
}

// NoteNonCommercialPlayed bumps the cadence counter.
func (s *State) NoteNonCommercialPlayed() { s.counter++ }

// NoteCommercialPlayed resets the cadence counter.
func (s *State) NoteCommercialPlayed() { s.counter = 0 }
