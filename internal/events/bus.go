/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package events implements the in-process pub/sub bus between the conductor
// and its outward surfaces. Delivery is fire-and-forget and at-most-once:
// correctness never depends on a single event arriving, recovery is always a
// full snapshot on reconnect.
package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	// Playback lifecycle, server -> clients.
	EventSnapshot       EventType = "snapshot"
	EventHardCut        EventType = "hard_cut"
	EventBeginCrossfade EventType = "begin_crossfade"
	EventNowPlaying     EventType = "now_playing"
	EventStop           EventType = "stop"
	EventProgress       EventType = "progress"

	// Queue and schedule changes.
	EventPlaylistChanged EventType = "playlist_changed"
	EventPlaylistCleared EventType = "playlist_cleared"
	EventQueueChanged    EventType = "queue_changed"
	EventOverlayChanged  EventType = "overlay_changed"

	// Transport-level client activity.
	EventClientConnect    EventType = "client_connect"
	EventClientDisconnect EventType = "client_disconnect"
)

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. A slow subscriber misses the event
// rather than blocking the publisher.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
	close(sub)
}
