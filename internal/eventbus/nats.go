/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/venuecast/conductor/internal/events"
)

// relayedEvents is the subset of bus traffic mirrored to NATS. Progress ticks
// stay local; four a second per unit is noise on a shared broker.
var relayedEvents = []events.EventType{
	events.EventHardCut,
	events.EventBeginCrossfade,
	events.EventNowPlaying,
	events.EventStop,
	events.EventPlaylistChanged,
	events.EventPlaylistCleared,
	events.EventQueueChanged,
	events.EventOverlayChanged,
	events.EventClientConnect,
	events.EventClientDisconnect,
}

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string

	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// natsMessage is the wire form of a relayed event.
type natsMessage struct {
	EventType events.EventType `json:"event_type"`
	Unit      string           `json:"unit"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

// NATSRelay mirrors the in-process bus onto NATS subjects of the form
// conductor.events.<unit>.<type>, so venue dashboards and sibling units can
// observe playback without holding a websocket to this conductor. Delivery is
// best effort, matching the local bus contract.
type NATSRelay struct {
	conn   *nats.Conn
	bus    *events.Bus
	unit   string
	nodeID string
	logger zerolog.Logger

	subs map[events.EventType]events.Subscriber
	stop chan struct{}
	done chan struct{}
}

// NewNATSRelay connects to the broker and starts mirroring bus events.
func NewNATSRelay(cfg NATSConfig, bus *events.Bus, unit string, logger zerolog.Logger) (*NATSRelay, error) {
	logger = logger.With().Str("component", "nats_relay").Logger()

	opts := []nats.Option{
		nats.Name(fmt.Sprintf("conductor-%s", unit)),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	relay := &NATSRelay{
		conn:   conn,
		bus:    bus,
		unit:   unit,
		nodeID: generateNodeID(),
		logger: logger,
		subs:   make(map[events.EventType]events.Subscriber, len(relayedEvents)),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	for _, eventType := range relayedEvents {
		relay.subs[eventType] = bus.Subscribe(eventType)
	}
	go relay.run()

	logger.Info().Str("url", cfg.URL).Str("unit", unit).Msg("nats relay started")
	return relay, nil
}

func (r *NATSRelay) run() {
	defer close(r.done)

	// One forwarding goroutine per event type; the local bus already drops
	// on slow consumers so these never block the conductor.
	for eventType, sub := range r.subs {
		go func(eventType events.EventType, sub events.Subscriber) {
			for {
				select {
				case <-r.stop:
					return
				case payload, ok := <-sub:
					if !ok {
						return
					}
					r.publish(eventType, payload)
				}
			}
		}(eventType, sub)
	}
	<-r.stop
}

func (r *NATSRelay) publish(eventType events.EventType, payload events.Payload) {
	msg := natsMessage{
		EventType: eventType,
		Unit:      r.unit,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    r.nodeID,
		MessageID: uuid.NewString(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Warn().Err(err).Str("event", string(eventType)).Msg("event marshal failed")
		return
	}

	subject := fmt.Sprintf("conductor.events.%s.%s", r.unit, eventType)
	if err := r.conn.Publish(subject, data); err != nil {
		r.logger.Debug().Err(err).Str("subject", subject).Msg("nats publish failed")
	}
}

// Close stops forwarding and drains the connection.
func (r *NATSRelay) Close() error {
	close(r.stop)
	<-r.done
	for eventType, sub := range r.subs {
		r.bus.Unsubscribe(eventType, sub)
	}
	if err := r.conn.Drain(); err != nil {
		r.conn.Close()
		return err
	}
	return nil
}

func generateNodeID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
