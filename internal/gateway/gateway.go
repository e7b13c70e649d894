/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package gateway is the websocket edge between the conductor and playback
// clients. Every connection starts with a full snapshot, then receives the
// fire-and-forget event stream; a client that misses events reconnects and
// gets a fresh snapshot instead of a replay.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/venuecast/conductor/internal/catalog"
	"github.com/venuecast/conductor/internal/conductor"
	"github.com/venuecast/conductor/internal/events"
	"github.com/venuecast/conductor/internal/queue"
	"github.com/venuecast/conductor/internal/resolve"
)

// fanoutEvents is the set of bus events forwarded to connected clients.
var fanoutEvents = []events.EventType{
	events.EventHardCut,
	events.EventBeginCrossfade,
	events.EventNowPlaying,
	events.EventStop,
	events.EventProgress,
	events.EventPlaylistChanged,
	events.EventPlaylistCleared,
	events.EventQueueChanged,
	events.EventOverlayChanged,
}

// Gateway serves the client websocket endpoint.
type Gateway struct {
	conductor    *conductor.Conductor
	catalog      catalog.Catalog
	bus          *events.Bus
	unit         string
	compensation time.Duration
	logger       zerolog.Logger
}

// New creates a gateway. compensation is advertised to clients in every
// snapshot so they seek ahead of the reported position by the venue's
// network latency allowance.
func New(cond *conductor.Conductor, cat catalog.Catalog, bus *events.Bus, unit string, compensation time.Duration, logger zerolog.Logger) *Gateway {
	return &Gateway{
		conductor:    cond,
		catalog:      cat,
		bus:          bus,
		unit:         unit,
		compensation: compensation,
		logger:       logger.With().Str("component", "gateway").Logger(),
	}
}

type wsMessage struct {
	Type      string          `json:"type"`
	Unit      string          `json:"unit"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type wsCommand struct {
	Action       string `json:"action"`
	TrackID      string `json:"track_id,omitempty"`
	PlaylistID   string `json:"playlist_id,omitempty"`
	EntryID      string `json:"entry_id,omitempty"`
	URL          string `json:"url,omitempty"`
	RequesterTag string `json:"requester_tag,omitempty"`
}

type busEnvelope struct {
	eventType events.EventType
	payload   events.Payload
}

// nextUpItem is a preview entry enriched with catalog metadata.
type nextUpItem struct {
	TrackID  string   `json:"track_id"`
	Origin   string   `json:"origin"`
	Title    string   `json:"title,omitempty"`
	Artists  []string `json:"artists,omitempty"`
	Duration float64  `json:"duration,omitempty"`
}

// snapshotPayload is the wire form of a conductor snapshot.
type snapshotPayload struct {
	conductor.Snapshot
	NextUp              []nextUpItem `json:"next_up"`
	CompensationSeconds float64      `json:"network_compensation_seconds"`
}

// HandleWebSocket upgrades the connection and runs the session loop until the
// client goes away or the server shuts down.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sourceUnit := r.URL.Query().Get("unit")
	if sourceUnit == "" {
		sourceUnit = g.unit
	}

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		g.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	ctx := r.Context()

	snap := g.conductor.ClientConnected()
	defer g.conductor.ClientDisconnected()

	g.logger.Debug().Str("source_unit", sourceUnit).Msg("client connected")

	if err := g.sendSnapshot(ctx, conn, snap); err != nil {
		g.logger.Error().Err(err).Msg("initial snapshot send failed")
		return
	}

	updateCh, unsubscribe := g.subscribeAll(ctx)
	defer unsubscribe()

	done := make(chan struct{})
	commandCh := make(chan wsCommand, 16)

	go func() {
		defer close(done)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if ws.CloseStatus(err) == ws.StatusNormalClosure {
					return
				}
				g.logger.Debug().Err(err).Msg("websocket read error")
				return
			}

			var cmd wsCommand
			if err := json.Unmarshal(data, &cmd); err != nil {
				g.logger.Warn().Err(err).Msg("invalid websocket message")
				continue
			}

			select {
			case commandCh <- cmd:
			default:
				g.logger.Warn().Msg("command channel full, dropping message")
			}
		}
	}()

	pingTicker := time.NewTicker(15 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "server shutdown")
			return

		case <-done:
			conn.Close(ws.StatusNormalClosure, "client disconnected")
			return

		case <-pingTicker.C:
			if err := g.send(ctx, conn, "ping", nil); err != nil {
				conn.Close(ws.StatusInternalError, "ping failed")
				return
			}

		case envelope := <-updateCh:
			if err := g.sendEvent(ctx, conn, envelope); err != nil {
				g.logger.Debug().Err(err).Msg("event send failed")
				conn.Close(ws.StatusInternalError, "send failed")
				return
			}

		case cmd := <-commandCh:
			if err := g.handleCommand(ctx, conn, sourceUnit, cmd); err != nil {
				g.logger.Warn().Err(err).Str("action", cmd.Action).Msg("command failed")
				g.sendError(ctx, conn, cmd.Action, err)
			}
		}
	}
}

// subscribeAll merges all fan-out event types into one channel. Forwarding is
// non-blocking end to end, matching the bus delivery contract.
func (g *Gateway) subscribeAll(ctx context.Context) (<-chan busEnvelope, func()) {
	merged := make(chan busEnvelope, 32)
	subs := make(map[events.EventType]events.Subscriber, len(fanoutEvents))
	stop := make(chan struct{})

	for _, eventType := range fanoutEvents {
		sub := g.bus.Subscribe(eventType)
		subs[eventType] = sub
		go func(eventType events.EventType, sub events.Subscriber) {
			for {
				select {
				case <-stop:
					return
				case <-ctx.Done():
					return
				case payload, ok := <-sub:
					if !ok {
						return
					}
					select {
					case merged <- busEnvelope{eventType: eventType, payload: payload}:
					default:
					}
				}
			}
		}(eventType, sub)
	}

	unsubscribe := func() {
		close(stop)
		for eventType, sub := range subs {
			g.bus.Unsubscribe(eventType, sub)
		}
	}
	return merged, unsubscribe
}

func (g *Gateway) handleCommand(ctx context.Context, conn *ws.Conn, sourceUnit string, cmd wsCommand) error {
	switch cmd.Action {
	case "skip_now":
		g.conductor.SkipNow()
		return nil
	case "force_commercial_now":
		return g.conductor.ForceCommercial(cmd.TrackID)
	case "load_playlist":
		return g.conductor.LoadPlaylist(cmd.PlaylistID)
	case "enqueue_request":
		entry, err := g.conductor.EnqueueRequest(cmd.TrackID, sourceUnit, cmd.RequesterTag)
		if err != nil {
			return err
		}
		return g.sendAck(ctx, conn, cmd.Action, map[string]string{"entry_id": entry.ID})
	case "remove_request":
		return g.conductor.RemoveRequest(cmd.EntryID)
	case "report_unplayable":
		g.conductor.ReportUnplayable(cmd.TrackID)
		return nil
	case "set_overlay":
		g.conductor.SetOverlay(cmd.URL)
		return nil
	case "pause":
		g.conductor.Pause()
		return nil
	case "resume":
		g.conductor.Resume()
		return nil
	case "snapshot":
		return g.sendSnapshot(ctx, conn, g.conductor.Snapshot())
	default:
		return errors.New("unknown action: " + cmd.Action)
	}
}

func (g *Gateway) sendSnapshot(ctx context.Context, conn *ws.Conn, snap conductor.Snapshot) error {
	payload := snapshotPayload{
		Snapshot:            snap,
		NextUp:              g.enrichNextUp(ctx, snap.NextUp),
		CompensationSeconds: g.compensation.Seconds(),
	}
	return g.send(ctx, conn, string(events.EventSnapshot), payload)
}

// enrichNextUp attaches titles and durations to the preview ids. A failed
// lookup degrades to the bare id rather than dropping the entry.
func (g *Gateway) enrichNextUp(ctx context.Context, items []resolve.PreviewItem) []nextUpItem {
	enriched := make([]nextUpItem, 0, len(items))
	for _, item := range items {
		out := nextUpItem{TrackID: item.TrackID, Origin: string(item.Origin)}
		if track, err := g.catalog.GetTrack(ctx, item.TrackID); err == nil {
			out.Title = track.Title
			out.Artists = track.Artists
			out.Duration = track.Duration
		}
		enriched = append(enriched, out)
	}
	return enriched
}

func (g *Gateway) sendEvent(ctx context.Context, conn *ws.Conn, envelope busEnvelope) error {
	return g.send(ctx, conn, string(envelope.eventType), envelope.payload)
}

func (g *Gateway) sendAck(ctx context.Context, conn *ws.Conn, action string, data any) error {
	return g.send(ctx, conn, "ack", map[string]any{
		"action": action,
		"data":   data,
	})
}

func (g *Gateway) sendError(ctx context.Context, conn *ws.Conn, action string, cmdErr error) {
	payload := map[string]string{
		"action":  action,
		"message": cmdErr.Error(),
	}
	if errors.Is(cmdErr, queue.ErrDuplicateRequest) {
		payload["code"] = "duplicate_request"
	}
	if sendErr := g.send(ctx, conn, "error", payload); sendErr != nil {
		g.logger.Debug().Err(sendErr).Msg("error send failed")
	}
}

func (g *Gateway) send(ctx context.Context, conn *ws.Conn, messageType string, data any) error {
	msg := wsMessage{
		Type:      messageType,
		Unit:      g.unit,
		Timestamp: time.Now().UTC(),
	}
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return err
		}
		msg.Data = encoded
	}

	bytes, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, bytes)
}
