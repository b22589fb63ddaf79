package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"unibus/internal/domain"
	"unibus/internal/hub"
	"unibus/internal/store"
)

// WSHandler serves the location channel. Driver connections send publish
// frames; rider connections send subscribe/unsubscribe frames. Ownership
// checks on publish belong to the auth layer in front of this handler.
type WSHandler struct {
	hub        *hub.Hub
	store      *store.Store
	bufferSize int
	logger     *slog.Logger
}

func NewWSHandler(h *hub.Hub, s *store.Store, bufferSize int, logger *slog.Logger) *WSHandler {
	return &WSHandler{hub: h, store: s, bufferSize: bufferSize, logger: logger}
}

type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type SubscribePayload struct {
	RouteIDs []string `json:"routeIds"`
}

type PublishPayload struct {
	BusID    string        `json:"busId"`
	RouteID  string        `json:"routeId"`
	Lat      float64       `json:"lat"`
	Lng      float64       `json:"lng"`
	SpeedKmh float64       `json:"speedKmh"`
	Status   domain.Status `json:"status"`
}

type SnapshotMessage struct {
	Type    string          `json:"type"`
	Payload SnapshotPayload `json:"payload"`
}

type SnapshotPayload struct {
	Positions []domain.Position `json:"positions"`
}

type PongMessage struct {
	Type string `json:"type"`
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}

	clientID := uuid.New().String()
	client := hub.NewClient(clientID, h.bufferSize)

	h.hub.Register(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writeLoop(ctx, conn, client)

	h.readLoop(ctx, conn, client)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	defer func() {
		h.hub.Unregister(client)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				h.logger.Debug("websocket read error", "client_id", client.ID, "error", err)
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("invalid message format", "client_id", client.ID, "error", err)
			continue
		}

		switch msg.Type {
		case "publish":
			var payload PublishPayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				continue
			}
			if payload.BusID == "" || payload.RouteID == "" || !payload.Status.Valid() {
				h.logger.Debug("dropping malformed publish", "client_id", client.ID)
				continue
			}
			h.hub.Publish(ctx, domain.Position{
				BusID:    payload.BusID,
				RouteID:  payload.RouteID,
				Lat:      payload.Lat,
				Lng:      payload.Lng,
				SpeedKmh: payload.SpeedKmh,
				Status:   payload.Status,
			})

		case "subscribe":
			var payload SubscribePayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				continue
			}
			if len(payload.RouteIDs) > 0 {
				h.hub.Subscribe(client, payload.RouteIDs)
				h.sendSnapshot(client, payload.RouteIDs)
			}

		case "unsubscribe":
			var payload SubscribePayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				continue
			}
			if len(payload.RouteIDs) > 0 {
				h.hub.Unsubscribe(client, payload.RouteIDs)
			}

		case "ping":
			h.sendPong(client)
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-client.Send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// sendSnapshot pushes the current positions for the just-joined routes, so
// a subscriber sees state before the next live publish. The channel itself
// never replays old frames.
func (h *WSHandler) sendSnapshot(client *hub.Client, routeIDs []string) {
	var positions []domain.Position
	for _, routeID := range routeIDs {
		positions = append(positions, h.store.ListByRoute(routeID)...)
	}

	msg := SnapshotMessage{
		Type:    "snapshot",
		Payload: SnapshotPayload{Positions: positions},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	if !client.TrySend(data) {
		h.logger.Debug("failed to send snapshot, buffer full", "client_id", client.ID)
	}
}

func (h *WSHandler) sendPong(client *hub.Client) {
	msg := PongMessage{Type: "pong"}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	client.TrySend(data)
}
