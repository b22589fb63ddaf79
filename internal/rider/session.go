// Package rider is the client side of the location channel: it subscribes
// to routes, feeds inbound positions into the proximity engine and
// re-establishes its subscriptions after a reconnect. Alert state lives in
// the engines, not here, so a brief disconnect never duplicates alerts.
package rider

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"unibus/internal/alert"
	"unibus/internal/domain"
)

const (
	dialTimeout    = 10 * time.Second
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Session is one rider's connection to the channel.
type Session struct {
	url    string
	routes []string
	engine *alert.ProximityEngine
	logger *slog.Logger
}

func NewSession(url string, routes []string, engine *alert.ProximityEngine, logger *slog.Logger) *Session {
	return &Session{
		url:    url,
		routes: routes,
		engine: engine,
		logger: logger.With("component", "rider_session"),
	}
}

// Run keeps the session alive until ctx ends: connect, subscribe, consume,
// and on any failure back off and start over. The server forgets dead
// connections, so every reconnect resubscribes from scratch.
func (s *Session) Run(ctx context.Context) {
	backoff := initialBackoff
	for {
		subscribed, err := s.connectAndConsume(ctx)
		if subscribed {
			// The connection was healthy; a later drop retries promptly
			// instead of inheriting an accumulated backoff.
			backoff = initialBackoff
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("channel connection lost", "error", err, "retry_in", backoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

type wsFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type snapshotPayload struct {
	Positions []domain.Position `json:"positions"`
}

// connectAndConsume runs one connection attempt to completion. It reports
// whether the subscription was established, so the caller can tell a healthy
// connection that later dropped from one that never came up.
func (s *Session) connectAndConsume(ctx context.Context) (subscribed bool, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, s.url, nil)
	cancel()
	if err != nil {
		return false, err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := s.subscribe(ctx, conn); err != nil {
		return false, err
	}
	s.logger.Info("subscribed", "routes", s.routes)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return true, err
		}
		s.handleFrame(data)
	}
}

func (s *Session) subscribe(ctx context.Context, conn *websocket.Conn) error {
	payload, err := json.Marshal(map[string][]string{"routeIds": s.routes})
	if err != nil {
		return err
	}
	frame, err := json.Marshal(wsFrame{Type: "subscribe", Payload: payload})
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, frame)
}

// handleFrame decodes one inbound frame. Unknown or malformed frames are
// skipped; the alerting session keeps going.
func (s *Session) handleFrame(data []byte) {
	var frame wsFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.logger.Debug("dropping malformed frame", "error", err)
		return
	}

	switch frame.Type {
	case "position":
		var p domain.Position
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			s.logger.Debug("dropping malformed position", "error", err)
			return
		}
		s.engine.Observe(p)

	case "snapshot":
		var payload snapshotPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			s.logger.Debug("dropping malformed snapshot", "error", err)
			return
		}
		for _, p := range payload.Positions {
			s.engine.Observe(p)
		}
	}
}
