package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"unibus/internal/domain"
)

// WSEmitter delivers position updates over the location channel websocket.
// The connection is dialed lazily and re-dialed after a failed write; a
// failed attempt surfaces as an error for the publisher to swallow.
type WSEmitter struct {
	url string

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWSEmitter(url string) *WSEmitter {
	return &WSEmitter{url: url}
}

type publishFrame struct {
	Type    string         `json:"type"`
	Payload publishPayload `json:"payload"`
}

type publishPayload struct {
	BusID    string        `json:"busId"`
	RouteID  string        `json:"routeId"`
	Lat      float64       `json:"lat"`
	Lng      float64       `json:"lng"`
	SpeedKmh float64       `json:"speedKmh"`
	Status   domain.Status `json:"status"`
}

func (e *WSEmitter) Emit(ctx context.Context, p domain.Position) error {
	data, err := json.Marshal(publishFrame{
		Type: "publish",
		Payload: publishPayload{
			BusID:    p.BusID,
			RouteID:  p.RouteID,
			Lat:      p.Lat,
			Lng:      p.Lng,
			SpeedKmh: p.SpeedKmh,
			Status:   p.Status,
		},
	})
	if err != nil {
		return fmt.Errorf("marshal publish frame: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	conn, err := e.connLocked(ctx)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		conn.Close(websocket.StatusGoingAway, "write failed")
		e.conn = nil
		return fmt.Errorf("write publish frame: %w", err)
	}
	return nil
}

func (e *WSEmitter) connLocked(ctx context.Context) (*websocket.Conn, error) {
	if e.conn != nil {
		return e.conn, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, e.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial channel: %w", err)
	}
	e.conn = conn
	return conn, nil
}

func (e *WSEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		e.conn.Close(websocket.StatusNormalClosure, "")
		e.conn = nil
	}
}
