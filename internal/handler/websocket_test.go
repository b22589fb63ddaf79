package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"unibus/internal/domain"
	"unibus/internal/hub"
	"unibus/internal/store"
)

func newChannelServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	logger := testLogger()
	s := store.New(logger)
	h := hub.NewHub(s, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	wsh := NewWSHandler(h, s, 256, logger)
	srv := httptest.NewServer(http.HandlerFunc(wsh.ServeWS))
	t.Cleanup(srv.Close)
	return srv, s
}

func dialChannel(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(WSMessage{Type: msgType, Payload: raw})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return msg
}

func TestPublishReachesSubscriberAndStore(t *testing.T) {
	srv, s := newChannelServer(t)

	riderConn := dialChannel(t, srv)
	send(t, riderConn, "subscribe", SubscribePayload{RouteIDs: []string{"Route-1"}})

	// Snapshot comes first and is empty before any publish.
	snap := readFrame(t, riderConn)
	if snap.Type != "snapshot" {
		t.Fatalf("first frame type = %q, want snapshot", snap.Type)
	}

	driverConn := dialChannel(t, srv)
	send(t, driverConn, "publish", PublishPayload{
		BusID: "BRTC-10", RouteID: "Route-1",
		Lat: 22.70, Lng: 90.35, SpeedKmh: 25, Status: domain.StatusRunning,
	})

	frame := readFrame(t, riderConn)
	if frame.Type != "position" {
		t.Fatalf("frame type = %q, want position", frame.Type)
	}
	var p domain.Position
	if err := json.Unmarshal(frame.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.BusID != "BRTC-10" || p.ObservedAt.IsZero() {
		t.Errorf("delivered position %+v, want BRTC-10 with stamped ObservedAt", p)
	}

	waitForBus(t, s, "BRTC-10")
}

func TestSubscribeSnapshotCarriesCurrentState(t *testing.T) {
	srv, s := newChannelServer(t)

	driverConn := dialChannel(t, srv)
	send(t, driverConn, "publish", PublishPayload{
		BusID: "BRTC-10", RouteID: "Route-1",
		Lat: 22.70, Lng: 90.35, SpeedKmh: 25, Status: domain.StatusRunning,
	})
	// The publish is handled by the driver connection's read loop; wait for
	// it to land in the store before joining.
	waitForBus(t, s, "BRTC-10")

	lateConn := dialChannel(t, srv)
	send(t, lateConn, "subscribe", SubscribePayload{RouteIDs: []string{"Route-1"}})

	snap := readFrame(t, lateConn)
	if snap.Type != "snapshot" {
		t.Fatalf("frame type = %q, want snapshot", snap.Type)
	}
	var payload SnapshotPayload
	if err := json.Unmarshal(snap.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if len(payload.Positions) != 1 || payload.Positions[0].BusID != "BRTC-10" {
		t.Errorf("snapshot = %+v, want the published position", payload.Positions)
	}
}

func TestMalformedPublishIsDropped(t *testing.T) {
	srv, s := newChannelServer(t)

	driverConn := dialChannel(t, srv)
	send(t, driverConn, "publish", PublishPayload{
		BusID: "", RouteID: "Route-1", Status: domain.StatusRunning,
	})
	send(t, driverConn, "publish", PublishPayload{
		BusID: "BRTC-10", RouteID: "Route-1", Status: domain.Status("flying"),
	})
	// A valid publish afterwards proves the connection survived.
	send(t, driverConn, "publish", PublishPayload{
		BusID: "BRTC-11", RouteID: "Route-1",
		Lat: 22.70, Lng: 90.35, SpeedKmh: 25, Status: domain.StatusRunning,
	})

	waitForBus(t, s, "BRTC-11")
	if s.Count() != 1 {
		t.Errorf("store has %d positions, want only the valid publish", s.Count())
	}
}

func TestPingPong(t *testing.T) {
	srv, _ := newChannelServer(t)

	conn := dialChannel(t, srv)
	send(t, conn, "ping", struct{}{})

	frame := readFrame(t, conn)
	if frame.Type != "pong" {
		t.Errorf("frame type = %q, want pong", frame.Type)
	}
}

func waitForBus(t *testing.T, s *store.Store, busID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := s.Get(busID); ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("bus %s never reached the store", busID)
}
