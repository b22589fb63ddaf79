package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"unibus/internal/domain"
	"unibus/internal/store"
	"unibus/internal/timetable"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRESTServer(t *testing.T, s *store.Store) *httptest.Server {
	t.Helper()
	tt := timetable.NewStatic([]domain.TimetableEntry{
		{RouteName: "Route-1", BusName: "BRTC-10", Time: "08:30", Direction: "campus"},
	})
	h := NewHTTPHandler(s, tt, testLogger())

	r := chi.NewRouter()
	r.Get("/v1/positions", h.ListPositions)
	r.Get("/v1/positions/{busID}", h.GetPosition)
	r.Get("/v1/routes/{routeID}/positions", h.ListRoutePositions)
	r.Get("/v1/timetable", h.GetTimetable)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, dest interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if dest != nil {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestListPositions(t *testing.T) {
	s := store.New(testLogger())
	s.Upsert(context.Background(), domain.Position{
		BusID: "BRTC-10", RouteID: "Route-1", Lat: 22.7, Lng: 90.35,
		SpeedKmh: 25, Status: domain.StatusRunning,
	})
	srv := newRESTServer(t, s)

	var resp PositionsResponse
	if code := getJSON(t, srv.URL+"/v1/positions", &resp); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if resp.Count != 1 || len(resp.Positions) != 1 {
		t.Errorf("got %d positions, want 1", resp.Count)
	}
}

func TestGetPositionNotFoundIsNormal(t *testing.T) {
	srv := newRESTServer(t, store.New(testLogger()))

	var errResp errorResponse
	if code := getJSON(t, srv.URL+"/v1/positions/ghost-bus", &errResp); code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", code)
	}
	if errResp.Error == "" {
		t.Error("missing error body on 404")
	}
}

func TestGetPosition(t *testing.T) {
	s := store.New(testLogger())
	s.Upsert(context.Background(), domain.Position{
		BusID: "BRTC-10", RouteID: "Route-1", Lat: 22.7, Lng: 90.35,
		SpeedKmh: 25, Status: domain.StatusRunning,
	})
	srv := newRESTServer(t, s)

	var p domain.Position
	if code := getJSON(t, srv.URL+"/v1/positions/BRTC-10", &p); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if p.BusID != "BRTC-10" || p.Status != domain.StatusRunning {
		t.Errorf("unexpected position %+v", p)
	}
}

func TestListRoutePositionsEmptyRoute(t *testing.T) {
	srv := newRESTServer(t, store.New(testLogger()))

	var resp PositionsResponse
	if code := getJSON(t, srv.URL+"/v1/routes/Route-9/positions", &resp); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if resp.Positions == nil || len(resp.Positions) != 0 {
		t.Errorf("want empty (not null) positions array, got %+v", resp.Positions)
	}
}

func TestGetTimetable(t *testing.T) {
	srv := newRESTServer(t, store.New(testLogger()))

	var resp TimetableResponse
	if code := getJSON(t, srv.URL+"/v1/timetable", &resp); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if resp.Count != 1 || resp.Entries[0].BusName != "BRTC-10" {
		t.Errorf("unexpected timetable %+v", resp)
	}
}
