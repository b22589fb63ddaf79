package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"unibus/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func samplePosition() domain.Position {
	return domain.Position{
		BusID:      "BRTC-10",
		RouteID:    "Route-1",
		Lat:        22.70,
		Lng:        90.35,
		SpeedKmh:   25,
		Status:     domain.StatusRunning,
		ObservedAt: time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC),
	}
}

func TestUpsertIdempotent(t *testing.T) {
	s := New(testLogger())
	p := samplePosition()

	s.Upsert(context.Background(), p)
	s.Upsert(context.Background(), p)

	if got := s.Count(); got != 1 {
		t.Fatalf("Count() = %d after duplicate upserts, want 1", got)
	}
	stored, ok := s.Get("BRTC-10")
	if !ok {
		t.Fatal("Get returned not found after upsert")
	}
	if stored != p {
		t.Errorf("stored = %+v, want %+v", stored, p)
	}
}

func TestUpsertReplacesWhole(t *testing.T) {
	s := New(testLogger())
	p := samplePosition()
	s.Upsert(context.Background(), p)

	p2 := p
	p2.Lat = 22.71
	p2.SpeedKmh = 0
	p2.Status = domain.StatusPaused
	s.Upsert(context.Background(), p2)

	stored, _ := s.Get("BRTC-10")
	if stored != p2 {
		t.Errorf("stored = %+v, want replacement %+v", stored, p2)
	}
}

func TestUpsertStampsObservedAt(t *testing.T) {
	stamp := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := New(testLogger(), WithClock(func() time.Time { return stamp }))

	p := samplePosition()
	p.ObservedAt = time.Time{}
	got := s.Upsert(context.Background(), p)

	if !got.ObservedAt.Equal(stamp) {
		t.Errorf("ObservedAt = %v, want receipt time %v", got.ObservedAt, stamp)
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	s := New(testLogger())
	if _, ok := s.Get("no-such-bus"); ok {
		t.Error("Get on empty store returned ok")
	}
}

func TestListByRoute(t *testing.T) {
	s := New(testLogger())
	a := samplePosition()
	b := samplePosition()
	b.BusID = "BRTC-11"
	b.RouteID = "Route-2"
	s.Upsert(context.Background(), a)
	s.Upsert(context.Background(), b)

	r1 := s.ListByRoute("Route-1")
	if len(r1) != 1 || r1[0].BusID != "BRTC-10" {
		t.Errorf("ListByRoute(Route-1) = %+v, want only BRTC-10", r1)
	}
	if got := s.ListByRoute("Route-9"); got != nil {
		t.Errorf("ListByRoute(unknown) = %+v, want nil", got)
	}
}

func TestRouteReindexOnRouteChange(t *testing.T) {
	s := New(testLogger())
	p := samplePosition()
	s.Upsert(context.Background(), p)

	p.RouteID = "Route-2"
	s.Upsert(context.Background(), p)

	if got := s.ListByRoute("Route-1"); len(got) != 0 {
		t.Errorf("bus still indexed on old route: %+v", got)
	}
	if got := s.ListByRoute("Route-2"); len(got) != 1 {
		t.Errorf("bus missing from new route index: %+v", got)
	}
}

type failingPersister struct {
	calls int
}

func (f *failingPersister) SavePosition(ctx context.Context, p domain.Position) error {
	f.calls++
	return errors.New("redis down")
}

func TestPersisterFailureDoesNotFailUpsert(t *testing.T) {
	fp := &failingPersister{}
	s := New(testLogger(), WithPersister(fp))

	s.Upsert(context.Background(), samplePosition())

	if fp.calls != 1 {
		t.Errorf("persister called %d times, want 1", fp.calls)
	}
	if _, ok := s.Get("BRTC-10"); !ok {
		t.Error("upsert lost despite persister failure")
	}
}

func TestRestoreSkipsLiveSlots(t *testing.T) {
	s := New(testLogger())
	live := samplePosition()
	s.Upsert(context.Background(), live)

	stale := live
	stale.Lat = 0
	s.Restore([]domain.Position{stale, {BusID: "BRTC-12", RouteID: "Route-3"}})

	got, _ := s.Get("BRTC-10")
	if got.Lat != live.Lat {
		t.Error("Restore overwrote a live position")
	}
	if _, ok := s.Get("BRTC-12"); !ok {
		t.Error("Restore did not seed new bus")
	}
}

func TestConcurrentUpsertsDistinctBuses(t *testing.T) {
	s := New(testLogger())
	var wg sync.WaitGroup
	buses := []string{"A", "B", "C", "D"}
	for _, id := range buses {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				p := samplePosition()
				p.BusID = id
				p.Lat += float64(i) * 0.0001
				s.Upsert(context.Background(), p)
			}
		}(id)
	}
	wg.Wait()
	if got := s.Count(); got != len(buses) {
		t.Errorf("Count() = %d, want %d", got, len(buses))
	}
}
