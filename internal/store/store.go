package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"unibus/internal/domain"
)

// Persister receives every accepted position for durable write-through.
// Failures are logged and swallowed; persistence never fails an upsert.
type Persister interface {
	SavePosition(ctx context.Context, p domain.Position) error
}

// Store keeps the authoritative last-known Position per bus. Each bus owns
// its own slot with its own lock, so concurrent upserts for different buses
// never serialize against each other; the outer map lock is read-mostly.
type Store struct {
	mu      sync.RWMutex
	slots   map[string]*slot
	byRoute map[string]map[string]struct{}

	persister Persister
	logger    *slog.Logger
	now       func() time.Time
}

type slot struct {
	mu  sync.Mutex
	pos domain.Position
}

type Option func(*Store)

// WithPersister enables write-through persistence of accepted positions.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithClock overrides the receipt-time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		slots:   make(map[string]*slot),
		byRoute: make(map[string]map[string]struct{}),
		logger:  logger.With("component", "position_store"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert replaces the stored Position for p.BusID whole. Last write wins;
// there is no ordering or version check. A zero ObservedAt is stamped with
// the receipt time. The accepted record is returned.
func (s *Store) Upsert(ctx context.Context, p domain.Position) domain.Position {
	if p.ObservedAt.IsZero() {
		p.ObservedAt = s.now()
	}

	sl, created := s.slotFor(p.BusID, p.RouteID)

	sl.mu.Lock()
	prevRoute := sl.pos.RouteID
	sl.pos = p
	sl.mu.Unlock()

	if !created && prevRoute != p.RouteID {
		s.reindexRoute(p.BusID, prevRoute, p.RouteID)
	}

	if s.persister != nil {
		if err := s.persister.SavePosition(ctx, p); err != nil {
			s.logger.Error("position write-through failed", "bus_id", p.BusID, "error", err)
		}
	}

	return p
}

// slotFor returns the slot for busID, creating it (and the route index
// entry) on first sight.
func (s *Store) slotFor(busID, routeID string) (sl *slot, created bool) {
	s.mu.RLock()
	sl, ok := s.slots[busID]
	s.mu.RUnlock()
	if ok {
		return sl, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok = s.slots[busID]; ok {
		return sl, false
	}
	sl = &slot{}
	s.slots[busID] = sl
	s.addRouteIndex(busID, routeID)
	return sl, true
}

func (s *Store) reindexRoute(busID, oldRoute, newRoute string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set := s.byRoute[oldRoute]; set != nil {
		delete(set, busID)
		if len(set) == 0 {
			delete(s.byRoute, oldRoute)
		}
	}
	s.addRouteIndex(busID, newRoute)
}

func (s *Store) addRouteIndex(busID, routeID string) {
	if s.byRoute[routeID] == nil {
		s.byRoute[routeID] = make(map[string]struct{})
	}
	s.byRoute[routeID][busID] = struct{}{}
}

// Get returns the last-known Position for a bus. Absence is a normal
// outcome, not an error.
func (s *Store) Get(busID string) (domain.Position, bool) {
	s.mu.RLock()
	sl, ok := s.slots[busID]
	s.mu.RUnlock()
	if !ok {
		return domain.Position{}, false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.pos, true
}

// List returns a copy of every current Position.
func (s *Store) List() []domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Position, 0, len(s.slots))
	for _, sl := range s.slots {
		sl.mu.Lock()
		result = append(result, sl.pos)
		sl.mu.Unlock()
	}
	return result
}

// ListByRoute returns the current Positions of all buses last seen on routeID.
func (s *Store) ListByRoute(routeID string) []domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys, ok := s.byRoute[routeID]
	if !ok {
		return nil
	}
	result := make([]domain.Position, 0, len(keys))
	for busID := range keys {
		sl := s.slots[busID]
		sl.mu.Lock()
		result = append(result, sl.pos)
		sl.mu.Unlock()
	}
	return result
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slots)
}

// Restore seeds the store from persisted records on startup. It bypasses the
// persister so a warm start does not echo writes back.
func (s *Store) Restore(positions []domain.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range positions {
		if _, exists := s.slots[p.BusID]; exists {
			continue
		}
		s.slots[p.BusID] = &slot{pos: p}
		s.addRouteIndex(p.BusID, p.RouteID)
	}
}
