package alert

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"unibus/internal/domain"
)

const (
	// DepartureWarnWindow is how close to a scheduled departure the
	// one-time "departing soon" alert fires.
	DepartureWarnWindow = 5 * time.Minute

	checkInterval   = 60 * time.Second
	refreshInterval = 10 * time.Minute
)

// TimetableSource supplies the schedule entries the engine checks against.
// Implementations live in internal/timetable.
type TimetableSource interface {
	Load(ctx context.Context) ([]domain.TimetableEntry, error)
}

// ScheduleEngine fires a one-time alert per scheduled departure when the
// time remaining falls inside the warning window. It runs on wall-clock
// time, independent of the position stream, and trusts the local clock.
type ScheduleEngine struct {
	mu      sync.Mutex
	entries []domain.TimetableEntry
	fired   map[string]bool

	source  TimetableSource
	sink    Sink
	logger  *slog.Logger
	now     func() time.Time
	onReset []func()
}

type ScheduleOption func(*ScheduleEngine)

// WithNow injects the clock, so tests can drive the warning window and the
// midnight rollover deterministically.
func WithNow(now func() time.Time) ScheduleOption {
	return func(e *ScheduleEngine) { e.now = now }
}

func NewScheduleEngine(source TimetableSource, sink Sink, logger *slog.Logger, opts ...ScheduleOption) *ScheduleEngine {
	e := &ScheduleEngine{
		fired:  make(map[string]bool),
		source: source,
		sink:   sink,
		logger: logger.With("component", "schedule_engine"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnDailyReset registers a hook invoked at the midnight rollover, letting
// the proximity engine share the same daily clearing point.
func (e *ScheduleEngine) OnDailyReset(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onReset = append(e.onReset, fn)
}

// Refresh reloads the timetable. A failed load keeps the previous entries;
// the engine degrades, it never crashes.
func (e *ScheduleEngine) Refresh(ctx context.Context) error {
	entries, err := e.source.Load(ctx)
	if err != nil {
		e.logger.Error("timetable refresh failed", "error", err)
		return fmt.Errorf("load timetable: %w", err)
	}
	e.mu.Lock()
	e.entries = entries
	e.mu.Unlock()
	e.logger.Debug("timetable refreshed", "entries", len(entries))
	return nil
}

// Check scans every timetable entry once against the current clock. Entries
// outside the window or already fired are skipped; malformed times are
// skipped too, never fatal.
func (e *ScheduleEngine) Check() {
	now := e.now()

	e.mu.Lock()
	type pending struct {
		entry   domain.TimetableEntry
		minutes int
	}
	var toFire []pending

	for _, entry := range e.entries {
		key := entry.Key()
		if e.fired[key] {
			continue
		}
		sched, err := departureToday(entry.Time, now)
		if err != nil {
			continue
		}
		diff := sched.Sub(now)
		if diff <= 0 || diff > DepartureWarnWindow {
			continue
		}
		e.fired[key] = true
		toFire = append(toFire, pending{entry, int(math.Round(diff.Minutes()))})
	}
	e.mu.Unlock()

	for _, p := range toFire {
		e.sink.Fire(
			"Bus departing soon",
			fmt.Sprintf("%s (%s, %s) departs in %d min", p.entry.BusName, p.entry.RouteName, p.entry.Direction, p.minutes),
			KindSchedule,
		)
	}
}

// ResetDaily clears all fired flags and runs the registered rollover hooks,
// so the same departures can alert again tomorrow.
func (e *ScheduleEngine) ResetDaily() {
	e.mu.Lock()
	e.fired = make(map[string]bool)
	hooks := make([]func(), len(e.onReset))
	copy(hooks, e.onReset)
	e.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	e.logger.Info("daily alert state reset")
}

// Run drives the engine: an immediate timetable load, a check every minute,
// a coarse refresh every ten minutes and a reset at local midnight. All
// timers stop when ctx ends.
func (e *ScheduleEngine) Run(ctx context.Context) {
	if err := e.Refresh(ctx); err == nil {
		e.Check()
	}

	checkTicker := time.NewTicker(checkInterval)
	defer checkTicker.Stop()
	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	midnight := time.NewTimer(untilNextMidnight(e.now()))
	defer midnight.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-checkTicker.C:
			e.Check()
		case <-refreshTicker.C:
			_ = e.Refresh(ctx)
		case <-midnight.C:
			e.ResetDaily()
			midnight.Reset(untilNextMidnight(e.now()))
		}
	}
}

// departureToday resolves "HH:MM" to today's wall-clock instant in now's
// location.
func departureToday(hhmm string, now time.Time) (time.Time, error) {
	parsed, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(now.Year(), now.Month(), now.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0, now.Location()), nil
}

func untilNextMidnight(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
	return next.Sub(now)
}
