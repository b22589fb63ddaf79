// Package publisher is the driver-side location loop: it consumes GPS fixes
// from a Source, throttles them to the channel's floor rate and emits them
// as position updates. One publisher serves one (driver, bus) duty session.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"unibus/internal/domain"
)

// MinEmitInterval is the hard floor between emitted positions. Faster fixes
// are dropped, never queued.
const MinEmitInterval = 10 * time.Second

// Fix is one GPS sample from the device.
type Fix struct {
	Lat      float64
	Lng      float64
	SpeedKmh float64
}

// Source delivers GPS fixes as the device produces them. Fixes must apply
// its own bounded acquisition timeout; returning an error means location is
// denied or unavailable and the publisher never starts.
type Source interface {
	Fixes(ctx context.Context) (<-chan Fix, error)
}

// Emitter sends one position update to the channel. Errors are transient
// from the publisher's point of view: it drops the update and carries on.
type Emitter interface {
	Emit(ctx context.Context, p domain.Position) error
}

type State int

const (
	StateIdle State = iota
	StateSharing
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSharing:
		return "sharing"
	case StatePaused:
		return "paused"
	}
	return "unknown"
}

var ErrAlreadySharing = errors.New("publisher already sharing")

// Publisher runs the Idle → Sharing ⇄ Paused → Idle duty state machine.
// Pause, Resume and Stop are safe from any goroutine; the sampling loop is
// fenced by a generation counter so a stale loop from a previous Start can
// never emit.
type Publisher struct {
	busID   string
	routeID string
	source  Source
	emitter Emitter
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	state    State
	gen      int
	cancel   context.CancelFunc
	lastEmit time.Time
	lastFix  Fix
	hasFix   bool
}

type Option func(*Publisher)

// WithClock overrides the throttle clock for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

func New(busID, routeID string, source Source, emitter Emitter, logger *slog.Logger, opts ...Option) *Publisher {
	p := &Publisher{
		busID:   busID,
		routeID: routeID,
		source:  source,
		emitter: emitter,
		logger:  logger.With("component", "location_publisher", "bus_id", busID),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start begins sharing. If the source refuses to deliver fixes the
// publisher stays Idle with no partial state.
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return ErrAlreadySharing
	}
	p.gen++
	gen := p.gen
	p.mu.Unlock()

	fixes, err := p.source.Fixes(ctx)
	if err != nil {
		return fmt.Errorf("acquire gps: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		cancel()
		return ErrAlreadySharing
	}
	p.state = StateSharing
	p.cancel = cancel
	p.lastEmit = time.Time{}
	p.hasFix = false
	p.mu.Unlock()

	go p.run(loopCtx, gen, fixes)

	p.logger.Info("duty started", "route_id", p.routeID)
	return nil
}

func (p *Publisher) run(ctx context.Context, gen int, fixes <-chan Fix) {
	for {
		select {
		case <-ctx.Done():
			return
		case fix, ok := <-fixes:
			if !ok {
				p.logger.Info("gps source closed")
				return
			}
			p.handleFix(ctx, gen, fix)
		}
	}
}

func (p *Publisher) handleFix(ctx context.Context, gen int, fix Fix) {
	p.mu.Lock()
	if p.gen != gen || p.state != StateSharing {
		p.mu.Unlock()
		return
	}
	p.lastFix = fix
	p.hasFix = true

	now := p.now()
	if !p.lastEmit.IsZero() && now.Sub(p.lastEmit) < MinEmitInterval {
		p.mu.Unlock()
		return
	}
	p.lastEmit = now
	p.mu.Unlock()

	p.emit(ctx, fix, domain.StatusRunning)
}

// emit makes exactly one delivery attempt. Failure is logged and swallowed;
// the next surviving fix is the retry.
func (p *Publisher) emit(ctx context.Context, fix Fix, status domain.Status) {
	update := domain.Position{
		BusID:      p.busID,
		RouteID:    p.routeID,
		Lat:        fix.Lat,
		Lng:        fix.Lng,
		SpeedKmh:   fix.SpeedKmh,
		Status:     status,
		ObservedAt: p.now(),
	}
	if err := p.emitter.Emit(ctx, update); err != nil {
		p.logger.Debug("emit failed, dropping update", "status", string(status), "error", err)
	}
}

// Pause suspends emission without tearing the session down. The paused
// status transition is emitted immediately so subscribers can tell a parked
// bus from a lost signal.
func (p *Publisher) Pause(ctx context.Context) {
	p.mu.Lock()
	if p.state != StateSharing {
		p.mu.Unlock()
		return
	}
	p.state = StatePaused
	fix, hasFix := p.lastFix, p.hasFix
	p.mu.Unlock()

	if hasFix {
		p.emit(ctx, fix, domain.StatusPaused)
	}
	p.logger.Info("duty paused")
}

// Resume restarts emission from scratch: no backlog is replayed and the
// throttle window restarts.
func (p *Publisher) Resume() {
	p.mu.Lock()
	if p.state != StatePaused {
		p.mu.Unlock()
		return
	}
	p.state = StateSharing
	p.lastEmit = time.Time{}
	p.mu.Unlock()

	p.logger.Info("duty resumed")
}

// Stop emits a final stopped update and tears the loop down, returning the
// publisher to Idle.
func (p *Publisher) Stop(ctx context.Context) {
	p.mu.Lock()
	if p.state == StateIdle {
		p.mu.Unlock()
		return
	}
	p.state = StateIdle
	p.gen++
	cancel := p.cancel
	p.cancel = nil
	fix, hasFix := p.lastFix, p.hasFix
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if hasFix {
		p.emit(ctx, fix, domain.StatusStopped)
	}
	p.logger.Info("duty stopped")
}
