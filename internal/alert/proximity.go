package alert

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"unibus/internal/domain"
	"unibus/internal/geo"
)

// Hysteresis thresholds: a bus alerts when it comes inside EnterKm and the
// alert re-arms only once it has moved beyond ExitKm. ExitKm > EnterKm so
// GPS noise around a single boundary cannot re-fire.
const (
	ProximityEnterKm = 0.1
	ProximityExitKm  = 0.5
)

type phase int

const (
	phaseIdle phase = iota
	phaseAlerted
)

// ProximityEngine tracks, per bus, whether the rider has already been told
// the bus is nearby, plus a one-shot duty-start flag per bus per day. All
// state belongs to one rider session and survives channel reconnects; it is
// cleared only by ResetDaily.
type ProximityEngine struct {
	mu sync.Mutex

	riderLat float64
	riderLng float64
	hasRider bool

	phases map[string]phase
	seen   map[string]bool

	sink   Sink
	logger *slog.Logger
}

func NewProximityEngine(sink Sink, logger *slog.Logger) *ProximityEngine {
	return &ProximityEngine{
		phases: make(map[string]phase),
		seen:   make(map[string]bool),
		sink:   sink,
		logger: logger.With("component", "proximity_engine"),
	}
}

// SetRiderPosition refreshes the rider's own location. Until it is called at
// least once, proximity alerts stay off while duty-start alerts still fire.
func (e *ProximityEngine) SetRiderPosition(lat, lng float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.riderLat, e.riderLng, e.hasRider = lat, lng, true
}

// ClearRiderPosition is called when geolocation is denied or lost.
func (e *ProximityEngine) ClearRiderPosition() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hasRider = false
}

// Observe feeds one inbound Position through the alert state machine.
// Duty-start and nearby are independent triggers; both may fire for the
// same update, each at most once until its own reset condition.
func (e *ProximityEngine) Observe(p domain.Position) {
	e.mu.Lock()

	var fireStart, fireNearby bool
	var distKm float64

	if !e.seen[p.BusID] {
		e.seen[p.BusID] = true
		fireStart = true
	}

	if e.hasRider {
		distKm = geo.DistanceKm(e.riderLat, e.riderLng, p.Lat, p.Lng)
		switch e.phases[p.BusID] {
		case phaseIdle:
			if distKm <= ProximityEnterKm {
				e.phases[p.BusID] = phaseAlerted
				fireNearby = true
			}
		case phaseAlerted:
			if distKm > ProximityExitKm {
				// Re-arm silently; no alert on the way out.
				e.phases[p.BusID] = phaseIdle
			}
		}
	}

	e.mu.Unlock()

	if fireStart {
		e.sink.Fire(
			"Bus started duty",
			fmt.Sprintf("%s is now sharing its location on %s", p.BusID, p.RouteID),
			KindStart,
		)
	}
	if fireNearby {
		meters := int(math.Round(distKm * 1000))
		eta := geo.ETAMinutes(distKm, p.SpeedKmh)
		body := fmt.Sprintf("%s is %d m away", p.BusID, meters)
		if eta != geo.ETAArrivingNow {
			body = fmt.Sprintf("%s, about %d min", body, eta)
		}
		e.sink.Fire("Bus nearby", body, KindProximity)
	}
}

// ResetDaily clears the duty-start flags and re-arms every proximity alert.
// Called by the schedule engine's midnight rollover.
func (e *ProximityEngine) ResetDaily() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.phases = make(map[string]phase)
	e.seen = make(map[string]bool)
	e.logger.Debug("daily proximity state reset")
}
