package domain

import "time"

// Status describes what a bus is currently doing on duty.
type Status string

const (
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusStopped Status = "stopped"
)

// Valid reports whether s is one of the known duty statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusPaused, StatusStopped:
		return true
	}
	return false
}

// Position is the last-known location of a single bus. Exactly one Position
// exists per bus; it is replaced whole on every update, never merged.
type Position struct {
	BusID      string    `json:"busId"`
	RouteID    string    `json:"routeId"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	SpeedKmh   float64   `json:"speedKmh"`
	Status     Status    `json:"status"`
	ObservedAt time.Time `json:"observedAt"`
}

// TimetableEntry is one scheduled departure in the static timetable feed.
type TimetableEntry struct {
	RouteName string `json:"routeName" yaml:"routeName" validate:"required"`
	BusName   string `json:"busName" yaml:"busName" validate:"required"`
	Time      string `json:"time" yaml:"time" validate:"required,len=5"`
	Direction string `json:"direction" yaml:"direction" validate:"required"`
}

// Key identifies a departure for one-shot alert dedup. Two entries with the
// same bus, time and direction are the same departure.
func (e TimetableEntry) Key() string {
	return e.BusName + "|" + e.Time + "|" + e.Direction
}
