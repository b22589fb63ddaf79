// Package timetable supplies the static departure schedule the alert
// engines poll. Sources are read-only from the engines' point of view.
package timetable

import (
	"context"

	"unibus/internal/domain"
)

// Source loads the current timetable. Implementations are re-queried on a
// coarse interval by the schedule engine.
type Source interface {
	Load(ctx context.Context) ([]domain.TimetableEntry, error)
}

// Static is a fixed in-memory timetable, used in tests and as the rider
// agent's fallback when no feed is configured.
type Static struct {
	entries []domain.TimetableEntry
}

func NewStatic(entries []domain.TimetableEntry) *Static {
	return &Static{entries: entries}
}

func (s *Static) Load(ctx context.Context) ([]domain.TimetableEntry, error) {
	out := make([]domain.TimetableEntry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}
