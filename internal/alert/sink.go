// Package alert implements the rider-side alerting engines: proximity with
// hysteresis, duty-start detection and scheduled-departure warnings. Alerts
// leave the package through the Sink contract only.
package alert

import "log/slog"

// Kind classifies a fired alert.
type Kind string

const (
	KindProximity Kind = "proximity"
	KindStart     Kind = "start"
	KindSchedule  Kind = "schedule"
)

// Sink delivers a fired alert to the user. Implementations must not block
// and must not propagate delivery failures back to the engines.
type Sink interface {
	Fire(title, body string, kind Kind)
}

// LogSink writes alerts to the session log. It is the default sink for the
// rider agent.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "alert_sink")}
}

func (s *LogSink) Fire(title, body string, kind Kind) {
	s.logger.Info("alert", "kind", string(kind), "title", title, "body", body)
}

// AlertCounter is implemented by the metrics collector.
type AlertCounter interface {
	AlertFired(kind string)
}

// CountingSink wraps another sink and counts fired alerts by kind.
type CountingSink struct {
	next    Sink
	counter AlertCounter
}

func NewCountingSink(next Sink, counter AlertCounter) *CountingSink {
	return &CountingSink{next: next, counter: counter}
}

func (s *CountingSink) Fire(title, body string, kind Kind) {
	s.counter.AlertFired(string(kind))
	s.next.Fire(title, body, kind)
}
