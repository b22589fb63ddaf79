// unibus-rider is a headless rider session: it joins routes on the channel,
// runs the proximity and schedule alert engines and prints fired alerts.
// The mobile app speaks the same frames; this agent is the reference client.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"unibus/internal/alert"
	"unibus/internal/metrics"
	"unibus/internal/rider"
	"unibus/internal/timetable"
)

func main() {
	var (
		channelURL    = flag.String("channel", "ws://localhost:8080/v1/ws", "location channel websocket URL")
		routesCSV     = flag.String("routes", "", "comma-separated route IDs to watch (required)")
		riderLat      = flag.Float64("lat", 0, "rider latitude")
		riderLng      = flag.Float64("lng", 0, "rider longitude")
		timetablePath = flag.String("timetable", "", "YAML timetable for departure alerts (optional)")
		metricsAddr   = flag.String("metrics", "", "address to serve /metrics on (optional)")
		logLevel      = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(*logLevel),
	}))

	routes := splitCSV(*routesCSV)
	if len(routes) == 0 {
		logger.Error("-routes is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sink alert.Sink = alert.NewLogSink(logger)
	if *metricsAddr != "" {
		collector := metrics.NewCollector()
		sink = alert.NewCountingSink(sink, collector)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", collector.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	proximity := alert.NewProximityEngine(sink, logger)
	if *riderLat != 0 || *riderLng != 0 {
		proximity.SetRiderPosition(*riderLat, *riderLng)
	} else {
		logger.Warn("no rider position given, proximity alerts disabled")
	}

	var source alert.TimetableSource = timetable.NewStatic(nil)
	if *timetablePath != "" {
		source = timetable.NewFileSource(*timetablePath)
	}
	schedule := alert.NewScheduleEngine(source, sink, logger)
	schedule.OnDailyReset(proximity.ResetDaily)
	go schedule.Run(ctx)

	session := rider.NewSession(*channelURL, routes, proximity, logger)
	go session.Run(ctx)

	logger.Info("rider session started", "routes", routes)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("rider session ended")
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
