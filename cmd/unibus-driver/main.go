// unibus-driver is the on-bus agent: it samples a GPS source and publishes
// throttled position updates to the channel for one duty session. Without
// real hardware attached it falls back to a simulated drive, which is also
// how local development exercises the full pipeline.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"unibus/internal/publisher"
)

func main() {
	var (
		channelURL  = flag.String("channel", "ws://localhost:8080/v1/ws", "location channel websocket URL")
		busID       = flag.String("bus", "", "bus identifier (required)")
		routeID     = flag.String("route", "", "route identifier (required)")
		lat         = flag.Float64("lat", 22.70, "simulated start latitude")
		lng         = flag.Float64("lng", 90.35, "simulated start longitude")
		speedKmh    = flag.Float64("speed", 25, "simulated speed in km/h")
		sampleEvery = flag.Duration("sample", 2*time.Second, "GPS sampling interval")
		logLevel    = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(*logLevel),
	}))

	if *busID == "" || *routeID == "" {
		logger.Error("both -bus and -route are required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := &simSource{
		lat:      *lat,
		lng:      *lng,
		speedKmh: *speedKmh,
		interval: *sampleEvery,
	}
	emitter := publisher.NewWSEmitter(*channelURL)
	defer emitter.Close()

	pub := publisher.New(*busID, *routeID, source, emitter, logger)

	if err := pub.Start(ctx); err != nil {
		logger.Error("could not start duty", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	// Final stopped update lets riders distinguish "parked" from "signal lost".
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	pub.Stop(stopCtx)

	logger.Info("duty ended")
}

// simSource fabricates a steady drive due north from the starting point.
type simSource struct {
	lat      float64
	lng      float64
	speedKmh float64
	interval time.Duration
}

func (s *simSource) Fixes(ctx context.Context) (<-chan publisher.Fix, error) {
	out := make(chan publisher.Fix)
	go func() {
		defer close(out)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		lat := s.lat
		// Degrees of latitude travelled per sample at the simulated speed.
		step := s.speedKmh / 3600 * s.interval.Seconds() / 111.19

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				lat += step
				select {
				case out <- publisher.Fix{Lat: lat, Lng: s.lng, SpeedKmh: s.speedKmh}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
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
