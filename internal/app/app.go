// Package app wires the daemon services and runs them until shutdown.
package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tentd/internal/config"
)

// App runs the grow rooms of one tentd instance.
type App struct {
	cfg      *config.Config
	services *Services
}

// New connects to the host and builds every room. Nothing runs until Run.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, fmt.Errorf("init services: %w", err)
	}
	return &App{cfg: cfg, services: services}, nil
}

// ResetState removes the saved room snapshots so the rooms start from defaults.
// Must be called before Run.
func (a *App) ResetState() error {
	return a.services.ResetState()
}

// Run starts the rooms and their telemetry, blocks until ctx is cancelled and
// then stops everything within the configured shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.services.Start(runCtx); err != nil {
		cancel()
		a.shutdown()
		return err
	}
	a.logStarted()

	<-runCtx.Done()
	log.Info().Msg("Shutting down...")
	return a.shutdown()
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.GetShutdownTimeout())
	defer cancel()
	return a.services.Stop(ctx)
}

func (a *App) logStarted() {
	for _, r := range a.services.Rooms {
		log.Info().
			Str("room", r.Name()).
			Str("stage", r.Store().String("plantStage")).
			Str("mode", r.Store().String("tentMode")).
			Int("devices", len(r.Devices().Devices())).
			Msg("Room running")
	}
	log.Info().
		Int("rooms", len(a.services.Rooms)).
		Bool("metrics", a.cfg.Metrics.Enabled).
		Bool("influxdb", a.services.Influx != nil).
		Bool("premium", len(a.services.Uplinks) > 0).
		Msg("tentd started")
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
