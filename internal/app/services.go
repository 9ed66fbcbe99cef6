package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tentd/internal/config"
	"github.com/dokzlo13/tentd/internal/db"
	"github.com/dokzlo13/tentd/internal/devicemgr"
	"github.com/dokzlo13/tentd/internal/host"
	hostmqtt "github.com/dokzlo13/tentd/internal/host/mqtt"
	"github.com/dokzlo13/tentd/internal/ledger"
	"github.com/dokzlo13/tentd/internal/premium"
	"github.com/dokzlo13/tentd/internal/registry"
	"github.com/dokzlo13/tentd/internal/room"
	"github.com/dokzlo13/tentd/internal/store"
	"github.com/dokzlo13/tentd/internal/telemetry"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger
	Plans  *premium.PlanStore
	Host   host.Host
	mqtt   *hostmqtt.Client

	// Telemetry
	Registry *prometheus.Registry
	Metrics  *telemetry.Metrics
	Influx   *telemetry.Influx

	// Rooms and their premium uplinks
	Rooms   []*room.Room
	Uplinks []*premium.Uplink

	Health  *HealthService
	Cleanup *LedgerCleanup

	unsubs []func()
}

// NewServices connects to the broker and creates all services.
func NewServices(cfg *config.Config) (*Services, error) {
	client, err := hostmqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, err
	}
	s, err := newServices(cfg, client, client)
	if err != nil {
		client.Close()
		return nil, err
	}
	s.mqtt = client
	return s, nil
}

// newServices wires the services around an existing host. transport may be nil, in
// which case rooms run without a premium uplink.
func newServices(cfg *config.Config, h host.Host, transport premium.Transport) (*Services, error) {
	s := &Services{cfg: cfg, Host: h}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.Ledger = ledger.New(database.DB)
	s.Plans = premium.NewPlanStore(database.DB)

	// Telemetry
	s.Registry = prometheus.NewRegistry()
	s.Metrics = telemetry.NewMetrics(s.Registry)
	if cfg.InfluxDB.Enabled {
		s.Influx, err = telemetry.Connect(cfg.InfluxDB)
		if err != nil {
			log.Warn().Err(err).Msg("InfluxDB unavailable, grow data will not be written")
			s.Influx = nil
		}
	}

	reconcile := devicemgr.Config{
		Interval:    cfg.Reconcile.Interval.Duration(),
		BackoffBase: cfg.Reconcile.BackoffBase.Duration(),
		MaxBackoff:  cfg.Reconcile.MaxBackoff.Duration(),
		MaxFailures: cfg.Reconcile.MaxFailures,
	}

	for _, rc := range cfg.Rooms {
		r, err := room.New(room.Options{
			Name:      rc.Name,
			Area:      rc.GetArea(),
			DataDir:   cfg.DataDir,
			Script:    rc.Script,
			Workers:   cfg.EventBus.GetWorkers(),
			QueueSize: cfg.EventBus.GetQueueSize(),
			Reconcile: reconcile,
			Retry:     registry.DefaultRetry,
		}, h, s.Ledger)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("room %s: %w", rc.Name, err)
		}
		s.Rooms = append(s.Rooms, r)

		if transport != nil {
			s.Uplinks = append(s.Uplinks, premium.New(rc.Name, r.Store(), r.Bus(), transport, s.Ledger, r.Actions(), s.Plans))
		}
	}

	s.Health = NewHealthService(cfg, s.Registry, s.ready)
	s.Cleanup = NewLedgerCleanup(cfg, s.Ledger)
	return s, nil
}

// Start starts all services in the correct order.
func (s *Services) Start(ctx context.Context) error {
	for _, r := range s.Rooms {
		s.unsubs = append(s.unsubs, s.Metrics.Watch(r.Name(), r.Bus()))
		if s.Influx != nil {
			s.unsubs = append(s.unsubs, s.Influx.Watch(r.Bus()))
		}
	}

	for _, r := range s.Rooms {
		if err := r.Start(ctx); err != nil {
			return fmt.Errorf("room %s: %w", r.Name(), err)
		}
	}
	for _, u := range s.Uplinks {
		if err := u.Start(ctx); err != nil {
			return err
		}
	}

	s.unsubs = append(s.unsubs, s.Host.Subscribe(s.fanOutAmbient))

	s.Health.Start(ctx)
	s.Cleanup.Start(ctx)
	return nil
}

// ready reports whether the host connection is up.
func (s *Services) ready() bool {
	if s.mqtt == nil {
		return true
	}
	return s.mqtt.IsConnected()
}

// ResetState removes the saved room snapshots.
func (s *Services) ResetState() error {
	var errs []error
	for _, r := range s.cfg.Rooms {
		if err := removeState(store.StatePath(s.cfg.DataDir, r.Name)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop gracefully stops all services.
func (s *Services) Stop(ctx context.Context) error {
	for _, fn := range s.unsubs {
		fn()
	}
	s.unsubs = nil

	for _, u := range s.Uplinks {
		u.Stop()
	}
	for _, r := range s.Rooms {
		r.Stop(ctx)
	}
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Influx != nil {
		s.Influx.Close()
	}
	if s.mqtt != nil {
		s.mqtt.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
