// Package devicemgr turns a room's entity groups into devices and keeps the
// capability index in sync with them.
package devicemgr

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tentd/internal/device"
	"github.com/dokzlo13/tentd/internal/eventbus"
	"github.com/dokzlo13/tentd/internal/host"
	"github.com/dokzlo13/tentd/internal/registry"
	"github.com/dokzlo13/tentd/internal/store"
	"github.com/dokzlo13/tentd/internal/task"
)

// TopicDevicesChanged is published after a reconcile pass added or removed devices.
const TopicDevicesChanged = "DevicesChanged"

// DevicesChanged is the payload of TopicDevicesChanged.
type DevicesChanged struct {
	Added   []*device.Device
	Removed []*device.Device
}

// Source enumerates device candidates. *registry.Listener implements it.
type Source interface {
	Groups(ctx context.Context) ([]registry.Candidate, error)
}

// Config controls the reconciliation worker.
type Config struct {
	Interval    time.Duration
	BackoffBase time.Duration
	MaxBackoff  time.Duration
	MaxFailures int
}

// DefaultConfig matches the daemon defaults.
var DefaultConfig = Config{
	Interval:    150 * time.Second,
	BackoffBase: 60 * time.Second,
	MaxBackoff:  8 * time.Minute,
	MaxFailures: 5,
}

// Manager owns the device set of one room.
type Manager struct {
	room   string
	host   host.Host
	bus    *eventbus.Bus
	store  *store.Store
	source Source
	cfg    Config
	after  task.After

	mu      sync.RWMutex
	devices map[string]*device.Device

	trigger chan struct{}
}

// New creates a device manager.
func New(room string, h host.Host, bus *eventbus.Bus, s *store.Store, src Source, cfg Config) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig.Interval
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultConfig.BackoffBase
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig.MaxBackoff
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultConfig.MaxFailures
	}
	return &Manager{
		room:    room,
		host:    h,
		bus:     bus,
		store:   s,
		source:  src,
		cfg:     cfg,
		after:   time.After,
		devices: make(map[string]*device.Device),
		trigger: make(chan struct{}, 1),
	}
}

// SetAfter overrides the timer used by Run.
func (m *Manager) SetAfter(after task.After) { m.after = after }

// Trigger asks the worker to reconcile now.
func (m *Manager) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
		// Already triggered
	}
}

// Backoff returns the wait after the n-th consecutive failure (n ≥ 1).
func (c Config) Backoff(n int) time.Duration {
	if n < 1 {
		return c.Interval
	}
	d := c.BackoffBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	if d > c.MaxBackoff {
		return c.MaxBackoff
	}
	return d
}

// Run reconciles immediately and then periodically until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	log.Info().Str("room", m.room).Dur("interval", m.cfg.Interval).Msg("Device reconciliation started")

	failures := 0
	for {
		wait := m.cfg.Interval
		if err := m.Reconcile(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			failures++
			wait = m.cfg.Backoff(failures)
			log.Warn().Err(err).Str("room", m.room).Int("failures", failures).Dur("retry_in", wait).Msg("Device reconciliation failed")
			if failures >= m.cfg.MaxFailures {
				log.Error().Err(err).Str("room", m.room).Int("failures", failures).Msg("Device reconciliation keeps failing")
				failures = 0
			}
		} else {
			failures = 0
		}

		select {
		case <-ctx.Done():
			log.Info().Str("room", m.room).Msg("Device reconciliation stopping")
			return nil
		case <-m.trigger:
		case <-m.after(wait):
		}
	}
}

// Reconcile compares known devices with a fresh enumeration, adding new devices
// and removing missing ones.
func (m *Manager) Reconcile(ctx context.Context) error {
	candidates, err := m.source.Groups(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(candidates))
	var added, removed []*device.Device

	for _, c := range candidates {
		typ, ok := device.Classify(c.Name)
		if !ok || typ == device.Sensor {
			continue
		}
		seen[c.Name] = true
		if m.Device(c.Name) != nil {
			continue
		}

		d := device.New(c.Name, typ, m.room, m.host, m.store)
		if err := d.Init(c.Entities); err != nil {
			log.Warn().Err(err).Str("room", m.room).Str("device", c.Name).Msg("Device not added")
			continue
		}
		m.add(d)
		added = append(added, d)
	}

	for _, d := range m.Devices() {
		if !seen[d.Name] {
			m.remove(d)
			removed = append(removed, d)
		}
	}

	if len(added) > 0 || len(removed) > 0 {
		log.Info().Str("room", m.room).Int("added", len(added)).Int("removed", len(removed)).Msg("Devices reconciled")
		m.bus.Publish(TopicDevicesChanged, DevicesChanged{Added: added, Removed: removed})
	}
	return nil
}

func (m *Manager) add(d *device.Device) {
	m.mu.Lock()
	m.devices[d.Name] = d
	m.mu.Unlock()

	d.Attach(m.bus)
	if c := d.Type.Capability(); c != "" {
		AddCapability(m.store, c, d.Name)
	}
	log.Info().Str("room", m.room).Str("device", d.Name).Str("type", string(d.Type)).Bool("dimmable", d.Dimmable).Msg("Device added")
}

func (m *Manager) remove(d *device.Device) {
	m.mu.Lock()
	delete(m.devices, d.Name)
	m.mu.Unlock()

	d.Detach()
	if c := d.Type.Capability(); c != "" {
		RemoveCapability(m.store, c, d.Name)
	}
	log.Info().Str("room", m.room).Str("device", d.Name).Msg("Device removed")
}

// Device returns a device by name, or nil.
func (m *Manager) Device(name string) *device.Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.devices[name]
}

// Devices returns all devices sorted by name.
func (m *Manager) Devices() []*device.Device {
	m.mu.RLock()
	out := make([]*device.Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ByType returns the devices of the given types.
func (m *Manager) ByType(types ...device.Type) []*device.Device {
	want := make(map[device.Type]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	var out []*device.Device
	for _, d := range m.Devices() {
		if want[d.Type] {
			out = append(out, d)
		}
	}
	return out
}

// ReloadBounds re-reads DeviceMinMax on every device.
func (m *Manager) ReloadBounds() {
	for _, d := range m.Devices() {
		d.ReloadBounds()
	}
}

// Close detaches every device from the bus.
func (m *Manager) Close() {
	for _, d := range m.Devices() {
		d.Detach()
	}
}
