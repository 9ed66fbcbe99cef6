// Package room binds the per-room components together and routes host events into
// the room state.
package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tentd/internal/action"
	"github.com/dokzlo13/tentd/internal/devicemgr"
	"github.com/dokzlo13/tentd/internal/eventbus"
	"github.com/dokzlo13/tentd/internal/feed"
	"github.com/dokzlo13/tentd/internal/growplan"
	"github.com/dokzlo13/tentd/internal/host"
	"github.com/dokzlo13/tentd/internal/ledger"
	"github.com/dokzlo13/tentd/internal/light"
	"github.com/dokzlo13/tentd/internal/mode"
	"github.com/dokzlo13/tentd/internal/registry"
	"github.com/dokzlo13/tentd/internal/store"
)

// Bus topics handled by the room.
const (
	TopicSaveState = "SaveState"
	TopicLoadState = "LoadState"
)

// Options configures a room.
type Options struct {
	Name    string
	Area    string
	DataDir string
	// Script is an optional Lua stage script.
	Script string

	Workers   int
	QueueSize int
	Reconcile devicemgr.Config
	Retry     registry.Retry
}

// Room owns the state and components of one grow room.
type Room struct {
	name    string
	dataDir string
	host    host.Host

	store    *store.Store
	bus      *eventbus.Bus
	listener *registry.Listener
	devices  *devicemgr.Manager
	actions  *action.Manager
	modes    *mode.Manager
	lights   *light.Controller
	feed     *feed.Manager
	plan     *growplan.Updater
	script   *growplan.Script
	ledger   *ledger.Ledger

	now func() time.Time

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	unsubs []func()
}

// New wires the components of a room. l may be nil.
func New(opts Options, h host.Host, l *ledger.Ledger) (*Room, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("%w: room without name", ErrConfigInvalid)
	}
	area := opts.Area
	if area == "" {
		area = opts.Name
	}

	r := &Room{
		name:    opts.Name,
		dataDir: opts.DataDir,
		host:    h,
		ledger:  l,
		now:     time.Now,
		ctx:     context.Background(),
	}

	if opts.Script != "" {
		script, err := growplan.LoadScript(opts.Name, opts.Script)
		if err != nil {
			return nil, err
		}
		r.script = script
	}

	r.store = store.New(opts.Name)
	r.bus = eventbus.NewWithConfig(opts.Name, opts.Workers, opts.QueueSize)
	r.listener = registry.New(opts.Name, area, h, r.bus)
	if opts.Retry.Attempts > 0 {
		r.listener.SetRetry(opts.Retry)
	}
	r.devices = devicemgr.New(opts.Name, h, r.bus, r.store, r.listener, opts.Reconcile)
	r.actions = action.NewManager(opts.Name, r.store, r.bus)
	r.modes = mode.New(opts.Name, r.store, r.bus, r.actions, r.devices)
	r.lights = light.New(opts.Name, r.store, r.bus)
	var rec feed.Recorder
	if l != nil {
		rec = l
	}
	r.feed = feed.New(opts.Name, r.store, r.bus, r.devices, rec)
	r.plan = growplan.New(opts.Name, r.store, r.bus, r.script)
	return r, nil
}

// Name returns the room name.
func (r *Room) Name() string { return r.name }

// Store returns the room state.
func (r *Room) Store() *store.Store { return r.store }

// Bus returns the room event bus.
func (r *Room) Bus() *eventbus.Bus { return r.bus }

// Actions returns the action manager, the emission path for external batches.
func (r *Room) Actions() *action.Manager { return r.actions }

// Devices returns the device manager.
func (r *Room) Devices() *devicemgr.Manager { return r.devices }

// Lights returns the light controller.
func (r *Room) Lights() *light.Controller { return r.lights }

// Start restores saved state, subscribes to host events and starts the workers.
func (r *Room) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.ctx, r.cancel = ctx, cancel
	r.mu.Unlock()

	if err := r.LoadState(); err != nil && !errors.Is(err, store.ErrNoState) {
		log.Warn().Err(err).Str("room", r.name).Msg("Saved state not restored")
	}

	r.subscribe()

	r.modes.Start(ctx)
	r.lights.Start(ctx)
	r.feed.Start(ctx)
	r.plan.Start(ctx)

	if err := r.listener.Start(ctx); err != nil {
		r.unsubscribe()
		cancel()
		r.plan.Stop()
		r.feed.Stop()
		r.lights.Stop()
		r.modes.Stop()
		return fmt.Errorf("failed to start registry listener: %w", err)
	}

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		_ = r.devices.Run(ctx)
	}()
	go func() {
		defer r.wg.Done()
		_ = r.lights.Run(ctx)
	}()

	r.seed(ctx)
	r.FirstInit(ctx)
	log.Info().Str("room", r.name).Msg("Room started")
	return nil
}

func (r *Room) subscribe() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubs = append(r.unsubs,
		r.store.Subscribe(r.onChange),
		r.bus.Subscribe(registry.TopicRoomUpdate, r.onRoomUpdate),
		r.bus.Subscribe(TopicSaveState, func(eventbus.Event) { r.saveLogged() }),
		r.bus.Subscribe(TopicLoadState, func(eventbus.Event) {
			if err := r.LoadState(); err != nil {
				log.Warn().Err(err).Str("room", r.name).Msg("Saved state not restored")
			}
		}),
	)
	if r.ledger != nil {
		r.unsubs = append(r.unsubs, r.ledger.Watch(r.name, r.bus))
	}
}

func (r *Room) unsubscribe() {
	r.mu.Lock()
	unsubs := r.unsubs
	r.unsubs = nil
	r.mu.Unlock()
	for _, fn := range unsubs {
		fn()
	}
}

// Stop stops the workers, saves the state and drains the bus.
func (r *Room) Stop(ctx context.Context) {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()

	r.unsubscribe()
	if cancel != nil {
		cancel()
	}

	r.plan.Stop()
	r.feed.Stop()
	r.lights.Stop()
	r.modes.Stop()
	r.listener.Stop()
	r.wg.Wait()
	r.devices.Close()

	// A room that never started holds defaults, not state worth saving.
	if cancel != nil {
		r.saveLogged()
	}
	r.bus.Close(ctx)
	if r.script != nil {
		r.script.Close()
	}
	log.Info().Str("room", r.name).Msg("Room stopped")
}

// FirstInit announces the startup configuration and publishes the initial VPD.
func (r *Room) FirstInit(ctx context.Context) {
	r.bus.Publish(mode.TopicHydroModeChange, "Init")
	r.bus.Publish(mode.TopicRetrieveModeChange, "Init")
	r.bus.Publish(growplan.TopicPlantTimeChange, "Init")

	r.applyStage()
	r.devices.ReloadBounds()
	r.lights.Reload()
	r.updateVPD()
	r.lights.Evaluate(ctx)
}

// SaveState writes the room state below the data directory.
func (r *Room) SaveState() error {
	if r.dataDir == "" {
		return nil
	}
	return r.store.SaveFile(store.StatePath(r.dataDir, r.name))
}

func (r *Room) saveLogged() {
	if err := r.SaveState(); err != nil {
		log.Error().Err(err).Str("room", r.name).Msg("Failed to save room state")
	}
}

// LoadState restores the room state saved by SaveState.
func (r *Room) LoadState() error {
	if r.dataDir == "" {
		return store.ErrNoState
	}
	n, err := r.store.LoadFile(store.StatePath(r.dataDir, r.name))
	if err != nil {
		return err
	}
	log.Info().Str("room", r.name).Int("groups", n).Msg("Room state restored")
	return nil
}

func (r *Room) baseCtx() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ctx
}

func (r *Room) onRoomUpdate(ev eventbus.Event) {
	u, ok := ev.Payload.(registry.EntityUpdate)
	if !ok {
		return
	}
	if r.route(r.baseCtx(), u.EntityID, u.Value) {
		r.updateVPD()
	}
}

// route sends an entity value to its setter. It reports whether the room climate changed.
func (r *Room) route(ctx context.Context, entityID string, value any) bool {
	if registry.GroupName(entityID) == registry.ConfigGroup {
		err := r.Dispatch(ctx, entityID, value)
		if errors.Is(err, ErrUnhandledKey) {
			log.Debug().Str("room", r.name).Str("entity", entityID).Msg("Unhandled configuration entity")
		}
		return false
	}
	if where, kind, ok := AmbientOf(entityID); ok {
		r.ApplyAmbient(where, kind, value)
		return false
	}
	return r.ingest(entityID, value)
}

// seed applies the current value of every room entity.
func (r *Room) seed(ctx context.Context) {
	entities, err := r.listener.Refresh(ctx)
	if err != nil {
		log.Warn().Err(err).Str("room", r.name).Msg("Failed to read room entities")
		return
	}
	for _, e := range entities {
		if v, ok := registry.ParseValue(e.State); ok {
			r.route(ctx, e.EntityID, v)
		}
	}
}

// Dispatch validates a configuration entity value and stores it. Follow-up work runs
// from the store change notification.
func (r *Room) Dispatch(ctx context.Context, entityID string, value any) error {
	key := KeyOf(entityID, r.name)
	setting, ok := Settings[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnhandledKey, key)
	}

	v, err := setting.parse(value)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrConfigInvalid, key, err)
		log.Warn().Err(err).Str("room", r.name).Str("entity", entityID).Msg("Rejected configuration value")
		if nerr := host.Notify(ctx, r.host, "tentd "+r.name, err.Error()); nerr != nil {
			log.Debug().Err(nerr).Str("room", r.name).Msg("Notification not sent")
		}
		return err
	}

	if r.store.SetPath(setting.Path, v) {
		log.Info().Str("room", r.name).Str("key", key).Interface("value", v).Msg("Configuration updated")
	}
	return nil
}

func (r *Room) onChange(c store.Change) {
	h, ok := hooks[c.Path]
	if !ok {
		return
	}
	r.runHook(h)
}

func (r *Room) runHook(h Hook) {
	switch h {
	case HookStage:
		r.applyStage()
		r.devices.ReloadBounds()
		r.lights.Reload()
	case HookLimits:
		r.applyLimits()
	case HookTolerance:
		r.applyPerfection()
	case HookVPD:
		r.RecomputeVPD()
	case HookHydro:
		r.bus.Publish(mode.TopicHydroModeChange, "Config")
	case HookRetrieve:
		r.bus.Publish(mode.TopicRetrieveModeChange, "Config")
	case HookBounds:
		r.devices.ReloadBounds()
		r.lights.Reload()
	case HookPlantTime:
		r.bus.Publish(growplan.TopicPlantTimeChange, "Config")
	case HookDrying:
		r.store.SetPath("drying.mode_start_time", "")
	case HookLight:
		r.lights.Evaluate(r.baseCtx())
	}
}
