// Package mode dispatches the room's tent mode to a control strategy and runs
// the hydro and retrieve pump cycles.
package mode

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tentd/internal/action"
	"github.com/dokzlo13/tentd/internal/device"
	"github.com/dokzlo13/tentd/internal/devicemgr"
	"github.com/dokzlo13/tentd/internal/eventbus"
	"github.com/dokzlo13/tentd/internal/store"
	"github.com/dokzlo13/tentd/internal/task"
)

// Tent modes.
const (
	VPDPerfection = "VPD Perfection"
	TargetedVPD   = "Targeted VPD"
	Drying        = "Drying"
	MCPControl    = "MCP-Control"
	PIDControl    = "PID-Control"
	AIControl     = "AI-Control"
	OGBControl    = "OGB-Control"
	Disabled      = "Disabled"
)

// Modes lists every tent mode.
var Modes = []string{VPDPerfection, TargetedVPD, Drying, MCPControl, PIDControl, AIControl, OGBControl, Disabled}

// IsPremium reports whether mode is driven by the premium planner.
func IsPremium(mode string) bool {
	switch mode {
	case MCPControl, PIDControl, AIControl, OGBControl:
		return true
	}
	return false
}

// ControllerType maps a premium mode to its controller type (PID, MCP, AI, OGB).
func ControllerType(mode string) string {
	switch mode {
	case MCPControl:
		return "MCP"
	case PIDControl:
		return "PID"
	case AIControl:
		return "AI"
	case OGBControl:
		return "OGB"
	}
	return ""
}

// Bus topics.
const (
	TopicHydroModeChange    = "HydroModeChange"
	TopicRetrieveModeChange = "HydroModeRetrieveChange"
	TopicPremiumRequest     = "PremiumRequest"
)

// PremiumRequest asks the premium planner for an action batch.
type PremiumRequest struct {
	Room           string
	ControllerType string
}

// Decision records what one SelectAction call did.
type Decision struct {
	Mode      string
	Direction string
	Phase     string
	Actions   int
}

// Devices enumerates the room's devices. *devicemgr.Manager implements it.
type Devices interface {
	ByType(types ...device.Type) []*device.Device
}

// Manager owns the per-room mode logic.
type Manager struct {
	room    string
	store   *store.Store
	bus     *eventbus.Bus
	actions *action.Manager
	devices Devices
	now     func() time.Time
	after   task.After

	ctx      context.Context
	cycleMu  sync.Mutex
	hydro    task.Slot
	retrieve task.Slot

	mu     sync.Mutex
	unsubs []func()
}

// New creates a mode manager.
func New(room string, s *store.Store, bus *eventbus.Bus, actions *action.Manager, devices Devices) *Manager {
	return &Manager{
		room:    room,
		store:   s,
		bus:     bus,
		actions: actions,
		devices: devices,
		now:     time.Now,
		after:   time.After,
		ctx:     context.Background(),
	}
}

// SetClock overrides the wall clock and timer.
func (m *Manager) SetClock(now func() time.Time, after task.After) {
	if now != nil {
		m.now = now
	}
	if after != nil {
		m.after = after
	}
}

// Start subscribes to hydro configuration and device events. Cycle tasks are bound
// to ctx.
func (m *Manager) Start(ctx context.Context) {
	m.ctx = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubs = append(m.unsubs,
		m.bus.Subscribe(TopicHydroModeChange, func(eventbus.Event) { m.HydroChange() }),
		m.bus.Subscribe(TopicRetrieveModeChange, func(eventbus.Event) { m.RetrieveChange() }),
		m.bus.SubscribeSync(devicemgr.TopicDevicesChanged, m.onDevicesChanged),
	)
}

// onDevicesChanged restarts the active cycles whose pump set changed.
func (m *Manager) onDevicesChanged(ev eventbus.Event) {
	dc, ok := ev.Payload.(devicemgr.DevicesChanged)
	if !ok {
		return
	}
	var hydro, retrieve bool
	for _, list := range [][]*device.Device{dc.Added, dc.Removed} {
		for _, d := range list {
			hydro = hydro || d.Type.IsHydroPump()
			retrieve = retrieve || d.Type == device.RetrievePump
		}
	}

	switch m.store.String("Hydro.Mode") {
	case HydroCycle, PlantWatering:
		if hydro {
			log.Info().Str("room", m.room).Msg("Hydro pumps changed, restarting cycle")
			m.HydroChange()
		}
	}
	if retrieve && m.store.Bool("Hydro.Retrieve") {
		log.Info().Str("room", m.room).Msg("Retrieve pumps changed, restarting cycle")
		m.RetrieveChange()
	}
}

// Stop unsubscribes and stops the pump cycles, leaving pumps off.
func (m *Manager) Stop() {
	m.mu.Lock()
	unsubs := m.unsubs
	m.unsubs = nil
	m.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
	m.hydro.Stop()
	m.retrieve.Stop()
}

// SelectAction runs the strategy of the current tent mode.
func (m *Manager) SelectAction() Decision {
	mode := m.store.String("tentMode")
	d := Decision{Mode: mode}

	switch mode {
	case VPDPerfection:
		d.Direction = PerfectionDirection(
			m.store.Float("vpd.current"),
			m.store.Float("vpd.perfection"),
			m.store.Float("vpd.perfectMin"),
			m.store.Float("vpd.perfectMax"),
		)
	case TargetedVPD:
		d.Direction = TargetDirection(
			m.store.Float("vpd.current"),
			m.store.Float("vpd.targeted"),
			m.store.Float("vpd.tolerance"),
		)
	case Drying:
		return m.dry(d)
	case MCPControl, PIDControl, AIControl, OGBControl:
		m.bus.Publish(TopicPremiumRequest, PremiumRequest{Room: m.room, ControllerType: ControllerType(mode)})
		return d
	case Disabled:
		return d
	default:
		log.Warn().Str("room", m.room).Str("mode", mode).Msg("Unknown tent mode")
		return d
	}

	if d.Direction != "" {
		plan := m.actions.Handle(d.Direction)
		d.Actions = len(plan.Actions)
	}
	log.Debug().Str("room", m.room).Str("mode", mode).Str("direction", d.Direction).Msg("Mode evaluated")
	return d
}

// PerfectionDirection compares current VPD against the perfection band. An
// empty result means current equals perfection.
func PerfectionDirection(current, perfection, perfectMin, perfectMax float64) string {
	switch {
	case current < perfectMin:
		return action.IncreaseVPD
	case current > perfectMax:
		return action.ReduceVPD
	case current != perfection:
		return action.FineTuneVPD
	}
	return ""
}

// TargetDirection is PerfectionDirection around targeted ± tolerance percent.
func TargetDirection(current, targeted, tolerance float64) string {
	delta := targeted * tolerance / 100
	return PerfectionDirection(current, targeted, targeted-delta, targeted+delta)
}
