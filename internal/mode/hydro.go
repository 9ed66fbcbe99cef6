package mode

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tentd/internal/device"
	"github.com/dokzlo13/tentd/internal/task"
)

// Hydro modes.
const (
	HydroOff      = "OFF"
	HydroCycle    = "Hydro"
	PlantWatering = "Plant-Watering"
)

// HydroModes lists the hydro modes.
var HydroModes = []string{HydroOff, HydroCycle, PlantWatering}

// CycleConfig is one pump cycle.
type CycleConfig struct {
	Cycle    bool
	On       time.Duration
	Interval time.Duration
}

// HydroChange re-reads the Hydro settings and replaces the running cycle.
func (m *Manager) HydroChange() {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	hydroMode := m.store.String("Hydro.Mode")
	cfg := CycleConfig{
		Cycle:    m.store.Bool("Hydro.Cycle"),
		On:       time.Duration(m.store.Float("Hydro.Duration") * float64(time.Second)),
		Interval: time.Duration(m.store.Float("Hydro.Intervall") * float64(time.Minute)),
	}

	var pumps []*device.Device
	switch hydroMode {
	case HydroCycle:
		pumps = m.devices.ByType(device.HydroPumps...)
	case PlantWatering:
		pumps = m.devices.ByType(device.WaterPump)
	default:
		m.hydro.Stop()
		m.switchPumps(m.devices.ByType(device.HydroPumps...), false)
		m.store.SetPath("Hydro.Active", false)
		log.Info().Str("room", m.room).Msg("Hydro off")
		return
	}

	m.store.SetPath("Hydro.Active", true)
	m.run(&m.hydro, "hydro", pumps, cfg)
}

// RetrieveChange re-reads the retrieve settings and replaces the running cycle.
func (m *Manager) RetrieveChange() {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	cfg := CycleConfig{
		Cycle:    true,
		On:       time.Duration(m.store.Float("Hydro.R_Duration") * float64(time.Second)),
		Interval: time.Duration(m.store.Float("Hydro.R_Intervall") * float64(time.Minute)),
	}
	pumps := m.devices.ByType(device.RetrievePump)

	if !m.store.Bool("Hydro.Retrieve") {
		m.retrieve.Stop()
		m.switchPumps(pumps, false)
		m.store.SetPath("Hydro.R_Active", false)
		log.Info().Str("room", m.room).Msg("Retrieve off")
		return
	}

	m.store.SetPath("Hydro.R_Active", true)
	m.run(&m.retrieve, "retrieve", pumps, cfg)
}

func (m *Manager) run(slot *task.Slot, name string, pumps []*device.Device, cfg CycleConfig) {
	if len(pumps) == 0 {
		slot.Stop()
		log.Debug().Str("room", m.room).Str("cycle", name).Msg("No pumps for cycle")
		return
	}
	if !cfg.Cycle || cfg.On <= 0 || cfg.Interval <= 0 {
		slot.Stop()
		m.switchPumps(pumps, true)
		log.Info().Str("room", m.room).Str("cycle", name).Int("pumps", len(pumps)).Msg("Pumps on permanently")
		return
	}

	log.Info().Str("room", m.room).Str("cycle", name).Dur("on", cfg.On).Dur("interval", cfg.Interval).Int("pumps", len(pumps)).Msg("Pump cycle started")
	slot.Replace(m.ctx, func(ctx context.Context) {
		m.cycle(ctx, pumps, cfg)
	})
}

// cycle alternates pumps on and off until ctx is cancelled, then leaves them off.
func (m *Manager) cycle(ctx context.Context, pumps []*device.Device, cfg CycleConfig) {
	defer m.switchPumps(pumps, false)
	for {
		m.switchPumps(pumps, true)
		if task.Sleep(ctx, m.after, cfg.On) != nil {
			return
		}
		m.switchPumps(pumps, false)
		if task.Sleep(ctx, m.after, cfg.Interval) != nil {
			return
		}
	}
}

func (m *Manager) switchPumps(pumps []*device.Device, on bool) {
	for _, p := range pumps {
		m.bus.Publish(device.TopicPumpAction, device.PumpAction{Device: p.Name, Type: p.Type, On: on})
	}
}

// Cycling reports whether the hydro and retrieve cycles are running.
func (m *Manager) Cycling() (hydro, retrieve bool) {
	return m.hydro.Running(), m.retrieve.Running()
}
