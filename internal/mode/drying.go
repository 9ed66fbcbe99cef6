package mode

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tentd/internal/action"
	"github.com/dokzlo13/tentd/internal/device"
	"github.com/dokzlo13/tentd/internal/sensor"
	"github.com/dokzlo13/tentd/internal/store"
)

// Drying programs.
const (
	ElClassico = "ElClassico"
	FiveDayDry = "5DayDry"
	DewBased   = "DewBased"
)

// DryingModes lists the drying programs.
var DryingModes = []string{ElClassico, FiveDayDry, DewBased}

// Drying phases in order.
const (
	PhaseStart    = "start"
	PhaseHalfTime = "halfTime"
	PhaseEnd      = "endTime"
)

// PhaseTarget is one row of a drying program.
type PhaseTarget struct {
	TargetTemp     float64
	TargetHumidity float64
	TargetVPD      float64
	TargetDewPoint float64
	Duration       time.Duration
}

// Phase picks the active phase for elapsed time. It stays on endTime once the
// program is over.
func Phase(elapsed time.Duration, phases map[string]PhaseTarget) string {
	start := phases[PhaseStart].Duration
	half := phases[PhaseHalfTime].Duration
	switch {
	case elapsed <= start:
		return PhaseStart
	case elapsed <= start+half:
		return PhaseHalfTime
	}
	return PhaseEnd
}

func (m *Manager) phaseTable(program string) map[string]PhaseTarget {
	out := make(map[string]PhaseTarget, 3)
	for _, name := range []string{PhaseStart, PhaseHalfTime, PhaseEnd} {
		base := "drying.modes." + program + "." + name + "."
		out[name] = PhaseTarget{
			TargetTemp:     m.store.Float(base + "targetTemp"),
			TargetHumidity: m.store.Float(base + "targetHumidity"),
			TargetVPD:      m.store.Float(base + "targetVPD"),
			TargetDewPoint: m.store.Float(base + "targetDewPoint"),
			Duration:       time.Duration(m.store.Float(base+"durationHours") * float64(time.Hour)),
		}
	}
	return out
}

// startTime returns the drying start, stamping now when none is recorded.
func (m *Manager) startTime() time.Time {
	now := m.now()
	if raw := m.store.String("drying.mode_start_time"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t
		}
	}
	m.store.SetPath("drying.mode_start_time", now.Format(time.RFC3339))
	return now
}

func (m *Manager) dry(d Decision) Decision {
	program := m.store.String("drying.currentDryMode")
	table := m.phaseTable(program)
	d.Phase = Phase(m.now().Sub(m.startTime()), table)
	target := table[d.Phase]

	temp := m.store.Float("tentData.temperature")
	hum := m.store.Float("tentData.humidity")

	var actions []action.Action
	switch program {
	case ElClassico:
		actions = ElClassicoActions(temp, hum, target)
	case FiveDayDry:
		dir := FiveDayDryDirection(hum, target)
		if dir != "" {
			d.Direction = dir
			actions = action.Base(dir, action.ReadEnv(m.store))
		}
	case DewBased:
		actions = DewBasedActions(temp, hum, m.store.Float("tentData.dewpoint"), target)
	default:
		log.Warn().Str("room", m.room).Str("program", program).Msg("Unknown drying mode")
		return d
	}

	actions = m.present(actions)
	log.Debug().Str("room", m.room).Str("program", program).Str("phase", d.Phase).Int("actions", len(actions)).Msg("Drying evaluated")
	if len(actions) > 0 {
		plan := m.actions.EmitDirect("drying:"+program, actions)
		d.Actions = len(plan.Actions)
	}
	return d
}

func (m *Manager) present(actions []action.Action) []action.Action {
	out := actions[:0]
	for _, a := range actions {
		if m.store.Has(a.Capability) {
			out = append(out, a)
		}
	}
	return out
}

func drying(capability, act, msg string) action.Action {
	return action.Action{Capability: capability, Action: act, Priority: action.Medium, Message: msg}
}

// ElClassicoActions holds temperature within ±1 °C first, then humidity within ±2 %.
func ElClassicoActions(temp, hum float64, target PhaseTarget) []action.Action {
	switch {
	case temp > target.TargetTemp+1:
		return []action.Action{
			drying(store.CapExhaust, device.Increase, "Drying too warm"),
			drying(store.CapVentilate, device.Increase, "Drying too warm"),
			drying(store.CapHeat, device.Reduce, "Drying too warm"),
			drying(store.CapCool, device.Increase, "Drying too warm"),
		}
	case temp < target.TargetTemp-1:
		return []action.Action{
			drying(store.CapExhaust, device.Reduce, "Drying too cold"),
			drying(store.CapHeat, device.Increase, "Drying too cold"),
			drying(store.CapCool, device.Reduce, "Drying too cold"),
		}
	case hum > target.TargetHumidity+2:
		return []action.Action{
			drying(store.CapDehumidify, device.Increase, "Drying too humid"),
			drying(store.CapExhaust, device.Increase, "Drying too humid"),
			drying(store.CapHumidify, device.Reduce, "Drying too humid"),
		}
	case hum < target.TargetHumidity-2:
		return []action.Action{
			drying(store.CapHumidify, device.Increase, "Drying too dry"),
			drying(store.CapDehumidify, device.Reduce, "Drying too dry"),
			drying(store.CapExhaust, device.Reduce, "Drying too dry"),
		}
	}
	return nil
}

// FiveDayDryDirection compares the classic VPD at the phase temperature with
// the phase target ±3 %.
func FiveDayDryDirection(hum float64, target PhaseTarget) string {
	vpd := sensor.ClassicVPD(target.TargetTemp, hum)
	switch {
	case vpd < target.TargetVPD*0.97:
		return action.IncreaseVPD
	case vpd > target.TargetVPD*1.03:
		return action.ReduceVPD
	}
	return ""
}

// DewBasedActions steers the dew-point VPD toward the phase target. It acts when
// the dew point is more than 0.5 °C off target or the actual vapor pressure leaves
// 90–110 % of the target's, in the direction the dew-point VPD deviates.
func DewBasedActions(temp, hum, dew float64, target PhaseTarget) []action.Action {
	targetTemp := target.TargetTemp
	if targetTemp == 0 {
		targetTemp = temp
	}
	deviation := sensor.DewVPD(temp, dew) - sensor.DewVPD(targetTemp, target.TargetDewPoint)

	wantVP := sensor.SaturationVP(target.TargetDewPoint)
	ratio := 1.0
	if wantVP > 0 {
		ratio = sensor.ActualVP(temp, hum) / wantVP
	}
	off := math.Abs(dew-target.TargetDewPoint) > 0.5 || ratio > 1.1 || ratio < 0.9

	switch {
	case off && deviation < 0:
		return []action.Action{
			drying(store.CapDehumidify, device.Increase, "Dewpoint VPD below target"),
			drying(store.CapExhaust, device.Increase, "Dewpoint VPD below target"),
			drying(store.CapVentilate, device.Increase, "Dewpoint VPD below target"),
			drying(store.CapHumidify, device.Reduce, "Dewpoint VPD below target"),
		}
	case off && deviation > 0:
		return []action.Action{
			drying(store.CapHumidify, device.Increase, "Dewpoint VPD above target"),
			drying(store.CapDehumidify, device.Reduce, "Dewpoint VPD above target"),
			drying(store.CapExhaust, device.Reduce, "Dewpoint VPD above target"),
		}
	}
	return nil
}
