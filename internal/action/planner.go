package action

import (
	"fmt"
	"sort"

	"github.com/dokzlo13/tentd/internal/device"
	"github.com/dokzlo13/tentd/internal/store"
)

// Temperature buffers around the band edges inside which heater and cooler
// are not started.
const (
	HeaterBuffer = 2.0
	CoolerBuffer = 2.0
)

// Emergency thresholds.
const (
	dewMargin        = 0.5
	criticalHumidity = 85.0
)

type baseEntry struct {
	capability string
	action     string
}

// increaseTable is the natural action per capability for increase_vpd.
// reduce_vpd mirrors it.
var increaseTable = []baseEntry{
	{store.CapExhaust, device.Increase},
	{store.CapIntake, device.Reduce},
	{store.CapVentilate, device.Increase},
	{store.CapHumidify, device.Reduce},
	{store.CapDehumidify, device.Increase},
	{store.CapHeat, device.Increase},
	{store.CapCool, device.Reduce},
	{store.CapClimate, device.Eval},
	{store.CapCO2, device.Increase},
	{store.CapLight, device.Increase},
}

var nightHoldCaps = []string{
	store.CapHeat, store.CapCool, store.CapHumidify,
	store.CapClimate, store.CapDehumidify, store.CapCO2,
}

var heavyHumidityStages = map[string]bool{"MidFlower": true, "LateFlower": true}

// Build computes the plan for direction without side effects. Cooldowns are
// applied by the Manager.
func Build(direction string, env Env) Plan {
	dir := ResolveDirection(direction, env)
	p := Plan{Direction: dir}

	if !env.LightOn && !env.NightHold {
		p.NightHold = true
		for _, c := range nightHoldCaps {
			p.Actions = append(p.Actions, Action{Capability: c, Action: device.Reduce, Priority: Medium, Message: "Night hold off"})
		}
		return p
	}

	actions := baseActions(dir, env)

	p.TempDev, p.HumDev = Deviations(env)
	p.Status = Classify(p.TempDev, p.HumDev, env)

	actions = append(actions, preferred(p.Status, env)...)
	actions = applyBuffers(actions, env)

	if forced := emergencyActions(env); len(forced) > 0 {
		p.Emergency = true
		actions = append(actions, forced...)
	}
	actions = append(actions, co2Actions(env)...)

	p.Actions = Resolve(actions)
	return p
}

// ResolveDirection maps FineTune_vpd onto increase or reduce by the sign of
// perfection − current.
func ResolveDirection(direction string, env Env) string {
	if direction != FineTuneVPD {
		return direction
	}
	if env.Perfection > env.VPD {
		return IncreaseVPD
	}
	return ReduceVPD
}

// Base returns only the natural action set for dir, without status, buffer,
// emergency or CO₂ handling.
func Base(dir string, env Env) []Action {
	return baseActions(dir, env)
}

func baseActions(dir string, env Env) []Action {
	var out []Action
	for _, e := range increaseTable {
		if !env.Present(e.capability) {
			continue
		}
		if e.capability == store.CapLight && !env.VPDLight {
			continue
		}
		act := e.action
		switch {
		case act == device.Eval:
			act = device.Increase
			if dir == ReduceVPD {
				act = device.Reduce
			}
		case dir == ReduceVPD:
			act = mirror(act)
		}
		out = append(out, Action{Capability: e.capability, Action: act, Priority: Medium, Message: "VPD " + dir})
	}
	return out
}

func mirror(action string) string {
	if action == device.Increase {
		return device.Reduce
	}
	return device.Increase
}

// Weights returns the temperature and humidity weights for env.
func Weights(env Env) (wt, wh float64) {
	if env.OwnWeights {
		wt, wh = env.WeightTemp, env.WeightHum
		if wt <= 0 {
			wt = 1
		}
		if wh <= 0 {
			wh = 1
		}
		return wt, wh
	}
	wt, wh = 1, 1
	if heavyHumidityStages[env.Stage] {
		wh = 1.25
	}
	return wt, wh
}

// Deviations returns the weighted distance of temperature and humidity outside
// their bands, 0 inside.
func Deviations(env Env) (tdev, hdev float64) {
	wt, wh := Weights(env)
	switch {
	case env.Temp > env.MaxTemp:
		tdev = (env.Temp - env.MaxTemp) * wt
	case env.Temp < env.MinTemp:
		tdev = (env.Temp - env.MinTemp) * wt
	}
	switch {
	case env.Hum > env.MaxHum:
		hdev = (env.Hum - env.MaxHum) * wh
	case env.Hum < env.MinHum:
		hdev = (env.Hum - env.MinHum) * wh
	}
	return tdev, hdev
}

// Classify derives the climate status. Checks run in a fixed order and the
// first match wins.
func Classify(tdev, hdev float64, env Env) Status {
	switch {
	case env.Temp > env.MaxTemp:
		return CriticalHot
	case env.Temp < env.MinTemp:
		return CriticalCold
	case env.Dew >= env.Temp:
		return DewpointRisk
	case env.Hum > env.MaxHum:
		return HumidityRisk
	}

	switch {
	case tdev > 0 && hdev > 0:
		return HotHumid
	case tdev > 0 && hdev < 0:
		return HotDry
	case tdev < 0 && hdev > 0:
		return ColdHumid
	case tdev < 0 && hdev < 0:
		return ColdDry
	case tdev > 0:
		return TooHot
	case tdev < 0:
		return TooCold
	case hdev > 0:
		return TooHumid
	case hdev < 0:
		return TooDry
	}

	switch {
	case env.VPD < env.Perfection:
		return VPDLow
	case env.VPD > env.Perfection:
		return VPDHigh
	}
	return InRange
}

type need struct {
	variable  string
	direction string
}

var statusNeeds = map[Status][]need{
	CriticalHot:  {{"temperature", "reduce"}},
	TooHot:       {{"temperature", "reduce"}},
	CriticalCold: {{"temperature", "increase"}},
	TooCold:      {{"temperature", "increase"}},
	DewpointRisk: {{"humidity", "reduce"}},
	HumidityRisk: {{"humidity", "reduce"}},
	TooHumid:     {{"humidity", "reduce"}},
	TooDry:       {{"humidity", "increase"}},
	HotHumid:     {{"temperature", "reduce"}, {"humidity", "reduce"}},
	HotDry:       {{"temperature", "reduce"}, {"humidity", "increase"}},
	ColdHumid:    {{"temperature", "increase"}, {"humidity", "reduce"}},
	ColdDry:      {{"temperature", "increase"}, {"humidity", "increase"}},
	VPDLow:       {{"temperature", "increase"}, {"humidity", "reduce"}},
	VPDHigh:      {{"temperature", "reduce"}, {"humidity", "increase"}},
}

// preferred starts the devices whose profile moves the room the way status needs.
func preferred(status Status, env Env) []Action {
	var out []Action
	seen := make(map[string]bool)
	for _, n := range statusNeeds[status] {
		for _, p := range env.Profiles {
			// Climate picks its HVAC mode from the base direction.
			if p.Capability == store.CapClimate || seen[p.Capability] {
				continue
			}
			if !p.Affects(n.variable) || p.Direction != n.direction {
				continue
			}
			if !env.Present(p.Capability) {
				continue
			}
			if p.Capability == store.CapLight && !env.VPDLight {
				continue
			}
			seen[p.Capability] = true
			out = append(out, Action{
				Capability: p.Capability,
				Action:     device.Increase,
				Priority:   High,
				Message:    fmt.Sprintf("Status %s: %s %s", status, n.direction, n.variable),
			})
		}
	}
	return out
}

// applyBuffers keeps heater and cooler off near the opposite band edge and
// schedules replacements instead.
func applyBuffers(actions []Action, env Env) []Action {
	out := make([]Action, 0, len(actions))
	var extra []Action
	heatBlocked, coolBlocked := false, false

	for _, a := range actions {
		switch {
		case a.Capability == store.CapHeat && a.Action == device.Increase && !(env.Temp < env.MaxTemp-HeaterBuffer):
			heatBlocked = true
			continue
		case a.Capability == store.CapCool && a.Action == device.Increase && !(env.Temp > env.MinTemp+CoolerBuffer):
			coolBlocked = true
			continue
		}
		out = append(out, a)
	}

	if heatBlocked {
		msg := fmt.Sprintf("Heater buffer zone %.1f°C", env.Temp)
		extra = append(extra,
			Action{Capability: store.CapExhaust, Action: device.Increase, Priority: Medium, Message: msg},
			Action{Capability: store.CapVentilate, Action: device.Increase, Priority: Medium, Message: msg},
			Action{Capability: store.CapLight, Action: device.Reduce, Priority: Medium, Message: msg},
			Action{Capability: store.CapHeat, Action: device.Reduce, Priority: High, Message: msg},
		)
	}
	if coolBlocked {
		msg := fmt.Sprintf("Cooler buffer zone %.1f°C", env.Temp)
		extra = append(extra,
			Action{Capability: store.CapExhaust, Action: device.Reduce, Priority: Medium, Message: msg},
			Action{Capability: store.CapVentilate, Action: device.Reduce, Priority: Medium, Message: msg},
			Action{Capability: store.CapCool, Action: device.Reduce, Priority: High, Message: msg},
		)
	}
	for _, a := range extra {
		if a.Capability == store.CapLight && !env.VPDLight {
			continue
		}
		if env.Present(a.Capability) {
			out = append(out, a)
		}
	}
	return out
}

// emergencyActions returns the forced actions for out-of-envelope conditions.
func emergencyActions(env Env) []Action {
	var out []Action
	add := func(capability, act, msg string) {
		if env.Present(capability) {
			out = append(out, Action{Capability: capability, Action: act, Priority: Emergency, Message: msg})
		}
	}

	if env.Temp > env.MaxTemp {
		msg := fmt.Sprintf("Critical overheat %.1f°C > %.1f°C", env.Temp, env.MaxTemp)
		add(store.CapCool, device.Increase, msg)
		add(store.CapExhaust, device.Increase, msg)
		add(store.CapVentilate, device.Increase, msg)
		add(store.CapHeat, device.Reduce, msg)
		add(store.CapLight, device.Reduce, msg)
	}
	if env.Temp < env.MinTemp {
		msg := fmt.Sprintf("Critical cold %.1f°C < %.1f°C", env.Temp, env.MinTemp)
		add(store.CapHeat, device.Increase, msg)
		if env.VPDLight {
			add(store.CapLight, device.Increase, msg)
		}
		add(store.CapExhaust, device.Reduce, msg)
		add(store.CapCool, device.Reduce, msg)
	}
	if env.Dew >= env.Temp-dewMargin || env.Hum > criticalHumidity {
		msg := fmt.Sprintf("Dewpoint %.1f°C condensation risk at %.0f%%", env.Dew, env.Hum)
		add(store.CapDehumidify, device.Increase, msg)
		add(store.CapExhaust, device.Increase, msg)
		add(store.CapVentilate, device.Increase, msg)
	}
	return out
}

func co2Actions(env Env) []Action {
	if !env.CO2Control || !env.LightOn {
		return nil
	}
	var out []Action
	add := func(capability, act, msg string) {
		if env.Present(capability) {
			out = append(out, Action{Capability: capability, Action: act, Priority: Medium, Message: msg})
		}
	}
	switch {
	case env.CO2 < env.CO2Min:
		msg := fmt.Sprintf("CO₂ %.0fppm below %.0fppm", env.CO2, env.CO2Min)
		add(store.CapCO2, device.Increase, msg)
		add(store.CapExhaust, device.Reduce, msg)
	case env.CO2 > env.CO2Max:
		msg := fmt.Sprintf("CO₂ %.0fppm above %.0fppm", env.CO2, env.CO2Max)
		add(store.CapCO2, device.Reduce, msg)
		add(store.CapExhaust, device.Increase, msg)
	}
	return out
}

// criticalPriority lists, per critical condition, the capabilities tried in
// order when dampening blocked the whole plan.
var criticalPriority = map[Status][]string{
	CriticalHot:  {store.CapCool, store.CapExhaust, store.CapVentilate},
	CriticalCold: {store.CapHeat},
	DewpointRisk: {store.CapDehumidify, store.CapExhaust, store.CapVentilate},
	HumidityRisk: {store.CapDehumidify, store.CapExhaust},
}

// criticalFallback picks the single action to force through when every action
// was blocked under a critical status.
func criticalFallback(status Status, blocked []Action) (Action, bool) {
	for _, c := range criticalPriority[status] {
		for _, a := range blocked {
			if a.Capability == c {
				a.Priority = Emergency
				return a, true
			}
		}
	}
	return Action{}, false
}

func sortProfiles(p []Profile) {
	sort.Slice(p, func(i, j int) bool { return p[i].Capability < p[j].Capability })
}
