package action

import (
	"github.com/dokzlo13/tentd/internal/store"
)

// Profile describes what a device class does to the climate when running.
type Profile struct {
	Type       string // temperature, humidity or both
	Capability string
	Direction  string // increase or reduce
	SideEffect string
}

// Affects reports whether the profile's primary effect covers variable.
func (p Profile) Affects(variable string) bool {
	return p.Type == variable || p.Type == "both"
}

// Env is the slice of room state the planner reads.
type Env struct {
	Stage string

	Temp, Hum, Dew   float64
	MinTemp, MaxTemp float64
	MinHum, MaxHum   float64
	VPD, Perfection  float64

	LightOn    bool
	NightHold  bool
	VPDLight   bool
	Dampening  bool
	CO2Control bool
	OwnWeights bool

	WeightTemp, WeightHum float64

	CO2, CO2Min, CO2Max float64

	Caps      map[string]bool
	Profiles  []Profile
	Cooldowns map[string]float64
}

// Present reports whether capability is backed by a device.
func (e Env) Present(capability string) bool {
	return e.Caps[capability]
}

// ReadEnv collects the planner inputs from the store.
func ReadEnv(s *store.Store) Env {
	e := Env{
		Stage:      s.String("plantStage"),
		Temp:       s.Float("tentData.temperature"),
		Hum:        s.Float("tentData.humidity"),
		Dew:        s.Float("tentData.dewpoint"),
		MinTemp:    s.Float("tentData.minTemp"),
		MaxTemp:    s.Float("tentData.maxTemp"),
		MinHum:     s.Float("tentData.minHumidity"),
		MaxHum:     s.Float("tentData.maxHumidity"),
		VPD:        s.Float("vpd.current"),
		Perfection: s.Float("vpd.perfection"),
		LightOn:    s.Bool("isPlantDay.islightON"),
		NightHold:  s.Bool("controlOptions.nightVPDHold"),
		VPDLight:   s.Bool("controlOptions.vpdLightControl"),
		Dampening:  s.Bool("controlOptions.vpdDeviceDampening"),
		CO2Control: s.Bool("controlOptions.co2Control"),
		OwnWeights: s.Bool("controlOptions.ownWeights"),
		WeightTemp: s.Float("controlOptionData.weights.temp"),
		WeightHum:  s.Float("controlOptionData.weights.hum"),
		CO2:        s.Float("tentData.co2Level"),
		CO2Min:     s.Float("controlOptionData.co2ppm.minPPM"),
		CO2Max:     s.Float("controlOptionData.co2ppm.maxPPM"),
		Caps:       make(map[string]bool, len(store.Capabilities)),
		Cooldowns:  make(map[string]float64),
	}

	for _, c := range store.Capabilities {
		e.Caps[c] = s.Has(c)
	}

	for _, raw := range s.Map("DeviceProfiles") {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		p := Profile{}
		p.Type, _ = m["type"].(string)
		p.Capability, _ = m["cap"].(string)
		p.Direction, _ = m["direction"].(string)
		p.SideEffect, _ = m["sideEffect"].(string)
		if p.Capability != "" {
			e.Profiles = append(e.Profiles, p)
		}
	}
	sortProfiles(e.Profiles)

	for c, v := range s.Map("controlOptionData.cooldowns") {
		if f, ok := store.ToFloat(v); ok && f > 0 {
			e.Cooldowns[c] = f
		}
	}
	return e
}
