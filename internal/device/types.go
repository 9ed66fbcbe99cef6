package device

import (
	"strings"

	"github.com/dokzlo13/tentd/internal/store"
)

// Type is the class of a device.
type Type string

const (
	Exhaust      Type = "exhaust"
	Intake       Type = "intake"
	Ventilation  Type = "ventilation"
	Humidifier   Type = "humidifier"
	Dehumidifier Type = "dehumidifier"
	Heater       Type = "heater"
	Cooler       Type = "cooler"
	Climate      Type = "climate"
	CO2          Type = "co2"
	Light        Type = "light"
	Sensor       Type = "sensor"

	WaterPump    Type = "waterpump"
	MistPump     Type = "mistpump"
	AeroPump     Type = "aeropump"
	DWCPump      Type = "dwcpump"
	RDWCPump     Type = "rdwcpump"
	ClonerPump   Type = "clonerpump"
	RetrievePump Type = "retrievepump"

	FeedPumpA      Type = "feedpumpa"
	FeedPumpB      Type = "feedpumpb"
	FeedPumpC      Type = "feedpumpc"
	FeedPumpW      Type = "feedpumpw"
	FeedPumpX      Type = "feedpumpx"
	FeedPumpY      Type = "feedpumpy"
	FeedPumpPHUp   Type = "feedpumpphup"
	FeedPumpPHDown Type = "feedpumpphdown"
)

// HydroPumps are cycled by hydro mode.
var HydroPumps = []Type{MistPump, WaterPump, AeroPump, DWCPump, RDWCPump, ClonerPump}

// FeedPumps are driven by the feed manager.
var FeedPumps = []Type{FeedPumpA, FeedPumpB, FeedPumpC, FeedPumpW, FeedPumpX, FeedPumpY, FeedPumpPHUp, FeedPumpPHDown}

// classification keywords, checked in order so longer names win.
var keywords = []struct {
	word string
	typ  Type
}{
	{"sensor", Sensor},
	{"retrievepump", RetrievePump},
	{"feedpumpphdown", FeedPumpPHDown},
	{"feedpumpphup", FeedPumpPHUp},
	{"feedpumpa", FeedPumpA},
	{"feedpumpb", FeedPumpB},
	{"feedpumpc", FeedPumpC},
	{"feedpumpw", FeedPumpW},
	{"feedpumpx", FeedPumpX},
	{"feedpumpy", FeedPumpY},
	{"rdwcpump", RDWCPump},
	{"dwcpump", DWCPump},
	{"clonerpump", ClonerPump},
	{"aeropump", AeroPump},
	{"mistpump", MistPump},
	{"waterpump", WaterPump},
	{"dehumidifier", Dehumidifier},
	{"humidifier", Humidifier},
	{"exhaust", Exhaust},
	{"intake", Intake},
	{"ventilation", Ventilation},
	{"vent", Ventilation},
	{"heater", Heater},
	{"cooler", Cooler},
	{"climate", Climate},
	{"co2", CO2},
	{"light", Light},
}

// Classify maps a device name to its type by keyword. Unknown names report false.
func Classify(name string) (Type, bool) {
	n := strings.ToLower(name)
	for _, k := range keywords {
		if strings.Contains(n, k.word) {
			return k.typ, true
		}
	}
	return "", false
}

// IsPump reports whether t is any kind of pump.
func (t Type) IsPump() bool {
	return strings.HasSuffix(string(t), "pump") || strings.HasPrefix(string(t), "feedpump")
}

// IsHydroPump reports whether t is cycled by hydro mode.
func (t Type) IsHydroPump() bool {
	for _, h := range HydroPumps {
		if t == h {
			return true
		}
	}
	return false
}

// Capability returns the capability a device of type t provides.
func (t Type) Capability() string {
	switch t {
	case Exhaust:
		return store.CapExhaust
	case Intake:
		return store.CapIntake
	case Ventilation:
		return store.CapVentilate
	case Humidifier:
		return store.CapHumidify
	case Dehumidifier:
		return store.CapDehumidify
	case Heater:
		return store.CapHeat
	case Cooler:
		return store.CapCool
	case Climate:
		return store.CapClimate
	case CO2:
		return store.CapCO2
	case Light:
		return store.CapLight
	}
	if t.IsPump() {
		return store.CapPump
	}
	return ""
}

// labels are the names used in action topics and DeviceMinMax / DeviceProfiles keys.
var labels = map[string]string{
	store.CapExhaust:    "Exhaust",
	store.CapIntake:     "Intake",
	store.CapVentilate:  "Ventilation",
	store.CapHumidify:   "Humidifier",
	store.CapDehumidify: "Dehumidifier",
	store.CapHeat:       "Heater",
	store.CapCool:       "Cooler",
	store.CapClimate:    "Climate",
	store.CapCO2:        "CO2",
	store.CapLight:      "Light",
	store.CapPump:       "Pump",
}

// Label returns the display label of a capability.
func Label(capability string) string {
	return labels[capability]
}

// CapabilityForLabel is the inverse of Label.
func CapabilityForLabel(label string) (string, bool) {
	for c, l := range labels {
		if strings.EqualFold(l, label) {
			return c, true
		}
	}
	return "", false
}

// Action verbs used in capability topics.
const (
	Increase = "Increase"
	Reduce   = "Reduce"
	Eval     = "Eval"
)

// Topic returns the bus topic for an action on a capability, e.g. "Increase Exhaust".
func Topic(action, capability string) string {
	return action + " " + Label(capability)
}

// Bus topics devices listen on besides capability topics.
const (
	TopicPumpAction = "PumpAction"
)

// PumpAction switches pumps. An empty Device targets every pump of Type.
type PumpAction struct {
	Device string
	Type   Type
	On     bool
}

// DecideClimateMode picks an HVAC mode for an action: increase prefers dry then
// heat, reduce selects cool. An empty result means no mode applies.
func DecideClimateMode(action string, supported map[string]bool) string {
	switch action {
	case Increase:
		if supported["dry"] {
			return "dry"
		}
		if supported["heat"] {
			return "heat"
		}
	case Reduce:
		if supported["cool"] {
			return "cool"
		}
	}
	return ""
}
