// Package action turns a VPD direction into per-capability device actions.
package action

import (
	"strings"

	"github.com/dokzlo13/tentd/internal/device"
)

// Directions requested by the mode manager.
const (
	IncreaseVPD = "increase_vpd"
	ReduceVPD   = "reduce_vpd"
	FineTuneVPD = "FineTune_vpd"
)

// TopicPlanEmitted carries every emitted Plan.
const TopicPlanEmitted = "ActionsEmitted"

// Priority orders competing actions.
type Priority int

const (
	Low Priority = iota
	Medium
	High
	Emergency
)

func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Emergency:
		return "emergency"
	}
	return "unknown"
}

// ParsePriority accepts low, medium, high and emergency.
func ParsePriority(s string) (Priority, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return Low, true
	case "medium", "":
		return Medium, true
	case "high":
		return High, true
	case "emergency":
		return Emergency, true
	}
	return Low, false
}

// Action is one command on a capability.
type Action struct {
	Capability string
	Action     string
	Priority   Priority
	Message    string
}

// Topic is the bus topic devices of the capability listen on.
func (a Action) Topic() string {
	return device.Topic(a.Action, a.Capability)
}

// Status classifies the room climate.
type Status string

const (
	CriticalHot  Status = "critical_hot"
	CriticalCold Status = "critical_cold"
	DewpointRisk Status = "dewpoint_risk"
	HumidityRisk Status = "humidity_risk"
	HotHumid     Status = "hot_humid"
	HotDry       Status = "hot_dry"
	ColdHumid    Status = "cold_humid"
	ColdDry      Status = "cold_dry"
	TooHot       Status = "too_hot"
	TooCold      Status = "too_cold"
	TooHumid     Status = "too_humid"
	TooDry       Status = "too_dry"
	VPDLow       Status = "vpd_low"
	VPDHigh      Status = "vpd_high"
	InRange      Status = "in_range"
)

// Plan is the outcome of one planning cycle.
type Plan struct {
	Room      string
	Direction string
	Status    Status
	NightHold bool
	Emergency bool
	TempDev   float64
	HumDev    float64
	Actions   []Action
	Blocked   []Action
}

// Has reports whether the plan contains action on capability.
func (p Plan) Has(capability, action string) bool {
	for _, a := range p.Actions {
		if a.Capability == capability && a.Action == action {
			return true
		}
	}
	return false
}

// Topics lists the emitted topics in order.
func (p Plan) Topics() []string {
	out := make([]string, 0, len(p.Actions))
	for _, a := range p.Actions {
		out = append(out, a.Topic())
	}
	return out
}
