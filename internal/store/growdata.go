package store

import (
	"sort"
	"time"
)

// TopicVPDCreation is published with a GrowData payload every time the room VPD is
// recomputed.
const TopicVPDCreation = "VPDCreation"

// GrowData is a snapshot of the room climate sent to telemetry and the premium uplink.
type GrowData struct {
	Room         string         `json:"room"`
	Timestamp    time.Time      `json:"timestamp"`
	TentMode     string         `json:"tentMode"`
	PlantStage   string         `json:"plantStage"`
	VPD          float64        `json:"vpd"`
	Perfection   float64        `json:"perfection"`
	PerfectMin   float64        `json:"perfectMin"`
	PerfectMax   float64        `json:"perfectMax"`
	Targeted     float64        `json:"targeted"`
	Temperature  float64        `json:"temperature"`
	Humidity     float64        `json:"humidity"`
	Dewpoint     float64        `json:"dewpoint"`
	CO2          float64        `json:"co2"`
	LightOn      bool           `json:"lightOn"`
	Capabilities map[string]int `json:"capabilities"`
}

// GrowData reads the snapshot at t.
func (s *Store) GrowData(t time.Time) GrowData {
	caps := make(map[string]int, len(Capabilities))
	for _, c := range Capabilities {
		caps[c] = s.Int("capabilities." + c + ".count")
	}
	return GrowData{
		Room:         s.room,
		Timestamp:    t,
		TentMode:     s.String("tentMode"),
		PlantStage:   s.String("plantStage"),
		VPD:          s.Float("vpd.current"),
		Perfection:   s.Float("vpd.perfection"),
		PerfectMin:   s.Float("vpd.perfectMin"),
		PerfectMax:   s.Float("vpd.perfectMax"),
		Targeted:     s.Float("vpd.targeted"),
		Temperature:  s.Float("tentData.temperature"),
		Humidity:     s.Float("tentData.humidity"),
		Dewpoint:     s.Float("tentData.dewpoint"),
		CO2:          s.Float("tentData.co2Level"),
		LightOn:      s.Bool("isPlantDay.islightON"),
		Capabilities: caps,
	}
}

// CapabilityNames returns the capabilities of g in a stable order.
func (g GrowData) CapabilityNames() []string {
	out := make([]string, 0, len(g.Capabilities))
	for c := range g.Capabilities {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
