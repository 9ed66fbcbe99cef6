// Package telemetry exports room climate to Prometheus and InfluxDB.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dokzlo13/tentd/internal/action"
	"github.com/dokzlo13/tentd/internal/eventbus"
	"github.com/dokzlo13/tentd/internal/store"
)

// Metrics holds the Prometheus collectors shared by all rooms.
type Metrics struct {
	vpd          *prometheus.GaugeVec
	temperature  *prometheus.GaugeVec
	humidity     *prometheus.GaugeVec
	co2          *prometheus.GaugeVec
	capabilities *prometheus.GaugeVec
	actions      *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		vpd: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tent_vpd_kpa",
				Help: "Current vapor pressure deficit in kPa.",
			},
			[]string{"room"},
		),
		temperature: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tent_temperature_celsius",
				Help: "Average room temperature in degree celsius.",
			},
			[]string{"room"},
		),
		humidity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tent_humidity_percent",
				Help: "Average room humidity in percent.",
			},
			[]string{"room"},
		),
		co2: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tent_co2_ppm",
				Help: "Room CO2 level in ppm.",
			},
			[]string{"room"},
		),
		capabilities: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tent_capability_devices",
				Help: "Number of devices providing a capability.",
			},
			[]string{"room", "capability"},
		),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tent_actions_total",
				Help: "Actions emitted per capability and verb.",
			},
			[]string{"room", "capability", "action"},
		),
	}
	reg.MustRegister(m.vpd)
	reg.MustRegister(m.temperature)
	reg.MustRegister(m.humidity)
	reg.MustRegister(m.co2)
	reg.MustRegister(m.capabilities)
	reg.MustRegister(m.actions)
	return m
}

// Observe sets the gauges from a grow-data snapshot.
func (m *Metrics) Observe(g store.GrowData) {
	m.vpd.WithLabelValues(g.Room).Set(g.VPD)
	m.temperature.WithLabelValues(g.Room).Set(g.Temperature)
	m.humidity.WithLabelValues(g.Room).Set(g.Humidity)
	m.co2.WithLabelValues(g.Room).Set(g.CO2)
	for _, c := range g.CapabilityNames() {
		m.capabilities.WithLabelValues(g.Room, c).Set(float64(g.Capabilities[c]))
	}
}

// CountPlan increments the action counter for every action of p.
func (m *Metrics) CountPlan(room string, p action.Plan) {
	for _, a := range p.Actions {
		m.actions.WithLabelValues(room, a.Capability, a.Action).Inc()
	}
}

// Watch feeds the collectors from a room bus. It returns the unsubscribe func.
func (m *Metrics) Watch(room string, bus *eventbus.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(store.TopicVPDCreation, func(ev eventbus.Event) {
			if g, ok := ev.Payload.(store.GrowData); ok {
				m.Observe(g)
			}
		}),
		bus.Subscribe(action.TopicPlanEmitted, func(ev eventbus.Event) {
			if p, ok := ev.Payload.(action.Plan); ok {
				m.CountPlan(room, p)
			}
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
