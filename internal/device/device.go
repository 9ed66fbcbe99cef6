// Package device gives heterogeneous host actuators one command contract.
package device

import (
	"context"
	"math"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tentd/internal/eventbus"
	"github.com/dokzlo13/tentd/internal/host"
	"github.com/dokzlo13/tentd/internal/sensor"
	"github.com/dokzlo13/tentd/internal/store"
)

var (
	switchDomains = map[string]bool{"switch": true, "light": true, "fan": true, "humidifier": true, "climate": true}
	optionDomains = map[string]bool{"select": true, "number": true, "text": true, "time": true, "date": true}
)

// classDefaults seed the level of dimmable devices without a reading.
var classDefaults = map[Type]float64{
	Exhaust:     50,
	Intake:      50,
	Ventilation: 85,
	Light:       20,
	Cooler:      50,
}

const defaultSteps = 5

// On carries optional turn-on levels. Zero means unset.
type On struct {
	BrightnessPct float64
	Percentage    float64
}

// Device is one actuator in a room, built from the host entities sharing its name.
type Device struct {
	Name         string
	Type         Type
	Room         string
	Dimmable     bool
	IsTasmota    bool
	IsAcInfinity bool
	Switches     []string
	Options      []string
	Sensors      []string

	host  host.Host
	store *store.Store

	mu          sync.Mutex
	level       float64
	minLevel    float64
	maxLevel    float64
	steps       float64
	climateMode map[string]bool
	unsubs      []func()
}

// New returns an uninitialised device.
func New(name string, typ Type, room string, h host.Host, s *store.Store) *Device {
	return &Device{
		Name:        name,
		Type:        typ,
		Room:        room,
		host:        h,
		store:       s,
		steps:       defaultSteps,
		minLevel:    0,
		maxLevel:    100,
		climateMode: map[string]bool{"heat": true, "cool": true, "dry": true},
	}
}

// Init classifies the device's entities and seeds its level.
func (d *Device) Init(entities []sensor.Reading) error {
	d.Switches, d.Options, d.Sensors = nil, nil, nil
	var levelReading *float64

	for _, e := range entities {
		domain := host.Domain(e.EntityID)
		switch {
		case switchDomains[domain]:
			d.Switches = append(d.Switches, e.EntityID)
		case optionDomains[domain]:
			d.Options = append(d.Options, e.EntityID)
		case domain == "sensor":
			d.Sensors = append(d.Sensors, e.EntityID)
			kind := sensor.Kind(e.EntityID)
			if kind == "duty" || kind == "voltage" {
				if f, ok := sensor.Numeric(e.Value); ok {
					v := f
					levelReading = &v
				}
			}
		}
	}

	if len(d.Switches) == 0 && d.firstOption("select") == "" {
		return ErrNoControlEntity
	}

	d.IsAcInfinity = len(d.Switches) == 0 && d.firstOption("select") != "" && d.firstOption("number") != ""
	d.IsTasmota = d.isFan() && d.firstSwitch("light") != ""
	d.Dimmable = d.detectDimmable(levelReading != nil)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.loadBoundsLocked()
	if !d.Dimmable {
		return nil
	}
	if levelReading != nil {
		d.level = *levelReading
	} else if def, ok := classDefaults[d.Type]; ok {
		d.level = def
	} else {
		d.level = d.minLevel
	}
	d.level = clamp(d.level, d.minLevel, d.maxLevel)
	return nil
}

func (d *Device) isFan() bool {
	return d.Type == Exhaust || d.Type == Intake || d.Type == Ventilation
}

func (d *Device) detectDimmable(hasLevelSensor bool) bool {
	switch {
	case d.Type == Climate, d.Type.IsPump(), d.Type == Heater, d.Type == CO2:
		return false
	case d.firstSwitch("fan") != "", d.firstSwitch("light") != "", d.firstOption("number") != "":
		return true
	}
	return hasLevelSensor
}

// loadBoundsLocked reads min/max for the class from DeviceMinMax. Inactive entries
// fall back to the class defaults.
func (d *Device) loadBoundsLocked() {
	if d.store == nil {
		return
	}
	label := Label(d.Type.Capability())
	base := "DeviceMinMax." + label
	if !d.store.Lookup(base) {
		return
	}
	minKey, maxKey := "minDuty", "maxDuty"
	if d.Type == Light {
		minKey, maxKey = "minVoltage", "maxVoltage"
	}
	lo, hi := d.store.Float(base+".default.min"), d.store.Float(base+".default.max")
	if d.store.Bool(base + ".active") {
		lo, hi = d.store.Float(base+"."+minKey), d.store.Float(base+"."+maxKey)
	}
	if hi > lo {
		d.minLevel, d.maxLevel = lo, hi
	}
}

// ReloadBounds re-reads DeviceMinMax and clamps the current level.
func (d *Device) ReloadBounds() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loadBoundsLocked()
	d.level = clamp(d.level, d.minLevel, d.maxLevel)
}

// SetBounds overrides min/max and clamps the current level.
func (d *Device) SetBounds(lo, hi float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if hi < lo {
		lo, hi = hi, lo
	}
	d.minLevel, d.maxLevel = lo, hi
	d.level = clamp(d.level, lo, hi)
}

// Bounds returns min and max level.
func (d *Device) Bounds() (float64, float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.minLevel, d.maxLevel
}

// Level returns the duty cycle (fans) or voltage (lights) in percent.
func (d *Device) Level() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.level
}

// SetLevel stores a clamped level without commanding the device.
func (d *Device) SetLevel(v float64) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.level = clamp(v, d.minLevel, d.maxLevel)
	return d.level
}

// SetSteps changes the increment used by Change.
func (d *Device) SetSteps(steps float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if steps > 0 {
		d.steps = steps
	}
}

// SetClimateModes replaces the HVAC modes a climate device supports.
func (d *Device) SetClimateModes(modes ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.climateMode = make(map[string]bool, len(modes))
	for _, m := range modes {
		d.climateMode[m] = true
	}
}

// ControlEntity returns the entity whose state defines whether the device runs.
func (d *Device) ControlEntity() string {
	if len(d.Switches) > 0 {
		return d.Switches[0]
	}
	return d.firstOption("select")
}

// Running reads the host state of the control entity.
func (d *Device) Running(ctx context.Context) bool {
	id := d.ControlEntity()
	if id == "" {
		return false
	}
	v, err := d.host.State(ctx, id)
	if err != nil {
		return false
	}
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x > 0
	case string:
		switch strings.ToLower(x) {
		case "on", "true", "heat", "cool", "dry", "heat_cool", "auto", "fan_only":
			return true
		}
	}
	return false
}

func (d *Device) firstSwitch(domain string) string {
	for _, id := range d.Switches {
		if host.Domain(id) == domain {
			return id
		}
	}
	return ""
}

func (d *Device) firstOption(domain string) string {
	for _, id := range d.Options {
		if host.Domain(id) == domain {
			return id
		}
	}
	return ""
}

// Attach subscribes the device to its capability topics on bus. Lights are driven by
// the light controller and pumps by PumpAction. Commands run inline in the publisher,
// so a device sees them in publish order and none are dropped.
func (d *Device) Attach(bus *eventbus.Bus) {
	d.Detach()
	var unsubs []func()

	switch {
	case d.Type.IsPump():
		unsubs = append(unsubs, bus.SubscribeSync(TopicPumpAction, d.handlePump))
	case d.Type == Light || d.Type == Sensor:
	default:
		capability := d.Type.Capability()
		unsubs = append(unsubs,
			bus.SubscribeSync(Topic(Increase, capability), func(eventbus.Event) { d.handleAction(Increase) }),
			bus.SubscribeSync(Topic(Reduce, capability), func(eventbus.Event) { d.handleAction(Reduce) }),
		)
	}

	d.mu.Lock()
	d.unsubs = unsubs
	d.mu.Unlock()
}

// Detach removes the device's bus subscriptions.
func (d *Device) Detach() {
	d.mu.Lock()
	unsubs := d.unsubs
	d.unsubs = nil
	d.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

func (d *Device) handleAction(action string) {
	ctx := context.Background()
	if err := d.Apply(ctx, action); err != nil {
		log.Debug().Err(err).Str("room", d.Room).Str("device", d.Name).Str("action", action).Msg("Device action failed")
	}
}

func (d *Device) handlePump(ev eventbus.Event) {
	pa, ok := ev.Payload.(PumpAction)
	if !ok {
		return
	}
	if pa.Device != "" && pa.Device != d.Name {
		return
	}
	if pa.Device == "" && pa.Type != d.Type {
		return
	}
	var err error
	if pa.On {
		err = d.TurnOn(context.Background(), On{})
	} else {
		err = d.TurnOff(context.Background())
	}
	if err != nil {
		log.Debug().Err(err).Str("room", d.Room).Str("device", d.Name).Bool("on", pa.On).Msg("Pump action failed")
	}
}

// Apply executes an Increase or Reduce action for the device class.
func (d *Device) Apply(ctx context.Context, action string) error {
	if d.Type == Climate {
		mode := DecideClimateMode(action, d.supportedModes())
		if mode == "" {
			return d.TurnOff(ctx)
		}
		return d.SetMode(ctx, mode)
	}
	if d.Dimmable {
		return d.Change(ctx, action == Increase)
	}
	if action == Increase {
		return d.TurnOn(ctx, On{})
	}
	return d.TurnOff(ctx)
}

func (d *Device) supportedModes() map[string]bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]bool, len(d.climateMode))
	for m := range d.climateMode {
		out[m] = true
	}
	return out
}

// Change steps the level up or down by Steps and applies it. No-op when not dimmable.
func (d *Device) Change(ctx context.Context, increase bool) error {
	if !d.Dimmable {
		return nil
	}
	d.mu.Lock()
	next := d.level - d.steps
	if increase {
		next = d.level + d.steps
	}
	next = clamp(next, d.minLevel, d.maxLevel)
	d.mu.Unlock()

	if d.Type == Light {
		return d.TurnOn(ctx, On{BrightnessPct: next})
	}
	return d.TurnOn(ctx, On{Percentage: next})
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
