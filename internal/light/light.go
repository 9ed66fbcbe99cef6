// Package light runs the grow-light schedule and the sunrise and sunset ramps.
package light

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tentd/internal/device"
	"github.com/dokzlo13/tentd/internal/store"
	"github.com/dokzlo13/tentd/internal/task"
)

// RampSteps is the number of sub-steps of a sunrise or sunset.
const RampSteps = 10

// StepVoltage is the voltage change of one planner Increase or Reduce.
const StepVoltage = 5

// minOnVoltage is the lowest remembered voltage reused when switching on.
const minOnVoltage = 20

// Sun phases.
const (
	Sunrise = "sunrise"
	Sunset  = "sunset"
)

// Light is one grow light under control.
type Light struct {
	dev   *device.Device
	store *store.Store
	after task.After

	mu         sync.Mutex
	on         bool
	voltage    float64
	minVoltage float64
	maxVoltage float64
	phase      string
	sunriseOn  string
	paused     bool
	resume     chan struct{}

	ramp task.Slot
}

// NewLight wraps a light device.
func NewLight(dev *device.Device, s *store.Store, after task.After) *Light {
	if after == nil {
		after = time.After
	}
	l := &Light{dev: dev, store: s, after: after}
	l.Reload()
	return l
}

// Sync reads the on state from the host.
func (l *Light) Sync(ctx context.Context) {
	on := l.dev.Running(ctx)
	l.mu.Lock()
	l.on = on
	if on && l.dev.Dimmable {
		l.voltage = l.dev.Level()
	}
	l.mu.Unlock()
}

// Name is the device name.
func (l *Light) Name() string { return l.dev.Name }

// Reload reads the voltage range: DeviceMinMax.Light when active, else the
// plant-stage table.
func (l *Light) Reload() {
	lo, hi := 20.0, 50.0
	if r, ok := StageVoltages[l.store.String("plantStage")]; ok {
		lo, hi = r.Min, r.Max
	}
	if l.store.Bool("DeviceMinMax.Light.active") {
		a, b := l.store.Float("DeviceMinMax.Light.minVoltage"), l.store.Float("DeviceMinMax.Light.maxVoltage")
		if b > a {
			lo, hi = a, b
		}
	}
	l.SetRange(lo, hi)
}

// SetRange sets min and max voltage. The minimum doubles as the initial voltage.
func (l *Light) SetRange(lo, hi float64) {
	l.mu.Lock()
	l.minVoltage, l.maxVoltage = lo, hi
	l.mu.Unlock()
	l.dev.SetBounds(lo, hi)
}

// Range returns min and max voltage.
func (l *Light) Range() (float64, float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.minVoltage, l.maxVoltage
}

// Voltage returns the last commanded voltage, 0 when off.
func (l *Light) Voltage() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.voltage
}

// IsOn reports whether the light was last switched on.
func (l *Light) IsOn() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}

// SunPhase returns the running phase, or "".
func (l *Light) SunPhase() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// SunriseRan reports whether a sunrise was started for day.
func (l *Light) SunriseRan(day string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sunriseOn == day
}

func (l *Light) markSunrise(day string) {
	l.mu.Lock()
	l.sunriseOn = day
	l.mu.Unlock()
}

// Toggle switches the light. Repeating the current state does nothing.
func (l *Light) Toggle(ctx context.Context, on bool) error {
	if !on {
		l.ramp.Stop()
		if !l.IsOn() {
			return nil
		}
		return l.switchOff(ctx)
	}

	l.mu.Lock()
	if l.on {
		l.mu.Unlock()
		return nil
	}
	v := l.voltage
	if v < minOnVoltage {
		v = l.minVoltage
	}
	l.mu.Unlock()

	var err error
	if l.dev.Dimmable {
		err = l.dev.TurnOn(ctx, device.On{BrightnessPct: v})
	} else {
		err = l.dev.TurnOn(ctx, device.On{})
	}
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.on = true
	if l.dev.Dimmable {
		l.voltage = l.dev.Level()
	}
	l.mu.Unlock()
	log.Info().Str("room", l.dev.Room).Str("device", l.dev.Name).Float64("voltage", l.Voltage()).Msg("Light on")
	return nil
}

func (l *Light) switchOff(ctx context.Context) error {
	if err := l.dev.TurnOff(ctx); err != nil {
		return err
	}
	l.mu.Lock()
	wasOn := l.on
	l.on = false
	l.voltage = 0
	l.mu.Unlock()
	if wasOn {
		log.Info().Str("room", l.dev.Room).Str("device", l.dev.Name).Msg("Light off")
	}
	return nil
}

// MarkOff records that the light went off outside of tentd and aborts a ramp.
func (l *Light) MarkOff() {
	l.mu.Lock()
	l.on = false
	l.mu.Unlock()
}

// Step applies an Increase or Reduce request from the action planner.
func (l *Light) Step(ctx context.Context, increase bool) error {
	refuse := func(reason string) error { return &Refusal{Device: l.dev.Name, Reason: reason} }

	switch {
	case !l.dev.Dimmable:
		return refuse(ReasonNotDimmable)
	case !l.IsOn():
		return refuse(ReasonLightOff)
	case !l.store.Bool("controlOptions.lightbyOGBControl"):
		return refuse(ReasonNoOGBControl)
	case !l.store.Bool("controlOptions.vpdLightControl"):
		return refuse(ReasonNoVPDControl)
	case l.SunPhase() != "":
		return refuse(ReasonSunPhase)
	}

	l.mu.Lock()
	next := l.voltage - StepVoltage
	if increase {
		next = l.voltage + StepVoltage
	}
	next = clamp(next, l.minVoltage, l.maxVoltage)
	l.mu.Unlock()

	return l.apply(ctx, next)
}

func (l *Light) apply(ctx context.Context, v float64) error {
	if err := l.dev.TurnOn(ctx, device.On{BrightnessPct: v}); err != nil {
		return err
	}
	l.mu.Lock()
	l.voltage = l.dev.Level()
	l.mu.Unlock()
	return nil
}

// StartRamp spawns a sunrise or sunset over dur unless a ramp is already running.
func (l *Light) StartRamp(parent context.Context, phase string, dur time.Duration) bool {
	if l.ramp.Running() {
		return false
	}
	l.mu.Lock()
	l.phase = phase
	l.mu.Unlock()

	log.Info().Str("room", l.dev.Room).Str("device", l.dev.Name).Str("phase", phase).Dur("duration", dur).Msg("Sun phase started")
	l.ramp.Replace(parent, func(ctx context.Context) {
		defer func() {
			l.mu.Lock()
			l.phase = ""
			l.mu.Unlock()
		}()
		l.runRamp(ctx, phase, dur)
	})
	return true
}

// StopRamp cancels a running ramp and waits for it.
func (l *Light) StopRamp() {
	l.ramp.Stop()
}

func (l *Light) runRamp(ctx context.Context, phase string, dur time.Duration) {
	l.mu.Lock()
	from, to := l.voltage, l.minVoltage
	if phase == Sunrise {
		from, to = l.minVoltage, l.maxVoltage
	}
	l.mu.Unlock()

	if phase == Sunrise {
		if err := l.apply(ctx, from); err != nil {
			log.Warn().Err(err).Str("room", l.dev.Room).Str("device", l.dev.Name).Msg("Sunrise start failed")
		}
	}

	stepDur := dur / RampSteps
	for i := 1; i <= RampSteps; i++ {
		if task.Sleep(ctx, l.after, stepDur) != nil {
			return
		}
		if l.waitResume(ctx) != nil {
			return
		}
		if !l.IsOn() {
			log.Info().Str("room", l.dev.Room).Str("device", l.dev.Name).Str("phase", phase).Msg("Sun phase aborted, light off")
			return
		}
		v := from + (to-from)*float64(i)/RampSteps
		if err := l.apply(ctx, v); err != nil {
			log.Warn().Err(err).Str("room", l.dev.Room).Str("device", l.dev.Name).Float64("voltage", v).Msg("Sun phase step failed")
		}
	}

	if phase == Sunset {
		if err := l.switchOff(ctx); err != nil {
			log.Warn().Err(err).Str("room", l.dev.Room).Str("device", l.dev.Name).Msg("Sunset turn-off failed")
		}
	}
	log.Info().Str("room", l.dev.Room).Str("device", l.dev.Name).Str("phase", phase).Msg("Sun phase finished")
}

// Pause freezes a running ramp before its next step.
func (l *Light) Pause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.paused {
		l.paused = true
		l.resume = make(chan struct{})
	}
}

// Resume releases a paused ramp.
func (l *Light) Resume() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.paused {
		l.paused = false
		close(l.resume)
	}
}

func (l *Light) waitResume(ctx context.Context) error {
	l.mu.Lock()
	if !l.paused {
		l.mu.Unlock()
		return nil
	}
	ch := l.resume
	l.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
