package light

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tentd/internal/device"
	"github.com/dokzlo13/tentd/internal/devicemgr"
	"github.com/dokzlo13/tentd/internal/eventbus"
	"github.com/dokzlo13/tentd/internal/registry"
	"github.com/dokzlo13/tentd/internal/store"
	"github.com/dokzlo13/tentd/internal/task"
)

// Bus topics handled by the controller.
const (
	TopicPauseSunPhases  = "PauseSunPhases"
	TopicResumeSunPhases = "ResumeSunPhases"
	TopicLightReload     = "LightReload"
)

// EvalInterval is the schedule evaluation period.
const EvalInterval = 60 * time.Second

// Controller runs the light schedule of one room.
type Controller struct {
	room  string
	store *store.Store
	bus   *eventbus.Bus
	now   func() time.Time
	after task.After

	mu     sync.Mutex
	lights map[string]*Light
	ctx    context.Context
	unsubs []func()
}

// New creates a light controller.
func New(room string, s *store.Store, bus *eventbus.Bus) *Controller {
	return &Controller{
		room:   room,
		store:  s,
		bus:    bus,
		now:    time.Now,
		after:  time.After,
		lights: make(map[string]*Light),
		ctx:    context.Background(),
	}
}

// SetClock overrides the wall clock and timer.
func (c *Controller) SetClock(now func() time.Time, after task.After) {
	if now != nil {
		c.now = now
	}
	if after != nil {
		c.after = after
	}
}

// Start subscribes to device, action and light-entity events.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ctx = ctx
	c.unsubs = append(c.unsubs,
		c.bus.SubscribeSync(devicemgr.TopicDevicesChanged, c.onDevicesChanged),
		c.bus.SubscribeSync(device.Topic(device.Increase, store.CapLight), func(eventbus.Event) { c.step(true) }),
		c.bus.SubscribeSync(device.Topic(device.Reduce, store.CapLight), func(eventbus.Event) { c.step(false) }),
		c.bus.Subscribe(registry.TopicLightUpdate, c.onEntityUpdate),
		c.bus.Subscribe(TopicPauseSunPhases, func(eventbus.Event) { c.PauseSunPhases() }),
		c.bus.Subscribe(TopicResumeSunPhases, func(eventbus.Event) { c.ResumeSunPhases() }),
		c.bus.Subscribe(TopicLightReload, func(eventbus.Event) { c.Reload() }),
	)
}

// Run evaluates the schedule every minute until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	for {
		c.Evaluate(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-c.after(EvalInterval):
		}
	}
}

// Stop unsubscribes and cancels running ramps.
func (c *Controller) Stop() {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
	for _, l := range c.Lights() {
		l.StopRamp()
	}
}

// Add places a light device under control.
func (c *Controller) Add(dev *device.Device) *Light {
	l := NewLight(dev, c.store, c.after)
	c.mu.Lock()
	c.lights[dev.Name] = l
	ctx := c.ctx
	c.mu.Unlock()
	l.Sync(ctx)
	log.Info().Str("room", c.room).Str("device", dev.Name).Bool("dimmable", dev.Dimmable).Msg("Light added")
	return l
}

// Remove drops a light and cancels its ramp.
func (c *Controller) Remove(name string) {
	c.mu.Lock()
	l := c.lights[name]
	delete(c.lights, name)
	c.mu.Unlock()
	if l != nil {
		l.StopRamp()
	}
}

// Lights returns the controlled lights sorted by name.
func (c *Controller) Lights() []*Light {
	c.mu.Lock()
	out := make([]*Light, 0, len(c.lights))
	for _, l := range c.lights {
		out = append(out, l)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Reload re-reads voltage ranges after a stage or min/max change.
func (c *Controller) Reload() {
	for _, l := range c.Lights() {
		l.Reload()
	}
}

// Evaluate applies the on/off schedule and starts sun phases.
func (c *Controller) Evaluate(ctx context.Context) {
	if !c.store.Bool("controlOptions.lightbyOGBControl") {
		return
	}
	on, okOn := c.store.Duration("isPlantDay.lightOnTime")
	off, okOff := c.store.Duration("isPlantDay.lightOffTime")
	if !okOn || !okOff {
		return
	}

	clock := ClockOf(c.now())
	want := IsOn(clock, on, off)
	if c.store.SetPath("isPlantDay.islightON", want) {
		log.Info().Str("room", c.room).Bool("on", want).Msg("Light schedule changed")
	}

	sunrise, _ := c.store.Duration("isPlantDay.sunRiseTime")
	sunset, _ := c.store.Duration("isPlantDay.sunSetTime")
	dusk := InSunset(clock, off, sunset)
	// Day the current light period started on.
	day := c.now().Add(-wrap(clock - on)).Format(time.DateOnly)

	for _, l := range c.Lights() {
		if want && dusk && !l.IsOn() && l.SunPhase() == "" {
			// Sunset already finished for today.
			continue
		}
		if err := l.Toggle(ctx, want); err != nil {
			log.Warn().Err(err).Str("room", c.room).Str("device", l.Name()).Bool("on", want).Msg("Light toggle failed")
			continue
		}
		if !want || !l.dev.Dimmable {
			continue
		}
		switch {
		case InSunrise(clock, on, sunrise):
			if !l.SunriseRan(day) && l.StartRamp(c.ctx, Sunrise, sunrise) {
				l.markSunrise(day)
			}
		case dusk:
			l.StartRamp(c.ctx, Sunset, sunset)
		}
	}
}

// PauseSunPhases freezes every running ramp.
func (c *Controller) PauseSunPhases() {
	for _, l := range c.Lights() {
		l.Pause()
	}
}

// ResumeSunPhases releases paused ramps.
func (c *Controller) ResumeSunPhases() {
	for _, l := range c.Lights() {
		l.Resume()
	}
}

func (c *Controller) step(increase bool) {
	for _, l := range c.Lights() {
		err := l.Step(context.Background(), increase)
		var refusal *Refusal
		switch {
		case errors.As(err, &refusal):
			log.Debug().Str("room", c.room).Str("device", l.Name()).Str("reason", refusal.Reason).Msg("Light step refused")
		case err != nil:
			log.Warn().Err(err).Str("room", c.room).Str("device", l.Name()).Msg("Light step failed")
		}
	}
}

func (c *Controller) onDevicesChanged(ev eventbus.Event) {
	dc, ok := ev.Payload.(devicemgr.DevicesChanged)
	if !ok {
		return
	}
	for _, d := range dc.Removed {
		if d.Type == device.Light {
			c.Remove(d.Name)
		}
	}
	for _, d := range dc.Added {
		if d.Type == device.Light {
			c.Add(d)
		}
	}
}

// onEntityUpdate notices a light switched off on the host so ramps abort.
func (c *Controller) onEntityUpdate(ev eventbus.Event) {
	u, ok := ev.Payload.(registry.EntityUpdate)
	if !ok {
		return
	}
	v, ok := u.Value.(string)
	if !ok || !strings.EqualFold(v, "off") {
		return
	}
	c.mu.Lock()
	l := c.lights[registry.GroupName(u.EntityID)]
	c.mu.Unlock()
	if l != nil && l.dev.ControlEntity() == u.EntityID {
		l.MarkOff()
	}
}
