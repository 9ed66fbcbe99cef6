package light

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/tentd/internal/device"
	"github.com/dokzlo13/tentd/internal/eventbus"
	"github.com/dokzlo13/tentd/internal/host"
	"github.com/dokzlo13/tentd/internal/registry"
	"github.com/dokzlo13/tentd/internal/sensor"
	"github.com/dokzlo13/tentd/internal/store"
)

const lightEntity = "light.growlight_tent"

type fakeClock struct {
	mu    sync.Mutex
	waits []time.Duration
	chans []chan time.Time
}

func (c *fakeClock) after(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	c.waits = append(c.waits, d)
	c.chans = append(c.chans, ch)
	return ch
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chans)
}

func (c *fakeClock) fire(i int) {
	c.mu.Lock()
	ch := c.chans[i]
	c.mu.Unlock()
	ch <- time.Time{}
}

func clockAt(h, m int) time.Duration {
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
}

func newLightDevice(t *testing.T, s *store.Store, state string) (*device.Device, *host.Memory) {
	t.Helper()
	h := host.NewMemory()
	h.AddEntity(lightEntity, "tent", state)
	d := device.New("growlight", device.Light, "tent", h, s)
	require.NoError(t, d.Init([]sensor.Reading{{EntityID: lightEntity, Value: state}}))
	return d, h
}

func wideRange(s *store.Store) {
	s.Update(func(tx *store.Tx) {
		tx.SetPath("DeviceMinMax.Light.active", true)
		tx.SetPath("DeviceMinMax.Light.minVoltage", 20.0)
		tx.SetPath("DeviceMinMax.Light.maxVoltage", 80.0)
	})
}

func brightness(calls []host.Call) []float64 {
	var out []float64
	for _, c := range calls {
		if v, ok := c.Data["brightness_pct"].(float64); ok {
			out = append(out, v)
		}
	}
	return out
}

func TestIsOn_Overnight(t *testing.T) {
	on, off := clockAt(20, 0), clockAt(8, 0)
	assert.True(t, IsOn(clockAt(2, 0), on, off))
	assert.True(t, IsOn(clockAt(20, 0), on, off))
	assert.False(t, IsOn(clockAt(12, 0), on, off))
	assert.False(t, IsOn(clockAt(8, 0), on, off))
}

func TestIsOn_SameDay(t *testing.T) {
	on, off := clockAt(6, 0), clockAt(18, 0)
	assert.True(t, IsOn(clockAt(12, 0), on, off))
	assert.False(t, IsOn(clockAt(19, 0), on, off))
	assert.False(t, IsOn(clockAt(12, 0), on, on))
}

func TestSunWindows(t *testing.T) {
	on := clockAt(6, 0)
	assert.True(t, InSunrise(clockAt(6, 15), on, 30*time.Minute))
	assert.True(t, InSunrise(clockAt(6, 29), on, 30*time.Minute))
	assert.False(t, InSunrise(clockAt(6, 30), on, 30*time.Minute))
	assert.False(t, InSunrise(clockAt(6, 31), on, 30*time.Minute))
	assert.False(t, InSunrise(clockAt(5, 59), on, 30*time.Minute))
	assert.False(t, InSunrise(clockAt(6, 15), on, 0))

	off := clockAt(0, 10)
	assert.True(t, InSunset(clockAt(23, 50), off, 30*time.Minute))
	assert.False(t, InSunset(clockAt(0, 11), off, 30*time.Minute))
}

func TestReload_StageVoltages(t *testing.T) {
	s := store.New("tent")
	s.SetPath("plantStage", "MidFlower")
	dev, _ := newLightDevice(t, s, "off")
	l := NewLight(dev, s, nil)

	lo, hi := l.Range()
	assert.Equal(t, 80.0, lo)
	assert.Equal(t, 100.0, hi)
	dlo, dhi := dev.Bounds()
	assert.Equal(t, 80.0, dlo)
	assert.Equal(t, 100.0, dhi)

	wideRange(s)
	l.Reload()
	lo, hi = l.Range()
	assert.Equal(t, 20.0, lo)
	assert.Equal(t, 80.0, hi)
}

func TestToggle_Idempotent(t *testing.T) {
	s := store.New("tent")
	dev, h := newLightDevice(t, s, "off")
	l := NewLight(dev, s, nil)
	ctx := context.Background()

	require.NoError(t, l.Toggle(ctx, false))
	assert.Empty(t, h.Calls())

	require.NoError(t, l.Toggle(ctx, true))
	require.NoError(t, l.Toggle(ctx, true))
	calls := h.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "turn_on", calls[0].Service)
	assert.Equal(t, 20.0, calls[0].Data["brightness_pct"])
	assert.True(t, l.IsOn())

	require.NoError(t, l.Toggle(ctx, false))
	require.NoError(t, l.Toggle(ctx, false))
	require.Len(t, h.Calls(), 2)
	assert.False(t, l.IsOn())
	assert.Zero(t, l.Voltage())
}

func TestSync_ReadsHostState(t *testing.T) {
	s := store.New("tent")
	dev, h := newLightDevice(t, s, "on")
	l := NewLight(dev, s, nil)
	l.Sync(context.Background())
	assert.True(t, l.IsOn())

	require.NoError(t, l.Toggle(context.Background(), true))
	assert.Empty(t, h.Calls())
}

func TestStep_Refusals(t *testing.T) {
	s := store.New("tent")
	wideRange(s)
	dev, h := newLightDevice(t, s, "off")
	l := NewLight(dev, s, nil)
	ctx := context.Background()

	reason := func(err error) string {
		var r *Refusal
		require.True(t, errors.As(err, &r), "expected refusal, got %v", err)
		return r.Reason
	}

	assert.Equal(t, ReasonLightOff, reason(l.Step(ctx, true)))

	require.NoError(t, l.Toggle(ctx, true))
	assert.Equal(t, ReasonNoOGBControl, reason(l.Step(ctx, true)))

	s.SetPath("controlOptions.lightbyOGBControl", true)
	assert.Equal(t, ReasonNoVPDControl, reason(l.Step(ctx, true)))

	s.SetPath("controlOptions.vpdLightControl", true)
	require.NoError(t, l.Step(ctx, true))
	assert.Equal(t, 25.0, l.Voltage())
	require.NoError(t, l.Step(ctx, false))
	require.NoError(t, l.Step(ctx, false))
	assert.Equal(t, 20.0, l.Voltage())
	assert.Equal(t, []float64{20, 25, 20, 20}, brightness(h.Calls()))
}

func TestStep_NotDimmable(t *testing.T) {
	s := store.New("tent")
	h := host.NewMemory()
	h.AddEntity("switch.growlight_tent", "tent", "on")
	dev := device.New("growlight", device.Light, "tent", h, s)
	require.NoError(t, dev.Init([]sensor.Reading{{EntityID: "switch.growlight_tent", Value: "on"}}))
	l := NewLight(dev, s, nil)

	var r *Refusal
	require.ErrorAs(t, l.Step(context.Background(), true), &r)
	assert.Equal(t, ReasonNotDimmable, r.Reason)
}

func TestSunrise_RampWithPause(t *testing.T) {
	s := store.New("tent")
	wideRange(s)
	s.Update(func(tx *store.Tx) {
		tx.SetPath("controlOptions.lightbyOGBControl", true)
		tx.SetPath("controlOptions.vpdLightControl", true)
	})
	dev, _ := newLightDevice(t, s, "off")
	clock := &fakeClock{}
	l := NewLight(dev, s, clock.after)
	ctx := context.Background()
	require.NoError(t, l.Toggle(ctx, true))

	require.True(t, l.StartRamp(ctx, Sunrise, 10*time.Minute))
	assert.False(t, l.StartRamp(ctx, Sunrise, 10*time.Minute))
	t.Cleanup(l.StopRamp)

	require.Eventually(t, func() bool { return clock.pending() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, time.Minute, clock.waits[0])
	assert.Equal(t, 20.0, l.Voltage())
	assert.Equal(t, Sunrise, l.SunPhase())

	var r *Refusal
	require.ErrorAs(t, l.Step(ctx, true), &r)
	assert.Equal(t, ReasonSunPhase, r.Reason)

	clock.fire(0)
	require.Eventually(t, func() bool { return clock.pending() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 26.0, l.Voltage())

	clock.fire(1)
	require.Eventually(t, func() bool { return clock.pending() == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, 32.0, l.Voltage())

	l.Pause()
	clock.fire(2)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, clock.pending())
	assert.Equal(t, 32.0, l.Voltage())

	l.Resume()
	require.Eventually(t, func() bool { return clock.pending() == 4 }, time.Second, time.Millisecond)
	assert.Equal(t, 38.0, l.Voltage())

	for i := 3; i < RampSteps; i++ {
		clock.fire(i)
		if i < RampSteps-1 {
			n := i + 2
			require.Eventually(t, func() bool { return clock.pending() == n }, time.Second, time.Millisecond)
		}
	}
	require.Eventually(t, func() bool { return l.SunPhase() == "" }, time.Second, time.Millisecond)
	assert.InDelta(t, 80.0, l.Voltage(), 1e-9)
	assert.True(t, l.IsOn())
}

func TestSunset_SwitchesOff(t *testing.T) {
	s := store.New("tent")
	wideRange(s)
	dev, h := newLightDevice(t, s, "off")
	clock := &fakeClock{}
	l := NewLight(dev, s, clock.after)
	ctx := context.Background()
	require.NoError(t, l.Toggle(ctx, true))
	require.NoError(t, l.apply(ctx, 70))

	l.StartRamp(ctx, Sunset, 10*time.Minute)
	for i := 0; i < RampSteps; i++ {
		n := i + 1
		require.Eventually(t, func() bool { return clock.pending() == n }, time.Second, time.Millisecond)
		clock.fire(i)
	}
	require.Eventually(t, func() bool { return l.SunPhase() == "" }, time.Second, time.Millisecond)
	assert.False(t, l.IsOn())

	calls := h.Calls()
	assert.Equal(t, "turn_off", calls[len(calls)-1].Service)
	b := brightness(calls)
	assert.Equal(t, 65.0, b[2])
	assert.Equal(t, 20.0, b[len(b)-1])
}

func TestRamp_AbortsWhenLightGoesOff(t *testing.T) {
	s := store.New("tent")
	wideRange(s)
	dev, h := newLightDevice(t, s, "off")
	clock := &fakeClock{}
	l := NewLight(dev, s, clock.after)
	ctx := context.Background()
	require.NoError(t, l.Toggle(ctx, true))

	l.StartRamp(ctx, Sunrise, 10*time.Minute)
	require.Eventually(t, func() bool { return clock.pending() == 1 }, time.Second, time.Millisecond)
	clock.fire(0)
	require.Eventually(t, func() bool { return clock.pending() == 2 }, time.Second, time.Millisecond)

	l.MarkOff()
	before := len(h.Calls())
	clock.fire(1)
	require.Eventually(t, func() bool { return l.SunPhase() == "" }, time.Second, time.Millisecond)
	assert.Len(t, h.Calls(), before)
	assert.Equal(t, 26.0, l.Voltage())
}

func setupController(t *testing.T, now *time.Time) (*Controller, *store.Store, *host.Memory, *fakeClock) {
	t.Helper()
	s := store.New("tent")
	wideRange(s)
	s.Update(func(tx *store.Tx) {
		tx.SetPath("controlOptions.lightbyOGBControl", true)
		tx.SetPath("isPlantDay.lightOnTime", "08:00:00")
		tx.SetPath("isPlantDay.lightOffTime", "20:00:00")
		tx.SetPath("isPlantDay.sunRiseTime", "00:30:00")
		tx.SetPath("isPlantDay.sunSetTime", "00:30:00")
	})
	bus := eventbus.New("tent")
	t.Cleanup(func() { bus.Close(context.Background()) })

	clock := &fakeClock{}
	c := New("tent", s, bus)
	c.SetClock(func() time.Time { return *now }, clock.after)
	dev, h := newLightDevice(t, s, "off")
	c.Add(dev)
	t.Cleanup(c.Stop)
	return c, s, h, clock
}

func TestController_EvaluateSchedule(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.Local)
	c, s, h, _ := setupController(t, &now)
	ctx := context.Background()

	c.Evaluate(ctx)
	assert.True(t, s.Bool("isPlantDay.islightON"))
	require.Len(t, h.Calls(), 1)
	assert.Equal(t, "turn_on", h.Calls()[0].Service)

	c.Evaluate(ctx)
	assert.Len(t, h.Calls(), 1)

	now = time.Date(2026, 5, 1, 21, 0, 0, 0, time.Local)
	c.Evaluate(ctx)
	assert.False(t, s.Bool("isPlantDay.islightON"))
	require.Len(t, h.Calls(), 2)
	assert.Equal(t, "turn_off", h.Calls()[1].Service)
}

func TestController_EvaluateDisabled(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.Local)
	c, s, h, _ := setupController(t, &now)
	s.SetPath("controlOptions.lightbyOGBControl", false)

	c.Evaluate(context.Background())
	assert.Empty(t, h.Calls())
}

func TestController_EvaluateStartsSunrise(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 10, 0, 0, time.Local)
	c, _, _, clock := setupController(t, &now)

	c.Evaluate(context.Background())
	l := c.Lights()[0]
	assert.Equal(t, Sunrise, l.SunPhase())
	require.Eventually(t, func() bool { return clock.pending() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 3*time.Minute, clock.waits[0])
}

func TestController_SunriseRunsOncePerDay(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.Local)
	c, _, h, clock := setupController(t, &now)
	ctx := context.Background()

	c.Evaluate(ctx)
	l := c.Lights()[0]
	require.Equal(t, Sunrise, l.SunPhase())
	for i := 0; i < RampSteps; i++ {
		n := i + 1
		require.Eventually(t, func() bool { return clock.pending() == n }, time.Second, time.Millisecond)
		clock.fire(i)
	}
	require.Eventually(t, func() bool { return l.SunPhase() == "" }, time.Second, time.Millisecond)
	require.InDelta(t, 80.0, l.Voltage(), 1e-9)
	calls := len(h.Calls())

	now = time.Date(2026, 5, 1, 8, 29, 0, 0, time.Local)
	c.Evaluate(ctx)
	now = time.Date(2026, 5, 1, 8, 30, 0, 0, time.Local)
	c.Evaluate(ctx)

	assert.Empty(t, l.SunPhase())
	assert.InDelta(t, 80.0, l.Voltage(), 1e-9)
	assert.Len(t, h.Calls(), calls)
	assert.True(t, l.SunriseRan("2026-05-01"))
}

func TestController_NoRelightAfterSunset(t *testing.T) {
	now := time.Date(2026, 5, 1, 19, 50, 0, 0, time.Local)
	c, _, h, _ := setupController(t, &now)

	c.Evaluate(context.Background())
	assert.Empty(t, h.Calls())
	assert.False(t, c.Lights()[0].IsOn())
}

func TestController_DevicesChangedAndHostOff(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.Local)
	c, _, _, _ := setupController(t, &now)
	c.Evaluate(context.Background())
	l := c.Lights()[0]
	require.True(t, l.IsOn())

	c.onEntityUpdate(eventbus.Event{Payload: registry.EntityUpdate{EntityID: lightEntity, Value: "off"}})
	assert.False(t, l.IsOn())

	c.Remove("growlight")
	assert.Empty(t, c.Lights())
}
