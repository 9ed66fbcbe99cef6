package mode

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/tentd/internal/action"
	"github.com/dokzlo13/tentd/internal/device"
	"github.com/dokzlo13/tentd/internal/devicemgr"
	"github.com/dokzlo13/tentd/internal/eventbus"
	"github.com/dokzlo13/tentd/internal/host"
	"github.com/dokzlo13/tentd/internal/store"
)

type fakeDevices []*device.Device

func (f fakeDevices) ByType(types ...device.Type) []*device.Device {
	var out []*device.Device
	for _, d := range f {
		for _, t := range types {
			if d.Type == t {
				out = append(out, d)
			}
		}
	}
	return out
}

type liveDevices struct {
	mu   sync.Mutex
	list fakeDevices
}

func (l *liveDevices) add(d *device.Device) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.list = append(l.list, d)
}

func (l *liveDevices) ByType(types ...device.Type) []*device.Device {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.list.ByType(types...)
}

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

type pumpLog struct {
	mu     sync.Mutex
	events []device.PumpAction
}

func (p *pumpLog) add(ev eventbus.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev.Payload.(device.PumpAction))
}

func (p *pumpLog) snapshot() []device.PumpAction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]device.PumpAction(nil), p.events...)
}

func setup(t *testing.T, devs ...*device.Device) (*Manager, *store.Store, *eventbus.Bus) {
	t.Helper()
	s := store.New("tent")
	bus := eventbus.New("tent")
	t.Cleanup(func() { bus.Close(context.Background()) })
	m := New("tent", s, bus, action.NewManager("tent", s, bus), fakeDevices(devs))
	return m, s, bus
}

func pump(name string, typ device.Type) *device.Device {
	return device.New(name, typ, "tent", host.NewMemory(), store.New("tent"))
}

func TestPerfectionDirection(t *testing.T) {
	assert.Equal(t, action.IncreaseVPD, PerfectionDirection(0.52, 0.9, 0.855, 0.945))
	assert.Equal(t, action.ReduceVPD, PerfectionDirection(1.0, 0.9, 0.855, 0.945))
	assert.Equal(t, action.FineTuneVPD, PerfectionDirection(0.88, 0.9, 0.855, 0.945))
	assert.Equal(t, "", PerfectionDirection(0.9, 0.9, 0.855, 0.945))
}

func TestTargetDirection(t *testing.T) {
	assert.Equal(t, action.IncreaseVPD, TargetDirection(0.8, 1.0, 10))
	assert.Equal(t, action.FineTuneVPD, TargetDirection(0.95, 1.0, 10))
	assert.Equal(t, action.ReduceVPD, TargetDirection(1.2, 1.0, 10))
}

func TestSelectAction_Dispatch(t *testing.T) {
	m, s, bus := setup(t)
	var requests []PremiumRequest
	bus.SubscribeSync(TopicPremiumRequest, func(ev eventbus.Event) { requests = append(requests, ev.Payload.(PremiumRequest)) })

	s.SetPath("vpd.current", 0.1)
	d := m.SelectAction()
	assert.Equal(t, VPDPerfection, d.Mode)
	assert.Equal(t, action.IncreaseVPD, d.Direction)

	s.SetPath("tentMode", Disabled)
	d = m.SelectAction()
	assert.Empty(t, d.Direction)

	s.SetPath("tentMode", PIDControl)
	m.SelectAction()
	require.Len(t, requests, 1)
	assert.Equal(t, "PID", requests[0].ControllerType)
}

func TestPhase(t *testing.T) {
	table := map[string]PhaseTarget{
		PhaseStart:    {Duration: 72 * time.Hour},
		PhaseHalfTime: {Duration: 72 * time.Hour},
		PhaseEnd:      {Duration: 48 * time.Hour},
	}
	assert.Equal(t, PhaseStart, Phase(0, table))
	assert.Equal(t, PhaseStart, Phase(72*time.Hour, table))
	assert.Equal(t, PhaseHalfTime, Phase(100*time.Hour, table))
	assert.Equal(t, PhaseEnd, Phase(145*time.Hour, table))
	assert.Equal(t, PhaseEnd, Phase(1000*time.Hour, table))
}

func TestElClassicoActions(t *testing.T) {
	target := PhaseTarget{TargetTemp: 20, TargetHumidity: 60}

	hot := ElClassicoActions(21.5, 70, target)
	require.NotEmpty(t, hot)
	assert.Equal(t, store.CapExhaust, hot[0].Capability)
	assert.Equal(t, device.Increase, hot[0].Action)

	humid := ElClassicoActions(20.5, 63, target)
	require.NotEmpty(t, humid)
	assert.Equal(t, store.CapDehumidify, humid[0].Capability)

	assert.Nil(t, ElClassicoActions(20.5, 61, target))
}

func TestFiveDayDryDirection(t *testing.T) {
	target := PhaseTarget{TargetTemp: 17.2, TargetVPD: 0.63}
	assert.Equal(t, action.IncreaseVPD, FiveDayDryDirection(75, target))
	assert.Equal(t, action.ReduceVPD, FiveDayDryDirection(55, target))
	assert.Equal(t, "", FiveDayDryDirection(68.5, target))
}

func TestDewBasedActions(t *testing.T) {
	target := PhaseTarget{TargetTemp: 20, TargetDewPoint: 12.25}
	above := DewBasedActions(20, 70, 14.4, target)
	require.NotEmpty(t, above)
	assert.Equal(t, store.CapDehumidify, above[0].Capability)

	below := DewBasedActions(20, 45, 7.7, target)
	require.NotEmpty(t, below)
	assert.Equal(t, store.CapHumidify, below[0].Capability)

	assert.Empty(t, DewBasedActions(20, 60, 12.2, target))

	// Above the target dew point but warm enough that the dew-point VPD reads dry.
	warm := DewBasedActions(24, 53, 13.5, target)
	require.NotEmpty(t, warm)
	assert.Equal(t, store.CapHumidify, warm[0].Capability)
}

func TestSelectAction_DryingStampsStart(t *testing.T) {
	m, s, _ := setup(t)
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now }, nil)
	s.SetPath("tentMode", Drying)
	s.SetPath("drying.currentDryMode", ElClassico)

	d := m.SelectAction()
	assert.Equal(t, PhaseStart, d.Phase)
	assert.Equal(t, now.Format(time.RFC3339), s.String("drying.mode_start_time"))

	now = now.Add(100 * time.Hour)
	d = m.SelectAction()
	assert.Equal(t, PhaseHalfTime, d.Phase)
}

func TestHydroCycle(t *testing.T) {
	water := pump("waterpump", device.WaterPump)
	mist := pump("mistpump", device.MistPump)
	retrieve := pump("retrievepump", device.RetrievePump)
	m, s, bus := setup(t, water, mist, retrieve)

	clock := &fakeClock{}
	m.SetClock(nil, clock.after)
	m.Start(context.Background())

	log := &pumpLog{}
	bus.SubscribeSync(device.TopicPumpAction, log.add)

	s.Update(func(tx *store.Tx) {
		tx.SetPath("Hydro.Mode", HydroCycle)
		tx.SetPath("Hydro.Cycle", true)
		tx.SetPath("Hydro.Duration", 30)
		tx.SetPath("Hydro.Intervall", 2)
	})
	m.HydroChange()
	assert.True(t, s.Bool("Hydro.Active"))

	require.Eventually(t, func() bool { return clock.pending() == 1 }, time.Second, time.Millisecond)
	ev := log.snapshot()
	require.Len(t, ev, 2)
	assert.True(t, ev[0].On && ev[1].On)
	assert.Equal(t, 30*time.Second, clock.waits[0])

	clock.fire(0)
	require.Eventually(t, func() bool { return clock.pending() == 2 }, time.Second, time.Millisecond)
	ev = log.snapshot()
	require.Len(t, ev, 4)
	assert.False(t, ev[2].On || ev[3].On)
	assert.Equal(t, 2*time.Minute, clock.waits[1])

	clock.fire(1)
	require.Eventually(t, func() bool { return clock.pending() == 3 }, time.Second, time.Millisecond)
	require.Len(t, log.snapshot(), 6)

	m.Stop()
	ev = log.snapshot()
	require.Len(t, ev, 8)
	assert.False(t, ev[6].On || ev[7].On)
	for _, e := range ev {
		assert.NotEqual(t, device.RetrievePump, e.Type)
	}
	hydro, _ := m.Cycling()
	assert.False(t, hydro)
}

func TestHydro_PlantWateringPermanent(t *testing.T) {
	water := pump("waterpump", device.WaterPump)
	mist := pump("mistpump", device.MistPump)
	m, s, bus := setup(t, water, mist)
	log := &pumpLog{}
	bus.SubscribeSync(device.TopicPumpAction, log.add)

	s.SetPath("Hydro.Mode", PlantWatering)
	m.HydroChange()

	ev := log.snapshot()
	require.Len(t, ev, 1)
	assert.Equal(t, "waterpump", ev[0].Device)
	assert.True(t, ev[0].On)
	hydro, _ := m.Cycling()
	assert.False(t, hydro)

	s.SetPath("Hydro.Mode", HydroOff)
	m.HydroChange()
	ev = log.snapshot()
	require.Len(t, ev, 3)
	assert.False(t, ev[1].On || ev[2].On)
}

func TestRetrieveCycle(t *testing.T) {
	retrieve := pump("retrievepump", device.RetrievePump)
	m, s, bus := setup(t, retrieve)
	clock := &fakeClock{}
	m.SetClock(nil, clock.after)
	log := &pumpLog{}
	bus.SubscribeSync(device.TopicPumpAction, log.add)

	s.Update(func(tx *store.Tx) {
		tx.SetPath("Hydro.Retrieve", true)
		tx.SetPath("Hydro.R_Duration", 10)
		tx.SetPath("Hydro.R_Intervall", 5)
	})
	m.RetrieveChange()
	require.Eventually(t, func() bool { return clock.pending() == 1 }, time.Second, time.Millisecond)
	_, running := m.Cycling()
	assert.True(t, running)

	s.SetPath("Hydro.Retrieve", false)
	m.RetrieveChange()
	ev := log.snapshot()
	require.NotEmpty(t, ev)
	assert.False(t, ev[len(ev)-1].On)
	_, running = m.Cycling()
	assert.False(t, running)
}

func TestHydroCycle_PicksUpLatePumps(t *testing.T) {
	s := store.New("tent")
	bus := eventbus.New("tent")
	defer bus.Close(context.Background())
	devs := &liveDevices{}
	m := New("tent", s, bus, action.NewManager("tent", s, bus), devs)

	clock := &fakeClock{}
	m.SetClock(nil, clock.after)
	m.Start(context.Background())
	defer m.Stop()

	log := &pumpLog{}
	bus.SubscribeSync(device.TopicPumpAction, log.add)

	s.Update(func(tx *store.Tx) {
		tx.SetPath("Hydro.Mode", HydroCycle)
		tx.SetPath("Hydro.Cycle", true)
		tx.SetPath("Hydro.Duration", 30)
		tx.SetPath("Hydro.Intervall", 2)
	})
	m.HydroChange()
	hydro, _ := m.Cycling()
	assert.False(t, hydro)

	heater := pump("heater", device.Heater)
	devs.add(heater)
	bus.Publish(devicemgr.TopicDevicesChanged, devicemgr.DevicesChanged{Added: []*device.Device{heater}})
	hydro, _ = m.Cycling()
	assert.False(t, hydro)

	water := pump("waterpump", device.WaterPump)
	devs.add(water)
	bus.Publish(devicemgr.TopicDevicesChanged, devicemgr.DevicesChanged{Added: []*device.Device{water}})

	require.Eventually(t, func() bool { return clock.pending() == 1 }, time.Second, time.Millisecond)
	hydro, _ = m.Cycling()
	assert.True(t, hydro)
	ev := log.snapshot()
	require.Len(t, ev, 1)
	assert.Equal(t, "waterpump", ev[0].Device)
	assert.True(t, ev[0].On)
}

func TestRetrieve_IgnoresDevicesWhileOff(t *testing.T) {
	devs := &liveDevices{}
	s := store.New("tent")
	bus := eventbus.New("tent")
	defer bus.Close(context.Background())
	m := New("tent", s, bus, action.NewManager("tent", s, bus), devs)
	m.Start(context.Background())
	defer m.Stop()

	log := &pumpLog{}
	bus.SubscribeSync(device.TopicPumpAction, log.add)

	retrieve := pump("retrievepump", device.RetrievePump)
	devs.add(retrieve)
	bus.Publish(devicemgr.TopicDevicesChanged, devicemgr.DevicesChanged{Added: []*device.Device{retrieve}})

	_, running := m.Cycling()
	assert.False(t, running)
	assert.Empty(t, log.snapshot())
}
