package devicemgr

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

type fakeSource struct {
	mu    sync.Mutex
	cands []registry.Candidate
	err   error
	calls int
}

func (f *fakeSource) Groups(context.Context) ([]registry.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.cands, f.err
}

func (f *fakeSource) set(cands []registry.Candidate, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cands, f.err = cands, err
}

func setup(t *testing.T) (*Manager, *fakeSource, *store.Store, *eventbus.Bus) {
	t.Helper()
	h := host.NewMemory()
	h.AddEntity("switch.heater_tent", "tent", "off")
	h.AddEntity("fan.exhaust_tent", "tent", "on")
	bus := eventbus.New("tent")
	t.Cleanup(func() { bus.Close(context.Background()) })
	s := store.New("tent")
	src := &fakeSource{}
	return New("tent", h, bus, s, src, Config{}), src, s, bus
}

func heater() registry.Candidate {
	return registry.Candidate{Name: "heater", Entities: []sensor.Reading{{EntityID: "switch.heater_tent", Value: "off"}}}
}

func TestReconcile_AddsAndRemovesDevices(t *testing.T) {
	m, src, s, bus := setup(t)

	var changes []DevicesChanged
	bus.SubscribeSync(TopicDevicesChanged, func(ev eventbus.Event) {
		changes = append(changes, ev.Payload.(DevicesChanged))
	})

	src.set([]registry.Candidate{
		heater(),
		{Name: "exhaust", Entities: []sensor.Reading{{EntityID: "fan.exhaust_tent", Value: "on"}}},
		{Name: "lightsensor", Entities: []sensor.Reading{{EntityID: "sensor.lightsensor_lux", Value: 100.0}}},
		{Name: "toaster", Entities: []sensor.Reading{{EntityID: "switch.toaster_tent", Value: "off"}}},
	}, nil)
	require.NoError(t, m.Reconcile(context.Background()))

	require.Len(t, m.Devices(), 2)
	assert.Equal(t, "exhaust", m.Devices()[0].Name)
	assert.True(t, s.Has(store.CapHeat))
	assert.True(t, s.Has(store.CapExhaust))
	assert.Equal(t, []string{"heater"}, s.Strings("capabilities.canHeat.devEntities"))
	require.Len(t, changes, 1)
	assert.Len(t, changes[0].Added, 2)

	src.set([]registry.Candidate{heater()}, nil)
	require.NoError(t, m.Reconcile(context.Background()))

	require.Len(t, m.Devices(), 1)
	assert.False(t, s.Has(store.CapExhaust))
	assert.Equal(t, 0, s.Int("capabilities.canExhaust.count"))
	require.Len(t, changes, 2)
	require.Len(t, changes[1].Removed, 1)
	assert.Equal(t, "exhaust", changes[1].Removed[0].Name)
}

func TestReconcile_Idempotent(t *testing.T) {
	m, src, s, _ := setup(t)
	src.set([]registry.Candidate{heater()}, nil)

	require.NoError(t, m.Reconcile(context.Background()))
	first := m.Device("heater")
	require.NoError(t, m.Reconcile(context.Background()))

	assert.Same(t, first, m.Device("heater"))
	assert.Equal(t, 1, s.Int("capabilities.canHeat.count"))
}

func TestReconcile_SkipsDeviceWithoutControlEntity(t *testing.T) {
	m, src, s, _ := setup(t)
	src.set([]registry.Candidate{
		{Name: "cooler", Entities: []sensor.Reading{{EntityID: "sensor.cooler_temperature", Value: 20.0}}},
	}, nil)

	require.NoError(t, m.Reconcile(context.Background()))
	assert.Empty(t, m.Devices())
	assert.False(t, s.Has(store.CapCool))
}

func TestReconcile_SourceError(t *testing.T) {
	m, src, _, _ := setup(t)
	src.set(nil, errors.New("host down"))
	assert.Error(t, m.Reconcile(context.Background()))
}

func TestBackoff(t *testing.T) {
	c := DefaultConfig
	assert.Equal(t, 60*time.Second, c.Backoff(1))
	assert.Equal(t, 120*time.Second, c.Backoff(2))
	assert.Equal(t, 240*time.Second, c.Backoff(3))
	assert.Equal(t, 8*time.Minute, c.Backoff(4))
	assert.Equal(t, 8*time.Minute, c.Backoff(10))
}

func TestRun_BacksOffOnFailure(t *testing.T) {
	m, src, _, _ := setup(t)
	src.set(nil, errors.New("host down"))

	ctx, cancel := context.WithCancel(context.Background())
	var waits []time.Duration
	m.SetAfter(func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		if len(waits) == 3 {
			cancel()
		}
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	})

	require.NoError(t, m.Run(ctx))
	require.GreaterOrEqual(t, len(waits), 3)
	assert.Equal(t, []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second}, waits[:3])
}

func TestByType(t *testing.T) {
	m, src, _, _ := setup(t)
	src.set([]registry.Candidate{heater()}, nil)
	require.NoError(t, m.Reconcile(context.Background()))

	assert.Len(t, m.ByType(device.Heater), 1)
	assert.Empty(t, m.ByType(device.Cooler))
}
