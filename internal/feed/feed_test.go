package feed

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
	"github.com/dokzlo13/tentd/internal/ledger"
	"github.com/dokzlo13/tentd/internal/store"
)

type fakePumps []*device.Device

func (f fakePumps) ByType(types ...device.Type) []*device.Device {
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

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
	chans []chan time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
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

type recorder struct {
	mu      sync.Mutex
	entries []ledger.Entry
}

func (r *recorder) Append(_ context.Context, e ledger.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *recorder) snapshot() []ledger.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ledger.Entry(nil), r.entries...)
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

func allPumps() fakePumps {
	var out fakePumps
	for _, t := range device.FeedPumps {
		out = append(out, device.New(string(t), t, "tent", host.NewMemory(), store.New("tent")))
	}
	return out
}

func setup(t *testing.T, pumps fakePumps) (*Manager, *store.Store, *fakeClock, *recorder, *pumpLog) {
	t.Helper()
	s := store.New("tent")
	bus := eventbus.New("tent")
	t.Cleanup(func() { bus.Close(context.Background()) })

	clock := &fakeClock{now: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
	rec := &recorder{}
	m := New("tent", s, bus, pumps, rec)
	m.SetClock(clock.Now, clock.after)
	t.Cleanup(m.Stop)

	log := &pumpLog{}
	bus.SubscribeSync(device.TopicPumpAction, log.add)

	s.Update(func(tx *store.Tx) {
		tx.SetPath("Feed.Mode", Automatic)
		tx.SetPath("Feed.FlowRate", 1.0)
		tx.SetPath("plantStage", "MidVeg")
		tx.SetPath("Hydro.ReservoirL", 10.0)
	})
	return m, s, clock, rec, log
}

func TestDoseDuration(t *testing.T) {
	assert.Equal(t, 5*time.Second, DoseDuration(5, 1))
	assert.Equal(t, 2500*time.Millisecond, DoseDuration(5, 2))
	assert.Equal(t, 500*time.Millisecond, DoseDuration(0.1, 1))
	assert.Equal(t, 50*time.Second, DoseDuration(80, 1))
	assert.Equal(t, 5*time.Second, DoseDuration(5, 0))
}

func TestPlan(t *testing.T) {
	target := StageTargets["MidVeg"]

	tests := []struct {
		name    string
		ph, ec  float64
		pumps   []device.Type
		totalML float64
	}{
		{"ph high doses ph down only", 6.3, 0.5, []device.Type{device.FeedPumpPHDown}, 5},
		{"ph low doses ph up", 5.4, 1.4, []device.Type{device.FeedPumpPHUp}, 5},
		{"ec low doses A B C", 5.9, 1.0, []device.Type{device.FeedPumpA, device.FeedPumpB, device.FeedPumpC}, 39},
		{"within tolerance", 5.95, 1.25, nil, 0},
		{"no readings", 0, 0, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doses := Plan(target, tt.ph, tt.ec, 10)
			var pumps []device.Type
			var total float64
			for _, d := range doses {
				pumps = append(pumps, d.Pump)
				total += d.ML
			}
			assert.Equal(t, tt.pumps, pumps)
			assert.InDelta(t, tt.totalML, total, 1e-9)
		})
	}
}

func TestTargetsFor(t *testing.T) {
	s := store.New("tent")
	s.SetPath("plantStage", "LateFlower")

	_, ok := TargetsFor(Disabled, s)
	assert.False(t, ok)

	auto, ok := TargetsFor(Automatic, s)
	require.True(t, ok)
	assert.Equal(t, StageTargets["LateFlower"], auto)

	s.Update(func(tx *store.Tx) {
		tx.SetPath("Feed.PH_Target", 5.5)
		tx.SetPath("Feed.EC_Target", 2.2)
		tx.SetPath("Feed.Nut_A_ml", 1.5)
	})
	own, ok := TargetsFor(OwnPlan, s)
	require.True(t, ok)
	assert.Equal(t, 5.5, own.PH)
	assert.Equal(t, 2.2, own.EC)
	assert.Equal(t, 1.5, own.A)
}

func TestCheck_PHDoseThenSettle(t *testing.T) {
	m, s, clock, rec, log := setup(t, allPumps())
	s.Update(func(tx *store.Tx) {
		tx.SetPath("Hydro.ph_current", 6.5)
		tx.SetPath("Hydro.ec_current", 1.4)
	})

	require.True(t, m.Check())
	require.Eventually(t, func() bool { return clock.pending() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 5*time.Second, clock.waits[0])
	assert.True(t, s.Bool("Feed.Active"))
	assert.False(t, m.Check())

	clock.fire(0)
	require.Eventually(t, func() bool { return !m.Dosing() }, time.Second, time.Millisecond)
	assert.False(t, s.Bool("Feed.Active"))

	ev := log.snapshot()
	require.Len(t, ev, 2)
	assert.Equal(t, device.FeedPumpPHDown, ev[0].Type)
	assert.True(t, ev[0].On)
	assert.False(t, ev[1].On)

	entries := rec.snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.EventDose, entries[0].EventType)
	assert.Equal(t, "feedpumpphdown", entries[0].Payload["pump"])
	assert.Equal(t, true, entries[0].Payload["completed"])

	clock.advance(60 * time.Second)
	assert.False(t, m.Check())
	clock.advance(31 * time.Second)
	assert.True(t, m.Check())
}

func TestCheck_NutrientSequence(t *testing.T) {
	m, s, clock, rec, log := setup(t, allPumps())
	s.Update(func(tx *store.Tx) {
		tx.SetPath("Hydro.ph_current", 5.8)
		tx.SetPath("Hydro.ec_current", 1.0)
	})

	require.True(t, m.Check())
	for i := 0; i < 5; i++ {
		n := i + 1
		require.Eventually(t, func() bool { return clock.pending() == n }, time.Second, time.Millisecond)
		clock.fire(i)
	}
	require.Eventually(t, func() bool { return !m.Dosing() }, time.Second, time.Millisecond)

	assert.Equal(t, []time.Duration{18 * time.Second, DoseGap, 15 * time.Second, DoseGap, 6 * time.Second}, clock.waits)
	ev := log.snapshot()
	require.Len(t, ev, 6)
	assert.Equal(t, device.FeedPumpA, ev[0].Type)
	assert.Equal(t, device.FeedPumpB, ev[2].Type)
	assert.Equal(t, device.FeedPumpC, ev[4].Type)
	assert.Len(t, rec.snapshot(), 3)
}

func TestCheck_Disabled(t *testing.T) {
	m, s, _, _, _ := setup(t, allPumps())
	s.Update(func(tx *store.Tx) {
		tx.SetPath("Feed.Mode", Disabled)
		tx.SetPath("Hydro.ph_current", 7.5)
	})
	assert.False(t, m.Check())
}

func TestActivate_RateLimitedPerPump(t *testing.T) {
	m, _, clock, _, _ := setup(t, allPumps())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Activate(ctx, "test", Dose{Pump: device.FeedPumpA, ML: 1})
	assert.ErrorIs(t, err, context.Canceled)

	err = m.Activate(ctx, "test", Dose{Pump: device.FeedPumpA, ML: 1})
	assert.ErrorIs(t, err, ErrRateLimited)

	err = m.Activate(ctx, "test", Dose{Pump: device.FeedPumpB, ML: 1})
	assert.ErrorIs(t, err, context.Canceled)

	clock.advance(PumpInterval + time.Second)
	err = m.Activate(ctx, "test", Dose{Pump: device.FeedPumpA, ML: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestActivate_MissingPump(t *testing.T) {
	m, _, _, rec, log := setup(t, nil)
	err := m.Activate(context.Background(), "test", Dose{Pump: device.FeedPumpPHUp, ML: 5})
	assert.True(t, errors.Is(err, ErrNoPump))
	assert.Empty(t, rec.snapshot())
	assert.Empty(t, log.snapshot())
}

func TestStop_SwitchesPumpOff(t *testing.T) {
	m, s, clock, _, log := setup(t, allPumps())
	s.Update(func(tx *store.Tx) {
		tx.SetPath("Hydro.ph_current", 5.0)
		tx.SetPath("Hydro.ec_current", 1.4)
	})
	require.True(t, m.Check())
	require.Eventually(t, func() bool { return clock.pending() == 1 }, time.Second, time.Millisecond)

	m.Stop()
	ev := log.snapshot()
	require.Len(t, ev, 2)
	assert.Equal(t, device.FeedPumpPHUp, ev[1].Type)
	assert.False(t, ev[1].On)
	assert.False(t, m.Dosing())
}

func TestStart_TriggersOnReading(t *testing.T) {
	m, s, clock, _, _ := setup(t, allPumps())
	m.Start(context.Background())

	s.SetPath("Hydro.ph_current", 6.6)
	require.Eventually(t, func() bool { return clock.pending() == 1 }, time.Second, time.Millisecond)
	assert.True(t, m.Dosing())
}
