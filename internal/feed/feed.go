// Package feed doses nutrients and pH adjusters into the hydro reservoir.
package feed

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/tentd/internal/device"
	"github.com/dokzlo13/tentd/internal/eventbus"
	"github.com/dokzlo13/tentd/internal/ledger"
	"github.com/dokzlo13/tentd/internal/store"
	"github.com/dokzlo13/tentd/internal/task"
)

const (
	SettleTime   = 90 * time.Second
	PHTolerance  = 0.2
	PHDoseML     = 5.0
	ECTolerance  = 0.2
	DoseGap      = 5 * time.Second
	MinDoseML    = 0.5
	MaxDoseML    = 50.0
	PumpInterval = 30 * time.Second
)

// Dose is one pump activation.
type Dose struct {
	Pump   device.Type
	ML     float64
	Reason string
}

// Pumps finds feed pumps by type.
type Pumps interface {
	ByType(types ...device.Type) []*device.Device
}

// Recorder persists doses.
type Recorder interface {
	Append(ctx context.Context, e ledger.Entry) error
}

// DoseDuration is how long a pump runs for ml at flowRate ml/s. ml is clamped to
// [MinDoseML, MaxDoseML].
func DoseDuration(ml, flowRate float64) time.Duration {
	if flowRate <= 0 {
		flowRate = 1
	}
	ml = math.Max(MinDoseML, math.Min(MaxDoseML, ml))
	return time.Duration(ml / flowRate * float64(time.Second))
}

// Plan returns the doses that move the reservoir toward t. pH is corrected first and
// alone; nutrients follow once pH is in range. Zero readings mean no sensor.
func Plan(t Targets, ph, ec, reservoirL float64) []Dose {
	if ph > 0 && math.Abs(ph-t.PH) > PHTolerance {
		if ph > t.PH {
			return []Dose{{Pump: device.FeedPumpPHDown, ML: PHDoseML, Reason: "ph_high"}}
		}
		return []Dose{{Pump: device.FeedPumpPHUp, ML: PHDoseML, Reason: "ph_low"}}
	}
	if ec <= 0 || ec >= t.EC-ECTolerance || reservoirL <= 0 {
		return nil
	}
	var doses []Dose
	for _, n := range []struct {
		pump  device.Type
		ratio float64
	}{{device.FeedPumpA, t.A}, {device.FeedPumpB, t.B}, {device.FeedPumpC, t.C}} {
		if n.ratio > 0 {
			doses = append(doses, Dose{Pump: n.pump, ML: n.ratio * reservoirL, Reason: "ec_low"})
		}
	}
	return doses
}

// Manager runs the dosing loop of one room.
type Manager struct {
	room   string
	store  *store.Store
	bus    *eventbus.Bus
	pumps  Pumps
	ledger Recorder
	now    func() time.Time
	after  task.After

	mu       sync.Mutex
	ctx      context.Context
	lastDose time.Time
	dosing   bool
	limiters map[device.Type]*rate.Limiter
	unsub    func()

	slot task.Slot
}

// New creates a feed manager. rec may be nil.
func New(room string, s *store.Store, bus *eventbus.Bus, pumps Pumps, rec Recorder) *Manager {
	return &Manager{
		room:     room,
		store:    s,
		bus:      bus,
		pumps:    pumps,
		ledger:   rec,
		now:      time.Now,
		after:    time.After,
		ctx:      context.Background(),
		limiters: make(map[device.Type]*rate.Limiter),
	}
}

// SetClock overrides the wall clock and timer.
func (m *Manager) SetClock(now func() time.Time, after task.After) {
	if now != nil {
		m.now = now
	}
	if after != nil {
		m.after = after
	}
}

// Start runs Check on every fresh pH or EC reading.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()
	m.unsub = m.store.Subscribe(func(c store.Change) {
		if c.Path == "Hydro.ph_current" || c.Path == "Hydro.ec_current" {
			m.Check()
		}
	})
}

// Stop cancels a running dose sequence; the active pump is switched off.
func (m *Manager) Stop() {
	if m.unsub != nil {
		m.unsub()
	}
	m.slot.Stop()
}

// Dosing reports whether a dose sequence is running.
func (m *Manager) Dosing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dosing
}

// Check starts a dose sequence when the reservoir is off target and the last dose
// has settled. It returns whether dosing started.
func (m *Manager) Check() bool {
	mode := m.store.String("Feed.Mode")
	targets, ok := TargetsFor(mode, m.store)
	if !ok {
		return false
	}

	m.mu.Lock()
	if m.dosing || (!m.lastDose.IsZero() && m.now().Sub(m.lastDose) < SettleTime) {
		m.mu.Unlock()
		return false
	}
	doses := Plan(targets,
		m.store.Float("Hydro.ph_current"),
		m.store.Float("Hydro.ec_current"),
		m.store.Float("Hydro.ReservoirL"),
	)
	if len(doses) == 0 {
		m.mu.Unlock()
		return false
	}
	m.dosing = true
	m.lastDose = m.now()
	ctx := m.ctx
	m.mu.Unlock()

	log.Info().Str("room", m.room).Str("mode", mode).Int("doses", len(doses)).Str("reason", doses[0].Reason).Msg("Feed dosing started")
	m.slot.Replace(ctx, func(ctx context.Context) { m.run(ctx, mode, doses) })
	return true
}

func (m *Manager) run(ctx context.Context, mode string, doses []Dose) {
	m.store.SetPath("Feed.Active", true)
	defer func() {
		m.store.SetPath("Feed.Active", false)
		m.mu.Lock()
		m.dosing = false
		m.lastDose = m.now()
		m.mu.Unlock()
	}()

	for i, d := range doses {
		if i > 0 && task.Sleep(ctx, m.after, DoseGap) != nil {
			return
		}
		if err := m.Activate(ctx, mode, d); err != nil {
			log.Warn().Err(err).Str("room", m.room).Str("pump", string(d.Pump)).Float64("ml", d.ML).Msg("Dose skipped")
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Activate runs the pumps of d.Pump for the dose's duration and records it.
func (m *Manager) Activate(ctx context.Context, source string, d Dose) error {
	if len(m.pumps.ByType(d.Pump)) == 0 {
		return fmt.Errorf("%w: %s", ErrNoPump, d.Pump)
	}
	if !m.limiter(d.Pump).AllowN(m.now(), 1) {
		return fmt.Errorf("%w: %s", ErrRateLimited, d.Pump)
	}

	dur := DoseDuration(d.ML, m.store.Float("Feed.FlowRate"))
	m.switchPumps(d.Pump, true)
	err := task.Sleep(ctx, m.after, dur)
	m.switchPumps(d.Pump, false)

	log.Info().Str("room", m.room).Str("pump", string(d.Pump)).Float64("ml", d.ML).Dur("duration", dur).Bool("completed", err == nil).Msg("Dose applied")
	if m.ledger != nil {
		rerr := m.ledger.Append(context.Background(), ledger.Entry{
			EventType: ledger.EventDose,
			Room:      m.room,
			Source:    source,
			Payload: map[string]any{
				"pump":      string(d.Pump),
				"ml":        d.ML,
				"seconds":   dur.Seconds(),
				"reason":    d.Reason,
				"completed": err == nil,
			},
		})
		if rerr != nil {
			log.Error().Err(rerr).Str("room", m.room).Msg("Failed to record dose")
		}
	}
	return err
}

func (m *Manager) limiter(t device.Type) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.limiters[t]
	if !ok {
		l = rate.NewLimiter(rate.Every(PumpInterval), 1)
		m.limiters[t] = l
	}
	return l
}

func (m *Manager) switchPumps(t device.Type, on bool) {
	for _, d := range m.pumps.ByType(t) {
		m.bus.Publish(device.TopicPumpAction, device.PumpAction{Device: d.Name, Type: t, On: on})
	}
}
