// Package growplan keeps the plant day counters of a room current and optionally lets
// a Lua script advance the plant stage.
package growplan

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tentd/internal/eventbus"
	"github.com/dokzlo13/tentd/internal/store"
	"github.com/dokzlo13/tentd/internal/task"
)

// TopicPlantTimeChange requests an immediate recount, e.g. after a date was edited.
const TopicPlantTimeChange = "PlantTimeChange"

const dateLayout = "2006-01-02"

// Days are the counters derived from the plant dates.
type Days struct {
	Total  int
	Bloom  int
	ToChop int
}

// ParseDate parses a YYYY-MM-DD date in loc. An empty string yields the zero time.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(dateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

// Compute counts whole days from the grow start and bloom switch dates to today.
// Dates in the future count as zero. ToChop is only set when breederBloomDays is known.
func Compute(growStart, bloomSwitch string, breederBloomDays float64, today time.Time) (Days, error) {
	loc := today.Location()
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc)

	start, err := ParseDate(growStart, loc)
	if err != nil {
		return Days{}, err
	}
	bloom, err := ParseDate(bloomSwitch, loc)
	if err != nil {
		return Days{}, err
	}

	var d Days
	d.Total = daysBetween(start, day)
	d.Bloom = daysBetween(bloom, day)
	if breederBloomDays > 0 {
		d.ToChop = int(breederBloomDays) - d.Bloom
	}
	return d, nil
}

func daysBetween(from, to time.Time) int {
	if from.IsZero() || from.After(to) {
		return 0
	}
	return int(math.Round(to.Sub(from).Hours() / 24))
}

// Updater recounts the plant days at every local midnight and on PlantTimeChange.
type Updater struct {
	room   string
	store  *store.Store
	bus    *eventbus.Bus
	script *Script
	now    func() time.Time
	after  task.After

	ctx    context.Context
	loop   task.Slot
	mu     sync.Mutex
	unsubs []func()
}

// New creates an updater. script may be nil.
func New(room string, s *store.Store, bus *eventbus.Bus, script *Script) *Updater {
	return &Updater{
		room:   room,
		store:  s,
		bus:    bus,
		script: script,
		now:    time.Now,
		after:  time.After,
		ctx:    context.Background(),
	}
}

// SetClock overrides the wall clock and timer.
func (u *Updater) SetClock(now func() time.Time, after task.After) {
	if now != nil {
		u.now = now
	}
	if after != nil {
		u.after = after
	}
}

// SetNow overrides the wall clock.
func (u *Updater) SetNow(now func() time.Time) {
	u.SetClock(now, nil)
}

// Start subscribes to PlantTimeChange and runs the daily loop until ctx is done.
func (u *Updater) Start(ctx context.Context) {
	u.mu.Lock()
	u.ctx = ctx
	u.unsubs = append(u.unsubs, u.bus.Subscribe(TopicPlantTimeChange, func(eventbus.Event) {
		u.Update(u.baseCtx())
	}))
	u.mu.Unlock()

	u.loop.Replace(ctx, u.run)
}

// Stop unsubscribes and stops the daily loop.
func (u *Updater) Stop() {
	u.mu.Lock()
	unsubs := u.unsubs
	u.unsubs = nil
	u.mu.Unlock()
	for _, fn := range unsubs {
		fn()
	}
	u.loop.Stop()
}

func (u *Updater) baseCtx() context.Context {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.ctx
}

func (u *Updater) run(ctx context.Context) {
	for {
		now := u.now()
		next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 5, 0, now.Location())
		if err := task.Sleep(ctx, u.after, next.Sub(now)); err != nil {
			return
		}
		u.Update(ctx)
	}
}

// Update writes the day counters and asks the script for the stage.
func (u *Updater) Update(ctx context.Context) Days {
	d, err := Compute(
		u.store.String("plantDates.growstartdate"),
		u.store.String("plantDates.bloomswitchdate"),
		u.store.Float("plantDates.breederbloomdays"),
		u.now(),
	)
	if err != nil {
		log.Warn().Err(err).Str("room", u.room).Msg("Plant dates not usable")
		return d
	}

	u.store.Update(func(tx *store.Tx) {
		tx.SetPath("plantDates.planttotaldays", float64(d.Total))
		tx.SetPath("plantDates.totalbloomdays", float64(d.Bloom))
		tx.SetPath("plantDates.daysToChopChop", float64(d.ToChop))
	})
	log.Debug().Str("room", u.room).Int("total", d.Total).Int("bloom", d.Bloom).Int("chop", d.ToChop).Msg("Plant days updated")

	if u.script != nil {
		u.applyScript(ctx, d)
	}
	return d
}

func (u *Updater) applyScript(ctx context.Context, d Days) {
	stage, err := u.script.StageFor(ctx, d.Total, d.Bloom)
	if err != nil {
		log.Error().Err(err).Str("room", u.room).Msg("Stage script failed")
		return
	}
	if stage == "" {
		return
	}
	if !store.IsStage(stage) {
		log.Warn().Str("room", u.room).Str("stage", stage).Msg("Stage script returned unknown stage")
		return
	}
	if u.store.SetPath("plantStage", stage) {
		log.Info().Str("room", u.room).Str("stage", stage).Int("days", d.Total).Msg("Plant stage advanced by script")
	}
}
