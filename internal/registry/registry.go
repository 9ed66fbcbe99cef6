// Package registry tracks the host entities that belong to one room.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tentd/internal/eventbus"
	"github.com/dokzlo13/tentd/internal/host"
	"github.com/dokzlo13/tentd/internal/sensor"
	"github.com/dokzlo13/tentd/internal/task"
)

// Topics emitted for every accepted state change.
const (
	TopicRoomUpdate  = "RoomUpdate"
	TopicLightUpdate = "LightSheduleUpdate"
)

// ConfigGroup is the leading token of the room's own configuration entities.
const ConfigGroup = "ogb"

var relevantDomains = map[string]bool{
	"switch": true, "light": true, "fan": true, "humidifier": true, "climate": true,
	"number": true, "select": true, "text": true, "time": true, "date": true, "sensor": true,
}

var relevantKeywords = []string{
	"_temperature", "_humidity", "_dewpoint", "_duty", "_voltage", "co2", "moisture",
	"ec", "ph", "tds", "lumen", "lux", "illuminance", "ppfd", "dli",
}

// EntityUpdate is the payload of RoomUpdate and LightSheduleUpdate.
type EntityUpdate struct {
	EntityID string
	Value    any
	Old      any
}

// Candidate is a group of entities sharing a leading name token.
type Candidate struct {
	Name     string
	Entities []sensor.Reading
}

// Retry controls how invalid readings are re-polled.
type Retry struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetry polls an invalid reading five times, one second apart.
var DefaultRetry = Retry{Attempts: 5, Delay: time.Second}

// Relevant reports whether an entity id is of interest to the controller.
func Relevant(entityID string) bool {
	if relevantDomains[host.Domain(entityID)] {
		return true
	}
	id := strings.ToLower(entityID)
	for _, k := range relevantKeywords {
		if strings.Contains(id, k) {
			return true
		}
	}
	return false
}

// GroupName returns the leading token of an entity's object id.
func GroupName(entityID string) string {
	obj := host.ObjectID(entityID)
	if i := strings.IndexByte(obj, '_'); i > 0 {
		return obj[:i]
	}
	return obj
}

// ParseValue converts a host value: numbers where possible, otherwise the string.
// Invalid markers report false.
func ParseValue(v any) (any, bool) {
	if host.IsInvalid(v) {
		return nil, false
	}
	if f, ok := sensor.Numeric(v); ok {
		return f, true
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x), true
	case bool:
		return x, true
	}
	return nil, false
}

// Listener follows one room's entities on the host.
type Listener struct {
	room  string
	area  string
	host  host.Host
	bus   *eventbus.Bus
	retry Retry
	after task.After

	mu      sync.RWMutex
	members map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	unsub  func()
}

// New returns a listener for the entities of area.
func New(room, area string, h host.Host, bus *eventbus.Bus) *Listener {
	return &Listener{
		room:    room,
		area:    area,
		host:    h,
		bus:     bus,
		retry:   DefaultRetry,
		after:   time.After,
		members: make(map[string]bool),
	}
}

// SetRetry overrides the invalid-value retry policy.
func (l *Listener) SetRetry(r Retry) { l.retry = r }

// SetAfter overrides the timer used between retries.
func (l *Listener) SetAfter(after task.After) { l.after = after }

// Start loads room membership and subscribes to host state changes.
func (l *Listener) Start(ctx context.Context) error {
	l.ctx, l.cancel = context.WithCancel(ctx)
	if _, err := l.Refresh(ctx); err != nil {
		return err
	}
	l.unsub = l.host.Subscribe(l.onStateChange)
	log.Info().Str("room", l.room).Str("area", l.area).Int("entities", l.memberCount()).Msg("Registry listener started")
	return nil
}

// Stop unsubscribes and waits for pending retries.
func (l *Listener) Stop() {
	if l.unsub != nil {
		l.unsub()
	}
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

// Refresh re-enumerates the room's entities and returns the relevant ones.
func (l *Listener) Refresh(ctx context.Context) ([]host.Entity, error) {
	entities, err := l.host.Entities(ctx, l.area)
	if err != nil {
		return nil, err
	}
	members := make(map[string]bool, len(entities))
	relevant := entities[:0:0]
	for _, e := range entities {
		if !Relevant(e.EntityID) {
			continue
		}
		members[e.EntityID] = true
		relevant = append(relevant, e)
	}
	l.mu.Lock()
	l.members = members
	l.mu.Unlock()
	return relevant, nil
}

// IsMember reports whether entityID belongs to the room.
func (l *Listener) IsMember(entityID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.members[entityID]
}

func (l *Listener) memberCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.members)
}

// Groups clusters the room's entities into device candidates. Configuration
// entities are not devices and are skipped.
func (l *Listener) Groups(ctx context.Context) ([]Candidate, error) {
	entities, err := l.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	return Group(entities), nil
}

// Group clusters entities by the leading token of their object id.
func Group(entities []host.Entity) []Candidate {
	byName := make(map[string]*Candidate)
	for _, e := range entities {
		name := GroupName(e.EntityID)
		if name == "" || name == ConfigGroup {
			continue
		}
		c, ok := byName[name]
		if !ok {
			c = &Candidate{Name: name}
			byName[name] = c
		}
		c.Entities = append(c.Entities, sensor.Reading{EntityID: e.EntityID, Value: e.State})
	}
	out := make([]Candidate, 0, len(byName))
	for _, c := range byName {
		sort.Slice(c.Entities, func(i, j int) bool { return c.Entities[i].EntityID < c.Entities[j].EntityID })
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (l *Listener) onStateChange(sc host.StateChange) {
	if !l.IsMember(sc.EntityID) {
		return
	}
	if v, ok := ParseValue(sc.New); ok {
		l.emit(EntityUpdate{EntityID: sc.EntityID, Value: v, Old: sc.Old})
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.retryInvalid(sc)
	}()
}

func (l *Listener) retryInvalid(sc host.StateChange) {
	v, err := l.Poll(l.ctx, sc.EntityID)
	if err != nil {
		if errors.Is(err, ErrSensorInvalid) {
			log.Debug().Err(err).Str("room", l.room).Str("entity", sc.EntityID).Msg("Dropping invalid reading")
		}
		return
	}
	l.emit(EntityUpdate{EntityID: sc.EntityID, Value: v, Old: sc.Old})
}

// Poll re-reads entityID until it reports a valid value, at most Retry.Attempts times.
// It returns ErrSensorInvalid when every attempt failed.
func (l *Listener) Poll(ctx context.Context, entityID string) (any, error) {
	for attempt := 1; attempt <= l.retry.Attempts; attempt++ {
		if err := task.Sleep(ctx, l.after, l.retry.Delay); err != nil {
			return nil, err
		}
		raw, err := l.host.State(ctx, entityID)
		if err != nil {
			continue
		}
		if v, ok := ParseValue(raw); ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: %s after %d attempts", ErrSensorInvalid, entityID, l.retry.Attempts)
}

func (l *Listener) emit(u EntityUpdate) {
	l.bus.Publish(TopicRoomUpdate, u)
	l.bus.Publish(TopicLightUpdate, u)
}
