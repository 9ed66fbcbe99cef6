package host

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Call records one service call made against a Memory host.
type Call struct {
	Domain  string
	Service string
	Data    map[string]any
}

// EntityID returns the target entity of the call, if any.
func (c Call) EntityID() string {
	id, _ := c.Data["entity_id"].(string)
	return id
}

// FiredEvent records one event fired against a Memory host.
type FiredEvent struct {
	Type string
	Data map[string]any
}

// Memory is an in-process Host. Service calls update the target entity state the
// way the real host would, so devices observe their own commands.
type Memory struct {
	mu       sync.Mutex
	states   map[string]any
	areas    map[string]string
	devices  map[string]string
	calls    []Call
	events   []FiredEvent
	failures map[string]error

	subMu  sync.RWMutex
	subs   map[uint64]func(StateChange)
	nextID uint64
}

var _ Host = (*Memory)(nil)

// NewMemory returns an empty in-memory host.
func NewMemory() *Memory {
	return &Memory{
		states:   make(map[string]any),
		areas:    make(map[string]string),
		devices:  make(map[string]string),
		failures: make(map[string]error),
		subs:     make(map[uint64]func(StateChange)),
	}
}

// AddEntity registers an entity in area with an initial state.
func (m *Memory) AddEntity(entityID, area string, state any) {
	m.mu.Lock()
	m.states[entityID] = state
	m.areas[entityID] = area
	m.mu.Unlock()
}

// RemoveEntity drops an entity from the registry.
func (m *Memory) RemoveEntity(entityID string) {
	m.mu.Lock()
	delete(m.states, entityID)
	delete(m.areas, entityID)
	delete(m.devices, entityID)
	m.mu.Unlock()
}

// SetState changes an entity state and notifies subscribers.
func (m *Memory) SetState(entityID string, state any) {
	m.mu.Lock()
	old := m.states[entityID]
	m.states[entityID] = state
	m.mu.Unlock()

	m.publish(StateChange{EntityID: entityID, Old: old, New: state})
}

// FailCalls makes every call targeting entityID return err. A nil err clears it.
func (m *Memory) FailCalls(entityID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, entityID)
		return
	}
	m.failures[entityID] = err
}

// Calls returns the service calls made so far.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Events returns the events fired so far.
func (m *Memory) Events() []FiredEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]FiredEvent(nil), m.events...)
}

// Reset clears recorded calls and events.
func (m *Memory) Reset() {
	m.mu.Lock()
	m.calls = nil
	m.events = nil
	m.mu.Unlock()
}

// State implements Host.
func (m *Memory) State(_ context.Context, entityID string) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.states[entityID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entityID)
	}
	return v, nil
}

// Call implements Host.
func (m *Memory) Call(_ context.Context, domain, service string, data map[string]any) error {
	c := Call{Domain: domain, Service: service, Data: data}

	m.mu.Lock()
	m.calls = append(m.calls, c)
	id := c.EntityID()
	if err, ok := m.failures[id]; ok {
		m.mu.Unlock()
		return err
	}
	_, known := m.states[id]
	m.mu.Unlock()

	if id == "" || !known {
		return nil
	}
	if next, ok := applyService(service, data); ok {
		m.SetState(id, next)
	}
	return nil
}

// applyService returns the state a service call leaves the entity in.
func applyService(service string, data map[string]any) (any, bool) {
	switch service {
	case "turn_on":
		return "on", true
	case "turn_off":
		return "off", true
	case "select_option":
		return data["option"], true
	case "set_value":
		return data["value"], true
	case "set_hvac_mode":
		return data["hvac_mode"], true
	case "set_percentage":
		switch p := data["percentage"].(type) {
		case float64:
			if p == 0 {
				return "off", true
			}
		case int:
			if p == 0 {
				return "off", true
			}
		}
		return "on", true
	}
	return nil, false
}

// Subscribe implements Host.
func (m *Memory) Subscribe(handler func(StateChange)) func() {
	m.subMu.Lock()
	m.nextID++
	id := m.nextID
	m.subs[id] = handler
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

func (m *Memory) publish(c StateChange) {
	m.subMu.RLock()
	ids := make([]uint64, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]func(StateChange), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, m.subs[id])
	}
	m.subMu.RUnlock()

	for _, h := range handlers {
		h(c)
	}
}

// Entities implements Host.
func (m *Memory) Entities(_ context.Context, area string) ([]Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Entity
	for id, a := range m.areas {
		if area != "" && a != area {
			continue
		}
		out = append(out, Entity{EntityID: id, Area: a, Device: m.devices[id], State: m.states[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}

// FireEvent implements Host.
func (m *Memory) FireEvent(_ context.Context, eventType string, data map[string]any) error {
	m.mu.Lock()
	m.events = append(m.events, FiredEvent{Type: eventType, Data: data})
	m.mu.Unlock()
	return nil
}
