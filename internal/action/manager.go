package action

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tentd/internal/eventbus"
	"github.com/dokzlo13/tentd/internal/store"
)

// EmergencyDuration is how long cooldowns are bypassed after an emergency.
const EmergencyDuration = 5 * time.Second

// Cooldown is the dampening record of one capability.
type Cooldown struct {
	LastAction time.Time
	ActionType string
	Until      time.Time
	Repeat     time.Time
}

// Manager plans and emits actions for one room.
type Manager struct {
	room  string
	store *store.Store
	bus   *eventbus.Bus
	now   func() time.Time

	mu             sync.Mutex
	cooldowns      map[string]Cooldown
	emergencyUntil time.Time
}

// NewManager creates an action manager.
func NewManager(room string, s *store.Store, bus *eventbus.Bus) *Manager {
	return &Manager{
		room:      room,
		store:     s,
		bus:       bus,
		now:       time.Now,
		cooldowns: make(map[string]Cooldown),
	}
}

// SetNow overrides the clock.
func (m *Manager) SetNow(now func() time.Time) { m.now = now }

// Handle plans direction against the current room state, applies dampening
// and emits the surviving actions.
func (m *Manager) Handle(direction string) Plan {
	env := ReadEnv(m.store)
	p := Build(direction, env)
	p.Room = m.room

	if p.NightHold {
		m.emit(p)
		return p
	}

	now := m.now()
	m.mu.Lock()
	if p.Emergency {
		m.cooldowns = make(map[string]Cooldown)
		m.emergencyUntil = now.Add(EmergencyDuration)
		log.Warn().Str("room", m.room).Str("status", string(p.Status)).Msg("Emergency mode, cooldowns cleared")
	}

	if env.Dampening {
		emergency := now.Before(m.emergencyUntil)
		var allowed, blocked []Action
		for _, a := range p.Actions {
			if emergency || m.allowedLocked(a, now) {
				allowed = append(allowed, a)
			} else {
				blocked = append(blocked, a)
			}
		}
		if len(allowed) == 0 && len(blocked) > 0 {
			if a, ok := criticalFallback(p.Status, blocked); ok {
				log.Warn().Str("room", m.room).Str("capability", a.Capability).Msg("All actions dampened, forcing critical action")
				allowed = []Action{a}
				blocked = removeCapability(blocked, a.Capability)
			}
		}
		p.Actions, p.Blocked = allowed, blocked
	}

	for _, a := range p.Actions {
		m.recordLocked(a, env, p.TempDev, p.HumDev, now)
	}
	m.mu.Unlock()

	m.emit(p)
	return p
}

// EmitDirect emits externally planned actions. Conflicts are resolved and
// cooldowns recorded, but dampening does not block them.
func (m *Manager) EmitDirect(source string, actions []Action) Plan {
	env := ReadEnv(m.store)
	p := Plan{Room: m.room, Direction: source, Actions: Resolve(actions)}
	p.TempDev, p.HumDev = Deviations(env)

	now := m.now()
	m.mu.Lock()
	for _, a := range p.Actions {
		m.recordLocked(a, env, p.TempDev, p.HumDev, now)
	}
	m.mu.Unlock()

	m.emit(p)
	return p
}

// Cooldown returns the dampening record of capability.
func (m *Manager) Cooldown(capability string) (Cooldown, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cooldowns[capability]
	return c, ok
}

// InEmergency reports whether emergency mode is active.
func (m *Manager) InEmergency() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now().Before(m.emergencyUntil)
}

func (m *Manager) allowedLocked(a Action, now time.Time) bool {
	c, ok := m.cooldowns[a.Capability]
	if !ok || !now.Before(c.Until) {
		return true
	}
	return a.Action != c.ActionType && !now.Before(c.Repeat)
}

func (m *Manager) recordLocked(a Action, env Env, tdev, hdev float64, now time.Time) {
	d := CooldownFor(a.Capability, env, tdev, hdev)
	m.cooldowns[a.Capability] = Cooldown{
		LastAction: now,
		ActionType: a.Action,
		Until:      now.Add(d),
		Repeat:     now.Add(d / 2),
	}
}

// CooldownFor returns the adaptive cooldown of capability.
func CooldownFor(capability string, env Env, tdev, hdev float64) time.Duration {
	minutes, ok := env.Cooldowns[capability]
	if !ok {
		minutes, ok = store.DefaultCooldowns[capability]
	}
	if !ok {
		minutes = 1
	}
	minutes *= Multiplier(relevantDeviation(capability, env, tdev, hdev))
	return time.Duration(minutes * float64(time.Minute))
}

// Multiplier scales a cooldown by the size of the deviation it addresses.
func Multiplier(dev float64) float64 {
	d := math.Abs(dev)
	switch {
	case d > 5:
		return 1.5
	case d > 3:
		return 1.2
	case d < 1:
		return 0.8
	}
	return 1
}

func relevantDeviation(capability string, env Env, tdev, hdev float64) float64 {
	for _, p := range env.Profiles {
		if p.Capability != capability {
			continue
		}
		switch p.Type {
		case "temperature":
			return tdev
		case "humidity":
			return hdev
		}
		break
	}
	if math.Abs(tdev) > math.Abs(hdev) {
		return tdev
	}
	return hdev
}

func removeCapability(actions []Action, capability string) []Action {
	out := actions[:0]
	for _, a := range actions {
		if a.Capability != capability {
			out = append(out, a)
		}
	}
	return out
}

func (m *Manager) emit(p Plan) {
	for _, a := range p.Actions {
		log.Debug().Str("room", m.room).Str("topic", a.Topic()).Str("priority", a.Priority.String()).Str("reason", a.Message).Msg("Emitting action")
		m.bus.Publish(a.Topic(), a)
	}
	if len(p.Actions) > 0 || len(p.Blocked) > 0 {
		log.Info().Str("room", m.room).Str("direction", p.Direction).Str("status", string(p.Status)).
			Int("actions", len(p.Actions)).Int("dampened", len(p.Blocked)).Bool("emergency", p.Emergency).
			Msg("Action plan emitted")
	}
	m.bus.Publish(TopicPlanEmitted, p)
}
