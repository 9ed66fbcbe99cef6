// Package host defines the contract with the home-automation host that exposes
// sensors and actuators as addressable entities.
package host

import (
	"context"
	"errors"
	"strings"
)

// ErrUnknownEntity is returned when the host has no state for an entity.
var ErrUnknownEntity = errors.New("host: unknown entity")

// Invalid host values that mean "no reading".
var invalidValues = map[string]bool{
	"":            true,
	"none":        true,
	"unknown":     true,
	"unavailable": true,
}

// IsInvalid reports whether v is one of the host's "no reading" markers.
func IsInvalid(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	return invalidValues[strings.ToLower(strings.TrimSpace(s))]
}

// Entity is one registry entry.
type Entity struct {
	EntityID string `json:"entity_id"`
	Area     string `json:"area"`
	Device   string `json:"device,omitempty"`
	State    any    `json:"state,omitempty"`
}

// StateChange is delivered to subscribers when an entity changes.
type StateChange struct {
	EntityID string
	Old      any
	New      any
}

// Host is the interface to the home-automation host.
type Host interface {
	State(ctx context.Context, entityID string) (any, error)
	Call(ctx context.Context, domain, service string, data map[string]any) error
	Subscribe(handler func(StateChange)) (unsubscribe func())
	Entities(ctx context.Context, area string) ([]Entity, error)
	FireEvent(ctx context.Context, eventType string, data map[string]any) error
}

// Domain returns the part of an entity id before the first dot.
func Domain(entityID string) string {
	if i := strings.IndexByte(entityID, '.'); i >= 0 {
		return entityID[:i]
	}
	return ""
}

// ObjectID returns the part of an entity id after the first dot.
func ObjectID(entityID string) string {
	if i := strings.IndexByte(entityID, '.'); i >= 0 {
		return entityID[i+1:]
	}
	return entityID
}

// Notify sends a persistent notification through the host's notify domain.
func Notify(ctx context.Context, h Host, title, message string) error {
	return h.Call(ctx, "notify", "persistent_notification", map[string]any{
		"title":   title,
		"message": message,
	})
}
