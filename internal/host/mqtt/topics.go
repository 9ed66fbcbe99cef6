package mqtt

import (
	"strconv"
	"strings"

	"github.com/dokzlo13/tentd/internal/host"
)

// Topics builds the topic layout used by the host bridge.
type Topics struct {
	Prefix string
}

// AllStates matches every retained entity state.
func (t Topics) AllStates() string { return t.Prefix + "/+/+/state" }

// AllRegistries matches every area registry.
func (t Topics) AllRegistries() string { return t.Prefix + "/registry/+" }

// State is the retained state topic of an entity.
func (t Topics) State(entityID string) string {
	return t.Prefix + "/" + host.Domain(entityID) + "/" + host.ObjectID(entityID) + "/state"
}

// Set is the command topic for an entity of domain.
func (t Topics) Set(domain, objectID string) string {
	return t.Prefix + "/" + domain + "/" + objectID + "/set"
}

// Event is the topic host events are fired on.
func (t Topics) Event(eventType string) string {
	return t.Prefix + "/event/" + eventType
}

// PremiumActions is where action batches for a room arrive.
func (t Topics) PremiumActions(room string) string {
	return t.Prefix + "/premium/" + room + "/actions"
}

// PremiumRequest is where requests for a new action batch are published.
func (t Topics) PremiumRequest(room string) string {
	return t.Prefix + "/premium/" + room + "/request"
}

// PremiumGrowPlans is where grow plans for a room arrive.
func (t Topics) PremiumGrowPlans(room string) string {
	return t.Prefix + "/premium/" + room + "/grow-plans"
}

// PremiumGrowData is where grow-data snapshots for a room are published.
func (t Topics) PremiumGrowData(room string) string {
	return t.Prefix + "/premium/" + room + "/grow-data"
}

// ParseState extracts the entity id from a state topic.
func (t Topics) ParseState(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/")
	if !ok {
		return "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != "state" || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	return parts[0] + "." + parts[1], true
}

// ParseRegistry extracts the area from a registry topic.
func (t Topics) ParseRegistry(topic string) (string, bool) {
	area, ok := strings.CutPrefix(topic, t.Prefix+"/registry/")
	if !ok || area == "" || strings.Contains(area, "/") {
		return "", false
	}
	return area, true
}

// ParsePayload decodes a state payload: numbers become float64, everything else a string.
func ParsePayload(payload []byte) any {
	s := strings.TrimSpace(string(payload))
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
