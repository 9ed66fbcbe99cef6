package premium

import (
	"strings"

	"github.com/dokzlo13/tentd/internal/action"
	"github.com/dokzlo13/tentd/internal/device"
)

// Controller types accepted in batches.
var controllerTypes = map[string]bool{"PID": true, "MCP": true, "AI": true, "OGB": true}

// BatchAction is one device command of a batch.
type BatchAction struct {
	Device   string `json:"device"`
	Action   string `json:"action"`
	Priority string `json:"priority"`
}

// Batch is an action batch pushed by the premium planner.
type Batch struct {
	ID             string        `json:"id"`
	ControllerType string        `json:"controller_type"`
	Actions        []BatchAction `json:"actions"`
}

// Winners reduces a batch to one action per capability: the highest priority wins,
// the earlier entry on a tie. Unknown devices, actions and priorities are dropped.
func Winners(actions []BatchAction) []action.Action {
	var order []string
	best := make(map[string]action.Action)

	for _, ba := range actions {
		capability, ok := device.CapabilityForLabel(strings.TrimSpace(ba.Device))
		if !ok {
			continue
		}
		verb, ok := parseVerb(ba.Action)
		if !ok {
			continue
		}
		prio, ok := action.ParsePriority(ba.Priority)
		if !ok || prio > action.High {
			continue
		}
		a := action.Action{Capability: capability, Action: verb, Priority: prio, Message: "premium"}
		cur, seen := best[capability]
		if !seen {
			order = append(order, capability)
			best[capability] = a
			continue
		}
		if a.Priority > cur.Priority {
			best[capability] = a
		}
	}

	out := make([]action.Action, 0, len(order))
	for _, c := range order {
		out = append(out, best[c])
	}
	return out
}

func parseVerb(s string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "increase", "on":
		return device.Increase, true
	case "reduce", "decrease", "off":
		return device.Reduce, true
	}
	return "", false
}
