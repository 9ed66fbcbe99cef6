package action

import (
	"strings"

	"github.com/dokzlo13/tentd/internal/device"
)

var urgentKeywords = []string{"Critical", "Notfall", "Dewpoint", "CO₂"}

func urgent(msg string) bool {
	for _, k := range urgentKeywords {
		if strings.Contains(msg, k) {
			return true
		}
	}
	return false
}

func important(a Action) bool {
	return a.Priority >= High || urgent(a.Message)
}

// Resolve leaves at most one action per capability, in order of first
// appearance.
//
// Identical (capability, action) pairs keep the important one, else the
// first. Opposite actions on one capability are settled by emergency
// priority, then an urgent message, then high priority, and finally
// Increase wins.
func Resolve(actions []Action) []Action {
	type key struct{ capability, action string }
	deduped := make(map[key]Action, len(actions))
	var order []string
	seenCap := make(map[string]bool)

	for _, a := range actions {
		k := key{a.Capability, a.Action}
		cur, ok := deduped[k]
		switch {
		case !ok:
			deduped[k] = a
		case important(a) && (!important(cur) || a.Priority > cur.Priority):
			deduped[k] = a
		}
		if !seenCap[a.Capability] {
			seenCap[a.Capability] = true
			order = append(order, a.Capability)
		}
	}

	out := make([]Action, 0, len(order))
	for _, c := range order {
		inc, hasInc := deduped[key{c, device.Increase}]
		red, hasRed := deduped[key{c, device.Reduce}]
		switch {
		case hasInc && hasRed:
			out = append(out, pick(inc, red))
		case hasInc:
			out = append(out, inc)
		case hasRed:
			out = append(out, red)
		default:
			// Eval or other verbs pass through untouched
			for k, a := range deduped {
				if k.capability == c {
					out = append(out, a)
					break
				}
			}
		}
	}
	return out
}

func pick(inc, red Action) Action {
	if (inc.Priority == Emergency) != (red.Priority == Emergency) {
		if red.Priority == Emergency {
			return red
		}
		return inc
	}
	if urgent(inc.Message) != urgent(red.Message) {
		if urgent(red.Message) {
			return red
		}
		return inc
	}
	if (inc.Priority >= High) != (red.Priority >= High) {
		if red.Priority >= High {
			return red
		}
		return inc
	}
	return inc
}
