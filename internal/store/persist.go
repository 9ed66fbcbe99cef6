package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/rs/zerolog/log"
)

// HostKey is the key of the host handle, which is never serialized.
const HostKey = "host"

type kind int

const (
	kindMap kind = iota
	kindString
	kindNumber
)

// schema lists the top-level groups restored by LoadFile and their JSON kinds.
var schema = map[string]kind{
	"tentData":          kindMap,
	"vpd":               kindMap,
	"isPlantDay":        kindMap,
	"controlOptions":    kindMap,
	"controlOptionData": kindMap,
	"plantStages":       kindMap,
	"plantDates":        kindMap,
	"Hydro":             kindMap,
	"Feed":              kindMap,
	"drying":            kindMap,
	"DeviceMinMax":      kindMap,
	"DeviceProfiles":    kindMap,
	"plantStage":        kindString,
	"strainName":        kindString,
	"tentMode":          kindString,
	"mainControl":       kindString,
	"growAreaM2":        kindNumber,
}

// StatePath returns the snapshot location for a room below dataDir.
func StatePath(dataDir, room string) string {
	return filepath.Join(dataDir, "ogb_data", fmt.Sprintf("ogb_%s_state.json", room))
}

// SaveFile writes the tree as JSON, skipping the host handle and breaking cycles.
func (s *Store) SaveFile(path string) error {
	s.mu.RLock()
	out := serializable(s.data, make(map[uintptr]bool))
	s.mu.RUnlock()

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace state: %w", err)
	}
	return nil
}

// LoadFile restores the groups of a saved tree that validate against the schema.
// Transient groups (readings, capabilities) are rebuilt at runtime and not restored.
func (s *Store) LoadFile(path string) (restored int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNoState
		}
		return 0, fmt.Errorf("failed to read state: %w", err)
	}

	var saved map[string]any
	if err := json.Unmarshal(data, &saved); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStateInvalid, err)
	}

	s.Update(func(tx *Tx) {
		for key, v := range saved {
			want, known := schema[key]
			if !known {
				continue
			}
			if !matches(want, v) {
				log.Warn().Str("room", s.room).Str("key", key).Msg("Skipping state entry with unexpected type")
				continue
			}
			if m, ok := v.(map[string]any); ok {
				// Merge leaves so groups added since the snapshot keep their defaults.
				for _, leaf := range leaves(key, m) {
					tx.SetPath(leaf.path, leaf.value)
				}
			} else {
				tx.SetPath(key, v)
			}
			restored++
		}
	})
	return restored, nil
}

func matches(k kind, v any) bool {
	switch k {
	case kindMap:
		_, ok := v.(map[string]any)
		return ok
	case kindString:
		_, ok := v.(string)
		return ok
	case kindNumber:
		_, ok := v.(float64)
		return ok
	}
	return false
}

type leaf struct {
	path  string
	value any
}

func leaves(prefix string, m map[string]any) []leaf {
	var out []leaf
	for k, v := range m {
		p := prefix + "." + k
		if child, ok := v.(map[string]any); ok && len(child) > 0 {
			out = append(out, leaves(p, child)...)
			continue
		}
		out = append(out, leaf{path: p, value: v})
	}
	return out
}

// serializable copies v into JSON-encodable values. Map cycles are cut by identity.
func serializable(v any, seen map[uintptr]bool) any {
	switch x := v.(type) {
	case map[string]any:
		ptr := reflect.ValueOf(x).Pointer()
		if seen[ptr] {
			return nil
		}
		seen[ptr] = true
		defer delete(seen, ptr)

		out := make(map[string]any, len(x))
		for k, item := range x {
			if k == HostKey {
				continue
			}
			out[k] = serializable(item, seen)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = serializable(item, seen)
		}
		return out
	case nil, bool, string, float64:
		return x
	}
	if _, err := json.Marshal(v); err != nil {
		return nil
	}
	return v
}
