// Package store holds a room's state tree addressed by dotted paths.
package store

import (
	"encoding/json"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Change describes a mutation of one path.
type Change struct {
	Path string
	Old  any
	New  any
}

// Store is a mutex-guarded state tree. Subscribers are notified after the lock is released.
type Store struct {
	room string

	mu   sync.RWMutex
	data map[string]any

	subMu  sync.RWMutex
	subs   map[uint64]func(Change)
	nextID uint64
}

// New returns a store seeded with the default room state.
func New(room string) *Store {
	return &Store{
		room: room,
		data: Defaults(),
		subs: make(map[uint64]func(Change)),
	}
}

// NewEmpty returns a store with no state at all.
func NewEmpty(room string) *Store {
	return &Store{
		room: room,
		data: make(map[string]any),
		subs: make(map[uint64]func(Change)),
	}
}

// Room returns the room name the store belongs to.
func (s *Store) Room() string { return s.room }

// Subscribe registers fn for every change. The returned func removes it.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(changes []Change) {
	if len(changes) == 0 {
		return
	}
	s.subMu.RLock()
	ids := make([]uint64, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subMu.RUnlock()

	for _, c := range changes {
		for _, fn := range fns {
			fn(c)
		}
	}
}

// Get returns the top-level value stored under key.
func (s *Store) Get(key string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.data[key])
}

// Set stores a top-level value. It reports whether the value changed.
func (s *Store) Set(key string, v any) bool {
	return s.SetPath(key, v)
}

// GetPath returns the value at a dotted path.
func (s *Store) GetPath(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := lookup(s.data, path)
	return clone(v), ok
}

// SetPath stores v at a dotted path, creating intermediate maps. Setting an equal
// value is a no-op and emits nothing.
func (s *Store) SetPath(path string, v any) bool {
	tx := &Tx{s: s}
	s.mu.Lock()
	tx.SetPath(path, v)
	changes := tx.changes
	s.mu.Unlock()

	s.notify(changes)
	return len(changes) > 0
}

// Delete removes the value at path.
func (s *Store) Delete(path string) bool {
	s.mu.Lock()
	parent, last := parentOf(s.data, path, false)
	if parent == nil {
		s.mu.Unlock()
		return false
	}
	old, ok := parent[last]
	if ok {
		delete(parent, last)
	}
	s.mu.Unlock()

	if ok {
		s.notify([]Change{{Path: path, Old: old}})
	}
	return ok
}

// Tx is a batch of writes applied under one lock.
type Tx struct {
	s       *Store
	changes []Change
}

// SetPath stores v at path inside the transaction.
func (tx *Tx) SetPath(path string, v any) {
	nv := normalize(v, nil)
	parent, last := parentOf(tx.s.data, path, true)
	old, existed := parent[last]
	if existed && reflect.DeepEqual(old, nv) {
		return
	}
	parent[last] = nv
	tx.changes = append(tx.changes, Change{Path: path, Old: old, New: clone(nv)})
}

// GetPath reads path inside the transaction.
func (tx *Tx) GetPath(path string) (any, bool) {
	return lookup(tx.s.data, path)
}

// Float reads a numeric value inside the transaction.
func (tx *Tx) Float(path string) float64 {
	v, _ := lookup(tx.s.data, path)
	f, _ := ToFloat(v)
	return f
}

// Update runs fn with exclusive access to the tree. Changes are published once fn returns.
func (s *Store) Update(fn func(tx *Tx)) {
	tx := &Tx{s: s}
	s.mu.Lock()
	fn(tx)
	changes := tx.changes
	s.mu.Unlock()

	s.notify(changes)
}

// Snapshot returns a deep copy of the whole tree.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.data).(map[string]any)
}

// Lookup reports whether a value exists at path.
func (s *Store) Lookup(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := lookup(s.data, path)
	return ok
}

// Float returns the numeric value at path, or 0.
func (s *Store) Float(path string) float64 {
	f, _ := s.FloatOK(path)
	return f
}

// FloatOK returns the numeric value at path and whether it parsed.
func (s *Store) FloatOK(path string) (float64, bool) {
	s.mu.RLock()
	v, ok := lookup(s.data, path)
	s.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return ToFloat(v)
}

// Int returns the value at path truncated to an int.
func (s *Store) Int(path string) int {
	return int(s.Float(path))
}

// Bool returns the boolean at path. YES/NO strings are accepted.
func (s *Store) Bool(path string) bool {
	s.mu.RLock()
	v, _ := lookup(s.data, path)
	s.mu.RUnlock()
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToUpper(b) {
		case "YES", "TRUE", "ON":
			return true
		}
	}
	return false
}

// String returns the string at path. Numbers are formatted.
func (s *Store) String(path string) string {
	s.mu.RLock()
	v, _ := lookup(s.data, path)
	s.mu.RUnlock()
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return ""
}

// Strings returns the string list at path.
func (s *Store) Strings(path string) []string {
	s.mu.RLock()
	v, _ := lookup(s.data, path)
	s.mu.RUnlock()
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		if str, ok := item.(string); ok {
			out = append(out, str)
		}
	}
	return out
}

// Map returns a copy of the map at path, or nil.
func (s *Store) Map(path string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, _ := lookup(s.data, path)
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return clone(m).(map[string]any)
}

// Duration parses an HH:MM:SS (or HH:MM) value at path as time of day.
func (s *Store) Duration(path string) (time.Duration, bool) {
	return ParseClock(s.String(path))
}

// ParseClock parses "HH:MM:SS" or "HH:MM" into a duration since midnight.
func ParseClock(v string) (time.Duration, bool) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	var fields [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, false
		}
		fields[i] = n
	}
	if fields[0] > 23 || fields[1] > 59 || fields[2] > 59 {
		return 0, false
	}
	return time.Duration(fields[0])*time.Hour + time.Duration(fields[1])*time.Minute + time.Duration(fields[2])*time.Second, true
}

// ToFloat converts host and JSON numeric representations to float64.
func ToFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

func lookup(root map[string]any, path string) (any, bool) {
	var cur any = root
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func parentOf(root map[string]any, path string, create bool) (map[string]any, string) {
	parts := strings.Split(path, ".")
	cur := root
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			if !create {
				return nil, ""
			}
			next = make(map[string]any)
			cur[part] = next
		}
		cur = next
	}
	return cur, parts[len(parts)-1]
}

// normalize converts values into the JSON-shaped types the tree stores so that
// equality survives a save/load round trip.
func normalize(v any, seen map[uintptr]bool) any {
	switch x := v.(type) {
	case nil, bool, string, float64:
		return x
	case int, int64, int32, float32, json.Number:
		f, _ := ToFloat(x)
		return f
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case []float64:
		out := make([]any, len(x))
		for i, f := range x {
			out[i] = f
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = normalize(item, seen)
		}
		return out
	case map[string]any:
		ptr := reflect.ValueOf(x).Pointer()
		if seen == nil {
			seen = make(map[uintptr]bool)
		}
		if seen[ptr] {
			return nil
		}
		seen[ptr] = true
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = normalize(item, seen)
		}
		delete(seen, ptr)
		return out
	}
	return v
}

func clone(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = clone(item)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = clone(item)
		}
		return out
	}
	return v
}
