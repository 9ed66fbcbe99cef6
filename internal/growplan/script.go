package growplan

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

const stageFunc = "stage_for"

// Script is a room's stage script. It must define stage_for(days, bloomdays) returning a
// plant stage name or nil. The Lua state is not goroutine-safe, calls are serialized.
type Script struct {
	mu   sync.Mutex
	L    *lua.LState
	room string
}

// LoadScript executes the file at path.
func LoadScript(room, path string) (*Script, error) {
	s := newScript(room)
	log.Info().Str("room", room).Str("path", path).Msg("Loading stage script")
	if err := s.L.DoFile(path); err != nil {
		s.L.Close()
		return nil, fmt.Errorf("%w: %w", ErrScript, err)
	}
	return s.check()
}

// LoadString executes src.
func LoadString(room, src string) (*Script, error) {
	s := newScript(room)
	if err := s.L.DoString(src); err != nil {
		s.L.Close()
		return nil, fmt.Errorf("%w: %w", ErrScript, err)
	}
	return s.check()
}

func newScript(room string) *Script {
	L := lua.NewState()
	s := &Script{L: L, room: room}
	L.PreloadModule("log", s.logLoader)
	return s
}

func (s *Script) check() (*Script, error) {
	if s.L.GetGlobal(stageFunc).Type() != lua.LTFunction {
		s.L.Close()
		return nil, fmt.Errorf("%w: %s is not defined", ErrScript, stageFunc)
	}
	return s, nil
}

// StageFor calls stage_for. An empty string means the script kept the current stage.
func (s *Script) StageFor(ctx context.Context, days, bloomDays int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	err := s.L.CallByParam(lua.P{
		Fn:      s.L.GetGlobal(stageFunc),
		NRet:    1,
		Protect: true,
	}, lua.LNumber(days), lua.LNumber(bloomDays))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrScript, err)
	}
	ret := s.L.Get(-1)
	s.L.Pop(1)

	switch v := ret.(type) {
	case *lua.LNilType:
		return "", nil
	case lua.LString:
		return string(v), nil
	default:
		return "", fmt.Errorf("%w: %s returned %s", ErrScript, stageFunc, ret.Type())
	}
}

// Close releases the Lua state.
func (s *Script) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.L.Close()
}

// logLoader exposes log.debug/info/warn/error(msg, fields) to the script.
func (s *Script) logLoader(L *lua.LState) int {
	mod := L.NewTable()
	L.SetField(mod, "debug", L.NewFunction(func(L *lua.LState) int {
		return s.logAt(L, log.Debug)
	}))
	L.SetField(mod, "info", L.NewFunction(func(L *lua.LState) int {
		return s.logAt(L, log.Info)
	}))
	L.SetField(mod, "warn", L.NewFunction(func(L *lua.LState) int {
		return s.logAt(L, log.Warn)
	}))
	L.SetField(mod, "error", L.NewFunction(func(L *lua.LState) int {
		return s.logAt(L, log.Error)
	}))
	L.Push(mod)
	return 1
}

func (s *Script) logAt(L *lua.LState, level func() *zerolog.Event) int {
	msg := L.CheckString(1)
	event := level().Str("source", "lua").Str("room", s.room)
	if tbl, ok := L.Get(2).(*lua.LTable); ok {
		tbl.ForEach(func(key, value lua.LValue) {
			event = event.Interface(lua.LVAsString(key), luaToGo(value))
		})
	}
	event.Msg(msg)
	return 0
}

func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		out := make(map[string]any)
		val.ForEach(func(k, v lua.LValue) {
			out[lua.LVAsString(k)] = luaToGo(v)
		})
		return out
	}
	return nil
}
