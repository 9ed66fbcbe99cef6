package app

import (
	"errors"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tentd/internal/host"
	"github.com/dokzlo13/tentd/internal/registry"
	"github.com/dokzlo13/tentd/internal/room"
)

// fanOutAmbient mirrors ambient and outside climate sensors into every room. These
// sensors usually live outside the room areas, so no room listener sees them.
func (s *Services) fanOutAmbient(sc host.StateChange) {
	where, kind, ok := room.AmbientOf(sc.EntityID)
	if !ok {
		return
	}
	v, ok := registry.ParseValue(sc.New)
	if !ok {
		return
	}
	for _, r := range s.Rooms {
		r.ApplyAmbient(where, kind, v)
	}
	log.Debug().Str("entity", sc.EntityID).Str("where", where).Interface("value", v).Msg("Ambient reading applied")
}

func removeState(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
