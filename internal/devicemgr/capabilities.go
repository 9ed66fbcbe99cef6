package devicemgr

import "github.com/dokzlo13/tentd/internal/store"

// AddCapability records name under capability. State and count follow the entity list.
func AddCapability(s *store.Store, capability, name string) {
	path := "capabilities." + capability
	s.Update(func(tx *store.Tx) {
		devs := entities(tx, path)
		for _, d := range devs {
			if d == name {
				writeCapability(tx, path, devs)
				return
			}
		}
		writeCapability(tx, path, append(devs, name))
	})
}

// RemoveCapability drops name from capability.
func RemoveCapability(s *store.Store, capability, name string) {
	path := "capabilities." + capability
	s.Update(func(tx *store.Tx) {
		devs := entities(tx, path)
		kept := devs[:0]
		for _, d := range devs {
			if d != name {
				kept = append(kept, d)
			}
		}
		writeCapability(tx, path, kept)
	})
}

func entities(tx *store.Tx, path string) []string {
	v, _ := tx.GetPath(path + ".devEntities")
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func writeCapability(tx *store.Tx, path string, devs []string) {
	tx.SetPath(path+".devEntities", devs)
	tx.SetPath(path+".count", len(devs))
	tx.SetPath(path+".state", len(devs) > 0)
}
