package store

// Capability is one entry of the capability index.
type Capability struct {
	State       bool
	Count       int
	DevEntities []string
}

// Capability reads the index entry for name. Count and State are derived from
// DevEntities, and a stored entry that disagrees is repaired.
func (s *Store) Capability(name string) Capability {
	path := "capabilities." + name
	devs := s.Strings(path + ".devEntities")
	c := Capability{State: len(devs) > 0, Count: len(devs), DevEntities: devs}

	if s.Bool(path+".state") != c.State || s.Int(path+".count") != c.Count {
		s.Update(func(tx *Tx) {
			tx.SetPath(path+".state", c.State)
			tx.SetPath(path+".count", c.Count)
		})
	}
	return c
}

// Has reports whether at least one device backs capability name.
func (s *Store) Has(name string) bool {
	return s.Capability(name).State
}
