package ir

// Manifest is the set of units discovered in one detection pass.
// It is built once per invocation and never mutated afterwards.
type Manifest struct {
	Root  string  `json:"root" yaml:"root"`
	Env   string  `json:"env,omitempty" yaml:"env,omitempty"`
	Units []*Unit `json:"units" yaml:"units"`

	index map[string]*Unit
}

// NewManifest builds a manifest over the given units.
func NewManifest(root, env string, units []*Unit) *Manifest {
	m := &Manifest{Root: root, Env: env, Units: units}
	m.index = make(map[string]*Unit, len(units))
	for _, u := range units {
		m.index[u.ID] = u
	}
	return m
}

// Unit looks up a unit by its identifier.
func (m *Manifest) Unit(id string) (*Unit, bool) {
	if m.index == nil {
		m.index = make(map[string]*Unit, len(m.Units))
		for _, u := range m.Units {
			m.index[u.ID] = u
		}
	}
	u, ok := m.index[id]
	return u, ok
}

// ByKind returns all units of the given kind in manifest order.
func (m *Manifest) ByKind(kind UnitKind) []*Unit {
	var out []*Unit
	for _, u := range m.Units {
		if u.Kind == kind {
			out = append(out, u)
		}
	}
	return out
}
