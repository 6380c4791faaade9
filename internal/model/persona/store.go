package persona

// Store exposes persona retrieval and per-origin selection.
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
	Select(origin Origin) Persona
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Persona
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied personas.
func NewMemoryStore(items []Persona) *MemoryStore {
	return &MemoryStore{items: append([]Persona(nil), items...)}
}

// List returns the configured bundles.
func (s *MemoryStore) List() []Persona {
	out := make([]Persona, len(s.items))
	for i, item := range s.items {
		out[i] = item.clone()
	}
	return out
}

// FindByID looks up a persona by identifier.
func (s *MemoryStore) FindByID(id string) (Persona, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item.clone(), true
		}
	}
	return Persona{}, false
}

// Select maps an origin to its bundle. Anything that is not a phone origin
// gets the web bundle, so phone-only capabilities never reach a web session.
func (s *MemoryStore) Select(origin Origin) Persona {
	want := OriginWeb
	if origin == OriginPhone {
		want = OriginPhone
	}
	for _, item := range s.items {
		if item.Origin == want {
			return item.clone()
		}
	}
	return Persona{Origin: want}
}

func (p Persona) clone() Persona {
	p.Capabilities = append(CapabilitySet(nil), p.Capabilities...)
	return p
}
