package document

// IncludedSet accumulates recursively included resource objects across one
// top-level request. Each (type, id) pair is inserted at most once no matter
// how many include paths reach it; later arrivals are discarded. Insertion
// order is preserved for the output array.
type IncludedSet struct {
	seen    map[Identifier]struct{}
	objects []*Resource
}

// NewIncludedSet returns an empty accumulator.
func NewIncludedSet() *IncludedSet {
	return &IncludedSet{seen: make(map[Identifier]struct{})}
}

// Insert adds obj unless an object with the same (type, id) is already
// present. It reports whether the object was added.
func (s *IncludedSet) Insert(obj *Resource) bool {
	key := obj.Identifier()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	s.objects = append(s.objects, obj)
	return true
}

// Has reports whether an object with the given type and id is present.
func (s *IncludedSet) Has(typ, id string) bool {
	_, ok := s.seen[Identifier{Type: typ, ID: id}]
	return ok
}

// Len returns the number of accumulated objects.
func (s *IncludedSet) Len() int { return len(s.objects) }

// Objects returns the accumulated objects in insertion order.
func (s *IncludedSet) Objects() []*Resource { return s.objects }
