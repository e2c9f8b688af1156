package process

import "fmt"

// SpecSet is an ordered, immutable collection of specs keyed by name.
// Instances hold *Spec pointers into a set; the set stays reachable for as
// long as any instance refers to it.
type SpecSet struct {
	Version uint64
	specs   []*Spec
	byName  map[string]*Spec
}

// NewSpecSet copies specs into a new set, preserving order.
// Duplicate names are a configuration error.
func NewSpecSet(specs []Spec) (*SpecSet, error) {
	set := &SpecSet{
		specs:  make([]*Spec, 0, len(specs)),
		byName: make(map[string]*Spec, len(specs)),
	}
	for i := range specs {
		s := specs[i]
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := set.byName[s.Name]; dup {
			return nil, fmt.Errorf("duplicate program name %q", s.Name)
		}
		s.ExitCodes = append([]int(nil), s.ExitCodes...)
		s.Env = append([]string(nil), s.Env...)
		set.specs = append(set.specs, &s)
		set.byName[s.Name] = &s
	}
	return set, nil
}

// EmptySpecSet returns a set with no programs.
func EmptySpecSet() *SpecSet {
	return &SpecSet{byName: map[string]*Spec{}}
}

// Lookup returns the spec named name, or nil.
func (s *SpecSet) Lookup(name string) *Spec {
	if s == nil {
		return nil
	}
	return s.byName[name]
}

// Specs returns the specs in load order. The slice must not be modified.
func (s *SpecSet) Specs() []*Spec {
	if s == nil {
		return nil
	}
	return s.specs
}

func (s *SpecSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.specs)
}

// Expand creates one Stopped instance per slot, specs in order and indices ascending.
func (s *SpecSet) Expand() []*Instance {
	var out []*Instance
	for _, sp := range s.Specs() {
		for i := 0; i < sp.NumProcs; i++ {
			out = append(out, NewInstance(sp, i))
		}
	}
	return out
}
