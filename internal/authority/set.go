package authority

import (
	"encoding/json"
	"sort"
)

// Set is an immutable, deduplicated collection of authority names. Only
// membership is meaningful. The zero value is an empty set.
type Set struct {
	names map[string]struct{}
}

// NewSet builds a Set from names. Empty names and duplicates are dropped.
func NewSet(names ...string) Set {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		m[n] = struct{}{}
	}
	return Set{names: m}
}

// Contains reports whether name is a member.
func (s Set) Contains(name string) bool {
	_, ok := s.names[name]
	return ok
}

// ContainsAny reports whether at least one of names is a member.
func (s Set) ContainsAny(names ...string) bool {
	for _, n := range names {
		if s.Contains(n) {
			return true
		}
	}
	return false
}

// Len returns the number of members.
func (s Set) Len() int { return len(s.names) }

// IsEmpty reports whether the set has no members.
func (s Set) IsEmpty() bool { return len(s.names) == 0 }

// Names returns the members sorted, so output is stable.
func (s Set) Names() []string {
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Union returns a new set holding the members of both sets.
func (s Set) Union(other Set) Set {
	m := make(map[string]struct{}, len(s.names)+len(other.names))
	for n := range s.names {
		m[n] = struct{}{}
	}
	for n := range other.names {
		m[n] = struct{}{}
	}
	return Set{names: m}
}

// Filter returns the members for which keep returns true.
func (s Set) Filter(keep func(string) bool) Set {
	m := make(map[string]struct{})
	for n := range s.names {
		if keep(n) {
			m[n] = struct{}{}
		}
	}
	return Set{names: m}
}

// Equal reports whether both sets have the same members.
func (s Set) Equal(other Set) bool {
	if len(s.names) != len(other.names) {
		return false
	}
	for n := range s.names {
		if _, ok := other.names[n]; !ok {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the set as a sorted array of names.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Names())
}

// UnmarshalJSON decodes an array of names.
func (s *Set) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	*s = NewSet(names...)
	return nil
}
