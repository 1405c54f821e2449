package environ

import "strings"

// Set is an ordered mapping of variable names to values. Keys are unique and
// iteration follows first insertion; overwriting a key keeps its position.
type Set struct {
	keys   []string
	values map[string]string
}

func NewSet() *Set {
	return &Set{values: make(map[string]string)}
}

// FromEnviron builds a Set from NAME=value pairs as returned by os.Environ.
// Entries without '=' are ignored; a repeated name keeps the last value.
func FromEnviron(pairs []string) *Set {
	set := NewSet()
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			continue
		}
		set.Put(name, value)
	}
	return set
}

// Put inserts or overwrites a variable.
func (s *Set) Put(name, value string) {
	if _, exists := s.values[name]; !exists {
		s.keys = append(s.keys, name)
	}
	s.values[name] = value
}

func (s *Set) Get(name string) (string, bool) {
	if s == nil {
		return "", false
	}
	value, ok := s.values[name]
	return value, ok
}

func (s *Set) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Keys returns the names in insertion order.
func (s *Set) Keys() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Environ renders the set as NAME=value pairs for exec.Cmd.Env.
func (s *Set) Environ() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.keys))
	for _, key := range s.keys {
		out = append(out, key+"="+s.values[key])
	}
	return out
}

// Clone returns an independent copy.
func (s *Set) Clone() *Set {
	out := NewSet()
	if s == nil {
		return out
	}
	for _, key := range s.keys {
		out.Put(key, s.values[key])
	}
	return out
}
