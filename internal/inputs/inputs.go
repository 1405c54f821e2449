package inputs

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source resolves a named action input.
type Source interface {
	Lookup(name string) (string, bool)
}

// EnvSource reads inputs the way GitHub Actions exposes them: INPUT_<NAME>
// with spaces replaced by underscores and the name upper-cased.
type EnvSource struct {
	LookupEnv func(string) (string, bool)
}

// EnvName returns the environment variable carrying the named input.
func EnvName(name string) string {
	return "INPUT_" + strings.ToUpper(strings.ReplaceAll(name, " ", "_"))
}

func (s EnvSource) Lookup(name string) (string, bool) {
	lookup := s.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	value, ok := lookup(EnvName(name))
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

// MapSource serves inputs from an in-memory map.
type MapSource map[string]string

func (m MapSource) Lookup(name string) (string, bool) {
	value, ok := m[name]
	return value, ok
}

// LoadFile decodes a flat YAML mapping of input names to scalar values.
func LoadFile(path string) (MapSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseYAML(data)
}

// ParseYAML decodes a flat YAML mapping. Non-string scalars are formatted the
// way an action input would carry them, so `debug: true` reads as "true".
func ParseYAML(data []byte) (MapSource, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode inputs file: %w", err)
	}
	out := make(MapSource, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case nil:
			continue
		case string:
			out[key] = v
		case map[string]any, []any:
			return nil, fmt.Errorf("input %q must be a scalar", key)
		default:
			out[key] = fmt.Sprint(v)
		}
	}
	return out, nil
}

// Chain consults each source in order and returns the first hit.
type Chain []Source

func (c Chain) Lookup(name string) (string, bool) {
	for _, src := range c {
		if src == nil {
			continue
		}
		if value, ok := src.Lookup(name); ok {
			return value, true
		}
	}
	return "", false
}

// Get returns the input value or the empty string.
func Get(src Source, names ...string) string {
	for _, name := range names {
		if value, ok := src.Lookup(name); ok && value != "" {
			return value
		}
	}
	return ""
}

// Bool reports whether the input is the literal "true".
func Bool(src Source, name string) bool {
	return Get(src, name) == "true"
}
