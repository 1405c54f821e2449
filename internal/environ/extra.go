package environ

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/izavyalov-dev/treebeard-action/internal/config"
)

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Entry is a single NAME=value declaration.
type Entry struct {
	Name  string
	Value string
}

// ParseExtra parses a multi-line KEY=VALUE block. Blank lines and lines
// starting with '#' are skipped. Values are kept verbatim after trimming
// surrounding whitespace; a value opening with a quote is accepted but
// reported in the returned warnings since the quote stays in the value.
// A key declared twice keeps its first position and its last value.
func ParseExtra(text string) ([]Entry, []string, error) {
	var (
		entries  []Entry
		warnings []string
		index    = make(map[string]int)
	)
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, ok := strings.Cut(line, "=")
		name = strings.TrimSpace(name)
		if !ok || !namePattern.MatchString(name) {
			return nil, nil, fmt.Errorf("%w: notebook-env line %d is not KEY=VALUE", config.ErrConfiguration, i+1)
		}
		value = strings.TrimSpace(value)
		if strings.HasPrefix(value, "'") || strings.HasPrefix(value, `"`) {
			warnings = append(warnings, fmt.Sprintf("notebook-env %s value starts with a quote; quotes are kept literally", name))
		}
		if pos, seen := index[name]; seen {
			entries[pos].Value = value
			continue
		}
		index[name] = len(entries)
		entries = append(entries, Entry{Name: name, Value: value})
	}
	return entries, warnings, nil
}
