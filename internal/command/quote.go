package command

import (
	"regexp"
	"strings"
)

var safeWord = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

// Quote wraps s in single quotes for a POSIX shell. Embedded single quotes
// close the quoted run, emit a double-quoted quote and reopen, so no value
// can break out of its argument.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// QuoteIfNeeded leaves words made only of shell-inert characters bare and
// quotes everything else, including the empty string.
func QuoteIfNeeded(s string) string {
	if safeWord.MatchString(s) {
		return s
	}
	return Quote(s)
}

// Join renders argv as a single shell command line.
func Join(argv []string) string {
	parts := make([]string, len(argv))
	for i, arg := range argv {
		parts[i] = QuoteIfNeeded(arg)
	}
	return strings.Join(parts, " ")
}
