// Package filter decides which option-change events produce audit log
// entries. It compiles user-configured wildcard exclusion patterns once at
// startup and applies a fixed precedence: allowlist, role-definitions
// toggle, built-in noise suppression, exclusion patterns, then the
// injectable override hooks.
package filter

import (
	"regexp"
	"strings"
)

// Pattern is a compiled wildcard pattern. `*` matches any run of characters
// (including none); everything else matches literally. Matching is anchored
// at both ends and case-sensitive.
type Pattern struct {
	re *regexp.Regexp
}

// patternCharRe strips everything outside the sanctioned pattern alphabet.
// Patterns come from operator configuration; restricting the alphabet before
// compilation means no regex metacharacter other than our own * can ever
// reach the engine.
var patternCharRe = regexp.MustCompile(`[^A-Za-z0-9_*-]+`)

// Compile turns a wildcard pattern string into a Pattern. Compilation is
// pure: the same input always yields an equivalent predicate. An empty
// pattern (or one that is empty after sanitization) yields a predicate that
// never matches.
func Compile(pattern string) Pattern {
	pattern = patternCharRe.ReplaceAllString(strings.TrimSpace(pattern), "")
	if pattern == "" {
		return Pattern{}
	}
	// Only * is interpreted; quote everything else, then widen the quoted
	// stars back into ".*", anchored on both ends.
	expr := "^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*") + "$"
	return Pattern{re: regexp.MustCompile(expr)}
}

// Matches reports whether candidate fully matches the pattern. The zero
// Pattern (empty source) matches nothing.
func (p Pattern) Matches(candidate string) bool {
	if p.re == nil {
		return false
	}
	return p.re.MatchString(candidate)
}

// CompileAll compiles a pattern list, skipping entries that sanitize down to
// nothing. Used at settings-load time so per-event matching never compiles.
func CompileAll(patterns []string) []Pattern {
	compiled := make([]Pattern, 0, len(patterns))
	for _, p := range patterns {
		c := Compile(p)
		if c.re != nil {
			compiled = append(compiled, c)
		}
	}
	return compiled
}
