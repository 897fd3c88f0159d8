package core

import (
	"regexp"
	"strings"
	"sync"
)

// Matcher tests candidates against a wildcard pattern: "*" matches any run of
// characters (including none), matching is case-insensitive and anchored to
// the whole candidate.
type Matcher struct {
	pattern string
	re      *regexp.Regexp
}

var compiledPatterns sync.Map // pattern string -> *Matcher

// CompilePattern never fails; every literal character is escaped.
func CompilePattern(pattern string) *Matcher {
	if m, ok := compiledPatterns.Load(pattern); ok {
		return m.(*Matcher)
	}
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	m := &Matcher{
		pattern: pattern,
		re:      regexp.MustCompile(`(?is)^` + strings.Join(parts, ".*") + `$`),
	}
	actual, _ := compiledPatterns.LoadOrStore(pattern, m)
	return actual.(*Matcher)
}

func (m *Matcher) Test(candidate string) bool {
	return m.re.MatchString(candidate)
}

func (m *Matcher) String() string {
	return m.pattern
}

// MatchesAny is false for an empty pattern list.
func MatchesAny(candidate string, patterns []string) bool {
	for _, p := range patterns {
		if CompilePattern(p).Test(candidate) {
			return true
		}
	}
	return false
}
