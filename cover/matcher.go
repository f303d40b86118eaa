package cover

import "strings"

// Matcher decides whether a named function participates in coverage.
type Matcher interface {
	MatchFunction(name string) bool
}

// NameMatcher matches functions by exact name.
type NameMatcher struct {
	names map[string]bool
}

// NewNameMatcher creates a matcher from a list of function names.
func NewNameMatcher(names []string) *NameMatcher {
	m := &NameMatcher{names: make(map[string]bool)}
	for _, n := range names {
		m.names[n] = true
	}
	return m
}

// MatchFunction returns true if the function name matches exactly.
func (m *NameMatcher) MatchFunction(name string) bool {
	return m.names[name]
}

// PrefixMatcher matches functions by name prefix.
type PrefixMatcher struct {
	prefixes []string
}

// NewPrefixMatcher creates a matcher that matches functions starting
// with any prefix.
func NewPrefixMatcher(prefixes []string) *PrefixMatcher {
	return &PrefixMatcher{prefixes: prefixes}
}

// MatchFunction returns true if the function name starts with any
// prefix.
func (m *PrefixMatcher) MatchFunction(name string) bool {
	for _, p := range m.prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// WildcardMatcher matches function name patterns.
//
// Supports patterns like:
//   - "name" - exact match
//   - "prefix*" - prefix match
//   - "*" - matches everything
type WildcardMatcher struct {
	exact    map[string]bool
	prefixes []string
	matchAll bool
}

// NewWildcardMatcher creates a matcher with wildcard support.
func NewWildcardMatcher(patterns []string) *WildcardMatcher {
	m := &WildcardMatcher{exact: make(map[string]bool)}
	for _, p := range patterns {
		if p == "*" {
			m.matchAll = true
		} else if strings.HasSuffix(p, "*") {
			m.prefixes = append(m.prefixes, strings.TrimSuffix(p, "*"))
		} else {
			m.exact[p] = true
		}
	}
	return m
}

// MatchFunction returns true if the function name matches any pattern.
func (m *WildcardMatcher) MatchFunction(name string) bool {
	if m.matchAll {
		return true
	}
	if m.exact[name] {
		return true
	}
	for _, p := range m.prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// CompositeMatcher combines multiple matchers.
type CompositeMatcher struct {
	matchers []Matcher
}

// NewCompositeMatcher creates a matcher that matches if any sub-matcher
// matches.
func NewCompositeMatcher(matchers ...Matcher) *CompositeMatcher {
	return &CompositeMatcher{matchers: matchers}
}

// MatchFunction returns true if any sub-matcher matches.
func (m *CompositeMatcher) MatchFunction(name string) bool {
	for _, matcher := range m.matchers {
		if matcher.MatchFunction(name) {
			return true
		}
	}
	return false
}

var hostABI = NewPrefixMatcher([]string{"__wasm_", "__wasi_", "asyncify_", "cabi_"})

// HostABIList matches toolchain and host-ABI glue that coverage never
// instruments: constructor stubs, stack-switching exports, canonical
// ABI allocators.
func HostABIList() Matcher {
	return hostABI
}
