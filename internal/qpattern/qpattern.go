// Package qpattern normalizes query text into a canonical "pattern key"
// used to aggregate statistics across queries that differ only in literal
// values. Ported from the PCRE2-based Query_pattern in the original
// implementation's query_pattern.{h,cc}, re-expressed over Go's regexp
// (RE2) package; RE2 runs in guaranteed linear time so there is no JIT
// knob to carry over, and $-style group references in ReplaceAll cover the
// backreference substitution the original used pcre2_substitute for.
package qpattern

import (
	"fmt"
	"regexp"
	"strings"
)

// Pattern is an immutable (compiled regex, replacement template) pair.
type Pattern struct {
	search  *regexp.Regexp
	replace string
	raw     string
}

// Compile builds a Pattern from a regular expression and a replacement
// template using Go's `$1`-style group-reference syntax. It returns an
// error for invalid regular expressions, matching the original's
// Query_pattern_exception at compile time.
func Compile(search, replace string) (*Pattern, error) {
	re, err := regexp.Compile(search)
	if err != nil {
		return nil, fmt.Errorf("qpattern: invalid regular expression %q: %w", search, err)
	}
	return &Pattern{search: re, replace: replace, raw: search}, nil
}

// MustCompile is like Compile but panics on error; useful for built-in
// default patterns known to be valid at compile time.
func MustCompile(search, replace string) *Pattern {
	p, err := Compile(search, replace)
	if err != nil {
		panic(err)
	}
	return p
}

// normalizeNewlines converts \r and \n bytes in subject to spaces so a
// multi-line query normalizes to a single canonical form, matching the
// original's pre-substitution pass in Query_pattern::apply.
func normalizeNewlines(subject string) string {
	var b strings.Builder
	b.Grow(len(subject))
	for _, r := range subject {
		if r == '\r' || r == '\n' {
			b.WriteByte(' ')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Apply attempts the substitution. ok is false if the pattern did not
// match the subject at all ("no match"), matching the original's
// PCRE2_ERROR_NOMEMORY / rc==0 cases collapsed into one outcome, since Go's
// regexp has no output-buffer-too-small failure mode to distinguish.
func (p *Pattern) Apply(subject string) (key string, ok bool) {
	normalized := normalizeNewlines(subject)
	if !p.search.MatchString(normalized) {
		return "", false
	}
	return p.search.ReplaceAllString(normalized, p.replace), true
}

// Source returns the original search expression, for diagnostics.
func (p *Pattern) Source() string {
	return p.raw
}

// List is an ordered list of Patterns consulted in declaration order; the
// first pattern that matches wins, per §4.5.
type List struct {
	patterns []*Pattern
}

// NewList returns a List over the given patterns, preserving order.
func NewList(patterns ...*Pattern) *List {
	return &List{patterns: patterns}
}

// Add appends a pattern to the end of the list.
func (l *List) Add(p *Pattern) {
	l.patterns = append(l.patterns, p)
}

// Apply tries each pattern in order and returns the first match's
// canonical key. If no pattern matches, the normalized (newline-collapsed)
// subject itself is used as the key, so every query still aggregates under
// some key even with an empty pattern list.
func (l *List) Apply(subject string) string {
	for _, p := range l.patterns {
		if key, ok := p.Apply(subject); ok {
			return key
		}
	}
	return normalizeNewlines(subject)
}

// ParseRegexReplace parses a sed-style `s/search/replace/` CLI argument,
// matching the original's parse_re_part helper used for the -q flag.
// Delimiters other than '/' are not supported; a literal '/' inside a part
// must be escaped as `\/`.
func ParseRegexReplace(spec string) (search, replace string, err error) {
	if len(spec) < 2 || spec[0] != 's' || spec[1] != '/' {
		return "", "", fmt.Errorf("qpattern: pattern must be of the form s/search/replace/, got %q", spec)
	}

	parts, err := splitEscaped(spec[2:], '/')
	if err != nil {
		return "", "", err
	}
	if len(parts) != 2 {
		return "", "", fmt.Errorf("qpattern: pattern must have exactly two /-delimited parts after s/, got %q", spec)
	}
	return parts[0], parts[1], nil
}

// splitEscaped splits s on sep, treating `\sep` as a literal sep rather
// than a delimiter, and requires the final field to be empty (the
// trailing delimiter of `s/a/b/`).
func splitEscaped(s string, sep byte) ([]string, error) {
	var fields []string
	var cur strings.Builder

	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) && s[i+1] == sep {
			cur.WriteByte(sep)
			i++
			continue
		}
		if c == sep {
			fields = append(fields, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}

	if cur.Len() != 0 {
		return nil, fmt.Errorf("qpattern: pattern missing trailing delimiter %q", string(sep))
	}
	return fields, nil
}
