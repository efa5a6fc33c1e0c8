// Package filter implements the content suppression rules applied to inbound events.
package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultPrefixes are the boilerplate notices posted by automated channels
// while a real answer is still being generated.
var DefaultPrefixes = []string{"Пожалуйста, подождите"}

// Rules decides whether an event text is boilerplate that must not be stored.
// Prefix rules match case-insensitively after trimming leading whitespace.
// Pattern rules are case-insensitive regular expressions matched anywhere in the text.
type Rules struct {
	prefixes []string
	patterns []*regexp.Regexp
}

// New compiles a rule set. Empty prefixes and patterns are skipped.
func New(prefixes, patterns []string) (*Rules, error) {
	r := &Rules{}
	for _, p := range prefixes {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		r.prefixes = append(r.prefixes, strings.ToLower(p))
	}
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		re, err := compile(p)
		if err != nil {
			return nil, err
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

// Suppressed reports whether text matches any rule.
func (r *Rules) Suppressed(text string) bool {
	if r == nil {
		return false
	}
	lower := strings.ToLower(strings.TrimLeft(text, " \t\r\n"))
	for _, p := range r.prefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	for _, re := range r.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Len returns the number of active rules.
func (r *Rules) Len() int {
	if r == nil {
		return 0
	}
	return len(r.prefixes) + len(r.patterns)
}

// ValidateRegex checks whether a pattern is a valid regular expression.
func ValidateRegex(pattern string) error {
	_, err := compile(pattern)
	return err
}

func compile(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return re, nil
}
