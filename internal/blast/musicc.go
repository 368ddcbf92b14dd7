package blast

import (
	"fmt"
	"regexp"
	"strings"
)

// MusiccMatcher flags probe hits on MUSiCC single-copy genes so they can
// be exported as their own probe set.
type MusiccMatcher struct {
	re *regexp.Regexp
}

// NewMusiccMatcher compiles an alternation over the configured gene name
// patterns. An empty list yields a matcher that never matches.
func NewMusiccMatcher(patterns []string) (*MusiccMatcher, error) {
	if len(patterns) == 0 {
		return &MusiccMatcher{}, nil
	}
	re, err := regexp.Compile("(" + strings.Join(patterns, "|") + ")")
	if err != nil {
		return nil, fmt.Errorf("blast: compile MUSiCC patterns: %w", err)
	}
	return &MusiccMatcher{re: re}, nil
}

// Match reports whether the subject sequence name names a MUSiCC gene.
func (m *MusiccMatcher) Match(sseqid string) bool {
	if m.re == nil {
		return false
	}
	return m.re.MatchString(sseqid)
}
