package chunker

import (
	"fmt"
	"regexp"
	"strings"
)

// defaultBoilerplatePatterns match common navigation, footer and consent
// lines that add noise to evidence windows.
var defaultBoilerplatePatterns = []string{
	`(?i)^\s*(home|about( us)?|contact( us)?|careers|sitemap)\s*$`,
	`(?i)^\s*(privacy policy|terms of (service|use)|legal notice)\s*$`,
	`(?i)^\s*(skip to (main )?content|navigation|main menu|footer)\s*$`,
	`(?i)cookie (policy|settings|consent|preferences)`,
	`(?i)^\s*(accept all( cookies)?|manage cookies)\s*$`,
	`(?i)^\s*(subscribe( to our newsletter)?|sign (up|in)|log ?in)\s*$`,
	`(?i)^\s*(©|\(c\)|copyright)\s.*$`,
	`(?i)all rights reserved`,
	`(?i)^\s*share (this|on)\b.*$`,
}

// BoilerplateFilter drops lines matching any configured pattern before the
// text is windowed.
type BoilerplateFilter struct {
	patterns []*regexp.Regexp
}

// NewBoilerplateFilter compiles the given patterns, or the defaults when
// patterns is nil. An explicit empty slice disables filtering.
func NewBoilerplateFilter(patterns []string) (*BoilerplateFilter, error) {
	if patterns == nil {
		patterns = defaultBoilerplatePatterns
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid boilerplate pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}

	return &BoilerplateFilter{patterns: compiled}, nil
}

// Strip removes boilerplate lines and collapses the survivors
func (f *BoilerplateFilter) Strip(text string) string {
	if len(f.patterns) == 0 {
		return text
	}

	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))

	for _, line := range lines {
		if f.matches(line) {
			continue
		}
		kept = append(kept, line)
	}

	return strings.Join(kept, "\n")
}

func (f *BoilerplateFilter) matches(line string) bool {
	for _, re := range f.patterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}
