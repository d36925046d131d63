package solve

import (
	"path"
	"sort"
	"strings"
)

// PromotionPatterns reorders option names so that names matching earlier
// patterns come first. Patterns support '*' and '?' globs, so
// "*platform*" matches "spi-platform". Names matching no pattern keep
// their relative order after all matching ones.
type PromotionPatterns struct {
	patterns []string
}

// NewPromotionPatterns parses a comma-separated glob list.
func NewPromotionPatterns(commaSeparated string) PromotionPatterns {
	var patterns []string
	for _, pattern := range strings.Split(commaSeparated, ",") {
		pattern = strings.TrimSpace(pattern)
		if pattern != "" {
			patterns = append(patterns, pattern)
		}
	}
	return PromotionPatterns{patterns: patterns}
}

// rank returns the index of the first pattern matching the name, or the
// pattern count for non-matching names.
func (p PromotionPatterns) rank(name string) int {
	for i, pattern := range p.patterns {
		if ok, err := path.Match(pattern, name); err == nil && ok {
			return i
		}
	}
	return len(p.patterns)
}

// PromoteNames stably reorders the given names in place by pattern rank.
func (p PromotionPatterns) PromoteNames(names []string) {
	if len(p.patterns) == 0 {
		return
	}
	sort.SliceStable(names, func(i, j int) bool {
		return p.rank(names[i]) < p.rank(names[j])
	})
}
