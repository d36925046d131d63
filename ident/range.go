package ident

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Ranged is one rule of a version filter. Bounds are expressed as an
// inclusive minimum and an exclusive maximum; either may be absent.
type Ranged interface {
	// GreaterOrEqualTo returns the inclusive lower bound, if bounded.
	GreaterOrEqualTo() (Version, bool)
	// LessThan returns the exclusive upper bound, if bounded.
	LessThan() (Version, bool)
	// IsApplicable checks the given version against this rule.
	IsApplicable(v Version) Compatibility
	String() string
}

// maxVersion is used as the upper bound for rules with no maximum, so
// that unbounded ranges still order above everything real.
func maxVersion() Version {
	return NewVersion(math.MaxUint32, math.MaxUint32, math.MaxUint32)
}

// compatRange is a bare version request like "1.2.3": at least the given
// version, with no declared upper bound.
type compatRange struct {
	base Version
}

func (r compatRange) GreaterOrEqualTo() (Version, bool) { return r.base, true }
func (r compatRange) LessThan() (Version, bool)         { return Version{}, false }
func (r compatRange) String() string                    { return r.base.String() }

func (r compatRange) IsApplicable(v Version) Compatibility {
	if v.LessThan(r.base) {
		return Incompatible("version too low for %s", r.base)
	}
	return Compatible
}

// exactRange matches exactly one version, e.g. "=1.2.3".
type exactRange struct {
	base Version
}

func (r exactRange) GreaterOrEqualTo() (Version, bool) { return r.base, true }
func (r exactRange) LessThan() (Version, bool)         { return r.base.WithEpsilon(), true }
func (r exactRange) String() string                    { return "=" + r.base.String() }

func (r exactRange) IsApplicable(v Version) Compatibility {
	if !v.Equal(r.base) {
		return Incompatible("not exactly =%s", r.base)
	}
	return Compatible
}

// lowestSpecifiedRange is a tilde request like "~1.2.3": at least the
// given version, below the next value of the second-to-last specified
// part.
type lowestSpecifiedRange struct {
	base Version
}

func (r lowestSpecifiedRange) GreaterOrEqualTo() (Version, bool) { return r.base, true }

func (r lowestSpecifiedRange) LessThan() (Version, bool) {
	parts := make([]uint32, len(r.base.Parts))
	copy(parts, r.base.Parts)
	if len(parts) < 2 {
		parts = append(parts, 0)
	}
	parts = parts[:len(parts)-1]
	parts[len(parts)-1]++
	for len(parts) < 3 {
		parts = append(parts, 0)
	}
	return Version{Parts: parts}, true
}

func (r lowestSpecifiedRange) String() string { return "~" + r.base.String() }

func (r lowestSpecifiedRange) IsApplicable(v Version) Compatibility {
	if v.LessThan(r.base) {
		return Incompatible("version too low for ~%s", r.base)
	}
	if limit, ok := r.LessThan(); ok && !v.LessThan(limit) {
		return Incompatible("version too high for ~%s", r.base)
	}
	return Compatible
}

// wildcardRange matches any value in the starred position, e.g. "1.*".
type wildcardRange struct {
	parts []int64 // -1 denotes the wildcard position
}

func (r wildcardRange) GreaterOrEqualTo() (Version, bool) {
	parts := make([]uint32, len(r.parts))
	for i, part := range r.parts {
		if part >= 0 {
			parts[i] = uint32(part)
		}
	}
	return Version{Parts: parts}, true
}

func (r wildcardRange) LessThan() (Version, bool) {
	parts := []uint32{}
	for _, part := range r.parts {
		if part < 0 {
			break
		}
		parts = append(parts, uint32(part))
	}
	if len(parts) == 0 {
		return Version{}, false
	}
	parts[len(parts)-1]++
	return Version{Parts: parts}, true
}

func (r wildcardRange) String() string {
	rendered := make([]string, len(r.parts))
	for i, part := range r.parts {
		if part < 0 {
			rendered[i] = "*"
		} else {
			rendered[i] = strconv.FormatInt(part, 10)
		}
	}
	return strings.Join(rendered, ".")
}

func (r wildcardRange) IsApplicable(v Version) Compatibility {
	for i, part := range r.parts {
		if part < 0 {
			continue
		}
		if v.Part(i) != uint32(part) {
			return Incompatible("out of range for %s", r.String())
		}
	}
	return Compatible
}

// comparisonRange covers >, >=, < and <=.
type comparisonRange struct {
	op   string
	base Version
}

func (r comparisonRange) GreaterOrEqualTo() (Version, bool) {
	switch r.op {
	case ">":
		return r.base.WithEpsilon(), true
	case ">=":
		return r.base, true
	}
	return Version{}, false
}

func (r comparisonRange) LessThan() (Version, bool) {
	switch r.op {
	case "<":
		return r.base, true
	case "<=":
		return r.base.WithEpsilon(), true
	}
	return Version{}, false
}

func (r comparisonRange) String() string { return r.op + r.base.String() }

func (r comparisonRange) IsApplicable(v Version) Compatibility {
	ok := false
	switch r.op {
	case ">":
		ok = r.base.LessThan(v)
	case ">=":
		ok = !v.LessThan(r.base)
	case "<":
		ok = v.LessThan(r.base)
	case "<=":
		ok = !r.base.LessThan(v)
	}
	if !ok {
		return Incompatible("out of range for %s", r.String())
	}
	return Compatible
}

// VersionFilter is the conjunction of zero or more range rules. An empty
// filter matches any version.
type VersionFilter []Ranged

// ParseVersionFilter parses a comma-separated list of range rules.
func ParseVersionFilter(s string) (VersionFilter, error) {
	var filter VersionFilter
	if strings.TrimSpace(s) == "" || s == "*" {
		return filter, nil
	}
	for _, rule := range strings.Split(s, ",") {
		ranged, err := parseRange(strings.TrimSpace(rule))
		if err != nil {
			return nil, err
		}
		filter = append(filter, ranged)
	}
	return filter, nil
}

// MustVersionFilter parses s, panicking on invalid input.
func MustVersionFilter(s string) VersionFilter {
	filter, err := ParseVersionFilter(s)
	if err != nil {
		panic(err)
	}
	return filter
}

func parseRange(rule string) (Ranged, error) {
	switch {
	case rule == "":
		return nil, InvalidVersionError{Version: rule, Reason: "empty range rule"}
	case strings.HasPrefix(rule, "~"):
		base, err := ParseVersion(rule[1:])
		if err != nil {
			return nil, err
		}
		return lowestSpecifiedRange{base: base}, nil
	case strings.HasPrefix(rule, "="):
		base, err := ParseVersion(rule[1:])
		if err != nil {
			return nil, err
		}
		return exactRange{base: base}, nil
	case strings.HasPrefix(rule, ">="), strings.HasPrefix(rule, "<="):
		base, err := ParseVersion(rule[2:])
		if err != nil {
			return nil, err
		}
		return comparisonRange{op: rule[:2], base: base}, nil
	case strings.HasPrefix(rule, ">"), strings.HasPrefix(rule, "<"):
		base, err := ParseVersion(rule[1:])
		if err != nil {
			return nil, err
		}
		return comparisonRange{op: rule[:1], base: base}, nil
	case strings.Contains(rule, "*"):
		var parts []int64
		wildcards := 0
		for _, piece := range strings.Split(rule, ".") {
			if piece == "*" {
				wildcards++
				parts = append(parts, -1)
				continue
			}
			number, err := strconv.ParseUint(piece, 10, 32)
			if err != nil {
				return nil, InvalidVersionError{Version: rule, Reason: fmt.Sprintf("invalid part %q", piece)}
			}
			parts = append(parts, int64(number))
		}
		if wildcards != 1 {
			return nil, InvalidVersionError{Version: rule, Reason: "wildcard ranges must have exactly one '*'"}
		}
		return wildcardRange{parts: parts}, nil
	default:
		base, err := ParseVersion(rule)
		if err != nil {
			return nil, err
		}
		return compatRange{base: base}, nil
	}
}

// IsApplicable checks the version against every rule in the filter.
func (f VersionFilter) IsApplicable(v Version) Compatibility {
	for _, rule := range f {
		if compat := rule.IsApplicable(v); !compat.IsOk() {
			return compat
		}
	}
	return Compatible
}

// GreaterOrEqualTo returns the effective inclusive lower bound over all
// rules.
func (f VersionFilter) GreaterOrEqualTo() (Version, bool) {
	var bound Version
	found := false
	for _, rule := range f {
		if min, ok := rule.GreaterOrEqualTo(); ok {
			if !found || bound.LessThan(min) {
				bound = min
			}
			found = true
		}
	}
	return bound, found
}

// LessThan returns the effective exclusive upper bound over all rules.
func (f VersionFilter) LessThan() (Version, bool) {
	var bound Version
	found := false
	for _, rule := range f {
		if max, ok := rule.LessThan(); ok {
			if !found || max.LessThan(bound) {
				bound = max
			}
			found = true
		}
	}
	return bound, found
}

// Restrict returns the intersection of this filter and the other,
// failing when the combined bounds are empty.
func (f VersionFilter) Restrict(other VersionFilter) (VersionFilter, error) {
	seen := map[string]struct{}{}
	var combined VersionFilter
	for _, rule := range append(append(VersionFilter{}, f...), other...) {
		key := rule.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		combined = append(combined, rule)
	}
	min, hasMin := combined.GreaterOrEqualTo()
	max, hasMax := combined.LessThan()
	if hasMin && hasMax && !min.LessThan(max) {
		return nil, fmt.Errorf("version ranges [%s] and [%s] are not compatible", f, other)
	}
	return combined, nil
}

func (f VersionFilter) String() string {
	rules := make([]string, len(f))
	for i, rule := range f {
		rules[i] = rule.String()
	}
	return strings.Join(rules, ",")
}
