package ident

import (
	"fmt"
	"strconv"
	"strings"
)

// VersionTag is one named pre- or post-release tag, e.g. the "r.1" in
// "1.2.3-r.1".
type VersionTag struct {
	Name  string
	Value uint32
}

// TagSet is an ordered set of version tags, kept sorted by name so that
// comparison and rendering are deterministic.
type TagSet []VersionTag

// Compare orders two tag sets lexicographically by (name, value) pairs.
func (s TagSet) Compare(other TagSet) int {
	for i := 0; i < len(s) && i < len(other); i++ {
		if c := strings.Compare(s[i].Name, other[i].Name); c != 0 {
			return c
		}
		if s[i].Value != other[i].Value {
			if s[i].Value < other[i].Value {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(s) < len(other):
		return -1
	case len(s) > len(other):
		return 1
	default:
		return 0
	}
}

func (s TagSet) String() string {
	parts := make([]string, len(s))
	for i, tag := range s {
		parts[i] = fmt.Sprintf("%s.%d", tag.Name, tag.Value)
	}
	return strings.Join(parts, ",")
}

// Version is a package version: a sequence of numeric parts plus ordered
// pre- and post-release tag sets. PlusEpsilon marks a version as "just
// above" its rendered value; it is an internal sentinel used for range
// bounds and never appears in serialized form.
type Version struct {
	Parts       []uint32
	PlusEpsilon bool
	Pre         TagSet
	Post        TagSet
}

// NewVersion creates a version from major, minor and patch parts.
func NewVersion(parts ...uint32) Version {
	return Version{Parts: parts}
}

// ParseVersion parses a version of the form
// "1.2.3[-pre.1[,pre2.2]][+post.1]".
func ParseVersion(s string) (Version, error) {
	if s == "" {
		return Version{}, InvalidVersionError{Version: s, Reason: "empty string"}
	}
	var version Version
	rest := s
	if base, post, ok := strings.Cut(rest, "+"); ok {
		tags, err := parseTagSet(post)
		if err != nil {
			return Version{}, InvalidVersionError{Version: s, Reason: err.Error()}
		}
		version.Post = tags
		rest = base
	}
	if base, pre, ok := strings.Cut(rest, "-"); ok {
		tags, err := parseTagSet(pre)
		if err != nil {
			return Version{}, InvalidVersionError{Version: s, Reason: err.Error()}
		}
		version.Pre = tags
		rest = base
	}
	for _, part := range strings.Split(rest, ".") {
		number, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return Version{}, InvalidVersionError{Version: s, Reason: fmt.Sprintf("invalid number part %q", part)}
		}
		version.Parts = append(version.Parts, uint32(number))
	}
	return version, nil
}

// MustVersion parses s, panicking on invalid input.
func MustVersion(s string) Version {
	version, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return version
}

func parseTagSet(s string) (TagSet, error) {
	var tags TagSet
	for _, pair := range strings.Split(s, ",") {
		name, value, ok := strings.Cut(pair, ".")
		if !ok {
			return nil, fmt.Errorf("invalid tag %q, expected name.number", pair)
		}
		number, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid tag number in %q", pair)
		}
		tags = append(tags, VersionTag{Name: name, Value: uint32(number)})
	}
	for i := 1; i < len(tags); i++ {
		if tags[i].Name <= tags[i-1].Name {
			return nil, fmt.Errorf("tags must be unique and ordered by name")
		}
	}
	return tags, nil
}

// Part returns the i-th numeric part, defaulting to zero.
func (v Version) Part(i int) uint32 {
	if i < len(v.Parts) {
		return v.Parts[i]
	}
	return 0
}

// IsZero reports whether this is the zero version with no parts.
func (v Version) IsZero() bool {
	for _, part := range v.Parts {
		if part != 0 {
			return false
		}
	}
	return len(v.Pre) == 0 && len(v.Post) == 0 && !v.PlusEpsilon
}

// IsPreRelease reports whether this version carries pre-release tags.
func (v Version) IsPreRelease() bool { return len(v.Pre) > 0 }

// WithEpsilon returns a copy of this version marked as infinitesimally
// larger, for use as an inclusive upper bound.
func (v Version) WithEpsilon() Version {
	v.PlusEpsilon = true
	return v
}

// Compare orders versions: numeric parts first, then the epsilon marker,
// then post-release tags (which raise a version) and pre-release tags
// (which lower it): 1.0-r.1 < 1.0 < 1.0+r.1.
func (v Version) Compare(other Version) int {
	limit := len(v.Parts)
	if len(other.Parts) > limit {
		limit = len(other.Parts)
	}
	for i := 0; i < limit; i++ {
		a, b := v.Part(i), other.Part(i)
		if a != b {
			if a < b {
				return -1
			}
			return 1
		}
	}
	if v.PlusEpsilon != other.PlusEpsilon {
		if v.PlusEpsilon {
			return 1
		}
		return -1
	}
	// no pre-tag sorts above any pre-tag
	switch {
	case len(v.Pre) == 0 && len(other.Pre) > 0:
		return 1
	case len(v.Pre) > 0 && len(other.Pre) == 0:
		return -1
	}
	if c := v.Pre.Compare(other.Pre); c != 0 {
		return c
	}
	return v.Post.Compare(other.Post)
}

// LessThan reports v < other.
func (v Version) LessThan(other Version) bool { return v.Compare(other) < 0 }

// Equal reports whether the two versions compare identically.
func (v Version) Equal(other Version) bool { return v.Compare(other) == 0 }

func (v Version) String() string {
	parts := make([]string, len(v.Parts))
	for i, part := range v.Parts {
		parts[i] = strconv.FormatUint(uint64(part), 10)
	}
	s := strings.Join(parts, ".")
	if len(v.Pre) > 0 {
		s += "-" + v.Pre.String()
	}
	if len(v.Post) > 0 {
		s += "+" + v.Post.String()
	}
	return s
}

// InvalidVersionError is returned when a version string cannot be parsed.
type InvalidVersionError struct {
	Version string
	Reason  string
}

func (err InvalidVersionError) Error() string {
	return fmt.Sprintf("invalid version %q: %s", err.Version, err.Reason)
}
