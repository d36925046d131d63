package solve

import (
	"math"
	"strings"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/pakfs/pakfs/ident"
)

// A BuildKey orders builds within a package version. Source builds use a
// simple key that always sorts last; embedded stubs sort second-last.
// Binary builds use a compound key of entries generated from their build
// option values, with two extra entries: a leading flag for "adds no
// impossible requests" and a trailing build-digest tie-breaker so that
// identical keys still order deterministically between runs.
//
// Keys are compared for a descending sort: within one entry position,
// expanded version ranges outrank text values, which outrank unset
// values. Version ranges order by their maximum bound first, then their
// minimum, then a hash of the original request text.
type BuildKey struct {
	kind    buildKeyKind
	entries []buildKeyEntry
}

type buildKeyKind uint8

const (
	buildKeySrc buildKeyKind = iota
	buildKeyEmbed
	buildKeyBinary
)

// NewBuildKey generates the ordering key for one build given the option
// names to consider, in importance order, and the build's resolved
// option values.
func NewBuildKey(pkg ident.Ident, ordering []ident.OptName, values ident.OptionMap, makesImpossibleRequest bool) BuildKey {
	if pkg.IsSource() {
		return BuildKey{kind: buildKeySrc}
	}
	if pkg.IsEmbedded() {
		return BuildKey{kind: buildKeyEmbed}
	}

	entries := make([]buildKeyEntry, 0, len(ordering)+2)
	// the "generates only possible requests" flag leads, giving it the
	// most influence on ordering
	entries = append(entries, boolEntry(!makesImpossibleRequest))
	for _, name := range ordering {
		value, ok := values[name]
		if !ok {
			entries = append(entries, notSetEntry())
			continue
		}
		// values like "4.1.0/DIGEST" are treated as their range part
		rangeText := value
		if base, _, found := strings.Cut(value, "/"); found {
			rangeText = base
		}
		if expanded, ok := expandVersionRange(rangeText); ok {
			entries = append(entries, expanded)
		} else {
			entries = append(entries, textEntry(value))
		}
	}
	if pkg.Build != nil {
		entries = append(entries, textEntry(pkg.Build.Digest()))
	}
	return BuildKey{kind: buildKeyBinary, entries: entries}
}

// Compare orders two keys ascending: src < embed < binary, then entry by
// entry. Builds are presented in descending key order.
func (k BuildKey) Compare(other BuildKey) int {
	if k.kind != other.kind {
		if k.kind < other.kind {
			return -1
		}
		return 1
	}
	for i := 0; i < len(k.entries) && i < len(other.entries); i++ {
		if c := k.entries[i].compare(other.entries[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(k.entries) < len(other.entries):
		return -1
	case len(k.entries) > len(other.entries):
		return 1
	default:
		return 0
	}
}

func (k BuildKey) String() string {
	switch k.kind {
	case buildKeySrc:
		return "Src"
	case buildKeyEmbed:
		return "Embed"
	}
	rendered := make([]string, len(k.entries))
	for i, entry := range k.entries {
		rendered[i] = entry.String()
	}
	return strings.Join(rendered, ", ")
}

// entry kinds, in ascending order: a bool flag, an unset value, a text
// value, an expanded version range.
type entryKind uint8

const (
	entryBool entryKind = iota
	entryNotSet
	entryText
	entryVersion
)

type buildKeyEntry struct {
	kind     entryKind
	flag     bool
	text     string
	max, min keyVersion
	tie      uint64
}

func boolEntry(flag bool) buildKeyEntry { return buildKeyEntry{kind: entryBool, flag: flag} }
func notSetEntry() buildKeyEntry        { return buildKeyEntry{kind: entryNotSet} }
func textEntry(text string) buildKeyEntry {
	return buildKeyEntry{kind: entryText, text: text}
}

func (e buildKeyEntry) compare(other buildKeyEntry) int {
	if e.kind != other.kind {
		if e.kind < other.kind {
			return -1
		}
		return 1
	}
	switch e.kind {
	case entryBool:
		switch {
		case e.flag == other.flag:
			return 0
		case !e.flag:
			return -1
		default:
			return 1
		}
	case entryText:
		return strings.Compare(e.text, other.text)
	case entryVersion:
		if c := e.max.compare(other.max); c != 0 {
			return c
		}
		if c := e.min.compare(other.min); c != 0 {
			return c
		}
		switch {
		case e.tie < other.tie:
			return -1
		case e.tie > other.tie:
			return 1
		}
	}
	return 0
}

func (e buildKeyEntry) String() string {
	switch e.kind {
	case entryBool:
		if e.flag {
			return "All possible: true"
		}
		return "All possible: false"
	case entryNotSet:
		return "NotSet"
	case entryText:
		return e.text
	default:
		return e.max.String() + ">v>=" + e.min.String()
	}
}

// expandVersionRange parses a value as a version request and expands it
// into its bounds; values that do not parse are treated as text.
func expandVersionRange(value string) (buildKeyEntry, bool) {
	if value == "" {
		return buildKeyEntry{}, false
	}
	filter, err := ident.ParseVersionFilter(value)
	if err != nil || len(filter) == 0 {
		return buildKeyEntry{}, false
	}
	entry := buildKeyEntry{kind: entryVersion}
	if max, ok := filter.LessThan(); ok {
		entry.max = newKeyVersion(max)
	} else {
		// no declared maximum: substitute the largest possible version
		// so unbounded requests sort above every bounded one
		entry.max = newKeyVersion(ident.NewVersion(math.MaxUint32, math.MaxUint32, math.MaxUint32))
	}
	if min, ok := filter.GreaterOrEqualTo(); ok {
		entry.min = newKeyVersion(min)
	} else {
		entry.min = newKeyVersion(ident.NewVersion(0, 0, 0))
	}
	// two different request texts can share the same bounds (1.2.3 and
	// >=1.2.3); hash the original text so they still order consistently
	tie, err := hashstructure.Hash(value, hashstructure.FormatV2, nil)
	if err != nil {
		tie = 0
	}
	entry.tie = tie
	return entry, true
}

// keyVersion is a version expanded for use inside a build key. Field
// comparison order puts post-tagged versions above untagged ones and
// untagged above pre-tagged: 1.0+r.1 > 1.0 > 1.0-r.1.
type keyVersion struct {
	digits      []uint32
	plusEpsilon bool
	post        ident.TagSet
	noTags      bool
	pre         ident.TagSet
}

func newKeyVersion(v ident.Version) keyVersion {
	return keyVersion{
		digits:      v.Parts,
		plusEpsilon: v.PlusEpsilon,
		post:        v.Post,
		noTags:      len(v.Pre) == 0 && len(v.Post) == 0,
		pre:         v.Pre,
	}
}

func (v keyVersion) compare(other keyVersion) int {
	limit := len(v.digits)
	if len(other.digits) > limit {
		limit = len(other.digits)
	}
	for i := 0; i < limit; i++ {
		var a, b uint32
		if i < len(v.digits) {
			a = v.digits[i]
		}
		if i < len(other.digits) {
			b = other.digits[i]
		}
		if a != b {
			if a < b {
				return -1
			}
			return 1
		}
	}
	if v.plusEpsilon != other.plusEpsilon {
		if other.plusEpsilon {
			return -1
		}
		return 1
	}
	if c := v.post.Compare(other.post); c != 0 {
		return c
	}
	if v.noTags != other.noTags {
		if other.noTags {
			return -1
		}
		return 1
	}
	return v.pre.Compare(other.pre)
}

func (v keyVersion) String() string {
	rendered := ident.Version{Parts: v.digits, Pre: v.pre, Post: v.post}
	return rendered.String()
}
