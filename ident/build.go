package ident

import (
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"sort"
	"strings"
)

const (
	// SourceBuild names the build of a package's source files.
	SourceBuild = "src"
	// EmbeddedBuild names builds provided from within another package.
	EmbeddedBuild = "embedded"

	// buildDigestSize is the number of base32 characters in an options
	// digest.
	buildDigestSize = 8
)

type buildKind uint8

const (
	buildKindDigest buildKind = iota
	buildKindSource
	buildKindEmbedded
)

// Build identifies one concrete realization of a package version: the
// source build, an embedded stub, or a binary build named by the digest
// of its resolved options.
type Build struct {
	kind   buildKind
	digest string
	// source identifies the providing package for embedded builds, when
	// known.
	source string
}

// Source returns the source build identifier.
func Source() Build { return Build{kind: buildKindSource} }

// Embedded returns an embedded build identifier, optionally naming the
// providing package.
func Embedded(source string) Build {
	return Build{kind: buildKindEmbedded, source: source}
}

// BuildFromDigest creates a binary build identifier from an existing
// digest string.
func BuildFromDigest(digest string) Build {
	return Build{kind: buildKindDigest, digest: digest}
}

// BuildFromOptions computes the binary build identifier for the given
// resolved option values.
func BuildFromOptions(options OptionMap) Build {
	return Build{kind: buildKindDigest, digest: options.Digest()}
}

// ParseBuild parses a build identifier from its string form.
func ParseBuild(s string) (Build, error) {
	switch {
	case s == SourceBuild:
		return Source(), nil
	case s == EmbeddedBuild:
		return Embedded(""), nil
	case strings.HasPrefix(s, EmbeddedBuild+"["):
		if !strings.HasSuffix(s, "]") {
			return Build{}, fmt.Errorf("invalid embedded build %q", s)
		}
		return Embedded(s[len(EmbeddedBuild)+1 : len(s)-1]), nil
	case len(s) == buildDigestSize:
		return BuildFromDigest(s), nil
	default:
		return Build{}, fmt.Errorf("invalid build identifier %q", s)
	}
}

// IsSource reports whether this is the source build.
func (b Build) IsSource() bool { return b.kind == buildKindSource }

// IsEmbedded reports whether this is an embedded stub build.
func (b Build) IsEmbedded() bool { return b.kind == buildKindEmbedded }

// EmbeddedSource returns the providing package of an embedded build.
func (b Build) EmbeddedSource() string { return b.source }

// Digest returns the distinguishing string of this build. Source and
// embedded builds use their fixed names.
func (b Build) Digest() string {
	switch b.kind {
	case buildKindSource:
		return SourceBuild
	case buildKindEmbedded:
		return EmbeddedBuild
	default:
		return b.digest
	}
}

func (b Build) String() string {
	if b.kind == buildKindEmbedded && b.source != "" {
		return fmt.Sprintf("%s[%s]", EmbeddedBuild, b.source)
	}
	return b.Digest()
}

// Equal reports whether two builds identify the same realization.
func (b Build) Equal(other Build) bool {
	return b.kind == other.kind && b.digest == other.digest
}

// optionsDigest hashes a sorted rendering of name=value pairs into the
// compact base32 form used for build identifiers.
func optionsDigest(options map[OptName]string) string {
	names := make([]string, 0, len(options))
	for name := range options {
		names = append(names, string(name))
	}
	sort.Strings(names)

	hasher := sha256.New()
	for _, name := range names {
		fmt.Fprintf(hasher, "%s=%s\n", name, options[OptName(name)])
	}
	encoded := base32.StdEncoding.EncodeToString(hasher.Sum(nil))
	return encoded[:buildDigestSize]
}
