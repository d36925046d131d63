package ident

import (
	"fmt"
	"strings"
)

// Ident identifies a package at any level of precision: name alone,
// name and version, or a fully specified build.
type Ident struct {
	Name    PkgName
	Version Version
	Build   *Build
}

// NewIdent creates a name-and-version identifier.
func NewIdent(name PkgName, version Version) Ident {
	return Ident{Name: name, Version: version}
}

// ParseIdent parses "name[/version[/build]]".
func ParseIdent(s string) (Ident, error) {
	parts := strings.Split(s, "/")
	if len(parts) > 3 {
		return Ident{}, fmt.Errorf("invalid package identifier %q", s)
	}
	name, err := ParsePkgName(parts[0])
	if err != nil {
		return Ident{}, err
	}
	ident := Ident{Name: name}
	if len(parts) > 1 {
		version, err := ParseVersion(parts[1])
		if err != nil {
			return Ident{}, err
		}
		ident.Version = version
	}
	if len(parts) > 2 {
		build, err := ParseBuild(parts[2])
		if err != nil {
			return Ident{}, err
		}
		ident.Build = &build
	}
	return ident, nil
}

// MustIdent parses s, panicking on invalid input.
func MustIdent(s string) Ident {
	ident, err := ParseIdent(s)
	if err != nil {
		panic(err)
	}
	return ident
}

// WithBuild returns a copy of this identifier carrying the given build.
func (i Ident) WithBuild(build Build) Ident {
	i.Build = &build
	return i
}

// WithoutBuild returns a copy of this identifier with no build.
func (i Ident) WithoutBuild() Ident {
	i.Build = nil
	return i
}

// IsSource reports whether this identifier names a source build.
func (i Ident) IsSource() bool {
	return i.Build != nil && i.Build.IsSource()
}

// IsEmbedded reports whether this identifier names an embedded stub.
func (i Ident) IsEmbedded() bool {
	return i.Build != nil && i.Build.IsEmbedded()
}

// Equal reports full equality including the build.
func (i Ident) Equal(other Ident) bool {
	if i.Name != other.Name || !i.Version.Equal(other.Version) {
		return false
	}
	switch {
	case i.Build == nil && other.Build == nil:
		return true
	case i.Build == nil || other.Build == nil:
		return false
	default:
		return i.Build.Equal(*other.Build)
	}
}

func (i Ident) String() string {
	s := string(i.Name)
	if len(i.Version.Parts) > 0 || i.Build != nil {
		s += "/" + i.Version.String()
	}
	if i.Build != nil {
		s += "/" + i.Build.String()
	}
	return s
}
