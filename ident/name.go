package ident

import (
	"fmt"
	"regexp"
	"strings"
)

// pkgNameRegexp is the regular expression which package names must match:
// lowercase alphanumeric components optionally separated by single hyphens.
var pkgNameRegexp = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// PkgName is a validated package name.
type PkgName string

// ParsePkgName validates the given string as a package name.
func ParsePkgName(name string) (PkgName, error) {
	if !pkgNameRegexp.MatchString(name) {
		return "", InvalidNameError{Name: name}
	}
	return PkgName(name), nil
}

// MustPkgName parses name, panicking on invalid input. Intended for
// statically-known names in tests and defaults.
func MustPkgName(name string) PkgName {
	parsed, err := ParsePkgName(name)
	if err != nil {
		panic(err)
	}
	return parsed
}

func (n PkgName) String() string { return string(n) }

// InvalidNameError is returned when a package or option name is malformed.
type InvalidNameError struct {
	Name string
}

func (err InvalidNameError) Error() string {
	return fmt.Sprintf("invalid name: %q", err.Name)
}

// OptName is an option name, optionally namespaced to a package as in
// "python.abi".
type OptName string

// ParseOptName validates the given string as an option name.
func ParseOptName(name string) (OptName, error) {
	base := name
	if ns, rest, ok := strings.Cut(name, "."); ok {
		if !pkgNameRegexp.MatchString(ns) {
			return "", InvalidNameError{Name: name}
		}
		base = rest
	}
	if !regexp.MustCompile(`^[a-z0-9_]+$`).MatchString(base) {
		return "", InvalidNameError{Name: name}
	}
	return OptName(name), nil
}

// Namespace returns the package qualifier of this option name, if any.
func (n OptName) Namespace() (PkgName, bool) {
	if ns, _, ok := strings.Cut(string(n), "."); ok {
		return PkgName(ns), true
	}
	return "", false
}

// BaseName returns the option name without any package qualifier.
func (n OptName) BaseName() string {
	if _, rest, ok := strings.Cut(string(n), "."); ok {
		return rest
	}
	return string(n)
}

// WithNamespace returns this option name qualified to the given package.
func (n OptName) WithNamespace(pkg PkgName) OptName {
	return OptName(string(pkg) + "." + n.BaseName())
}

func (n OptName) String() string { return string(n) }
