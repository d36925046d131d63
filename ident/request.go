package ident

import (
	"fmt"
)

// PreReleasePolicy controls whether pre-release versions are considered
// when resolving a request.
type PreReleasePolicy uint8

const (
	// PreReleaseExcludeAll ignores pre-release versions entirely.
	PreReleaseExcludeAll PreReleasePolicy = iota
	// PreReleaseIncludeAll considers pre-release versions like any other.
	PreReleaseIncludeAll
)

func (p PreReleasePolicy) String() string {
	if p == PreReleaseIncludeAll {
		return "IncludeAll"
	}
	return "ExcludeAll"
}

// InclusionPolicy controls whether a request must always be resolved or
// only applies when some other request already pulled the package in.
type InclusionPolicy uint8

const (
	// InclusionAlways requires the package in every solution.
	InclusionAlways InclusionPolicy = iota
	// InclusionIfAlreadyPresent only constrains the package when another
	// request resolves it.
	InclusionIfAlreadyPresent
)

func (p InclusionPolicy) String() string {
	if p == InclusionIfAlreadyPresent {
		return "IfAlreadyPresent"
	}
	return "Always"
}

// RangeIdent identifies a set of acceptable package builds: a name, a
// version filter, an optional exact build and a set of required
// components.
type RangeIdent struct {
	Name           PkgName
	Version        VersionFilter
	Build          *Build
	Components     ComponentSet
	RepositoryName string
}

func (r RangeIdent) String() string {
	s := string(r.Name)
	if r.RepositoryName != "" {
		s = r.RepositoryName + "/" + s
	}
	if len(r.Components) == 1 {
		s += ":" + string(r.Components.Names()[0])
	} else if len(r.Components) > 1 {
		s += ":{" + r.Components.String() + "}"
	}
	if len(r.Version) > 0 || r.Build != nil {
		s += "/" + r.Version.String()
	}
	if r.Build != nil {
		s += "/" + r.Build.String()
	}
	return s
}

// PkgRequest is a constraint on which builds of a package may be part of
// a solution.
type PkgRequest struct {
	Pkg              RangeIdent
	PrereleasePolicy PreReleasePolicy
	InclusionPolicy  InclusionPolicy
	// Pin holds the template used to re-render this request from a build
	// environment, when requested.
	Pin string
	// RequiredCompat is the strictness of compatibility required between
	// the requested and resolved versions.
	RequiredCompat CompatRule
	// RequestedBy records which packages (or the command line) introduced
	// this request, for error reporting.
	RequestedBy []string
}

// NewPkgRequest creates a request for the named package with the given
// version filter.
func NewPkgRequest(name PkgName, filter VersionFilter) *PkgRequest {
	return &PkgRequest{
		Pkg: RangeIdent{
			Name:       name,
			Version:    filter,
			Components: NewComponentSet(),
		},
	}
}

// ParsePkgRequest parses "name[:component][/version-filter[/build]]".
func ParsePkgRequest(s string) (*PkgRequest, error) {
	rest := s
	var components ComponentSet
	var nameAndComponents, filterText, buildText string
	parts := splitN(rest, '/', 3)
	nameAndComponents = parts[0]
	if len(parts) > 1 {
		filterText = parts[1]
	}
	if len(parts) > 2 {
		buildText = parts[2]
	}

	namePart := nameAndComponents
	components = NewComponentSet()
	if name, comps, ok := cut(nameAndComponents, ':'); ok {
		namePart = name
		components.Add(Component(comps))
	}
	name, err := ParsePkgName(namePart)
	if err != nil {
		return nil, err
	}
	filter, err := ParseVersionFilter(filterText)
	if err != nil {
		return nil, err
	}
	request := &PkgRequest{
		Pkg: RangeIdent{
			Name:       name,
			Version:    filter,
			Components: components,
		},
	}
	if buildText != "" {
		build, err := ParseBuild(buildText)
		if err != nil {
			return nil, err
		}
		request.Pkg.Build = &build
	}
	return request, nil
}

func splitN(s string, sep byte, n int) []string {
	var parts []string
	for len(parts) < n-1 {
		i := indexByte(s, sep)
		if i < 0 {
			break
		}
		parts = append(parts, s[:i])
		s = s[i+1:]
	}
	return append(parts, s)
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func cut(s string, sep byte) (string, string, bool) {
	if i := indexByte(s, sep); i >= 0 {
		return s[:i], s[i+1:], true
	}
	return s, "", false
}

// Clone returns a deep copy of this request.
func (r *PkgRequest) Clone() *PkgRequest {
	cp := *r
	cp.Pkg.Version = append(VersionFilter{}, r.Pkg.Version...)
	cp.Pkg.Components = r.Pkg.Components.Union(nil)
	cp.RequestedBy = append([]string{}, r.RequestedBy...)
	if r.Pkg.Build != nil {
		build := *r.Pkg.Build
		cp.Pkg.Build = &build
	}
	return &cp
}

// AddRequester records the given requester on this request.
func (r *PkgRequest) AddRequester(name string) {
	for _, existing := range r.RequestedBy {
		if existing == name {
			return
		}
	}
	r.RequestedBy = append(r.RequestedBy, name)
}

// IsVersionApplicable checks the version against this request's filter
// and pre-release policy.
func (r *PkgRequest) IsVersionApplicable(v Version) Compatibility {
	if r.PrereleasePolicy == PreReleaseExcludeAll && v.IsPreRelease() {
		return Incompatible("prereleases not allowed")
	}
	return r.Pkg.Version.IsApplicable(v)
}

// IsSatisfiedBy checks a concrete package spec against this request.
func (r *PkgRequest) IsSatisfiedBy(spec *Spec) Compatibility {
	if spec.Pkg.Name != r.Pkg.Name {
		return Incompatible("package name mismatch: %s != %s", spec.Pkg.Name, r.Pkg.Name)
	}
	if compat := r.IsVersionApplicable(spec.Pkg.Version); !compat.IsOk() {
		return compat
	}
	if r.Pkg.Build != nil {
		if spec.Pkg.Build == nil || !spec.Pkg.Build.Equal(*r.Pkg.Build) {
			return Incompatible("requested build %s, got %v", r.Pkg.Build, spec.Pkg.Build)
		}
	}
	if r.RequiredCompat >= CompatAPI {
		if min, ok := r.Pkg.Version.GreaterOrEqualTo(); ok && spec.Pkg.Version.Part(0) != min.Part(0) {
			return Incompatible(
				"%s compatibility required, but major versions differ: %s vs %s",
				r.RequiredCompat, min, spec.Pkg.Version)
		}
	}
	return Compatible
}

// Restrict merges the other request into this one: version ranges
// intersect, components union, and the stricter policies win. It fails
// when exact builds conflict or the ranges are disjoint.
func (r *PkgRequest) Restrict(other *PkgRequest) error {
	if r.Pkg.Name != other.Pkg.Name {
		return fmt.Errorf("cannot restrict %s by request for %s", r.Pkg.Name, other.Pkg.Name)
	}
	if r.Pkg.Build != nil && other.Pkg.Build != nil && !r.Pkg.Build.Equal(*other.Pkg.Build) {
		return fmt.Errorf(
			"conflicting builds requested for %s: %s != %s",
			r.Pkg.Name, r.Pkg.Build, other.Pkg.Build)
	}
	combined, err := r.Pkg.Version.Restrict(other.Pkg.Version)
	if err != nil {
		return err
	}
	r.Pkg.Version = combined
	r.Pkg.Components = r.Pkg.Components.Union(other.Pkg.Components)
	if other.Pkg.Build != nil {
		build := *other.Pkg.Build
		r.Pkg.Build = &build
	}
	if other.Pkg.RepositoryName != "" {
		if r.Pkg.RepositoryName != "" && r.Pkg.RepositoryName != other.Pkg.RepositoryName {
			return fmt.Errorf(
				"conflicting repositories requested for %s: %s != %s",
				r.Pkg.Name, r.Pkg.RepositoryName, other.Pkg.RepositoryName)
		}
		r.Pkg.RepositoryName = other.Pkg.RepositoryName
	}
	if other.PrereleasePolicy == PreReleaseExcludeAll {
		r.PrereleasePolicy = PreReleaseExcludeAll
	}
	if other.InclusionPolicy == InclusionAlways {
		r.InclusionPolicy = InclusionAlways
	}
	r.RequiredCompat = r.RequiredCompat.Stricter(other.RequiredCompat)
	for _, requester := range other.RequestedBy {
		r.AddRequester(requester)
	}
	return nil
}

func (r *PkgRequest) String() string { return r.Pkg.String() }

// VarRequest is a constraint on the value of a build option, possibly
// namespaced to one package.
type VarRequest struct {
	Var   OptName
	Value string
	// FromBuildEnv marks requests whose value is pinned from a build
	// environment rather than given directly.
	FromBuildEnv bool
}

// IsSatisfiedBy checks a package spec's recorded option values against
// this request.
func (r *VarRequest) IsSatisfiedBy(spec *Spec) Compatibility {
	if ns, ok := r.Var.Namespace(); ok && ns != spec.Pkg.Name {
		return Compatible
	}
	if r.Value == "" {
		return Compatible
	}
	values := spec.OptionValues()
	value, ok := values.Get(OptName(r.Var.BaseName()))
	if !ok || value == "" {
		// an unset option offers no opinion
		return Compatible
	}
	if value != r.Value {
		return Incompatible("wants %s=%s, build has %s", r.Var, r.Value, value)
	}
	return Compatible
}

// Clone returns a copy of this request.
func (r *VarRequest) Clone() *VarRequest {
	cp := *r
	return &cp
}

func (r *VarRequest) String() string {
	return fmt.Sprintf("%s=%s", r.Var, r.Value)
}

// Request is either a package request or a var request.
type Request struct {
	Pkg *PkgRequest
	Var *VarRequest
}

// IsPkg reports whether this is a package request.
func (r Request) IsPkg() bool { return r.Pkg != nil }

func (r Request) String() string {
	if r.Pkg != nil {
		return r.Pkg.String()
	}
	if r.Var != nil {
		return r.Var.String()
	}
	return "<empty request>"
}
