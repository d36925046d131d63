package solve

import (
	"fmt"
	"sort"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/pakfs/pakfs"
	"github.com/pakfs/pakfs/ident"
)

// PackageSource identifies where a resolved package came from: a
// repository holding a published build, the package that embeds it, or
// the recipe it would be built from.
type PackageSource struct {
	// Repo is set for published builds.
	Repo pakfs.Repository
	// Components holds the published component manifests when Repo is
	// set.
	Components map[ident.Component]digest.Digest
	// EmbeddedBy is set when the package is provided by another.
	EmbeddedBy *ident.Spec
	// Recipe is set when the package would be built from source.
	Recipe *ident.Recipe
}

// IsRepository reports whether this source is a published build.
func (s PackageSource) IsRepository() bool { return s.Repo != nil }

// IsEmbedded reports whether this source is an embedding package.
func (s PackageSource) IsEmbedded() bool { return s.EmbeddedBy != nil }

// IsBuildFromSource reports whether this package must be built.
func (s PackageSource) IsBuildFromSource() bool { return s.Recipe != nil }

// AvailableComponents returns the component names this source can
// provide for the given spec.
func (s PackageSource) AvailableComponents(spec *ident.Spec) ident.ComponentSet {
	if s.IsRepository() {
		names := ident.NewComponentSet()
		for name := range s.Components {
			names.Add(name)
		}
		return names
	}
	return spec.ComponentNames()
}

func (s PackageSource) String() string {
	switch {
	case s.IsRepository():
		return fmt.Sprintf("repository %s", s.Repo.Name())
	case s.IsEmbedded():
		return fmt.Sprintf("embedded in %s", s.EmbeddedBy.Pkg)
	case s.IsBuildFromSource():
		return "build from source"
	default:
		return "unknown source"
	}
}

// SolvedRequest is one entry of a solution: the request, the build that
// satisfies it, and where that build comes from.
type SolvedRequest struct {
	Request    *ident.PkgRequest
	Spec       *ident.Spec
	Source     PackageSource
	Components ident.ComponentSet
}

// Solution is the result of a successful solve: a package for every
// request, in resolve order.
type Solution struct {
	options ident.OptionMap
	items   []SolvedRequest
	byName  map[ident.PkgName]int
}

// NewSolution creates an empty solution carrying the given options.
func NewSolution(options ident.OptionMap) *Solution {
	return &Solution{
		options: options.Copy(),
		byName:  map[ident.PkgName]int{},
	}
}

// Add appends (or replaces) the resolve for one request.
func (s *Solution) Add(item SolvedRequest) {
	if i, ok := s.byName[item.Spec.Pkg.Name]; ok {
		s.items[i] = item
		return
	}
	s.byName[item.Spec.Pkg.Name] = len(s.items)
	s.items = append(s.items, item)
}

// Get returns the resolve for the named package.
func (s *Solution) Get(name ident.PkgName) (SolvedRequest, bool) {
	i, ok := s.byName[name]
	if !ok {
		return SolvedRequest{}, false
	}
	return s.items[i], true
}

// Items returns every resolved request in resolve order.
func (s *Solution) Items() []SolvedRequest {
	return append([]SolvedRequest{}, s.items...)
}

// Options returns the option map carried by this solution.
func (s *Solution) Options() ident.OptionMap {
	return s.options.Copy()
}

// Len returns the number of resolved packages.
func (s *Solution) Len() int { return len(s.items) }

// ToEnvOptions renders the solution as option values usable as a build
// environment: each package's version, plus all carried options.
func (s *Solution) ToEnvOptions() ident.OptionMap {
	options := s.options.Copy()
	for _, item := range s.items {
		options[ident.OptName(item.Spec.Pkg.Name)] = item.Spec.Pkg.Version.String()
	}
	return options
}

func (s *Solution) String() string {
	if len(s.items) == 0 {
		return "nothing resolved"
	}
	names := make([]string, 0, len(s.items))
	for _, item := range s.items {
		names = append(names, item.Spec.Pkg.String())
	}
	sort.Strings(names)
	return strings.Join(names, "\n")
}
