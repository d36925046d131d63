package solve

import (
	"sync"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/pakfs/pakfs/ident"
)

// ResolvedPackage pairs a resolved spec with its source and the
// components requested of it.
type ResolvedPackage struct {
	Spec       *ident.Spec
	Source     PackageSource
	Components ident.ComponentSet
	// BuildEnv is set for packages resolved as new builds from source.
	BuildEnv *Solution
}

// State is one immutable snapshot of a solve: the ordered request
// lists, the option map, and the packages resolved so far. Successive
// states are produced by applying Changes; fields are never mutated
// once a state is constructed.
type State struct {
	pkgRequests []*ident.PkgRequest
	varRequests []*ident.VarRequest
	options     ident.OptionMap
	packages    []ResolvedPackage
	byName      map[ident.PkgName]int

	idOnce sync.Once
	id     uint64
}

// NewState creates an empty state.
func NewState() *State {
	return &State{
		options: ident.OptionMap{},
		byName:  map[ident.PkgName]int{},
	}
}

// deadState is the sentinel state a StepBack lands on when no history
// remains; reaching it ends the search.
var deadState = NewState()

// IsDead reports whether this is the terminal failure state.
func (s *State) IsDead() bool { return s == deadState }

// clone produces a shallow copy sharing all slices, ready to be extended
// by a change application.
func (s *State) clone() *State {
	cp := &State{
		pkgRequests: s.pkgRequests,
		varRequests: s.varRequests,
		options:     s.options,
		packages:    s.packages,
		byName:      s.byName,
	}
	return cp
}

// ID returns a stable identity for this state's contents, used as a
// cache key across the decision graph.
func (s *State) ID() uint64 {
	s.idOnce.Do(func() {
		projection := struct {
			PkgRequests []string
			VarRequests []string
			Options     map[string]string
			Packages    []string
		}{}
		for _, request := range s.pkgRequests {
			projection.PkgRequests = append(projection.PkgRequests, request.String())
		}
		for _, request := range s.varRequests {
			projection.VarRequests = append(projection.VarRequests, request.String())
		}
		projection.Options = map[string]string{}
		for name, value := range s.options {
			projection.Options[string(name)] = value
		}
		for _, pkg := range s.packages {
			projection.Packages = append(projection.Packages, pkg.Spec.Pkg.String())
		}
		id, err := hashstructure.Hash(projection, hashstructure.FormatV2, nil)
		if err != nil {
			// hashstructure cannot fail on this shape
			panic(err)
		}
		s.id = id
	})
	return s.id
}

// PkgRequests returns the ordered package request list.
func (s *State) PkgRequests() []*ident.PkgRequest {
	return s.pkgRequests
}

// VarRequests returns the ordered var request list.
func (s *State) VarRequests() []*ident.VarRequest {
	return s.varRequests
}

// OptionMap returns a copy of the state's options.
func (s *State) OptionMap() ident.OptionMap {
	return s.options.Copy()
}

// GetMergedRequest merges every request for the named package into a
// single effective request.
func (s *State) GetMergedRequest(name ident.PkgName) (*ident.PkgRequest, error) {
	var merged *ident.PkgRequest
	for _, request := range s.pkgRequests {
		if request.Pkg.Name != name {
			continue
		}
		if merged == nil {
			merged = request.Clone()
			continue
		}
		if err := merged.Restrict(request); err != nil {
			return nil, ConflictingRequestError{Detail: err.Error()}
		}
	}
	if merged == nil {
		return nil, NoRequestForError{Name: name}
	}
	return merged, nil
}

// GetNextRequest returns the merged request for the first package that
// is requested but not yet resolved, or nil when every request is
// satisfied. Requests that are IfAlreadyPresent only do not force
// resolution on their own.
func (s *State) GetNextRequest() (*ident.PkgRequest, error) {
	for _, request := range s.pkgRequests {
		if _, ok := s.byName[request.Pkg.Name]; ok {
			continue
		}
		merged, err := s.GetMergedRequest(request.Pkg.Name)
		if err != nil {
			return nil, err
		}
		if merged.InclusionPolicy == ident.InclusionIfAlreadyPresent {
			continue
		}
		return merged, nil
	}
	return nil, nil
}

// GetCurrentResolve returns the resolve of the named package, if any.
func (s *State) GetCurrentResolve(name ident.PkgName) (ResolvedPackage, bool) {
	i, ok := s.byName[name]
	if !ok {
		return ResolvedPackage{}, false
	}
	return s.packages[i], true
}

// Packages returns every resolved package in resolve order.
func (s *State) Packages() []ResolvedPackage {
	return s.packages
}

// AsSolution converts this state into a solution.
func (s *State) AsSolution() (*Solution, error) {
	solution := NewSolution(s.options)
	for _, resolved := range s.packages {
		request, err := s.GetMergedRequest(resolved.Spec.Pkg.Name)
		if err != nil {
			return nil, err
		}
		solution.Add(SolvedRequest{
			Request:    request,
			Spec:       resolved.Spec,
			Source:     resolved.Source,
			Components: resolved.Components,
		})
	}
	return solution, nil
}
