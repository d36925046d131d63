package solve

import (
	"context"
	"sort"

	"github.com/pakfs/pakfs"
	"github.com/pakfs/pakfs/configuration"
	"github.com/pakfs/pakfs/ident"
	"github.com/pakfs/pakfs/internal/dcontext"
)

// BuildCandidate is one build offered to the solver: its spec plus the
// source it would be taken from.
type BuildCandidate struct {
	Spec   *ident.Spec
	Source PackageSource
}

// BuildIterator yields the builds of one package version.
type BuildIterator interface {
	// Next returns the next candidate, or nil when exhausted.
	Next(ctx context.Context) (*BuildCandidate, error)
	// IsEmpty reports whether the iterator has nothing left to yield.
	IsEmpty() bool
	// Len returns the number of candidates remaining.
	Len() int
	// IsSorted reports whether this iterator already yields builds in
	// solver preference order.
	IsSorted() bool
}

// PackageIterator yields (version, builds) pairs for one package name in
// solver preference order (highest version first).
type PackageIterator interface {
	// Next returns the next version identifier and its build iterator,
	// or an empty ident when exhausted.
	Next(ctx context.Context) (ident.Ident, BuildIterator, bool, error)
	// SetBuilds replaces the cached build iterator for a version, so
	// that sorting or filtering done by the solver persists when the
	// version is revisited.
	SetBuilds(version ident.Version, builds BuildIterator)
}

// EmptyBuildIterator yields nothing.
type EmptyBuildIterator struct{}

func (EmptyBuildIterator) Next(context.Context) (*BuildCandidate, error) { return nil, nil }
func (EmptyBuildIterator) IsEmpty() bool                                 { return true }
func (EmptyBuildIterator) Len() int                                      { return 0 }
func (EmptyBuildIterator) IsSorted() bool                                { return false }

// RepositoryPackageIterator is a stateful cursor yielding package builds
// from a set of repositories: versions high to low, with embedded stubs
// deferred to a second pass after all real builds.
type RepositoryPackageIterator struct {
	PackageName ident.PkgName
	Repos       []pakfs.Repository

	started       bool
	versions      []ident.Version
	versionRepos  map[string][]pakfs.Repository
	buildsByVer   map[string]BuildIterator
	embeddedStubs bool
}

// NewRepositoryPackageIterator creates an iterator over the given
// repositories for one package name.
func NewRepositoryPackageIterator(name ident.PkgName, repos []pakfs.Repository) *RepositoryPackageIterator {
	return &RepositoryPackageIterator{
		PackageName:  name,
		Repos:        repos,
		versionRepos: map[string][]pakfs.Repository{},
		buildsByVer:  map[string]BuildIterator{},
	}
}

func (it *RepositoryPackageIterator) start(ctx context.Context) error {
	it.started = true
	found := false
	for _, repo := range it.Repos {
		versions, err := repo.ListPackageVersions(ctx, it.PackageName)
		if err != nil {
			if pakfs.IsNotFound(err) {
				continue
			}
			return err
		}
		found = true
		for _, version := range versions {
			key := version.String()
			if _, ok := it.versionRepos[key]; !ok {
				it.versions = append(it.versions, version)
			}
			it.versionRepos[key] = append(it.versionRepos[key], repo)
		}
	}
	if !found {
		return pakfs.ErrPackageNotFound{Ident: string(it.PackageName)}
	}
	// versions are visited from highest to lowest
	sort.Slice(it.versions, func(i, j int) bool {
		return it.versions[j].LessThan(it.versions[i])
	})
	return nil
}

func (it *RepositoryPackageIterator) Next(ctx context.Context) (ident.Ident, BuildIterator, bool, error) {
	for {
		if !it.started {
			if err := it.start(ctx); err != nil {
				return ident.Ident{}, nil, false, err
			}
		}
		if len(it.versions) == 0 {
			if !it.embeddedStubs {
				// after exhausting the real builds, walk the versions
				// again offering only embedded stubs
				it.embeddedStubs = true
				it.started = false
				it.versionRepos = map[string][]pakfs.Repository{}
				it.buildsByVer = map[string]BuildIterator{}
				continue
			}
			return ident.Ident{}, nil, false, nil
		}
		// the version stays current until its build iterator is drained,
		// so a revisited node resumes exactly where it left off
		version := it.versions[0]
		key := version.String()
		builds, ok := it.buildsByVer[key]
		if !ok {
			iter, err := newRepositoryBuildIterator(
				ctx,
				ident.NewIdent(it.PackageName, version),
				it.versionRepos[key],
				it.embeddedStubs,
			)
			if err != nil {
				if pakfs.IsNotFound(err) {
					it.versions = it.versions[1:]
					continue
				}
				return ident.Ident{}, nil, false, err
			}
			builds = iter
			it.buildsByVer[key] = builds
		}
		if builds.IsEmpty() {
			it.versions = it.versions[1:]
			continue
		}
		return ident.NewIdent(it.PackageName, version), builds, true, nil
	}
}

func (it *RepositoryPackageIterator) SetBuilds(version ident.Version, builds BuildIterator) {
	it.buildsByVer[version.String()] = builds
}

// repositoryBuildIterator yields the published builds of one package
// version, source builds last.
type repositoryBuildIterator struct {
	builds []buildAndRepo
}

type buildAndRepo struct {
	pkg  ident.Ident
	repo pakfs.Repository
}

func newRepositoryBuildIterator(ctx context.Context, pkg ident.Ident, repos []pakfs.Repository, embeddedStubs bool) (*repositoryBuildIterator, error) {
	var builds []buildAndRepo
	seen := map[string]struct{}{}
	for _, repo := range repos {
		listed, err := repo.ListPackageBuilds(ctx, pkg)
		if err != nil {
			if pakfs.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		for _, build := range listed {
			// yield only stubs or only real builds, per pass
			if build.IsEmbedded() != embeddedStubs {
				continue
			}
			key := build.String()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			builds = append(builds, buildAndRepo{pkg: build, repo: repo})
		}
	}
	// source builds must come last so that building from source is the
	// last option under normal circumstances
	sort.SliceStable(builds, func(i, j int) bool {
		return !builds[i].pkg.IsSource() && builds[j].pkg.IsSource()
	})
	return &repositoryBuildIterator{builds: builds}, nil
}

func (it *repositoryBuildIterator) Next(ctx context.Context) (*BuildCandidate, error) {
	for len(it.builds) > 0 {
		next := it.builds[0]
		it.builds = it.builds[1:]
		spec, err := next.repo.ReadPackage(ctx, next.pkg)
		if err != nil {
			if pakfs.IsNotFound(err) {
				dcontext.GetLogger(ctx).Warnf(
					"repository listed build with no spec: %s from %s", next.pkg, next.repo.Name())
				continue
			}
			return nil, err
		}
		components, err := next.repo.ReadComponents(ctx, next.pkg)
		if err != nil {
			if !pakfs.IsNotFound(err) {
				return nil, err
			}
			components = nil
		}
		return &BuildCandidate{
			Spec: spec,
			Source: PackageSource{
				Repo:       next.repo,
				Components: components,
			},
		}, nil
	}
	return nil, nil
}

func (it *repositoryBuildIterator) IsEmpty() bool  { return len(it.builds) == 0 }
func (it *repositoryBuildIterator) Len() int       { return len(it.builds) }
func (it *repositoryBuildIterator) IsSorted() bool { return false }

// buildKeyNameOrder returns the configured option name promotion
// patterns for build key generation.
func buildKeyNameOrder() PromotionPatterns {
	return NewPromotionPatterns(configuration.Get().Solver.BuildKeyNameOrder)
}

// SortedBuildIterator drains a build iterator and re-yields its builds
// sorted by their generated build keys.
type SortedBuildIterator struct {
	builds []*BuildCandidate
}

// DrainBuildIterator collects every remaining candidate of an iterator.
func DrainBuildIterator(ctx context.Context, source BuildIterator) ([]*BuildCandidate, error) {
	var builds []*BuildCandidate
	for {
		candidate, err := source.Next(ctx)
		if err != nil {
			return nil, err
		}
		if candidate == nil {
			return builds, nil
		}
		builds = append(builds, candidate)
	}
}

// NewSortedBuildIterator sorts the given builds by compound option-value
// keys. Builds known to introduce impossible requests sort after those
// that do not.
func NewSortedBuildIterator(candidates []*BuildCandidate, impossibleBuilds map[string]struct{}) *SortedBuildIterator {
	it := &SortedBuildIterator{builds: candidates}
	it.sortByBuildOptionValues(impossibleBuilds)
	return it
}

// sortByBuildOptionValues generates a key per build from the option
// names whose values differ across the candidate builds, then sorts
// descending. Options with identical values across all builds are
// elided to keep keys short and focused on discriminating attributes.
func (it *SortedBuildIterator) sortByBuildOptionValues(impossibleBuilds map[string]struct{}) {
	type changeCounter struct {
		last  string
		count uint64
		useIt bool
	}

	var numberNonSrc uint64
	values := map[string]ident.OptionMap{}
	changes := map[ident.OptName]*changeCounter{}
	for _, candidate := range it.builds {
		if candidate.Spec.Pkg.IsSource() {
			// src builds don't use option values in their key; they
			// always sort last
			continue
		}
		numberNonSrc++
		optionValues := candidate.Spec.OptionValues()
		values[candidate.Spec.Pkg.String()] = optionValues
		for name, value := range optionValues {
			counter, ok := changes[name]
			if !ok {
				counter = &changeCounter{last: value}
				changes[name] = counter
			}
			counter.count++
			if !counter.useIt && counter.last != value {
				counter.useIt = true
			}
		}
	}

	var keyNames []string
	for name, counter := range changes {
		if counter.useIt || counter.count != numberNonSrc {
			keyNames = append(keyNames, string(name))
		}
	}
	// alphabetical fallback order for names not promoted below
	sort.Strings(keyNames)
	buildKeyNameOrder().PromoteNames(keyNames)
	ordering := make([]ident.OptName, len(keyNames))
	for i, name := range keyNames {
		ordering[i] = ident.OptName(name)
	}

	keys := make(map[string]BuildKey, len(it.builds))
	for _, candidate := range it.builds {
		id := candidate.Spec.Pkg.String()
		_, impossible := impossibleBuilds[id]
		keys[id] = NewBuildKey(candidate.Spec.Pkg, ordering, values[id], impossible)
	}
	sort.SliceStable(it.builds, func(i, j int) bool {
		a := keys[it.builds[i].Spec.Pkg.String()]
		b := keys[it.builds[j].Spec.Pkg.String()]
		return a.Compare(b) > 0
	})
}

func (it *SortedBuildIterator) Next(ctx context.Context) (*BuildCandidate, error) {
	if len(it.builds) == 0 {
		return nil, nil
	}
	next := it.builds[0]
	it.builds = it.builds[1:]
	return next, nil
}

func (it *SortedBuildIterator) IsEmpty() bool  { return len(it.builds) == 0 }
func (it *SortedBuildIterator) Len() int       { return len(it.builds) }
func (it *SortedBuildIterator) IsSorted() bool { return true }
