package solve

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/pakfs/pakfs"
	"github.com/pakfs/pakfs/ident"
)

// ImpossibleRequestCounters exposes the checker's accounting. All
// counters reset together with the caches.
type ImpossibleRequestCounters struct {
	IfAlreadyPresentRequests uint64
	ImpossibleRequestsFound  uint64
	PossibleRequestsFound    uint64
	ImpossibleCacheHits      uint64
	PossibleCacheHits        uint64
	BuildSpecsRead           uint64
	ReadTasksSpawned         uint64
	ReadTasksStopped         uint64
}

// ImpossibleRequestChecker caches, per normalized request, whether any
// build in the configured repositories could satisfy it. The solver uses
// it to reject candidates whose runtime requirements would add requests
// that nothing can ever satisfy.
type ImpossibleRequestChecker struct {
	repos      []pakfs.Repository
	binaryOnly atomic.Bool

	verdicts *gocache.Cache
	group    singleflight.Group

	ifAlreadyPresent atomic.Uint64
	impossibleFound  atomic.Uint64
	possibleFound    atomic.Uint64
	impossibleHits   atomic.Uint64
	possibleHits     atomic.Uint64
	specsRead        atomic.Uint64
	tasksSpawned     atomic.Uint64
	tasksStopped     atomic.Uint64
}

// NewImpossibleRequestChecker creates a checker over the given
// repositories.
func NewImpossibleRequestChecker(repos []pakfs.Repository) *ImpossibleRequestChecker {
	return &ImpossibleRequestChecker{
		repos:    repos,
		verdicts: gocache.New(gocache.NoExpiration, 0),
	}
}

// SetBinaryOnly restricts possibility checks to binary builds.
func (c *ImpossibleRequestChecker) SetBinaryOnly(binaryOnly bool) {
	c.binaryOnly.Store(binaryOnly)
}

// Reset zeroes every counter and clears the verdict cache.
func (c *ImpossibleRequestChecker) Reset() {
	c.verdicts.Flush()
	c.ifAlreadyPresent.Store(0)
	c.impossibleFound.Store(0)
	c.possibleFound.Store(0)
	c.impossibleHits.Store(0)
	c.possibleHits.Store(0)
	c.specsRead.Store(0)
	c.tasksSpawned.Store(0)
	c.tasksStopped.Store(0)
}

// Counters returns a snapshot of the checker's accounting.
func (c *ImpossibleRequestChecker) Counters() ImpossibleRequestCounters {
	return ImpossibleRequestCounters{
		IfAlreadyPresentRequests: c.ifAlreadyPresent.Load(),
		ImpossibleRequestsFound:  c.impossibleFound.Load(),
		PossibleRequestsFound:    c.possibleFound.Load(),
		ImpossibleCacheHits:      c.impossibleHits.Load(),
		PossibleCacheHits:        c.possibleHits.Load(),
		BuildSpecsRead:           c.specsRead.Load(),
		ReadTasksSpawned:         c.tasksSpawned.Load(),
		ReadTasksStopped:         c.tasksStopped.Load(),
	}
}

// ImpossibleRequests returns the normalized requests known impossible.
func (c *ImpossibleRequestChecker) ImpossibleRequests() []string {
	return c.requestsWithVerdict(false)
}

// PossibleRequests returns the normalized requests known possible.
func (c *ImpossibleRequestChecker) PossibleRequests() []string {
	return c.requestsWithVerdict(true)
}

func (c *ImpossibleRequestChecker) requestsWithVerdict(wanted bool) []string {
	var requests []string
	for key, item := range c.verdicts.Items() {
		if verdict, ok := item.Object.(bool); ok && verdict == wanted {
			requests = append(requests, key)
		}
	}
	sort.Strings(requests)
	return requests
}

// normalizeRequest renders a request into its cache key.
func normalizeRequest(request *ident.PkgRequest) string {
	key := fmt.Sprintf("%s/%s", request.Pkg.Name, request.Pkg.Version)
	if request.Pkg.Build != nil {
		key += "/" + request.Pkg.Build.String()
	}
	if len(request.Pkg.Components) > 0 {
		key += ":" + request.Pkg.Components.String()
	}
	return key
}

// AnyBuildValid reports whether any published build could satisfy the
// given request, consulting and filling the verdict cache.
func (c *ImpossibleRequestChecker) AnyBuildValid(ctx context.Context, request *ident.PkgRequest) (bool, error) {
	key := normalizeRequest(request)
	if cached, ok := c.verdicts.Get(key); ok {
		verdict := cached.(bool)
		if verdict {
			c.possibleHits.Add(1)
		} else {
			c.impossibleHits.Add(1)
		}
		return verdict, nil
	}

	verdict, err, _ := c.group.Do(key, func() (any, error) {
		c.tasksSpawned.Add(1)
		defer c.tasksStopped.Add(1)
		possible, err := c.scanForValidBuild(ctx, request)
		if err != nil {
			return false, err
		}
		c.verdicts.Set(key, possible, gocache.NoExpiration)
		if possible {
			c.possibleFound.Add(1)
		} else {
			c.impossibleFound.Add(1)
		}
		return possible, nil
	})
	if err != nil {
		return false, err
	}
	return verdict.(bool), nil
}

func (c *ImpossibleRequestChecker) scanForValidBuild(ctx context.Context, request *ident.PkgRequest) (bool, error) {
	for _, repo := range c.repos {
		versions, err := repo.ListPackageVersions(ctx, request.Pkg.Name)
		if err != nil {
			if pakfs.IsNotFound(err) {
				continue
			}
			return false, err
		}
		for _, version := range versions {
			if !request.IsVersionApplicable(version).IsOk() {
				continue
			}
			builds, err := repo.ListPackageBuilds(ctx, ident.NewIdent(request.Pkg.Name, version))
			if err != nil {
				if pakfs.IsNotFound(err) {
					continue
				}
				return false, err
			}
			for _, build := range builds {
				if c.binaryOnly.Load() && build.IsSource() {
					continue
				}
				spec, err := repo.ReadPackage(ctx, build)
				if err != nil {
					if pakfs.IsNotFound(err) {
						continue
					}
					return false, err
				}
				c.specsRead.Add(1)
				if request.IsSatisfiedBy(spec).IsOk() {
					return true, nil
				}
			}
		}
	}
	return false, nil
}

// ValidateNewRequests checks each package requirement that the candidate
// would add to the state. A requirement that merges into an existing
// request is checked in its merged form; an IfAlreadyPresent requirement
// with no existing requester is skipped.
func (c *ImpossibleRequestChecker) ValidateNewRequests(ctx context.Context, state *State, spec *ident.Spec) (ident.Compatibility, error) {
	for _, requirement := range spec.RuntimeRequirements() {
		if requirement.Pkg == nil {
			continue
		}
		request := requirement.Pkg.Clone()
		existing, err := state.GetMergedRequest(request.Pkg.Name)
		switch err.(type) {
		case nil:
			if restrictErr := existing.Restrict(request); restrictErr != nil {
				return ident.Incompatible(
					"would create conflicting request for %s: %v", request.Pkg.Name, restrictErr), nil
			}
			request = existing
		case NoRequestForError:
			if request.InclusionPolicy == ident.InclusionIfAlreadyPresent {
				c.ifAlreadyPresent.Add(1)
				continue
			}
		default:
			return "", err
		}

		possible, err := c.AnyBuildValid(ctx, request)
		if err != nil {
			return "", err
		}
		if !possible {
			return ident.Incompatible(
				"would add an impossible request for %s", request), nil
		}
	}
	return ident.Compatible, nil
}

// BuildsWithImpossibleRequests checks each candidate build and returns
// the set of build identifiers whose requirements are impossible in the
// given state, for use in build ordering.
func (c *ImpossibleRequestChecker) BuildsWithImpossibleRequests(ctx context.Context, state *State, candidates []*BuildCandidate) (map[string]struct{}, error) {
	impossible := map[string]struct{}{}
	for _, candidate := range candidates {
		compat, err := c.ValidateNewRequests(ctx, state, candidate.Spec)
		if err != nil {
			return nil, err
		}
		if !compat.IsOk() {
			impossible[candidate.Spec.Pkg.String()] = struct{}{}
		}
	}
	return impossible, nil
}
