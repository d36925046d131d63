package ident

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePkgRequest(t *testing.T) {
	request, err := ParsePkgRequest("python/~3.9")
	require.NoError(t, err)
	assert.Equal(t, PkgName("python"), request.Pkg.Name)
	assert.True(t, request.IsVersionApplicable(MustVersion("3.9.7")).IsOk())
	assert.False(t, request.IsVersionApplicable(MustVersion("3.10.0")).IsOk())

	request, err = ParsePkgRequest("gcc:build/>=9")
	require.NoError(t, err)
	assert.True(t, request.Pkg.Components.Contains(Component("build")))

	_, err = ParsePkgRequest("Not-A-Name/1.0")
	assert.Error(t, err)
}

func TestRequestRestrict(t *testing.T) {
	a, err := ParsePkgRequest("python/>=3")
	require.NoError(t, err)
	a.Pkg.Components = NewComponentSet(ComponentRun)
	b, err := ParsePkgRequest("python/<4")
	require.NoError(t, err)
	b.Pkg.Components = NewComponentSet(ComponentBuild)

	require.NoError(t, a.Restrict(b))
	assert.True(t, a.IsVersionApplicable(MustVersion("3.5")).IsOk())
	assert.False(t, a.IsVersionApplicable(MustVersion("4.0")).IsOk())
	// components are unioned
	assert.True(t, a.Pkg.Components.Contains(ComponentRun))
	assert.True(t, a.Pkg.Components.Contains(ComponentBuild))
}

func TestRequestRestrictConflictingBuilds(t *testing.T) {
	buildA := BuildFromDigest("AAAAAAAA")
	buildB := BuildFromDigest("BBBBBBBB")
	a := NewPkgRequest("python", nil)
	a.Pkg.Build = &buildA
	b := NewPkgRequest("python", nil)
	b.Pkg.Build = &buildB
	assert.Error(t, a.Restrict(b))
}

func TestRequestRestrictDisjointRanges(t *testing.T) {
	a := NewPkgRequest("python", MustVersionFilter(">=3"))
	b := NewPkgRequest("python", MustVersionFilter("<2"))
	assert.Error(t, a.Restrict(b))
}

func TestRequestRestrictPolicies(t *testing.T) {
	a := NewPkgRequest("python", nil)
	a.PrereleasePolicy = PreReleaseIncludeAll
	a.InclusionPolicy = InclusionIfAlreadyPresent
	b := NewPkgRequest("python", nil)
	b.PrereleasePolicy = PreReleaseExcludeAll
	b.InclusionPolicy = InclusionAlways

	require.NoError(t, a.Restrict(b))
	// the stricter policies win
	assert.Equal(t, PreReleaseExcludeAll, a.PrereleasePolicy)
	assert.Equal(t, InclusionAlways, a.InclusionPolicy)
}

func TestPrereleasePolicy(t *testing.T) {
	request := NewPkgRequest("python", nil)
	assert.False(t, request.IsVersionApplicable(MustVersion("3.0-rc.1")).IsOk())
	request.PrereleasePolicy = PreReleaseIncludeAll
	assert.True(t, request.IsVersionApplicable(MustVersion("3.0-rc.1")).IsOk())
}

func TestVarRequestSatisfaction(t *testing.T) {
	spec := &Spec{
		Pkg: MustIdent("python/3.9.7").WithBuild(BuildFromDigest("AAAAAAAA")),
		Build: BuildSpec{Options: []Opt{
			{Var: "abi", Value: "cp39"},
		}},
	}

	request := &VarRequest{Var: "abi", Value: "cp39"}
	assert.True(t, request.IsSatisfiedBy(spec).IsOk())

	request = &VarRequest{Var: "abi", Value: "cp37"}
	assert.False(t, request.IsSatisfiedBy(spec).IsOk())

	// an empty requested value offers no opinion
	request = &VarRequest{Var: "abi", Value: ""}
	assert.True(t, request.IsSatisfiedBy(spec).IsOk())

	// requests qualified to another package do not apply
	request = &VarRequest{Var: "gcc.abi", Value: "anything"}
	assert.True(t, request.IsSatisfiedBy(spec).IsOk())
}
