package solve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pakfs/pakfs/ident"
)

func TestChangesProduceNewStates(t *testing.T) {
	base := NewState()
	request := mustPkgRequest(t, "python/~3.9")

	next := RequestPackage{Request: request}.Apply(base)
	assert.Empty(t, base.PkgRequests(), "applying a change must not mutate the base state")
	require.Len(t, next.PkgRequests(), 1)
	assert.NotEqual(t, base.ID(), next.ID())
}

func TestStateIDIsStable(t *testing.T) {
	build := func() *State {
		state := NewState()
		state = RequestPackage{Request: mustPkgRequest(t, "a/1.0")}.Apply(state)
		state = RequestVar{Request: &ident.VarRequest{Var: "debug", Value: "on"}}.Apply(state)
		state = SetOptions{Options: ident.OptionMap{"arch": "x86_64"}}.Apply(state)
		return state
	}
	assert.Equal(t, build().ID(), build().ID())
}

func TestRequestVarUpdatesOptions(t *testing.T) {
	state := RequestVar{Request: &ident.VarRequest{Var: "debug", Value: "on"}}.Apply(NewState())
	options := state.OptionMap()
	assert.Equal(t, "on", options[ident.OptName("debug")])
	require.Len(t, state.VarRequests(), 1)
}

func TestGetMergedRequest(t *testing.T) {
	state := NewState()
	state = RequestPackage{Request: mustPkgRequest(t, "x/>=1")}.Apply(state)
	state = RequestPackage{Request: mustPkgRequest(t, "x/<3")}.Apply(state)

	merged, err := state.GetMergedRequest("x")
	require.NoError(t, err)
	assert.True(t, merged.IsVersionApplicable(ident.MustVersion("2.0")).IsOk())
	assert.False(t, merged.IsVersionApplicable(ident.MustVersion("3.0")).IsOk())

	_, err = state.GetMergedRequest("ghost")
	assert.ErrorAs(t, err, &NoRequestForError{})
}

func TestGetNextRequestSkipsIfAlreadyPresent(t *testing.T) {
	optional := mustPkgRequest(t, "maybe/1.0")
	optional.InclusionPolicy = ident.InclusionIfAlreadyPresent
	state := RequestPackage{Request: optional}.Apply(NewState())

	next, err := state.GetNextRequest()
	require.NoError(t, err)
	assert.Nil(t, next, "IfAlreadyPresent requests do not force resolution")

	// once another requester needs it, the merged request surfaces
	state = RequestPackage{Request: mustPkgRequest(t, "maybe/>=1")}.Apply(state)
	next, err = state.GetNextRequest()
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, ident.PkgName("maybe"), next.Pkg.Name)
}

func TestStepBackReturnsToDestination(t *testing.T) {
	origin := RequestPackage{Request: mustPkgRequest(t, "a")}.Apply(NewState())
	wandered := RequestPackage{Request: mustPkgRequest(t, "b")}.Apply(origin)

	back := NewStepBack("no options for b", origin, nil).Apply(wandered)
	assert.Equal(t, origin.ID(), back.ID())
}

func TestGraphReusesVisitedNodes(t *testing.T) {
	graph := NewGraph()
	decision := NewDecision(RequestPackage{Request: mustPkgRequest(t, "a")})

	first := graph.AddBranch(graph.Root.ID(), decision)
	second := graph.AddBranch(graph.Root.ID(), decision)
	assert.Same(t, first, second, "identical states must share one node with its iterators")
	assert.Equal(t, 2, graph.Len())
}
