package solve

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pakfs/pakfs/ident"
	"github.com/pakfs/pakfs/storage"
)

// makeSpec builds a package spec for tests: "name/version" plus option
// values (the build digest derives from them) and runtime requirements.
func makeSpec(t *testing.T, id string, options map[string]string, requirements ...ident.Request) *ident.Spec {
	t.Helper()
	pkg, err := ident.ParseIdent(id)
	require.NoError(t, err)

	optionMap := ident.OptionMap{}
	var opts []ident.Opt
	for name, value := range options {
		optionMap[ident.OptName(name)] = value
		opts = append(opts, ident.Opt{Var: ident.OptName(name), Value: value})
	}
	if pkg.Build == nil {
		pkg = pkg.WithBuild(ident.BuildFromOptions(optionMap))
	}
	return &ident.Spec{
		Pkg:     pkg,
		Build:   ident.BuildSpec{Options: opts},
		Install: ident.InstallSpec{Requirements: requirements},
	}
}

func pkgRequest(t *testing.T, s string) ident.Request {
	t.Helper()
	request, err := ident.ParsePkgRequest(s)
	require.NoError(t, err)
	return ident.Request{Pkg: request}
}

func testRepo(t *testing.T, specs ...*ident.Spec) *storage.Repository {
	t.Helper()
	repo := storage.NewMemRepository("origin")
	require.NoError(t, repo.PublishSpecs(context.Background(), specs...))
	return repo
}

func TestSolveSimpleRequirementChain(t *testing.T) {
	repo := testRepo(t,
		makeSpec(t, "a/1.0", nil, pkgRequest(t, "b/>=2")),
		makeSpec(t, "b/1.0", nil),
		makeSpec(t, "b/2.0", nil),
	)

	solver := NewSolver()
	solver.AddRepository(repo)
	solver.AddRequest(pkgRequest(t, "a"))

	solution, err := solver.Solve(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, solution.Len())

	a, ok := solution.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1.0", a.Spec.Pkg.Version.String())
	b, ok := solution.Get("b")
	require.True(t, ok)
	assert.Equal(t, "2.0", b.Spec.Pkg.Version.String())
}

func TestSolveFailsWithUnsatisfiableRequirement(t *testing.T) {
	repo := testRepo(t,
		makeSpec(t, "a/1.0", nil, pkgRequest(t, "b/>=2")),
		makeSpec(t, "b/1.0", nil),
	)

	solver := NewSolver()
	solver.AddRepository(repo)
	solver.AddRequest(pkgRequest(t, "a"))

	_, err := solver.Solve(context.Background())
	require.Error(t, err)
	var failed *FailedToResolveError
	require.True(t, errors.As(err, &failed))

	// the graph must explain that a's candidate was rejected because of
	// the unsatisfiable request for b
	found := false
	for _, reason := range failed.Graph.FailureNotes() {
		if containsAll(reason, "a/1.0", "b") {
			found = true
		}
	}
	assert.True(t, found, "failure notes do not identify b as unsatisfiable: %v", failed.Graph.FailureNotes())
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		found := false
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func TestSolvePicksHighestVersion(t *testing.T) {
	repo := testRepo(t,
		makeSpec(t, "python/2.7.18", nil),
		makeSpec(t, "python/3.9.7", nil),
		makeSpec(t, "python/3.11.1", nil),
	)

	solver := NewSolver()
	solver.AddRepository(repo)
	solver.AddRequest(pkgRequest(t, "python"))

	solution, err := solver.Solve(context.Background())
	require.NoError(t, err)
	python, ok := solution.Get("python")
	require.True(t, ok)
	assert.Equal(t, "3.11.1", python.Spec.Pkg.Version.String())
}

func TestSolveBacktracksOverVersions(t *testing.T) {
	// c/2.0 requires d which does not exist at all, so the solver must
	// pass over c/2.0 and settle on c/1.0
	repo := testRepo(t,
		makeSpec(t, "c/1.0", nil),
		makeSpec(t, "c/2.0", nil, pkgRequest(t, "d")),
	)

	solver := NewSolver()
	solver.AddRepository(repo)
	solver.AddRequest(pkgRequest(t, "c"))

	solution, err := solver.Solve(context.Background())
	require.NoError(t, err)
	c, ok := solution.Get("c")
	require.True(t, ok)
	assert.Equal(t, "1.0", c.Spec.Pkg.Version.String())
}

func TestSolveRespectsVarRequests(t *testing.T) {
	repo := testRepo(t,
		makeSpec(t, "tool/1.0", map[string]string{"debug": "off"}),
		makeSpec(t, "tool/1.0", map[string]string{"debug": "on"}),
	)

	solver := NewSolver()
	solver.AddRepository(repo)
	solver.AddRequest(ident.Request{Var: &ident.VarRequest{Var: "debug", Value: "off"}})
	solver.AddRequest(pkgRequest(t, "tool"))

	solution, err := solver.Solve(context.Background())
	require.NoError(t, err)
	tool, ok := solution.Get("tool")
	require.True(t, ok)
	values := tool.Spec.OptionValues()
	value, _ := values.Get("debug")
	assert.Equal(t, "off", value)
}

func TestSolveDeterminism(t *testing.T) {
	build := func() (*Solution, []string, error) {
		repo := testRepo(t,
			makeSpec(t, "a/1.0", nil, pkgRequest(t, "b"), pkgRequest(t, "c")),
			makeSpec(t, "b/1.0", nil, pkgRequest(t, "c/<2")),
			makeSpec(t, "c/1.0", nil),
			makeSpec(t, "c/2.0", nil),
		)
		solver := NewSolver()
		solver.AddRepository(repo)
		solver.AddRequest(pkgRequest(t, "a"))

		runtime := solver.Run()
		var decisions []string
		for {
			step, err := runtime.Next(context.Background())
			if err != nil {
				return nil, nil, err
			}
			if step == nil {
				break
			}
			decisions = append(decisions, step.Decision.String())
		}
		solution, err := runtime.CurrentSolution()
		return solution, decisions, err
	}

	first, firstDecisions, err := build()
	require.NoError(t, err)
	second, secondDecisions, err := build()
	require.NoError(t, err)

	// identical inputs must produce identical solutions and identical
	// decision sequences
	assert.Equal(t, renderSolution(first), renderSolution(second))
	assert.Equal(t, firstDecisions, secondDecisions)
}

func renderSolution(s *Solution) []string {
	var rendered []string
	for _, item := range s.Items() {
		rendered = append(rendered, item.Spec.Pkg.String())
	}
	return rendered
}

func TestSolveSoundness(t *testing.T) {
	repo := testRepo(t,
		makeSpec(t, "a/1.0", nil, pkgRequest(t, "b/>=1")),
		makeSpec(t, "b/1.0", nil),
		makeSpec(t, "b/2.0", nil),
	)
	solver := NewSolver()
	solver.AddRepository(repo)
	solver.AddRequest(pkgRequest(t, "a"))

	runtime := solver.Run()
	solution, err := runtime.Solve(context.Background())
	require.NoError(t, err)

	// every resolved package passes every validator against the final
	// state
	finalState := runtime.current.State
	for _, item := range solution.Items() {
		for _, validator := range DefaultValidators() {
			compat, err := validator.Validate(finalState, item.Spec, item.Source)
			require.NoError(t, err)
			assert.True(t, compat.IsOk(),
				"%T rejects %s in the final state: %s", validator, item.Spec.Pkg, compat)
		}
	}
}

func TestSolveConflictingRequests(t *testing.T) {
	repo := testRepo(t,
		makeSpec(t, "x/1.0", nil),
		makeSpec(t, "x/2.0", nil),
	)
	solver := NewSolver()
	solver.AddRepository(repo)
	solver.AddRequest(pkgRequest(t, "x/>=2"))
	solver.AddRequest(pkgRequest(t, "x/<2"))

	_, err := solver.Solve(context.Background())
	require.Error(t, err)
}

func TestSolverInterruption(t *testing.T) {
	repo := testRepo(t, makeSpec(t, "a/1.0", nil))
	solver := NewSolver()
	solver.AddRepository(repo)
	solver.AddRequest(pkgRequest(t, "a"))

	Interrupt()
	defer ClearInterrupt()

	runtime := solver.Run()
	_, err := runtime.Next(context.Background())
	require.Error(t, err)
	var interruptedErr *InterruptedError
	require.True(t, errors.As(err, &interruptedErr))
	assert.NotNil(t, interruptedErr.Graph)
}

func TestSolverStatistics(t *testing.T) {
	repo := testRepo(t,
		makeSpec(t, "a/1.0", nil, pkgRequest(t, "b/>=2")),
		makeSpec(t, "b/1.0", nil),
		makeSpec(t, "b/2.0", nil),
	)
	solver := NewSolver()
	solver.AddRepository(repo)
	solver.AddRequest(pkgRequest(t, "a"))

	_, err := solver.Solve(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, solver.NumSteps())
	assert.NotZero(t, solver.NumTotalBuilds())
}

func TestEmptySolveSucceeds(t *testing.T) {
	solver := NewSolver()
	solver.AddRepository(testRepo(t))
	solution, err := solver.Solve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, solution.Len())
}

func TestSolutionToEnvOptions(t *testing.T) {
	repo := testRepo(t, makeSpec(t, "a/1.2.3", nil))
	solver := NewSolver()
	solver.AddRepository(repo)
	solver.AddRequest(pkgRequest(t, "a"))

	solution, err := solver.Solve(context.Background())
	require.NoError(t, err)
	options := solution.ToEnvOptions()
	assert.Equal(t, "1.2.3", options[ident.OptName("a")])
}

func ExampleSolver() {
	// build a tiny repository and resolve one request against it
	repo := storage.NewMemRepository("example")
	spec := &ident.Spec{Pkg: ident.MustIdent("demo/1.0").WithBuild(ident.BuildFromOptions(nil))}
	_ = repo.PublishSpecs(context.Background(), spec)

	solver := NewSolver()
	solver.AddRepository(repo)
	request, _ := ident.ParsePkgRequest("demo")
	solver.AddRequest(ident.Request{Pkg: request})

	solution, _ := solver.Solve(context.Background())
	for _, item := range solution.Items() {
		fmt.Println(item.Spec.Pkg.Name)
	}
	// Output: demo
}
