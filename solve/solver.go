package solve

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pakfs/pakfs"
	"github.com/pakfs/pakfs/configuration"
	"github.com/pakfs/pakfs/ident"
	"github.com/pakfs/pakfs/internal/dcontext"
)

// interrupted is the process-wide cancellation flag, typically set from
// a signal handler. The solver polls it between steps.
var interrupted atomic.Bool

// Interrupt requests that every running solve stop at its next step.
func Interrupt() { interrupted.Store(true) }

// ClearInterrupt resets the process-wide cancellation flag.
func ClearInterrupt() { interrupted.Store(false) }

// Solver resolves a set of requests against a set of repositories using
// a backtracking search over a decision graph.
type Solver struct {
	repos          []pakfs.Repository
	initialChanges []Change
	validators     []Validator
	checker        *ImpossibleRequestChecker
	binaryOnly     bool

	// step accounting, reported after a solve and in failures
	numSteps            uint64
	numBuildsSkipped    uint64
	numIncompatVersions uint64
	numIncompatBuilds   uint64
	numTotalBuilds      uint64
	numStepsBack        *atomic.Uint64
	errorFrequency      map[string]uint64
}

// NewSolver creates a solver with the default validator pipeline and
// the configured binary-only mode.
func NewSolver() *Solver {
	s := &Solver{
		validators:     DefaultValidators(),
		numStepsBack:   &atomic.Uint64{},
		errorFrequency: map[string]uint64{},
	}
	s.SetBinaryOnly(configuration.Get().Solver.BinaryOnly)
	return s
}

// AddRepository adds a repository the solver can resolve packages from.
func (s *Solver) AddRepository(repo pakfs.Repository) {
	s.repos = append(s.repos, repo)
	s.checker = nil
}

// Repositories returns the configured repository set.
func (s *Solver) Repositories() []pakfs.Repository {
	return s.repos
}

// AddRequest adds an initial request to this solver. Package requests
// with no component default to the run component.
func (s *Solver) AddRequest(request ident.Request) {
	switch {
	case request.Pkg != nil:
		pkgRequest := request.Pkg.Clone()
		if len(pkgRequest.Pkg.Components) == 0 {
			pkgRequest.Pkg.Components = ident.NewComponentSet(ident.ComponentRun)
		}
		s.initialChanges = append(s.initialChanges, RequestPackage{Request: pkgRequest})
	case request.Var != nil:
		s.initialChanges = append(s.initialChanges, RequestVar{Request: request.Var.Clone()})
	}
}

// UpdateOptions merges the given options into the solver's initial
// state.
func (s *Solver) UpdateOptions(options ident.OptionMap) {
	s.initialChanges = append(s.initialChanges, SetOptions{Options: options})
}

// SetBinaryOnly toggles binary-only mode. When enabled, a BinaryOnly
// validator leads the pipeline and source builds are never attempted.
func (s *Solver) SetBinaryOnly(binaryOnly bool) {
	s.binaryOnly = binaryOnly
	hasValidator := false
	for _, validator := range s.validators {
		if _, ok := validator.(BinaryOnlyValidator); ok {
			hasValidator = true
			break
		}
	}
	if binaryOnly == hasValidator {
		return
	}
	if binaryOnly {
		s.validators = append([]Validator{BinaryOnlyValidator{}}, s.validators...)
		return
	}
	kept := s.validators[:0]
	for _, validator := range s.validators {
		if _, ok := validator.(BinaryOnlyValidator); !ok {
			kept = append(kept, validator)
		}
	}
	s.validators = kept
}

// BinaryOnly reports whether source builds are disabled.
func (s *Solver) BinaryOnly() bool { return s.binaryOnly }

// Checker returns the impossible-request checker shared by this solver
// and any sub-solvers it spawns.
func (s *Solver) Checker() *ImpossibleRequestChecker {
	if s.checker == nil {
		s.checker = NewImpossibleRequestChecker(s.repos)
	}
	s.checker.SetBinaryOnly(s.binaryOnly)
	return s.checker
}

// setChecker shares an existing checker with this solver, used by
// sub-solves so verdicts and counters accumulate in one place.
func (s *Solver) setChecker(checker *ImpossibleRequestChecker) {
	s.checker = checker
}

// GetInitialState applies the initial changes to an empty state.
func (s *Solver) GetInitialState() *State {
	state := NewState()
	for _, change := range s.initialChanges {
		state = change.Apply(state)
	}
	return state
}

// Reset returns the solver to its default state.
func (s *Solver) Reset() {
	s.repos = nil
	s.initialChanges = nil
	s.validators = DefaultValidators()
	s.SetBinaryOnly(configuration.Get().Solver.BinaryOnly)
	s.checker = nil
	s.numSteps = 0
	s.numBuildsSkipped = 0
	s.numIncompatVersions = 0
	s.numIncompatBuilds = 0
	s.numTotalBuilds = 0
	s.numStepsBack.Store(0)
	s.errorFrequency = map[string]uint64{}
}

// Statistics accessors.

func (s *Solver) NumSteps() uint64 { return s.numSteps }

func (s *Solver) NumStepsBack() uint64 { return s.numStepsBack.Load() }

func (s *Solver) NumBuildsSkipped() uint64 { return s.numBuildsSkipped }

func (s *Solver) NumIncompatibleVersions() uint64 { return s.numIncompatVersions }

func (s *Solver) NumIncompatibleBuilds() uint64 { return s.numIncompatBuilds }

func (s *Solver) NumTotalBuilds() uint64 { return s.numTotalBuilds }

// ErrorFrequency returns the accumulated error message counts.
func (s *Solver) ErrorFrequency() map[string]uint64 {
	return s.errorFrequency
}

func (s *Solver) incrementErrorCount(message string) {
	s.errorFrequency[message]++
}

// Run creates a runtime ready to iterate this solver's decisions.
func (s *Solver) Run() *Runtime {
	return NewRuntime(s)
}

// Solve runs the solver to completion, returning the solution.
func (s *Solver) Solve(ctx context.Context) (*Solution, error) {
	runtime := s.Run()
	return runtime.Solve(ctx)
}

// ConfigureForBuildEnvironment adds requests for all of the recipe's
// build requirements.
func (s *Solver) ConfigureForBuildEnvironment(recipe *ident.Recipe) error {
	state := s.GetInitialState()
	options := state.OptionMap()
	for _, opt := range recipe.Build.Options {
		if !opt.IsPkg() {
			continue
		}
		given, _ := options.Get(opt.Name())
		request, err := opt.ToRequest(given)
		if err != nil {
			return err
		}
		// build options pull build-time components by default
		if len(request.Pkg.Components) == 0 {
			request.Pkg.Components = ident.NewComponentSet(ident.ComponentBuild)
		}
		request.AddRequester(recipe.Pkg.String())
		s.AddRequest(ident.Request{Pkg: request})
	}
	return nil
}

// SolveBuildEnvironment adds the recipe's build requirements and solves.
func (s *Solver) SolveBuildEnvironment(ctx context.Context, recipe *ident.Recipe) (*Solution, error) {
	if err := s.ConfigureForBuildEnvironment(recipe); err != nil {
		return nil, err
	}
	return s.Solve(ctx)
}

// resolveNewBuild solves the build environment for a source package in
// the context of the given state.
func (s *Solver) resolveNewBuild(ctx context.Context, recipe *ident.Recipe, state *State) (*Solution, error) {
	options := state.OptionMap()
	for _, request := range state.PkgRequests() {
		name := ident.OptName(request.Pkg.Name)
		if _, ok := options[name]; !ok {
			options[name] = request.Pkg.Version.String()
		}
	}
	for _, request := range state.VarRequests() {
		if _, ok := options[request.Var]; !ok {
			options[request.Var] = request.Value
		}
	}

	child := NewSolver()
	for _, repo := range s.repos {
		child.AddRepository(repo)
	}
	child.setChecker(s.Checker())
	child.SetBinaryOnly(true)
	child.UpdateOptions(options)
	return child.SolveBuildEnvironment(ctx, recipe)
}

// validate runs the validator pipeline, stopping at the first
// incompatibility.
func (s *Solver) validate(state *State, spec *ident.Spec, source PackageSource) (ident.Compatibility, error) {
	for _, validator := range s.validators {
		compat, err := validator.Validate(state, spec, source)
		if err != nil {
			return "", err
		}
		if !compat.IsOk() {
			return compat, nil
		}
	}
	return ident.Compatible, nil
}

// getIterator returns the node's cached iterator for the package,
// creating one if needed.
func (s *Solver) getIterator(node *Node, name ident.PkgName) PackageIterator {
	if iterator := node.GetIterator(name); iterator != nil {
		return iterator
	}
	iterator := NewRepositoryPackageIterator(name, s.repos)
	node.SetIterator(name, iterator)
	return iterator
}

// stepState performs one forward step from the given node: find the next
// unsatisfied request and the first acceptable candidate for it. A nil
// decision means the state is complete. Exhausting the candidates
// raises OutOfOptionsError.
func (s *Solver) stepState(ctx context.Context, node *Node) (*Decision, error) {
	var notes []Note
	request, err := node.State.GetNextRequest()
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, nil
	}

	// this is a step forward in the solve
	s.numSteps++

	iterator := s.getIterator(node, request.Pkg.Name)
	for {
		pkgVersion, builds, ok, err := iterator.Next(ctx)
		if err != nil {
			if pakfs.IsNotFound(err) {
				notes = append(notes, NewSkipPackageNoteMsg(
					ident.Ident{Name: request.Pkg.Name}, "package not found in any repository"))
				break
			}
			return nil, err
		}
		if !ok {
			break
		}

		if compat := request.IsVersionApplicable(pkgVersion.Version); !compat.IsOk() {
			// count this version and its builds as incompatible, then
			// skip to the next version
			s.numIncompatVersions++
			s.numIncompatBuilds += uint64(builds.Len())
			iterator.SetBuilds(pkgVersion.Version, EmptyBuildIterator{})
			notes = append(notes, NewSkipPackageNote(pkgVersion, compat))
			continue
		}

		if !builds.IsSorted() {
			candidates, err := DrainBuildIterator(ctx, builds)
			if err != nil {
				return nil, err
			}
			impossible, err := s.Checker().BuildsWithImpossibleRequests(ctx, node.State, candidates)
			if err != nil {
				return nil, err
			}
			sorted := NewSortedBuildIterator(candidates, impossible)
			iterator.SetBuilds(pkgVersion.Version, sorted)
			builds = sorted
		}

		for {
			candidate, err := builds.Next(ctx)
			if err != nil {
				return nil, err
			}
			if candidate == nil {
				break
			}
			s.numTotalBuilds++

			spec := candidate.Spec
			source := candidate.Source
			buildFromSource := spec.Pkg.IsSource() &&
				!(request.Pkg.Build != nil && request.Pkg.Build.IsSource())

			var recipe *ident.Recipe
			if buildFromSource {
				if source.IsEmbedded() {
					notes = append(notes, NewSkipPackageNoteMsg(
						spec.Pkg, "cannot build embedded source package"))
					s.numBuildsSkipped++
					continue
				}
				recipe, err = source.Repo.ReadRecipe(ctx, spec.Pkg.WithoutBuild())
				if err != nil {
					if pakfs.IsNotFound(err) {
						notes = append(notes, NewSkipPackageNoteMsg(
							spec.Pkg, "cannot build from source, version spec not available"))
						s.numBuildsSkipped++
						continue
					}
					return nil, err
				}
			}

			compat, err := s.validate(node.State, spec, source)
			if err != nil {
				return nil, err
			}
			if !compat.IsOk() {
				notes = append(notes, NewSkipPackageNote(spec.Pkg, compat))
				s.numBuildsSkipped++
				continue
			}

			// reject candidates whose own requirements could never be
			// satisfied by any build in the repositories
			compat, err = s.Checker().ValidateNewRequests(ctx, node.State, spec)
			if err != nil {
				return nil, err
			}
			if !compat.IsOk() {
				notes = append(notes, NewSkipPackageNote(spec.Pkg, compat))
				s.numBuildsSkipped++
				continue
			}

			resolved := ResolvedPackage{
				Spec:       spec,
				Source:     source,
				Components: spec.ResolveUses(request.Pkg.Components),
			}

			if buildFromSource {
				buildEnv, err := s.resolveNewBuild(ctx, recipe, node.State)
				if err != nil {
					notes = append(notes, NewSkipPackageNoteMsg(
						spec.Pkg, fmt.Sprintf("cannot resolve build env: %v", err)))
					s.numBuildsSkipped++
					continue
				}
				buildOptions, err := recipe.ResolveOptions(buildEnv.ToEnvOptions())
				if err != nil {
					notes = append(notes, NewSkipPackageNoteMsg(
						spec.Pkg, fmt.Sprintf("cannot build package: %v", err)))
					s.numBuildsSkipped++
					continue
				}
				builtSpec, err := recipe.GenerateBinaryBuild(buildOptions, buildEnv.ToEnvOptions())
				if err != nil {
					notes = append(notes, NewSkipPackageNoteMsg(
						spec.Pkg, fmt.Sprintf("cannot build package: %v", err)))
					s.numBuildsSkipped++
					continue
				}
				resolved.Spec = builtSpec
				resolved.Source = PackageSource{Recipe: recipe}
				resolved.Components = resolved.Spec.ResolveUses(request.Pkg.Components)
				resolved.BuildEnv = buildEnv
			}

			decision := resolveDecision(resolved, node.State)
			decision.AddNotes(notes...)
			return decision, nil
		}
	}

	return nil, &OutOfOptionsError{Request: request, Notes: notes}
}

// Runtime drives a solver step by step, exposing each (node, decision)
// pair so a caller can stream decisions while the solve proceeds.
type Runtime struct {
	Solver *Solver

	graph    *Graph
	history  []*Node
	current  *Node
	decision *Decision

	deadline time.Time
	tooLong  time.Time
	// OnTooLong is invoked once when the solve has run longer than the
	// configured threshold. It is intended for output verbosity
	// escalation only and must not mutate the search.
	OnTooLong func()
}

// Step is one yielded element of a solver runtime: the node the decision
// was made at, and the decision itself.
type Step struct {
	Node     *Node
	Decision *Decision
}

// NewRuntime creates a runtime for the given solver.
func NewRuntime(solver *Solver) *Runtime {
	config := configuration.Get()
	rt := &Runtime{
		Solver:   solver,
		graph:    NewGraph(),
		decision: NewDecision(solver.initialChanges...),
	}
	if config.Solver.TimeoutSeconds > 0 {
		rt.deadline = time.Now().Add(time.Duration(config.Solver.TimeoutSeconds) * time.Second)
	}
	if config.Solver.TooLongSeconds > 0 {
		rt.tooLong = time.Now().Add(time.Duration(config.Solver.TooLongSeconds) * time.Second)
	}
	return rt
}

// Graph returns the decision graph being built by this runtime.
func (rt *Runtime) Graph() *Graph { return rt.graph }

// checkInterruptions enforces the cancellation flag and the deadline
// between steps.
func (rt *Runtime) checkInterruptions(ctx context.Context) error {
	if interrupted.Load() {
		return &InterruptedError{Message: "solve was interrupted by the user", Graph: rt.graph}
	}
	if err := ctx.Err(); err != nil {
		return &InterruptedError{Message: err.Error(), Graph: rt.graph}
	}
	if !rt.deadline.IsZero() && time.Now().After(rt.deadline) {
		return &InterruptedError{
			Message: "solve is taking too long, aborted by timeout",
			Graph:   rt.graph,
		}
	}
	if !rt.tooLong.IsZero() && time.Now().After(rt.tooLong) {
		rt.tooLong = time.Time{}
		if rt.OnTooLong != nil {
			rt.OnTooLong()
		}
	}
	return nil
}

// Next advances the solve by one decision. It returns nil when the
// solve has converged (successfully or on the dead state).
func (rt *Runtime) Next(ctx context.Context) (*Step, error) {
	if rt.decision == nil || (rt.current != nil && rt.current.State.IsDead()) {
		return nil, nil
	}
	if err := rt.checkInterruptions(ctx); err != nil {
		return nil, err
	}

	yieldNode := rt.current
	if yieldNode == nil {
		yieldNode = rt.graph.Root
	}
	toYield := &Step{Node: yieldNode, Decision: rt.decision}

	sourceID := rt.graph.Root.ID()
	if rt.current != nil {
		sourceID = rt.current.ID()
	}
	rt.current = rt.graph.AddBranch(sourceID, rt.decision)

	decision, err := rt.Solver.stepState(ctx, rt.current)
	if err != nil {
		var outOfOptions *OutOfOptionsError
		if asOutOfOptions(err, &outOfOptions) {
			cause := fmt.Sprintf("could not satisfy '%s'", outOfOptions.Request)
			rt.Solver.incrementErrorCount(cause)

			destination := deadState
			if n := len(rt.history); n > 0 {
				destination = rt.history[n-1].State
				rt.history = rt.history[:n-1]
			}
			stepBack := NewDecision(NewStepBack(cause, destination, rt.Solver.numStepsBack))
			stepBack.AddNotes(outOfOptions.Notes...)
			rt.decision = stepBack
			return toYield, nil
		}
		return nil, err
	}

	rt.decision = decision
	rt.history = append(rt.history, rt.current)
	return toYield, nil
}

func asOutOfOptions(err error, target **OutOfOptionsError) bool {
	oo, ok := err.(*OutOfOptionsError)
	if ok {
		*target = oo
	}
	return ok
}

// CurrentSolution returns the solution of the runtime's current state.
// If the runtime converged on the dead state (or never left the root
// while requests remain), the full graph is returned in a
// FailedToResolveError.
func (rt *Runtime) CurrentSolution() (*Solution, error) {
	if rt.current == nil {
		return nil, fmt.Errorf("solver runtime has not been consumed")
	}
	isDead := rt.current.ID() == rt.graph.Root.ID() || rt.current.State.IsDead()
	isEmpty := len(rt.Solver.GetInitialState().PkgRequests()) == 0
	if isDead && !isEmpty {
		return nil, &FailedToResolveError{Graph: rt.graph}
	}
	return rt.current.State.AsSolution()
}

// Solve iterates the runtime to completion and returns the final
// solution.
func (rt *Runtime) Solve(ctx context.Context) (*Solution, error) {
	logger := dcontext.GetLogger(ctx)
	for {
		step, err := rt.Next(ctx)
		if err != nil {
			return nil, err
		}
		if step == nil {
			break
		}
		logger.Debugf("solve: %s", step.Decision)
	}
	return rt.CurrentSolution()
}
