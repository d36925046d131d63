package solve

import (
	"fmt"
	"sync/atomic"

	"github.com/pakfs/pakfs/ident"
)

// Change is one atomic mutation of solver state. Applying a change to a
// state produces a new state; the input is never modified.
type Change interface {
	Apply(base *State) *State
	String() string
}

// RequestPackage appends a package request to the state.
type RequestPackage struct {
	Request *ident.PkgRequest
}

func (c RequestPackage) Apply(base *State) *State {
	next := base.clone()
	next.pkgRequests = append(append([]*ident.PkgRequest{}, base.pkgRequests...), c.Request)
	return next
}

func (c RequestPackage) String() string {
	return fmt.Sprintf("REQUEST %s", c.Request)
}

// RequestVar appends a var request to the state and records its value in
// the option map.
type RequestVar struct {
	Request *ident.VarRequest
}

func (c RequestVar) Apply(base *State) *State {
	next := base.clone()
	next.varRequests = append(append([]*ident.VarRequest{}, base.varRequests...), c.Request)
	options := base.options.Copy()
	options[c.Request.Var] = c.Request.Value
	next.options = options
	return next
}

func (c RequestVar) String() string {
	return fmt.Sprintf("REQUEST %s", c.Request)
}

// SetOptions merges the given options into the state, later values
// overriding earlier ones.
type SetOptions struct {
	Options ident.OptionMap
}

func (c SetOptions) Apply(base *State) *State {
	next := base.clone()
	options := base.options.Copy()
	options.Update(c.Options)
	next.options = options
	return next
}

func (c SetOptions) String() string {
	return fmt.Sprintf("ASSIGN %s", c.Options)
}

// SetPackage marks one package as resolved.
type SetPackage struct {
	Resolved ResolvedPackage
}

func (c SetPackage) Apply(base *State) *State {
	next := base.clone()
	next.packages = append(append([]ResolvedPackage{}, base.packages...), c.Resolved)
	byName := make(map[ident.PkgName]int, len(base.byName)+1)
	for name, i := range base.byName {
		byName[name] = i
	}
	byName[c.Resolved.Spec.Pkg.Name] = len(next.packages) - 1
	next.byName = byName
	return next
}

func (c SetPackage) String() string {
	return fmt.Sprintf("RESOLVE %s (%s)", c.Resolved.Spec.Pkg, c.Resolved.Source)
}

// SetPackageBuild marks a package as resolved via a new build from
// source, carrying the build environment that was solved for it.
type SetPackageBuild struct {
	Resolved ResolvedPackage
}

func (c SetPackageBuild) Apply(base *State) *State {
	return SetPackage{Resolved: c.Resolved}.Apply(base)
}

func (c SetPackageBuild) String() string {
	return fmt.Sprintf("BUILD %s (%s)", c.Resolved.Spec.Pkg, c.Resolved.Source)
}

// StepBack unwinds the search: the next iteration restarts from the
// destination state.
type StepBack struct {
	Cause       string
	Destination *State
	counter     *atomic.Uint64
}

// NewStepBack creates a step-back change, bumping the given counter when
// applied.
func NewStepBack(cause string, destination *State, counter *atomic.Uint64) StepBack {
	return StepBack{Cause: cause, Destination: destination, counter: counter}
}

func (c StepBack) Apply(base *State) *State {
	if c.counter != nil {
		c.counter.Add(1)
	}
	return c.Destination
}

func (c StepBack) String() string {
	return fmt.Sprintf("BLOCKED %s", c.Cause)
}

// Decision is an ordered sequence of changes labelling one branch of the
// decision graph, with any notes gathered while making it.
type Decision struct {
	Changes []Change
	Notes   []Note
}

// NewDecision creates a decision over the given changes.
func NewDecision(changes ...Change) *Decision {
	return &Decision{Changes: changes}
}

// AddNotes appends the given notes to this decision.
func (d *Decision) AddNotes(notes ...Note) {
	d.Notes = append(d.Notes, notes...)
}

// Apply applies every change in order to the base state.
func (d *Decision) Apply(base *State) *State {
	state := base
	for _, change := range d.Changes {
		state = change.Apply(state)
	}
	return state
}

// IsStepBack reports whether this decision unwinds the search.
func (d *Decision) IsStepBack() bool {
	for _, change := range d.Changes {
		if _, ok := change.(StepBack); ok {
			return true
		}
	}
	return false
}

func (d *Decision) String() string {
	if len(d.Changes) == 0 {
		return "<empty decision>"
	}
	return d.Changes[len(d.Changes)-1].String()
}

// resolveDecision builds the decision that resolves one package,
// including the requests its runtime requirements introduce.
func resolveDecision(resolved ResolvedPackage, state *State) *Decision {
	decision := &Decision{}
	for _, request := range requirementChanges(resolved.Spec, state) {
		decision.Changes = append(decision.Changes, request)
	}
	for _, embedded := range resolved.Spec.EmbeddedPackages() {
		decision.Changes = append(decision.Changes,
			RequestPackage{Request: exactRequestFor(embedded)},
			SetPackage{Resolved: ResolvedPackage{
				Spec:       embedded,
				Source:     PackageSource{EmbeddedBy: resolved.Spec},
				Components: embedded.ComponentNames(),
			}},
		)
	}
	if resolved.BuildEnv != nil {
		decision.Changes = append(decision.Changes, SetPackageBuild{Resolved: resolved})
	} else {
		decision.Changes = append(decision.Changes, SetPackage{Resolved: resolved})
	}
	return decision
}

// requirementChanges converts a spec's runtime requirements into request
// changes, tagging each with the requesting package.
func requirementChanges(spec *ident.Spec, state *State) []Change {
	var changes []Change
	for _, requirement := range spec.RuntimeRequirements() {
		switch {
		case requirement.Pkg != nil:
			request := requirement.Pkg.Clone()
			request.AddRequester(spec.Pkg.String())
			changes = append(changes, RequestPackage{Request: request})
		case requirement.Var != nil:
			changes = append(changes, RequestVar{Request: requirement.Var.Clone()})
		}
	}
	return changes
}

// exactRequestFor builds a request pinning exactly the given spec.
func exactRequestFor(spec *ident.Spec) *ident.PkgRequest {
	request := ident.NewPkgRequest(spec.Pkg.Name, ident.MustVersionFilter("="+spec.Pkg.Version.String()))
	if spec.Pkg.Build != nil {
		build := *spec.Pkg.Build
		request.Pkg.Build = &build
	}
	request.AddRequester(spec.Pkg.String())
	return request
}
