package solve

import (
	"errors"

	"github.com/pakfs/pakfs/ident"
)

// Validator checks one candidate build against the current state. The
// first incompatible verdict rejects the candidate; the verdict's reason
// is recorded as a note on the decision.
type Validator interface {
	Validate(state *State, spec *ident.Spec, source PackageSource) (ident.Compatibility, error)
}

// DefaultValidators returns the standard validator pipeline, in the
// order the checks are applied.
func DefaultValidators() []Validator {
	return []Validator{
		DeprecationValidator{},
		PkgRequestValidator{},
		ComponentsValidator{},
		OptionsValidator{},
		VarRequirementsValidator{},
		PkgRequirementsValidator{},
		EmbeddedPackageValidator{},
	}
}

// DeprecationValidator ensures deprecated builds are not used unless the
// request names the exact build.
type DeprecationValidator struct{}

func (DeprecationValidator) Validate(state *State, spec *ident.Spec, _ PackageSource) (ident.Compatibility, error) {
	if !spec.Deprecated {
		return ident.Compatible, nil
	}
	if spec.Pkg.Build == nil {
		return ident.Incompatible("package version is deprecated"), nil
	}
	request, err := state.GetMergedRequest(spec.Pkg.Name)
	if err != nil {
		var noRequest NoRequestForError
		if errors.As(err, &noRequest) {
			return ident.Incompatible("build is deprecated (and not requested exactly)"), nil
		}
		return "", err
	}
	if request.Pkg.Build != nil && request.Pkg.Build.Equal(*spec.Pkg.Build) {
		return ident.Compatible, nil
	}
	return ident.Incompatible("build is deprecated (and not requested exactly)"), nil
}

// BinaryOnlyValidator rejects source builds entirely. It is present in
// the pipeline iff binary-only mode is enabled.
type BinaryOnlyValidator struct{}

func (BinaryOnlyValidator) Validate(state *State, spec *ident.Spec, _ PackageSource) (ident.Compatibility, error) {
	if !spec.Pkg.IsSource() {
		return ident.Compatible, nil
	}
	request, err := state.GetMergedRequest(spec.Pkg.Name)
	if err == nil && request.Pkg.Build != nil && request.Pkg.Build.IsSource() {
		// the source build was asked for explicitly
		return ident.Compatible, nil
	}
	return ident.Incompatible("building from source is not enabled"), nil
}

// PkgRequestValidator ensures the candidate satisfies the merged request
// for its name in the current state.
type PkgRequestValidator struct{}

func (PkgRequestValidator) Validate(state *State, spec *ident.Spec, source PackageSource) (ident.Compatibility, error) {
	request, err := state.GetMergedRequest(spec.Pkg.Name)
	if err != nil {
		var noRequest NoRequestForError
		if errors.As(err, &noRequest) {
			return ident.Incompatible("package '%s' was not requested", spec.Pkg.Name), nil
		}
		var conflict ConflictingRequestError
		if errors.As(err, &conflict) {
			return ident.Incompatible("package '%s' has an invalid request stack: %v", spec.Pkg.Name, err), nil
		}
		return "", err
	}
	if rn := request.Pkg.RepositoryName; rn != "" {
		switch {
		case source.IsRepository() && source.Repo.Name() != rn:
			return ident.Incompatible(
				"package did not come from requested repo: %s != %s", source.Repo.Name(), rn), nil
		case source.IsEmbedded():
			return ident.Incompatible(
				"package did not come from requested repo (it was embedded in another)"), nil
		case source.IsBuildFromSource():
			return ident.Incompatible(
				"package did not come from requested repo (it comes from a recipe)"), nil
		}
	}
	// check the version range first for a friendlier error message
	if compat := request.IsVersionApplicable(spec.Pkg.Version); !compat.IsOk() {
		return compat, nil
	}
	return request.IsSatisfiedBy(spec), nil
}

// ComponentsValidator ensures every requested component (and everything
// those components use) is available from the candidate's source.
type ComponentsValidator struct{}

func (ComponentsValidator) Validate(state *State, spec *ident.Spec, source PackageSource) (ident.Compatibility, error) {
	request, err := state.GetMergedRequest(spec.Pkg.Name)
	if err != nil {
		return "", err
	}
	available := source.AvailableComponents(spec)
	required := spec.ResolveUses(request.Pkg.Components)
	var missing []ident.Component
	for _, name := range required.Names() {
		if !available.Contains(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return ident.Incompatible(
			"no published files for some required components: [%s], found [%s]",
			ident.NewComponentSet(missing...), available), nil
	}
	for _, component := range spec.Install.Components {
		if !required.Contains(component.Name) {
			continue
		}
		for _, embedded := range component.Embedded {
			compat, err := validateEmbeddedAgainstState(embedded, state)
			if err != nil || !compat.IsOk() {
				return compat, err
			}
		}
	}
	return ident.Compatible, nil
}

// OptionsValidator ensures the candidate agrees with every requested
// option value. Qualified requests supersede unqualified ones for the
// same package.
type OptionsValidator struct{}

func (OptionsValidator) Validate(state *State, spec *ident.Spec, _ PackageSource) (ident.Compatibility, error) {
	qualified := map[string]struct{}{}
	for _, request := range state.VarRequests() {
		if ns, ok := request.Var.Namespace(); ok && ns == spec.Pkg.Name {
			qualified[request.Var.BaseName()] = struct{}{}
		}
	}
	for _, request := range state.VarRequests() {
		if _, ok := request.Var.Namespace(); !ok {
			if _, superseded := qualified[request.Var.BaseName()]; superseded {
				// a qualified request supersedes this one, e.g. this is
				// 'debug' but we have 'thispackage.debug'
				continue
			}
		}
		if compat := request.IsSatisfiedBy(spec); !compat.IsOk() {
			return ident.Incompatible("doesn't satisfy requested option: %s", compat), nil
		}
	}
	return ident.Compatible, nil
}

// VarRequirementsValidator ensures the candidate's own var requirements
// agree with the state's option map.
type VarRequirementsValidator struct{}

func (VarRequirementsValidator) Validate(state *State, spec *ident.Spec, _ PackageSource) (ident.Compatibility, error) {
	options := state.OptionMap()
	for _, requirement := range spec.RuntimeRequirements() {
		if requirement.Var == nil {
			continue
		}
		for name, value := range options {
			sameName := name == requirement.Var.Var
			sameBase := name.BaseName() == requirement.Var.Var.BaseName()
			if !sameName && !sameBase {
				continue
			}
			if value == "" {
				// empty option values do not provide a valuable opinion
				// on the resolve
				continue
			}
			if requirement.Var.Value != value {
				return ident.Incompatible(
					"package wants %s=%s, resolve has %s=%s",
					requirement.Var.Var, requirement.Var.Value, name, value), nil
			}
		}
	}
	return ident.Compatible, nil
}

// PkgRequirementsValidator ensures the candidate's package requirements
// can merge into the state without conflicting with existing requests or
// already-resolved packages.
type PkgRequirementsValidator struct{}

func (PkgRequirementsValidator) Validate(state *State, spec *ident.Spec, _ PackageSource) (ident.Compatibility, error) {
	for _, requirement := range spec.RuntimeRequirements() {
		if requirement.Pkg == nil {
			continue
		}
		compat, err := validateRequirementAgainstState(state, requirement.Pkg)
		if err != nil || !compat.IsOk() {
			return compat, err
		}
	}
	return ident.Compatible, nil
}

func validateRequirementAgainstState(state *State, requirement *ident.PkgRequest) (ident.Compatibility, error) {
	existing, err := state.GetMergedRequest(requirement.Pkg.Name)
	if err != nil {
		var noRequest NoRequestForError
		if errors.As(err, &noRequest) {
			return ident.Compatible, nil
		}
		return "", err
	}
	merged := existing.Clone()
	if err := merged.Restrict(requirement); err != nil {
		return ident.Incompatible("conflicting requirement: %v", err), nil
	}

	resolved, ok := state.GetCurrentResolve(requirement.Pkg.Name)
	if !ok {
		return ident.Compatible, nil
	}
	if compat := merged.IsSatisfiedBy(resolved.Spec); !compat.IsOk() {
		return ident.Incompatible("conflicting requirement: '%s' %s", requirement.Pkg.Name, compat), nil
	}
	provided := resolved.Source.AvailableComponents(resolved.Spec)
	required := resolved.Spec.ResolveUses(merged.Pkg.Components)
	var missing []ident.Component
	for _, name := range required.Names() {
		if !provided.Contains(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return ident.Incompatible(
			"resolved package %s does not provide all required components: needed [%s]",
			requirement.Pkg.Name, ident.NewComponentSet(missing...)), nil
	}
	return ident.Compatible, nil
}

// EmbeddedPackageValidator ensures each package embedded by the
// candidate does not conflict with an already-resolved or requested
// package of the same name.
type EmbeddedPackageValidator struct{}

func (EmbeddedPackageValidator) Validate(state *State, spec *ident.Spec, _ PackageSource) (ident.Compatibility, error) {
	for _, embedded := range spec.Install.Embedded {
		compat, err := validateEmbeddedAgainstState(embedded, state)
		if err != nil || !compat.IsOk() {
			return compat, err
		}
	}
	return ident.Compatible, nil
}

func validateEmbeddedAgainstState(embedded *ident.Spec, state *State) (ident.Compatibility, error) {
	existing, err := state.GetMergedRequest(embedded.Pkg.Name)
	if err != nil {
		var noRequest NoRequestForError
		if errors.As(err, &noRequest) {
			return ident.Compatible, nil
		}
		return "", err
	}
	if compat := existing.IsSatisfiedBy(embedded); !compat.IsOk() {
		return ident.Incompatible("embedded package '%s' is incompatible: %s", embedded.Pkg, compat), nil
	}
	if resolved, ok := state.GetCurrentResolve(embedded.Pkg.Name); ok {
		if !resolved.Spec.Pkg.Equal(embedded.Pkg) {
			return ident.Incompatible(
				"embedded package '%s' conflicts with resolved '%s'", embedded.Pkg, resolved.Spec.Pkg), nil
		}
	}
	return ident.Compatible, nil
}
