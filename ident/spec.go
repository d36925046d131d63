package ident

import (
	"fmt"
)

// Meta carries descriptive package metadata.
type Meta struct {
	Description string
	License     string
	Labels      map[string]string
}

// ComponentSpec defines one named component of a package's files.
type ComponentSpec struct {
	Name Component
	// Uses names other components that this one requires alongside it.
	Uses []Component
	// Files are the path patterns collected into this component.
	Files []string
	// Embedded are packages provided by installing this component.
	Embedded []*Spec
}

// InstallSpec describes the runtime footprint of a built package.
type InstallSpec struct {
	// Requirements are the package and var requests that must hold in
	// any environment this package is resolved into.
	Requirements []Request
	// Embedded are packages provided by this one regardless of component.
	Embedded []*Spec
	// Components are the file subsets this package publishes.
	Components []ComponentSpec
}

// BuildSpec describes how a package is built from source.
type BuildSpec struct {
	Options []Opt
	Script  []string
}

// Spec is the fully-typed definition of one package build, as supplied by
// the recipe loader or read back from a repository.
type Spec struct {
	Pkg        Ident
	Meta       Meta
	Compat     string
	Deprecated bool
	Build      BuildSpec
	Install    InstallSpec
}

// OptionValues returns the resolved build option values recorded on this
// spec.
func (s *Spec) OptionValues() OptionMap {
	values := make(OptionMap, len(s.Build.Options))
	for _, opt := range s.Build.Options {
		values[opt.Name()] = opt.ResolvedValue()
	}
	return values
}

// RuntimeRequirements returns the requests that must hold in any
// environment containing this package.
func (s *Spec) RuntimeRequirements() []Request {
	return s.Install.Requirements
}

// EmbeddedPackages returns all packages embedded by this one, whether
// globally or via a component.
func (s *Spec) EmbeddedPackages() []*Spec {
	var embedded []*Spec
	embedded = append(embedded, s.Install.Embedded...)
	for _, component := range s.Install.Components {
		embedded = append(embedded, component.Embedded...)
	}
	return embedded
}

// ComponentNames returns the set of components this package publishes.
// Every package implicitly provides run and build components.
func (s *Spec) ComponentNames() ComponentSet {
	names := NewComponentSet(ComponentRun, ComponentBuild)
	for _, component := range s.Install.Components {
		names.Add(component.Name)
	}
	return names
}

// Component returns the named component spec, if declared.
func (s *Spec) Component(name Component) (ComponentSpec, bool) {
	for _, component := range s.Install.Components {
		if component.Name == name {
			return component, true
		}
	}
	return ComponentSpec{}, false
}

// ResolveUses expands the requested component set: "all" becomes every
// published component, and each component pulls in its transitive uses.
func (s *Spec) ResolveUses(requested ComponentSet) ComponentSet {
	resolved := NewComponentSet()
	queue := []Component{}
	if requested.Contains(ComponentAll) {
		queue = append(queue, s.ComponentNames().Names()...)
	} else {
		queue = append(queue, requested.Names()...)
	}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if resolved.Contains(name) {
			continue
		}
		resolved.Add(name)
		if component, ok := s.Component(name); ok {
			queue = append(queue, component.Uses...)
		}
	}
	return resolved
}

// Clone returns a copy of this spec. Nested specs are shared; they are
// immutable once loaded.
func (s *Spec) Clone() *Spec {
	cp := *s
	cp.Build.Options = append([]Opt{}, s.Build.Options...)
	cp.Install.Requirements = append([]Request{}, s.Install.Requirements...)
	cp.Install.Components = append([]ComponentSpec{}, s.Install.Components...)
	return &cp
}

// Recipe is the pre-build definition of a package: a spec without a build
// assigned, plus the variant list used to enumerate default builds.
type Recipe struct {
	Spec
	Variants []Variant
}

// ResolveOptions computes the resolved option values for a build of this
// recipe given the provided inputs, validating each against the option's
// constraints.
func (r *Recipe) ResolveOptions(given OptionMap) (OptionMap, error) {
	resolved := make(OptionMap, len(r.Build.Options))
	for _, opt := range r.Build.Options {
		value := opt.Default
		if v, ok := given[opt.Name().WithNamespace(r.Pkg.Name)]; ok && v != "" {
			value = v
		} else if v, ok := given[opt.Name()]; ok && v != "" {
			value = v
		}
		if compat := opt.Validate(value); !compat.IsOk() {
			return nil, fmt.Errorf("invalid option for %s: %s", r.Pkg.Name, compat)
		}
		resolved[opt.Name()] = value
	}
	return resolved, nil
}

// GenerateBinaryBuild creates the spec of a new binary build of this
// recipe for the given resolved options. Requirements carrying a pin
// template are rendered against the build environment values.
func (r *Recipe) GenerateBinaryBuild(options OptionMap, buildEnv OptionMap) (*Spec, error) {
	spec := r.Spec.Clone()
	build := BuildFromOptions(options)
	spec.Pkg = spec.Pkg.WithBuild(build)
	for i, opt := range spec.Build.Options {
		if value, ok := options.Get(opt.Name()); ok {
			spec.Build.Options[i].Value = value
		}
	}
	if err := spec.RenderPins(buildEnv); err != nil {
		return nil, err
	}
	return spec, nil
}

// RenderPins resolves every pinned requirement of this spec against the
// given build environment values: package pins re-render their version
// filter from the resolved version, and var requests pinned from the
// build environment take its value.
func (s *Spec) RenderPins(env OptionMap) error {
	for i, requirement := range s.Install.Requirements {
		switch {
		case requirement.Pkg != nil && requirement.Pkg.Pin != "":
			value, ok := env.Get(OptName(requirement.Pkg.Pkg.Name))
			if !ok || value == "" {
				return fmt.Errorf(
					"cannot render pin for %s: not present in the build environment",
					requirement.Pkg.Pkg.Name)
			}
			version, err := ParseVersion(value)
			if err != nil {
				return err
			}
			rendered := requirement.Pkg.Clone()
			filter, err := ParseVersionFilter(renderPinTemplate(requirement.Pkg.Pin, version))
			if err != nil {
				return err
			}
			rendered.Pkg.Version = filter
			rendered.Pin = ""
			s.Install.Requirements[i] = Request{Pkg: rendered}
		case requirement.Var != nil && requirement.Var.FromBuildEnv:
			value, _ := env.Get(requirement.Var.Var)
			pinned := requirement.Var.Clone()
			pinned.Value = value
			pinned.FromBuildEnv = false
			s.Install.Requirements[i] = Request{Var: pinned}
		}
	}
	return nil
}

// renderPinTemplate substitutes the 'x' placeholders of a pin template
// with the leading parts of the resolved version: "~x.x" with 3.9.7
// becomes "~3.9".
func renderPinTemplate(pin string, version Version) string {
	var out []byte
	part := 0
	for i := 0; i < len(pin); i++ {
		if pin[i] == 'x' {
			out = append(out, []byte(fmt.Sprintf("%d", version.Part(part)))...)
			part++
			continue
		}
		out = append(out, pin[i])
	}
	return string(out)
}
