package ident

import (
	"fmt"
	"sort"
	"strings"
)

// OptionMap holds resolved option name/value pairs.
type OptionMap map[OptName]string

// Copy returns a shallow copy of the map.
func (m OptionMap) Copy() OptionMap {
	cp := make(OptionMap, len(m))
	for name, value := range m {
		cp[name] = value
	}
	return cp
}

// Update merges the other map into this one, later values overriding.
func (m OptionMap) Update(other OptionMap) {
	for name, value := range other {
		m[name] = value
	}
}

// Get looks up the value for name, trying the fully qualified form first
// and falling back to the base name.
func (m OptionMap) Get(name OptName) (string, bool) {
	if value, ok := m[name]; ok {
		return value, true
	}
	value, ok := m[OptName(name.BaseName())]
	return value, ok
}

// Names returns all option names in sorted order.
func (m OptionMap) Names() []OptName {
	names := make([]OptName, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Digest computes the compact identity of this option set, used as the
// build identifier for binary builds.
func (m OptionMap) Digest() string {
	return optionsDigest(m)
}

func (m OptionMap) String() string {
	pairs := make([]string, 0, len(m))
	for _, name := range m.Names() {
		pairs = append(pairs, fmt.Sprintf("%s=%s", name, m[name]))
	}
	return "{" + strings.Join(pairs, ", ") + "}"
}

// Opt is one declared build option of a recipe: either a var option with
// a value domain, or a pkg option describing a package dependency whose
// version becomes the value.
type Opt struct {
	// Var is set for var options.
	Var OptName
	// Pkg is set for pkg options.
	Pkg PkgName
	// Default is the value used when nothing provides one.
	Default string
	// Value is the resolved value recorded on built specs.
	Value string
	// Choices restricts valid values for var options, when non-empty.
	Choices []string
	// Components are the components requested from a pkg option.
	Components ComponentSet
}

// Name returns the option's name in the option map.
func (o Opt) Name() OptName {
	if o.Pkg != "" {
		return OptName(o.Pkg)
	}
	return o.Var
}

// IsPkg reports whether this is a package option.
func (o Opt) IsPkg() bool { return o.Pkg != "" }

// ResolvedValue returns the recorded value, falling back to the default.
func (o Opt) ResolvedValue() string {
	if o.Value != "" {
		return o.Value
	}
	return o.Default
}

// Validate checks a proposed value against this option's constraints.
func (o Opt) Validate(value string) Compatibility {
	if value == "" || len(o.Choices) == 0 || o.IsPkg() {
		return Compatible
	}
	for _, choice := range o.Choices {
		if choice == value {
			return Compatible
		}
	}
	return Incompatible("invalid value %q for option %s, must be one of [%s]",
		value, o.Name(), strings.Join(o.Choices, ", "))
}

// ToRequest converts a pkg option into a package request, using the given
// value (or the default) as the version filter.
func (o Opt) ToRequest(given string) (*PkgRequest, error) {
	if !o.IsPkg() {
		return nil, fmt.Errorf("option %s is not a package option", o.Name())
	}
	value := given
	if value == "" {
		value = o.Default
	}
	filter, err := ParseVersionFilter(value)
	if err != nil {
		return nil, err
	}
	components := o.Components
	if len(components) == 0 {
		components = NewComponentSet()
	}
	return &PkgRequest{
		Pkg: RangeIdent{
			Name:       o.Pkg,
			Version:    filter,
			Components: components,
		},
	}, nil
}
