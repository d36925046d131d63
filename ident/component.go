package ident

import (
	"sort"
	"strings"
)

// Component names a subset of a build's files.
type Component string

// Reserved component names with fixed meanings.
const (
	ComponentAll   Component = "all"
	ComponentRun   Component = "run"
	ComponentBuild Component = "build"
	ComponentSrc   Component = "src"
)

func (c Component) String() string { return string(c) }

// ComponentSet is an unordered set of component names.
type ComponentSet map[Component]struct{}

// NewComponentSet builds a set from the given components.
func NewComponentSet(components ...Component) ComponentSet {
	set := make(ComponentSet, len(components))
	for _, component := range components {
		set[component] = struct{}{}
	}
	return set
}

// Add inserts a component into the set.
func (s ComponentSet) Add(component Component) {
	s[component] = struct{}{}
}

// Contains reports membership.
func (s ComponentSet) Contains(component Component) bool {
	_, ok := s[component]
	return ok
}

// Union returns a new set holding the contents of both.
func (s ComponentSet) Union(other ComponentSet) ComponentSet {
	merged := make(ComponentSet, len(s)+len(other))
	for component := range s {
		merged[component] = struct{}{}
	}
	for component := range other {
		merged[component] = struct{}{}
	}
	return merged
}

// Names returns the members in sorted order.
func (s ComponentSet) Names() []Component {
	names := make([]Component, 0, len(s))
	for component := range s {
		names = append(names, component)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

func (s ComponentSet) String() string {
	names := s.Names()
	rendered := make([]string, len(names))
	for i, name := range names {
		rendered[i] = string(name)
	}
	return strings.Join(rendered, ",")
}
