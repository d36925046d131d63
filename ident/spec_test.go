package ident

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveUsesExpandsAllAndTransitiveUses(t *testing.T) {
	spec := &Spec{
		Pkg: MustIdent("app/1.0").WithBuild(BuildFromOptions(nil)),
		Install: InstallSpec{Components: []ComponentSpec{
			{Name: "docs"},
			{Name: "cli", Uses: []Component{"docs"}},
		}},
	}

	resolved := spec.ResolveUses(NewComponentSet("cli"))
	assert.True(t, resolved.Contains("cli"))
	assert.True(t, resolved.Contains("docs"))
	assert.False(t, resolved.Contains(ComponentRun))

	all := spec.ResolveUses(NewComponentSet(ComponentAll))
	for _, name := range []Component{ComponentRun, ComponentBuild, "docs", "cli"} {
		assert.True(t, all.Contains(name), "all should include %s", name)
	}
}

func TestRecipeResolveOptions(t *testing.T) {
	recipe := &Recipe{Spec: Spec{
		Pkg: MustIdent("app/1.0"),
		Build: BuildSpec{Options: []Opt{
			{Var: "debug", Default: "off", Choices: []string{"on", "off"}},
			{Pkg: "python", Default: "3.9"},
		}},
	}}

	resolved, err := recipe.ResolveOptions(OptionMap{"debug": "on"})
	require.NoError(t, err)
	assert.Equal(t, "on", resolved["debug"])
	assert.Equal(t, "3.9", resolved["python"])

	// a namespaced input wins over the bare name
	resolved, err = recipe.ResolveOptions(OptionMap{"debug": "on", "app.debug": "off"})
	require.NoError(t, err)
	assert.Equal(t, "off", resolved["debug"])

	_, err = recipe.ResolveOptions(OptionMap{"debug": "sometimes"})
	assert.Error(t, err)
}

func TestGenerateBinaryBuildRendersPins(t *testing.T) {
	dep := NewPkgRequest("python", nil)
	dep.Pin = "~x.x"
	recipe := &Recipe{Spec: Spec{
		Pkg: MustIdent("app/1.0"),
		Install: InstallSpec{Requirements: []Request{
			{Pkg: dep},
			{Var: &VarRequest{Var: "abi", FromBuildEnv: true}},
		}},
	}}

	env := OptionMap{"python": "3.9.7", "abi": "cp39"}
	spec, err := recipe.GenerateBinaryBuild(OptionMap{}, env)
	require.NoError(t, err)
	require.NotNil(t, spec.Pkg.Build)

	rendered := spec.Install.Requirements[0].Pkg
	require.NotNil(t, rendered)
	assert.Empty(t, rendered.Pin)
	assert.True(t, rendered.IsVersionApplicable(MustVersion("3.9.9")).IsOk())
	assert.False(t, rendered.IsVersionApplicable(MustVersion("4.0")).IsOk())
	assert.False(t, rendered.IsVersionApplicable(MustVersion("3.8")).IsOk())

	pinnedVar := spec.Install.Requirements[1].Var
	require.NotNil(t, pinnedVar)
	assert.Equal(t, "cp39", pinnedVar.Value)
	assert.False(t, pinnedVar.FromBuildEnv)

	// a missing environment value is an error, not a silent empty pin
	_, err = recipe.GenerateBinaryBuild(OptionMap{}, OptionMap{})
	assert.Error(t, err)
}
