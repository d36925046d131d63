package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pakfs/pakfs"
	"github.com/pakfs/pakfs/ident"
)

func testSpec(t *testing.T, id string) *ident.Spec {
	t.Helper()
	pkg, err := ident.ParseIdent(id)
	require.NoError(t, err)
	if pkg.Build == nil {
		pkg = pkg.WithBuild(ident.BuildFromOptions(nil))
	}
	return &ident.Spec{Pkg: pkg}
}

func TestRepositoryPackageIndex(t *testing.T) {
	ctx := context.Background()
	repo := NewMemRepository("origin")

	require.NoError(t, repo.PublishSpecs(ctx,
		testSpec(t, "python/3.9.7"),
		testSpec(t, "python/3.11.1"),
		testSpec(t, "gcc/9.3.0"),
	))

	names, err := repo.ListPackages(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ident.PkgName{"gcc", "python"}, names)

	versions, err := repo.ListPackageVersions(ctx, "python")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "3.9.7", versions[0].String())
	assert.Equal(t, "3.11.1", versions[1].String())

	builds, err := repo.ListPackageBuilds(ctx, ident.MustIdent("python/3.9.7"))
	require.NoError(t, err)
	require.Len(t, builds, 1)

	spec, err := repo.ReadPackage(ctx, builds[0])
	require.NoError(t, err)
	assert.Equal(t, ident.PkgName("python"), spec.Pkg.Name)

	recipe, err := repo.ReadRecipe(ctx, ident.MustIdent("python/3.9.7"))
	require.NoError(t, err)
	assert.Nil(t, recipe.Pkg.Build)

	components, err := repo.ReadComponents(ctx, builds[0])
	require.NoError(t, err)
	assert.Contains(t, components, ident.ComponentRun)
}

func TestRepositoryMissingPackage(t *testing.T) {
	ctx := context.Background()
	repo := NewMemRepository("origin")

	_, err := repo.ListPackageVersions(ctx, "ghost")
	assert.True(t, pakfs.IsNotFound(err))
	_, err = repo.ReadPackage(ctx, ident.MustIdent("ghost/1.0").WithBuild(ident.BuildFromOptions(nil)))
	assert.True(t, pakfs.IsNotFound(err))
	_, err = repo.ReadRecipe(ctx, ident.MustIdent("ghost/1.0"))
	assert.True(t, pakfs.IsNotFound(err))
}

func TestSpecRoundTripPreservesSemantics(t *testing.T) {
	ctx := context.Background()
	repo := NewMemRepository("origin")

	request, err := ident.ParsePkgRequest("dep/~1.2")
	require.NoError(t, err)
	spec := testSpec(t, "app/1.0")
	spec.Build.Options = []ident.Opt{{Var: "debug", Value: "off", Choices: []string{"on", "off"}}}
	spec.Install.Requirements = []ident.Request{{Pkg: request}}
	spec.Deprecated = true

	require.NoError(t, repo.PublishSpecs(ctx, spec))
	loaded, err := repo.ReadPackage(ctx, spec.Pkg)
	require.NoError(t, err)

	assert.True(t, loaded.Deprecated)
	values := loaded.OptionValues()
	value, _ := values.Get("debug")
	assert.Equal(t, "off", value)
	require.Len(t, loaded.Install.Requirements, 1)
	reloaded := loaded.Install.Requirements[0].Pkg
	require.NotNil(t, reloaded)
	assert.True(t, reloaded.IsVersionApplicable(ident.MustVersion("1.2.9")).IsOk())
	assert.False(t, reloaded.IsVersionApplicable(ident.MustVersion("1.3.0")).IsOk())
}
