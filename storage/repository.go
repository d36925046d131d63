package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"

	"github.com/opencontainers/go-digest"

	"github.com/pakfs/pakfs"
	"github.com/pakfs/pakfs/graph"
	"github.com/pakfs/pakfs/ident"
	storagedriver "github.com/pakfs/pakfs/storage/driver"
)

// Repository is a package repository over a Store: the object-store
// primitives plus the package index read by the solver and the router.
type Repository struct {
	*Store
}

var _ pakfs.Repository = &Repository{}

// NewRepository creates a repository with the given name over the given
// driver.
func NewRepository(name string, driver storagedriver.StorageDriver) *Repository {
	return &Repository{Store: NewStore(name, driver)}
}

func recipePath(name ident.PkgName, version ident.Version) string {
	return fmt.Sprintf("%s/%s/%s/recipe", packagesPrefix, name, version)
}

func specPath(pkg ident.Ident) string {
	return fmt.Sprintf("%s/%s/%s/%s/spec", packagesPrefix, pkg.Name, pkg.Version, pkg.Build)
}

func componentsPath(pkg ident.Ident) string {
	return fmt.Sprintf("%s/%s/%s/%s/components", packagesPrefix, pkg.Name, pkg.Version, pkg.Build)
}

// ListPackages returns the names of all published packages.
func (r *Repository) ListPackages(ctx context.Context) ([]ident.PkgName, error) {
	entries, err := r.driver.List(ctx, packagesPrefix)
	if err != nil {
		if isPathNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]ident.PkgName, 0, len(entries))
	for _, entry := range entries {
		name, err := ident.ParsePkgName(path.Base(entry))
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names, nil
}

// ListPackageVersions returns all published versions of the named
// package, sorted ascending.
func (r *Repository) ListPackageVersions(ctx context.Context, name ident.PkgName) ([]ident.Version, error) {
	entries, err := r.driver.List(ctx, packagesPrefix+"/"+string(name))
	if err != nil {
		if isPathNotFound(err) {
			return nil, pakfs.ErrPackageNotFound{Ident: string(name)}
		}
		return nil, err
	}
	versions := make([]ident.Version, 0, len(entries))
	for _, entry := range entries {
		version, err := ident.ParseVersion(path.Base(entry))
		if err != nil {
			continue
		}
		versions = append(versions, version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].LessThan(versions[j]) })
	return versions, nil
}

// ListPackageBuilds returns the build identifiers published for the
// given package version.
func (r *Repository) ListPackageBuilds(ctx context.Context, pkg ident.Ident) ([]ident.Ident, error) {
	base := fmt.Sprintf("%s/%s/%s", packagesPrefix, pkg.Name, pkg.Version)
	entries, err := r.driver.List(ctx, base)
	if err != nil {
		if isPathNotFound(err) {
			return nil, pakfs.ErrPackageNotFound{Ident: pkg.String()}
		}
		return nil, err
	}
	var builds []ident.Ident
	for _, entry := range entries {
		buildName := path.Base(entry)
		if buildName == "recipe" {
			continue
		}
		build, err := ident.ParseBuild(buildName)
		if err != nil {
			continue
		}
		builds = append(builds, pkg.WithBuild(build))
	}
	sort.Slice(builds, func(i, j int) bool { return builds[i].String() < builds[j].String() })
	return builds, nil
}

// ReadRecipe returns the recipe for the given package version.
func (r *Repository) ReadRecipe(ctx context.Context, pkg ident.Ident) (*ident.Recipe, error) {
	content, err := r.driver.GetContent(ctx, recipePath(pkg.Name, pkg.Version))
	if err != nil {
		if isPathNotFound(err) {
			return nil, pakfs.ErrPackageNotFound{Ident: pkg.WithoutBuild().String()}
		}
		return nil, err
	}
	recipe := &ident.Recipe{}
	if err := json.Unmarshal(content, recipe); err != nil {
		return nil, fmt.Errorf("invalid recipe for %s: %w", pkg, err)
	}
	return recipe, nil
}

// ReadPackage returns the spec of the identified build.
func (r *Repository) ReadPackage(ctx context.Context, pkg ident.Ident) (*ident.Spec, error) {
	if pkg.Build == nil {
		return nil, fmt.Errorf("reading package %s: build not specified", pkg)
	}
	content, err := r.driver.GetContent(ctx, specPath(pkg))
	if err != nil {
		if isPathNotFound(err) {
			return nil, pakfs.ErrPackageNotFound{Ident: pkg.String()}
		}
		return nil, err
	}
	spec := &ident.Spec{}
	if err := json.Unmarshal(content, spec); err != nil {
		return nil, fmt.Errorf("invalid package spec for %s: %w", pkg, err)
	}
	return spec, nil
}

// ReadComponents returns the published component manifests of the
// identified build.
func (r *Repository) ReadComponents(ctx context.Context, pkg ident.Ident) (map[ident.Component]digest.Digest, error) {
	content, err := r.driver.GetContent(ctx, componentsPath(pkg))
	if err != nil {
		if isPathNotFound(err) {
			return nil, pakfs.ErrPackageNotFound{Ident: pkg.String()}
		}
		return nil, err
	}
	components := map[ident.Component]digest.Digest{}
	if err := json.Unmarshal(content, &components); err != nil {
		return nil, fmt.Errorf("invalid component index for %s: %w", pkg, err)
	}
	return components, nil
}

// PublishRecipe stores the recipe for its package version.
func (r *Repository) PublishRecipe(ctx context.Context, recipe *ident.Recipe) error {
	content, err := json.Marshal(recipe)
	if err != nil {
		return err
	}
	return r.driver.PutContent(ctx, recipePath(recipe.Pkg.Name, recipe.Pkg.Version), content)
}

// PublishPackage stores a built package spec and its component index.
func (r *Repository) PublishPackage(ctx context.Context, spec *ident.Spec, components map[ident.Component]digest.Digest) error {
	if spec.Pkg.Build == nil {
		return fmt.Errorf("publishing %s: build not specified", spec.Pkg)
	}
	content, err := json.Marshal(spec)
	if err != nil {
		return err
	}
	if err := r.driver.PutContent(ctx, specPath(spec.Pkg), content); err != nil {
		return err
	}
	if components == nil {
		components = map[ident.Component]digest.Digest{}
	}
	index, err := json.Marshal(components)
	if err != nil {
		return err
	}
	return r.driver.PutContent(ctx, componentsPath(spec.Pkg), index)
}

// ComputeEnvironmentManifest resolves an environment spec to a fully
// unrolled filesystem manifest by layering each item in order.
func (r *Repository) ComputeEnvironmentManifest(ctx context.Context, spec pakfs.EnvSpec) (*graph.EnvManifest, error) {
	merged := graph.NewEnvManifest()
	for _, item := range spec.Items {
		var target digest.Digest
		if dgst, err := digest.Parse(item); err == nil {
			target = dgst
		} else {
			resolved, err := r.ResolveTag(ctx, item)
			if err != nil {
				return nil, err
			}
			target = resolved
		}
		layerManifest, err := graph.UnrollRef(ctx, r.Store, target)
		if err != nil {
			return nil, err
		}
		merged.Overlay(layerManifest)
	}
	return merged, nil
}
