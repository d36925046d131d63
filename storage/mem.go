package storage

import (
	"context"

	"github.com/opencontainers/go-digest"

	"github.com/pakfs/pakfs/ident"
	"github.com/pakfs/pakfs/storage/driver/inmemory"
)

// NewMemRepository creates a fully in-memory repository, for tests and
// ephemeral solves.
func NewMemRepository(name string) *Repository {
	return NewRepository(name, inmemory.New())
}

// PublishSpecs publishes each spec (with an empty component index) plus a
// recipe for any version that does not have one yet. It is a convenience
// for building repository fixtures.
func (r *Repository) PublishSpecs(ctx context.Context, specs ...*ident.Spec) error {
	for _, spec := range specs {
		if _, err := r.ReadRecipe(ctx, spec.Pkg); err != nil {
			recipe := &ident.Recipe{Spec: *spec.Clone()}
			recipe.Pkg = recipe.Pkg.WithoutBuild()
			if err := r.PublishRecipe(ctx, recipe); err != nil {
				return err
			}
		}
		components := map[ident.Component]digest.Digest{}
		for _, name := range spec.ComponentNames().Names() {
			components[name] = ""
		}
		if err := r.PublishPackage(ctx, spec, components); err != nil {
			return err
		}
	}
	return nil
}
