package pakfs

import (
	"context"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/pakfs/pakfs/graph"
	"github.com/pakfs/pakfs/ident"
)

// Repository provides package-level access to a store. It is the
// interface consumed by both the solver and the filesystem router; every
// operation is fallible with typed errors so that a missing package can
// be distinguished from an I/O failure.
type Repository interface {
	ObjectStore
	TagService
	StagingSet
	PayloadStore

	// Name identifies this repository within a set.
	Name() string

	// ListPackages returns the names of all published packages.
	ListPackages(ctx context.Context) ([]ident.PkgName, error)

	// ListPackageVersions returns all published versions of the named
	// package.
	ListPackageVersions(ctx context.Context, name ident.PkgName) ([]ident.Version, error)

	// ListPackageBuilds returns the build identifiers published for the
	// given package version.
	ListPackageBuilds(ctx context.Context, pkg ident.Ident) ([]ident.Ident, error)

	// ReadRecipe returns the recipe for the given package version.
	ReadRecipe(ctx context.Context, pkg ident.Ident) (*ident.Recipe, error)

	// ReadPackage returns the spec of the identified build.
	ReadPackage(ctx context.Context, pkg ident.Ident) (*ident.Spec, error)

	// ReadComponents returns the published component manifests of the
	// identified build.
	ReadComponents(ctx context.Context, pkg ident.Ident) (map[ident.Component]digest.Digest, error)

	// ReadRef resolves a tag name or digest string to its object.
	ReadRef(ctx context.Context, ref string) (graph.Object, error)

	// ComputeEnvironmentManifest resolves an environment spec to a fully
	// unrolled filesystem manifest.
	ComputeEnvironmentManifest(ctx context.Context, spec EnvSpec) (*graph.EnvManifest, error)
}

// EnvSpec names a resolved environment as an ordered set of references
// (tags or digests) layered over each other.
type EnvSpec struct {
	Items []string
}

// ParseEnvSpec parses a "+"-separated list of references.
func ParseEnvSpec(s string) (EnvSpec, error) {
	spec := EnvSpec{}
	for _, item := range strings.Split(s, "+") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		spec.Items = append(spec.Items, item)
	}
	if len(spec.Items) == 0 {
		return EnvSpec{}, ErrInvalidReference{Ref: s}
	}
	return spec, nil
}

// IsEmpty reports whether this spec names no layers.
func (s EnvSpec) IsEmpty() bool { return len(s.Items) == 0 }

func (s EnvSpec) String() string { return strings.Join(s.Items, "+") }
