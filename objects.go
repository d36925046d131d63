package pakfs

import (
	"context"
	"io"

	"github.com/opencontainers/go-digest"

	"github.com/pakfs/pakfs/graph"
)

// ObjectStore provides access to the content-addressed object DAG.
type ObjectStore interface {
	graph.Getter
	graph.Putter

	// HasObject reports whether the digest is present without reading it.
	HasObject(ctx context.Context, dgst digest.Digest) bool

	// ListObjects returns the digests of every stored object.
	ListObjects(ctx context.Context) ([]digest.Digest, error)

	// DeleteObject removes the identified object. Deleting a missing
	// object returns ErrObjectUnknown.
	DeleteObject(ctx context.Context, dgst digest.Digest) error
}

// Tag is a named mutable pointer into the object DAG and the primary
// garbage collection root.
type Tag struct {
	Name   string
	Target digest.Digest
}

// TagService manages the named tags of a store.
type TagService interface {
	// ListTags returns all current tags.
	ListTags(ctx context.Context) ([]Tag, error)

	// ResolveTag returns the digest the named tag points at.
	ResolveTag(ctx context.Context, name string) (digest.Digest, error)

	// SetTag points the named tag at the given digest, creating it if
	// needed.
	SetTag(ctx context.Context, name string, target digest.Digest) error

	// DeleteTag removes the named tag.
	DeleteTag(ctx context.Context, name string) error
}

// StagingSet is the process-wide set of digests that act as garbage
// collection roots independently of tags. Writers stage a root before
// introducing new objects and unstage it only once a tag covers them.
type StagingSet interface {
	Stage(ctx context.Context, dgst digest.Digest) error
	Unstage(ctx context.Context, dgst digest.Digest) error
	ListStaged(ctx context.Context) ([]digest.Digest, error)
}

// PayloadStore holds the raw blob payloads referenced by the object DAG.
type PayloadStore interface {
	// WritePayload stores the stream contents, returning their digest
	// and size.
	WritePayload(ctx context.Context, reader io.Reader) (digest.Digest, int64, error)

	// OpenPayload opens the identified payload for sequential reading.
	OpenPayload(ctx context.Context, dgst digest.Digest) (io.ReadCloser, error)

	// HasPayload reports whether the payload is present.
	HasPayload(ctx context.Context, dgst digest.Digest) bool

	// LocalPayloadPath returns a host filesystem path for the payload
	// when the underlying storage can expose one, allowing callers to
	// open a seekable handle directly.
	LocalPayloadPath(ctx context.Context, dgst digest.Digest) (string, bool)
}
