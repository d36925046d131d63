package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pakfs/pakfs"
	"github.com/pakfs/pakfs/graph"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewMemRepository("test").Store
}

func TestObjectRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	payload, size, err := store.WritePayload(ctx, strings.NewReader("hello"))
	require.NoError(t, err)
	assert.EqualValues(t, 5, size)

	dgst, err := store.WriteObject(ctx, &graph.Blob{Payload: payload, Size: size})
	require.NoError(t, err)
	assert.True(t, store.HasObject(ctx, dgst))

	obj, err := store.ReadObject(ctx, dgst)
	require.NoError(t, err)
	blob, ok := obj.(*graph.Blob)
	require.True(t, ok)
	assert.Equal(t, payload, blob.Payload)

	rc, err := store.OpenPayload(ctx, payload)
	require.NoError(t, err)
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "hello", string(content))
}

func TestReadMissingObject(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	_, err := store.ReadObject(ctx, digest.FromString("nothing"))
	assert.True(t, pakfs.IsNotFound(err))
	err = store.DeleteObject(ctx, digest.FromString("nothing"))
	assert.True(t, pakfs.IsNotFound(err))
}

func TestTags(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	target := digest.FromString("target")
	require.NoError(t, store.SetTag(ctx, "env/production", target))

	resolved, err := store.ResolveTag(ctx, "env/production")
	require.NoError(t, err)
	assert.Equal(t, target, resolved)

	tags, err := store.ListTags(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "env/production", tags[0].Name)

	require.NoError(t, store.DeleteTag(ctx, "env/production"))
	_, err = store.ResolveTag(ctx, "env/production")
	assert.True(t, pakfs.IsNotFound(err))
}

func TestStaging(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	dgst := digest.FromString("staged")
	require.NoError(t, store.Stage(ctx, dgst))
	staged, err := store.ListStaged(ctx)
	require.NoError(t, err)
	assert.Equal(t, []digest.Digest{dgst}, staged)

	require.NoError(t, store.Unstage(ctx, dgst))
	staged, err = store.ListStaged(ctx)
	require.NoError(t, err)
	assert.Empty(t, staged)

	// unstaging twice is not an error
	require.NoError(t, store.Unstage(ctx, dgst))
}

func TestPublisherLeavesNothingStaged(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	blob := &graph.Blob{Payload: digest.FromString("content"), Size: 7}
	blobDigest, err := graph.DigestOf(blob)
	require.NoError(t, err)
	manifest := &graph.Manifest{Root: blobDigest}

	root, err := NewPublisher(store).PublishGraph(ctx, "env/new", []graph.Object{blob, manifest})
	require.NoError(t, err)

	resolved, err := store.ResolveTag(ctx, "env/new")
	require.NoError(t, err)
	assert.Equal(t, root, resolved)
	assert.True(t, store.HasObject(ctx, blobDigest))

	staged, err := store.ListStaged(ctx)
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestReadRef(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	dgst, err := store.WriteObject(ctx, &graph.Platform{})
	require.NoError(t, err)
	require.NoError(t, store.SetTag(ctx, "latest", dgst))

	byTag, err := store.ReadRef(ctx, "latest")
	require.NoError(t, err)
	byDigest, err := store.ReadRef(ctx, dgst.String())
	require.NoError(t, err)
	assert.Equal(t, byTag.Kind(), byDigest.Kind())

	_, err = store.ReadRef(ctx, "no-such-tag")
	assert.True(t, pakfs.IsNotFound(err))
}
