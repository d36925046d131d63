package graph

import (
	"context"
	"sync"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memObjects is a minimal in-memory object store for round-trip tests.
type memObjects struct {
	mu      sync.Mutex
	objects map[digest.Digest]Object
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[digest.Digest]Object{}}
}

func (m *memObjects) WriteObject(ctx context.Context, obj Object) (digest.Digest, error) {
	dgst, err := DigestOf(obj)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[dgst] = obj
	return dgst, nil
}

func (m *memObjects) ReadObject(ctx context.Context, dgst digest.Digest) (Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[dgst]
	if !ok {
		return nil, assert.AnError
	}
	return obj, nil
}

func blobEntry(name string, size int64) *Entry {
	return &Entry{
		Kind:   EntryKindBlob,
		Mode:   ModeRegular | 0o644,
		Size:   size,
		Object: digest.FromString(name),
	}
}

func TestCommitAndUnrollManifest(t *testing.T) {
	ctx := context.Background()
	store := newMemObjects()

	manifest := NewEnvManifest()
	manifest.Put("/bin/tool", blobEntry("tool", 10))
	manifest.Put("/lib/one.so", blobEntry("one", 20))
	manifest.Put("/lib/two.so", blobEntry("two", 30))

	dgst, err := CommitEnvManifest(ctx, store, manifest)
	require.NoError(t, err)

	unrolled, err := UnrollManifest(ctx, store, dgst)
	require.NoError(t, err)

	require.NotNil(t, unrolled.Find("bin/tool"))
	assert.Equal(t, digest.FromString("one"), unrolled.Find("lib/one.so").Object)
	assert.EqualValues(t, manifest.PathCount(), unrolled.PathCount())

	// committing the identical tree yields the identical digest
	second, err := CommitEnvManifest(ctx, store, manifest)
	require.NoError(t, err)
	assert.Equal(t, dgst, second)
}

func TestUnrollRefThroughPlatform(t *testing.T) {
	ctx := context.Background()
	store := newMemObjects()

	lower := NewEnvManifest()
	lower.Put("/etc/config", blobEntry("old", 1))
	lower.Put("/etc/keep", blobEntry("keep", 2))
	lowerDigest, err := CommitEnvManifest(ctx, store, lower)
	require.NoError(t, err)

	upper := NewEnvManifest()
	upper.Put("/etc/config", blobEntry("new", 3))
	upperDigest, err := CommitEnvManifest(ctx, store, upper)
	require.NoError(t, err)

	lowerLayer, err := store.WriteObject(ctx, &Layer{Manifest: lowerDigest})
	require.NoError(t, err)
	upperLayer, err := store.WriteObject(ctx, &Layer{Manifest: upperDigest})
	require.NoError(t, err)
	platform, err := store.WriteObject(ctx, &Platform{Stack: []digest.Digest{lowerLayer, upperLayer}})
	require.NoError(t, err)

	merged, err := UnrollRef(ctx, store, platform)
	require.NoError(t, err)
	// the later layer in the stack wins
	assert.Equal(t, digest.FromString("new"), merged.Find("etc/config").Object)
	assert.NotNil(t, merged.Find("etc/keep"))
}
