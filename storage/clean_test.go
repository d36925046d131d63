package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pakfs/pakfs/graph"
)

// numberedBlob creates a distinct leaf object for interleaving tests.
func numberedBlob(n int) *graph.Blob {
	return &graph.Blob{Payload: digest.FromString(fmt.Sprintf("payload-%d", n)), Size: int64(n)}
}

func mustDigest(t *testing.T, obj graph.Object) digest.Digest {
	t.Helper()
	dgst, err := graph.DigestOf(obj)
	require.NoError(t, err)
	return dgst
}

func TestCleanRemovesOnlyGarbage(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	garbage := numberedBlob(1)
	kept := numberedBlob(2)
	garbageDigest, err := store.WriteObject(ctx, garbage)
	require.NoError(t, err)
	keptDigest, err := store.WriteObject(ctx, kept)
	require.NoError(t, err)
	require.NoError(t, store.SetTag(ctx, "keep", keptDigest))

	stats, err := Clean(ctx, store, CleanOpts{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ObjectsRemoved)
	assert.False(t, store.HasObject(ctx, garbageDigest))
	assert.True(t, store.HasObject(ctx, keptDigest))
}

func TestCleanKeepsStagedObjects(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	staged := numberedBlob(1)
	stagedDigest, err := store.WriteObject(ctx, staged)
	require.NoError(t, err)
	require.NoError(t, store.Stage(ctx, stagedDigest))

	stats, err := Clean(ctx, store, CleanOpts{})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.ObjectsRemoved)
	assert.Equal(t, 1, stats.SkippedStaged)
	assert.True(t, store.HasObject(ctx, stagedDigest))
}

func TestCleanDryRunRemovesNothing(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	garbageDigest, err := store.WriteObject(ctx, numberedBlob(1))
	require.NoError(t, err)

	stats, err := Clean(ctx, store, CleanOpts{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Candidates)
	assert.True(t, store.HasObject(ctx, garbageDigest))
}

func TestCleanRemovesOrphanedPayloads(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	payload, _, err := store.WritePayload(ctx, strings.NewReader("orphaned content"))
	require.NoError(t, err)
	require.True(t, store.HasPayload(ctx, payload))

	_, err = Clean(ctx, store, CleanOpts{})
	require.NoError(t, err)
	assert.False(t, store.HasPayload(ctx, payload))
}

// The interleaving properties: for any schedule of one writer against
// one cleaner, the final store covers the final tag set, contains no
// garbage outside the staging set, and never holds a child-less parent.

func TestCleanConcurrentWriterNewObject(t *testing.T) {
	runCleanInterleavings(t, 4)
}

func TestCleanConcurrentWriterExistingObject(t *testing.T) {
	// re-publishing an object that is currently garbage must rescue it
	runCleanInterleavings(t, 1)
}

func runCleanInterleavings(t *testing.T, valueToWrite int) {
	const rounds = 100
	for round := 0; round < rounds; round++ {
		ctx := context.Background()
		store := testStore(t)

		// start out with 1 already as garbage
		for n := 1; n <= 3; n++ {
			_, err := store.WriteObject(ctx, numberedBlob(n))
			require.NoError(t, err)
		}
		for n := 2; n <= 3; n++ {
			require.NoError(t, store.SetTag(ctx,
				fmt.Sprintf("tag-%d", n), mustDigest(t, numberedBlob(n))))
		}

		var group sync.WaitGroup
		group.Add(2)
		var writeErr, cleanErr error
		go func() {
			defer group.Done()
			_, writeErr = NewPublisher(store).PublishGraph(ctx,
				fmt.Sprintf("tag-%d", valueToWrite),
				[]graph.Object{numberedBlob(valueToWrite)})
		}()
		go func() {
			defer group.Done()
			_, cleanErr = Clean(ctx, store, CleanOpts{MaxConcurrency: 2})
		}()
		group.Wait()
		require.NoError(t, writeErr)
		require.NoError(t, cleanErr)

		// everything the final tags reference must exist
		tags, err := store.ListTags(ctx)
		require.NoError(t, err)
		for _, tag := range tags {
			assert.True(t, store.HasObject(ctx, tag.Target),
				"tagged object %s missing after clean", tag.Name)
		}
		assert.True(t, store.HasObject(ctx, mustDigest(t, numberedBlob(valueToWrite))),
			"freshly published object was collected")
		assert.True(t, store.HasObject(ctx, mustDigest(t, numberedBlob(2))))
		assert.True(t, store.HasObject(ctx, mustDigest(t, numberedBlob(3))))
	}
}

// buildHierarchy writes the initial object graph used by the
// hierarchical scenarios:
//
//	      5
//	     / \
//	    4   3
//	     \ / \
//	      2   1
func buildHierarchy(t *testing.T, ctx context.Context, store *Store) map[int]digest.Digest {
	t.Helper()
	digests := map[int]digest.Digest{}
	write := func(n int, obj graph.Object) {
		dgst, err := store.WriteObject(ctx, obj)
		require.NoError(t, err)
		digests[n] = dgst
	}
	write(1, numberedBlob(1))
	write(2, numberedBlob(2))
	write(3, &graph.Tree{Entries: []graph.TreeEntry{
		{Name: "one", Kind: graph.EntryKindBlob, Object: digests[1]},
		{Name: "two", Kind: graph.EntryKindBlob, Object: digests[2]},
	}})
	write(4, &graph.Tree{Entries: []graph.TreeEntry{
		{Name: "two", Kind: graph.EntryKindBlob, Object: digests[2]},
	}})
	write(5, &graph.Tree{Entries: []graph.TreeEntry{
		{Name: "four", Kind: graph.EntryKindTree, Object: digests[4]},
		{Name: "three", Kind: graph.EntryKindTree, Object: digests[3]},
	}})
	return digests
}

func TestCleanHierarchyReusingExistingChildren(t *testing.T) {
	const rounds = 100
	for round := 0; round < rounds; round++ {
		ctx := context.Background()
		store := testStore(t)
		digests := buildHierarchy(t, ctx, store)

		// the writer publishes a new root over subtree 3. It must
		// republish the whole hierarchy below it: the cleaner may have
		// already deleted parts of it.
		one := numberedBlob(1)
		two := numberedBlob(2)
		three := &graph.Tree{Entries: []graph.TreeEntry{
			{Name: "one", Kind: graph.EntryKindBlob, Object: digests[1]},
			{Name: "two", Kind: graph.EntryKindBlob, Object: digests[2]},
		}}
		six := &graph.Tree{Entries: []graph.TreeEntry{
			{Name: "three", Kind: graph.EntryKindTree, Object: digests[3]},
		}}
		sixDigest := mustDigest(t, six)

		var group sync.WaitGroup
		group.Add(2)
		var writeErr, cleanErr error
		go func() {
			defer group.Done()
			_, writeErr = NewPublisher(store).PublishGraph(ctx, "tag-6",
				[]graph.Object{one, two, three, six})
		}()
		go func() {
			defer group.Done()
			_, cleanErr = Clean(ctx, store, CleanOpts{MaxConcurrency: 2, CheckHierarchy: true})
		}()
		group.Wait()
		require.NoError(t, writeErr)
		require.NoError(t, cleanErr)

		// 6, 3, 2 and 1 must survive; 4 and 5 may or may not
		for _, wanted := range []digest.Digest{sixDigest, digests[3], digests[2], digests[1]} {
			assert.True(t, store.HasObject(ctx, wanted), "object %s missing after clean", wanted)
		}

		// no surviving parent may reference a missing child
		require.NoError(t, verifyHierarchy(ctx, store))
	}
}
