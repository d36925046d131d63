package vfs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pakfs/pakfs"
	"github.com/pakfs/pakfs/graph"
	"github.com/pakfs/pakfs/storage"
)

// fakeOracle is a scripted process tree for router tests.
type fakeOracle struct {
	mu      sync.Mutex
	parents map[uint32]uint32
	alive   map[uint32]bool
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{parents: map[uint32]uint32{}, alive: map[uint32]bool{}}
}

func (o *fakeOracle) spawn(pid, parent uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.parents[pid] = parent
	o.alive[pid] = true
}

func (o *fakeOracle) kill(pid uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.alive[pid] = false
}

func (o *fakeOracle) ParentPIDs(pid uint32) ([]uint32, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	stack := []uint32{pid}
	for {
		parent, ok := o.parents[pid]
		if !ok || parent == 0 {
			return stack, nil
		}
		stack = append(stack, parent)
		pid = parent
	}
}

func (o *fakeOracle) IsAlive(pid uint32) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.alive[pid]
}

func newReader(s string) *strings.Reader { return strings.NewReader(s) }

// testEnvRepo publishes a tiny environment under the named tag.
func testEnvRepo(t *testing.T, tag string) *storage.Repository {
	t.Helper()
	ctx := context.Background()
	repo := storage.NewMemRepository("origin")

	payload, size, err := repo.WritePayload(ctx, newReader("#!/bin/sh\necho hi\n"))
	require.NoError(t, err)
	blobDigest, err := repo.WriteObject(ctx, &graph.Blob{Payload: payload, Size: size})
	require.NoError(t, err)

	manifest := graph.NewEnvManifest()
	manifest.Put("/bin/hi", &graph.Entry{
		Kind:   graph.EntryKindBlob,
		Mode:   graph.ModeRegular | 0o755,
		Size:   size,
		Object: blobDigest,
	})
	manifestDigest, err := graph.CommitEnvManifest(ctx, repo, manifest)
	require.NoError(t, err)
	layerDigest, err := repo.WriteObject(ctx, &graph.Layer{Manifest: manifestDigest})
	require.NoError(t, err)
	platformDigest, err := repo.WriteObject(ctx, &graph.Platform{Stack: []digest.Digest{layerDigest}})
	require.NoError(t, err)
	require.NoError(t, repo.SetTag(ctx, tag, platformDigest))
	return repo
}

func TestRouterDefaultMount(t *testing.T) {
	oracle := newFakeOracle()
	oracle.spawn(100, 1)
	router := NewRouter(nil, oracle)
	defer router.Shutdown()

	// with no registered mounts every pid sees the default, which is
	// never editable
	for _, pid := range []uint32{1, 100, 9999} {
		mount := router.GetMountForPID(pid)
		require.NotNil(t, mount)
		assert.False(t, mount.IsEditable())
	}
}

func TestRouterRoutesByAncestry(t *testing.T) {
	ctx := context.Background()
	repo := testEnvRepo(t, "env/base")
	oracle := newFakeOracle()
	oracle.spawn(100, 1)
	oracle.spawn(200, 100)
	oracle.spawn(300, 200)
	oracle.spawn(400, 1)

	router := NewRouter([]pakfs.Repository{repo}, oracle)
	defer router.Shutdown()

	spec, err := pakfs.ParseEnvSpec("env/base")
	require.NoError(t, err)
	require.NoError(t, router.Mount(ctx, 100, spec))

	mounted := router.GetMountForPID(100)
	// descendants of the root pid see the mounted environment
	assert.Same(t, mounted, router.GetMountForPID(200))
	assert.Same(t, mounted, router.GetMountForPID(300))
	// unrelated processes see the default
	assert.NotSame(t, mounted, router.GetMountForPID(400))

	_, err = mounted.Lookup("/bin/hi")
	assert.NoError(t, err)
}

func TestRouterRejectsDuplicateMount(t *testing.T) {
	ctx := context.Background()
	repo := testEnvRepo(t, "env/base")
	oracle := newFakeOracle()
	oracle.spawn(100, 1)

	router := NewRouter([]pakfs.Repository{repo}, oracle)
	defer router.Shutdown()

	spec, err := pakfs.ParseEnvSpec("env/base")
	require.NoError(t, err)
	require.NoError(t, router.Mount(ctx, 100, spec))

	err = router.Mount(ctx, 100, spec)
	require.Error(t, err)
	var exists pakfs.ErrRuntimeExists
	assert.True(t, errors.As(err, &exists))
}

func TestRouterUnmount(t *testing.T) {
	ctx := context.Background()
	repo := testEnvRepo(t, "env/base")
	oracle := newFakeOracle()
	oracle.spawn(100, 1)

	router := NewRouter([]pakfs.Repository{repo}, oracle)
	defer router.Shutdown()

	spec, err := pakfs.ParseEnvSpec("env/base")
	require.NoError(t, err)
	require.NoError(t, router.Mount(ctx, 100, spec))

	assert.True(t, router.Unmount(100))
	assert.False(t, router.Unmount(100))
	assert.False(t, router.GetMountForPID(100).IsEditable())
}

func TestRouterCleanupLoopReapsDeadOwners(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	repo := testEnvRepo(t, "env/base")
	oracle := newFakeOracle()
	oracle.spawn(100, 1)

	router := NewRouter([]pakfs.Repository{repo}, oracle)

	spec, err := pakfs.ParseEnvSpec("env/base")
	require.NoError(t, err)
	require.NoError(t, router.Mount(ctx, 100, spec))

	done := make(chan struct{})
	go func() {
		defer close(done)
		router.RunCleanupLoop(ctx, 10*time.Millisecond)
	}()

	oracle.kill(100)
	require.Eventually(t, func() bool {
		return len(router.RegisteredPIDs()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	router.Shutdown()
	cancel()
	<-done
}

func TestRouterMountUnknownReference(t *testing.T) {
	repo := storage.NewMemRepository("origin")
	oracle := newFakeOracle()
	oracle.spawn(100, 1)
	router := NewRouter([]pakfs.Repository{repo}, oracle)
	defer router.Shutdown()

	spec, err := pakfs.ParseEnvSpec("no/such/tag")
	require.NoError(t, err)
	err = router.Mount(context.Background(), 100, spec)
	assert.True(t, pakfs.IsNotFound(err))
}
