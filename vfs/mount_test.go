package vfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pakfs/pakfs"
	"github.com/pakfs/pakfs/graph"
)

func testMount(t *testing.T) *Mount {
	t.Helper()
	repo := testEnvRepo(t, "env/base")
	spec, err := pakfs.ParseEnvSpec("env/base")
	require.NoError(t, err)
	manifest, err := repo.ComputeEnvironmentManifest(context.Background(), spec)
	require.NoError(t, err)
	return NewMount([]pakfs.Repository{repo}, manifest)
}

func testEditableMount(t *testing.T) *Mount {
	t.Helper()
	repo := testEnvRepo(t, "env/base")
	spec, err := pakfs.ParseEnvSpec("env/base")
	require.NoError(t, err)
	manifest, err := repo.ComputeEnvironmentManifest(context.Background(), spec)
	require.NoError(t, err)
	scratch, err := ScratchDirAt(t.TempDir())
	require.NoError(t, err)
	return NewEditableMount([]pakfs.Repository{repo}, manifest, scratch)
}

func TestMountLookup(t *testing.T) {
	mount := testMount(t)

	attr, err := mount.Lookup("/bin/hi")
	require.NoError(t, err)
	assert.Equal(t, graph.EntryKindBlob, attr.Kind)
	assert.True(t, attr.ReadOnly)
	assert.True(t, attr.NotContentIndexed)
	assert.NotZero(t, attr.Inode)

	attr, err = mount.Lookup("/bin")
	require.NoError(t, err)
	assert.Equal(t, graph.EntryKindTree, attr.Kind)
	// directory mode bits are forced even when missing in the source
	assert.NotZero(t, attr.Mode&graph.ModeDir)

	_, err = mount.Lookup("/bin/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMountInodeAllocationIsDeterministic(t *testing.T) {
	first := testMount(t)
	second := testMount(t)

	for _, path := range []string{"", "/bin", "/bin/hi"} {
		a, err := first.Lookup(path)
		require.NoError(t, err)
		b, err := second.Lookup(path)
		require.NoError(t, err)
		assert.Equal(t, a.Inode, b.Inode, "inode for %q differs between mounts", path)
	}
	root, err := first.Lookup("")
	require.NoError(t, err)
	assert.Equal(t, RootInode, root.Inode)
}

func TestMountReadStreamedBlob(t *testing.T) {
	mount := testMount(t)
	ctx := context.Background()

	handleID, attr, err := mount.Open(ctx, "/bin/hi")
	require.NoError(t, err)
	defer mount.Release(handleID)
	assert.NotZero(t, attr.Size)

	first, err := mount.Read(handleID, 0, 9)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh", string(first))

	// streamed handles only support sequential reads
	_, err = mount.Read(handleID, 0, 4)
	assert.ErrorIs(t, err, ErrSeekNotSupported)

	rest, err := mount.Read(handleID, int64(len(first)), int(attr.Size))
	require.NoError(t, err)
	assert.Equal(t, "\necho hi\n", string(rest))
}

func TestMountReadDir(t *testing.T) {
	mount := testMount(t)

	handleID, err := mount.OpenDir("/bin")
	require.NoError(t, err)
	defer mount.ReleaseDir(handleID)

	entries, err := mount.ReadDir(handleID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hi", entries[0].Name)

	_, err = mount.OpenDir("/bin/hi")
	assert.ErrorIs(t, err, ErrNotDirectory)
}

func TestMountWriteOnReadOnlyFails(t *testing.T) {
	mount := testMount(t)
	assert.ErrorIs(t, mount.Mkdir("/newdir"), ErrReadOnly)
	assert.ErrorIs(t, mount.Remove("/bin/hi"), ErrReadOnly)
	_, _, err := mount.CreateFile("/new.txt")
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestEditableMountCreateAndDelete(t *testing.T) {
	mount := testEditableMount(t)
	require.True(t, mount.IsEditable())
	require.False(t, mount.HasChanges())

	handleID, _, err := mount.CreateFile("/work/notes.txt")
	require.NoError(t, err)
	require.NoError(t, mount.Release(handleID))
	assert.True(t, mount.HasChanges())

	attr, err := mount.Lookup("/work/notes.txt")
	require.NoError(t, err)
	assert.False(t, attr.ReadOnly)

	require.NoError(t, mount.Remove("/work/notes.txt"))
	_, err = mount.Lookup("/work/notes.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEditableMountDeleteHidesBaseFile(t *testing.T) {
	mount := testEditableMount(t)

	_, err := mount.Lookup("/bin/hi")
	require.NoError(t, err)

	require.NoError(t, mount.Remove("/bin/hi"))
	_, err = mount.Lookup("/bin/hi")
	assert.ErrorIs(t, err, ErrNotFound)

	// the directory listing no longer includes the deleted file
	handleID, err := mount.OpenDir("/bin")
	require.NoError(t, err)
	defer mount.ReleaseDir(handleID)
	entries, err := mount.ReadDir(handleID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEditableMountCopyUpOnWrite(t *testing.T) {
	mount := testEditableMount(t)
	ctx := context.Background()

	// a write through an unknown handle id is rejected before any copy-up
	_, err := mount.WriteFile(ctx, "/bin/hi", 0, 0, []byte("#!"))
	require.Error(t, err) // unknown handle id zero

	require.NoError(t, mount.copyUp(ctx, "/bin/hi"))
	assert.True(t, mount.Scratch().IsInScratch("/bin/hi"))

	handleID, _, err := mount.Open(ctx, "/bin/hi")
	require.NoError(t, err)
	defer mount.Release(handleID)
	content, err := mount.Read(handleID, 0, 9)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh", string(content))
}

func TestEditableMountRename(t *testing.T) {
	mount := testEditableMount(t)
	ctx := context.Background()

	require.NoError(t, mount.Rename(ctx, "/bin/hi", "/bin/hello"))

	scratch := mount.Scratch()
	assert.True(t, scratch.IsDeleted("/bin/hi"))
	assert.True(t, scratch.IsInScratch("/bin/hello"))

	_, err := mount.Lookup("/bin/hi")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = mount.Lookup("/bin/hello")
	assert.NoError(t, err)
}

func TestMountStatFS(t *testing.T) {
	mount := testMount(t)
	info := mount.StatFSInfo()
	assert.True(t, info.ReadOnly)
	assert.NotZero(t, info.TotalEntries)

	editable := testEditableMount(t)
	assert.False(t, editable.StatFSInfo().ReadOnly)
}
