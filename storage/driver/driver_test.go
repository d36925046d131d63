package driver_test

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storagedriver "github.com/pakfs/pakfs/storage/driver"
	"github.com/pakfs/pakfs/storage/driver/boltdb"
	"github.com/pakfs/pakfs/storage/driver/filesystem"
	"github.com/pakfs/pakfs/storage/driver/inmemory"
)

// each driver must satisfy the same behavioral contract
func eachDriver(t *testing.T, fn func(t *testing.T, d storagedriver.StorageDriver)) {
	t.Run("inmemory", func(t *testing.T) {
		fn(t, inmemory.New())
	})
	t.Run("filesystem", func(t *testing.T) {
		fn(t, filesystem.New(t.TempDir()))
	})
	t.Run("boltdb", func(t *testing.T) {
		d, err := boltdb.New(filepath.Join(t.TempDir(), "store.db"))
		require.NoError(t, err)
		t.Cleanup(func() { d.Close() })
		fn(t, d)
	})
}

func TestDriverPutGet(t *testing.T) {
	eachDriver(t, func(t *testing.T, d storagedriver.StorageDriver) {
		ctx := context.Background()
		require.NoError(t, d.PutContent(ctx, "/a/b/c", []byte("content")))

		content, err := d.GetContent(ctx, "/a/b/c")
		require.NoError(t, err)
		assert.Equal(t, "content", string(content))

		// overwrites replace
		require.NoError(t, d.PutContent(ctx, "/a/b/c", []byte("new")))
		content, err = d.GetContent(ctx, "/a/b/c")
		require.NoError(t, err)
		assert.Equal(t, "new", string(content))
	})
}

func TestDriverNotFound(t *testing.T) {
	eachDriver(t, func(t *testing.T, d storagedriver.StorageDriver) {
		ctx := context.Background()
		_, err := d.GetContent(ctx, "/missing")
		var notFound storagedriver.PathNotFoundError
		assert.True(t, errors.As(err, &notFound), "expected PathNotFoundError, got %v", err)

		err = d.Delete(ctx, "/missing")
		assert.True(t, errors.As(err, &notFound))

		_, err = d.Stat(ctx, "/missing")
		assert.True(t, errors.As(err, &notFound))
	})
}

func TestDriverReaderOffset(t *testing.T) {
	eachDriver(t, func(t *testing.T, d storagedriver.StorageDriver) {
		ctx := context.Background()
		require.NoError(t, d.PutContent(ctx, "/file", []byte("0123456789")))

		rc, err := d.Reader(ctx, "/file", 4)
		require.NoError(t, err)
		defer rc.Close()
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "456789", string(content))

		_, err = d.Reader(ctx, "/file", -1)
		var invalidOffset storagedriver.InvalidOffsetError
		assert.True(t, errors.As(err, &invalidOffset))
	})
}

func TestDriverList(t *testing.T) {
	eachDriver(t, func(t *testing.T, d storagedriver.StorageDriver) {
		ctx := context.Background()
		require.NoError(t, d.PutContent(ctx, "/dir/one", []byte("1")))
		require.NoError(t, d.PutContent(ctx, "/dir/two", []byte("2")))
		require.NoError(t, d.PutContent(ctx, "/dir/sub/three", []byte("3")))

		children, err := d.List(ctx, "/dir")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"/dir/one", "/dir/two", "/dir/sub"}, children)
	})
}

func TestDriverMove(t *testing.T) {
	eachDriver(t, func(t *testing.T, d storagedriver.StorageDriver) {
		ctx := context.Background()
		require.NoError(t, d.PutContent(ctx, "/src", []byte("payload")))
		require.NoError(t, d.Move(ctx, "/src", "/dst/inner"))

		_, err := d.GetContent(ctx, "/src")
		assert.Error(t, err)
		content, err := d.GetContent(ctx, "/dst/inner")
		require.NoError(t, err)
		assert.Equal(t, "payload", string(content))
	})
}

func TestDriverRecursiveDelete(t *testing.T) {
	eachDriver(t, func(t *testing.T, d storagedriver.StorageDriver) {
		ctx := context.Background()
		require.NoError(t, d.PutContent(ctx, "/tree/a", []byte("a")))
		require.NoError(t, d.PutContent(ctx, "/tree/b/c", []byte("c")))

		require.NoError(t, d.Delete(ctx, "/tree"))
		_, err := d.GetContent(ctx, "/tree/a")
		assert.Error(t, err)
		_, err = d.GetContent(ctx, "/tree/b/c")
		assert.Error(t, err)
	})
}
