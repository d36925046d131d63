package boltdb

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	storagedriver "github.com/pakfs/pakfs/storage/driver"
)

const driverName = "boltdb"

var filesBucket = []byte("files")

// Driver is a storagedriver.StorageDriver implementation backed by a
// single bbolt database file. It trades raw throughput for having the
// entire store in one transactional file, which suits small local
// repositories.
type Driver struct {
	db *bolt.DB
}

var _ storagedriver.StorageDriver = &Driver{}

// New opens (creating if needed) a bolt-backed driver at the given file.
func New(path string) (*Driver, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(filesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Driver{db: db}, nil
}

// Close releases the underlying database file.
func (d *Driver) Close() error {
	return d.db.Close()
}

func (d *Driver) Name() string {
	return driverName
}

func (d *Driver) GetContent(ctx context.Context, path string) ([]byte, error) {
	var content []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(filesBucket).Get([]byte(normalize(path)))
		if value == nil {
			return storagedriver.PathNotFoundError{Path: path, DriverName: driverName}
		}
		content = make([]byte, len(value))
		copy(content, value)
		return nil
	})
	return content, err
}

func (d *Driver) PutContent(ctx context.Context, path string, content []byte) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(filesBucket).Put([]byte(normalize(path)), content)
	})
}

func (d *Driver) Reader(ctx context.Context, path string, offset int64) (io.ReadCloser, error) {
	if offset < 0 {
		return nil, storagedriver.InvalidOffsetError{Path: path, Offset: offset, DriverName: driverName}
	}
	content, err := d.GetContent(ctx, path)
	if err != nil {
		return nil, err
	}
	if offset > int64(len(content)) {
		return nil, storagedriver.InvalidOffsetError{Path: path, Offset: offset, DriverName: driverName}
	}
	return io.NopCloser(bytes.NewReader(content[offset:])), nil
}

func (d *Driver) Stat(ctx context.Context, path string) (storagedriver.FileInfo, error) {
	normalized := normalize(path)
	var info storagedriver.FileInfo
	err := d.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(filesBucket)
		if value := bucket.Get([]byte(normalized)); value != nil {
			info = storagedriver.FileInfoInternal{FileInfoFields: storagedriver.FileInfoFields{
				Path: path,
				Size: int64(len(value)),
			}}
			return nil
		}
		cursor := bucket.Cursor()
		prefix := []byte(normalized + "/")
		if key, _ := cursor.Seek(prefix); key != nil && bytes.HasPrefix(key, prefix) {
			info = storagedriver.FileInfoInternal{FileInfoFields: storagedriver.FileInfoFields{
				Path:  path,
				IsDir: true,
			}}
			return nil
		}
		return storagedriver.PathNotFoundError{Path: path, DriverName: driverName}
	})
	return info, err
}

func (d *Driver) List(ctx context.Context, path string) ([]string, error) {
	prefix := normalize(path)
	if prefix != "/" {
		prefix += "/"
	}
	children := map[string]struct{}{}
	err := d.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(filesBucket).Cursor()
		for key, _ := cursor.Seek([]byte(prefix)); key != nil && bytes.HasPrefix(key, []byte(prefix)); key, _ = cursor.Next() {
			rest := string(key[len(prefix):])
			if i := strings.IndexByte(rest, '/'); i >= 0 {
				rest = rest[:i]
			}
			children[prefix+rest] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(children) == 0 && prefix != "/" {
		return nil, storagedriver.PathNotFoundError{Path: path, DriverName: driverName}
	}
	keys := make([]string, 0, len(children))
	for child := range children {
		keys = append(keys, child)
	}
	sort.Strings(keys)
	return keys, nil
}

func (d *Driver) Move(ctx context.Context, sourcePath string, destPath string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(filesBucket)
		src := []byte(normalize(sourcePath))
		value := bucket.Get(src)
		if value == nil {
			return storagedriver.PathNotFoundError{Path: sourcePath, DriverName: driverName}
		}
		stored := make([]byte, len(value))
		copy(stored, value)
		if err := bucket.Delete(src); err != nil {
			return err
		}
		return bucket.Put([]byte(normalize(destPath)), stored)
	})
}

func (d *Driver) Delete(ctx context.Context, path string) error {
	normalized := normalize(path)
	return d.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(filesBucket)
		if bucket.Get([]byte(normalized)) != nil {
			return bucket.Delete([]byte(normalized))
		}
		prefix := []byte(normalized + "/")
		cursor := bucket.Cursor()
		var doomed [][]byte
		for key, _ := cursor.Seek(prefix); key != nil && bytes.HasPrefix(key, prefix); key, _ = cursor.Next() {
			doomed = append(doomed, append([]byte{}, key...))
		}
		if len(doomed) == 0 {
			return storagedriver.PathNotFoundError{Path: path, DriverName: driverName}
		}
		for _, key := range doomed {
			if err := bucket.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func normalize(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	trimmed := strings.TrimSuffix(path, "/")
	if trimmed == "" {
		return "/"
	}
	return trimmed
}
