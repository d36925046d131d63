package inmemory

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	storagedriver "github.com/pakfs/pakfs/storage/driver"
)

const driverName = "inmemory"

// Driver is a storagedriver.StorageDriver backed by a local map. Intended
// for testing and small single-process stores.
type Driver struct {
	mutex sync.RWMutex
	files map[string]*file
}

type file struct {
	data []byte
	mod  time.Time
}

var _ storagedriver.StorageDriver = &Driver{}

// New constructs a new in-memory driver.
func New() *Driver {
	return &Driver{files: map[string]*file{}}
}

func (d *Driver) Name() string {
	return driverName
}

func (d *Driver) GetContent(ctx context.Context, path string) ([]byte, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	f, ok := d.files[normalize(path)]
	if !ok {
		return nil, storagedriver.PathNotFoundError{Path: path, DriverName: driverName}
	}
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out, nil
}

func (d *Driver) PutContent(ctx context.Context, path string, content []byte) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	stored := make([]byte, len(content))
	copy(stored, content)
	d.files[normalize(path)] = &file{data: stored, mod: time.Now()}
	return nil
}

func (d *Driver) Reader(ctx context.Context, path string, offset int64) (io.ReadCloser, error) {
	if offset < 0 {
		return nil, storagedriver.InvalidOffsetError{Path: path, Offset: offset, DriverName: driverName}
	}

	d.mutex.RLock()
	defer d.mutex.RUnlock()

	f, ok := d.files[normalize(path)]
	if !ok {
		return nil, storagedriver.PathNotFoundError{Path: path, DriverName: driverName}
	}
	if offset > int64(len(f.data)) {
		return nil, storagedriver.InvalidOffsetError{Path: path, Offset: offset, DriverName: driverName}
	}
	return io.NopCloser(bytes.NewReader(f.data[offset:])), nil
}

func (d *Driver) Stat(ctx context.Context, path string) (storagedriver.FileInfo, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	normalized := normalize(path)
	if f, ok := d.files[normalized]; ok {
		return storagedriver.FileInfoInternal{FileInfoFields: storagedriver.FileInfoFields{
			Path:    path,
			Size:    int64(len(f.data)),
			ModTime: f.mod,
		}}, nil
	}

	prefix := normalized + "/"
	for stored := range d.files {
		if strings.HasPrefix(stored, prefix) || normalized == "/" {
			return storagedriver.FileInfoInternal{FileInfoFields: storagedriver.FileInfoFields{
				Path:  path,
				IsDir: true,
			}}, nil
		}
	}
	return nil, storagedriver.PathNotFoundError{Path: path, DriverName: driverName}
}

func (d *Driver) List(ctx context.Context, path string) ([]string, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	prefix := normalize(path)
	if prefix != "/" {
		prefix += "/"
	}

	children := map[string]struct{}{}
	for stored := range d.files {
		if !strings.HasPrefix(stored, prefix) {
			continue
		}
		rest := stored[len(prefix):]
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			rest = rest[:i]
		}
		children[prefix+rest] = struct{}{}
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
	d.mutex.Lock()
	defer d.mutex.Unlock()

	src := normalize(sourcePath)
	f, ok := d.files[src]
	if !ok {
		return storagedriver.PathNotFoundError{Path: sourcePath, DriverName: driverName}
	}
	delete(d.files, src)
	d.files[normalize(destPath)] = f
	return nil
}

func (d *Driver) Delete(ctx context.Context, path string) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	normalized := normalize(path)
	if _, ok := d.files[normalized]; ok {
		delete(d.files, normalized)
		return nil
	}

	prefix := normalized + "/"
	deleted := false
	for stored := range d.files {
		if strings.HasPrefix(stored, prefix) {
			delete(d.files, stored)
			deleted = true
		}
	}
	if !deleted {
		return storagedriver.PathNotFoundError{Path: path, DriverName: driverName}
	}
	return nil
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
