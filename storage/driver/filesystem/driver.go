package filesystem

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"

	storagedriver "github.com/pakfs/pakfs/storage/driver"
)

const (
	driverName           = "filesystem"
	defaultRootDirectory = "/var/lib/pakfs"
)

// Driver is a storagedriver.StorageDriver implementation backed by a
// local filesystem. All provided paths are subpaths of the configured
// root directory.
type Driver struct {
	rootDirectory string
}

var _ storagedriver.StorageDriver = &Driver{}

// New constructs a filesystem driver rooted at the given directory.
func New(rootDirectory string) *Driver {
	if rootDirectory == "" {
		rootDirectory = defaultRootDirectory
	}
	return &Driver{rootDirectory: rootDirectory}
}

func (d *Driver) Name() string {
	return driverName
}

// LocalPath returns the host filesystem path backing the given driver
// path, allowing callers to open seekable handles directly.
func (d *Driver) LocalPath(subPath string) string {
	return d.fullPath(subPath)
}

// fullPath returns the absolute host path for the given driver path.
func (d *Driver) fullPath(subPath string) string {
	return filepath.Join(d.rootDirectory, filepath.FromSlash(path.Clean("/"+subPath)))
}

func (d *Driver) GetContent(ctx context.Context, subPath string) ([]byte, error) {
	content, err := os.ReadFile(d.fullPath(subPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storagedriver.PathNotFoundError{Path: subPath, DriverName: driverName}
		}
		return nil, err
	}
	return content, nil
}

func (d *Driver) PutContent(ctx context.Context, subPath string, content []byte) error {
	fullPath := d.fullPath(subPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return err
	}
	// write-then-rename so concurrent readers never observe partial
	// content
	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), fullPath)
}

func (d *Driver) Reader(ctx context.Context, subPath string, offset int64) (io.ReadCloser, error) {
	if offset < 0 {
		return nil, storagedriver.InvalidOffsetError{Path: subPath, Offset: offset, DriverName: driverName}
	}
	fp, err := os.Open(d.fullPath(subPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storagedriver.PathNotFoundError{Path: subPath, DriverName: driverName}
		}
		return nil, err
	}
	if _, err := fp.Seek(offset, io.SeekStart); err != nil {
		fp.Close()
		return nil, err
	}
	return fp, nil
}

func (d *Driver) Stat(ctx context.Context, subPath string) (storagedriver.FileInfo, error) {
	fi, err := os.Stat(d.fullPath(subPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storagedriver.PathNotFoundError{Path: subPath, DriverName: driverName}
		}
		return nil, err
	}
	return storagedriver.FileInfoInternal{FileInfoFields: storagedriver.FileInfoFields{
		Path:    subPath,
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
		IsDir:   fi.IsDir(),
	}}, nil
}

func (d *Driver) List(ctx context.Context, subPath string) ([]string, error) {
	entries, err := os.ReadDir(d.fullPath(subPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storagedriver.PathNotFoundError{Path: subPath, DriverName: driverName}
		}
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		keys = append(keys, path.Join("/", subPath, entry.Name()))
	}
	return keys, nil
}

func (d *Driver) Move(ctx context.Context, sourcePath string, destPath string) error {
	source, dest := d.fullPath(sourcePath), d.fullPath(destPath)
	if _, err := os.Stat(source); os.IsNotExist(err) {
		return storagedriver.PathNotFoundError{Path: sourcePath, DriverName: driverName}
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.Rename(source, dest)
}

func (d *Driver) Delete(ctx context.Context, subPath string) error {
	fullPath := d.fullPath(subPath)
	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return storagedriver.PathNotFoundError{Path: subPath, DriverName: driverName}
	}
	return os.RemoveAll(fullPath)
}
