package vfs

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// ScratchDir manages the writable layer of an editable mount. It
// implements copy-on-write semantics in user space: modified files are
// materialized under a host directory keyed by their virtual path, and
// deletions are tracked as whiteouts so lower-layer files disappear.
//
// Tracking updates and their filesystem effects happen under the write
// lock, so an observer never sees a path in the modified set without the
// corresponding scratch file existing, or vice versa.
type ScratchDir struct {
	root string

	mu sync.RWMutex
	// modified is the set of virtual paths present in scratch
	modified map[string]struct{}
	// whiteouts is the set of virtual paths marked deleted
	whiteouts map[string]struct{}
}

// NewScratchDir creates the scratch directory for the named runtime
// under the OS cache directory.
func NewScratchDir(runtimeName string) (*ScratchDir, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return ScratchDirAt(filepath.Join(base, "pakfs", "scratch", runtimeName))
}

// ScratchDirAt creates a scratch directory at a specific root path.
func ScratchDirAt(root string) (*ScratchDir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	logrus.WithField("path", root).Debug("created scratch directory")
	return &ScratchDir{
		root:      root,
		modified:  map[string]struct{}{},
		whiteouts: map[string]struct{}{},
	}, nil
}

// Root returns the scratch root on the host filesystem.
func (s *ScratchDir) Root() string { return s.root }

// ScratchPath converts a virtual path like "/bin/foo" to its host path
// under the scratch root.
func (s *ScratchDir) ScratchPath(virtualPath string) string {
	return filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(virtualPath, "/")))
}

func normalVirtual(virtualPath string) string {
	if !strings.HasPrefix(virtualPath, "/") {
		virtualPath = "/" + virtualPath
	}
	return virtualPath
}

// IsDeleted reports whether the virtual path is marked as deleted.
func (s *ScratchDir) IsDeleted(virtualPath string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.whiteouts[normalVirtual(virtualPath)]
	return ok
}

// IsInScratch reports whether the virtual path is tracked as modified.
func (s *ScratchDir) IsInScratch(virtualPath string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.modified[normalVirtual(virtualPath)]
	return ok
}

// ExistsInScratch checks the host filesystem for the path, bypassing
// the tracking sets.
func (s *ScratchDir) ExistsInScratch(virtualPath string) bool {
	_, err := os.Lstat(s.ScratchPath(virtualPath))
	return err == nil
}

// MarkDeleted marks a virtual path as deleted, removing any scratch
// copy. Lower-layer files at this path become invisible.
func (s *ScratchDir) MarkDeleted(virtualPath string) error {
	virtualPath = normalVirtual(virtualPath)
	s.mu.Lock()
	defer s.mu.Unlock()

	scratchPath := s.ScratchPath(virtualPath)
	if info, err := os.Lstat(scratchPath); err == nil {
		if info.IsDir() {
			if err := os.RemoveAll(scratchPath); err != nil {
				return err
			}
		} else if err := os.Remove(scratchPath); err != nil {
			return err
		}
	}

	s.whiteouts[virtualPath] = struct{}{}
	delete(s.modified, virtualPath)
	return nil
}

// CreateFile creates a new empty file in scratch, returning the open
// handle. Parent directories are materialized as needed and any
// whiteout at this path is removed.
func (s *ScratchDir) CreateFile(virtualPath string) (*os.File, error) {
	virtualPath = normalVirtual(virtualPath)
	s.mu.Lock()
	defer s.mu.Unlock()

	scratchPath := s.ScratchPath(virtualPath)
	if err := os.MkdirAll(filepath.Dir(scratchPath), 0o755); err != nil {
		return nil, err
	}
	fp, err := os.Create(scratchPath)
	if err != nil {
		return nil, err
	}
	s.modified[virtualPath] = struct{}{}
	delete(s.whiteouts, virtualPath)
	return fp, nil
}

// CopyToScratch materializes a base-layer file into scratch, the
// copy-up that happens on first write.
func (s *ScratchDir) CopyToScratch(virtualPath string, content []byte, mode os.FileMode) (string, error) {
	virtualPath = normalVirtual(virtualPath)
	s.mu.Lock()
	defer s.mu.Unlock()

	scratchPath := s.ScratchPath(virtualPath)
	if err := os.MkdirAll(filepath.Dir(scratchPath), 0o755); err != nil {
		return "", err
	}
	if mode == 0 {
		mode = 0o644
	}
	if err := os.WriteFile(scratchPath, content, mode); err != nil {
		return "", err
	}
	s.modified[virtualPath] = struct{}{}
	delete(s.whiteouts, virtualPath)
	return scratchPath, nil
}

// OpenFile opens an existing scratch file for read/write.
func (s *ScratchDir) OpenFile(virtualPath string) (*os.File, error) {
	return os.OpenFile(s.ScratchPath(virtualPath), os.O_RDWR, 0)
}

// CreateDir creates a directory in scratch.
func (s *ScratchDir) CreateDir(virtualPath string) error {
	virtualPath = normalVirtual(virtualPath)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.ScratchPath(virtualPath), 0o755); err != nil {
		return err
	}
	s.modified[virtualPath] = struct{}{}
	delete(s.whiteouts, virtualPath)
	return nil
}

// RemoveDir removes a directory, whiting it out against the base.
func (s *ScratchDir) RemoveDir(virtualPath string) error {
	return s.MarkDeleted(virtualPath)
}

// Rename moves a scratch path. The old virtual path becomes a whiteout
// so any base-layer file there stays hidden.
func (s *ScratchDir) Rename(oldVirtual, newVirtual string) error {
	oldVirtual = normalVirtual(oldVirtual)
	newVirtual = normalVirtual(newVirtual)
	s.mu.Lock()
	defer s.mu.Unlock()

	newScratch := s.ScratchPath(newVirtual)
	if err := os.MkdirAll(filepath.Dir(newScratch), 0o755); err != nil {
		return err
	}
	if err := os.Rename(s.ScratchPath(oldVirtual), newScratch); err != nil {
		return err
	}

	delete(s.modified, oldVirtual)
	s.modified[newVirtual] = struct{}{}
	s.whiteouts[oldVirtual] = struct{}{}
	delete(s.whiteouts, newVirtual)
	return nil
}

// ModifiedPaths returns every virtual path present in scratch, for a
// later commit step.
func (s *ScratchDir) ModifiedPaths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.modified))
	for path := range s.modified {
		paths = append(paths, path)
	}
	return paths
}

// DeletedPaths returns every whiteout, for a later commit step.
func (s *ScratchDir) DeletedPaths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.whiteouts))
	for path := range s.whiteouts {
		paths = append(paths, path)
	}
	return paths
}

// HasChanges reports whether anything was modified or deleted.
func (s *ScratchDir) HasChanges() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.modified) > 0 || len(s.whiteouts) > 0
}

// Cleanup removes the entire scratch tree. Errors are returned so
// callers can log them; a missing tree is not an error.
func (s *ScratchDir) Cleanup() error {
	if _, err := os.Stat(s.root); os.IsNotExist(err) {
		return nil
	}
	return os.RemoveAll(s.root)
}

// Close best-effort removes the scratch tree, logging and swallowing
// failures.
func (s *ScratchDir) Close() {
	if err := s.Cleanup(); err != nil {
		logrus.WithError(err).WithField("path", s.root).Warn("failed to clean up scratch directory")
	}
}
