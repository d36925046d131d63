package vfs

import (
	"context"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pakfs/pakfs"
	"github.com/pakfs/pakfs/graph"
)

// RootInode is the well-known inode number of a mount's root directory.
const RootInode uint64 = 1

// Attr is the synthesized attribute set for one entry of a mount.
// Times are always "now" and permissions follow a fixed read-only
// policy; ownership is the invoking user.
type Attr struct {
	Inode uint64
	Size  int64
	Mode  uint32
	// Kind distinguishes files, directories and symlinks.
	Kind graph.EntryKind
	// ReadOnly and NotContentIndexed are fixed policy flags.
	ReadOnly          bool
	NotContentIndexed bool
	// ReparsePoint is set for symlinks.
	ReparsePoint bool
	// ATime, MTime and CTime are synthesized.
	ATime, MTime, CTime time.Time
}

// DirEntry is one element of a directory listing.
type DirEntry struct {
	Name string
	Attr Attr
}

// inode joins a manifest entry to its allocated inode number.
type inode struct {
	id       uint64
	entry    *graph.Entry
	children map[string]*inode
}

// Mount presents one resolved environment manifest. Read-only mounts
// serve the manifest directly; editable mounts overlay a scratch
// directory that captures writes and deletions.
type Mount struct {
	repos    []pakfs.Repository
	manifest *graph.EnvManifest

	nextInode atomic.Uint64
	mu        sync.RWMutex
	inodes    map[uint64]*inode
	root      *inode
	// scratchInodes maps scratch paths to their allocated inode ids.
	scratchInodes map[string]uint64

	scratch *ScratchDir

	handleMu   sync.Mutex
	nextHandle uint64
	handles    map[uint64]handle
}

// NewMount constructs a read-only mount over the given manifest.
// Inode numbers are allocated eagerly for every entry in a
// deterministic traversal.
func NewMount(repos []pakfs.Repository, manifest *graph.EnvManifest) *Mount {
	m := &Mount{
		repos:    repos,
		manifest: manifest,
		inodes:   map[uint64]*inode{},
		handles:  map[uint64]handle{},
	}
	root := manifest.Root()
	// manifests often lack proper mode bits at the root because it is
	// not captured from a real directory on commit; without the
	// directory flag the filesystem appears broken
	root.Mode |= graph.ModeDir
	m.root = m.allocateInodes(root)
	return m
}

// NewEditableMount constructs a mount whose writes land in the given
// scratch directory.
func NewEditableMount(repos []pakfs.Repository, manifest *graph.EnvManifest, scratch *ScratchDir) *Mount {
	m := NewMount(repos, manifest)
	m.scratch = scratch
	return m
}

// IsEditable reports whether this mount captures writes.
func (m *Mount) IsEditable() bool { return m.scratch != nil }

// Scratch returns the editable layer, if any.
func (m *Mount) Scratch() *ScratchDir { return m.scratch }

func (m *Mount) allocateInode() uint64 {
	return m.nextInode.Add(1)
}

func (m *Mount) allocateInodes(entry *graph.Entry) *inode {
	node := &inode{id: m.allocateInode(), entry: entry}
	if entry.IsDir() {
		// directory mode bits are forced even when the source manifest
		// lacks them
		entry.Mode |= graph.ModeDir
		node.children = make(map[string]*inode, len(entry.Entries))
		for _, name := range entry.EntryNames() {
			node.children[name] = m.allocateInodes(entry.Entries[name])
		}
	}
	m.inodes[node.id] = node
	return node
}

func (m *Mount) attrOf(node *inode) Attr {
	now := time.Now()
	return Attr{
		Inode:             node.id,
		Size:              node.entry.Size,
		Mode:              node.entry.Mode,
		Kind:              node.entry.Kind,
		ReadOnly:          true,
		NotContentIndexed: true,
		ReparsePoint:      node.entry.IsSymlink(),
		ATime:             now,
		MTime:             now,
		CTime:             now,
	}
}

func scratchAttr(info os.FileInfo) Attr {
	now := time.Now()
	kind := graph.EntryKindBlob
	mode := graph.ModeRegular | uint32(info.Mode().Perm())
	if info.IsDir() {
		kind = graph.EntryKindTree
		mode = graph.ModeDir | uint32(info.Mode().Perm())
	}
	return Attr{
		Size:  info.Size(),
		Mode:  mode,
		Kind:  kind,
		ATime: now,
		MTime: now,
		CTime: now,
	}
}

func splitVirtual(virtualPath string) []string {
	virtualPath = strings.Trim(virtualPath, "/")
	if virtualPath == "" {
		return nil
	}
	return strings.Split(virtualPath, "/")
}

// findInode walks the base manifest for the given path.
func (m *Mount) findInode(virtualPath string) (*inode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	node := m.root
	for _, step := range splitVirtual(virtualPath) {
		if !node.entry.IsDir() {
			return nil, ErrNotDirectory
		}
		child, ok := node.children[step]
		if !ok {
			return nil, ErrNotFound
		}
		node = child
	}
	return node, nil
}

// Lookup resolves a path to its attributes. In an editable mount the
// scratch layer wins, whiteouts report not-found, and anything else
// falls through to the base manifest.
func (m *Mount) Lookup(virtualPath string) (Attr, error) {
	if m.scratch != nil && len(splitVirtual(virtualPath)) > 0 {
		if m.scratch.IsInScratch(virtualPath) || m.scratch.ExistsInScratch(virtualPath) {
			info, err := os.Lstat(m.scratch.ScratchPath(virtualPath))
			if err != nil {
				return Attr{}, ErrNotFound
			}
			attr := scratchAttr(info)
			attr.Inode = m.inodeForScratchPath(virtualPath)
			return attr, nil
		}
		if m.scratch.IsDeleted(virtualPath) {
			return Attr{}, ErrNotFound
		}
	}
	node, err := m.findInode(virtualPath)
	if err != nil {
		return Attr{}, err
	}
	return m.attrOf(node), nil
}

// inodeForScratchPath returns a stable inode number for a scratch path,
// allocating one on first use.
func (m *Mount) inodeForScratchPath(virtualPath string) uint64 {
	virtualPath = normalVirtual(virtualPath)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scratchInodes == nil {
		m.scratchInodes = map[string]uint64{}
	}
	if id, ok := m.scratchInodes[virtualPath]; ok {
		return id
	}
	id := m.allocateInode()
	m.scratchInodes[virtualPath] = id
	return id
}

// GetAttr returns the attributes for an inode number.
func (m *Mount) GetAttr(ino uint64) (Attr, error) {
	m.mu.RLock()
	node, ok := m.inodes[ino]
	m.mu.RUnlock()
	if !ok {
		return Attr{}, ErrNotFound
	}
	return m.attrOf(node), nil
}

// ReadLink returns the target of a symlink, which is the blob payload.
func (m *Mount) ReadLink(ctx context.Context, virtualPath string) (string, error) {
	node, err := m.findInode(virtualPath)
	if err != nil {
		return "", err
	}
	if !node.entry.IsSymlink() {
		return "", ErrNotFound
	}
	content, err := m.readPayloadBytes(ctx, node.entry)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

func (m *Mount) readPayloadBytes(ctx context.Context, entry *graph.Entry) ([]byte, error) {
	for _, repo := range m.repos {
		obj, err := repo.ReadObject(ctx, entry.Object)
		if err != nil {
			if pakfs.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		blob, ok := obj.(*graph.Blob)
		if !ok {
			continue
		}
		rc, err := repo.OpenPayload(ctx, blob.Payload)
		if err != nil {
			if pakfs.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, ErrNotFound
}

// Open opens a file path for reading, returning the handle id and the
// attributes. Blob reads stream from the first repository holding the
// payload, or open a seekable local file when the storage supports it.
func (m *Mount) Open(ctx context.Context, virtualPath string) (uint64, Attr, error) {
	if m.scratch != nil {
		if m.scratch.IsInScratch(virtualPath) || m.scratch.ExistsInScratch(virtualPath) {
			fp, err := m.scratch.OpenFile(virtualPath)
			if err != nil {
				return 0, Attr{}, ErrNotFound
			}
			info, err := fp.Stat()
			if err != nil {
				fp.Close()
				return 0, Attr{}, err
			}
			attr := scratchAttr(info)
			attr.Inode = m.inodeForScratchPath(virtualPath)
			attr.ReadOnly = false
			return m.registerHandle(&fileHandle{fp: fp, attr: attr, writable: true}), attr, nil
		}
		if m.scratch.IsDeleted(virtualPath) {
			return 0, Attr{}, ErrNotFound
		}
	}

	node, err := m.findInode(virtualPath)
	if err != nil {
		return 0, Attr{}, err
	}
	if node.entry.IsDir() {
		return 0, Attr{}, ErrIsDirectory
	}
	attr := m.attrOf(node)

	for _, repo := range m.repos {
		obj, err := repo.ReadObject(ctx, node.entry.Object)
		if err != nil {
			if pakfs.IsNotFound(err) {
				continue
			}
			return 0, Attr{}, err
		}
		blob, ok := obj.(*graph.Blob)
		if !ok {
			continue
		}
		if localPath, ok := repo.LocalPayloadPath(ctx, blob.Payload); ok {
			fp, err := os.Open(localPath)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return 0, Attr{}, err
			}
			return m.registerHandle(&fileHandle{fp: fp, attr: attr}), attr, nil
		}
		stream, err := repo.OpenPayload(ctx, blob.Payload)
		if err != nil {
			if pakfs.IsNotFound(err) {
				continue
			}
			return 0, Attr{}, err
		}
		return m.registerHandle(&streamHandle{rc: stream, attr: attr}), attr, nil
	}
	return 0, Attr{}, ErrNotFound
}

// Read reads from an open handle at the given offset. Streamed handles
// only support sequential reads; a read at a non-matching offset
// returns ErrSeekNotSupported.
func (m *Mount) Read(handleID uint64, offset int64, size int) ([]byte, error) {
	h, ok := m.getHandle(handleID)
	if !ok {
		return nil, ErrBadHandle
	}
	return h.readAt(offset, size)
}

// Release closes an open file handle.
func (m *Mount) Release(handleID uint64) error {
	m.handleMu.Lock()
	h, ok := m.handles[handleID]
	delete(m.handles, handleID)
	m.handleMu.Unlock()
	if !ok {
		return ErrBadHandle
	}
	return h.close()
}

// OpenDir opens a directory for listing.
func (m *Mount) OpenDir(virtualPath string) (uint64, error) {
	if m.scratch != nil {
		if info, err := os.Stat(m.scratch.ScratchPath(virtualPath)); err == nil {
			if !info.IsDir() {
				return 0, ErrNotDirectory
			}
			return m.registerHandle(&dirHandle{mount: m, path: virtualPath}), nil
		}
		if m.scratch.IsDeleted(virtualPath) {
			return 0, ErrNotFound
		}
	}
	node, err := m.findInode(virtualPath)
	if err != nil {
		return 0, err
	}
	if !node.entry.IsDir() {
		return 0, ErrNotDirectory
	}
	return m.registerHandle(&dirHandle{mount: m, path: virtualPath}), nil
}

// ReadDir lists an open directory: the union of base entries minus
// whiteouts, plus scratch entries.
func (m *Mount) ReadDir(handleID uint64) ([]DirEntry, error) {
	h, ok := m.getHandle(handleID)
	if !ok {
		return nil, ErrBadHandle
	}
	dir, ok := h.(*dirHandle)
	if !ok {
		return nil, ErrNotDirectory
	}
	return m.listDir(dir.path)
}

func (m *Mount) listDir(virtualPath string) ([]DirEntry, error) {
	names := map[string]Attr{}

	if node, err := m.findInode(virtualPath); err == nil && node.entry.IsDir() {
		m.mu.RLock()
		for name, child := range node.children {
			names[name] = m.attrOf(child)
		}
		m.mu.RUnlock()
	}

	if m.scratch != nil {
		for name := range names {
			if m.scratch.IsDeleted(path.Join("/", virtualPath, name)) {
				delete(names, name)
			}
		}
		entries, err := os.ReadDir(m.scratch.ScratchPath(virtualPath))
		if err == nil {
			for _, entry := range entries {
				info, err := entry.Info()
				if err != nil {
					continue
				}
				attr := scratchAttr(info)
				attr.Inode = m.inodeForScratchPath(path.Join("/", virtualPath, entry.Name()))
				names[entry.Name()] = attr
			}
		}
	}

	listing := make([]DirEntry, 0, len(names))
	for name, attr := range names {
		listing = append(listing, DirEntry{Name: name, Attr: attr})
	}
	sort.Slice(listing, func(i, j int) bool { return listing[i].Name < listing[j].Name })
	return listing, nil
}

// ReleaseDir closes a directory handle.
func (m *Mount) ReleaseDir(handleID uint64) error {
	return m.Release(handleID)
}

// StatFS reports synthetic filesystem statistics.
type StatFS struct {
	TotalEntries int64
	BlockSize    uint32
	ReadOnly     bool
}

// StatFSInfo returns the filesystem statistics for this mount.
func (m *Mount) StatFSInfo() StatFS {
	return StatFS{
		TotalEntries: m.manifest.PathCount(),
		BlockSize:    4096,
		ReadOnly:     m.scratch == nil,
	}
}

// LSeek repositions a seekable handle, returning the resulting offset.
func (m *Mount) LSeek(handleID uint64, offset int64, whence int) (int64, error) {
	h, ok := m.getHandle(handleID)
	if !ok {
		return 0, ErrBadHandle
	}
	file, ok := h.(*fileHandle)
	if !ok {
		return 0, ErrSeekNotSupported
	}
	return file.fp.Seek(offset, whence)
}

// Access checks the existence of a path; all content is readable by the
// invoking user.
func (m *Mount) Access(virtualPath string) error {
	_, err := m.Lookup(virtualPath)
	return err
}

// The editable surface. Every operation fails with ErrReadOnly on a
// read-only mount.

// CreateFile creates a new file in the scratch layer.
func (m *Mount) CreateFile(virtualPath string) (uint64, Attr, error) {
	if m.scratch == nil {
		return 0, Attr{}, ErrReadOnly
	}
	fp, err := m.scratch.CreateFile(virtualPath)
	if err != nil {
		return 0, Attr{}, err
	}
	info, err := fp.Stat()
	if err != nil {
		fp.Close()
		return 0, Attr{}, err
	}
	attr := scratchAttr(info)
	attr.Inode = m.inodeForScratchPath(virtualPath)
	attr.ReadOnly = false
	return m.registerHandle(&fileHandle{fp: fp, attr: attr, writable: true}), attr, nil
}

// WriteFile writes to an open writable handle, copying the base file up
// into scratch first when needed.
func (m *Mount) WriteFile(ctx context.Context, virtualPath string, handleID uint64, offset int64, data []byte) (int, error) {
	if m.scratch == nil {
		return 0, ErrReadOnly
	}
	h, ok := m.getHandle(handleID)
	if !ok {
		// an unknown handle id is rejected; a known read handle on a
		// base file is copied up below
		return 0, ErrBadHandle
	}
	file, ok := h.(*fileHandle)
	if !ok || !file.writable {
		if err := m.copyUp(ctx, virtualPath); err != nil {
			return 0, err
		}
		fp, err := m.scratch.OpenFile(virtualPath)
		if err != nil {
			return 0, err
		}
		defer fp.Close()
		return fp.WriteAt(data, offset)
	}
	return file.fp.WriteAt(data, offset)
}

// copyUp materializes a base file into scratch if it is not there yet.
func (m *Mount) copyUp(ctx context.Context, virtualPath string) error {
	if m.scratch.IsInScratch(virtualPath) {
		return nil
	}
	node, err := m.findInode(virtualPath)
	if err != nil {
		return err
	}
	content, err := m.readPayloadBytes(ctx, node.entry)
	if err != nil {
		return err
	}
	_, err = m.scratch.CopyToScratch(virtualPath, content, os.FileMode(node.entry.Mode&0o777))
	return err
}

// Mkdir creates a directory in the scratch layer.
func (m *Mount) Mkdir(virtualPath string) error {
	if m.scratch == nil {
		return ErrReadOnly
	}
	return m.scratch.CreateDir(virtualPath)
}

// Remove deletes a path: the scratch copy is removed and the path is
// whited out against the base.
func (m *Mount) Remove(virtualPath string) error {
	if m.scratch == nil {
		return ErrReadOnly
	}
	if _, err := m.Lookup(virtualPath); err != nil {
		return err
	}
	return m.scratch.MarkDeleted(virtualPath)
}

// Rename moves a path within the mount, materializing it in scratch.
func (m *Mount) Rename(ctx context.Context, oldVirtual, newVirtual string) error {
	if m.scratch == nil {
		return ErrReadOnly
	}
	if !m.scratch.IsInScratch(oldVirtual) && !m.scratch.ExistsInScratch(oldVirtual) {
		if err := m.copyUp(ctx, oldVirtual); err != nil {
			return err
		}
	}
	return m.scratch.Rename(oldVirtual, newVirtual)
}

// HasChanges reports whether the editable layer holds any changes.
func (m *Mount) HasChanges() bool {
	return m.scratch != nil && m.scratch.HasChanges()
}

// Close releases all outstanding handles and the scratch layer.
func (m *Mount) Close() {
	m.handleMu.Lock()
	for id, h := range m.handles {
		if err := h.close(); err != nil {
			logrus.WithError(err).Debug("closing leftover handle")
		}
		delete(m.handles, id)
	}
	m.handleMu.Unlock()
	if m.scratch != nil {
		m.scratch.Close()
	}
}

func (m *Mount) registerHandle(h handle) uint64 {
	m.handleMu.Lock()
	defer m.handleMu.Unlock()
	m.nextHandle++
	id := m.nextHandle
	m.handles[id] = h
	return id
}

func (m *Mount) getHandle(id uint64) (handle, bool) {
	m.handleMu.Lock()
	defer m.handleMu.Unlock()
	h, ok := m.handles[id]
	return h, ok
}

// handle is one kernel-held reference into a mount.
type handle interface {
	readAt(offset int64, size int) ([]byte, error)
	close() error
}

// fileHandle wraps a seekable host file: a local payload or a scratch
// copy.
type fileHandle struct {
	fp       *os.File
	attr     Attr
	writable bool
}

func (h *fileHandle) readAt(offset int64, size int) ([]byte, error) {
	buf := make([]byte, size)
	n, err := h.fp.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

func (h *fileHandle) close() error { return h.fp.Close() }

// streamHandle wraps a sequential payload stream. It maintains the
// current offset; reads must be sequential.
type streamHandle struct {
	rc   io.ReadCloser
	attr Attr

	mu     sync.Mutex
	offset int64
}

func (h *streamHandle) readAt(offset int64, size int) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if offset != h.offset {
		return nil, ErrSeekNotSupported
	}
	buf := make([]byte, size)
	n, err := io.ReadFull(h.rc, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	h.offset += int64(n)
	return buf[:n], nil
}

func (h *streamHandle) close() error { return h.rc.Close() }

// dirHandle marks an open directory.
type dirHandle struct {
	mount *Mount
	path  string
}

func (h *dirHandle) readAt(int64, int) ([]byte, error) { return nil, ErrIsDirectory }
func (h *dirHandle) close() error                      { return nil }
