package graph

import (
	"sort"
	"strings"

	"github.com/opencontainers/go-digest"
)

// EntryKind identifies what a manifest entry points at.
type EntryKind string

const (
	// EntryKindTree is a directory entry.
	EntryKindTree EntryKind = "tree"
	// EntryKindBlob is a file or symlink entry.
	EntryKindBlob EntryKind = "blob"
	// EntryKindMask marks an entry as deleted in an overlaid layer.
	EntryKindMask EntryKind = "mask"
)

// Unix-style mode bits used for entries. Manifests store the full mode so
// a presented filesystem can faithfully reproduce file types.
const (
	ModeRegular uint32 = 0o100000
	ModeSymlink uint32 = 0o120000
	ModeDir     uint32 = 0o040000

	modeTypeMask uint32 = 0o170000
)

// Entry is one node of an unrolled environment manifest. Directory entries
// hold their children directly; file entries reference the blob holding
// their content.
type Entry struct {
	Kind    EntryKind
	Mode    uint32
	Size    int64
	Object  digest.Digest
	Entries map[string]*Entry
}

// NewDirEntry creates an empty directory entry.
func NewDirEntry() *Entry {
	return &Entry{
		Kind:    EntryKindTree,
		Mode:    ModeDir | 0o555,
		Entries: map[string]*Entry{},
	}
}

// IsDir reports whether this entry is a directory.
func (e *Entry) IsDir() bool {
	return e.Kind == EntryKindTree
}

// IsSymlink reports whether this entry is a symbolic link.
func (e *Entry) IsSymlink() bool {
	return e.Kind == EntryKindBlob && e.Mode&modeTypeMask == ModeSymlink
}

// IsMask reports whether this entry masks out a lower-layer path.
func (e *Entry) IsMask() bool {
	return e.Kind == EntryKindMask
}

// EntryNames returns the child entry names in sorted order.
func (e *Entry) EntryNames() []string {
	names := make([]string, 0, len(e.Entries))
	for name := range e.Entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DeepCopy returns a full copy of this entry and all of its children.
func (e *Entry) DeepCopy() *Entry {
	cp := &Entry{
		Kind:   e.Kind,
		Mode:   e.Mode,
		Size:   e.Size,
		Object: e.Object,
	}
	if e.Entries != nil {
		cp.Entries = make(map[string]*Entry, len(e.Entries))
		for name, child := range e.Entries {
			cp.Entries[name] = child.DeepCopy()
		}
	}
	return cp
}

// EnvManifest is a fully unrolled filesystem tree for an environment,
// as presented by a mount. The zero value is not usable; use
// NewEnvManifest.
type EnvManifest struct {
	root *Entry
}

// NewEnvManifest creates an empty environment manifest.
func NewEnvManifest() *EnvManifest {
	return &EnvManifest{root: NewDirEntry()}
}

// EnvManifestFromRoot wraps an existing entry tree.
func EnvManifestFromRoot(root *Entry) *EnvManifest {
	if root == nil {
		root = NewDirEntry()
	}
	return &EnvManifest{root: root}
}

// Root returns the root directory entry of this manifest.
func (m *EnvManifest) Root() *Entry {
	return m.root
}

// Find walks the given slash-separated path and returns the entry there,
// or nil when the path does not exist or crosses a non-directory.
func (m *EnvManifest) Find(path string) *Entry {
	entry := m.root
	for _, step := range splitPath(path) {
		if !entry.IsDir() {
			return nil
		}
		child, ok := entry.Entries[step]
		if !ok {
			return nil
		}
		entry = child
	}
	return entry
}

// Mkdirs ensures that every directory along the given path exists,
// returning the final directory entry.
func (m *EnvManifest) Mkdirs(path string) *Entry {
	entry := m.root
	for _, step := range splitPath(path) {
		child, ok := entry.Entries[step]
		if !ok || !child.IsDir() {
			child = NewDirEntry()
			entry.Entries[step] = child
		}
		entry = child
	}
	return entry
}

// Put places the given entry at path, creating parent directories as
// needed.
func (m *EnvManifest) Put(path string, entry *Entry) {
	clean := splitPath(path)
	if len(clean) == 0 {
		return
	}
	dir := m.Mkdirs(strings.Join(clean[:len(clean)-1], "/"))
	dir.Entries[clean[len(clean)-1]] = entry
}

// Walk visits every entry in the manifest in depth-first, name-sorted
// order. The root is visited with an empty path.
func (m *EnvManifest) Walk(fn func(path string, entry *Entry)) {
	walkEntry("", m.root, fn)
}

// PathCount returns the number of entries in this manifest, excluding
// the root.
func (m *EnvManifest) PathCount() int64 {
	var count int64
	m.Walk(func(path string, entry *Entry) {
		if path != "" {
			count++
		}
	})
	return count
}

func walkEntry(path string, entry *Entry, fn func(string, *Entry)) {
	fn(path, entry)
	if !entry.IsDir() {
		return
	}
	for _, name := range entry.EntryNames() {
		childPath := name
		if path != "" {
			childPath = path + "/" + name
		}
		walkEntry(childPath, entry.Entries[name], fn)
	}
}

// Overlay applies the upper manifest onto this one in place. Upper entries
// replace lower ones and mask entries remove them.
func (m *EnvManifest) Overlay(upper *EnvManifest) {
	overlayEntry(m.root, upper.root)
}

func overlayEntry(lower, upper *Entry) {
	for name, upperChild := range upper.Entries {
		if upperChild.IsMask() {
			delete(lower.Entries, name)
			continue
		}
		lowerChild, ok := lower.Entries[name]
		if ok && lowerChild.IsDir() && upperChild.IsDir() {
			overlayEntry(lowerChild, upperChild)
			continue
		}
		lower.Entries[name] = upperChild.DeepCopy()
	}
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
