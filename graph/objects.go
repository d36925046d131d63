package graph

import (
	"encoding/json"
	"fmt"

	"github.com/opencontainers/go-digest"
)

// Kind identifies the type of a stored content object.
type Kind string

const (
	KindBlob     Kind = "blob"
	KindTree     Kind = "tree"
	KindManifest Kind = "manifest"
	KindLayer    Kind = "layer"
	KindPlatform Kind = "platform"
)

// Object is a node in the content DAG. Objects are immutable and identified
// by the digest of their canonical encoding. A parent object's encoding only
// ever references digests of objects written before it.
type Object interface {
	// Kind returns the node kind of this object.
	Kind() Kind

	// ChildObjects returns the digests of all objects that this
	// object references directly.
	ChildObjects() []digest.Digest
}

// Encode returns the canonical encoding for the given object. The encoding
// is deterministic: field order is fixed and map keys are sorted.
func Encode(obj Object) ([]byte, error) {
	env := envelope{Kind: obj.Kind()}
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encoding %s object: %w", obj.Kind(), err)
	}
	env.Data = data
	return json.Marshal(env)
}

// DigestOf computes the identity of the given object from its canonical
// encoding.
func DigestOf(obj Object) (digest.Digest, error) {
	encoded, err := Encode(obj)
	if err != nil {
		return "", err
	}
	return digest.FromBytes(encoded), nil
}

// Decode reads back an object written by Encode.
func Decode(data []byte) (Object, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding object envelope: %w", err)
	}
	var obj Object
	switch env.Kind {
	case KindBlob:
		obj = &Blob{}
	case KindTree:
		obj = &Tree{}
	case KindManifest:
		obj = &Manifest{}
	case KindLayer:
		obj = &Layer{}
	case KindPlatform:
		obj = &Platform{}
	default:
		return nil, fmt.Errorf("decoding object: unknown kind %q", env.Kind)
	}
	if err := json.Unmarshal(env.Data, obj); err != nil {
		return nil, fmt.Errorf("decoding %s object: %w", env.Kind, err)
	}
	return obj, nil
}

type envelope struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Blob is an immutable byte payload. The payload itself is stored
// separately, addressed by its own digest.
type Blob struct {
	Payload digest.Digest `json:"payload"`
	Size    int64         `json:"size"`
}

func (b *Blob) Kind() Kind { return KindBlob }

func (b *Blob) ChildObjects() []digest.Digest { return nil }

// TreeEntry is a single named entry in a Tree.
type TreeEntry struct {
	Name   string        `json:"name"`
	Kind   EntryKind     `json:"kind"`
	Mode   uint32        `json:"mode"`
	Size   int64         `json:"size"`
	Object digest.Digest `json:"object"`
}

// Tree is an ordered container of named entries pointing at blobs and
// other trees. Entries are kept sorted by name so that the encoding is
// canonical.
type Tree struct {
	Entries []TreeEntry `json:"entries"`
}

func (t *Tree) Kind() Kind { return KindTree }

func (t *Tree) ChildObjects() []digest.Digest {
	children := make([]digest.Digest, 0, len(t.Entries))
	for _, entry := range t.Entries {
		if entry.Kind == EntryKindMask {
			continue
		}
		children = append(children, entry.Object)
	}
	return children
}

// Get returns the named entry, if present.
func (t *Tree) Get(name string) (TreeEntry, bool) {
	for _, entry := range t.Entries {
		if entry.Name == name {
			return entry, true
		}
	}
	return TreeEntry{}, false
}

// Manifest is a fully resolved filesystem tree rooted at a single Tree
// object, along with index metadata about the tree's contents.
type Manifest struct {
	Root      digest.Digest `json:"root"`
	PathCount int64         `json:"paths"`
}

func (m *Manifest) Kind() Kind { return KindManifest }

func (m *Manifest) ChildObjects() []digest.Digest {
	return []digest.Digest{m.Root}
}

// Layer is a manifest with optional annotations, usable as one element of
// a platform stack.
type Layer struct {
	Manifest    digest.Digest     `json:"manifest"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

func (l *Layer) Kind() Kind { return KindLayer }

func (l *Layer) ChildObjects() []digest.Digest {
	return []digest.Digest{l.Manifest}
}

// Platform is an ordered stack of layers. Later layers in the stack are
// applied on top of earlier ones.
type Platform struct {
	Stack []digest.Digest `json:"stack"`
}

func (p *Platform) Kind() Kind { return KindPlatform }

func (p *Platform) ChildObjects() []digest.Digest {
	stack := make([]digest.Digest, len(p.Stack))
	copy(stack, p.Stack)
	return stack
}
