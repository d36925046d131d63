package graph

import (
	"context"
	"fmt"

	"github.com/opencontainers/go-digest"
)

// Putter writes objects into a store, returning the digest that
// identifies each written object.
type Putter interface {
	WriteObject(ctx context.Context, obj Object) (digest.Digest, error)
}

// Getter reads back objects previously written to a store.
type Getter interface {
	ReadObject(ctx context.Context, dgst digest.Digest) (Object, error)
}

// CommitEnvManifest writes the given environment manifest into the store
// as a graph of Tree objects under a single Manifest object, leaves first.
// The returned digest identifies the Manifest.
func CommitEnvManifest(ctx context.Context, store Putter, manifest *EnvManifest) (digest.Digest, error) {
	root, err := commitTree(ctx, store, manifest.Root())
	if err != nil {
		return "", err
	}
	return store.WriteObject(ctx, &Manifest{
		Root:      root,
		PathCount: manifest.PathCount(),
	})
}

func commitTree(ctx context.Context, store Putter, dir *Entry) (digest.Digest, error) {
	tree := &Tree{}
	for _, name := range dir.EntryNames() {
		child := dir.Entries[name]
		entry := TreeEntry{
			Name: name,
			Kind: child.Kind,
			Mode: child.Mode,
			Size: child.Size,
		}
		switch child.Kind {
		case EntryKindTree:
			sub, err := commitTree(ctx, store, child)
			if err != nil {
				return "", err
			}
			entry.Object = sub
		case EntryKindBlob:
			entry.Object = child.Object
		case EntryKindMask:
			// masks carry no object
		}
		tree.Entries = append(tree.Entries, entry)
	}
	return store.WriteObject(ctx, tree)
}

// UnrollManifest reads a stored Manifest back into a full environment
// manifest by resolving every tree it references.
func UnrollManifest(ctx context.Context, store Getter, dgst digest.Digest) (*EnvManifest, error) {
	obj, err := store.ReadObject(ctx, dgst)
	if err != nil {
		return nil, err
	}
	manifest, ok := obj.(*Manifest)
	if !ok {
		return nil, fmt.Errorf("object %s is a %s, not a manifest", dgst, obj.Kind())
	}
	root, err := unrollTree(ctx, store, manifest.Root)
	if err != nil {
		return nil, err
	}
	return EnvManifestFromRoot(root), nil
}

func unrollTree(ctx context.Context, store Getter, dgst digest.Digest) (*Entry, error) {
	obj, err := store.ReadObject(ctx, dgst)
	if err != nil {
		return nil, err
	}
	tree, ok := obj.(*Tree)
	if !ok {
		return nil, fmt.Errorf("object %s is a %s, not a tree", dgst, obj.Kind())
	}
	dir := NewDirEntry()
	for _, stored := range tree.Entries {
		entry := &Entry{
			Kind:   stored.Kind,
			Mode:   stored.Mode,
			Size:   stored.Size,
			Object: stored.Object,
		}
		if stored.Kind == EntryKindTree {
			sub, err := unrollTree(ctx, store, stored.Object)
			if err != nil {
				return nil, err
			}
			entry = sub
			entry.Mode = stored.Mode
		}
		dir.Entries[stored.Name] = entry
	}
	return dir, nil
}

// UnrollRef resolves any object reference down to an environment manifest:
// a platform unrolls each layer in stack order, a layer unrolls its
// manifest, and a manifest unrolls directly.
func UnrollRef(ctx context.Context, store Getter, dgst digest.Digest) (*EnvManifest, error) {
	obj, err := store.ReadObject(ctx, dgst)
	if err != nil {
		return nil, err
	}
	switch typed := obj.(type) {
	case *Platform:
		merged := NewEnvManifest()
		for _, layerDigest := range typed.Stack {
			layerManifest, err := UnrollRef(ctx, store, layerDigest)
			if err != nil {
				return nil, err
			}
			merged.Overlay(layerManifest)
		}
		return merged, nil
	case *Layer:
		return UnrollManifest(ctx, store, typed.Manifest)
	case *Manifest:
		return UnrollManifest(ctx, store, dgst)
	default:
		return nil, fmt.Errorf("object %s is a %s and has no manifest", dgst, obj.Kind())
	}
}
