package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/opencontainers/go-digest"

	"github.com/pakfs/pakfs"
	"github.com/pakfs/pakfs/graph"
	storagedriver "github.com/pakfs/pakfs/storage/driver"
)

// Store is a content-addressed object store over a storage driver. It
// implements the object, tag, staging and payload services consumed by
// the solver, the cleaner and the filesystem router.
type Store struct {
	name   string
	driver storagedriver.StorageDriver

	// stagingMu serializes staging-set changes against the cleaner's
	// sweep phase: writers block in Stage while a sweep holds the lock.
	stagingMu sync.Mutex
}

var (
	_ pakfs.ObjectStore  = &Store{}
	_ pakfs.TagService   = &Store{}
	_ pakfs.StagingSet   = &Store{}
	_ pakfs.PayloadStore = &Store{}
)

// NewStore creates a store with the given name over the given driver.
func NewStore(name string, driver storagedriver.StorageDriver) *Store {
	return &Store{name: name, driver: driver}
}

// Name identifies this store within a repository set.
func (s *Store) Name() string { return s.name }

// Driver exposes the underlying storage driver.
func (s *Store) Driver() storagedriver.StorageDriver { return s.driver }

// ReadObject reads and decodes the identified object.
func (s *Store) ReadObject(ctx context.Context, dgst digest.Digest) (graph.Object, error) {
	content, err := s.driver.GetContent(ctx, objectPath(dgst))
	if err != nil {
		if isPathNotFound(err) {
			return nil, pakfs.ErrObjectUnknown{Digest: dgst}
		}
		return nil, fmt.Errorf("reading object %s: %w", dgst, err)
	}
	if verify := digest.FromBytes(content); verify != dgst {
		return nil, pakfs.ErrCorruption{Digest: dgst, Reason: fmt.Sprintf("content digests to %s", verify)}
	}
	return graph.Decode(content)
}

// WriteObject encodes and stores the given object, returning its digest.
// Writing an already-present object is a no-op.
func (s *Store) WriteObject(ctx context.Context, obj graph.Object) (digest.Digest, error) {
	encoded, err := graph.Encode(obj)
	if err != nil {
		return "", err
	}
	dgst := digest.FromBytes(encoded)
	if err := s.driver.PutContent(ctx, objectPath(dgst), encoded); err != nil {
		return "", fmt.Errorf("writing object %s: %w", dgst, err)
	}
	return dgst, nil
}

// HasObject reports whether the identified object is present.
func (s *Store) HasObject(ctx context.Context, dgst digest.Digest) bool {
	_, err := s.driver.Stat(ctx, objectPath(dgst))
	return err == nil
}

// ListObjects returns the digests of every stored object.
func (s *Store) ListObjects(ctx context.Context) ([]digest.Digest, error) {
	var digests []digest.Digest
	algorithms, err := s.driver.List(ctx, objectsPrefix)
	if err != nil {
		if isPathNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	for _, algorithmPath := range algorithms {
		prefixes, err := s.driver.List(ctx, algorithmPath)
		if err != nil {
			return nil, err
		}
		for _, prefixPath := range prefixes {
			entries, err := s.driver.List(ctx, prefixPath)
			if err != nil {
				return nil, err
			}
			for _, entry := range entries {
				dgst := digest.NewDigestFromHex(path.Base(algorithmPath), path.Base(entry))
				if err := dgst.Validate(); err != nil {
					continue
				}
				digests = append(digests, dgst)
			}
		}
	}
	return digests, nil
}

// DeleteObject removes the identified object from the store.
func (s *Store) DeleteObject(ctx context.Context, dgst digest.Digest) error {
	if err := s.driver.Delete(ctx, objectPath(dgst)); err != nil {
		if isPathNotFound(err) {
			return pakfs.ErrObjectUnknown{Digest: dgst}
		}
		return fmt.Errorf("deleting object %s: %w", dgst, err)
	}
	return nil
}

// ListTags returns all current tags.
func (s *Store) ListTags(ctx context.Context) ([]pakfs.Tag, error) {
	var tags []pakfs.Tag
	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := s.driver.List(ctx, dir)
		if err != nil {
			if isPathNotFound(err) {
				return nil
			}
			return err
		}
		for _, entry := range entries {
			info, err := s.driver.Stat(ctx, entry)
			if err != nil {
				return err
			}
			if info.IsDir() {
				if err := walk(entry); err != nil {
					return err
				}
				continue
			}
			name := strings.TrimPrefix(entry, tagsPrefix+"/")
			target, err := s.ResolveTag(ctx, name)
			if err != nil {
				// the tag may have been deleted mid-walk
				if pakfs.IsNotFound(err) {
					continue
				}
				return err
			}
			tags = append(tags, pakfs.Tag{Name: name, Target: target})
		}
		return nil
	}
	if err := walk(tagsPrefix); err != nil {
		return nil, err
	}
	return tags, nil
}

// ResolveTag returns the digest the named tag points at.
func (s *Store) ResolveTag(ctx context.Context, name string) (digest.Digest, error) {
	content, err := s.driver.GetContent(ctx, tagPath(name))
	if err != nil {
		if isPathNotFound(err) {
			return "", pakfs.ErrTagUnknown{Name: name}
		}
		return "", fmt.Errorf("resolving tag %s: %w", name, err)
	}
	dgst, err := digest.Parse(strings.TrimSpace(string(content)))
	if err != nil {
		return "", pakfs.ErrCorruption{Reason: fmt.Sprintf("tag %s holds invalid digest: %v", name, err)}
	}
	return dgst, nil
}

// SetTag points the named tag at the given digest.
func (s *Store) SetTag(ctx context.Context, name string, target digest.Digest) error {
	if err := s.driver.PutContent(ctx, tagPath(name), []byte(target.String())); err != nil {
		return fmt.Errorf("setting tag %s: %w", name, err)
	}
	return nil
}

// DeleteTag removes the named tag.
func (s *Store) DeleteTag(ctx context.Context, name string) error {
	if err := s.driver.Delete(ctx, tagPath(name)); err != nil {
		if isPathNotFound(err) {
			return pakfs.ErrTagUnknown{Name: name}
		}
		return fmt.Errorf("deleting tag %s: %w", name, err)
	}
	return nil
}

// Stage adds the digest to the staging set, protecting it (and anything
// it will reference) from a concurrent clean. Stage blocks while a
// cleaner sweep is in progress.
func (s *Store) Stage(ctx context.Context, dgst digest.Digest) error {
	s.stagingMu.Lock()
	defer s.stagingMu.Unlock()
	return s.driver.PutContent(ctx, stagingPath(dgst), []byte{})
}

// Unstage removes the digest from the staging set. Unstaging an absent
// digest is not an error.
func (s *Store) Unstage(ctx context.Context, dgst digest.Digest) error {
	s.stagingMu.Lock()
	defer s.stagingMu.Unlock()
	err := s.driver.Delete(ctx, stagingPath(dgst))
	if err != nil && !isPathNotFound(err) {
		return err
	}
	return nil
}

// lockStaging holds the staging set still for a cleaner sweep. The
// returned function releases it.
func (s *Store) lockStaging() func() {
	s.stagingMu.Lock()
	return s.stagingMu.Unlock
}

// ListStaged returns the current staging set.
func (s *Store) ListStaged(ctx context.Context) ([]digest.Digest, error) {
	entries, err := s.driver.List(ctx, stagingPrefix)
	if err != nil {
		if isPathNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var staged []digest.Digest
	for _, entry := range entries {
		dgst, err := digestFromStagingName(path.Base(entry))
		if err != nil {
			continue
		}
		staged = append(staged, dgst)
	}
	return staged, nil
}

// WritePayload stores the stream contents, returning their digest and
// size.
func (s *Store) WritePayload(ctx context.Context, reader io.Reader) (digest.Digest, int64, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return "", 0, err
	}
	dgst := digest.FromBytes(content)
	if err := s.driver.PutContent(ctx, payloadPath(dgst), content); err != nil {
		return "", 0, fmt.Errorf("writing payload %s: %w", dgst, err)
	}
	return dgst, int64(len(content)), nil
}

// OpenPayload opens the identified payload for sequential reading.
func (s *Store) OpenPayload(ctx context.Context, dgst digest.Digest) (io.ReadCloser, error) {
	rc, err := s.driver.Reader(ctx, payloadPath(dgst), 0)
	if err != nil {
		if isPathNotFound(err) {
			return nil, pakfs.ErrPayloadUnknown{Digest: dgst}
		}
		return nil, fmt.Errorf("opening payload %s: %w", dgst, err)
	}
	return rc, nil
}

// HasPayload reports whether the payload is present.
func (s *Store) HasPayload(ctx context.Context, dgst digest.Digest) bool {
	_, err := s.driver.Stat(ctx, payloadPath(dgst))
	return err == nil
}

// LocalPayloadPath exposes the host path of a payload for filesystem
// backed stores.
func (s *Store) LocalPayloadPath(ctx context.Context, dgst digest.Digest) (string, bool) {
	type localPather interface {
		LocalPath(subPath string) string
	}
	if local, ok := s.driver.(localPather); ok && s.HasPayload(ctx, dgst) {
		return local.LocalPath(payloadPath(dgst)), true
	}
	return "", false
}

// DeletePayload removes the identified payload.
func (s *Store) DeletePayload(ctx context.Context, dgst digest.Digest) error {
	if err := s.driver.Delete(ctx, payloadPath(dgst)); err != nil {
		if isPathNotFound(err) {
			return pakfs.ErrPayloadUnknown{Digest: dgst}
		}
		return err
	}
	return nil
}

// ReadRef resolves a tag name or digest string to its object.
func (s *Store) ReadRef(ctx context.Context, ref string) (graph.Object, error) {
	if dgst, err := digest.Parse(ref); err == nil {
		return s.ReadObject(ctx, dgst)
	}
	target, err := s.ResolveTag(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.ReadObject(ctx, target)
}

func isPathNotFound(err error) bool {
	var pathNotFound storagedriver.PathNotFoundError
	return errors.As(err, &pathNotFound)
}
