package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/opencontainers/go-digest"

	"github.com/pakfs/pakfs/graph"
	"github.com/pakfs/pakfs/internal/dcontext"
)

// Publisher writes new object graphs into a store while honoring the
// ordering contract that keeps a concurrent cleaner from removing them:
//
//  1. stage every object about to be introduced,
//  2. write leaf objects before their parents,
//  3. write or move the tag onto the new root,
//  4. release the staging entries.
//
// A partially written graph is harmless: no tag points at it and the
// staging entries keep it alive until the write is retried.
type Publisher struct {
	store *Store
	// MaxRetries bounds the per-object write retries.
	MaxRetries uint64
}

// NewPublisher creates a publisher over the given store.
func NewPublisher(store *Store) *Publisher {
	return &Publisher{store: store, MaxRetries: 3}
}

// PublishGraph writes the given objects, ordered leaves first, and then
// points the named tag at the root (the final object in the slice). It
// returns the digest of the root object.
func (p *Publisher) PublishGraph(ctx context.Context, tag string, objects []graph.Object) (digest.Digest, error) {
	if len(objects) == 0 {
		return "", fmt.Errorf("nothing to publish for tag %q", tag)
	}
	logger := dcontext.GetLogger(ctx)

	digests := make([]digest.Digest, len(objects))
	for i, obj := range objects {
		dgst, err := graph.DigestOf(obj)
		if err != nil {
			return "", err
		}
		digests[i] = dgst
	}

	// stage the whole graph before writing any of it
	for _, dgst := range digests {
		if err := p.store.Stage(ctx, dgst); err != nil {
			return "", fmt.Errorf("staging %s: %w", dgst, err)
		}
	}
	defer func() {
		for _, dgst := range digests {
			if err := p.store.Unstage(ctx, dgst); err != nil {
				logger.Warnf("failed to release staging entry %s: %v", dgst, err)
			}
		}
	}()

	for i, obj := range objects {
		if err := p.writeWithRetry(ctx, obj); err != nil {
			return "", fmt.Errorf("writing object %s: %w", digests[i], err)
		}
	}

	root := digests[len(digests)-1]
	if err := p.store.SetTag(ctx, tag, root); err != nil {
		return "", err
	}
	return root, nil
}

func (p *Publisher) writeWithRetry(ctx context.Context, obj graph.Object) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(10*time.Millisecond),
		), p.MaxRetries),
		ctx)
	attempts := 0
	return backoff.Retry(func() error {
		attempts++
		if attempts > 1 {
			publishRetries.Inc()
		}
		_, err := p.store.WriteObject(ctx, obj)
		return err
	}, policy)
}
