package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"

	"github.com/pakfs/pakfs"
	"github.com/pakfs/pakfs/graph"
	"github.com/pakfs/pakfs/internal/dcontext"
)

// CleanOpts contains options for the garbage collector.
type CleanOpts struct {
	DryRun         bool
	MaxConcurrency int // default: 4
	// CheckHierarchy re-verifies after every deletion batch that no
	// surviving object references a deleted child. Intended for tests
	// and debug runs; it rescans the store each batch.
	CheckHierarchy bool
}

// CleanStats contains statistics about one garbage collection run.
type CleanStats struct {
	ObjectsScanned    int
	TagsScanned       int
	StagedScanned     int
	Candidates        int
	ObjectsRemoved    int
	PayloadsRemoved   int
	AlreadyRemoved    int
	SkippedStaged     int
	SkippedRetagged   int
	MarkDuration      time.Duration
	SweepDuration     time.Duration
	TotalDuration     time.Duration
	PayloadBytesFreed int64
}

// Clean removes every object that is reachable from no tag and not
// covered by the staging set, then removes payloads no surviving blob
// references.
//
// Concurrency strategy: the mark phase runs lock-free over snapshots of
// the objects, tags and staging set. The sweep phase then acquires the
// staging lock and holds it across a second tag snapshot, a staging-set
// re-read, and every deletion. Writers that follow the publishing order
// enforced by Publisher (stage, write leaves first, write the tag,
// unstage) therefore cannot lose data: a writer mid-publish is visible
// through its staging entries, a finished writer through its tag, and a
// writer that has not started yet blocks in Stage until the sweep ends
// and then re-creates whatever it needs. Deletions proceed parent-first
// so that no surviving object is ever left referencing a missing child.
func Clean(ctx context.Context, store *Store, opts CleanOpts) (*CleanStats, error) {
	if opts.MaxConcurrency == 0 {
		opts.MaxConcurrency = 4
	}
	logger := dcontext.GetLogger(ctx)
	stats := &CleanStats{}
	start := time.Now()
	defer func() {
		stats.TotalDuration = time.Since(start)
	}()

	cleanRuns.Inc()

	// Mark phase: everything reachable from a tag or staging entry.
	markStart := time.Now()
	objects, err := store.ListObjects(ctx)
	if err != nil {
		return stats, fmt.Errorf("enumerating objects: %w", err)
	}
	stats.ObjectsScanned = len(objects)

	tags, err := store.ListTags(ctx)
	if err != nil {
		return stats, fmt.Errorf("enumerating tags: %w", err)
	}
	stats.TagsScanned = len(tags)

	staged, err := store.ListStaged(ctx)
	if err != nil {
		return stats, fmt.Errorf("enumerating staging set: %w", err)
	}
	stats.StagedScanned = len(staged)

	reachable := map[digest.Digest]struct{}{}
	for _, tag := range tags {
		if err := markReferences(ctx, store, tag.Target, reachable); err != nil {
			return stats, err
		}
	}
	stagedSet := map[digest.Digest]struct{}{}
	for _, dgst := range staged {
		stagedSet[dgst] = struct{}{}
		if err := markReferences(ctx, store, dgst, reachable); err != nil {
			return stats, err
		}
	}

	var candidates []digest.Digest
	for _, dgst := range objects {
		if _, ok := stagedSet[dgst]; ok {
			stats.SkippedStaged++
			continue
		}
		if _, ok := reachable[dgst]; ok {
			continue
		}
		candidates = append(candidates, dgst)
	}

	stats.MarkDuration = time.Since(markStart)
	logger.Infof("clean: mark complete: objects=%d tags=%d staged=%d candidates=%d duration=%v",
		stats.ObjectsScanned, stats.TagsScanned, stats.StagedScanned, len(candidates), stats.MarkDuration)

	// Sweep phase. The staging lock is held from before the second tag
	// snapshot until the last deletion; writers block in Stage for the
	// duration.
	sweepStart := time.Now()
	unlock := store.lockStaging()
	defer unlock()

	secondTags, err := store.ListTags(ctx)
	if err != nil {
		return stats, fmt.Errorf("re-enumerating tags: %w", err)
	}
	secondReachable := map[digest.Digest]struct{}{}
	for _, tag := range secondTags {
		if err := markReferences(ctx, store, tag.Target, secondReachable); err != nil {
			return stats, err
		}
	}
	stagedNow, err := store.ListStaged(ctx)
	if err != nil {
		return stats, err
	}
	stagedNowSet := map[digest.Digest]struct{}{}
	for _, dgst := range stagedNow {
		stagedNowSet[dgst] = struct{}{}
		if err := markReferences(ctx, store, dgst, secondReachable); err != nil {
			return stats, err
		}
	}

	doomed := candidates[:0]
	for _, dgst := range candidates {
		if _, ok := stagedNowSet[dgst]; ok {
			stats.SkippedStaged++
			continue
		}
		if _, ok := secondReachable[dgst]; ok {
			stats.SkippedRetagged++
			continue
		}
		doomed = append(doomed, dgst)
	}
	stats.Candidates = len(doomed)

	if opts.DryRun {
		for _, dgst := range doomed {
			logger.Debugf("clean: object eligible for removal: %s", dgst)
		}
		return stats, nil
	}

	if err := sweepObjects(ctx, store, doomed, opts, stats); err != nil {
		return stats, err
	}
	if err := sweepPayloads(ctx, store, opts, stats); err != nil {
		return stats, err
	}
	stats.SweepDuration = time.Since(sweepStart)
	objectsRemoved.Add(float64(stats.ObjectsRemoved))

	logger.Infof("clean: sweep complete: objects_removed=%d payloads_removed=%d bytes_freed=%d duration=%v",
		stats.ObjectsRemoved, stats.PayloadsRemoved, stats.PayloadBytesFreed, stats.SweepDuration)
	return stats, nil
}

// markReferences walks the object graph from dgst, adding every object
// it can reach to the given set. Missing objects are ignored: a tag or
// staging entry may momentarily point at an object that is still being
// written.
func markReferences(ctx context.Context, store *Store, dgst digest.Digest, marked map[digest.Digest]struct{}) error {
	if _, ok := marked[dgst]; ok {
		return nil
	}
	obj, err := store.ReadObject(ctx, dgst)
	if err != nil {
		if pakfs.IsNotFound(err) {
			return nil
		}
		return err
	}
	marked[dgst] = struct{}{}
	for _, child := range obj.ChildObjects() {
		if err := markReferences(ctx, store, child, marked); err != nil {
			return err
		}
	}
	return nil
}

// sweepObjects deletes the doomed set in topological batches: an object
// is only deleted once every doomed object referencing it is gone.
func sweepObjects(ctx context.Context, store *Store, doomed []digest.Digest, opts CleanOpts, stats *CleanStats) error {
	doomedSet := map[digest.Digest]struct{}{}
	for _, dgst := range doomed {
		doomedSet[dgst] = struct{}{}
	}

	// count, for each doomed object, the doomed parents referencing it
	referrers := map[digest.Digest]int{}
	children := map[digest.Digest][]digest.Digest{}
	for _, dgst := range doomed {
		obj, err := store.ReadObject(ctx, dgst)
		if err != nil {
			if pakfs.IsNotFound(err) {
				stats.AlreadyRemoved++
				delete(doomedSet, dgst)
				continue
			}
			return err
		}
		for _, child := range obj.ChildObjects() {
			if _, ok := doomedSet[child]; !ok {
				continue
			}
			referrers[child]++
			children[dgst] = append(children[dgst], child)
		}
	}

	remaining := doomedSet
	var mu sync.Mutex
	for len(remaining) > 0 {
		var batch []digest.Digest
		for dgst := range remaining {
			if referrers[dgst] == 0 {
				batch = append(batch, dgst)
			}
		}
		if len(batch) == 0 {
			// only possible if the "DAG" has a cycle, which the digest
			// construction rules out
			return pakfs.ErrCorruption{Reason: "reference cycle detected among clean candidates"}
		}

		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(opts.MaxConcurrency)
		for _, dgst := range batch {
			dgst := dgst
			group.Go(func() error {
				err := store.DeleteObject(groupCtx, dgst)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					if pakfs.IsNotFound(err) {
						stats.AlreadyRemoved++
						return nil
					}
					return fmt.Errorf("removing object %s: %w", dgst, err)
				}
				stats.ObjectsRemoved++
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return err
		}
		for _, dgst := range batch {
			delete(remaining, dgst)
			for _, child := range children[dgst] {
				referrers[child]--
			}
		}

		if opts.CheckHierarchy {
			if err := verifyHierarchy(ctx, store); err != nil {
				return err
			}
		}
	}
	return nil
}

// sweepPayloads removes payloads that no surviving blob references.
func sweepPayloads(ctx context.Context, store *Store, opts CleanOpts, stats *CleanStats) error {
	survivors, err := store.ListObjects(ctx)
	if err != nil {
		return err
	}
	wanted := map[digest.Digest]struct{}{}
	for _, dgst := range survivors {
		obj, err := store.ReadObject(ctx, dgst)
		if err != nil {
			if pakfs.IsNotFound(err) {
				continue
			}
			return err
		}
		if blob, ok := obj.(*graph.Blob); ok {
			wanted[blob.Payload] = struct{}{}
		}
	}

	payloads, err := listPayloads(ctx, store)
	if err != nil {
		return err
	}
	for _, dgst := range payloads {
		if _, ok := wanted[dgst]; ok {
			continue
		}
		info, err := store.driver.Stat(ctx, payloadPath(dgst))
		if err == nil {
			stats.PayloadBytesFreed += info.Size()
		}
		if err := store.DeletePayload(ctx, dgst); err != nil {
			if pakfs.IsNotFound(err) {
				continue
			}
			return err
		}
		stats.PayloadsRemoved++
	}
	return nil
}

func listPayloads(ctx context.Context, store *Store) ([]digest.Digest, error) {
	var digests []digest.Digest
	algorithms, err := store.driver.List(ctx, payloadsPrefix)
	if err != nil {
		if isPathNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	for _, algorithmPath := range algorithms {
		prefixes, err := store.driver.List(ctx, algorithmPath)
		if err != nil {
			return nil, err
		}
		for _, prefixPath := range prefixes {
			entries, err := store.driver.List(ctx, prefixPath)
			if err != nil {
				return nil, err
			}
			for _, entry := range entries {
				dgst := digest.NewDigestFromHex(pathBase(algorithmPath), pathBase(entry))
				if err := dgst.Validate(); err != nil {
					continue
				}
				digests = append(digests, dgst)
			}
		}
	}
	return digests, nil
}

// verifyHierarchy asserts that every surviving object's children exist.
func verifyHierarchy(ctx context.Context, store *Store) error {
	objects, err := store.ListObjects(ctx)
	if err != nil {
		return err
	}
	present := map[digest.Digest]struct{}{}
	for _, dgst := range objects {
		present[dgst] = struct{}{}
	}
	for _, dgst := range objects {
		obj, err := store.ReadObject(ctx, dgst)
		if err != nil {
			if pakfs.IsNotFound(err) {
				continue
			}
			return err
		}
		for _, child := range obj.ChildObjects() {
			if _, ok := present[child]; !ok {
				return pakfs.ErrCorruption{
					Digest: dgst,
					Reason: fmt.Sprintf("surviving object references removed child %s", child),
				}
			}
		}
	}
	return nil
}

func pathBase(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}
