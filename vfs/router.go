package vfs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/pakfs/pakfs"
	"github.com/pakfs/pakfs/graph"
)

var activeMounts = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "pakfs",
	Subsystem: "vfs",
	Name:      "active_mounts",
	Help:      "Number of per-process mounts currently registered.",
})

// Router routes filesystem operations to per-process-tree mount views.
// Each incoming request is resolved by walking the caller's process
// ancestry and returning the first ancestor with a registered mount;
// callers with no registered ancestor see the default (empty) mount.
type Router struct {
	repos  []pakfs.Repository
	oracle ProcessOracle

	mu      sync.RWMutex
	routes  map[uint32]*Mount
	defMnt  *Mount
	watcher *ProcessWatcher

	shutdown atomic.Bool
}

// NewRouter constructs an empty router with no mounted filesystem
// views.
func NewRouter(repos []pakfs.Repository, oracle ProcessOracle) *Router {
	if oracle == nil {
		oracle = ProcOracle{}
	}
	return &Router{
		repos:   repos,
		oracle:  oracle,
		routes:  map[uint32]*Mount{},
		defMnt:  NewMount(repos, graph.NewEnvManifest()),
		watcher: NewProcessWatcher(oracle, time.Second),
	}
}

// computeManifest scans the configured repositories in order until one
// resolves the environment spec; the first success wins.
func (r *Router) computeManifest(ctx context.Context, envSpec pakfs.EnvSpec) (*graph.EnvManifest, error) {
	logrus.Debug("computing environment manifest...")
	var lastErr error = pakfs.ErrInvalidReference{Ref: envSpec.String()}
	for _, repo := range r.repos {
		manifest, err := repo.ComputeEnvironmentManifest(ctx, envSpec)
		if err == nil {
			return manifest, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Mount presents the identified environment to the given process id and
// all of its descendants.
func (r *Router) Mount(ctx context.Context, rootPID uint32, envSpec pakfs.EnvSpec) error {
	manifest, err := r.computeManifest(ctx, envSpec)
	if err != nil {
		return err
	}
	return r.register(rootPID, envSpec, NewMount(r.repos, manifest))
}

// MountEditable presents the environment with a writable scratch layer
// namespaced by the runtime name. An empty name gets a generated one.
func (r *Router) MountEditable(ctx context.Context, rootPID uint32, envSpec pakfs.EnvSpec, runtimeName string) error {
	if runtimeName == "" {
		runtimeName = uuid.NewString()
	}
	manifest, err := r.computeManifest(ctx, envSpec)
	if err != nil {
		return err
	}
	scratch, err := NewScratchDir(runtimeName)
	if err != nil {
		return err
	}
	return r.register(rootPID, envSpec, NewEditableMount(r.repos, manifest, scratch))
}

func (r *Router) register(rootPID uint32, envSpec pakfs.EnvSpec, mount *Mount) error {
	if err := r.watcher.Watch(rootPID); err != nil {
		// an unwatchable pid is still registered; the periodic sweep
		// will reap the mount once the process is gone
		logrus.WithField("root_pid", rootPID).WithError(err).
			Warn("could not watch mount owner process")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.routes[rootPID]; exists {
		mount.Close()
		return pakfs.ErrRuntimeExists{RootPID: rootPID}
	}
	r.routes[rootPID] = mount
	activeMounts.Set(float64(len(r.routes)))
	logrus.WithFields(logrus.Fields{
		"root_pid": rootPID,
		"env_spec": envSpec.String(),
	}).Info("mounted")
	return nil
}

// Unmount removes the mount registered for the given process id,
// reporting whether one was present. Cleanup of an editable mount's
// scratch is best-effort and logged on failure.
func (r *Router) Unmount(rootPID uint32) bool {
	r.mu.Lock()
	mount, ok := r.routes[rootPID]
	delete(r.routes, rootPID)
	activeMounts.Set(float64(len(r.routes)))
	r.mu.Unlock()
	r.watcher.Unwatch(rootPID)
	if ok {
		mount.Close()
	}
	return ok
}

// GetMountForPID returns the mount that applies to the given caller
// pid: the first ancestor with a registered mount, or the default.
// Ancestry lookup failures are logged and fall back to the part of the
// ancestry that was returned, or to the caller pid alone when none was;
// the router never fails a request for lack of a mount.
func (r *Router) GetMountForPID(pid uint32) *Mount {
	stack, err := r.oracle.ParentPIDs(pid)
	if err != nil {
		logrus.WithField("pid", pid).WithError(err).Debug("process ancestry lookup failed")
		if len(stack) == 0 {
			stack = []uint32{pid}
		}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ancestor := range stack {
		if mount, ok := r.routes[ancestor]; ok {
			return mount
		}
	}
	return r.defMnt
}

// RegisteredPIDs returns the root pids with active mounts.
func (r *Router) RegisteredPIDs() []uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pids := make([]uint32, 0, len(r.routes))
	for pid := range r.routes {
		pids = append(pids, pid)
	}
	return pids
}

// Shutdown flags the cleanup loop to exit and stops the process
// watcher.
func (r *Router) Shutdown() {
	r.shutdown.Store(true)
	r.watcher.Close()
}

// RunCleanupLoop services process-exit notifications and periodically
// sweeps for dead mount owners. It returns when Shutdown is called or
// the context is cancelled.
func (r *Router) RunCleanupLoop(ctx context.Context, sweepInterval time.Duration) {
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Second
	}
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		if r.shutdown.Load() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case pid, ok := <-r.watcher.Events():
			if !ok {
				return
			}
			if r.Unmount(pid) {
				logrus.WithField("root_pid", pid).Info("mount owner exited, unmounted")
			}
		case <-ticker.C:
		}
		// sweep for mounts whose owner died without a notification
		for _, pid := range r.RegisteredPIDs() {
			if !r.oracle.IsAlive(pid) {
				if r.Unmount(pid) {
					logrus.WithField("root_pid", pid).Info("mount owner no longer alive, unmounted")
				}
			}
		}
	}
}
