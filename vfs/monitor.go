package vfs

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pakfs/pakfs/configuration"
)

// ProcessOracle answers questions about host processes. The router
// consumes it to resolve a caller's ancestor chain and to check
// liveness during cleanup sweeps.
type ProcessOracle interface {
	// ParentPIDs returns the process ancestry: the given pid first,
	// then its parent, grandparent, and so on.
	ParentPIDs(pid uint32) ([]uint32, error)

	// IsAlive reports whether the pid refers to a live process.
	IsAlive(pid uint32) bool
}

// ProcOracle walks the /proc filesystem.
type ProcOracle struct{}

var _ ProcessOracle = ProcOracle{}

// ParentPIDs returns a list of pids such that the first is the given
// one and each subsequent pid is the direct parent of the previous.
func (ProcOracle) ParentPIDs(pid uint32) ([]uint32, error) {
	stack := make([]uint32, 0, 8)
	stack = append(stack, pid)
	child := pid
	for {
		parent, err := parentOf(child)
		if err != nil {
			return stack, err
		}
		if parent == 0 || parent == child {
			return stack, nil
		}
		stack = append(stack, parent)
		child = parent
	}
}

func (ProcOracle) IsAlive(pid uint32) bool {
	_, err := os.Stat("/proc/" + strconv.FormatUint(uint64(pid), 10))
	return err == nil
}

func parentOf(pid uint32) (uint32, error) {
	content, err := os.ReadFile("/proc/" + strconv.FormatUint(uint64(pid), 10) + "/stat")
	if err != nil {
		return 0, err
	}
	// the command field may contain spaces and parens; the ppid is the
	// second field after the closing paren
	text := string(content)
	end := strings.LastIndexByte(text, ')')
	if end < 0 || end+2 >= len(text) {
		return 0, nil
	}
	fields := strings.Fields(text[end+2:])
	if len(fields) < 2 {
		return 0, nil
	}
	ppid, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(ppid), nil
}

// ProcessWatcher reports process exits for the pids it was asked to
// watch. The default implementation polls the oracle; the env var
// PAKFS_MONITOR_DISABLE_CNPROC documents that kernel-assisted process
// events are off and polling is in force.
type ProcessWatcher struct {
	oracle   ProcessOracle
	interval time.Duration

	mu      sync.Mutex
	watched map[uint32]struct{}
	events  chan uint32
	stop    chan struct{}
	stopped sync.Once
}

// NewProcessWatcher creates a polling watcher over the given oracle.
func NewProcessWatcher(oracle ProcessOracle, interval time.Duration) *ProcessWatcher {
	if interval <= 0 {
		interval = time.Second
	}
	if os.Getenv(configuration.EnvMonitorDisableCnproc) != "" {
		logrus.Debug("kernel process events disabled by environment, polling")
	}
	w := &ProcessWatcher{
		oracle:   oracle,
		interval: interval,
		watched:  map[uint32]struct{}{},
		events:   make(chan uint32, 16),
		stop:     make(chan struct{}),
	}
	go w.run()
	return w
}

// Watch registers a pid for exit notification.
func (w *ProcessWatcher) Watch(pid uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.oracle.IsAlive(pid) {
		return os.ErrProcessDone
	}
	w.watched[pid] = struct{}{}
	return nil
}

// Unwatch removes a pid from the watch set.
func (w *ProcessWatcher) Unwatch(pid uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.watched, pid)
}

// Events is the channel on which exited pids are delivered.
func (w *ProcessWatcher) Events() <-chan uint32 {
	return w.events
}

// Close stops the watcher's polling loop.
func (w *ProcessWatcher) Close() {
	w.stopped.Do(func() { close(w.stop) })
}

func (w *ProcessWatcher) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
		}
		w.mu.Lock()
		var exited []uint32
		for pid := range w.watched {
			if !w.oracle.IsAlive(pid) {
				exited = append(exited, pid)
				delete(w.watched, pid)
			}
		}
		w.mu.Unlock()
		for _, pid := range exited {
			select {
			case w.events <- pid:
			case <-w.stop:
				return
			}
		}
	}
}
