package engine

import (
	"sync"
	"sync/atomic"
)

// RegionMagic is the fixed magic value published at the front of every
// control region ('ATRC' as a big-endian uint32), used by Lookup to refuse
// attaching to an accidental name collision.
const RegionMagic uint32 = 0x41545243

// CurrentVersion is the control-region layout version this package
// produces. Version 2 adds the target-task filter (TargetTask); consumers
// must gate on Version before touching it.
const CurrentVersion uint16 = 2

// TaskHandle is an opaque identifier for a caller task, retained
// only as a value for comparison and later name resolution — never
// dereferenced by the engine itself (spec.md §9's "task-pointer safety").
type TaskHandle uintptr

// Region is the named, process-wide control region: the well-known,
// versioned handle that lets a daemon discover and attach to a running
// engine. Go has no literal equivalent of "shared memory discoverable by a
// named semaphore", so Region is published into a package-level registry
// (Register/Lookup) keyed by name, guarded by its own Mu exactly as the
// original's SignalSemaphore guarded the anchor struct.
type Region struct {
	Mu sync.RWMutex

	Magic   uint32
	Version uint16

	GlobalEnable atomic.Bool

	Ring *Ring

	PatchCount uint16
	Patches    []*PatchDescriptor

	EventsProduced atomic.Uint32
	EventsConsumed atomic.Uint32

	// TargetTask is consulted by stubs only when Version >= 2. A non-nil
	// value scopes event production to the one matching caller task (the
	// TRACE RUN stub-level filter in spec.md §4.9).
	targetTask atomic.Pointer[TaskHandle]
}

// NewRegion creates a Region with the given ring capacity, the current
// version, and global_enable set per startDisabled.
func NewRegion(ringCapacity uint32, startDisabled bool) *Region {
	r := &Region{
		Magic:   RegionMagic,
		Version: CurrentVersion,
		Ring:    NewRing(ringCapacity),
	}
	r.GlobalEnable.Store(!startDisabled)
	return r
}

// TargetTask returns the current stub-level task filter, or nil if unset or
// if this region predates version 2.
func (r *Region) TargetTask() *TaskHandle {
	if r.Version < 2 {
		return nil
	}
	return r.targetTask.Load()
}

// ClaimTargetTask atomically sets the target-task filter to task if and only
// if it is currently unset, implementing the "first-wins" rule from spec.md
// §4.9 step 4: other concurrent RUN sessions fall back to daemon-side
// filtering when this returns false. Returns ErrVersionTooLow on a version-1
// region.
func (r *Region) ClaimTargetTask(task TaskHandle) (claimed bool, err error) {
	if r.Version < 2 {
		return false, ErrVersionTooLow
	}
	return r.targetTask.CompareAndSwap(nil, &task), nil
}

// ClearTargetTask unconditionally clears the target-task filter (called at
// RUN cleanup, or defensively at RUN start if the filter is orphaned).
func (r *Region) ClearTargetTask() {
	if r.Version < 2 {
		return
	}
	r.targetTask.Store(nil)
}

// --- Named registry -------------------------------------------------------
//
// registry stands in for "publish a region under a well-known name" on a
// host with no real shared-memory segments. It is the Go analogue of the
// original's named SignalSemaphore lookup (spec.md §4.1).

var (
	registryMu sync.RWMutex
	registry   = map[string]*Region{}
)

// Register publishes region under name so that Lookup (possibly from a
// different goroutine tree entirely, e.g. the daemon) can discover it.
func Register(name string, region *Region) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		return ErrAlreadyRegistered
	}
	registry[name] = region
	return nil
}

// Lookup attaches to the region published under name. It refuses to attach
// unless the magic matches, guarding against accidental name collisions
// (spec.md §4.1).
func Lookup(name string) (*Region, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	r, ok := registry[name]
	if !ok {
		return nil, ErrNotRegistered
	}
	if r.Magic != RegionMagic {
		return nil, ErrBadMagic
	}
	return r, nil
}

// Unregister removes the published name. It does not free the region or
// its ring; callers (Installer.Teardown) handle that separately, and the
// patch array and stubs are deliberately left resident per spec.md §4.1.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, name)
}

// DefaultRegionName is the well-known name the engine loader CLI and the
// daemon both use when no override is configured.
const DefaultRegionName = "atrace_patches"
