package daemon

import (
	"fmt"
	"sync"

	"github.com/tripwire/atrace/engine"
)

// TaskInfo is one scheduler-known task: its opaque handle, display name,
// and CLI process number (0 if the task is not a numbered process).
type TaskInfo struct {
	Handle    engine.TaskHandle
	Name      string
	CLINumber int
}

// Scheduler is the pluggable task-enumeration backend (spec.md §4.6's
// "walks the system's ready and wait queues plus the current task").
// Tasks returns a full snapshot; Lookup resolves a single handle without
// requiring a full walk, used on a cache miss.
type Scheduler interface {
	Tasks() []TaskInfo
	Lookup(h engine.TaskHandle) (TaskInfo, bool)
}

// TaskCacheRefreshInterval is the poll-cycle interval between full cache
// refreshes (spec.md §4.6: "roughly every 50 polls").
const TaskCacheRefreshInterval = 50

// TaskCache is a fixed-capacity (Tasks() bounds it) table of task handle to
// display name, refreshed periodically rather than on every event so the
// consumer never takes a scheduler lock per event.
type TaskCache struct {
	mu        sync.RWMutex
	names     map[engine.TaskHandle]string
	scheduler Scheduler
	polls     int
}

// NewTaskCache creates a cache backed by scheduler. The cache starts empty
// and is populated by the first Tick.
func NewTaskCache(scheduler Scheduler) *TaskCache {
	return &TaskCache{
		names:     map[engine.TaskHandle]string{},
		scheduler: scheduler,
	}
}

// Tick is called once per poll cycle. Every TaskCacheRefreshInterval calls
// it performs a full refresh; other calls are no-ops.
func (tc *TaskCache) Tick() {
	tc.mu.Lock()
	tc.polls++
	due := tc.polls%TaskCacheRefreshInterval == 0
	tc.mu.Unlock()

	if due {
		tc.Refresh()
	}
}

// Refresh performs an unconditional full cache rebuild.
func (tc *TaskCache) Refresh() {
	tasks := tc.scheduler.Tasks()
	names := make(map[engine.TaskHandle]string, len(tasks))
	for _, ti := range tasks {
		names[ti.Handle] = displayName(ti)
	}

	tc.mu.Lock()
	tc.names = names
	tc.mu.Unlock()
}

// Resolve renders h as a human-readable name. A cache hit is immediate; a
// miss falls back to a direct Scheduler.Lookup (not itself cached, so it
// is implicitly overwritten on the next Refresh); a task the scheduler no
// longer knows about renders as the stale-pointer fallback from spec.md §7.
func (tc *TaskCache) Resolve(h engine.TaskHandle) string {
	tc.mu.RLock()
	name, ok := tc.names[h]
	tc.mu.RUnlock()
	if ok {
		return name
	}

	if ti, ok := tc.scheduler.Lookup(h); ok {
		return displayName(ti)
	}
	return fmt.Sprintf("<task 0x%08x>", uintptr(h))
}

func displayName(ti TaskInfo) string {
	if ti.CLINumber > 0 {
		return fmt.Sprintf("[%d] %s", ti.CLINumber, ti.Name)
	}
	return ti.Name
}

// stripCLIPrefix removes a leading "[N] " CLI-number prefix so filter
// substring matching and display both operate on the bare task name
// (spec.md §4.8).
func stripCLIPrefix(name string) string {
	if len(name) == 0 || name[0] != '[' {
		return name
	}
	for i := 1; i < len(name); i++ {
		if name[i] == ']' {
			if i+2 <= len(name) && name[i+1] == ' ' {
				return name[i+2:]
			}
			return name
		}
	}
	return name
}
