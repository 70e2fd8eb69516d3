package demolib

import (
	"fmt"
	"sync"

	"github.com/tripwire/atrace/engine"
)

// Host is a minimal, in-memory stand-in for the running AmigaOS libraries
// Lock/CurrentDir/Open et al. would normally reach: a directory tree (Lock
// ignores the access mode; no lock is exclusive) plus a handful of named "libraries" OpenLibrary can
// resolve. It implements engine.LibraryOpener so engine.Installer can patch
// it exactly as it would patch the real thing.
type Host struct {
	mu sync.Mutex

	dirs  map[string]bool
	files map[string]bool

	locks      map[uint32]string
	nextHandle uint32
	curLock    uint32

	knownLibs map[string]uint32
}

// NewHost creates a Host pre-seeded with a "RAM:" root directory, matching
// spec.md Scenario S2's `Lock("RAM:", shared)`.
func NewHost() *Host {
	h := &Host{
		dirs:      map[string]bool{"RAM:": true},
		files:     map[string]bool{},
		locks:     map[uint32]string{},
		knownLibs: map[string]uint32{"dos.library": 0x10000, "exec.library": 0x20000},
	}
	h.nextHandle = 1
	return h
}

// OpenLibrary implements engine.LibraryOpener by returning demolib's own
// static tables: demolib is both the thing being patched and, via Host, the
// thing the patched functions actually run against.
func (h *Host) OpenLibrary(name string) (engine.LibInfo, func(engine.FuncInfo) (engine.OriginalFunc, error), error) {
	for _, lib := range Libraries() {
		if lib.Name != name {
			continue
		}
		return lib, func(fi engine.FuncInfo) (engine.OriginalFunc, error) {
			return h.original(name, fi.Name), nil
		}, nil
	}
	return engine.LibInfo{}, nil, engine.ErrLibraryNotFound
}

func (h *Host) alloc() uint32 {
	h.nextHandle++
	return h.nextHandle
}

// original returns the real (pre-patch) implementation for one function,
// the Go stand-in for "the previously installed vector-table entry".
func (h *Host) original(lib, fn string) engine.OriginalFunc {
	switch lib + "." + fn {
	case "dos.library.Open":
		return h.open
	case "dos.library.Close":
		return h.close
	case "dos.library.Lock":
		return h.lock
	case "dos.library.CurrentDir":
		return h.currentDir
	case "dos.library.CreateDir":
		return h.createDir
	case "dos.library.DeleteFile":
		return h.deleteFile
	case "exec.library.OpenLibrary":
		return h.openLibraryCall
	case "exec.library.FindTask":
		return h.findTask
	case "exec.library.AllocMem":
		return h.allocMem
	default:
		return func(engine.Call) uint32 { return 0 }
	}
}

func (h *Host) open(c engine.Call) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.files[c.StringArg] && !h.dirs[c.StringArg] {
		return 0
	}
	return h.alloc()
}

func (h *Host) close(c engine.Call) uint32 { return 1 }

func (h *Host) lock(c engine.Call) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.dirs[c.StringArg] && !h.files[c.StringArg] {
		return 0
	}
	handle := h.alloc()
	h.locks[handle] = c.StringArg
	return handle
}

// currentDir sets the process's notional current-directory lock to the
// passed lock value and returns the previously-current one, the same
// old-for-new swap CurrentDir performs on real AmigaOS. The rendered text of
// both the argument and the old-lock return value comes entirely from the
// daemon's lock-to-path cache (populated when the corresponding Lock/
// CreateDir event was formatted), not from anything Host tracks here.
func (h *Host) currentDir(c engine.Call) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.curLock
	h.curLock = c.Args[0]
	return old
}

func (h *Host) createDir(c engine.Call) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dirs[c.StringArg] {
		return 0
	}
	h.dirs[c.StringArg] = true
	handle := h.alloc()
	h.locks[handle] = c.StringArg
	return handle
}

func (h *Host) deleteFile(c engine.Call) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.files[c.StringArg] {
		delete(h.files, c.StringArg)
		return 1
	}
	if h.dirs[c.StringArg] {
		delete(h.dirs, c.StringArg)
		return 1
	}
	return 0
}

func (h *Host) openLibraryCall(c engine.Call) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.knownLibs[c.StringArg]
}

func (h *Host) findTask(c engine.Call) uint32 {
	if c.StringArg == "" {
		return uint32(c.CallerTask)
	}
	return uint32(c.CallerTask)
}

func (h *Host) allocMem(c engine.Call) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.Args[0] == 0 {
		return 0
	}
	return h.alloc()
}

// DebugString reports the host's virtual filesystem state, for tests.
func (h *Host) DebugString() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fmt.Sprintf("dirs=%v files=%v locks=%v", h.dirs, h.files, h.locks)
}
