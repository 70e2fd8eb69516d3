package demolib

// dos.library Lock access-mode constants (matches daemon's lockModeNames).
const (
	SharedLock    uint32 = 0xffffffff // -1
	ExclusiveLock uint32 = 0xfffffffe // -2
)

// dos.library Open access-mode constants (matches daemon's fileModeNames).
const (
	ModeOldFile  uint32 = 1005
	ModeNewFile  uint32 = 1006
	ModeReadWrite uint32 = 1004
)

// exec.library AllocMem flag bits (matches daemon's allocFlagBits).
const (
	MemPublic uint32 = 1 << 0
	MemChip   uint32 = 1 << 1
	MemFast   uint32 = 1 << 2
	MemClear  uint32 = 1 << 16
)
