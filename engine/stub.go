package engine

import "sync/atomic"

// Call carries the captured-by-value arguments of one traced invocation.
// Go has no register file to read a raw pointer out of, so the string
// argument — which on the original platform was a NUL-terminated buffer
// reached via a register value — is resolved to its Go string form by the
// call site before the stub runs. Args still carries the uint32 encoding of
// every argument (including the one also captured as a string) so the
// numeric-rendering path in the daemon formatter has the same raw value the
// original's register capture would have produced.
type Call struct {
	Args       [4]uint32
	StringArg  string
	CallerTask TaskHandle
}

// OriginalFunc is the function a patch interposes on. It is the Go stand-in
// for "the previously installed vector-table entry".
type OriginalFunc func(c Call) uint32

// StubFunc is the generated interposer a patched call site invokes instead
// of the original. It is produced by Install and closes over
// the patch, the region, and the compiled Program.
type StubFunc func(c Call) uint32

// PatchDescriptor holds everything needed to interpose one function, mirroring
// the original struct atrace_patch field-for-field (spec.md §3) except that
// StubCode/StubSize (a raw code buffer and its length) become Program, the
// typed instruction sequence Generate produced for this function.
type PatchDescriptor struct {
	LibID    LibraryID
	LVO      int16
	FuncID   int
	Name     string
	ArgCount int

	Enabled  atomic.Bool
	InFlight atomic.Int32

	Original OriginalFunc
	Program  Program

	ArgRegs    [8]RegisterIndex
	StringArgs uint8
}

// Install builds a PatchDescriptor for fi, generates its Program, and
// returns both the descriptor and the ready-to-call StubFunc that the
// VectorTable should be swapped to point at. original is snapshotted as
// PatchDescriptor.Original, exactly as the original installer snapshots the
// previously-installed vector-table entry before overwriting it.
func Install(lib LibInfo, fi FuncInfo, funcID int, original OriginalFunc, region *Region, enabledByDefault bool) (*PatchDescriptor, StubFunc) {
	pd := &PatchDescriptor{
		LibID:      lib.ID,
		LVO:        fi.LVO,
		FuncID:     funcID,
		Name:       fi.Name,
		ArgCount:   fi.EffectiveArgCount(),
		Original:   original,
		Program:    Generate(fi),
		ArgRegs:    fi.ArgRegs,
		StringArgs: fi.StringArgs,
	}
	pd.Enabled.Store(enabledByDefault)

	stub := func(c Call) uint32 {
		return execute(pd, region, c)
	}
	return pd, stub
}

// execute interprets pd.Program against one call, implementing every branch
// named in spec.md §4.3: the fast pass-through paths (patch disabled,
// globally disabled, or task-filtered out), the overflow path, and the full
// instrumented path including the pre-call Valid publish.
func execute(pd *PatchDescriptor, region *Region, c Call) uint32 {
	if !pd.Enabled.Load() {
		return pd.Original(c)
	}
	if !region.GlobalEnable.Load() {
		return pd.Original(c)
	}
	if target := region.TargetTask(); target != nil && *target != c.CallerTask {
		return pd.Original(c)
	}

	slot, ok := region.Ring.Reserve()
	if !ok {
		return pd.Original(c)
	}

	pd.InFlight.Add(1)
	seq := region.EventsProduced.Add(1)

	entry := &region.Ring.Entries[slot]
	entry.reset()
	entry.LibID = pd.LibID
	entry.LVO = pd.LVO
	entry.Sequence = seq
	entry.CallerTask = uintptr(c.CallerTask)

	for _, ins := range pd.Program {
		switch ins.Op {
		case OpCaptureArg:
			entry.Args[ins.Arg] = c.Args[ins.Arg]
		case OpSetArgCount:
			entry.ArgCount = uint8(ins.Arg)
		case OpCaptureString:
			entry.setString(c.StringArg)
		case OpPublishValid:
			entry.Valid.Store(true)
		case OpCallOriginal:
			entry.Retval = pd.Original(c)
		case OpCaptureReturn:
			// Retval was already written by OpCallOriginal; this step
			// exists so the instruction sequence mirrors spec.md's
			// "save the return value" suffix step explicitly.
		case OpRePublishValid:
			entry.Valid.Store(true)
		case OpReleaseInFlight:
			pd.InFlight.Add(-1)
		}
	}

	return entry.Retval
}

// VectorTable maps a library vector offset to the currently-installed
// function (original or stub), standing in for "the function-pointer vector
// table" named throughout spec.md. Swaps are atomic with respect to callers
// already holding a *looked-up* entry, matching the "atomically installs
// stubs" requirement — a caller that read the table before a Swap keeps
// calling the old entry until it looks the table up again.
type VectorTable struct {
	entries atomic.Pointer[map[int16]StubFunc]
}

// NewVectorTable returns an empty table.
func NewVectorTable() *VectorTable {
	vt := &VectorTable{}
	m := map[int16]StubFunc{}
	vt.entries.Store(&m)
	return vt
}

// Lookup returns the function currently installed at lvo.
func (vt *VectorTable) Lookup(lvo int16) (StubFunc, bool) {
	m := *vt.entries.Load()
	f, ok := m[lvo]
	return f, ok
}

// Swap atomically installs fn at lvo and returns the previously installed
// function, if any. The swap copies the whole map (the table only has as
// many entries as there are traced functions, a handful to a few dozen, so
// this is cheap) so that concurrent Lookups never observe a partially
// updated table.
func (vt *VectorTable) Swap(lvo int16, fn StubFunc) (previous StubFunc, hadPrevious bool) {
	for {
		old := vt.entries.Load()
		prev, had := (*old)[lvo]
		next := make(map[int16]StubFunc, len(*old)+1)
		for k, v := range *old {
			next[k] = v
		}
		next[lvo] = fn
		if vt.entries.CompareAndSwap(old, &next) {
			return prev, had
		}
	}
}
