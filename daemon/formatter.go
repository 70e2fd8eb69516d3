package daemon

import (
	"fmt"
	"strings"
	"time"
)

// ArgKind selects how one captured argument renders as text (spec.md §4.7).
type ArgKind uint8

const (
	// ArgDefault renders unknown/opaque arguments as 0x%08x.
	ArgDefault ArgKind = iota
	// ArgString renders the captured string argument as "value", appending
	// an ellipsis when Event.Truncated is set.
	ArgString
	// ArgFileMode decodes a dos.library Open-style access-mode constant.
	ArgFileMode
	// ArgLockMode decodes a dos.library Lock-style shared/exclusive constant.
	ArgLockMode
	// ArgEnvScope decodes a dos.library environment-variable scope constant.
	ArgEnvScope
	// ArgAllocFlags decodes an exec.library memory-allocation flag bitmask.
	ArgAllocFlags
	// ArgLockValue renders an opaque directory-lock value as its known path
	// (via the lock-to-path cache) when available, else as 0x%08x.
	ArgLockValue
)

// ResultType selects how the captured return value renders and, together
// with ErrorTag, how the status character is derived (spec.md §4.7).
type ResultType uint8

const (
	ResultDefault ResultType = iota
	ResultPointer
	ResultDOSBool
	ResultNonZeroIsError
	ResultVoid
	ResultMsgPointer
	ResultNumericCode
	ResultLock
	ResultByteCount
	ResultOldDirLock
)

// ErrorTag names the function's error-reporting convention, consulted by
// the errors-only filter (spec.md §4.8) and used to derive the status
// character.
type ErrorTag uint8

const (
	ErrZeroIsError ErrorTag = iota
	ErrNonZeroIsError
	ErrNegativeIsError
	ErrNumericCodeNonZero
	ErrNever
	ErrAlways
)

// FuncRenderSpec is the per-function rendering rule consulted by Formatter.
type FuncRenderSpec struct {
	LibName  string
	FuncName string

	ArgKinds []ArgKind
	Result   ResultType
	Error    ErrorTag

	// PopulatesLockPath marks a Lock-like/CreateDir-like function: on a
	// successful call (non-zero return) whose string argument carries a
	// path, the returned lock value is cached against that path (spec.md
	// §4.7). Functions returning other opaque handle types must leave this
	// false to avoid numeric-address collisions across object kinds.
	PopulatesLockPath bool
}

// fileModeNames decodes dos.library MODE_* constants used by Open.
var fileModeNames = map[uint32]string{
	1005: "MODE_OLDFILE",
	1006: "MODE_NEWFILE",
	1004: "MODE_READWRITE",
}

// lockModeNames decodes dos.library Lock access-mode constants.
var lockModeNames = map[uint32]string{
	0xfffffffe: "EXCLUSIVE_LOCK", // -2
	0xffffffff: "SHARED_LOCK",    // -1
}

// envScopeNames decodes dos.library SetVar/GetVar scope flags.
var envScopeNames = map[uint32]string{
	1 << 8:  "LOCAL_ONLY",
	1 << 9:  "GLOBAL_ONLY",
	1 << 10: "DOSCTYPE_ONLY",
}

// allocFlagBits decodes exec.library AllocMem flag bits, joined with '|'.
var allocFlagBits = []struct {
	bit  uint32
	name string
}{
	{1 << 0, "MEMF_PUBLIC"},
	{1 << 1, "MEMF_CHIP"},
	{1 << 2, "MEMF_FAST"},
	{1 << 16, "MEMF_CLEAR"},
}

// Formatter converts raw Events into the exact tab-separated text line
// named in spec.md §4.7, given the function's rendering rule and names
// resolved by a MetadataIndex and TaskCache.
type Formatter struct {
	index     *MetadataIndex
	tasks     *TaskCache
	lockPaths *LockPathCache
}

// NewFormatter creates a Formatter.
func NewFormatter(index *MetadataIndex, tasks *TaskCache, lockPaths *LockPathCache) *Formatter {
	return &Formatter{index: index, tasks: tasks, lockPaths: lockPaths}
}

// Format renders ev as the daemon's seven-field text line:
// <seq>\t<HH:MM:SS.mmm>\t<lib>.<func>\t<task>\t<args>\t<retval>\t<status>.
// now is the timestamp computed once per poll batch (spec.md §4.7).
func (f *Formatter) Format(ev Event, now time.Time) FormattedEvent {
	entry, ok := f.index.Lookup(ev.LibID, ev.LVO)
	if !ok {
		entry = FuncEntry{LibName: "?", FuncName: "?", Render: FuncRenderSpec{Result: ResultDefault, Error: ErrAlways}}
	}

	taskName := f.tasks.Resolve(ev.CallerTask)
	argsText := f.renderArgs(ev, entry.Render.ArgKinds)
	retText, status := f.renderResult(ev, entry.Render)

	if entry.Render.PopulatesLockPath && status == 'O' && ev.Retval != 0 && ev.StringArg != "" {
		f.lockPaths.Put(ev.Retval, ev.StringArg)
	}

	line := fmt.Sprintf("%d\t%s\t%s.%s\t%s\t%s\t%s\t%c",
		ev.Sequence, now.Format("15:04:05.000"), entry.LibName, entry.FuncName,
		taskName, argsText, retText, status)

	return FormattedEvent{
		Seq:        ev.Sequence,
		Line:       line,
		LibID:      ev.LibID,
		LVO:        ev.LVO,
		FuncName:   entry.FuncName,
		TaskName:   taskName,
		CallerTask: ev.CallerTask,
		Status:     status,
	}
}

func (f *Formatter) renderArgs(ev Event, kinds []ArgKind) string {
	n := int(ev.ArgCount)
	if n > len(ev.Args) {
		n = len(ev.Args)
	}
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		var kind ArgKind
		if i < len(kinds) {
			kind = kinds[i]
		}
		parts = append(parts, f.renderArg(ev, i, kind))
	}
	return strings.Join(parts, ",")
}

func (f *Formatter) renderArg(ev Event, i int, kind ArgKind) string {
	v := ev.Args[i]
	switch kind {
	case ArgString:
		s := ev.StringArg
		if ev.Truncated {
			return fmt.Sprintf("%q...", s)
		}
		return fmt.Sprintf("%q", s)
	case ArgFileMode:
		if name, ok := fileModeNames[v]; ok {
			return name
		}
		return fmt.Sprintf("0x%08x", v)
	case ArgLockMode:
		if name, ok := lockModeNames[v]; ok {
			return name
		}
		return fmt.Sprintf("0x%08x", v)
	case ArgEnvScope:
		if name, ok := envScopeNames[v]; ok {
			return name
		}
		return fmt.Sprintf("0x%08x", v)
	case ArgAllocFlags:
		var names []string
		for _, b := range allocFlagBits {
			if v&b.bit != 0 {
				names = append(names, b.name)
			}
		}
		if len(names) == 0 {
			return fmt.Sprintf("0x%08x", v)
		}
		return strings.Join(names, "|")
	case ArgLockValue:
		if path, ok := f.lockPaths.Lookup(v); ok {
			return fmt.Sprintf("%q", path)
		}
		return fmt.Sprintf("0x%08x", v)
	default:
		return fmt.Sprintf("0x%08x", v)
	}
}

// renderResult renders the return value and derives the status character
// from spec's Result/Error tags.
func (f *Formatter) renderResult(ev Event, spec FuncRenderSpec) (text string, status byte) {
	status = statusFor(spec.Error, ev.Retval)

	switch spec.Result {
	case ResultPointer, ResultMsgPointer:
		if ev.Retval == 0 {
			return "NULL", status
		}
		return fmt.Sprintf("0x%08x", ev.Retval), status
	case ResultDOSBool:
		if ev.Retval == 0 {
			return "FALSE", status
		}
		return "TRUE", status
	case ResultVoid:
		return "-", status
	case ResultNumericCode:
		return fmt.Sprintf("%d", int32(ev.Retval)), status
	case ResultByteCount:
		return fmt.Sprintf("%d", int32(ev.Retval)), status
	case ResultLock:
		if ev.Retval == 0 {
			return "NULL", status
		}
		return fmt.Sprintf("0x%08x", ev.Retval), status
	case ResultOldDirLock:
		if path, ok := f.lockPaths.Lookup(ev.Retval); ok {
			return fmt.Sprintf("%q", path), status
		}
		if ev.Retval == 0 {
			return "NULL", status
		}
		return fmt.Sprintf("0x%08x", ev.Retval), status
	case ResultNonZeroIsError:
		return fmt.Sprintf("0x%08x", ev.Retval), status
	default:
		return fmt.Sprintf("0x%08x", ev.Retval), status
	}
}

func statusFor(tag ErrorTag, retval uint32) byte {
	switch tag {
	case ErrZeroIsError:
		if retval == 0 {
			return 'E'
		}
		return 'O'
	case ErrNonZeroIsError:
		if retval != 0 {
			return 'E'
		}
		return 'O'
	case ErrNegativeIsError:
		if int32(retval) < 0 {
			return 'E'
		}
		return 'O'
	case ErrNumericCodeNonZero:
		if retval != 0 {
			return 'E'
		}
		return 'O'
	case ErrNever:
		return '-'
	default: // ErrAlways: unknown convention, treated conservatively as error.
		return 'E'
	}
}
