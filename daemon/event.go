package daemon

import "github.com/tripwire/atrace/engine"

// Event is a ring entry copied out of shared storage by the poller, safe to
// hold onto after the ring slot has been cleared and reused.
type Event struct {
	Sequence   uint32
	LibID      engine.LibraryID
	LVO        int16
	CallerTask engine.TaskHandle
	Args       [4]uint32
	ArgCount   uint8
	StringArg  string
	Truncated  bool
	Retval     uint32
}

// eventFromEntry copies the fields of a live ring entry into an Event,
// performed while the entry is known to be valid=1 and before it is
// released back to the producer pool.
func eventFromEntry(e *engine.Entry) Event {
	return Event{
		LibID:      e.LibID,
		LVO:        e.LVO,
		Sequence:   e.Sequence,
		CallerTask: engine.TaskHandle(e.CallerTask),
		Args:       e.Args,
		ArgCount:   e.ArgCount,
		StringArg:  e.String(),
		Truncated:  e.Truncated(),
		Retval:     e.Retval,
	}
}

// FormattedEvent is the daemon's fully rendered representation of one
// event: the exact seven-field line (spec.md §4.7) plus the structured
// fields the filter engine and broadcaster need without re-parsing it.
type FormattedEvent struct {
	Seq        uint32
	Line       string
	LibID      engine.LibraryID
	LVO        int16
	FuncName   string
	TaskName   string
	CallerTask engine.TaskHandle
	Status     byte // 'O' success, 'E' error, '-' neutral/void
}
