package daemon

import (
	"context"
	"fmt"

	"github.com/tripwire/atrace/engine"
)

// PatchStatus is one line of STATUS's per-function report (spec.md §6).
type PatchStatus struct {
	Library string
	Func    string
	Enabled bool
	Noise   bool
}

// StatusReport is the full answer to a STATUS request: engine-wide counters
// plus one PatchStatus per installed function (spec.md §6).
type StatusReport struct {
	Loaded bool

	EventsProduced uint32
	EventsConsumed uint32
	EventsDropped  uint64

	BufferCapacity uint32
	BufferUsed     uint32

	// FilterTask is the currently claimed TRACE RUN target-task filter, or
	// nil if unset or the region predates version 2.
	FilterTask *engine.TaskHandle

	Patches []PatchStatus
}

// Dispatcher is the transport-agnostic command surface spec.md §6 describes:
// every external entry point (the admin HTTP API, a CLI, a future console
// port) calls through this one set of methods instead of touching engine or
// session state directly.
type Dispatcher struct {
	installer *engine.Installer
	poller    *Poller
	run       *RunController
	index     *MetadataIndex
}

// NewDispatcher creates a Dispatcher bound to the given installed engine,
// poller, TRACE RUN controller, and name index.
func NewDispatcher(installer *engine.Installer, poller *Poller, run *RunController, index *MetadataIndex) *Dispatcher {
	return &Dispatcher{installer: installer, poller: poller, run: run, index: index}
}

// Status reports the engine's current state for STATUS (spec.md §6).
func (d *Dispatcher) Status() StatusReport {
	region := d.installer.Region

	report := StatusReport{
		Loaded:         region.Ring != nil,
		EventsProduced: region.EventsProduced.Load(),
		EventsConsumed: region.EventsConsumed.Load(),
		EventsDropped:  d.poller.DroppedTotal(),
		FilterTask:     region.TargetTask(),
	}
	if region.Ring != nil {
		report.BufferCapacity = region.Ring.Capacity
		report.BufferUsed = region.Ring.Used()
	}

	report.Patches = make([]PatchStatus, 0, len(region.Patches))
	for _, pd := range region.Patches {
		libName := fmt.Sprintf("lib%d", pd.LibID)
		if entry, ok := d.index.Lookup(pd.LibID, pd.LVO); ok {
			libName = entry.LibName
		}
		report.Patches = append(report.Patches, PatchStatus{
			Library: libName,
			Func:    pd.Name,
			Enabled: pd.Enabled.Load(),
			Noise:   engine.IsNoiseFunction(pd.Name),
		})
	}
	return report
}

// Enable turns on the named functions; with no names it sets the region's
// global enable flag instead, leaving each function's own flag unchanged
// (spec.md §6's ENABLE verb).
func (d *Dispatcher) Enable(funcs ...string) error {
	return d.installer.Enable(funcs...)
}

// Disable turns off the named functions; with no names it clears the
// region's global enable flag, waits for in-flight calls to drain, and skips
// the ring's unread entries (spec.md §6's DISABLE verb).
func (d *Dispatcher) Disable(ctx context.Context, funcs ...string) error {
	return d.installer.Disable(ctx, funcs...)
}

// StartTrace begins a STREAMING_START session on sub with the given filter
// (spec.md §6's TRACE verb).
func (d *Dispatcher) StartTrace(sub *Subscriber, filter Filter) error {
	return sub.Session.StartStream(filter)
}

// StartRun begins a STREAMING_RUN session: parses raw per spec.md §4.9's
// grammar, resolves any filter tokens against index, and spawns the command
// (spec.md §6's RUN verb).
func (d *Dispatcher) StartRun(ctx context.Context, sub *Subscriber, index *MetadataIndex, raw string) error {
	dir, filterTokens, cmdline, err := ParseRunCommand(raw)
	if err != nil {
		return err
	}
	filter := ParseFilterTokens(index, filterTokens)
	return d.run.Start(ctx, sub, dir, filter, cmdline)
}

// Stop ends sub's session, whatever its current mode (spec.md §4.9's
// STREAMING_START/STREAMING_RUN → IDLE transition on STOP). For a
// STREAMING_RUN session, STOP is itself one of the RUN-cleanup triggers
// alongside process exit, client disconnect, and engine shutdown, so this
// runs the same cleanup RunController.awaitExit runs on normal exit: it
// restores saved noise-function state and releases the stub-level filter if
// this session claimed it. The child process itself is left running; only
// its trace-side bookkeeping is torn down.
func (d *Dispatcher) Stop(sub *Subscriber) {
	if sub.Session.Mode() == StreamingRun {
		d.run.Cleanup(sub.Session)
		return
	}
	sub.Session.Stop()
}

// Teardown shuts the engine down cleanly: TEARDOWN verb (spec.md §6, §4.1).
func (d *Dispatcher) Teardown(ctx context.Context) error {
	return d.installer.Teardown(ctx)
}
