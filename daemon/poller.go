package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tripwire/atrace/engine"
)

// Poller drains the engine's ring buffer into formatted, routed, filtered
// output without stalling the daemon's event loop (spec.md §4.5).
type Poller struct {
	region      *engine.Region
	formatter   *Formatter
	broadcaster *Broadcaster
	tasks       *TaskCache
	logger      *slog.Logger

	droppedTotal atomic.Uint64

	// onShutdown, if set, is called once per active subscriber when engine
	// shutdown is detected, after the in-band notice has been queued, so
	// the caller (the daemon orchestrator) can run RUN-cleanup for any
	// session that owned the target-task filter.
	onShutdown func(*Subscriber)
}

// NewPoller creates a Poller bound to region, using formatter to render
// events and broadcaster to route them. tasks is ticked once per cycle.
func NewPoller(region *engine.Region, formatter *Formatter, broadcaster *Broadcaster, tasks *TaskCache, logger *slog.Logger) *Poller {
	return &Poller{region: region, formatter: formatter, broadcaster: broadcaster, tasks: tasks, logger: logger}
}

// OnShutdown registers a hook invoked per subscriber when engine shutdown
// is observed.
func (p *Poller) OnShutdown(fn func(*Subscriber)) { p.onShutdown = fn }

// DroppedTotal returns the cumulative overflow count observed so far.
func (p *Poller) DroppedTotal() uint64 { return p.droppedTotal.Load() }

// DrainCycle performs one bounded poll cycle: up to engine.DrainBatchSize
// events (spec.md §4.5).
func (p *Poller) DrainCycle(ctx context.Context) (int, error) {
	return p.drain(ctx, engine.DrainBatchSize)
}

// FinalDrain performs a drain bounded only by the ring's full capacity,
// used at TRACE RUN child-exit to catch events produced just before the
// last regular poll (spec.md §4.9's completion step).
func (p *Poller) FinalDrain(ctx context.Context) (int, error) {
	return p.drain(ctx, p.region.Ring.Capacity)
}

func (p *Poller) drain(ctx context.Context, limit uint32) (int, error) {
	if !p.region.Mu.TryRLock() {
		if !p.region.GlobalEnable.Load() {
			p.handleShutdown()
		}
		return 0, nil
	}
	defer p.region.Mu.RUnlock()

	ring := p.region.Ring
	if ring == nil {
		p.handleShutdown()
		return 0, nil
	}

	if ring.ReadPosOutOfRange() {
		ring.ResetReadPos()
	}

	p.tasks.Tick()
	now := time.Now()

	n := 0
	for uint32(n) < limit {
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		default:
		}

		idx := ring.ReadPos()
		entry := &ring.Entries[idx]
		if !entry.Valid.Load() {
			break
		}

		ev := eventFromEntry(entry)
		entry.Valid.Store(false)
		ring.AdvanceRead()
		p.region.EventsConsumed.Add(1)
		n++

		fe := p.formatter.Format(ev, now)
		p.route(ev, fe)
	}

	if overflow := ring.SnapshotAndResetOverflow(); overflow > 0 {
		p.droppedTotal.Add(uint64(overflow))
		p.broadcaster.Broadcast(
			fmt.Sprintf("# OVERFLOW %d events dropped", overflow),
			func(s *Subscriber) bool { return s.Session.Mode() != Idle },
		)
	}

	return n, nil
}

// route delivers fe to every subscriber whose session is streaming and
// whose routing/filter rules accept it.
func (p *Poller) route(ev Event, fe FormattedEvent) {
	p.broadcaster.Range(func(sub *Subscriber) bool {
		mode, filter, runTaskPtr, startSeq := sub.Session.snapshot()
		switch mode {
		case Idle:
			return true
		case StreamingRun:
			if ev.CallerTask != runTaskPtr || ev.Sequence < startSeq {
				return true
			}
		case StreamingStart:
			// no task targeting beyond the client's own filter
		}
		if !filter.Match(fe) {
			return true
		}
		p.broadcaster.Send(sub.ID(), fe.Line)
		return true
	})
}

// handleShutdown notifies every streaming subscriber of engine shutdown
// (spec.md §4.5, §7) and invokes onShutdown so the caller can run any
// session-specific cleanup.
func (p *Poller) handleShutdown() {
	p.logger.Warn("daemon: engine shutdown observed")
	p.broadcaster.Range(func(sub *Subscriber) bool {
		if sub.Session.Mode() == Idle {
			return true
		}
		p.broadcaster.Send(sub.ID(), "# ATRACE SHUTDOWN")
		if p.onShutdown != nil {
			p.onShutdown(sub)
		}
		sub.Session.Stop()
		return true
	})
}
