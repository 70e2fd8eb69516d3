package daemon

import (
	"fmt"
	"sync"

	"github.com/tripwire/atrace/engine"
)

// Mode is a client's streaming state (spec.md §4.9's state machine).
type Mode uint8

const (
	Idle Mode = iota
	StreamingStart
	StreamingRun
)

// Session is one client's TRACE state machine: IDLE → STREAMING_START →
// IDLE and IDLE → STREAMING_RUN → IDLE, mutually exclusive with each other
// and with a file-tail session (spec.md §4.9's state machine). TailActive
// is set by the external file-tail subsystem (out of scope here) to claim
// the same mutual exclusion.
type Session struct {
	mu sync.Mutex

	mode       Mode
	TailActive bool
	filter     Filter

	runTaskPtr     engine.TaskHandle
	startSeq       uint32
	claimedFilter  bool
	noiseSaved     map[string]bool
	noiseSavedFlag bool
}

// NewSession returns an idle session.
func NewSession() *Session { return &Session{} }

// Mode returns the session's current streaming mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// StartStream transitions IDLE → STREAMING_START with filter f. It fails if
// the session is not idle or a file-tail session owns it.
func (s *Session) StartStream(f Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != Idle || s.TailActive {
		return fmt.Errorf("daemon: session is not idle")
	}
	s.mode = StreamingStart
	s.filter = f
	return nil
}

// Stop transitions back to IDLE. For a STREAMING_RUN session, the caller
// (RunController) must still perform RUN-cleanup; Stop alone only clears
// the mode and filter.
func (s *Session) Stop() {
	s.mu.Lock()
	s.mode = Idle
	s.filter = Filter{}
	s.mu.Unlock()
}

// snapshot returns the fields the poller's routing decision needs under a
// single lock acquisition.
func (s *Session) snapshot() (mode Mode, filter Filter, runTaskPtr engine.TaskHandle, startSeq uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode, s.filter, s.runTaskPtr, s.startSeq
}
