package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/tripwire/atrace/engine"
	"github.com/tripwire/atrace/internal/sessionlog"
)

// ChildHandle is a spawned TRACE RUN process: its task handle and a channel
// that receives the exit code once Wait completes.
type ChildHandle struct {
	task   engine.TaskHandle
	exited chan int
}

// NewChildHandle builds a ChildHandle around an already-running task and
// its exit-code channel. Exported so packages outside daemon (e.g. the
// admin API's tests) can implement ProcessSpawner without real processes.
func NewChildHandle(task engine.TaskHandle, exited chan int) *ChildHandle {
	return &ChildHandle{task: task, exited: exited}
}

// TaskHandle returns the spawned process's task handle (its PID, cast to
// engine.TaskHandle — the Go analogue of a task pointer, since both are
// opaque identifiers never dereferenced by the engine).
func (c *ChildHandle) TaskHandle() engine.TaskHandle { return c.task }

// Exited returns the channel the exit code is delivered on exactly once.
func (c *ChildHandle) Exited() <-chan int { return c.exited }

// ProcessSpawner starts a TRACE RUN child. Pluggable so tests can supply a
// fake without spawning real processes.
type ProcessSpawner interface {
	Spawn(ctx context.Context, dir string, cmdline []string) (*ChildHandle, error)
}

// execSpawner spawns real OS processes via os/exec.
type execSpawner struct{}

// NewExecSpawner returns the default, os/exec-backed ProcessSpawner.
func NewExecSpawner() ProcessSpawner { return execSpawner{} }

func (execSpawner) Spawn(ctx context.Context, dir string, cmdline []string) (*ChildHandle, error) {
	if len(cmdline) == 0 {
		return nil, fmt.Errorf("daemon: empty command line")
	}
	cmd := exec.CommandContext(ctx, cmdline[0], cmdline[1:]...)
	if dir != "" {
		cmd.Dir = dir
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("daemon: spawn %q: %w", cmdline[0], err)
	}

	ch := &ChildHandle{
		task:   engine.TaskHandle(cmd.Process.Pid),
		exited: make(chan int, 1),
	}
	go func() {
		rc := 0
		if err := cmd.Wait(); err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				rc = exitErr.ExitCode()
			} else {
				rc = -1
			}
		}
		ch.exited <- rc
	}()
	return ch, nil
}

// ParseRunCommand parses a TRACE RUN argument string into an optional
// working directory, filter tokens, and the command line, per spec.md
// §4.9's grammar: `[CD=path] [filters] -- command args...`. A PROC= filter
// token is rejected (process filtering is automatic for RUN sessions).
func ParseRunCommand(raw string) (dir string, filterTokens, cmdline []string, err error) {
	fields := strings.Fields(raw)

	i := 0
	if i < len(fields) && strings.HasPrefix(fields[i], "CD=") {
		dir = strings.TrimPrefix(fields[i], "CD=")
		i++
	}

	for i < len(fields) && fields[i] != "--" {
		if strings.HasPrefix(strings.ToUpper(fields[i]), "PROC=") {
			return "", nil, nil, fmt.Errorf("daemon: PROC= is not permitted in TRACE RUN; process filtering is automatic")
		}
		filterTokens = append(filterTokens, fields[i])
		i++
	}
	if i >= len(fields) {
		return "", nil, nil, fmt.Errorf("daemon: missing -- separator before command")
	}
	i++ // skip "--"

	cmdline = fields[i:]
	if len(cmdline) == 0 {
		return "", nil, nil, fmt.Errorf("daemon: empty command after --")
	}
	return dir, filterTokens, cmdline, nil
}

// RunController drives TRACE RUN sessions end to end: spawning the child,
// claiming the stub-level target-task filter, enabling noise functions,
// and running RUN-cleanup on exit or on engine shutdown (spec.md §4.9).
type RunController struct {
	installer   *engine.Installer
	broadcaster *Broadcaster
	lockPaths   *LockPathCache
	poller      *Poller
	spawner     ProcessSpawner
	logger      *slog.Logger

	sessions *sessionlog.Store
}

// NewRunController creates a RunController.
func NewRunController(installer *engine.Installer, broadcaster *Broadcaster, lockPaths *LockPathCache, poller *Poller, spawner ProcessSpawner, logger *slog.Logger) *RunController {
	return &RunController{
		installer:   installer,
		broadcaster: broadcaster,
		lockPaths:   lockPaths,
		poller:      poller,
		spawner:     spawner,
		logger:      logger,
	}
}

// SetSessionStore wires a session-history store: every RUN's command line,
// start time, and eventual exit code are recorded there (SPEC_FULL.md §7).
// Nil (the default) disables recording, which is what the package's own
// tests rely on.
func (rc *RunController) SetSessionStore(s *sessionlog.Store) {
	rc.sessions = s
}

// Start spawns cmdline under sub's session, following spec.md §4.9 steps
// 2-5: save noise-function state, clear the lock-path cache, spawn, claim
// the target-task filter first-wins, and enable noise functions only if
// claimed.
func (rc *RunController) Start(ctx context.Context, sub *Subscriber, dir string, filter Filter, cmdline []string) error {
	sess := sub.Session
	if err := sess.StartStream(filter); err != nil {
		return err
	}
	sess.mu.Lock()
	sess.mode = StreamingRun
	sess.mu.Unlock()

	rc.lockPaths.Clear()

	region := rc.installer.Region
	savedNoise := map[string]bool{}
	for _, pd := range region.Patches {
		if engine.IsNoiseFunction(pd.Name) {
			savedNoise[pd.Name] = pd.Enabled.Load()
		}
	}

	child, err := rc.spawner.Spawn(ctx, dir, cmdline)
	if err != nil {
		sess.Stop()
		return err
	}

	startSeq := region.EventsProduced.Load()
	// Defensive clear: a prior RUN whose Cleanup was skipped (crash, missed
	// STOP) would otherwise leave the filter permanently claimed and strand
	// every future RUN on daemon-side-only filtering (spec.md §7). A filter
	// still owned by a connected session's RUN is left in place.
	owned := false
	rc.broadcaster.Range(func(o *Subscriber) bool {
		o.Session.mu.Lock()
		cur := region.TargetTask()
		owned = owned || (o.Session.claimedFilter && cur != nil && o.Session.runTaskPtr == *cur)
		o.Session.mu.Unlock()
		return true
	})
	if !owned {
		region.ClearTargetTask()
	}
	claimed, claimErr := region.ClaimTargetTask(child.TaskHandle())
	if claimErr == nil && claimed {
		for _, pd := range region.Patches {
			if engine.IsNoiseFunction(pd.Name) {
				pd.Enabled.Store(true)
			}
		}
	}

	var sessionLogID int64
	var sessionLogged bool
	if rc.sessions != nil {
		id, err := rc.sessions.Begin(context.Background(), uint64(child.TaskHandle()), strings.Join(cmdline, " "), "", time.Now())
		if err != nil {
			rc.logger.Warn("daemon: failed to record run session start", slog.Any("error", err))
		} else {
			sessionLogID, sessionLogged = id, true
		}
	}

	sess.mu.Lock()
	sess.runTaskPtr = child.TaskHandle()
	sess.startSeq = startSeq
	sess.claimedFilter = claimed
	sess.noiseSaved = savedNoise
	sess.noiseSavedFlag = true
	sess.mu.Unlock()

	// sessionLogID/sessionLogged travel as awaitExit arguments rather than
	// through Session: a STOP mid-RUN runs Cleanup (clearing Session's RUN
	// fields) well before the child actually exits, and the eventual End
	// record must still happen then.
	go rc.awaitExit(ctx, sub, child, sessionLogID, sessionLogged)
	return nil
}

func (rc *RunController) awaitExit(ctx context.Context, sub *Subscriber, child *ChildHandle, sessionLogID int64, sessionLogged bool) {
	rcode := <-child.Exited()

	if _, err := rc.poller.FinalDrain(ctx); err != nil {
		rc.logger.Warn("daemon: final drain after process exit failed", slog.Any("error", err))
	}

	if rc.sessions != nil && sessionLogged {
		// context.Background(): the request context that started this RUN
		// may already be canceled by the time the child exits.
		if err := rc.sessions.End(context.Background(), sessionLogID, time.Now(), rcode); err != nil {
			rc.logger.Warn("daemon: failed to record run session end", slog.Any("error", err))
		}
	}

	rc.broadcaster.Send(sub.ID(), fmt.Sprintf("# PROCESS EXITED rc=%d", rcode))
	rc.Cleanup(sub.Session)
}

// Cleanup restores saved noise-function state, clears the target-task
// filter if this session owned it, and returns the session to IDLE. Keyed
// off the noiseSavedFlag rather than the mode field, so it runs exactly
// once regardless of whether it was triggered by normal exit, disconnect,
// send failure, or engine shutdown (spec.md §4.9).
func (rc *RunController) Cleanup(sess *Session) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if !sess.noiseSavedFlag {
		sess.mode = Idle
		sess.filter = Filter{}
		return
	}

	for name, enabled := range sess.noiseSaved {
		for _, pd := range rc.installer.Region.Patches {
			if pd.Name == name {
				pd.Enabled.Store(enabled)
			}
		}
	}
	if sess.claimedFilter {
		rc.installer.Region.ClearTargetTask()
	}

	sess.mode = Idle
	sess.filter = Filter{}
	sess.runTaskPtr = 0
	sess.startSeq = 0
	sess.claimedFilter = false
	sess.noiseSaved = nil
	sess.noiseSavedFlag = false
}
