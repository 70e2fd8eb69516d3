package daemon

import (
	"context"
	"fmt"
	"testing"

	"github.com/tripwire/atrace/engine"
	"github.com/tripwire/atrace/internal/sessionlog"
)

func TestParseRunCommand_Basic(t *testing.T) {
	dir, filters, cmdline, err := ParseRunCommand("-- echo hello")
	if err != nil {
		t.Fatal(err)
	}
	if dir != "" || len(filters) != 0 {
		t.Fatalf("dir=%q filters=%v, want empty", dir, filters)
	}
	if len(cmdline) != 2 || cmdline[0] != "echo" || cmdline[1] != "hello" {
		t.Fatalf("cmdline = %v, want [echo hello]", cmdline)
	}
}

func TestParseRunCommand_WithCDAndFilters(t *testing.T) {
	dir, filters, cmdline, err := ParseRunCommand("CD=RAM: LIB=dos.library FUNC=Lock -- copy a b")
	if err != nil {
		t.Fatal(err)
	}
	if dir != "RAM:" {
		t.Fatalf("dir = %q, want RAM:", dir)
	}
	if len(filters) != 2 {
		t.Fatalf("filters = %v, want 2 tokens", filters)
	}
	if len(cmdline) != 3 || cmdline[0] != "copy" {
		t.Fatalf("cmdline = %v", cmdline)
	}
}

func TestParseRunCommand_RejectsProcFilter(t *testing.T) {
	_, _, _, err := ParseRunCommand("PROC=shell -- echo hi")
	if err == nil {
		t.Fatal("expected error for PROC= in TRACE RUN arguments")
	}
}

func TestParseRunCommand_MissingSeparatorIsError(t *testing.T) {
	_, _, _, err := ParseRunCommand("echo hello")
	if err == nil {
		t.Fatal("expected error for missing -- separator")
	}
}

func TestParseRunCommand_EmptyCommandIsError(t *testing.T) {
	_, _, _, err := ParseRunCommand("--")
	if err == nil {
		t.Fatal("expected error for empty command after --")
	}
}

type fakeSpawner struct {
	handle engine.TaskHandle
	exited chan int
}

func (f *fakeSpawner) Spawn(ctx context.Context, dir string, cmdline []string) (*ChildHandle, error) {
	return &ChildHandle{task: f.handle, exited: f.exited}, nil
}

func runFixture(t *testing.T) (*RunController, *engine.Region, *fakeSpawner, *Broadcaster, *Subscriber) {
	t.Helper()
	region := engine.NewRegion(32, false)
	noisePD := &engine.PatchDescriptor{LibID: 2, LVO: -294, Name: "FindTask"}
	noisePD.Enabled.Store(false)
	region.Patches = []*engine.PatchDescriptor{noisePD}

	installer := &engine.Installer{Region: region}
	idx := testIndex()
	sched := &fakeScheduler{}
	tasks := NewTaskCache(sched)
	formatter := NewFormatter(idx, tasks, NewLockPathCache())
	b := NewBroadcaster(testLogger(), 16)
	poller := NewPoller(region, formatter, b, tasks, testLogger())

	spawner := &fakeSpawner{handle: 999, exited: make(chan int, 1)}
	rc := NewRunController(installer, b, NewLockPathCache(), poller, spawner, testLogger())

	sub := b.Register("c1", NewSession())
	return rc, region, spawner, b, sub
}

func TestRunController_StartClaimsTargetTaskAndEnablesNoise(t *testing.T) {
	rc, region, _, _, sub := runFixture(t)

	if err := rc.Start(context.Background(), sub, "", NewFilter(), []string{"echo", "hi"}); err != nil {
		t.Fatal(err)
	}

	if sub.Session.Mode() != StreamingRun {
		t.Fatalf("Mode() = %v, want StreamingRun", sub.Session.Mode())
	}
	if got := region.TargetTask(); got == nil || *got != 999 {
		t.Fatalf("TargetTask() = %v, want 999", got)
	}
	if !region.Patches[0].Enabled.Load() {
		t.Fatal("noise function should be enabled after claiming the target-task filter")
	}
}

func TestRunController_AwaitExitRunsCleanup(t *testing.T) {
	rc, region, _, _, sub := runFixture(t)

	// Drive the post-Start state directly rather than through Start's own
	// background goroutine, so the test owns the single reader of the
	// child's exit channel.
	region.Patches[0].Enabled.Store(true)
	claimed, err := region.ClaimTargetTask(999)
	if err != nil || !claimed {
		t.Fatalf("ClaimTargetTask = %v, %v", claimed, err)
	}
	sess := sub.Session
	sess.mu.Lock()
	sess.mode = StreamingRun
	sess.runTaskPtr = 999
	sess.claimedFilter = true
	sess.noiseSaved = map[string]bool{"FindTask": false}
	sess.noiseSavedFlag = true
	sess.mu.Unlock()

	exited := make(chan int, 1)
	exited <- 7
	rc.awaitExit(context.Background(), sub, &ChildHandle{task: 999, exited: exited}, 0, false)

	if sess.Mode() != Idle {
		t.Fatalf("Mode() after exit = %v, want Idle", sess.Mode())
	}
	if region.TargetTask() != nil {
		t.Fatal("target-task filter should be cleared after RUN cleanup")
	}
	if region.Patches[0].Enabled.Load() {
		t.Fatal("noise function should be restored to its saved (disabled) state")
	}

	line := <-sub.Lines()
	if line != fmt.Sprintf("# PROCESS EXITED rc=%d", 7) {
		t.Fatalf("line = %q, want PROCESS EXITED notice", line)
	}
}

func TestRunController_RecordsSessionHistoryWhenStoreWired(t *testing.T) {
	rc, _, spawner, _, sub := runFixture(t)

	store, err := sessionlog.Open(":memory:")
	if err != nil {
		t.Fatalf("sessionlog.Open(:memory:): %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	rc.SetSessionStore(store)

	if err := rc.Start(context.Background(), sub, "", NewFilter(), []string{"echo", "hi"}); err != nil {
		t.Fatal(err)
	}

	rows, err := store.List(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Command != "echo hi" || rows[0].EndedAt != nil {
		t.Fatalf("List() after Start = %+v, want one open row for %q", rows, "echo hi")
	}

	spawner.exited <- 3
	<-sub.Lines() // PROCESS EXITED notice, also signals awaitExit has run End()

	rows, err = store.List(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].EndedAt == nil || rows[0].ExitCode == nil || *rows[0].ExitCode != 3 {
		t.Fatalf("List() after exit = %+v, want a closed row with exit code 3", rows)
	}
}
