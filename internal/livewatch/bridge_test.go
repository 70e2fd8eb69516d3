package livewatch_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/tripwire/atrace/daemon"
	"github.com/tripwire/atrace/internal/livewatch"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBridge_RelaysLinesToBrowserClients(t *testing.T) {
	logger := testLogger()
	core := daemon.NewBroadcaster(logger, 16)
	defer core.Close()

	browse := livewatch.NewBroadcaster(logger, 16)
	client := browse.Register("browser-1")
	defer browse.Unregister("browser-1")

	br, err := livewatch.NewBridge(core, browse, logger)
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go br.Run(ctx)

	core.Broadcast("1\t10:00:00.000\tdos.library.Open\t[1] shell\targs\tO", nil)

	select {
	case raw := <-client.Send():
		if string(raw) == "" {
			t.Error("expected non-empty relayed line")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for bridge to relay trace line")
	}
}

func TestBridge_StopsOnContextCancel(t *testing.T) {
	logger := testLogger()
	core := daemon.NewBroadcaster(logger, 16)
	defer core.Close()
	browse := livewatch.NewBroadcaster(logger, 16)

	br, err := livewatch.NewBridge(core, browse, logger)
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		br.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Bridge.Run did not return after context cancellation")
	}
}
