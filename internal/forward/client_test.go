package forward

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"

	"github.com/tripwire/atrace/daemon"
)

func startTestCollector(t *testing.T, sink Sink) (addr string, stop func()) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	srv := grpc.NewServer()
	RegisterTraceForwarderServer(srv, NewService(sink, testLogger()))

	go func() { _ = srv.Serve(lis) }()

	return lis.Addr().String(), func() {
		srv.Stop()
		_ = lis.Close()
	}
}

func TestClient_PushesBroadcastLinesToCollector(t *testing.T) {
	sink := &fakeSink{}
	addr, stop := startTestCollector(t, sink)
	defer stop()

	bc := daemon.NewBroadcaster(testLogger(), 16)
	client := New(ClientConfig{Addr: addr, Insecure: true}, bc, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer client.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for bc.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if bc.Count() == 0 {
		t.Fatal("client never registered its broadcaster subscriber")
	}

	bc.Broadcast("1\t10:00:00.000\tdos.library.Lock\t[1] shell\targs\t0\tO", nil)

	deadline = time.Now().Add(2 * time.Second)
	for len(sink.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	got := sink.all()
	if len(got) != 1 || got[0] == "" {
		t.Fatalf("expected 1 non-empty line at collector, got %v", got)
	}
	if client.EventsSentTotal() != 1 {
		t.Errorf("EventsSentTotal() = %d, want 1", client.EventsSentTotal())
	}
}

func TestClient_StopIsIdempotentAndReturns(t *testing.T) {
	sink := &fakeSink{}
	addr, stop := startTestCollector(t, sink)
	defer stop()

	bc := daemon.NewBroadcaster(testLogger(), 16)
	client := New(ClientConfig{Addr: addr, Insecure: true}, bc, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan struct{})
	go func() {
		client.Stop()
		client.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestNextBackoff_CapsAtMax(t *testing.T) {
	d := nextBackoff(50*time.Second, 60*time.Second)
	if d > 60*time.Second {
		t.Errorf("nextBackoff exceeded cap: %v", d)
	}
	if d <= 0 {
		t.Errorf("nextBackoff returned non-positive duration: %v", d)
	}
}
