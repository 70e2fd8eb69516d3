package forward

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/tripwire/atrace/daemon"
)

const (
	defaultMaxBackoff = 60 * time.Second
	initialBackoff    = time.Second
	liveChanCap       = 256
)

// ClientConfig holds the parameters for connecting to an external
// collector, adapted from the teacher's transport.ClientConfig.
type ClientConfig struct {
	// Addr is the collector's gRPC address (e.g. "collector.example.com:4443").
	Addr string

	// CertPath, KeyPath, CAPath configure mTLS exactly as the teacher's
	// agent transport does: the daemon presents CertPath/KeyPath as its
	// client certificate, and verifies the collector's certificate
	// against CAPath. Required unless Insecure is true.
	CertPath string
	KeyPath  string
	CAPath   string

	// ServerName overrides the TLS server name for SNI verification.
	ServerName string

	// MaxBackoff caps the reconnect backoff. Defaults to defaultMaxBackoff
	// when zero or negative.
	MaxBackoff time.Duration

	// Insecure disables TLS entirely. Use only in tests.
	Insecure bool
}

// Client pushes every line received from the daemon's core Broadcaster to
// one external collector, reconnecting with exponential backoff on any
// stream error. Adapted from the teacher's GRPCClient
// (internal/transport/grpc_client.go): the dial/backoff/reconnect loop is
// kept; the SQLite DrainQueue replay-on-reconnect step has no counterpart
// here because the daemon's Broadcaster carries only live events, not a
// durable backlog (see DESIGN.md).
type Client struct {
	cfg    ClientConfig
	source *daemon.Broadcaster
	logger *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	eventsSentTotal atomic.Int64
	reconnectTotal  atomic.Int64
}

// New creates a Client that pushes lines observed on source. Call Start to
// begin the connection loop.
func New(cfg ClientConfig, source *daemon.Broadcaster, logger *slog.Logger) *Client {
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		source: source,
		logger: logger,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// EventsSentTotal returns the number of lines successfully pushed since
// creation.
func (c *Client) EventsSentTotal() int64 { return c.eventsSentTotal.Load() }

// ReconnectTotal returns the number of reconnect attempts since creation.
func (c *Client) ReconnectTotal() int64 { return c.reconnectTotal.Load() }

// Start registers a subscriber on source and launches the reconnect loop
// in a background goroutine.
func (c *Client) Start(ctx context.Context) error {
	sess := daemon.NewSession()
	sub := c.source.Register("forward-client", sess)
	if err := sess.StartStream(daemon.NewFilter()); err != nil {
		c.source.Unregister(sub.ID())
		return err
	}
	go c.run(ctx, sub)
	return nil
}

// Stop signals the run loop to exit and blocks until it has.
func (c *Client) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.done
}

func (c *Client) run(ctx context.Context, sub *daemon.Subscriber) {
	defer close(c.done)
	defer c.source.Unregister(sub.ID())

	backoff := initialBackoff
	first := true

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		if !first {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			}
		}
		first = false

		err := c.runOnce(ctx, sub)
		if err == nil {
			return
		}

		c.reconnectTotal.Add(1)
		c.logger.Warn("forward: connection lost, reconnecting",
			slog.Any("error", err), slog.Duration("backoff", backoff))
		backoff = nextBackoff(backoff, c.cfg.MaxBackoff)
	}
}

func (c *Client) runOnce(ctx context.Context, sub *daemon.Subscriber) error {
	creds, err := c.buildCredentials()
	if err != nil {
		return fmt.Errorf("build TLS credentials: %w", err)
	}

	conn, err := grpc.NewClient(c.cfg.Addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.Addr, err)
	}
	defer conn.Close()

	stream, err := newTraceForwarderClient(conn).pushEvents(ctx)
	if err != nil {
		return fmt.Errorf("PushEvents: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			_, _ = stream.closeAndRecv()
			return nil
		case <-c.stopCh:
			_, _ = stream.closeAndRecv()
			return nil
		case line, ok := <-sub.Lines():
			if !ok {
				_, _ = stream.closeAndRecv()
				return nil
			}
			payload, err := encodeTraceLine(traceLine{Line: line})
			if err != nil {
				continue
			}
			if err := stream.send(wrapperspb.Bytes(payload)); err != nil {
				return fmt.Errorf("send: %w", err)
			}
			c.eventsSentTotal.Add(1)
		}
	}
}

func (c *Client) buildCredentials() (credentials.TransportCredentials, error) {
	if c.cfg.Insecure {
		return insecure.NewCredentials(), nil
	}

	cert, err := tls.LoadX509KeyPair(c.cfg.CertPath, c.cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}

	caBytes, err := os.ReadFile(c.cfg.CAPath)
	if err != nil {
		return nil, fmt.Errorf("read CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("no valid certificates found in %s", c.cfg.CAPath)
	}

	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		ServerName:   c.cfg.ServerName,
	}), nil
}

// nextBackoff doubles d with +/-25% jitter, capped at max.
func nextBackoff(d, max time.Duration) time.Duration {
	next := d * 2
	if next > max {
		next = max
	}
	jitter := time.Duration(float64(next) * (0.75 + rand.Float64()*0.5))
	if jitter > max {
		jitter = max
	}
	return jitter
}

// --- hand-written client stub, mirroring protoc-gen-go-grpc's output shape ---

type traceForwarderClient struct {
	cc *grpc.ClientConn
}

func newTraceForwarderClient(cc *grpc.ClientConn) *traceForwarderClient {
	return &traceForwarderClient{cc: cc}
}

type traceForwarderPushEventsClient struct {
	grpc.ClientStream
}

func (x *traceForwarderPushEventsClient) send(m *wrapperspb.BytesValue) error {
	return x.SendMsg(m)
}

func (x *traceForwarderPushEventsClient) closeAndRecv() (*emptypb.Empty, error) {
	if err := x.CloseSend(); err != nil {
		return nil, err
	}
	m := new(emptypb.Empty)
	if err := x.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *traceForwarderClient) pushEvents(ctx context.Context) (*traceForwarderPushEventsClient, error) {
	stream, err := c.cc.NewStream(ctx, &TraceForwarder_ServiceDesc.Streams[0], "/atrace.forward.TraceForwarder/PushEvents")
	if err != nil {
		return nil, err
	}
	return &traceForwarderPushEventsClient{stream}, nil
}
