// Package forward implements TraceForwarder: a hand-written gRPC service
// that lets the daemon push its formatted, filtered trace line stream out
// to one external collector process, mirroring the teacher's agent→
// dashboard relationship (internal/transport/grpc_client.go dialing
// internal/server/grpc/alert_service.go) with the roles renamed: the
// atrace daemon plays the teacher's agent (client, mTLS cert-bearing,
// pushes events), and an external collector plays the teacher's dashboard
// (server, receives and persists/re-broadcasts them). Service is the
// server-side implementation a collector binary hosts; Client is the
// daemon-side piece cmd/atraced wires up.
//
// TraceForwarder has no generated .pb.go counterpart in the retrieval pack
// (see DESIGN.md's note on internal/forward's wire types); the service is
// therefore registered by hand via a grpc.ServiceDesc, and each pushed
// message is a wrapperspb.BytesValue carrying a JSON-encoded traceLine
// rather than a bespoke generated message type.
package forward

import (
	"io"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// traceLine is the JSON payload carried inside each pushed
// wrapperspb.BytesValue.
type traceLine struct {
	Line string `json:"line"`
}

// TraceForwarderServer is the server-side interface of the hand-written
// TraceForwarder gRPC service: a single client-streaming RPC through which
// a daemon pushes its trace lines to a collector.
type TraceForwarderServer interface {
	PushEvents(TraceForwarder_PushEventsServer) error
}

// TraceForwarder_PushEventsServer is the client-streaming handle passed to
// PushEvents, matching the shape protoc-gen-go-grpc would generate for a
// `rpc PushEvents(stream BytesValue) returns (Empty)` method.
type TraceForwarder_PushEventsServer interface {
	Recv() (*wrapperspb.BytesValue, error)
	SendAndClose(*emptypb.Empty) error
	grpc.ServerStream
}

type traceForwarderPushEventsServer struct {
	grpc.ServerStream
}

func (x *traceForwarderPushEventsServer) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (x *traceForwarderPushEventsServer) SendAndClose(m *emptypb.Empty) error {
	return x.SendMsg(m)
}

func _TraceForwarder_PushEvents_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(TraceForwarderServer).PushEvents(&traceForwarderPushEventsServer{stream})
}

// TraceForwarder_ServiceDesc describes the TraceForwarder service for
// grpc.ServiceRegistrar.RegisterService, structurally identical to what
// protoc-gen-go-grpc emits for a single client-streaming RPC.
var TraceForwarder_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "atrace.forward.TraceForwarder",
	HandlerType: (*TraceForwarderServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "PushEvents",
			Handler:       _TraceForwarder_PushEvents_Handler,
			ClientStreams: true,
		},
	},
	Metadata: "internal/forward/forward.proto",
}

// RegisterTraceForwarderServer registers srv on s.
func RegisterTraceForwarderServer(s grpc.ServiceRegistrar, srv TraceForwarderServer) {
	s.RegisterService(&TraceForwarder_ServiceDesc, srv)
}

// Sink receives a single decoded trace line pushed by a daemon. Implemented
// by a collector's own storage/broadcast layer; Service only decodes and
// dispatches.
type Sink interface {
	Accept(line string)
}

// Service implements TraceForwarderServer by decoding each pushed
// wrapperspb.BytesValue and handing the trace line to sink, grounded on the
// teacher's AlertService.StreamAlerts receive loop (alert_service.go) with
// the persist-then-broadcast body replaced by a single Sink call.
type Service struct {
	sink   Sink
	logger *slog.Logger
}

// NewService creates a Service that dispatches every received line to sink.
func NewService(sink Sink, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{sink: sink, logger: logger}
}

// PushEvents implements TraceForwarderServer. It reads BytesValue messages
// until the client half-closes the stream (io.EOF), decoding each one into
// a trace line and handing it to the configured Sink.
func (s *Service) PushEvents(stream TraceForwarder_PushEventsServer) error {
	n := 0
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			s.logger.Info("forward: daemon disconnected", slog.Int("events", n))
			return stream.SendAndClose(&emptypb.Empty{})
		}
		if err != nil {
			return err
		}

		var tl traceLine
		if err := decodeTraceLine(msg.GetValue(), &tl); err != nil {
			s.logger.Warn("forward: dropping undecodable payload", slog.Any("error", err))
			continue
		}
		n++
		s.sink.Accept(tl.Line)
	}
}
