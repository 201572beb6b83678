package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/keepalive"

	"github.com/chrissnell/prodtimeline/internal/events"
	"github.com/chrissnell/prodtimeline/internal/log"
)

// CodecName is the gRPC content-subtype of the push service.
const CodecName = "msgpack"

func init() {
	encoding.RegisterCodec(msgpackCodec{})
}

// msgpackCodec lets the push service carry plain Go structs instead of
// generated protobuf messages.
type msgpackCodec struct{}

func (msgpackCodec) Marshal(v interface{}) ([]byte, error) { return events.Marshal(v) }

func (msgpackCodec) Unmarshal(data []byte, v interface{}) error { return events.Unmarshal(data, v) }

func (msgpackCodec) Name() string { return CodecName }

// FrameOp is a room membership change sent by a push stream client.
type FrameOp string

const (
	OpJoin  FrameOp = "join"
	OpLeave FrameOp = "leave"
)

// Frame is a client-to-server control message on the push stream.
type Frame struct {
	Op        FrameOp `json:"op"`
	MachineID string  `json:"machineId"`
}

// Ack answers a unary publish.
type Ack struct {
	Delivered bool `json:"delivered"`
}

// PushServer is the server side of the push service.
type PushServer interface {
	Publish(context.Context, *events.Envelope) (*Ack, error)
	Stream(PushStreamServer) error
}

// PushStreamServer is the server view of one push stream.
type PushStreamServer interface {
	Send(*events.Envelope) error
	Recv() (*Frame, error)
	grpc.ServerStream
}

const (
	pushServiceName = "prodtimeline.push.v1.Push"
	publishMethod   = "/" + pushServiceName + "/Publish"
	streamMethod    = "/" + pushServiceName + "/Stream"
)

var pushStreamDesc = grpc.StreamDesc{
	StreamName:    "Stream",
	ServerStreams: true,
	ClientStreams: true,
}

var pushServiceDesc = grpc.ServiceDesc{
	ServiceName: pushServiceName,
	HandlerType: (*PushServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Publish", Handler: publishHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    pushStreamDesc.StreamName,
			Handler:       streamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "prodtimeline/push.v1",
}

// RegisterPushServer registers srv with s.
func RegisterPushServer(s grpc.ServiceRegistrar, srv PushServer) {
	s.RegisterService(&pushServiceDesc, srv)
}

func publishHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(events.Envelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PushServer).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: publishMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PushServer).Publish(ctx, req.(*events.Envelope))
	}
	return interceptor(ctx, in, info, handler)
}

func streamHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(PushServer).Stream(&pushStreamServer{stream})
}

type pushStreamServer struct {
	grpc.ServerStream
}

func (s *pushStreamServer) Send(env *events.Envelope) error {
	return s.ServerStream.SendMsg(env)
}

func (s *pushStreamServer) Recv() (*Frame, error) {
	f := new(Frame)
	if err := s.ServerStream.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}

// GRPCTransport is a Transport backed by the push service. A broken stream
// is reopened with backoff and every joined room is joined again.
type GRPCTransport struct {
	cc     *grpc.ClientConn
	logger *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	stream grpc.ClientStream
	rooms  map[string]struct{}

	out chan events.Envelope
}

var _ Transport = (*GRPCTransport)(nil)

// DialGRPC connects to the push service at endpoint and opens the stream.
func DialGRPC(ctx context.Context, endpoint string, logger *zap.SugaredLogger) (*GRPCTransport, error) {
	if logger == nil {
		logger = log.Named("channel.grpc")
	}

	cc, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC client: %w", err)
	}

	tctx, cancel := context.WithCancel(context.Background())
	t := &GRPCTransport{
		cc:     cc,
		logger: logger,
		ctx:    tctx,
		cancel: cancel,
		rooms:  make(map[string]struct{}),
		out:    make(chan events.Envelope, clientBuffer),
	}

	stream, err := t.open(ctx)
	if err != nil {
		cancel()
		cc.Close()
		return nil, err
	}
	t.stream = stream

	t.wg.Add(1)
	go t.receive(stream)

	logger.Infow("connected to push service", "endpoint", endpoint)
	return t, nil
}

func (t *GRPCTransport) open(ctx context.Context) (grpc.ClientStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// The stream lives as long as the transport, not as long as ctx.
	stream, err := t.cc.NewStream(t.ctx, &pushStreamDesc, streamMethod)
	if err != nil {
		return nil, fmt.Errorf("opening push stream: %w", err)
	}
	return stream, nil
}

func (t *GRPCTransport) receive(stream grpc.ClientStream) {
	defer t.wg.Done()

	for {
		env := new(events.Envelope)
		err := stream.RecvMsg(env)
		if err == nil {
			select {
			case t.out <- *env:
			case <-t.ctx.Done():
				return
			}
			continue
		}

		if t.ctx.Err() != nil {
			return
		}
		t.logger.Warnw("push stream broken, reconnecting", "error", err)
		next, ok := t.reconnect()
		if !ok {
			return
		}
		stream = next
	}
}

// reconnect reopens the stream and replays room membership. It gives up only
// when the transport is closed.
func (t *GRPCTransport) reconnect() (grpc.ClientStream, bool) {
	backoff := time.Second
	for {
		select {
		case <-t.ctx.Done():
			return nil, false
		case <-time.After(backoff):
		}

		stream, err := t.open(t.ctx)
		if err == nil {
			t.mu.Lock()
			t.stream = stream
			for id := range t.rooms {
				if err = stream.SendMsg(&Frame{Op: OpJoin, MachineID: id}); err != nil {
					break
				}
			}
			t.mu.Unlock()
			if err == nil {
				t.logger.Info("push stream re-established")
				return stream, true
			}
		}

		t.logger.Warnw("push stream reconnect failed", "error", err, "retry_in", backoff)
		backoff = min(backoff*2, 30*time.Second)
	}
}

func (t *GRPCTransport) send(f Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ctx.Err() != nil {
		return ErrClosed
	}
	switch f.Op {
	case OpJoin:
		t.rooms[f.MachineID] = struct{}{}
	case OpLeave:
		delete(t.rooms, f.MachineID)
	}
	if err := t.stream.SendMsg(&f); err != nil {
		// Membership is replayed on reconnect.
		t.logger.Debugw("push stream send failed", "op", f.Op, "machine", f.MachineID, "error", err)
	}
	return nil
}

func (t *GRPCTransport) Join(_ context.Context, machineID string) error {
	return t.send(Frame{Op: OpJoin, MachineID: machineID})
}

func (t *GRPCTransport) Leave(_ context.Context, machineID string) error {
	return t.send(Frame{Op: OpLeave, MachineID: machineID})
}

func (t *GRPCTransport) Publish(ctx context.Context, env events.Envelope) error {
	ack := new(Ack)
	if err := t.cc.Invoke(ctx, publishMethod, &env, ack); err != nil {
		return fmt.Errorf("publishing %s: %w", env.Name, err)
	}
	return nil
}

func (t *GRPCTransport) Receive() <-chan events.Envelope {
	return t.out
}

func (t *GRPCTransport) Close() error {
	t.mu.Lock()
	if t.ctx.Err() != nil {
		t.mu.Unlock()
		return nil
	}
	t.cancel()
	t.mu.Unlock()

	t.wg.Wait()
	close(t.out)
	return t.cc.Close()
}
