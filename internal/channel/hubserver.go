package channel

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/chrissnell/prodtimeline/internal/events"
	"github.com/chrissnell/prodtimeline/internal/log"
)

// HubServer serves the push service from a Hub: each stream gets its own hub
// client and publishes go straight into the hub.
type HubServer struct {
	hub    *Hub
	logger *zap.SugaredLogger
}

var _ PushServer = (*HubServer)(nil)

// NewHubServer returns a push service backed by hub.
func NewHubServer(hub *Hub, logger *zap.SugaredLogger) *HubServer {
	if logger == nil {
		logger = log.Named("pushserver")
	}
	return &HubServer{hub: hub, logger: logger}
}

// Publish validates the envelope and broadcasts it.
func (s *HubServer) Publish(ctx context.Context, env *events.Envelope) (*Ack, error) {
	if _, err := events.Decode(*env); err != nil {
		return nil, err
	}
	if err := s.hub.Publish(ctx, *env); err != nil {
		return nil, err
	}
	return &Ack{Delivered: true}, nil
}

// Stream applies the client's join and leave frames and forwards every
// envelope of the joined rooms until either side goes away.
func (s *HubServer) Stream(stream PushStreamServer) error {
	client := s.hub.Connect()
	defer client.Close()

	ctx := stream.Context()
	recvErr := make(chan error, 1)
	go func() {
		for {
			f, err := stream.Recv()
			if err != nil {
				recvErr <- err
				return
			}
			switch f.Op {
			case OpJoin:
				err = client.Join(ctx, f.MachineID)
			case OpLeave:
				err = client.Leave(ctx, f.MachineID)
			default:
				s.logger.Warnw("ignoring unknown push frame", "op", f.Op)
			}
			if err != nil {
				recvErr <- err
				return
			}
		}
	}()

	for {
		select {
		case env, ok := <-client.Receive():
			if !ok {
				return nil
			}
			if err := stream.Send(&env); err != nil {
				return err
			}
		case err := <-recvErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case <-ctx.Done():
			return nil
		}
	}
}
