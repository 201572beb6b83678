// Package pushserver serves the push channel over gRPC. Rooms live in a
// channel.Hub that the reference store publishes into.
package pushserver

import (
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/chrissnell/prodtimeline/internal/channel"
	"github.com/chrissnell/prodtimeline/internal/log"
)

// stopGrace is how long Stop waits for streams to finish before cutting
// them off.
const stopGrace = 5 * time.Second

// Controller represents the gRPC push controller
type Controller struct {
	Server *grpc.Server
	hub    *channel.Hub
	logger *zap.SugaredLogger
}

// NewController creates a push controller serving hub
func NewController(hub *channel.Hub, logger *zap.SugaredLogger, opts ...grpc.ServerOption) *Controller {
	if logger == nil {
		logger = log.Named("pushserver")
	}

	opts = append([]grpc.ServerOption{
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             15 * time.Second,
			PermitWithoutStream: true,
		}),
	}, opts...)

	ctrl := &Controller{
		Server: grpc.NewServer(opts...),
		hub:    hub,
		logger: logger,
	}

	// Register the push service and reflection
	channel.RegisterPushServer(ctrl.Server, channel.NewHubServer(hub, logger))
	reflection.Register(ctrl.Server)

	return ctrl
}

// Serve accepts push connections on l until Stop is called
func (c *Controller) Serve(l net.Listener) error {
	c.logger.Infow("push service listening", "addr", l.Addr().String())
	return c.Server.Serve(l)
}

// Stop drains the server. Streams still open after stopGrace are closed.
func (c *Controller) Stop() {
	c.logger.Info("stopping push service")
	done := make(chan struct{})
	go func() {
		c.Server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopGrace):
		c.Server.Stop()
		<-done
	}
}
