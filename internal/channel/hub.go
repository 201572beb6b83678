package channel

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/chrissnell/prodtimeline/internal/events"
	"github.com/chrissnell/prodtimeline/internal/log"
)

// clientBuffer is the number of envelopes a hub client can fall behind by
// before new ones are dropped.
const clientBuffer = 1024

// Hub is an in-process room broker. The reference server publishes into it
// and the push service hands each remote stream its own client; in a single
// process views can use a client directly as their Transport.
type Hub struct {
	logger *zap.SugaredLogger

	mu    sync.RWMutex
	rooms map[string]map[*HubClient]struct{}
}

// NewHub returns an empty hub.
func NewHub(logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = log.Named("hub")
	}
	return &Hub{logger: logger, rooms: make(map[string]map[*HubClient]struct{})}
}

// Connect returns a new client with no room membership.
func (h *Hub) Connect() *HubClient {
	return &HubClient{hub: h, out: make(chan events.Envelope, clientBuffer)}
}

// Publish delivers env to every client in the room of env.MachineID. A client
// whose buffer is full misses the envelope; the drop is logged.
func (h *Hub) Publish(_ context.Context, env events.Envelope) error {
	h.mu.RLock()
	clients := make([]*HubClient, 0, len(h.rooms[env.MachineID]))
	for c := range h.rooms[env.MachineID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.deliver(env) {
			h.logger.Warnw("hub client is falling behind, event dropped", "event", env.Name, "machine", env.MachineID)
		}
	}
	return nil
}

// Members returns the number of clients in a room.
func (h *Hub) Members(machineID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[machineID])
}

func (h *Hub) join(c *HubClient, machineID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[machineID] == nil {
		h.rooms[machineID] = make(map[*HubClient]struct{})
	}
	h.rooms[machineID][c] = struct{}{}
}

func (h *Hub) leave(c *HubClient, machineID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms[machineID], c)
	if len(h.rooms[machineID]) == 0 {
		delete(h.rooms, machineID)
	}
}

func (h *Hub) leaveAll(c *HubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, id)
		}
	}
}

// HubClient is one connection to a Hub. It implements Transport.
type HubClient struct {
	hub *Hub

	mu     sync.RWMutex
	out    chan events.Envelope
	closed bool
}

var _ Transport = (*HubClient)(nil)

func (c *HubClient) Join(_ context.Context, machineID string) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.hub.join(c, machineID)
	return nil
}

func (c *HubClient) Leave(_ context.Context, machineID string) error {
	c.hub.leave(c, machineID)
	return nil
}

func (c *HubClient) Publish(ctx context.Context, env events.Envelope) error {
	if c.isClosed() {
		return ErrClosed
	}
	return c.hub.Publish(ctx, env)
}

func (c *HubClient) Receive() <-chan events.Envelope {
	return c.out
}

func (c *HubClient) Close() error {
	c.hub.leaveAll(c)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
	return nil
}

func (c *HubClient) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// deliver queues env without blocking. It reports false when the buffer is
// full; a closed client silently discards.
func (c *HubClient) deliver(env events.Envelope) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return true
	}
	select {
	case c.out <- env:
		return true
	default:
		return false
	}
}
