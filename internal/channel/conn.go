// Package channel is the push-notification connection used by timeline
// views. A Conn owns one Transport, reference-counts room membership per
// machine and hands decoded events to the subscribers of that machine.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/chrissnell/prodtimeline/internal/events"
	"github.com/chrissnell/prodtimeline/internal/log"
)

// ErrClosed is returned by operations on a closed Conn or Transport.
var ErrClosed = errors.New("channel closed")

// Transport moves envelopes between this process and the rooms it joined.
// Receive is closed once the transport is closed.
type Transport interface {
	Join(ctx context.Context, machineID string) error
	Leave(ctx context.Context, machineID string) error
	Publish(ctx context.Context, env events.Envelope) error
	Receive() <-chan events.Envelope
	Close() error
}

// Handler receives the events of one machine. It runs on the Conn's dispatch
// goroutine and must not block.
type Handler func(events.Event)

// Conn is an explicit connection handle shared by the views of a process.
type Conn struct {
	transport Transport
	logger    *zap.SugaredLogger

	// joinMu serialises membership changes, which call the transport.
	joinMu sync.Mutex

	mu     sync.Mutex
	rooms  map[string]int
	subs   map[string]map[uint64]Handler
	nextID uint64
	closed bool

	done chan struct{}
}

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithLogger sets the logger used by the Conn.
func WithLogger(l *zap.SugaredLogger) ConnOption {
	return func(c *Conn) {
		c.logger = l
	}
}

// NewConn starts dispatching envelopes received by t.
func NewConn(t Transport, opts ...ConnOption) *Conn {
	c := &Conn{
		transport: t,
		logger:    log.Named("channel"),
		rooms:     make(map[string]int),
		subs:      make(map[string]map[uint64]Handler),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.dispatch()
	return c
}

func (c *Conn) dispatch() {
	defer close(c.done)

	for env := range c.transport.Receive() {
		e, err := events.Decode(env)
		if err != nil {
			c.logger.Warnw("dropping undecodable event", "event", env.Name, "machine", env.MachineID, "error", err)
			continue
		}

		c.mu.Lock()
		handlers := make([]Handler, 0, len(c.subs[env.MachineID]))
		for _, h := range c.subs[env.MachineID] {
			handlers = append(handlers, h)
		}
		c.mu.Unlock()

		for _, h := range handlers {
			h(e)
		}
	}
}

// Subscription is one handler registered for one machine.
type Subscription struct {
	conn      *Conn
	machineID string
	id        uint64
	once      sync.Once
}

// MachineID returns the machine the subscription listens to.
func (s *Subscription) MachineID() string {
	return s.machineID
}

// Subscribe registers h for the events of machineID, joining the machine's
// room if h is its first subscriber.
func (c *Conn) Subscribe(ctx context.Context, machineID string, h Handler) (*Subscription, error) {
	c.joinMu.Lock()
	defer c.joinMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	first := c.rooms[machineID] == 0
	c.mu.Unlock()

	if first {
		if err := c.transport.Join(ctx, machineID); err != nil {
			return nil, fmt.Errorf("joining room %s: %w", machineID, err)
		}
		c.logger.Debugw("joined room", "machine", machineID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	if c.subs[machineID] == nil {
		c.subs[machineID] = make(map[uint64]Handler)
	}
	c.subs[machineID][c.nextID] = h
	c.rooms[machineID]++

	return &Subscription{conn: c, machineID: machineID, id: c.nextID}, nil
}

// Unsubscribe removes the handler and leaves the room once no subscriber is
// left. Calling it more than once is harmless.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		err = s.conn.unsubscribe(ctx, s)
	})
	return err
}

func (c *Conn) unsubscribe(ctx context.Context, s *Subscription) error {
	c.joinMu.Lock()
	defer c.joinMu.Unlock()

	c.mu.Lock()
	delete(c.subs[s.machineID], s.id)
	if len(c.subs[s.machineID]) == 0 {
		delete(c.subs, s.machineID)
	}
	c.rooms[s.machineID]--
	last := c.rooms[s.machineID] <= 0
	if last {
		delete(c.rooms, s.machineID)
	}
	closed := c.closed
	c.mu.Unlock()

	if !last || closed {
		return nil
	}
	if err := c.transport.Leave(ctx, s.machineID); err != nil {
		return fmt.Errorf("leaving room %s: %w", s.machineID, err)
	}
	c.logger.Debugw("left room", "machine", s.machineID)
	return nil
}

// Members returns the number of subscribers of machineID.
func (c *Conn) Members(machineID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[machineID]
}

// Publish broadcasts e to every observer of its machine, including this
// process when it has joined the room.
func (c *Conn) Publish(ctx context.Context, e events.Event) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	env, err := events.Encode(e)
	if err != nil {
		return err
	}
	return c.transport.Publish(ctx, env)
}

// Close closes the transport and waits for the dispatcher to drain.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.transport.Close()
	<-c.done
	return err
}
