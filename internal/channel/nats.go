package channel

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/chrissnell/prodtimeline/internal/events"
	"github.com/chrissnell/prodtimeline/internal/log"
)

// DefaultSubjectPrefix prefixes every machine room subject.
const DefaultSubjectPrefix = "prodtimeline.machine"

// NATSTransport maps each machine room onto one NATS subject.
type NATSTransport struct {
	nc     *nats.Conn
	owned  bool
	prefix string
	logger *zap.SugaredLogger

	mu     sync.RWMutex
	subs   map[string]*nats.Subscription
	out    chan events.Envelope
	closed bool
}

var _ Transport = (*NATSTransport)(nil)

// NewNATSTransport uses an existing connection, which the caller keeps
// owning.
func NewNATSTransport(nc *nats.Conn, prefix string, logger *zap.SugaredLogger) *NATSTransport {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = log.Named("channel.nats")
	}
	return &NATSTransport{
		nc:     nc,
		prefix: prefix,
		logger: logger,
		subs:   make(map[string]*nats.Subscription),
		out:    make(chan events.Envelope, clientBuffer),
	}
}

// DialNATS connects to url and returns a transport that closes the connection
// when it is closed.
func DialNATS(url, prefix string, logger *zap.SugaredLogger) (*NATSTransport, error) {
	nc, err := nats.Connect(url,
		nats.Name("prodtimeline"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	t := NewNATSTransport(nc, prefix, logger)
	t.owned = true
	return t, nil
}

// Subject returns the subject carrying the events of machineID.
func (t *NATSTransport) Subject(machineID string) string {
	return t.prefix + "." + subjectToken(machineID)
}

// subjectToken keeps machine ids from introducing extra tokens or wildcards.
func subjectToken(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, id)
}

func (t *NATSTransport) Join(_ context.Context, machineID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if _, ok := t.subs[machineID]; ok {
		return nil
	}
	sub, err := t.nc.Subscribe(t.Subject(machineID), t.handle)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", t.Subject(machineID), err)
	}
	t.subs[machineID] = sub
	// Make sure the server knows about the interest before we return so a
	// publish right after Join is not lost.
	return t.nc.Flush()
}

func (t *NATSTransport) Leave(_ context.Context, machineID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	sub, ok := t.subs[machineID]
	if !ok {
		return nil
	}
	delete(t.subs, machineID)
	return sub.Unsubscribe()
}

func (t *NATSTransport) handle(msg *nats.Msg) {
	env, err := events.UnmarshalEnvelope(msg.Data)
	if err != nil {
		t.logger.Warnw("dropping malformed envelope", "subject", msg.Subject, "error", err)
		return
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.out <- env:
	default:
		t.logger.Warnw("receiver is falling behind, event dropped", "event", env.Name, "machine", env.MachineID)
	}
}

func (t *NATSTransport) Publish(_ context.Context, env events.Envelope) error {
	b, err := events.MarshalEnvelope(env)
	if err != nil {
		return err
	}
	if err := t.nc.Publish(t.Subject(env.MachineID), b); err != nil {
		return fmt.Errorf("publishing %s: %w", env.Name, err)
	}
	return nil
}

func (t *NATSTransport) Receive() <-chan events.Envelope {
	return t.out
}

func (t *NATSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	for id, sub := range t.subs {
		if err := sub.Unsubscribe(); err != nil {
			t.logger.Debugw("unsubscribe on close failed", "machine", id, "error", err)
		}
	}
	t.subs = nil
	close(t.out)
	t.mu.Unlock()

	if t.owned {
		t.nc.Close()
	}
	return nil
}
