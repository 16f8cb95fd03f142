// Package bus is an in-process stand-in for the external pub/sub broker.
// It preserves per-link FIFO delivery and simulates the unreliable network:
// messages addressed to a node marked down are silently lost (not queued),
// and an optional duplication knob re-delivers data-plane messages to
// exercise merge idempotence. Control-plane kinds bypass the down filter so
// liveness injection stays deliverable.
package bus

import (
	"context"
	"sync"

	"github.com/anthanhphan/gosdk/logger"

	"github.com/anthanhphan/go-replicated-kv/internal/node/protocol"
)

const defaultInboundBuffer = 1024

// Bus connects a set of node connections in one process.
type Bus struct {
	mu        sync.RWMutex
	conns     map[string]*Conn
	down      map[string]bool
	duplicate bool
	buffer    int
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		conns:  make(map[string]*Conn),
		down:   make(map[string]bool),
		buffer: defaultInboundBuffer,
	}
}

// SetDuplication toggles double delivery of data-plane messages.
func (b *Bus) SetDuplication(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.duplicate = enabled
}

// Attach registers a node on the bus and returns its connection.
// Attaching an already attached node returns the existing connection.
func (b *Bus) Attach(nodeID string) *Conn {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.conns[nodeID]; ok {
		return c
	}
	c := &Conn{
		bus:     b,
		nodeID:  nodeID,
		inbound: make(chan protocol.Envelope, b.buffer),
	}
	b.conns[nodeID] = c
	return c
}

// SetNodeDown makes the node unreachable for data-plane traffic.
func (b *Bus) SetNodeDown(nodeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down[nodeID] = true
}

// SetNodeUp restores data-plane reachability.
func (b *Bus) SetNodeUp(nodeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.down, nodeID)
}

func (b *Bus) deliver(dest string, env protocol.Envelope) {
	b.mu.RLock()
	conn, ok := b.conns[dest]
	dropped := b.down[dest] && !env.Kind.Control()
	dup := b.duplicate && !env.Kind.Control()
	b.mu.RUnlock()

	if !ok || dropped {
		// Unreachable destination: the broker loses the message.
		return
	}

	conn.push(env)
	if dup {
		conn.push(env)
	}
}

func (b *Bus) broadcast(source string, env protocol.Envelope) {
	b.mu.RLock()
	dests := make([]string, 0, len(b.conns))
	for id := range b.conns {
		if id != source {
			dests = append(dests, id)
		}
	}
	b.mu.RUnlock()

	for _, dest := range dests {
		b.deliver(dest, env)
	}
}

// Conn is a single node's handle on the bus, implementing port.Transport.
type Conn struct {
	bus     *Bus
	nodeID  string
	inbound chan protocol.Envelope

	closeOnce sync.Once
	closed    chan struct{}
	initOnce  sync.Once
}

func (c *Conn) closedCh() chan struct{} {
	c.initOnce.Do(func() { c.closed = make(chan struct{}) })
	return c.closed
}

// NodeID returns the attached node's identifier.
func (c *Conn) NodeID() string {
	return c.nodeID
}

// Send publishes an envelope to a single destination.
func (c *Conn) Send(_ context.Context, dest string, env protocol.Envelope) error {
	env.Source = c.nodeID
	env.Destination = dest
	c.bus.deliver(dest, env)
	return nil
}

// Broadcast publishes an envelope to every other node on the bus.
func (c *Conn) Broadcast(_ context.Context, env protocol.Envelope) error {
	env.Source = c.nodeID
	env.Destination = ""
	c.bus.broadcast(c.nodeID, env)
	return nil
}

// Inbound returns the delivery channel for this node.
func (c *Conn) Inbound() <-chan protocol.Envelope {
	return c.inbound
}

// Close detaches the connection.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closedCh())
		c.bus.mu.Lock()
		delete(c.bus.conns, c.nodeID)
		c.bus.mu.Unlock()
	})
	return nil
}

func (c *Conn) push(env protocol.Envelope) {
	select {
	case <-c.closedCh():
	case c.inbound <- env:
	default:
		// Full inbox on an unreliable network: the message is lost.
		logger.Warnw("bus inbox full, dropping message",
			"dest", c.nodeID, "kind", string(env.Kind))
	}
}
