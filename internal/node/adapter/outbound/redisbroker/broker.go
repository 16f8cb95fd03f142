// Package redisbroker implements port.Transport over Redis pub/sub.
// Every node subscribes to its own channel plus a cluster-wide broadcast
// channel; envelopes travel as JSON. Redis preserves publish order per
// connection, which gives the per-link FIFO the protocol assumes.
package redisbroker

import (
	"context"
	"fmt"
	"sync"

	"github.com/anthanhphan/gosdk/logger"
	"github.com/redis/go-redis/v9"

	"github.com/anthanhphan/go-replicated-kv/internal/node/port"
	"github.com/anthanhphan/go-replicated-kv/internal/node/protocol"
	"github.com/anthanhphan/go-replicated-kv/pkg/resilience"
)

const (
	defaultPrefix  = "kv"
	inboundBuffer  = 1024
	publishWorkers = 8
	publishQueue   = 256
)

// Broker is a single node's handle on the Redis broker.
type Broker struct {
	client *redis.Client
	sub    *redis.PubSub
	nodeID string
	prefix string

	inbound chan protocol.Envelope
	pool    *resilience.WorkerPool

	mu       sync.Mutex
	breakers map[string]*resilience.CircuitBreaker

	cancel context.CancelFunc
}

// Ensure Broker implements port.Transport.
var _ port.Transport = (*Broker)(nil)

// New subscribes the node and starts the consume loop.
func New(ctx context.Context, client *redis.Client, nodeID, prefix string) (*Broker, error) {
	if prefix == "" {
		prefix = defaultPrefix
	}

	b := &Broker{
		client:   client,
		nodeID:   nodeID,
		prefix:   prefix,
		inbound:  make(chan protocol.Envelope, inboundBuffer),
		pool:     resilience.NewWorkerPool(publishWorkers, publishQueue),
		breakers: make(map[string]*resilience.CircuitBreaker),
	}

	sub := client.Subscribe(ctx, b.nodeChannel(nodeID), b.broadcastChannel())
	// Wait for the subscription to be confirmed before reporting ready,
	// otherwise early broadcasts (startNode) can be missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe to broker: %w", err)
	}
	b.sub = sub

	consumeCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	go b.consume(consumeCtx)

	return b, nil
}

// Send publishes an envelope to a single destination's channel.
func (b *Broker) Send(ctx context.Context, dest string, env protocol.Envelope) error {
	env.Source = b.nodeID
	env.Destination = dest
	return b.publish(ctx, b.nodeChannel(dest), dest, env)
}

// Broadcast publishes an envelope to the cluster-wide channel.
func (b *Broker) Broadcast(ctx context.Context, env protocol.Envelope) error {
	env.Source = b.nodeID
	env.Destination = ""
	return b.publish(ctx, b.broadcastChannel(), "broadcast", env)
}

// Inbound returns the delivery channel for this node.
func (b *Broker) Inbound() <-chan protocol.Envelope {
	return b.inbound
}

// Close tears the subscription down.
func (b *Broker) Close() error {
	b.cancel()
	b.pool.Close()
	return b.sub.Close()
}

func (b *Broker) publish(ctx context.Context, channel, dest string, env protocol.Envelope) error {
	payload, err := protocol.Encode(env)
	if err != nil {
		return err
	}

	breaker := b.breakerFor(dest)
	// Publishing happens off the caller's path; a slow or dead channel must
	// not stall the dispatch loop or replica fan-out.
	return b.pool.Submit(ctx, func() {
		err := breaker.Execute(context.Background(), func(ctx context.Context) error {
			return b.client.Publish(ctx, channel, payload).Err()
		})
		if err != nil {
			logger.Warnw("broker publish failed",
				"node", b.nodeID, "channel", channel, "kind", string(env.Kind), "error", err.Error())
		}
	})
}

func (b *Broker) breakerFor(dest string) *resilience.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	cb, ok := b.breakers[dest]
	if !ok {
		cb = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: dest})
		b.breakers[dest] = cb
	}
	return cb
}

func (b *Broker) consume(ctx context.Context) {
	ch := b.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				close(b.inbound)
				return
			}
			env, err := protocol.Decode([]byte(msg.Payload))
			if err != nil {
				logger.Warnw("dropping malformed broker frame",
					"node", b.nodeID, "channel", msg.Channel, "error", err.Error())
				continue
			}
			if env.Source == b.nodeID {
				continue // own broadcast echo
			}
			select {
			case b.inbound <- env:
			default:
				logger.Warnw("inbound buffer full, dropping message",
					"node", b.nodeID, "kind", string(env.Kind), "source", env.Source)
			}
		}
	}
}

func (b *Broker) nodeChannel(nodeID string) string {
	return fmt.Sprintf("%s.node.%s", b.prefix, nodeID)
}

func (b *Broker) broadcastChannel() string {
	return fmt.Sprintf("%s.broadcast", b.prefix)
}
