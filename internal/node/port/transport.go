package port

import (
	"context"

	"github.com/anthanhphan/go-replicated-kv/internal/node/protocol"
)

//go:generate mockgen -destination=../service/mocks/transport_mock.go -package=mocks -source=transport.go

// Transport is the boundary with the message broker. Delivery is assumed
// reliable and FIFO per sender-receiver pair; messages sent to a failed node
// are silently lost, not queued.
type Transport interface {
	// Send publishes an envelope to a single destination node.
	Send(ctx context.Context, dest string, env protocol.Envelope) error

	// Broadcast publishes an envelope to every node on the broker.
	Broadcast(ctx context.Context, env protocol.Envelope) error

	// Inbound delivers envelopes addressed to this node, in per-link order.
	Inbound() <-chan protocol.Envelope

	// Close tears the subscription down and closes the inbound channel.
	Close() error
}
