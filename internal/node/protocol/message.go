package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/pkg/ring"
)

// Kind is the closed set of message kinds exchanged over the broker.
// The runtime dispatcher switches on Kind exhaustively.
type Kind string

const (
	// Control plane: membership and liveness injection.
	KindStartNode   Kind = "startNode"
	KindFailNode    Kind = "failNode"
	KindRecoverNode Kind = "recoverNode"

	// Client-facing data plane.
	KindSet         Kind = "set"
	KindSetResponse Kind = "setResponse"
	KindGet         Kind = "get"
	KindGetResponse Kind = "getResponse"

	// Replica data plane.
	KindReplicate      Kind = "replicate"
	KindReplicateAck   Kind = "replicateAck"
	KindReadReplica    Kind = "readReplica"
	KindReadReplicaAck Kind = "readReplicaAck"

	// Stabilization.
	KindPullRange      Kind = "pullRange"
	KindPullRangeReply Kind = "pullRangeReply"
)

// Valid reports whether k is part of the protocol vocabulary.
func (k Kind) Valid() bool {
	switch k {
	case KindStartNode, KindFailNode, KindRecoverNode,
		KindSet, KindSetResponse, KindGet, KindGetResponse,
		KindReplicate, KindReplicateAck, KindReadReplica, KindReadReplicaAck,
		KindPullRange, KindPullRangeReply:
		return true
	default:
		return false
	}
}

// Control reports whether k belongs to the control plane. Control messages
// are applied even by Failed nodes so that every node keeps an identical
// membership view and a failed node can still observe its recovery trigger.
func (k Kind) Control() bool {
	switch k {
	case KindStartNode, KindFailNode, KindRecoverNode:
		return true
	default:
		return false
	}
}

// Status is the outcome carried by setResponse/getResponse.
type Status string

const (
	StatusOK       Status = "ok"
	StatusFailed   Status = "failed"
	StatusDegraded Status = "degraded"
)

// Envelope is the single wire frame for all message kinds. Unused fields are
// omitted on the wire; which fields are meaningful depends on Kind.
type Envelope struct {
	Kind          Kind              `json:"kind"`
	Source        string            `json:"source,omitempty"`
	Destination   string            `json:"destination,omitempty"` // empty = broadcast
	CorrelationID int64             `json:"correlation_id,omitempty"`
	Node          string            `json:"node,omitempty"` // start/fail/recover target
	Key           string            `json:"key,omitempty"`
	Value         string            `json:"value,omitempty"`
	Found         bool              `json:"found,omitempty"`
	Applied       bool              `json:"applied,omitempty"`
	Version       int64             `json:"version,omitempty"` // replica's stored version on replicateAck
	Status        Status            `json:"status,omitempty"`
	Entry         *domain.Entry     `json:"entry,omitempty"`
	Entries       []domain.Entry    `json:"entries,omitempty"`
	Ranges        []ring.TokenRange `json:"ranges,omitempty"`
}

// Encode serializes an envelope to its JSON wire form.
func Encode(env Envelope) ([]byte, error) {
	if !env.Kind.Valid() {
		return nil, fmt.Errorf("encode: unknown message kind %q", env.Kind)
	}
	return json.Marshal(env)
}

// Decode parses a wire frame. A frame with an unknown kind is a protocol
// violation surfaced as an error; the caller drops that message only.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if !env.Kind.Valid() {
		return Envelope{}, fmt.Errorf("decode: unknown message kind %q", env.Kind)
	}
	return env, nil
}
