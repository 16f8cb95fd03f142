package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/pkg/ring"
)

func TestEncodeDecode(t *testing.T) {
	env := Envelope{
		Kind:          KindReplicate,
		Source:        "node-1",
		Destination:   "node-2",
		CorrelationID: 42,
		Key:           "user:7",
		Entry:         &domain.Entry{Key: "user:7", Value: "alice", Version: 3, Origin: "node-1"},
	}

	data, err := Encode(env)
	assert.NoError(t, err)

	decoded, err := Decode(data)
	assert.NoError(t, err)
	assert.Equal(t, env, decoded)
}

func TestEncodeDecode_PullRange(t *testing.T) {
	env := Envelope{
		Kind:          KindPullRange,
		Source:        "node-3",
		CorrelationID: 7,
		Ranges:        []ring.TokenRange{{From: 10, To: 2000}, {From: 5000, To: 100}},
	}

	data, err := Encode(env)
	assert.NoError(t, err)

	decoded, err := Decode(data)
	assert.NoError(t, err)
	assert.Equal(t, env.Ranges, decoded.Ranges)
}

func TestEncode_UnknownKind(t *testing.T) {
	_, err := Encode(Envelope{Kind: "launchMissiles"})
	assert.Error(t, err)
}

func TestDecode_UnknownKind(t *testing.T) {
	_, err := Decode([]byte(`{"kind":"bogus"}`))
	assert.Error(t, err)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	assert.Error(t, err)
}

func TestKind_Control(t *testing.T) {
	assert.True(t, KindStartNode.Control())
	assert.True(t, KindFailNode.Control())
	assert.True(t, KindRecoverNode.Control())

	assert.False(t, KindSet.Control())
	assert.False(t, KindReplicate.Control())
	assert.False(t, KindPullRangeReply.Control())
}

func TestKind_Valid(t *testing.T) {
	assert.True(t, KindSet.Valid())
	assert.True(t, KindPullRangeReply.Valid())
	assert.False(t, Kind("").Valid())
	assert.False(t, Kind("set ").Valid())
}
