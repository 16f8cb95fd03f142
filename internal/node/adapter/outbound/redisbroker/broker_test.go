package redisbroker

import "testing"

func TestChannelNames(t *testing.T) {
	b := &Broker{prefix: "kv", nodeID: "node-1"}

	if got := b.nodeChannel("node-2"); got != "kv.node.node-2" {
		t.Errorf("nodeChannel = %s", got)
	}
	if got := b.broadcastChannel(); got != "kv.broadcast" {
		t.Errorf("broadcastChannel = %s", got)
	}
}
