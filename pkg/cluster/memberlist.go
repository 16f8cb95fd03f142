// Package cluster provides node discovery over memberlist gossip. Discovery
// only seeds the membership view; all replication traffic stays on the
// broker, and gossip suspicion never changes a node's liveness state.
package cluster

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/anthanhphan/gosdk/logger"
	"github.com/hashicorp/memberlist"

	"github.com/anthanhphan/go-replicated-kv/pkg/ring"
)

// JoinFunc is invoked for every discovered member, the local node included.
type JoinFunc func(node ring.Node)

// Adapter implements port.MembershipPort using memberlist.
type Adapter struct {
	list *memberlist.Memberlist
	conf *memberlist.Config

	nodeID     string
	addr       string
	port       int
	serverPort int

	onJoin JoinFunc
}

// Ensure Adapter implements Memberlist Delegate
var _ memberlist.Delegate = (*Adapter)(nil)

// NewAdapter creates a new membership adapter. onJoin is called for every
// member the gossip layer learns about.
func NewAdapter(nodeID string, bindAddr string, bindPort int, serverPort int, onJoin JoinFunc) (*Adapter, error) {
	config := memberlist.DefaultLANConfig()
	config.Name = nodeID
	config.BindAddr = bindAddr
	config.BindPort = bindPort
	config.AdvertisePort = bindPort

	// Disable logging for now
	config.LogOutput = io.Discard

	adapter := &Adapter{
		conf:       config,
		nodeID:     nodeID,
		addr:       bindAddr,
		port:       bindPort,
		serverPort: serverPort,
		onJoin:     onJoin,
	}

	config.Events = adapter   // Handle join/leave events
	config.Delegate = adapter // Handle metadata exchange

	list, err := memberlist.Create(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	adapter.list = list

	if onJoin != nil {
		onJoin(adapter.LocalNode())
	}

	return adapter, nil
}

// Join joins the cluster using seed nodes.
func (a *Adapter) Join(seeds []string) error {
	if len(seeds) > 0 {
		_, err := a.list.Join(seeds)
		if err != nil {
			return fmt.Errorf("failed to join cluster: %w", err)
		}
	}
	return nil
}

// Leave leaves the cluster.
func (a *Adapter) Leave() error {
	// gracefully leave
	if err := a.list.Leave(time.Second * 5); err != nil {
		return err
	}
	return a.list.Shutdown()
}

// NodeMeta returns the local node metadata.
func (a *Adapter) NodeMeta(limit int) []byte {
	data, err := json.Marshal(map[string]interface{}{
		"server_port": a.serverPort,
	})
	if err != nil {
		logger.Warnw("failed to marshal gossip node meta", "error", err.Error())
		return nil
	}
	return data
}

// NotifyMsg, GetBroadcasts, LocalState, MergeRemoteState are not used here but required by Delegate
func (a *Adapter) NotifyMsg([]byte)                           {}
func (a *Adapter) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (a *Adapter) LocalState(join bool) []byte                { return nil }
func (a *Adapter) MergeRemoteState(buf []byte, join bool)     {}

// Members returns the list of current members.
func (a *Adapter) Members() []ring.Node {
	members := a.list.Members()
	nodes := make([]ring.Node, 0, len(members))
	for _, m := range members {
		nodes = append(nodes, memberNode(m))
	}
	return nodes
}

// LocalNode returns the local node info.
func (a *Adapter) LocalNode() ring.Node {
	addr := a.serverHost()
	return ring.Node{
		ID:   a.nodeID,
		Addr: net.JoinHostPort(addr, strconv.Itoa(a.serverPort)),
	}
}

// NotifyJoin is invoked when a node joins.
func (a *Adapter) NotifyJoin(node *memberlist.Node) {
	n := memberNode(node)
	logger.Infow("node discovered", "id", n.ID, "addr", n.Addr)
	if a.onJoin != nil {
		a.onJoin(n)
	}
}

// NotifyLeave is invoked when a node leaves. Membership is append-only:
// unreachable members stay on the ring, availability is tracked by explicit
// liveness messages over the broker.
func (a *Adapter) NotifyLeave(node *memberlist.Node) {
	logger.Infow("node unreachable via gossip, keeping membership", "id", node.Name)
}

// NotifyUpdate is invoked when a node is updated.
func (a *Adapter) NotifyUpdate(node *memberlist.Node) {
	a.NotifyJoin(node)
}

func memberNode(m *memberlist.Node) ring.Node {
	addr := m.Addr.String()
	if serverPort := decodeMeta(m.Meta); serverPort > 0 {
		addr = net.JoinHostPort(addr, strconv.Itoa(serverPort))
	} else {
		addr = net.JoinHostPort(addr, strconv.Itoa(int(m.Port)))
	}
	return ring.Node{ID: m.Name, Addr: addr}
}

func decodeMeta(meta []byte) int {
	if len(meta) == 0 {
		return 0
	}
	type nodeMeta struct {
		ServerPort int `json:"server_port"`
	}
	var m nodeMeta
	if err := json.Unmarshal(meta, &m); err != nil {
		logger.Warnw("failed to decode node metadata", "error", err.Error())
		return 0
	}
	return m.ServerPort
}

func (a *Adapter) serverHost() string {
	if a.addr == "" {
		return a.addr
	}
	if ip := net.ParseIP(a.addr); ip == nil || !ip.IsUnspecified() {
		return a.addr
	}

	if a.list == nil || a.list.LocalNode() == nil {
		return a.addr
	}

	adv := a.list.LocalNode().Addr.String()
	if adv == "" {
		return a.addr
	}
	if ip := net.ParseIP(adv); ip != nil && ip.IsUnspecified() {
		return a.addr
	}
	return adv
}
