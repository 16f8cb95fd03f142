// Command sim runs a whole cluster in one process over the in-memory bus
// and drives it with a line-oriented script, read from a file or stdin:
//
//	start node-1
//	start node-2
//	set node-1 X hello
//	get node-2 X
//	fail node-2
//	recover node-2
//	dup on
//	wait 500
//
// Every get prints its outcome to stdout. Useful for replaying failure
// scenarios without a broker or a network.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/anthanhphan/gosdk/logger"

	"github.com/anthanhphan/go-replicated-kv/internal/node/adapter/outbound/memstore"
	"github.com/anthanhphan/go-replicated-kv/internal/node/protocol"
	"github.com/anthanhphan/go-replicated-kv/internal/node/service"
	"github.com/anthanhphan/go-replicated-kv/pkg/bus"
	"github.com/anthanhphan/go-replicated-kv/pkg/ring"
)

const (
	harnessID      = "sim-harness"
	requestTimeout = 10 * time.Second
)

type harness struct {
	ctx      context.Context
	bus      *bus.Bus
	conn     *bus.Conn
	settings service.Settings

	nodes   []string
	runtime map[string]*service.NodeRuntime

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan protocol.Envelope
}

func newHarness(ctx context.Context, b *bus.Bus, settings service.Settings) *harness {
	h := &harness{
		ctx:      ctx,
		bus:      b,
		conn:     b.Attach(harnessID),
		settings: settings,
		runtime:  make(map[string]*service.NodeRuntime),
		pending:  make(map[int64]chan protocol.Envelope),
	}
	go h.readResponses()
	return h
}

// readResponses routes set/get responses back to their waiting script step.
// Cluster broadcasts also land on the harness connection; they are ignored.
func (h *harness) readResponses() {
	for env := range h.conn.Inbound() {
		if env.Kind != protocol.KindSetResponse && env.Kind != protocol.KindGetResponse {
			continue
		}
		h.mu.Lock()
		ch, ok := h.pending[env.CorrelationID]
		delete(h.pending, env.CorrelationID)
		h.mu.Unlock()
		if ok {
			ch <- env
		}
	}
}

func (h *harness) request(dest string, env protocol.Envelope) (protocol.Envelope, error) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	ch := make(chan protocol.Envelope, 1)
	h.pending[id] = ch
	h.mu.Unlock()

	env.CorrelationID = id
	if err := h.conn.Send(h.ctx, dest, env); err != nil {
		return protocol.Envelope{}, err
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-time.After(requestTimeout):
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
		return protocol.Envelope{}, fmt.Errorf("no response from %s", dest)
	}
}

// startNode brings a fresh node up: it learns every existing member, and
// every existing member learns it through the node's own announcement.
func (h *harness) startNode(nodeID string) error {
	if _, ok := h.runtime[nodeID]; ok {
		return fmt.Errorf("node %s already started", nodeID)
	}

	conn := h.bus.Attach(nodeID)
	rt := service.NewNodeRuntime(nodeID, ring.New(ring.DefaultVNodesPerNode), memstore.New(nodeID), conn, h.settings)
	rt.Start(h.ctx)

	for _, member := range h.nodes {
		if err := h.conn.Send(h.ctx, nodeID, protocol.Envelope{Kind: protocol.KindStartNode, Node: member}); err != nil {
			return err
		}
	}
	if err := rt.Announce(h.ctx); err != nil {
		return err
	}

	h.nodes = append(h.nodes, nodeID)
	h.runtime[nodeID] = rt
	return nil
}

func (h *harness) failNode(nodeID string) error {
	if _, ok := h.runtime[nodeID]; !ok {
		return fmt.Errorf("unknown node %s", nodeID)
	}
	h.bus.SetNodeDown(nodeID)
	return h.broadcastControl(protocol.KindFailNode, nodeID)
}

func (h *harness) recoverNode(nodeID string) error {
	if _, ok := h.runtime[nodeID]; !ok {
		return fmt.Errorf("unknown node %s", nodeID)
	}
	h.bus.SetNodeUp(nodeID)
	return h.broadcastControl(protocol.KindRecoverNode, nodeID)
}

func (h *harness) broadcastControl(kind protocol.Kind, nodeID string) error {
	return h.conn.Broadcast(h.ctx, protocol.Envelope{Kind: kind, Node: nodeID})
}

func (h *harness) run(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil
	}

	switch fields[0] {
	case "start":
		if len(fields) != 2 {
			return fmt.Errorf("usage: start <node>")
		}
		return h.startNode(fields[1])

	case "fail":
		if len(fields) != 2 {
			return fmt.Errorf("usage: fail <node>")
		}
		return h.failNode(fields[1])

	case "recover":
		if len(fields) != 2 {
			return fmt.Errorf("usage: recover <node>")
		}
		return h.recoverNode(fields[1])

	case "set":
		if len(fields) < 4 {
			return fmt.Errorf("usage: set <node> <key> <value>")
		}
		value := strings.Join(fields[3:], " ")
		reply, err := h.request(fields[1], protocol.Envelope{Kind: protocol.KindSet, Key: fields[2], Value: value})
		if err != nil {
			return err
		}
		fmt.Printf("set %s via %s: %s\n", fields[2], fields[1], reply.Status)
		return nil

	case "get":
		if len(fields) != 3 {
			return fmt.Errorf("usage: get <node> <key>")
		}
		reply, err := h.request(fields[1], protocol.Envelope{Kind: protocol.KindGet, Key: fields[2]})
		if err != nil {
			return err
		}
		switch {
		case !reply.Found:
			fmt.Printf("get %s via %s: <not found> (%s)\n", fields[2], fields[1], reply.Status)
		default:
			fmt.Printf("get %s via %s: %q (%s)\n", fields[2], fields[1], reply.Value, reply.Status)
		}
		return nil

	case "dup":
		if len(fields) != 2 || (fields[1] != "on" && fields[1] != "off") {
			return fmt.Errorf("usage: dup on|off")
		}
		h.bus.SetDuplication(fields[1] == "on")
		return nil

	case "wait":
		if len(fields) != 2 {
			return fmt.Errorf("usage: wait <ms>")
		}
		ms, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Errorf("invalid wait duration %q", fields[1])
		}
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return nil

	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

func main() {
	var scriptPath string
	var rf int
	flag.StringVar(&scriptPath, "script", "", "Path to a script file (default: stdin)")
	flag.IntVar(&rf, "rf", 3, "Replication factor")
	flag.Parse()

	logger.InitLogger(&logger.Config{
		LogLevel:    logger.LevelInfo,
		LogEncoding: logger.EncodingJSON,
	})

	input := os.Stdin
	if scriptPath != "" {
		f, err := os.Open(scriptPath)
		if err != nil {
			log.Fatalf("Failed to open script: %v", err)
		}
		defer f.Close()
		input = f
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(ctx, bus.New(), service.Settings{ReplicationFactor: rf})

	scanner := bufio.NewScanner(input)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := h.run(scanner.Text()); err != nil {
			log.Fatalf("line %d: %v", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("Script read error: %v", err)
	}
}
