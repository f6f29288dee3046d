package node

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"meshdrone/pkg/chanx"
	"meshdrone/pkg/protocol"
)

// harness wires one drone to mailboxes the test controls.
type harness struct {
	t      *testing.T
	node   *Node
	cmds   *chanx.Unbounded[protocol.Command]
	inbox  *chanx.Unbounded[protocol.Packet]
	events *chanx.Unbounded[protocol.NodeEvent]
	links  map[protocol.NodeID]*chanx.Unbounded[protocol.Packet]
}

func newHarness(t *testing.T, id protocol.NodeID, pdr float64, neighbors ...protocol.NodeID) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		cmds:   chanx.New[protocol.Command](),
		inbox:  chanx.New[protocol.Packet](),
		events: chanx.New[protocol.NodeEvent](),
		links:  make(map[protocol.NodeID]*chanx.Unbounded[protocol.Packet]),
	}
	n, err := New(Options{
		ID:             id,
		ControllerSend: h.events,
		ControllerRecv: h.cmds,
		PacketRecv:     h.inbox,
		PDR:            pdr,
		Rand:           rand.New(rand.NewPCG(1, uint64(id))),
		Logger:         zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	h.node = n
	for _, nb := range neighbors {
		h.link(nb)
	}
	t.Cleanup(func() {
		_ = h.cmds.Close()
		_ = h.inbox.Close()
		_ = h.events.Close()
		for _, l := range h.links {
			_ = l.Close()
		}
	})
	return h
}

// link creates a mailbox for neighbor id and registers it on the node.
func (h *harness) link(id protocol.NodeID) *chanx.Unbounded[protocol.Packet] {
	l := chanx.New[protocol.Packet]()
	h.links[id] = l
	h.node.addSender(id, l)
	return l
}

func (h *harness) expectPacket(id protocol.NodeID) protocol.Packet {
	h.t.Helper()
	select {
	case p := <-h.links[id].Recv():
		return p
	case <-time.After(time.Second):
		h.t.Fatalf("no packet on link to %d", id)
	}
	return protocol.Packet{}
}

func (h *harness) expectNoPacket(id protocol.NodeID) {
	h.t.Helper()
	select {
	case p := <-h.links[id].Recv():
		h.t.Fatalf("unexpected %s on link to %d: %v", p.Kind(), id, p.RoutingHeader)
	case <-time.After(30 * time.Millisecond):
	}
}

// expectEvent skips events of other kinds until one of kind arrives.
func (h *harness) expectEvent(kind protocol.EventKind) protocol.NodeEvent {
	h.t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-h.events.Recv():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			h.t.Fatalf("no %s event", kind)
			return protocol.NodeEvent{}
		}
	}
}

// run starts the event loop and returns a channel closed when it exits.
func (h *harness) run() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.node.Run()
	}()
	return done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("event loop did not stop")
	}
}

// fragment builds fragment 0 of 1 positioned at hop idx of hops.
func fragment(session uint64, idx int, hops ...protocol.NodeID) protocol.Packet {
	return nthFragment(session, 0, 1, idx, hops...)
}

func nthFragment(session, index, total uint64, idx int, hops ...protocol.NodeID) protocol.Packet {
	return protocol.Packet{
		Type:          &protocol.Fragment{Index: index, Total: total, Data: []byte("payload")},
		RoutingHeader: protocol.SourceRoutingHeader{HopIndex: idx, Hops: hops},
		SessionID:     session,
	}
}
