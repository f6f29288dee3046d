package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshdrone/pkg/protocol"
)

func floodRequest(session, floodID uint64, trace ...protocol.Hop) protocol.Packet {
	return protocol.Packet{
		Type:      &protocol.FloodRequest{FloodID: floodID, InitiatorID: trace[0].ID, PathTrace: trace},
		SessionID: session,
	}
}

func drone(id protocol.NodeID) protocol.Hop  { return protocol.Hop{ID: id, Type: protocol.NodeDrone} }
func client(id protocol.NodeID) protocol.Hop { return protocol.Hop{ID: id, Type: protocol.NodeClient} }

func TestFloodFirstSightingBroadcastsExceptSender(t *testing.T) {
	h := newHarness(t, 1, 0, 2, 3, 5)
	in := floodRequest(100, 42, protocol.Hop{ID: 5, Type: protocol.NodeClient})

	h.node.handlePacket(in)

	for _, id := range []protocol.NodeID{2, 3} {
		out := h.expectPacket(id)
		req, ok := out.Type.(*protocol.FloodRequest)
		require.True(t, ok, "neighbor %d got %s", id, out.Kind())
		assert.Equal(t, uint64(42), req.FloodID)
		assert.Equal(t, []protocol.Hop{client(5), drone(1)}, req.PathTrace)
		assert.Equal(t, uint64(100), out.SessionID)
	}
	h.expectNoPacket(5)
	assert.Len(t, in.Type.(*protocol.FloodRequest).PathTrace, 1, "inbound trace must not grow")
	assert.True(t, h.node.floods.Contains(42))
}

func TestFloodRepeatSightingTurnsAround(t *testing.T) {
	h := newHarness(t, 1, 0, 2, 3, 5, 6)
	h.node.handlePacket(floodRequest(100, 42, client(5)))
	for _, id := range []protocol.NodeID{2, 3, 6} {
		h.expectPacket(id)
	}

	h.node.handlePacket(floodRequest(100, 42, client(5), drone(1), drone(3), drone(6)))

	out := h.expectPacket(6)
	resp, ok := out.Type.(*protocol.FloodResponse)
	require.True(t, ok, "got %s", out.Kind())
	assert.Equal(t, uint64(42), resp.FloodID)
	assert.Equal(t, []protocol.Hop{client(5), drone(1), drone(3), drone(6), drone(1)}, resp.PathTrace)
	assert.Equal(t, protocol.SourceRoutingHeader{HopIndex: 1, Hops: []protocol.NodeID{1, 6, 3, 1, 5}}, out.RoutingHeader)
	assert.Equal(t, uint64(100), out.SessionID)
	for _, id := range []protocol.NodeID{2, 3, 5} {
		h.expectNoPacket(id)
	}
}

func TestFloodThirdSightingSameAsSecond(t *testing.T) {
	h := newHarness(t, 1, 0, 2, 3)
	h.node.handlePacket(floodRequest(1, 7, drone(2)))
	h.expectPacket(3)

	var responses []protocol.Packet
	for i := 0; i < 2; i++ {
		h.node.handlePacket(floodRequest(1, 7, client(9), drone(3)))
		out := h.expectPacket(3)
		require.IsType(t, &protocol.FloodResponse{}, out.Type)
		responses = append(responses, out)
		h.expectNoPacket(2)
	}
	assert.Equal(t, responses[0], responses[1])
}

func TestFloodLeafTurnsAroundImmediately(t *testing.T) {
	h := newHarness(t, 4, 0, 2)
	h.node.handlePacket(floodRequest(3, 8, client(10), drone(2)))

	out := h.expectPacket(2)
	resp, ok := out.Type.(*protocol.FloodResponse)
	require.True(t, ok, "leaf must answer, got %s", out.Kind())
	assert.Equal(t, []protocol.Hop{client(10), drone(2), drone(4)}, resp.PathTrace)
	assert.Equal(t, []protocol.NodeID{4, 2, 10}, out.RoutingHeader.Hops)
}

func TestFloodLeafWithUnreachableNeighborsTurnsAround(t *testing.T) {
	h := newHarness(t, 4, 0, 2, 3)
	_ = h.links[3].Close()
	h.node.handlePacket(floodRequest(3, 8, drone(2)))
	require.IsType(t, &protocol.FloodResponse{}, h.expectPacket(2).Type)
}

func TestFloodResponseToUnknownSenderGoesToController(t *testing.T) {
	h := newHarness(t, 1, 0, 2)
	h.node.handlePacket(floodRequest(1, 5, drone(9)))
	require.IsType(t, &protocol.FloodRequest{}, h.expectPacket(2).Type)

	h.node.handlePacket(floodRequest(1, 5, client(9), drone(8)))
	ev := h.expectEvent(protocol.EventControllerShortcut)
	assert.Equal(t, "flood_response", ev.Packet.Kind())
	assert.Equal(t, []protocol.NodeID{1, 8, 9}, ev.Packet.RoutingHeader.Hops)
}

func TestFloodEmptyTraceBroadcastsToAll(t *testing.T) {
	h := newHarness(t, 1, 0, 2, 3)
	h.node.handlePacket(protocol.Packet{Type: &protocol.FloodRequest{FloodID: 1}})
	for _, id := range []protocol.NodeID{2, 3} {
		out := h.expectPacket(id)
		assert.Equal(t, []protocol.Hop{drone(1)}, out.Type.(*protocol.FloodRequest).PathTrace)
	}

	h.node.handlePacket(protocol.Packet{Type: &protocol.FloodRequest{FloodID: 1}})
	h.expectEvent(protocol.EventControllerShortcut)
}
