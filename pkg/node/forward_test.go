package node

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshdrone/pkg/chanx"
	"meshdrone/pkg/protocol"
)

func TestForwardAdvancesHopIndex(t *testing.T) {
	h := newHarness(t, 1, 0, 9, 2)
	in := fragment(77, 1, 9, 1, 2)

	h.node.handlePacket(in)

	out := h.expectPacket(2)
	assert.Equal(t, 2, out.RoutingHeader.HopIndex)
	assert.Equal(t, []protocol.NodeID{9, 1, 2}, out.RoutingHeader.Hops)
	assert.Equal(t, uint64(77), out.SessionID)
	assert.Equal(t, in.Type, out.Type)
	assert.Equal(t, 1, in.RoutingHeader.HopIndex, "inbound packet must not be mutated")
	h.expectNoPacket(9)

	ev := h.expectEvent(protocol.EventPacketSent)
	assert.Equal(t, protocol.NodeID(1), ev.Node)
}

func TestForwardErrors(t *testing.T) {
	t.Run("misrouted", func(t *testing.T) {
		h := newHarness(t, 1, 0, 9)
		err := h.node.forward(fragment(1, 1, 9, 4, 2))
		require.ErrorIs(t, err, ErrMisroutedPacket)
		var re *RoutingError
		require.True(t, errors.As(err, &re))
		assert.Equal(t, protocol.NodeID(1), re.Node)
	})

	t.Run("destination reached", func(t *testing.T) {
		h := newHarness(t, 1, 0, 9)
		require.ErrorIs(t, h.node.forward(fragment(1, 1, 9, 1)), ErrDestinationReached)
	})

	t.Run("unknown next hop", func(t *testing.T) {
		h := newHarness(t, 1, 0, 9)
		err := h.node.forward(fragment(1, 1, 9, 1, 3))
		require.ErrorIs(t, err, ErrUnknownNextHop)
		kind, node := nackFor(err)
		assert.Equal(t, protocol.NackErrorInRouting, kind)
		assert.Equal(t, protocol.NodeID(3), node)
	})

	t.Run("neighbor unreachable", func(t *testing.T) {
		h := newHarness(t, 1, 0, 9, 2)
		require.NoError(t, h.links[2].Close())
		err := h.node.forward(fragment(1, 1, 9, 1, 2))
		require.ErrorIs(t, err, ErrNeighborUnreachable)
		assert.ErrorContains(t, err, chanx.ErrDisconnected.Error())
	})

	t.Run("empty route", func(t *testing.T) {
		h := newHarness(t, 1, 0)
		require.ErrorIs(t, h.node.forward(fragment(1, 0)), ErrMisroutedPacket)
	})
}

func TestFragmentFailuresAreNacked(t *testing.T) {
	t.Run("misrouted", func(t *testing.T) {
		h := newHarness(t, 1, 0, 9)
		h.node.handlePacket(nthFragment(5, 3, 4, 1, 9, 4, 2))

		nack := h.expectPacket(9)
		assert.Equal(t, &protocol.Nack{FragmentIndex: 3, Type: protocol.NackUnexpectedRecipient, Node: 1}, nack.Type)
		assert.Equal(t, protocol.SourceRoutingHeader{HopIndex: 1, Hops: []protocol.NodeID{1, 9}}, nack.RoutingHeader)
		assert.Equal(t, uint64(5), nack.SessionID)
	})

	t.Run("unknown next hop", func(t *testing.T) {
		h := newHarness(t, 2, 0, 1)
		h.node.handlePacket(nthFragment(6, 7, 8, 2, 10, 1, 2, 3, 20))

		nack := h.expectPacket(1)
		assert.Equal(t, &protocol.Nack{FragmentIndex: 7, Type: protocol.NackErrorInRouting, Node: 3}, nack.Type)
		assert.Equal(t, []protocol.NodeID{2, 1, 10}, nack.RoutingHeader.Hops)
		assert.Equal(t, 1, nack.RoutingHeader.HopIndex)
	})

	t.Run("neighbor unreachable", func(t *testing.T) {
		h := newHarness(t, 1, 0, 9, 2)
		_ = h.links[2].Close()
		h.node.handlePacket(nthFragment(7, 1, 2, 1, 9, 1, 2))

		nack := h.expectPacket(9)
		assert.Equal(t, &protocol.Nack{FragmentIndex: 1, Type: protocol.NackErrorInRouting, Node: 2}, nack.Type)
	})

	t.Run("originator cannot be nacked", func(t *testing.T) {
		h := newHarness(t, 1, 0)
		h.node.handlePacket(fragment(8, 0, 1, 4))
		ev := h.expectEvent(protocol.EventControllerShortcut)
		assert.Equal(t, "nack", ev.Packet.Kind())
	})
}

func TestFragmentDestination(t *testing.T) {
	t.Run("acked when delivered to sink", func(t *testing.T) {
		h := newHarness(t, 1, 0, 9)
		var got []*protocol.Fragment
		h.node.sink = SinkFunc(func(session uint64, src protocol.NodeID, f *protocol.Fragment) {
			assert.Equal(t, uint64(3), session)
			assert.Equal(t, protocol.NodeID(20), src)
			got = append(got, f)
		})
		h.node.handlePacket(nthFragment(3, 5, 6, 2, 20, 9, 1))

		ack := h.expectPacket(9)
		assert.Equal(t, &protocol.Ack{FragmentIndex: 5}, ack.Type)
		assert.Equal(t, protocol.SourceRoutingHeader{HopIndex: 1, Hops: []protocol.NodeID{1, 9, 20}}, ack.RoutingHeader)
		require.Len(t, got, 1)
		assert.Equal(t, uint64(5), got[0].Index)
		h.expectEvent(protocol.EventDelivered)
	})

	t.Run("relay without sink nacks", func(t *testing.T) {
		h := newHarness(t, 1, 0, 9)
		h.node.handlePacket(nthFragment(3, 2, 3, 1, 9, 1))
		nack := h.expectPacket(9)
		assert.Equal(t, &protocol.Nack{FragmentIndex: 2, Type: protocol.NackDestinationIsDrone, Node: 1}, nack.Type)
	})
}

func TestRoutedPacketsAreForwardedNotDropped(t *testing.T) {
	h := newHarness(t, 1, 100, 3, 5)
	for _, payload := range []protocol.PacketType{
		&protocol.Ack{FragmentIndex: 4},
		&protocol.Nack{FragmentIndex: 4, Type: protocol.NackDropped},
		&protocol.FloodResponse{FloodID: 42, PathTrace: []protocol.Hop{{ID: 5, Type: protocol.NodeClient}, {ID: 1, Type: protocol.NodeDrone}, {ID: 3, Type: protocol.NodeDrone}}},
	} {
		h.node.handlePacket(protocol.Packet{
			Type:          payload,
			RoutingHeader: protocol.SourceRoutingHeader{HopIndex: 1, Hops: []protocol.NodeID{3, 1, 5}},
			SessionID:     11,
		})
		out := h.expectPacket(5)
		assert.Equal(t, payload, out.Type)
		assert.Equal(t, 2, out.RoutingHeader.HopIndex)
	}
}

func TestRoutedPacketFailuresGoToController(t *testing.T) {
	h := newHarness(t, 1, 0, 3)

	h.node.handlePacket(protocol.Packet{
		Type:          &protocol.Ack{FragmentIndex: 1},
		RoutingHeader: protocol.SourceRoutingHeader{HopIndex: 1, Hops: []protocol.NodeID{3, 1, 8}},
	})
	ev := h.expectEvent(protocol.EventControllerShortcut)
	assert.Equal(t, "ack", ev.Packet.Kind())

	h.node.handlePacket(protocol.Packet{
		Type:          &protocol.Ack{FragmentIndex: 1},
		RoutingHeader: protocol.SourceRoutingHeader{HopIndex: 1, Hops: []protocol.NodeID{3, 1}},
	})
	ev = h.expectEvent(protocol.EventDelivered)
	assert.Equal(t, protocol.NodeID(1), ev.Node)
}
