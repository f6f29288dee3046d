package node

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"meshdrone/pkg/protocol"
)

func (n *Node) handlePacket(pkt protocol.Packet) {
	switch pt := pkt.Type.(type) {
	case *protocol.Fragment:
		n.handleFragment(pkt, pt)
	case *protocol.FloodRequest:
		n.handleFloodRequest(pkt, pt)
	case *protocol.Ack, *protocol.Nack, *protocol.FloodResponse:
		n.handleRouted(pkt)
	default:
		n.log.Warn("unknown packet type", zap.String("type", fmt.Sprintf("%T", pkt.Type)), zap.Uint64("session", pkt.SessionID))
	}
}

// handleFragment runs the drop simulator, then forwards the fragment or
// terminates it here.
func (n *Node) handleFragment(pkt protocol.Packet, f *protocol.Fragment) {
	if n.shouldDrop() {
		n.log.Debug("fragment dropped", zap.Uint64("session", pkt.SessionID), zap.Uint64("fragment", f.Index))
		n.emit(protocol.EventPacketDropped, pkt)
		n.reply(pkt, &protocol.Nack{FragmentIndex: f.Index, Type: protocol.NackDropped, Node: n.id})
		return
	}

	err := n.forward(pkt)
	switch {
	case err == nil:
	case errors.Is(err, ErrDestinationReached) && n.sink != nil:
		src, _ := firstHop(pkt.RoutingHeader)
		n.sink.DeliverFragment(pkt.SessionID, src, f)
		n.emit(protocol.EventDelivered, pkt)
		n.reply(pkt, &protocol.Ack{FragmentIndex: f.Index})
	default:
		kind, node := nackFor(err)
		n.log.Info("fragment rejected", zap.Uint64("session", pkt.SessionID), zap.Stringer("nack", kind), zap.Error(err))
		n.reply(pkt, &protocol.Nack{FragmentIndex: f.Index, Type: kind, Node: node})
	}
}

// handleRouted forwards acks, nacks and flood responses. They are never
// dropped; failures go to the controller instead of being nacked.
func (n *Node) handleRouted(pkt protocol.Packet) {
	err := n.forward(pkt)
	switch {
	case err == nil:
	case errors.Is(err, ErrDestinationReached):
		n.log.Info("packet terminated here", zap.String("kind", pkt.Kind()), zap.Uint64("session", pkt.SessionID))
		n.emit(protocol.EventDelivered, pkt)
	default:
		n.shortcut(pkt, err)
	}
}

// forward advances pkt by one hop and sends the copy to the next hop.
func (n *Node) forward(pkt protocol.Packet) error {
	h := pkt.RoutingHeader
	if cur, ok := h.Current(); !ok || cur != n.id {
		return &RoutingError{Err: ErrMisroutedPacket, Node: n.id}
	}
	next, ok := h.Next()
	if !ok {
		return &RoutingError{Err: ErrDestinationReached, Node: n.id}
	}
	out := pkt.Clone()
	out.RoutingHeader.HopIndex++
	return n.sendTo(next, out)
}

// sendTo delivers pkt on the registry channel of neighbor id.
func (n *Node) sendTo(id protocol.NodeID, pkt protocol.Packet) error {
	ch, ok := n.neighbors[id]
	if !ok {
		return &RoutingError{Err: ErrUnknownNextHop, Node: id}
	}
	if err := ch.Send(pkt); err != nil {
		return &RoutingError{Err: ErrNeighborUnreachable, Node: id, Cause: err}
	}
	n.log.Debug("packet sent", zap.String("kind", pkt.Kind()), zap.Uint8("to", id), zap.Stringer("route", pkt.RoutingHeader))
	n.emit(protocol.EventPacketSent, pkt)
	return nil
}

// reply sends payload back towards the originator of pkt, retracing the hops
// it has already travelled.
func (n *Node) reply(pkt protocol.Packet, payload protocol.PacketType) {
	out := protocol.Packet{
		Type:          payload,
		RoutingHeader: protocol.ReturnRoute(n.id, pkt.RoutingHeader),
		SessionID:     pkt.SessionID,
	}
	next, ok := out.RoutingHeader.Current()
	if !ok {
		n.shortcut(out, ErrDestinationReached)
		return
	}
	if err := n.sendTo(next, out); err != nil {
		n.shortcut(out, err)
	}
}

// shortcut hands a packet that cannot be routed to the controller.
func (n *Node) shortcut(pkt protocol.Packet, cause error) {
	n.log.Warn("packet handed to controller", zap.String("kind", pkt.Kind()), zap.Uint64("session", pkt.SessionID), zap.Stringer("route", pkt.RoutingHeader), zap.Error(cause))
	n.emit(protocol.EventControllerShortcut, pkt)
}

func firstHop(h protocol.SourceRoutingHeader) (protocol.NodeID, bool) {
	if len(h.Hops) == 0 {
		return 0, false
	}
	return h.Hops[0], true
}
