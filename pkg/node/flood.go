package node

import (
	"slices"

	"go.uber.org/zap"

	"meshdrone/pkg/protocol"
)

// handleFloodRequest implements the discovery flood. On the first sighting of
// a flood id the request is passed on to every neighbor except the one it
// came from; on any later sighting, or when nobody could take the request,
// the node answers with a flood response retracing the recorded path.
func (n *Node) handleFloodRequest(pkt protocol.Packet, req *protocol.FloodRequest) {
	prev, hasPrev := req.Previous()
	first := n.floods.Mark(req.FloodID)

	trace := make([]protocol.Hop, 0, len(req.PathTrace)+1)
	trace = append(trace, req.PathTrace...)
	trace = append(trace, protocol.Hop{ID: n.id, Type: protocol.NodeDrone})

	n.log.Info("flood request",
		zap.Uint64("flood_id", req.FloodID),
		zap.Uint8("initiator", req.InitiatorID),
		zap.Uint8("from", prev),
		zap.Bool("first_sighting", first),
		zap.Int("trace_len", len(req.PathTrace)))

	if !first {
		n.respondFlood(pkt, req, trace, prev, hasPrev)
		return
	}

	sent := 0
	for _, id := range n.neighborIDs() {
		if hasPrev && id == prev {
			continue
		}
		out := pkt.Clone()
		out.Type = &protocol.FloodRequest{
			FloodID:     req.FloodID,
			InitiatorID: req.InitiatorID,
			PathTrace:   slices.Clone(trace),
		}
		if err := n.sendTo(id, out); err != nil {
			n.log.Warn("flood request not delivered", zap.Uint64("flood_id", req.FloodID), zap.Error(err))
			continue
		}
		sent++
	}
	if sent == 0 {
		// Leaf: nobody else to ask, answer right away.
		n.respondFlood(pkt, req, trace, prev, hasPrev)
	}
}

// respondFlood sends a flood response carrying the finished trace back to
// prev, the node the request came from.
func (n *Node) respondFlood(pkt protocol.Packet, req *protocol.FloodRequest, trace []protocol.Hop, prev protocol.NodeID, hasPrev bool) {
	resp := protocol.Packet{
		Type:          &protocol.FloodResponse{FloodID: req.FloodID, PathTrace: trace},
		RoutingHeader: protocol.SourceRoutingHeader{HopIndex: 1, Hops: protocol.TraceRoute(trace)},
		SessionID:     pkt.SessionID,
	}
	if !hasPrev {
		n.shortcut(resp, ErrUnknownNextHop)
		return
	}
	n.log.Info("flood response", zap.Uint64("flood_id", req.FloodID), zap.Uint8("to", prev), zap.Stringer("route", resp.RoutingHeader))
	if err := n.sendTo(prev, resp); err != nil {
		n.shortcut(resp, err)
	}
}
