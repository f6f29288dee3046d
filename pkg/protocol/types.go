// Package protocol defines the packets exchanged between nodes of the
// simulated mesh, the source routing header and the commands/events spoken
// between a node and its controller.
package protocol

import (
	"fmt"
	"slices"
)

// NodeID identifies a node in the simulated network.
type NodeID = uint8

// NodeType is the role of a node appearing in a flood path trace.
type NodeType uint8

const (
	NodeClient NodeType = iota
	NodeDrone
	NodeServer
)

func (t NodeType) String() string {
	switch t {
	case NodeClient:
		return "client"
	case NodeDrone:
		return "drone"
	case NodeServer:
		return "server"
	default:
		return "unknown"
	}
}

// Hop is one entry of a flood path trace.
type Hop struct {
	ID   NodeID   `json:"id"`
	Type NodeType `json:"type"`
}

// SourceRoutingHeader carries the full, sender computed route of a packet and
// the cursor of its current position.
type SourceRoutingHeader struct {
	HopIndex int      `json:"hop_index"`
	Hops     []NodeID `json:"hops"`
}

// Current returns the hop the packet is expected to be at.
func (h SourceRoutingHeader) Current() (NodeID, bool) {
	if h.HopIndex < 0 || h.HopIndex >= len(h.Hops) {
		return 0, false
	}
	return h.Hops[h.HopIndex], true
}

// Next returns the hop following the current one.
func (h SourceRoutingHeader) Next() (NodeID, bool) {
	if h.HopIndex+1 < 0 || h.HopIndex+1 >= len(h.Hops) {
		return 0, false
	}
	return h.Hops[h.HopIndex+1], true
}

// Destination returns the final hop of the route.
func (h SourceRoutingHeader) Destination() (NodeID, bool) {
	if len(h.Hops) == 0 {
		return 0, false
	}
	return h.Hops[len(h.Hops)-1], true
}

func (h SourceRoutingHeader) clone() SourceRoutingHeader {
	return SourceRoutingHeader{HopIndex: h.HopIndex, Hops: slices.Clone(h.Hops)}
}

func (h SourceRoutingHeader) String() string {
	return fmt.Sprintf("[%d]%v", h.HopIndex, h.Hops)
}

// Packet is the unit exchanged over neighbor channels.
type Packet struct {
	Type          PacketType
	RoutingHeader SourceRoutingHeader
	SessionID     uint64
}

// Clone returns a deep copy of p.
func (p Packet) Clone() Packet {
	out := Packet{RoutingHeader: p.RoutingHeader.clone(), SessionID: p.SessionID}
	if p.Type != nil {
		out.Type = p.Type.clonePayload()
	}
	return out
}

// Kind returns a short name of the packet variant for logs and traces.
func (p Packet) Kind() string {
	if p.Type == nil {
		return "none"
	}
	return p.Type.kind()
}

// PacketType is the closed set of packet payloads: *Fragment, *Ack, *Nack,
// *FloodRequest and *FloodResponse. Handlers switch over it exhaustively.
type PacketType interface {
	kind() string
	clonePayload() PacketType
}

// FragmentSize is the maximum payload carried by a single fragment.
const FragmentSize = 128

// Fragment carries a slice of a higher level message.
type Fragment struct {
	Index uint64
	Total uint64
	Data  []byte
}

// Ack confirms delivery of one fragment to its final hop.
type Ack struct {
	FragmentIndex uint64
}

// NackType explains why a fragment did not make it.
type NackType uint8

const (
	// NackErrorInRouting: the next hop (Node) is unknown or unreachable.
	NackErrorInRouting NackType = iota + 1
	// NackDestinationIsDrone: the route ended on a drone.
	NackDestinationIsDrone
	// NackUnexpectedRecipient: the packet reached Node, which was not the
	// hop named by the routing header.
	NackUnexpectedRecipient
	// NackDropped: discarded by the drop simulator.
	NackDropped
)

func (t NackType) String() string {
	switch t {
	case NackErrorInRouting:
		return "error_in_routing"
	case NackDestinationIsDrone:
		return "destination_is_drone"
	case NackUnexpectedRecipient:
		return "unexpected_recipient"
	case NackDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Nack reports a failed fragment back to its originator.
type Nack struct {
	FragmentIndex uint64
	Type          NackType
	// Node is the failed next hop for NackErrorInRouting and the reporting
	// node for every other type.
	Node NodeID
}

// FloodRequest explores the topology. PathTrace is append-only.
type FloodRequest struct {
	FloodID     uint64
	InitiatorID NodeID
	PathTrace   []Hop
}

// Previous returns the last hop recorded in the trace.
func (f *FloodRequest) Previous() (NodeID, bool) {
	if len(f.PathTrace) == 0 {
		return 0, false
	}
	return f.PathTrace[len(f.PathTrace)-1].ID, true
}

// FloodResponse returns a finished path trace to the flood initiator.
type FloodResponse struct {
	FloodID   uint64
	PathTrace []Hop
}

func (*Fragment) kind() string      { return "fragment" }
func (*Ack) kind() string           { return "ack" }
func (*Nack) kind() string          { return "nack" }
func (*FloodRequest) kind() string  { return "flood_request" }
func (*FloodResponse) kind() string { return "flood_response" }

func (f *Fragment) clonePayload() PacketType {
	return &Fragment{Index: f.Index, Total: f.Total, Data: slices.Clone(f.Data)}
}
func (a *Ack) clonePayload() PacketType  { c := *a; return &c }
func (n *Nack) clonePayload() PacketType { c := *n; return &c }
func (f *FloodRequest) clonePayload() PacketType {
	return &FloodRequest{FloodID: f.FloodID, InitiatorID: f.InitiatorID, PathTrace: slices.Clone(f.PathTrace)}
}
func (f *FloodResponse) clonePayload() PacketType {
	return &FloodResponse{FloodID: f.FloodID, PathTrace: slices.Clone(f.PathTrace)}
}
