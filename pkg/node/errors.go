package node

import (
	"errors"
	"fmt"

	"meshdrone/pkg/protocol"
)

var (
	// ErrMisroutedPacket: the routing header does not name this node at the
	// current hop index.
	ErrMisroutedPacket = errors.New("misrouted packet")
	// ErrDestinationReached: this node is the final hop. Not a failure, the
	// packet must be handled locally.
	ErrDestinationReached = errors.New("destination reached")
	// ErrUnknownNextHop: the next hop has no channel in the registry.
	ErrUnknownNextHop = errors.New("unknown next hop")
	// ErrNeighborUnreachable: the next hop channel is disconnected.
	ErrNeighborUnreachable = errors.New("neighbor unreachable")
	// ErrInvalidDropRate: a drop rate outside [0, 100].
	ErrInvalidDropRate = errors.New("invalid packet drop rate")
)

// RoutingError is a forwarding failure tied to a node: the next hop for
// ErrUnknownNextHop and ErrNeighborUnreachable, the receiving node for
// ErrMisroutedPacket and ErrDestinationReached.
type RoutingError struct {
	Err   error
	Node  protocol.NodeID
	Cause error
}

func (e *RoutingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v (node %d): %v", e.Err, e.Node, e.Cause)
	}
	return fmt.Sprintf("%v (node %d)", e.Err, e.Node)
}

func (e *RoutingError) Unwrap() error { return e.Err }

// nackFor maps a forwarding error to the nack reported to the originator.
func nackFor(err error) (protocol.NackType, protocol.NodeID) {
	var node protocol.NodeID
	var re *RoutingError
	if errors.As(err, &re) {
		node = re.Node
	}
	switch {
	case errors.Is(err, ErrMisroutedPacket):
		return protocol.NackUnexpectedRecipient, node
	case errors.Is(err, ErrDestinationReached):
		return protocol.NackDestinationIsDrone, node
	default:
		return protocol.NackErrorInRouting, node
	}
}
