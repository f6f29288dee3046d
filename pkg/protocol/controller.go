package protocol

import "meshdrone/pkg/chanx"

// Command is sent by the controller to a drone. The set is closed:
// *AddSender, *SetPacketDropRate and *Crash.
type Command interface {
	command() string
}

// AddSender registers (or replaces) the outbound channel to neighbor ID.
type AddSender struct {
	ID     NodeID
	Sender chanx.Sender[Packet]
}

// SetPacketDropRate changes the drop probability, in percent.
type SetPacketDropRate struct {
	Rate float64
}

// Crash terminates the drone.
type Crash struct{}

func (*AddSender) command() string         { return "add_sender" }
func (*SetPacketDropRate) command() string { return "set_packet_drop_rate" }
func (*Crash) command() string             { return "crash" }

// CommandName returns a short name of c for logs.
func CommandName(c Command) string {
	if c == nil {
		return "none"
	}
	return c.command()
}

// EventKind classifies what a node reports to the controller.
type EventKind uint8

const (
	// EventPacketSent: a packet left the node on a neighbor channel.
	EventPacketSent EventKind = iota + 1
	// EventPacketDropped: a fragment was discarded by the drop simulator.
	EventPacketDropped
	// EventControllerShortcut: a packet that must not be lost (ack, nack,
	// flood response) could not be routed and is handed to the controller.
	EventControllerShortcut
	// EventDelivered: a source routed packet terminated at this node.
	EventDelivered
)

func (k EventKind) String() string {
	switch k {
	case EventPacketSent:
		return "packet_sent"
	case EventPacketDropped:
		return "packet_dropped"
	case EventControllerShortcut:
		return "controller_shortcut"
	case EventDelivered:
		return "delivered"
	default:
		return "unknown"
	}
}

// NodeEvent is emitted by a node on its controller channel.
type NodeEvent struct {
	Kind   EventKind
	Node   NodeID
	Packet Packet
}
