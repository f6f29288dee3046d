// Package node implements a drone of the simulated mesh: a single goroutine
// that obeys controller commands, forwards source routed packets, simulates
// packet loss and takes part in flood based topology discovery.
package node

import (
	"fmt"
	"maps"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"go.uber.org/zap"

	"meshdrone/pkg/chanx"
	"meshdrone/pkg/floodmem"
	"meshdrone/pkg/protocol"
)

// Drone is the lifecycle contract a simulation host drives: build it with
// New, then call Run on its own goroutine.
type Drone interface {
	ID() protocol.NodeID
	Run()
}

// Options holds everything a drone needs at startup.
type Options struct {
	ID protocol.NodeID

	// ControllerSend receives node events; may be nil.
	ControllerSend chanx.Sender[protocol.NodeEvent]
	ControllerRecv chanx.Receiver[protocol.Command]
	PacketRecv     chanx.Receiver[protocol.Packet]

	// Neighbors seeds the channel registry. AddSender commands extend it
	// later.
	Neighbors map[protocol.NodeID]chanx.Sender[protocol.Packet]

	// PDR is the initial packet drop rate in percent.
	PDR float64

	// Rand drives the drop simulator. Seeded from the clock when nil.
	Rand *rand.Rand

	// Sink gets fragments addressed to this node. A node without a sink is a
	// pure relay and nacks such fragments with NackDestinationIsDrone.
	Sink FragmentSink

	// FloodTTL bounds how long flood ids are remembered; 0 means forever.
	FloodTTL time.Duration

	Logger *zap.Logger
}

// Node is a drone. All of its state is owned by the goroutine running Run.
type Node struct {
	id protocol.NodeID

	controllerSend chanx.Sender[protocol.NodeEvent]
	controllerRecv chanx.Receiver[protocol.Command]
	packetRecv     chanx.Receiver[protocol.Packet]

	pdr       float64
	rng       *rand.Rand
	neighbors map[protocol.NodeID]chanx.Sender[protocol.Packet]
	floods    *floodmem.Memory
	sink      FragmentSink
	crashed   bool

	log *zap.Logger
}

var _ Drone = (*Node)(nil)

// New validates opts and returns a drone ready to Run.
func New(opts Options) (*Node, error) {
	if opts.ControllerRecv == nil || opts.PacketRecv == nil {
		return nil, fmt.Errorf("node %d: controller and packet receivers are required", opts.ID)
	}
	if err := checkDropRate(opts.PDR); err != nil {
		return nil, fmt.Errorf("node %d: %w", opts.ID, err)
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(opts.ID)))
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.L()
	}
	neighbors := make(map[protocol.NodeID]chanx.Sender[protocol.Packet], len(opts.Neighbors))
	for id, s := range opts.Neighbors {
		if s != nil {
			neighbors[id] = s
		}
	}
	return &Node{
		id:             opts.ID,
		controllerSend: opts.ControllerSend,
		controllerRecv: opts.ControllerRecv,
		packetRecv:     opts.PacketRecv,
		pdr:            opts.PDR,
		rng:            rng,
		neighbors:      neighbors,
		floods:         floodmem.New(floodmem.Options{TTL: opts.FloodTTL}),
		sink:           opts.Sink,
		log:            logger.With(zap.Uint8("node", opts.ID)),
	}, nil
}

// ID returns the node identifier.
func (n *Node) ID() protocol.NodeID { return n.id }

// Run processes commands and packets until a Crash command arrives or both
// inbound channels are closed. Every buffered command is handled before the
// next packet, so a command is never overtaken by a packet sent after it.
func (n *Node) Run() {
	n.log.Info("drone started", zap.Float64("pdr", n.pdr))
	defer n.shutdown()

	cmdReady := n.controllerRecv.Ready()
	pktReady := n.packetRecv.Ready()
	for {
		if !n.drainCommands(&cmdReady) {
			return
		}
		pkt, ok, done := n.packetRecv.TryRecv()
		if ok {
			// A command sent before pkt may have been buffered after the
			// drain above.
			if !n.drainCommands(&cmdReady) {
				return
			}
			n.handlePacket(pkt)
			continue
		}
		if done && pktReady != nil {
			n.log.Warn("packet channel closed")
			pktReady = nil
		}
		if cmdReady == nil && pktReady == nil {
			n.log.Warn("all inbound channels closed")
			return
		}
		select {
		case <-cmdReady:
		case <-pktReady:
		}
	}
}

// drainCommands handles every buffered command. It reports false once the
// node has crashed. ready is cleared when the controller channel is closed.
func (n *Node) drainCommands(ready *<-chan struct{}) bool {
	for !n.crashed {
		cmd, ok, done := n.controllerRecv.TryRecv()
		if !ok {
			if done && *ready != nil {
				n.log.Warn("controller channel closed")
				*ready = nil
			}
			return true
		}
		n.handleCommand(cmd)
	}
	return false
}

func (n *Node) shutdown() {
	// Disconnecting the inbox makes neighbors see us as unreachable.
	_ = n.packetRecv.Close()
	if n.crashed {
		n.log.Info("drone crashed")
		return
	}
	n.log.Info("drone stopped")
}

func (n *Node) neighborIDs() []protocol.NodeID {
	return slices.Sorted(maps.Keys(n.neighbors))
}

// emit reports ev to the controller, if one is attached.
func (n *Node) emit(kind protocol.EventKind, pkt protocol.Packet) {
	if n.controllerSend == nil {
		return
	}
	ev := protocol.NodeEvent{Kind: kind, Node: n.id, Packet: pkt.Clone()}
	if err := n.controllerSend.Send(ev); err != nil {
		n.log.Debug("controller unreachable", zap.Stringer("event", kind), zap.Error(err))
	}
}

func checkDropRate(rate float64) error {
	if math.IsNaN(rate) || rate < 0 || rate > 100 {
		return fmt.Errorf("%w: %v", ErrInvalidDropRate, rate)
	}
	return nil
}
