package node

import (
	"fmt"

	"go.uber.org/zap"

	"meshdrone/pkg/chanx"
	"meshdrone/pkg/protocol"
)

func (n *Node) handleCommand(cmd protocol.Command) {
	switch c := cmd.(type) {
	case *protocol.AddSender:
		n.addSender(c.ID, c.Sender)
	case *protocol.SetPacketDropRate:
		if err := n.setPacketDropRate(c.Rate); err != nil {
			n.log.Warn("drop rate rejected", zap.Float64("kept", n.pdr), zap.Error(err))
		}
	case *protocol.Crash:
		n.crashed = true
	default:
		n.log.Warn("unknown command", zap.String("type", fmt.Sprintf("%T", cmd)))
	}
}

// addSender inserts or replaces the channel to neighbor id.
func (n *Node) addSender(id protocol.NodeID, s chanx.Sender[protocol.Packet]) {
	if s == nil {
		n.log.Warn("add sender without channel", zap.Uint8("neighbor", id))
		return
	}
	_, replaced := n.neighbors[id]
	n.neighbors[id] = s
	n.log.Info("neighbor added", zap.Uint8("neighbor", id), zap.Bool("replaced", replaced))
}

// setPacketDropRate keeps the previous rate when rate is out of range.
func (n *Node) setPacketDropRate(rate float64) error {
	if err := checkDropRate(rate); err != nil {
		return err
	}
	n.log.Info("drop rate changed", zap.Float64("from", n.pdr), zap.Float64("to", rate))
	n.pdr = rate
	return nil
}

// shouldDrop draws from [0, 100) and compares against the drop rate.
func (n *Node) shouldDrop() bool {
	return n.rng.Float64()*100 < n.pdr
}
