package node

import "meshdrone/pkg/protocol"

// FragmentSink receives fragments whose route terminates at the node. It is
// the hand-off point to message reassembly.
type FragmentSink interface {
	DeliverFragment(sessionID uint64, src protocol.NodeID, f *protocol.Fragment)
}

// SinkFunc adapts a function to FragmentSink.
type SinkFunc func(sessionID uint64, src protocol.NodeID, f *protocol.Fragment)

func (fn SinkFunc) DeliverFragment(sessionID uint64, src protocol.NodeID, f *protocol.Fragment) {
	fn(sessionID, src, f)
}
