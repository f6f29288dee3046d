package protocol

import "slices"

// ReturnRoute builds the header used to answer a packet received by self:
// self followed by the hops already traversed, newest first. The index
// starts at 1 since hop 0 is the answering node itself.
//
// It works both for packets that correctly reached self and for misrouted
// ones, because only the hops before HopIndex are trusted.
func ReturnRoute(self NodeID, h SourceRoutingHeader) SourceRoutingHeader {
	n := h.HopIndex
	if n > len(h.Hops) {
		n = len(h.Hops)
	}
	if n < 0 {
		n = 0
	}
	hops := make([]NodeID, 0, n+1)
	hops = append(hops, self)
	for i := n - 1; i >= 0; i-- {
		hops = append(hops, h.Hops[i])
	}
	return SourceRoutingHeader{HopIndex: 1, Hops: hops}
}

// TraceRoute returns the ids of a path trace in reverse visiting order, the
// route a flood response travels.
func TraceRoute(trace []Hop) []NodeID {
	ids := make([]NodeID, len(trace))
	for i, h := range trace {
		ids[len(trace)-1-i] = h.ID
	}
	return ids
}

// TraceIDs returns the ids of a path trace in visiting order.
func TraceIDs(trace []Hop) []NodeID {
	ids := make([]NodeID, len(trace))
	for i, h := range trace {
		ids[i] = h.ID
	}
	return ids
}

// Reverse returns hops in reverse order.
func Reverse(hops []NodeID) []NodeID {
	out := slices.Clone(hops)
	slices.Reverse(out)
	return out
}
