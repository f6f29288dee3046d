package protocol

import (
	"slices"
	"testing"
)

func TestReturnRoute(t *testing.T) {
	h := SourceRoutingHeader{HopIndex: 2, Hops: []NodeID{10, 1, 2, 3, 20}}
	r := ReturnRoute(2, h)
	if r.HopIndex != 1 { t.Fatalf("hop index = %d", r.HopIndex) }
	if !slices.Equal(r.Hops, []NodeID{2, 1, 10}) { t.Fatalf("hops = %v", r.Hops) }

	// misrouted: node 7 received a packet meant for 2
	r = ReturnRoute(7, h)
	if !slices.Equal(r.Hops, []NodeID{7, 1, 10}) { t.Fatalf("misrouted hops = %v", r.Hops) }

	// originator answers itself: nothing to route
	r = ReturnRoute(10, SourceRoutingHeader{HopIndex: 0, Hops: []NodeID{10, 1}})
	if len(r.Hops) != 1 { t.Fatalf("expected single hop, got %v", r.Hops) }
}

func TestTraceRoute(t *testing.T) {
	trace := []Hop{{5, NodeClient}, {1, NodeDrone}, {3, NodeDrone}, {6, NodeDrone}, {1, NodeDrone}}
	if got := TraceRoute(trace); !slices.Equal(got, []NodeID{1, 6, 3, 1, 5}) {
		t.Fatalf("route = %v", got)
	}
	if got := TraceIDs(trace); !slices.Equal(got, []NodeID{5, 1, 3, 6, 1}) {
		t.Fatalf("ids = %v", got)
	}
}

func TestPacketCloneIsDeep(t *testing.T) {
	p := Packet{
		Type:          &FloodRequest{FloodID: 1, PathTrace: []Hop{{1, NodeClient}}},
		RoutingHeader: SourceRoutingHeader{HopIndex: 0, Hops: []NodeID{1, 2}},
		SessionID:     9,
	}
	c := p.Clone()
	c.RoutingHeader.Hops[0] = 99
	c.Type.(*FloodRequest).PathTrace[0].ID = 99
	if p.RoutingHeader.Hops[0] != 1 { t.Fatalf("hops aliased") }
	if p.Type.(*FloodRequest).PathTrace[0].ID != 1 { t.Fatalf("trace aliased") }
	if c.Kind() != "flood_request" || c.SessionID != 9 { t.Fatalf("clone lost fields") }
}
