package sim

import (
	"errors"
	"maps"
	"slices"
	"sync"

	"meshdrone/pkg/protocol"
)

// ErrNoRoute is returned when the learned topology has no path.
var ErrNoRoute = errors.New("no route")

// Topology is the graph a client learns from flood responses.
type Topology struct {
	mu    sync.RWMutex
	kinds map[protocol.NodeID]protocol.NodeType
	adj   map[protocol.NodeID]map[protocol.NodeID]struct{}
}

// NewTopology returns an empty graph.
func NewTopology() *Topology {
	return &Topology{
		kinds: make(map[protocol.NodeID]protocol.NodeType),
		adj:   make(map[protocol.NodeID]map[protocol.NodeID]struct{}),
	}
}

// AddTrace records every node and consecutive link of a path trace.
func (t *Topology) AddTrace(trace []protocol.Hop) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, h := range trace {
		t.kinds[h.ID] = h.Type
		if i > 0 {
			t.link(trace[i-1].ID, h.ID)
		}
	}
}

func (t *Topology) link(a, b protocol.NodeID) {
	if a == b {
		return
	}
	for _, p := range [][2]protocol.NodeID{{a, b}, {b, a}} {
		m := t.adj[p[0]]
		if m == nil {
			m = make(map[protocol.NodeID]struct{})
			t.adj[p[0]] = m
		}
		m[p[1]] = struct{}{}
	}
}

// Forget removes id and its links.
func (t *Topology) Forget(id protocol.NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for nb := range t.adj[id] {
		delete(t.adj[nb], id)
	}
	delete(t.adj, id)
	delete(t.kinds, id)
}

// Nodes returns the known node ids in ascending order.
func (t *Topology) Nodes() []protocol.NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Sorted(maps.Keys(t.kinds))
}

// Neighbors returns the known neighbors of id in ascending order.
func (t *Topology) Neighbors(id protocol.NodeID) []protocol.NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Sorted(maps.Keys(t.adj[id]))
}

// Route returns the shortest hop sequence from src to dst, both included.
// Only drones relay, so clients and servers appear at the ends only. Ties are
// broken towards lower ids.
func (t *Topology) Route(src, dst protocol.NodeID) ([]protocol.NodeID, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.kinds[dst]; !ok {
		return nil, ErrNoRoute
	}
	if src == dst {
		return []protocol.NodeID{src}, nil
	}
	prev := map[protocol.NodeID]protocol.NodeID{src: src}
	queue := []protocol.NodeID{src}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur != src && t.kinds[cur] != protocol.NodeDrone {
			continue
		}
		for _, nb := range slices.Sorted(maps.Keys(t.adj[cur])) {
			if _, seen := prev[nb]; seen {
				continue
			}
			prev[nb] = cur
			if nb == dst {
				return walkBack(prev, src, dst), nil
			}
			queue = append(queue, nb)
		}
	}
	return nil, ErrNoRoute
}

func walkBack(prev map[protocol.NodeID]protocol.NodeID, src, dst protocol.NodeID) []protocol.NodeID {
	path := []protocol.NodeID{dst}
	for cur := dst; cur != src; {
		cur = prev[cur]
		path = append(path, cur)
	}
	slices.Reverse(path)
	return path
}
