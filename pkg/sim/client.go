package sim

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"meshdrone/pkg/chanx"
	"meshdrone/pkg/protocol"
)

// ErrNackReceived wraps a nack that ended a delivery attempt.
var ErrNackReceived = errors.New("nack received")

// Message is a reassembled payload delivered to a client.
type Message struct {
	From    protocol.NodeID
	Session uint64
	Data    []byte
}

// Report summarizes one SendMessage call.
type Report struct {
	Session   uint64
	Route     []protocol.NodeID
	Fragments int
	Acked     int
	Resent    int
	Reroutes  int
	Nacks     []protocol.Nack
}

type assemblyKey struct {
	src     protocol.NodeID
	session uint64
}

// Client is a traffic endpoint. It originates floods and messages, answers
// flood requests that reach it, reassembles incoming fragments and acks them.
type Client struct {
	id       protocol.NodeID
	inbox    *chanx.Unbounded[protocol.Packet]
	topo     *Topology
	messages *chanx.Unbounded[Message]
	log      *zap.Logger

	// MaxResend bounds retransmissions of a dropped fragment.
	MaxResend int

	mu         sync.Mutex
	neighbors  map[protocol.NodeID]chanx.Sender[protocol.Packet]
	floods     map[uint64]chanx.Sender[[]protocol.Hop]
	sessions   map[uint64]chanx.Sender[protocol.Packet]
	assemblies map[assemblyKey]*protocol.Assembler
}

func newClient(id protocol.NodeID, log *zap.Logger) *Client {
	return &Client{
		id:         id,
		inbox:      chanx.New[protocol.Packet](),
		neighbors:  make(map[protocol.NodeID]chanx.Sender[protocol.Packet]),
		topo:       NewTopology(),
		messages:   chanx.New[Message](),
		log:        log.With(zap.Uint8("client", id)),
		MaxResend:  16,
		floods:     make(map[uint64]chanx.Sender[[]protocol.Hop]),
		sessions:   make(map[uint64]chanx.Sender[protocol.Packet]),
		assemblies: make(map[assemblyKey]*protocol.Assembler),
	}
}

// ID returns the client id.
func (c *Client) ID() protocol.NodeID { return c.id }

// Topology returns the graph learned from flood responses.
func (c *Client) Topology() *Topology { return c.topo }

// Messages delivers reassembled messages in arrival order.
func (c *Client) Messages() <-chan Message { return c.messages.Recv() }

func (c *Client) self() protocol.Hop { return protocol.Hop{ID: c.id, Type: protocol.NodeClient} }

// run consumes the inbox until it is closed.
func (c *Client) run() {
	defer c.messages.CloseSend()
	for pkt := range c.inbox.Recv() {
		c.handle(pkt)
	}
}

func (c *Client) handle(pkt protocol.Packet) {
	switch p := pkt.Type.(type) {
	case *protocol.FloodResponse:
		c.topo.AddTrace(p.PathTrace)
		c.mu.Lock()
		w := c.floods[p.FloodID]
		c.mu.Unlock()
		if w != nil {
			_ = w.Send(p.PathTrace)
		}
	case *protocol.FloodRequest:
		c.answerFlood(pkt, p)
	case *protocol.Fragment:
		c.receiveFragment(pkt, p)
	case *protocol.Ack, *protocol.Nack:
		c.mu.Lock()
		w := c.sessions[pkt.SessionID]
		c.mu.Unlock()
		if w == nil {
			c.log.Debug("late reply", zap.String("kind", pkt.Kind()), zap.Uint64("session", pkt.SessionID))
			return
		}
		_ = w.Send(pkt)
	default:
		c.log.Warn("unexpected packet", zap.String("kind", pkt.Kind()))
	}
}

// answerFlood turns every request around: clients never relay floods.
func (c *Client) answerFlood(pkt protocol.Packet, req *protocol.FloodRequest) {
	prev, ok := req.Previous()
	if !ok {
		return
	}
	trace := append(slices.Clone(req.PathTrace), c.self())
	resp := protocol.Packet{
		Type:          &protocol.FloodResponse{FloodID: req.FloodID, PathTrace: trace},
		RoutingHeader: protocol.SourceRoutingHeader{HopIndex: 1, Hops: protocol.TraceRoute(trace)},
		SessionID:     pkt.SessionID,
	}
	if err := c.sendTo(prev, resp); err != nil {
		c.log.Warn("flood response lost", zap.Uint64("flood_id", req.FloodID), zap.Error(err))
	}
}

func (c *Client) receiveFragment(pkt protocol.Packet, f *protocol.Fragment) {
	hdr := pkt.RoutingHeader
	if dst, ok := hdr.Destination(); !ok || dst != c.id {
		c.log.Warn("fragment for another node", zap.Stringer("route", hdr))
		return
	}
	src := hdr.Hops[0]
	key := assemblyKey{src: src, session: pkt.SessionID}
	asm := c.assemblies[key]
	if asm == nil {
		asm = &protocol.Assembler{}
		c.assemblies[key] = asm
	}
	data, err := asm.Add(f)
	switch {
	case err == nil:
		delete(c.assemblies, key)
		_ = c.messages.Send(Message{From: src, Session: pkt.SessionID, Data: data})
		c.log.Info("message delivered", zap.Uint8("from", src), zap.Uint64("session", pkt.SessionID), zap.Int("bytes", len(data)))
	case !protocol.IsIncomplete(err):
		c.log.Warn("bad fragment", zap.Error(err))
		return
	}

	ack := protocol.Packet{
		Type:          &protocol.Ack{FragmentIndex: f.Index},
		RoutingHeader: protocol.ReturnRoute(c.id, hdr),
		SessionID:     pkt.SessionID,
	}
	if err := c.sendRouted(ack); err != nil {
		c.log.Warn("ack lost", zap.Error(err))
	}
}

// Discover floods a request with the given ids to every neighbor and
// collects flood responses until no new one arrives for settle, or ctx ends.
func (c *Client) Discover(ctx context.Context, floodID, session uint64, settle time.Duration) ([][]protocol.Hop, error) {
	responses := chanx.New[[]protocol.Hop]()
	c.mu.Lock()
	c.floods[floodID] = responses
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.floods, floodID)
		c.mu.Unlock()
		_ = responses.Close()
	}()

	sent := 0
	for _, id := range c.neighborIDs() {
		req := protocol.Packet{
			Type: &protocol.FloodRequest{
				FloodID:     floodID,
				InitiatorID: c.id,
				PathTrace:   []protocol.Hop{c.self()},
			},
			SessionID: session,
		}
		if err := c.sendTo(id, req); err != nil {
			c.log.Warn("flood request not delivered", zap.Uint8("to", id), zap.Error(err))
			continue
		}
		sent++
	}
	if sent == 0 {
		return nil, fmt.Errorf("client %d: no reachable neighbor", c.id)
	}

	var paths [][]protocol.Hop
	quiet := time.NewTimer(settle)
	defer quiet.Stop()
	for {
		select {
		case trace := <-responses.Recv():
			paths = append(paths, trace)
			quiet.Reset(settle)
		case <-quiet.C:
			return paths, nil
		case <-ctx.Done():
			return paths, ctx.Err()
		}
	}
}

// SendMessage fragments data and source routes it to dst over the learned
// topology. Dropped fragments are resent; a routing nack removes the failing
// node from the topology and resends the pending fragments over a new route.
func (c *Client) SendMessage(ctx context.Context, session uint64, dst protocol.NodeID, data []byte) (Report, error) {
	rep := Report{Session: session}
	route, err := c.topo.Route(c.id, dst)
	if err != nil {
		return rep, fmt.Errorf("client %d to %d: %w", c.id, dst, err)
	}
	frags, err := protocol.Fragmentize(data, protocol.FragmentSize)
	if err != nil {
		return rep, err
	}
	rep.Route, rep.Fragments = route, len(frags)

	replies := chanx.New[protocol.Packet]()
	c.mu.Lock()
	c.sessions[session] = replies
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.sessions, session)
		c.mu.Unlock()
		_ = replies.Close()
	}()

	send := func(f *protocol.Fragment) error {
		return c.sendRouted(protocol.Packet{
			Type:          f,
			RoutingHeader: protocol.SourceRoutingHeader{HopIndex: 1, Hops: rep.Route},
			SessionID:     session,
		})
	}
	for _, f := range frags {
		if err := send(f); err != nil {
			return rep, err
		}
	}

	pending := make(map[uint64]bool, len(frags))
	for _, f := range frags {
		pending[f.Index] = true
	}
	resent := make(map[uint64]int)
	for len(pending) > 0 {
		var pkt protocol.Packet
		select {
		case pkt = <-replies.Recv():
		case <-ctx.Done():
			return rep, ctx.Err()
		}
		switch r := pkt.Type.(type) {
		case *protocol.Ack:
			if pending[r.FragmentIndex] {
				delete(pending, r.FragmentIndex)
				rep.Acked++
			}
		case *protocol.Nack:
			rep.Nacks = append(rep.Nacks, *r)
			if !pending[r.FragmentIndex] {
				continue
			}
			switch r.Type {
			case protocol.NackDropped:
				if resent[r.FragmentIndex] >= c.MaxResend {
					return rep, fmt.Errorf("fragment %d: %w: %s after %d resends", r.FragmentIndex, ErrNackReceived, r.Type, c.MaxResend)
				}
				resent[r.FragmentIndex]++
				rep.Resent++
				if err := send(frags[r.FragmentIndex]); err != nil {
					return rep, err
				}
			case protocol.NackErrorInRouting:
				c.topo.Forget(r.Node)
				route, err := c.topo.Route(c.id, dst)
				if err != nil {
					return rep, fmt.Errorf("fragment %d: %w: %s at %d: %w", r.FragmentIndex, ErrNackReceived, r.Type, r.Node, err)
				}
				rep.Route = route
				rep.Reroutes++
				for idx := range pending {
					if err := send(frags[idx]); err != nil {
						return rep, err
					}
				}
			default:
				return rep, fmt.Errorf("fragment %d: %w: %s at %d", r.FragmentIndex, ErrNackReceived, r.Type, r.Node)
			}
		}
	}
	return rep, nil
}

// sendRouted hands pkt to the next hop of its routing header.
func (c *Client) sendRouted(pkt protocol.Packet) error {
	next, ok := pkt.RoutingHeader.Current()
	if !ok {
		return fmt.Errorf("client %d: empty route %s", c.id, pkt.RoutingHeader)
	}
	return c.sendTo(next, pkt)
}

func (c *Client) neighborIDs() []protocol.NodeID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Sorted(maps.Keys(c.neighbors))
}

func (c *Client) addNeighbor(id protocol.NodeID, s chanx.Sender[protocol.Packet]) {
	c.mu.Lock()
	c.neighbors[id] = s
	c.mu.Unlock()
}

func (c *Client) sendTo(id protocol.NodeID, pkt protocol.Packet) error {
	c.mu.Lock()
	s, ok := c.neighbors[id]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("client %d: %d is not a neighbor", c.id, id)
	}
	if err := s.Send(pkt); err != nil {
		return fmt.Errorf("client %d to %d: %w", c.id, id, err)
	}
	return nil
}
