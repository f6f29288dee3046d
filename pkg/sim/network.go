// Package sim hosts a whole drone network in one process: it wires the
// neighbor mailboxes, runs every drone on its own goroutine, plays the
// controller and drives traffic from simulated clients.
package sim

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"meshdrone/pkg/chanx"
	"meshdrone/pkg/config"
	"meshdrone/pkg/node"
	"meshdrone/pkg/protocol"
)

var (
	// ErrUnknownNode is returned for ids not in the topology.
	ErrUnknownNode = errors.New("unknown node")
	// ErrCrashed is returned when commanding a drone that already crashed.
	ErrCrashed = errors.New("drone crashed")
	// ErrNotRunning is returned by traffic calls before Start or after Stop.
	ErrNotRunning = errors.New("network not running")
)

// EventSink receives every event reported to the controller.
type EventSink interface {
	Record(ev protocol.NodeEvent) error
}

// Options tunes a Network beyond what the configuration describes.
type Options struct {
	Logger *zap.Logger
	// Events optionally records every controller event, e.g. a trace.Recorder.
	Events EventSink
	// RunID tags the run; a random UUID when empty.
	RunID string
}

type droneHandle struct {
	node    *node.Node
	cmds    *chanx.Unbounded[protocol.Command]
	inbox   *chanx.Unbounded[protocol.Packet]
	crashed bool
}

// Network is the controller of a simulated topology.
type Network struct {
	runID string
	log   *zap.Logger
	sink  EventSink

	drones  map[protocol.NodeID]*droneHandle
	clients map[protocol.NodeID]*Client
	events  *chanx.Unbounded[protocol.NodeEvent]

	floodSeq   atomic.Uint64
	sessionSeq atomic.Uint64

	mu      sync.Mutex
	stats   map[protocol.EventKind]int
	running bool
	stopped bool

	g          *errgroup.Group
	stopOnce   sync.Once
	stopErr    error
	stop       chan struct{}
	eventsDone chan struct{}
}

// New builds drones and clients from cfg and links them. Links are
// undirected. Nothing runs until Start.
func New(cfg config.SimConfig, opts Options) (*Network, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.L()
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	n := &Network{
		runID:      runID,
		log:        logger.With(zap.String("run_id", runID)),
		sink:       opts.Events,
		drones:     make(map[protocol.NodeID]*droneHandle, len(cfg.Drones)),
		clients:    make(map[protocol.NodeID]*Client, len(cfg.Clients)),
		events:     chanx.New[protocol.NodeEvent](),
		stats:      make(map[protocol.EventKind]int),
		stop:       make(chan struct{}),
		eventsDone: make(chan struct{}),
	}

	inboxes := make(map[protocol.NodeID]*chanx.Unbounded[protocol.Packet])
	for _, d := range cfg.Drones {
		if _, dup := inboxes[d.ID]; dup {
			return nil, fmt.Errorf("duplicate node id %d", d.ID)
		}
		inboxes[d.ID] = chanx.New[protocol.Packet]()
	}
	for _, cl := range cfg.Clients {
		if _, dup := inboxes[cl.ID]; dup {
			return nil, fmt.Errorf("duplicate node id %d", cl.ID)
		}
		c := newClient(cl.ID, n.log)
		n.clients[cl.ID] = c
		inboxes[cl.ID] = c.inbox
	}

	adj := make(map[protocol.NodeID]map[protocol.NodeID]chanx.Sender[protocol.Packet])
	addEdge := func(a, b protocol.NodeID) error {
		if _, ok := inboxes[b]; !ok {
			return fmt.Errorf("node %d: neighbor %d: %w", a, b, ErrUnknownNode)
		}
		for _, p := range [][2]protocol.NodeID{{a, b}, {b, a}} {
			if adj[p[0]] == nil {
				adj[p[0]] = make(map[protocol.NodeID]chanx.Sender[protocol.Packet])
			}
			adj[p[0]][p[1]] = inboxes[p[1]]
		}
		return nil
	}
	for _, d := range cfg.Drones {
		for _, nb := range d.Neighbors {
			if err := addEdge(d.ID, nb); err != nil {
				return nil, err
			}
		}
	}
	for _, cl := range cfg.Clients {
		for _, nb := range cl.Neighbors {
			if err := addEdge(cl.ID, nb); err != nil {
				return nil, err
			}
		}
	}

	ttl := time.Duration(cfg.FloodTTLMS) * time.Millisecond
	for _, d := range cfg.Drones {
		cmds := chanx.New[protocol.Command]()
		dn, err := node.New(node.Options{
			ID:             d.ID,
			ControllerSend: n.events,
			ControllerRecv: cmds,
			PacketRecv:     inboxes[d.ID],
			Neighbors:      adj[d.ID],
			PDR:            d.PDR,
			Rand:           rand.New(rand.NewPCG(seed, uint64(d.ID))),
			FloodTTL:       ttl,
			Logger:         logger,
		})
		if err != nil {
			return nil, err
		}
		n.drones[d.ID] = &droneHandle{node: dn, cmds: cmds, inbox: inboxes[d.ID]}
	}
	for id, c := range n.clients {
		for nb, s := range adj[id] {
			c.addNeighbor(nb, s)
		}
	}
	return n, nil
}

// RunID identifies this run in logs and traces.
func (n *Network) RunID() string { return n.runID }

// Client returns the client with the given id.
func (n *Network) Client(id protocol.NodeID) (*Client, error) {
	c, ok := n.clients[id]
	if !ok {
		return nil, fmt.Errorf("client %d: %w", id, ErrUnknownNode)
	}
	return c, nil
}

// Clients returns the client ids in ascending order.
func (n *Network) Clients() []protocol.NodeID { return slices.Sorted(maps.Keys(n.clients)) }

// Drones returns the drone ids in ascending order.
func (n *Network) Drones() []protocol.NodeID { return slices.Sorted(maps.Keys(n.drones)) }

// Start launches every drone and client. Cancelling ctx stops the network
// like Stop does.
func (n *Network) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running || n.stopped {
		return errors.New("network already started")
	}
	n.running = true

	go n.consumeEvents()

	n.g = new(errgroup.Group)
	for _, d := range n.drones {
		n.g.Go(func() error {
			d.node.Run()
			return nil
		})
	}
	for _, c := range n.clients {
		n.g.Go(func() error {
			c.run()
			return nil
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			_ = n.Stop()
		case <-n.stop:
		}
	}()
	n.log.Info("network started", zap.Int("drones", len(n.drones)), zap.Int("clients", len(n.clients)))
	return nil
}

// Stop crashes every live drone, disconnects the clients and waits for all
// goroutines and pending events. Concurrent callers all wait for the first.
func (n *Network) Stop() error {
	n.mu.Lock()
	started := n.g != nil
	n.mu.Unlock()
	if !started {
		return nil
	}
	n.stopOnce.Do(func() { n.stopErr = n.halt() })
	return n.stopErr
}

func (n *Network) halt() error {
	n.mu.Lock()
	n.running = false
	n.stopped = true
	close(n.stop)
	for id, d := range n.drones {
		if d.crashed {
			continue
		}
		d.crashed = true
		if err := d.cmds.Send(&protocol.Crash{}); err != nil {
			n.log.Warn("crash not delivered", zap.Uint8("node", id), zap.Error(err))
		}
	}
	for _, c := range n.clients {
		_ = c.inbox.Close()
	}
	n.mu.Unlock()

	err := n.g.Wait()
	for _, d := range n.drones {
		_ = d.cmds.Close()
	}
	n.events.CloseSend()
	<-n.eventsDone
	n.log.Info("network stopped", zap.Any("events", n.Stats()))
	return err
}

// SetDropRate changes the drop rate of drone id.
func (n *Network) SetDropRate(id protocol.NodeID, rate float64) error {
	if math.IsNaN(rate) || rate < 0 || rate > 100 {
		return fmt.Errorf("%w: %v", node.ErrInvalidDropRate, rate)
	}
	return n.command(id, &protocol.SetPacketDropRate{Rate: rate})
}

// Crash terminates drone id. Its neighbors find it unreachable afterwards.
func (n *Network) Crash(id protocol.NodeID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	d, err := n.liveDrone(id)
	if err != nil {
		return err
	}
	d.crashed = true
	return d.cmds.Send(&protocol.Crash{})
}

// Link connects a and b at runtime. Drone ends learn the link through an
// AddSender command.
func (n *Network) Link(a, b protocol.NodeID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.clients[a] != nil && n.clients[b] != nil {
		return fmt.Errorf("clients %d and %d cannot be linked directly", a, b)
	}
	for _, p := range [][2]protocol.NodeID{{a, b}, {b, a}} {
		from, to := p[0], p[1]
		inbox, err := n.inboxOf(to)
		if err != nil {
			return err
		}
		if c := n.clients[from]; c != nil {
			c.addNeighbor(to, inbox)
			continue
		}
		d, err := n.liveDrone(from)
		if err != nil {
			return err
		}
		if err := d.cmds.Send(&protocol.AddSender{ID: to, Sender: inbox}); err != nil {
			return err
		}
	}
	return nil
}

// Discover runs a flood from client id and returns the path traces of all
// responses gathered until none arrived for settle.
func (n *Network) Discover(ctx context.Context, id protocol.NodeID, settle time.Duration) ([][]protocol.Hop, error) {
	c, err := n.runningClient(id)
	if err != nil {
		return nil, err
	}
	floodID := n.floodSeq.Add(1)
	paths, err := c.Discover(ctx, floodID, n.sessionSeq.Add(1), settle)
	n.log.Info("discovery finished", zap.Uint8("client", id), zap.Uint64("flood_id", floodID), zap.Int("responses", len(paths)))
	return paths, err
}

// SendMessage delivers data from client src to client dst over the route
// src learned by discovery.
func (n *Network) SendMessage(ctx context.Context, src, dst protocol.NodeID, data []byte) (Report, error) {
	c, err := n.runningClient(src)
	if err != nil {
		return Report{}, err
	}
	rep, err := c.SendMessage(ctx, n.sessionSeq.Add(1), dst, data)
	n.log.Info("message sent",
		zap.Uint8("from", src), zap.Uint8("to", dst),
		zap.Uint64("session", rep.Session), zap.Int("acked", rep.Acked), zap.Int("fragments", rep.Fragments),
		zap.Int("resent", rep.Resent), zap.Error(err))
	return rep, err
}

// Stats returns the number of events seen per kind.
func (n *Network) Stats() map[string]int {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]int, len(n.stats))
	for k, v := range n.stats {
		out[k.String()] = v
	}
	return out
}

func (n *Network) consumeEvents() {
	defer close(n.eventsDone)
	for ev := range n.events.Recv() {
		n.mu.Lock()
		n.stats[ev.Kind]++
		n.mu.Unlock()
		if n.sink != nil {
			if err := n.sink.Record(ev); err != nil {
				n.log.Warn("event not recorded", zap.Error(err))
			}
		}
		if ev.Kind == protocol.EventControllerShortcut {
			n.deliverShortcut(ev)
		}
	}
}

// deliverShortcut hands a packet a drone could not route straight to its
// destination.
func (n *Network) deliverShortcut(ev protocol.NodeEvent) {
	pkt := ev.Packet
	dst, ok := pkt.RoutingHeader.Destination()
	if !ok {
		n.log.Warn("shortcut without destination", zap.Uint8("node", ev.Node), zap.String("kind", pkt.Kind()))
		return
	}
	if dst == ev.Node {
		n.log.Debug("shortcut back to reporter dropped", zap.Uint8("node", dst), zap.String("kind", pkt.Kind()))
		return
	}
	pkt.RoutingHeader.HopIndex = len(pkt.RoutingHeader.Hops) - 1
	n.mu.Lock()
	inbox, err := n.inboxOf(dst)
	n.mu.Unlock()
	if err == nil {
		err = inbox.Send(pkt)
	}
	if err != nil {
		n.log.Warn("shortcut lost", zap.Uint8("to", dst), zap.String("kind", pkt.Kind()), zap.Error(err))
		return
	}
	n.log.Debug("shortcut delivered", zap.Uint8("from", ev.Node), zap.Uint8("to", dst), zap.String("kind", pkt.Kind()))
}

func (n *Network) command(id protocol.NodeID, cmd protocol.Command) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	d, err := n.liveDrone(id)
	if err != nil {
		return err
	}
	return d.cmds.Send(cmd)
}

// liveDrone requires n.mu.
func (n *Network) liveDrone(id protocol.NodeID) (*droneHandle, error) {
	d, ok := n.drones[id]
	switch {
	case !ok:
		return nil, fmt.Errorf("drone %d: %w", id, ErrUnknownNode)
	case d.crashed:
		return nil, fmt.Errorf("drone %d: %w", id, ErrCrashed)
	}
	return d, nil
}

// inboxOf requires n.mu.
func (n *Network) inboxOf(id protocol.NodeID) (*chanx.Unbounded[protocol.Packet], error) {
	if d, ok := n.drones[id]; ok {
		return d.inbox, nil
	}
	if c, ok := n.clients[id]; ok {
		return c.inbox, nil
	}
	return nil, fmt.Errorf("node %d: %w", id, ErrUnknownNode)
}

func (n *Network) runningClient(id protocol.NodeID) (*Client, error) {
	n.mu.Lock()
	running := n.running
	n.mu.Unlock()
	if !running {
		return nil, ErrNotRunning
	}
	return n.Client(id)
}
