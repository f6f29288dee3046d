// Package trace records node events reported to the controller as a stream
// of framed, codec-encoded records.
package trace

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"meshdrone/pkg/protocol"
)

// Record is the flattened form of one protocol.NodeEvent.
type Record struct {
	RunID    string `json:"run_id"`
	Seq      uint64 `json:"seq"`
	UnixNano int64  `json:"unix_nano"`
	Event    string `json:"event"`
	Node     int    `json:"node"`
	Kind     string `json:"kind"`
	Session  uint64 `json:"session"`
	HopIndex int    `json:"hop_index"`
	Hops     []int  `json:"hops"`

	FloodID   uint64 `json:"flood_id,omitempty"`
	Fragment  uint64 `json:"fragment,omitempty"`
	Total     uint64 `json:"total,omitempty"`
	NackType  string `json:"nack_type,omitempty"`
	NackNode  int    `json:"nack_node,omitempty"`
	PathTrace []int  `json:"path_trace,omitempty"`
}

// Time returns the record timestamp.
func (r Record) Time() time.Time { return time.Unix(0, r.UnixNano) }

// FromEvent flattens ev.
func FromEvent(runID string, seq uint64, at time.Time, ev protocol.NodeEvent) Record {
	rec := Record{
		RunID:    runID,
		Seq:      seq,
		UnixNano: at.UnixNano(),
		Event:    ev.Kind.String(),
		Node:     int(ev.Node),
		Kind:     ev.Packet.Kind(),
		Session:  ev.Packet.SessionID,
		HopIndex: ev.Packet.RoutingHeader.HopIndex,
		Hops:     ints(ev.Packet.RoutingHeader.Hops),
	}
	switch p := ev.Packet.Type.(type) {
	case *protocol.Fragment:
		rec.Fragment, rec.Total = p.Index, p.Total
	case *protocol.Ack:
		rec.Fragment = p.FragmentIndex
	case *protocol.Nack:
		rec.Fragment = p.FragmentIndex
		rec.NackType = p.Type.String()
		rec.NackNode = int(p.Node)
	case *protocol.FloodRequest:
		rec.FloodID = p.FloodID
		rec.PathTrace = ints(protocol.TraceIDs(p.PathTrace))
	case *protocol.FloodResponse:
		rec.FloodID = p.FloodID
		rec.PathTrace = ints(protocol.TraceIDs(p.PathTrace))
	}
	return rec
}

func ints(ids []protocol.NodeID) []int {
	if len(ids) == 0 {
		return nil
	}
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out
}

// toStruct converts r into a protobuf Struct. Integers above 2^53 lose
// precision on the way since Struct numbers are doubles.
func (r Record) toStruct() (*structpb.Struct, error) {
	m := map[string]any{
		"run_id":    r.RunID,
		"seq":       r.Seq,
		"unix_nano": r.UnixNano,
		"event":     r.Event,
		"node":      r.Node,
		"kind":      r.Kind,
		"session":   r.Session,
		"hop_index": r.HopIndex,
		"hops":      anys(r.Hops),
	}
	if r.FloodID != 0 {
		m["flood_id"] = r.FloodID
	}
	if r.Fragment != 0 {
		m["fragment"] = r.Fragment
	}
	if r.Total != 0 {
		m["total"] = r.Total
	}
	if r.NackType != "" {
		m["nack_type"] = r.NackType
		m["nack_node"] = r.NackNode
	}
	if len(r.PathTrace) > 0 {
		m["path_trace"] = anys(r.PathTrace)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("trace record to struct: %w", err)
	}
	return s, nil
}

func fromStruct(s *structpb.Struct) Record {
	f := s.GetFields()
	num := func(k string) float64 { return f[k].GetNumberValue() }
	list := func(k string) []int {
		vals := f[k].GetListValue().GetValues()
		if len(vals) == 0 {
			return nil
		}
		out := make([]int, len(vals))
		for i, v := range vals {
			out[i] = int(v.GetNumberValue())
		}
		return out
	}
	return Record{
		RunID:     f["run_id"].GetStringValue(),
		Seq:       uint64(num("seq")),
		UnixNano:  int64(num("unix_nano")),
		Event:     f["event"].GetStringValue(),
		Node:      int(num("node")),
		Kind:      f["kind"].GetStringValue(),
		Session:   uint64(num("session")),
		HopIndex:  int(num("hop_index")),
		Hops:      list("hops"),
		FloodID:   uint64(num("flood_id")),
		Fragment:  uint64(num("fragment")),
		Total:     uint64(num("total")),
		NackType:  f["nack_type"].GetStringValue(),
		NackNode:  int(num("nack_node")),
		PathTrace: list("path_trace"),
	}
}

func anys(v []int) []any {
	out := make([]any, len(v))
	for i, x := range v {
		out[i] = x
	}
	return out
}
