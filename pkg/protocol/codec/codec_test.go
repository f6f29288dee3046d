package codec

import (
	"testing"

	"google.golang.org/protobuf/types/known/structpb"
)

func TestJSONCodec(t *testing.T) {
	c := JSON()
	in := map[string]any{"node": 1, "kind": "flood_request"}
	b, err := c.Marshal(in)
	if err != nil { t.Fatalf("marshal: %v", err) }
	var out map[string]any
	if err := c.Unmarshal(b, &out); err != nil { t.Fatalf("unmarshal: %v", err) }
	if out["node"].(float64) != 1 || out["kind"].(string) != "flood_request" {
		t.Fatalf("roundtrip mismatch: %#v", out)
	}
}

func TestCBORCodecDeterministic(t *testing.T) {
	c, err := CBOR()
	if err != nil { t.Fatalf("new cbor: %v", err) }
	in := map[string]any{"b": 2, "a": 1, "hops": []any{1, 2, 3}}
	b1, err := c.Marshal(in)
	if err != nil { t.Fatalf("marshal: %v", err) }
	b2, _ := c.Marshal(in)
	if string(b1) != string(b2) { t.Fatalf("canonical encoding is not stable") }
	var out map[string]any
	if err := c.Unmarshal(b1, &out); err != nil { t.Fatalf("unmarshal: %v", err) }
	if out["a"].(uint64) != 1 { t.Fatalf("roundtrip mismatch: %#v", out) }
}

func TestProtoCodec(t *testing.T) {
	c := Proto()
	s, err := structpb.NewStruct(map[string]any{"kind": "ack"})
	if err != nil { t.Fatalf("struct: %v", err) }
	b, err := c.Marshal(s)
	if err != nil { t.Fatalf("marshal: %v", err) }
	var out structpb.Struct
	if err := c.Unmarshal(b, &out); err != nil { t.Fatalf("unmarshal: %v", err) }
	if out.Fields["kind"].GetStringValue() != "ack" { t.Fatalf("roundtrip mismatch") }
	if _, err := c.Marshal(map[string]any{}); err == nil { t.Fatalf("expected non-proto error") }
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	if r.Lookup("JSON") == nil || r.Lookup("proto") == nil { t.Fatalf("builtins missing") }
	if r.Lookup("cbor") != nil { t.Fatalf("cbor must be registered explicitly") }
	c, err := CBOR()
	if err != nil { t.Fatalf("cbor: %v", err) }
	r.Register(c)
	if r.Lookup("cbor") == nil || r.Get("application/cbor") == nil { t.Fatalf("cbor not registered") }
}
