package protocol

import (
	"testing"

	"google.golang.org/protobuf/types/known/structpb"

	"meshdrone/pkg/protocol/codec"
)

func TestEncodeDecodeBodyJSON(t *testing.T) {
	reg := codec.NewRegistry()
	in := map[string]any{"x": 1, "y": "z"}
	b, err := EncodeBody(reg, FormatJSON, in)
	if err != nil { t.Fatalf("encode: %v", err) }
	if b[0] != byte(FormatJSON) { t.Fatalf("format prefix mismatch") }
	var out map[string]any
	f, err := DecodeBody(reg, b, &out)
	if err != nil { t.Fatalf("decode: %v", err) }
	if f != FormatJSON || out["y"] != "z" { t.Fatalf("decode mismatch: %v %#v", f, out) }
}

func TestEncodeDecodeBodyCBORWithoutRegistration(t *testing.T) {
	reg := codec.NewRegistry()
	in := map[string]any{"hops": []any{1, 2}}
	b, err := EncodeBody(reg, FormatCBOR, in)
	if err != nil { t.Fatalf("encode: %v", err) }
	var out map[string]any
	if _, err := DecodeBody(reg, b, &out); err != nil { t.Fatalf("decode: %v", err) }
}

func TestEncodeDecodeBodyProto(t *testing.T) {
	reg := codec.NewRegistry()
	s, err := structpb.NewStruct(map[string]any{"k": "v"})
	if err != nil { t.Fatalf("struct: %v", err) }
	b, err := EncodeBody(reg, FormatProto, s)
	if err != nil { t.Fatalf("encode: %v", err) }
	var out structpb.Struct
	if _, err := DecodeBody(reg, b, &out); err != nil { t.Fatalf("decode: %v", err) }
	if out.Fields["k"].GetStringValue() != "v" { t.Fatalf("value mismatch") }
}

func TestParseFormat(t *testing.T) {
	for name, want := range map[string]Format{"": FormatJSON, "CBOR": FormatCBOR, "protobuf": FormatProto} {
		got, err := ParseFormat(name)
		if err != nil || got != want { t.Fatalf("ParseFormat(%q) = %v, %v", name, got, err) }
	}
	if _, err := ParseFormat("xml"); err == nil { t.Fatalf("expected error") }
	if _, err := DecodeBody(codec.NewRegistry(), nil, nil); err == nil { t.Fatalf("expected empty payload error") }
}
