package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestFrameHeaderRoundtrip(t *testing.T) {
	h := FrameHeader{Version: FrameVersion, Event: EventPacketSent, Node: 7, Seq: 0x1122334455667788, UnixNano: -42, PayloadLen: 1234}
	b, err := h.MarshalBinary()
	if err != nil { t.Fatalf("marshal: %v", err) }
	if len(b) != frameHeaderSize { t.Fatalf("header size = %d", len(b)) }
	var h2 FrameHeader
	if err := h2.UnmarshalBinary(b); err != nil { t.Fatalf("unmarshal: %v", err) }
	if h2 != h { t.Fatalf("headers differ: %#v vs %#v", h2, h) }

	b[0] = 0
	if err := h2.UnmarshalBinary(b); !errors.Is(err, errBadMagic) { t.Fatalf("expected bad magic, got %v", err) }
	if err := h2.UnmarshalBinary(b[:4]); !errors.Is(err, errShortHeader) { t.Fatalf("expected short header, got %v", err) }
}

func TestFrameStream(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 3; i++ {
		f := Frame{Header: FrameHeader{Version: FrameVersion, Seq: uint64(i)}, Payload: bytes.Repeat([]byte{byte(i)}, i*10)}
		if _, err := f.WriteTo(&buf); err != nil { t.Fatalf("write: %v", err) }
	}
	for i := 0; i < 3; i++ {
		var f Frame
		if _, err := f.ReadFrom(&buf); err != nil { t.Fatalf("read %d: %v", i, err) }
		if f.Header.Seq != uint64(i) || len(f.Payload) != i*10 { t.Fatalf("frame %d mismatch: %+v", i, f.Header) }
	}
	var f Frame
	if _, err := f.ReadFrom(&buf); !errors.Is(err, io.EOF) { t.Fatalf("expected EOF, got %v", err) }
}
