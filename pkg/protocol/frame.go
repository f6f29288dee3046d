package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Fixed trace frame header layout (32 bytes). Little-endian integers.
//
//	0  ..1   Magic    'M''D' (0x444d)
//	2        Version  u8
//	3        Event    u8 (EventKind)
//	4        Node     u8
//	5  ..7   Reserved
//	8  ..15  Seq      u64
//	16 ..23  UnixNano i64
//	24 ..27  PayloadLen u32
//	28 ..31  Reserved
const (
	frameHeaderSize = 32
	frameMagic      = uint16(0x444d)
	FrameVersion    = 1

	maxFramePayload = 1 << 24
)

var (
	errShortHeader = errors.New("short frame header")
	errBadMagic    = errors.New("bad frame magic")
)

// FrameHeader describes one trace record.
type FrameHeader struct {
	Version    uint8
	Event      EventKind
	Node       NodeID
	Seq        uint64
	UnixNano   int64
	PayloadLen uint32
}

// MarshalBinary encodes the header into its fixed 32 byte form.
func (h *FrameHeader) MarshalBinary() ([]byte, error) {
	buf := make([]byte, frameHeaderSize)
	binary.LittleEndian.PutUint16(buf[0:2], frameMagic)
	buf[2] = h.Version
	buf[3] = byte(h.Event)
	buf[4] = h.Node
	binary.LittleEndian.PutUint64(buf[8:16], h.Seq)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(h.UnixNano))
	binary.LittleEndian.PutUint32(buf[24:28], h.PayloadLen)
	return buf, nil
}

// UnmarshalBinary decodes a header produced by MarshalBinary.
func (h *FrameHeader) UnmarshalBinary(buf []byte) error {
	if len(buf) < frameHeaderSize {
		return errShortHeader
	}
	if binary.LittleEndian.Uint16(buf[0:2]) != frameMagic {
		return errBadMagic
	}
	h.Version = buf[2]
	h.Event = EventKind(buf[3])
	h.Node = buf[4]
	h.Seq = binary.LittleEndian.Uint64(buf[8:16])
	h.UnixNano = int64(binary.LittleEndian.Uint64(buf[16:24]))
	h.PayloadLen = binary.LittleEndian.Uint32(buf[24:28])
	return nil
}

// Frame is a header plus an EncodeBody payload.
type Frame struct {
	Header  FrameHeader
	Payload []byte
}

// WriteTo writes header and payload to w.
func (f *Frame) WriteTo(w io.Writer) (int64, error) {
	f.Header.PayloadLen = uint32(len(f.Payload))
	hb, err := f.Header.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n1, err := w.Write(hb)
	if err != nil {
		return int64(n1), err
	}
	n2, err := w.Write(f.Payload)
	return int64(n1 + n2), err
}

// ReadFrom reads one frame from r. A clean end of stream is reported as io.EOF.
func (f *Frame) ReadFrom(r io.Reader) (int64, error) {
	hb := make([]byte, frameHeaderSize)
	if n, err := io.ReadFull(r, hb); err != nil {
		return int64(n), err
	}
	if err := f.Header.UnmarshalBinary(hb); err != nil {
		return frameHeaderSize, err
	}
	if f.Header.PayloadLen > maxFramePayload {
		return frameHeaderSize, fmt.Errorf("payload too large: %d", f.Header.PayloadLen)
	}
	f.Payload = make([]byte, int(f.Header.PayloadLen))
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		return frameHeaderSize, err
	}
	return int64(frameHeaderSize + len(f.Payload)), nil
}
