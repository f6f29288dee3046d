package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/types/known/structpb"

	"meshdrone/pkg/protocol"
	"meshdrone/pkg/protocol/codec"
)

// Reader decodes records written by a Recorder.
type Reader struct {
	r   *bufio.Reader
	reg *codec.Registry
}

// NewReader reads records from r.
func NewReader(r io.Reader) (*Reader, error) {
	reg, err := newRegistry()
	if err != nil {
		return nil, err
	}
	return &Reader{r: bufio.NewReader(r), reg: reg}, nil
}

// Next returns the next record and its frame header. It returns io.EOF at a
// clean end of stream and io.ErrUnexpectedEOF on a truncated record.
func (rd *Reader) Next() (Record, protocol.FrameHeader, error) {
	var fr protocol.Frame
	if _, err := fr.ReadFrom(rd.r); err != nil {
		return Record{}, fr.Header, err
	}
	if fr.Header.Version != protocol.FrameVersion {
		return Record{}, fr.Header, fmt.Errorf("record %d: unsupported version %d", fr.Header.Seq, fr.Header.Version)
	}
	f, err := protocol.PeekFormat(fr.Payload)
	if err != nil {
		return Record{}, fr.Header, fmt.Errorf("record %d: %w", fr.Header.Seq, err)
	}
	if f == protocol.FormatProto {
		var s structpb.Struct
		if _, err := protocol.DecodeBody(rd.reg, fr.Payload, &s); err != nil {
			return Record{}, fr.Header, fmt.Errorf("record %d: %w", fr.Header.Seq, err)
		}
		return fromStruct(&s), fr.Header, nil
	}
	var rec Record
	if _, err := protocol.DecodeBody(rd.reg, fr.Payload, &rec); err != nil {
		return Record{}, fr.Header, fmt.Errorf("record %d: %w", fr.Header.Seq, err)
	}
	return rec, fr.Header, nil
}

// ReadAll decodes every record until the end of the stream.
func ReadAll(r io.Reader) ([]Record, error) {
	rd, err := NewReader(r)
	if err != nil {
		return nil, err
	}
	var out []Record
	for {
		rec, _, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
