package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"meshdrone/pkg/protocol"
	"meshdrone/pkg/protocol/codec"
)

// Recorder appends records to a writer. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	reg    *codec.Registry
	format protocol.Format
	runID  string
	seq    uint64
	now    func() time.Time
}

// NewRecorder writes records for run runID to w in the given body format.
func NewRecorder(w io.Writer, format protocol.Format, runID string) (*Recorder, error) {
	reg, err := newRegistry()
	if err != nil {
		return nil, err
	}
	if _, err := protocol.CodecFor(reg, format); err != nil {
		return nil, err
	}
	r := &Recorder{
		w:      bufio.NewWriter(w),
		reg:    reg,
		format: format,
		runID:  runID,
		now:    time.Now,
	}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	return r, nil
}

// Create opens (truncating) a trace file at path.
func Create(path string, format protocol.Format, runID string) (*Recorder, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("trace dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create trace: %w", err)
	}
	r, err := NewRecorder(f, format, runID)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return r, nil
}

// Record encodes ev as the next record.
func (r *Recorder) Record(ev protocol.NodeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	at := r.now()
	rec := FromEvent(r.runID, r.seq, at, ev)

	var body any = rec
	if r.format == protocol.FormatProto {
		s, err := rec.toStruct()
		if err != nil {
			return err
		}
		body = s
	}
	payload, err := protocol.EncodeBody(r.reg, r.format, body)
	if err != nil {
		return fmt.Errorf("encode record %d: %w", r.seq, err)
	}
	fr := protocol.Frame{
		Header: protocol.FrameHeader{
			Version:  protocol.FrameVersion,
			Event:    ev.Kind,
			Node:     ev.Node,
			Seq:      r.seq,
			UnixNano: at.UnixNano(),
		},
		Payload: payload,
	}
	if _, err := fr.WriteTo(r.w); err != nil {
		return fmt.Errorf("write record %d: %w", r.seq, err)
	}
	return nil
}

// Count returns how many records were written.
func (r *Recorder) Count() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// Flush writes buffered records to the underlying writer.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.w.Flush()
}

// Close flushes and closes the underlying writer when it is a Closer.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.w.Flush()
	if r.closer != nil {
		err = errors.Join(err, r.closer.Close())
		r.closer = nil
	}
	return err
}

func newRegistry() (*codec.Registry, error) {
	reg := codec.NewRegistry()
	c, err := codec.CBOR()
	if err != nil {
		return nil, err
	}
	reg.Register(c)
	return reg, nil
}
