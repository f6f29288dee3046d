package protocol

import (
	"errors"
	"fmt"
)

// Fragmentize splits data into fragments of at most size bytes. An empty
// message still produces one (empty) fragment.
func Fragmentize(data []byte, size int) ([]*Fragment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid fragment size %d", size)
	}
	total := (len(data) + size - 1) / size
	if total == 0 {
		total = 1
	}
	out := make([]*Fragment, 0, total)
	for i := 0; i < total; i++ {
		start := i * size
		end := min(start+size, len(data))
		out = append(out, &Fragment{
			Index: uint64(i),
			Total: uint64(total),
			Data:  append([]byte(nil), data[start:end]...),
		})
	}
	return out, nil
}

var errIncomplete = errors.New("incomplete message")

// Assembler collects the fragments of one session.
type Assembler struct {
	total uint64
	parts map[uint64][]byte
}

// Add stores f. It returns the complete message once every fragment is in.
// Duplicated fragments overwrite the previous copy.
func (a *Assembler) Add(f *Fragment) ([]byte, error) {
	if f.Total == 0 || f.Index >= f.Total {
		return nil, fmt.Errorf("fragment %d/%d out of range", f.Index, f.Total)
	}
	if a.parts == nil {
		a.parts = make(map[uint64][]byte, f.Total)
		a.total = f.Total
	}
	if f.Total != a.total {
		return nil, fmt.Errorf("fragment total changed from %d to %d", a.total, f.Total)
	}
	a.parts[f.Index] = f.Data
	if uint64(len(a.parts)) < a.total {
		return nil, errIncomplete
	}
	var n int
	for _, p := range a.parts {
		n += len(p)
	}
	buf := make([]byte, 0, n)
	for i := uint64(0); i < a.total; i++ {
		buf = append(buf, a.parts[i]...)
	}
	return buf, nil
}

// IsIncomplete reports whether err only means more fragments are needed.
func IsIncomplete(err error) bool { return errors.Is(err, errIncomplete) }
