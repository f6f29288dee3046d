// Package floodmem remembers the flood identifiers a node has already seen.
//
// By default ids are kept for the lifetime of the node. With a TTL an id is
// forgotten once it expires and a later request carrying it counts as a new
// flood. Expiry is lazy: it happens on lookup, there is no background sweeper,
// so a Memory is owned by a single goroutine and needs no locking.
package floodmem

import "time"

// Options configures a Memory.
type Options struct {
	TTL time.Duration    // 0 keeps ids forever
	Now func() time.Time // clock, time.Now when nil
}

// Stats counts lookups.
type Stats struct {
	Keys    int
	Marks   uint64
	Repeats uint64
	Expired uint64
}

// Memory is a set of flood ids.
type Memory struct {
	opts  Options
	seen  map[uint64]int64 // id -> expireAt (unix nano), 0 = never
	stats Stats
}

// New returns an empty Memory.
func New(opts Options) *Memory {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Memory{opts: opts, seen: make(map[uint64]int64)}
}

// Contains reports whether id has been seen and has not expired.
func (m *Memory) Contains(id uint64) bool {
	exp, ok := m.seen[id]
	if !ok {
		return false
	}
	if exp != 0 && m.opts.Now().UnixNano() >= exp {
		delete(m.seen, id)
		m.stats.Expired++
		return false
	}
	return true
}

// Mark records id and reports whether this was its first sighting. A repeat
// sighting does not refresh the expiry.
func (m *Memory) Mark(id uint64) bool {
	m.stats.Marks++
	if m.Contains(id) {
		m.stats.Repeats++
		return false
	}
	var exp int64
	if m.opts.TTL > 0 {
		exp = m.opts.Now().Add(m.opts.TTL).UnixNano()
	}
	m.seen[id] = exp
	return true
}

// Len returns the number of remembered ids, expired ones included until
// they are looked up again.
func (m *Memory) Len() int { return len(m.seen) }

// Stats returns a snapshot of the counters.
func (m *Memory) Stats() Stats {
	st := m.stats
	st.Keys = len(m.seen)
	return st
}
