// Package chanx provides unbounded in-process mailboxes used to wire nodes of
// the simulated mesh together.
//
// A mailbox has any number of senders and exactly one receiver. Sends never
// block. Once the receiver disconnects (Close) every further Send fails with
// ErrDisconnected, which is how a neighbor learns that a node has crashed.
package chanx

import (
	"errors"
	"sync"
)

// ErrDisconnected is returned by Send after the mailbox has been closed.
var ErrDisconnected = errors.New("chanx: mailbox disconnected")

// Sender is the write half of a mailbox.
type Sender[T any] interface {
	Send(T) error
}

// Receiver is the read half of a mailbox. A mailbox is consumed either
// through Recv or through TryRecv and Ready, never both.
type Receiver[T any] interface {
	// Recv returns a channel closed once the mailbox is closed and drained.
	Recv() <-chan T
	// TryRecv pops the head item without blocking. ok is false when nothing
	// is buffered; done additionally reports that nothing ever will be.
	TryRecv() (v T, ok, done bool)
	// Ready is signalled after every Send and when the mailbox closes.
	Ready() <-chan struct{}
	Close() error
}

// Unbounded is a FIFO mailbox with an unbounded buffer.
type Unbounded[T any] struct {
	mu         sync.Mutex
	buf        []T
	closed     bool // receiver gone, pending items discarded
	sendClosed bool // no more sends, pending items still delivered

	wake    chan struct{}
	out     chan T
	closeCh chan struct{}
	pumping sync.Once
}

// New creates an empty mailbox.
func New[T any]() *Unbounded[T] {
	return &Unbounded[T]{
		wake:    make(chan struct{}, 1),
		out:     make(chan T),
		closeCh: make(chan struct{}),
	}
}

// Send enqueues v. It never blocks.
func (u *Unbounded[T]) Send(v T) error {
	u.mu.Lock()
	if u.closed || u.sendClosed {
		u.mu.Unlock()
		return ErrDisconnected
	}
	u.buf = append(u.buf, v)
	u.mu.Unlock()
	u.signal()
	return nil
}

// Recv returns the delivery channel. The first call starts the goroutine
// feeding it.
func (u *Unbounded[T]) Recv() <-chan T {
	u.pumping.Do(func() { go u.pump() })
	return u.out
}

// TryRecv pops the head item without blocking.
func (u *Unbounded[T]) TryRecv() (v T, ok, done bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return v, false, true
	}
	if len(u.buf) == 0 {
		return v, false, u.sendClosed
	}
	var zero T
	v = u.buf[0]
	u.buf[0] = zero
	u.buf = u.buf[1:]
	return v, true, false
}

// Ready returns the wake-up channel. It holds at most one pending signal, so
// a consumer must drain TryRecv after every wake-up.
func (u *Unbounded[T]) Ready() <-chan struct{} { return u.wake }

// Len reports the number of buffered items not yet handed to the receiver.
func (u *Unbounded[T]) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.buf)
}

// Close disconnects the receiver: buffered items are discarded, Recv's
// channel is closed and senders observe ErrDisconnected.
func (u *Unbounded[T]) Close() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.closed = true
	u.buf = nil
	close(u.closeCh)
	u.mu.Unlock()
	u.signal()
	return nil
}

// CloseSend hangs up the sending side. Items already buffered are still
// delivered, then Recv's channel is closed.
func (u *Unbounded[T]) CloseSend() {
	u.mu.Lock()
	u.sendClosed = true
	u.mu.Unlock()
	u.signal()
}

func (u *Unbounded[T]) signal() {
	select {
	case u.wake <- struct{}{}:
	default:
	}
}

func (u *Unbounded[T]) pump() {
	defer close(u.out)
	var zero T
	for {
		u.mu.Lock()
		if len(u.buf) == 0 {
			done := u.sendClosed
			u.mu.Unlock()
			if done {
				return
			}
			select {
			case <-u.wake:
				continue
			case <-u.closeCh:
				return
			}
		}
		v := u.buf[0]
		u.buf[0] = zero
		u.buf = u.buf[1:]
		u.mu.Unlock()

		select {
		case u.out <- v:
		case <-u.closeCh:
			return
		}
	}
}
