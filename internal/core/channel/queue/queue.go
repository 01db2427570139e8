// Package queue provides a bounded multi-producer single-consumer FIFO
// channel with cancel-safe backpressure and Prometheus occupancy metrics.
//
// Every slot is either free, reserved by a Permit, or holding a buffered
// value; a sender only ever writes into a slot it has claimed. Sends and
// reservations wait on a context, so a caller that gives up before a slot is
// claimed leaves the channel untouched.
package queue

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/flowgraph/metered/internal/core/channel"
	"github.com/flowgraph/metered/internal/infrastructure/metrics"
)

// state is shared by every handle of one queue.
type state[T any] struct {
	mu sync.Mutex

	// ring buffer of buffered values
	buf  []T
	head int
	n    int

	reserved int
	closed   bool
	// live sender handles plus outstanding permits
	senders int

	space channel.Notifier // a slot was freed or the queue closed
	data  channel.Notifier // a value was pushed, the queue closed, or the last sender left

	metrics metrics.Binding
	log     zerolog.Logger
}

// Sender is a cloneable producer handle. Each handle must be closed once;
// the receiver sees end-of-stream after every handle and permit is gone.
type Sender[T any] struct {
	st       *state[T]
	released atomic.Bool
}

// Receiver is the consumer handle.
type Receiver[T any] struct {
	st *state[T]
}

// Stats provides queue statistics
type Stats struct {
	Length   int  `json:"length"`
	Reserved int  `json:"reserved"`
	Capacity int  `json:"capacity"`
	Senders  int  `json:"senders"`
	Closed   bool `json:"closed"`
}

// New creates a queue holding at most capacity values. A capacity <= 0
// selects the runtime default.
func New[T any](capacity int, m metrics.Binding, opts ...channel.Option) (*Sender[T], *Receiver[T]) {
	capacity = channel.QueueCapacity(capacity)
	st := &state[T]{
		buf:     make([]T, capacity),
		senders: 1,
		metrics: m,
		log:     channel.NewLogger(channel.KindQueue, m.Name, opts),
	}
	return &Sender[T]{st: st}, &Receiver[T]{st: st}
}

// free reports unclaimed slots. Must be called with st.mu held.
func (st *state[T]) free() int {
	return len(st.buf) - st.n - st.reserved
}

// push appends to the tail. Must be called with st.mu held and a slot claimed.
func (st *state[T]) push(value T) {
	st.buf[(st.head+st.n)%len(st.buf)] = value
	st.n++
	st.data.Broadcast()
}

// pop removes the head. Must be called with st.mu held and st.n > 0.
func (st *state[T]) pop() T {
	var zero T
	value := st.buf[st.head]
	st.buf[st.head] = zero
	st.head = (st.head + 1) % len(st.buf)
	st.n--
	st.space.Broadcast()
	return value
}

// ended reports whether no value can ever arrive again.
// Must be called with st.mu held.
func (st *state[T]) ended() bool {
	return st.senders == 0 || (st.closed && st.reserved == 0)
}

// releaseSender drops one sender reference. Must be called with st.mu held.
func (st *state[T]) releaseSender() {
	st.senders--
	if st.senders == 0 {
		st.data.Broadcast()
	}
}

// committed records a successful enqueue. Must be called without st.mu held.
func (st *state[T]) committed() {
	st.metrics.IncOccupancy()
	st.metrics.IncTotal()
}

// Send enqueues value, waiting for a free slot if necessary. It fails with a
// *channel.SendError carrying value if the queue is closed, or with ctx.Err()
// if ctx ends first; in both cases nothing was enqueued.
func (s *Sender[T]) Send(ctx context.Context, value T) error {
	if s.released.Load() {
		return channel.Closed(value)
	}
	st := s.st
	for {
		st.mu.Lock()
		if st.closed {
			st.mu.Unlock()
			st.log.Warn().Msg("send on closed queue")
			return channel.Closed(value)
		}
		if st.free() > 0 {
			st.push(value)
			st.mu.Unlock()
			st.committed()
			st.log.Debug().Msg("value sent")
			return nil
		}
		wake := st.space.Wait()
		st.mu.Unlock()

		if err := channel.Await(ctx, wake); err != nil {
			st.log.Debug().Err(err).Msg("send abandoned")
			return err
		}
	}
}

// TrySend enqueues value only if a slot is free right now. A closed queue
// reports ErrClosed even when it is also full.
func (s *Sender[T]) TrySend(value T) error {
	if s.released.Load() {
		return channel.Closed(value)
	}
	st := s.st
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return channel.Closed(value)
	}
	if st.free() == 0 {
		st.mu.Unlock()
		return channel.Full(value)
	}
	st.push(value)
	st.mu.Unlock()
	st.committed()
	return nil
}

// Clone returns a new sender handle for the same queue. Cloning a closed
// handle yields a closed handle.
func (s *Sender[T]) Clone() *Sender[T] {
	c := &Sender[T]{st: s.st}
	if s.released.Load() {
		c.released.Store(true)
		return c
	}
	s.st.mu.Lock()
	s.st.senders++
	s.st.mu.Unlock()
	return c
}

// Close releases this handle. It is idempotent and does not affect other
// handles or outstanding permits.
func (s *Sender[T]) Close() {
	if !s.released.CompareAndSwap(false, true) {
		return
	}
	s.st.mu.Lock()
	s.st.releaseSender()
	s.st.mu.Unlock()
}

// IsClosed reports whether the receiver has closed the queue.
func (s *Sender[T]) IsClosed() bool {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	return s.st.closed
}

// Capacity returns the number of slots that can be claimed right now.
func (s *Sender[T]) Capacity() int {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if s.st.closed {
		return 0
	}
	return s.st.free()
}

// MaxCapacity returns the capacity the queue was created with.
func (s *Sender[T]) MaxCapacity() int {
	return len(s.st.buf)
}

// Recv dequeues the head value, waiting while the queue is empty. It returns
// io.EOF once the queue is closed or all senders are gone and every buffered
// value has been drained.
func (r *Receiver[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	st := r.st
	for {
		st.mu.Lock()
		if st.n > 0 {
			value := st.pop()
			st.mu.Unlock()
			st.metrics.DecOccupancy()
			st.log.Debug().Msg("value received")
			return value, nil
		}
		if st.ended() {
			st.mu.Unlock()
			st.log.Debug().Msg("queue drained")
			return zero, io.EOF
		}
		wake := st.data.Wait()
		st.mu.Unlock()

		if err := channel.Await(ctx, wake); err != nil {
			return zero, err
		}
	}
}

// TryRecv dequeues without waiting. It returns ErrEmpty when nothing is
// buffered but values may still arrive, and io.EOF once drained for good.
func (r *Receiver[T]) TryRecv() (T, error) {
	var zero T
	st := r.st
	st.mu.Lock()
	if st.n > 0 {
		value := st.pop()
		st.mu.Unlock()
		st.metrics.DecOccupancy()
		return value, nil
	}
	ended := st.ended()
	st.mu.Unlock()
	if ended {
		return zero, io.EOF
	}
	return zero, channel.ErrEmpty
}

// Close stops all further sends and reservations. Buffered values and values
// sent through permits granted before the close remain receivable.
// It is idempotent.
func (r *Receiver[T]) Close() {
	st := r.st
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return
	}
	st.closed = true
	st.space.Broadcast()
	st.data.Broadcast()
	st.log.Debug().Msg("queue closed")
}

// Len returns the number of buffered values.
func (r *Receiver[T]) Len() int {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	return r.st.n
}

// Metrics returns the binding the queue reports to.
func (r *Receiver[T]) Metrics() metrics.Binding {
	return r.st.metrics
}

// Stats returns queue statistics
func (r *Receiver[T]) Stats() Stats {
	st := r.st
	st.mu.Lock()
	defer st.mu.Unlock()
	return Stats{
		Length:   st.n,
		Reserved: st.reserved,
		Capacity: len(st.buf),
		Senders:  st.senders,
		Closed:   st.closed,
	}
}
