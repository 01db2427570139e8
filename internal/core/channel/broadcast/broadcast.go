// Package broadcast provides a bounded multi-producer multi-consumer channel.
// Every subscriber reads the same sequence of values through its own cursor;
// a subscriber that falls more than capacity values behind loses the oldest
// ones and is told how many it missed.
//
// Occupancy accounting: the gauge is incremented once per send and
// decremented once per successful receive on any subscriber. A value read by
// R subscribers moves it by 1-R, so it is not a backlog count when R > 1.
package broadcast

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/flowgraph/metered/internal/core/channel"
	"github.com/flowgraph/metered/internal/infrastructure/metrics"
)

type state[T any] struct {
	mu sync.Mutex

	ring []T
	// tail is the sequence number the next send will get.
	tail uint64

	senders   int
	receivers int

	data channel.Notifier

	metrics metrics.Binding
	log     zerolog.Logger
}

// Sender publishes values to every live subscriber.
type Sender[T any] struct {
	st       *state[T]
	released atomic.Bool
}

// Receiver is one subscriber cursor.
type Receiver[T any] struct {
	st       *state[T]
	next     uint64 // guarded by st.mu
	released atomic.Bool
}

// New creates a broadcast channel retaining the last capacity values.
// A capacity <= 0 selects the runtime default. The returned receiver is
// subscribed from the start.
func New[T any](capacity int, m metrics.Binding, opts ...channel.Option) (*Sender[T], *Receiver[T]) {
	capacity = channel.BroadcastCapacity(capacity)
	st := &state[T]{
		ring:      make([]T, capacity),
		senders:   1,
		receivers: 1,
		metrics:   m,
		log:       channel.NewLogger(channel.KindBroadcast, m.Name, opts),
	}
	return &Sender[T]{st: st}, &Receiver[T]{st: st}
}

// oldest is the lowest sequence number still retained. Must be called with st.mu held.
func (st *state[T]) oldest() uint64 {
	if n := uint64(len(st.ring)); st.tail > n {
		return st.tail - n
	}
	return 0
}

// Send publishes value to every current subscriber, overwriting the oldest
// retained value when the ring is full. It fails with a *channel.SendError
// carrying value when there is no live subscriber; nothing is recorded then.
func (s *Sender[T]) Send(value T) error {
	if s.released.Load() {
		return channel.Closed(value)
	}
	st := s.st
	st.mu.Lock()
	if st.receivers == 0 {
		st.mu.Unlock()
		st.log.Warn().Msg("broadcast without subscribers")
		return channel.Closed(value)
	}
	st.ring[st.tail%uint64(len(st.ring))] = value
	st.tail++
	st.data.Broadcast()
	st.mu.Unlock()

	st.metrics.IncOccupancy()
	st.metrics.IncTotal()
	st.log.Debug().Msg("value broadcast")
	return nil
}

// Subscribe creates a receiver that sees only values sent from now on.
func (s *Sender[T]) Subscribe() *Receiver[T] {
	return s.st.subscribe()
}

func (st *state[T]) subscribe() *Receiver[T] {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.receivers++
	return &Receiver[T]{st: st, next: st.tail}
}

// ReceiverCount returns the number of live subscribers, including the one
// returned by New until it is closed.
func (s *Sender[T]) ReceiverCount() int {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	return s.st.receivers
}

// Clone returns another sender handle. Cloning a closed handle yields a
// closed handle.
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

// Close releases this handle. Once every sender handle is closed, receivers
// drain what is retained and then report channel.ErrClosed.
func (s *Sender[T]) Close() {
	if !s.released.CompareAndSwap(false, true) {
		return
	}
	st := s.st
	st.mu.Lock()
	defer st.mu.Unlock()
	st.senders--
	if st.senders == 0 {
		st.data.Broadcast()
		st.log.Debug().Msg("broadcast closed")
	}
}

// advance moves the cursor one step. It returns channel.ErrEmpty when the receiver
// is caught up and senders remain. Must be called with st.mu held.
func (r *Receiver[T]) advance() (T, error) {
	var zero T
	st := r.st
	if oldest := st.oldest(); r.next < oldest {
		skipped := oldest - r.next
		r.next = oldest
		return zero, &channel.LaggedError{Skipped: skipped}
	}
	if r.next < st.tail {
		value := st.ring[r.next%uint64(len(st.ring))]
		r.next++
		return value, nil
	}
	if st.senders == 0 {
		return zero, channel.ErrClosed
	}
	return zero, channel.ErrEmpty
}

// Recv returns the next value for this subscriber, waiting if it is caught
// up. It fails with a *channel.LaggedError if values were overwritten before
// they were read (the following Recv resumes at the oldest retained value),
// with channel.ErrClosed once all senders are closed and the cursor is at the
// tail, or with ctx.Err().
func (r *Receiver[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	if r.released.Load() {
		return zero, channel.ErrClosed
	}
	st := r.st
	for {
		st.mu.Lock()
		value, err := r.advance()
		if err != channel.ErrEmpty {
			st.mu.Unlock()
			r.received(err)
			return value, err
		}
		wake := st.data.Wait()
		st.mu.Unlock()

		if err := channel.Await(ctx, wake); err != nil {
			return zero, err
		}
	}
}

// TryRecv is the non-waiting form of Recv; it reports channel.ErrEmpty when
// the subscriber is caught up.
func (r *Receiver[T]) TryRecv() (T, error) {
	var zero T
	if r.released.Load() {
		return zero, channel.ErrClosed
	}
	r.st.mu.Lock()
	value, err := r.advance()
	r.st.mu.Unlock()
	r.received(err)
	return value, err
}

// received records the outcome of one receive. Must be called without st.mu held.
func (r *Receiver[T]) received(err error) {
	switch {
	case err == nil:
		r.st.metrics.DecOccupancy()
		r.st.log.Debug().Msg("value received")
	case err != channel.ErrEmpty && err != channel.ErrClosed:
		r.st.log.Debug().Err(err).Msg("receiver lagged")
	}
}

// Resubscribe creates a new receiver positioned at the current tail.
func (r *Receiver[T]) Resubscribe() *Receiver[T] {
	return r.st.subscribe()
}

// Len returns how many retained values this subscriber has not read yet.
func (r *Receiver[T]) Len() int {
	st := r.st
	st.mu.Lock()
	defer st.mu.Unlock()
	from := r.next
	if oldest := st.oldest(); from < oldest {
		from = oldest
	}
	return int(st.tail - from)
}

// Close unsubscribes the receiver. It is idempotent.
func (r *Receiver[T]) Close() {
	if !r.released.CompareAndSwap(false, true) {
		return
	}
	r.st.mu.Lock()
	r.st.receivers--
	r.st.mu.Unlock()
}

// Metrics returns the binding the channel reports to.
func (r *Receiver[T]) Metrics() metrics.Binding {
	return r.st.metrics
}
