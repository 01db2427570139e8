// Package watch provides a single-producer multi-consumer cell that holds
// only the latest value. Receivers are woken when the value changes and
// always read the current value; intermediate values may be skipped.
//
// Every send adds one to the occupancy gauge. Each observed change takes one
// off and adds one to the total counter, so the counter tracks observations,
// not sends.
package watch

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

	value   T
	version uint64

	receivers    int
	senderClosed bool

	changed channel.Notifier

	metrics metrics.Binding
	log     zerolog.Logger
}

// Sender is the single producer handle.
type Sender[T any] struct {
	st       *state[T]
	released atomic.Bool
}

// Receiver observes the cell. Each receiver remembers the last version it saw.
type Receiver[T any] struct {
	st       *state[T]
	seen     uint64 // guarded by st.mu
	released atomic.Bool
}

// New creates a watch channel holding initial. The initial value counts as
// already seen.
func New[T any](initial T, m metrics.Binding, opts ...channel.Option) (*Sender[T], *Receiver[T]) {
	st := &state[T]{
		value:     initial,
		receivers: 1,
		metrics:   m,
		log:       channel.NewLogger(channel.KindWatch, m.Name, opts),
	}
	return &Sender[T]{st: st}, &Receiver[T]{st: st}
}

// Send replaces the current value and wakes every receiver. It fails with a
// *channel.SendError carrying value, leaving the cell unchanged, when the
// sender is closed or no receiver is live.
func (s *Sender[T]) Send(value T) error {
	if s.released.Load() {
		return channel.Closed(value)
	}
	st := s.st
	st.mu.Lock()
	if st.receivers == 0 {
		st.mu.Unlock()
		st.log.Warn().Msg("watch send without receivers")
		return channel.Closed(value)
	}
	st.value = value
	st.version++
	st.changed.Broadcast()
	st.mu.Unlock()

	st.metrics.IncOccupancy()
	st.log.Debug().Msg("value published")
	return nil
}

// Subscribe creates a receiver that treats the current value as seen.
func (s *Sender[T]) Subscribe() *Receiver[T] {
	st := s.st
	st.mu.Lock()
	defer st.mu.Unlock()
	st.receivers++
	return &Receiver[T]{st: st, seen: st.version}
}

// ReceiverCount returns the number of live receivers.
func (s *Sender[T]) ReceiverCount() int {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	return s.st.receivers
}

// Borrow returns the current value.
func (s *Sender[T]) Borrow() T {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	return s.st.value
}

// Close releases the sender. Receivers still observe an unseen value once
// and then get channel.ErrClosed. It is idempotent.
func (s *Sender[T]) Close() {
	if !s.released.CompareAndSwap(false, true) {
		return
	}
	st := s.st
	st.mu.Lock()
	st.senderClosed = true
	st.changed.Broadcast()
	st.mu.Unlock()
	st.log.Debug().Msg("watch closed")
}

// IsClosed reports whether every receiver is gone.
func (s *Sender[T]) IsClosed() bool {
	return s.ReceiverCount() == 0
}

// observe marks the current version as seen and reports whether it was new.
// Must be called with st.mu held.
func (r *Receiver[T]) observe() bool {
	if r.st.version == r.seen {
		return false
	}
	r.seen = r.st.version
	return true
}

// observed records one consumed change. Must be called without st.mu held.
func (r *Receiver[T]) observed() {
	r.st.metrics.DecOccupancy()
	r.st.metrics.IncTotal()
	r.st.log.Debug().Msg("change observed")
}

// Changed waits until the value has changed since this receiver last looked
// and marks it seen. It fails with channel.ErrClosed once the sender is closed
// and nothing unseen remains, or with ctx.Err().
func (r *Receiver[T]) Changed(ctx context.Context) error {
	if r.released.Load() {
		return channel.ErrClosed
	}
	st := r.st
	for {
		st.mu.Lock()
		if r.observe() {
			st.mu.Unlock()
			r.observed()
			return nil
		}
		if st.senderClosed {
			st.mu.Unlock()
			return channel.ErrClosed
		}
		wake := st.changed.Wait()
		st.mu.Unlock()

		if err := channel.Await(ctx, wake); err != nil {
			return err
		}
	}
}

// HasChanged reports whether a value this receiver has not seen is available.
func (r *Receiver[T]) HasChanged() bool {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	return r.st.version != r.seen
}

// Borrow returns the current value without marking it seen.
func (r *Receiver[T]) Borrow() T {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	return r.st.value
}

// BorrowAndUpdate returns the current value and marks it seen. Marking an
// unseen value counts as one observed change.
func (r *Receiver[T]) BorrowAndUpdate() T {
	st := r.st
	st.mu.Lock()
	value := st.value
	fresh := r.observe()
	st.mu.Unlock()
	if fresh {
		r.observed()
	}
	return value
}

// Clone returns a new receiver that has seen the same version as r.
// Cloning a closed receiver yields a closed receiver.
func (r *Receiver[T]) Clone() *Receiver[T] {
	st := r.st
	st.mu.Lock()
	defer st.mu.Unlock()
	c := &Receiver[T]{st: st, seen: r.seen}
	if r.released.Load() {
		c.released.Store(true)
		return c
	}
	st.receivers++
	return c
}

// Close drops this receiver. It is idempotent.
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
