package queue

import (
	"context"
	"sync/atomic"

	"github.com/flowgraph/metered/internal/core/channel"
)

// Permit is an exclusive reservation of one queue slot. It must be consumed
// exactly once, by Send or Release. While a permit is outstanding the
// receiver does not report end-of-stream.
type Permit[T any] struct {
	st   *state[T]
	used atomic.Bool
}

// Reserve claims one slot without transmitting a value, waiting until a slot
// is free. It fails with channel.ErrClosed if the queue is closed, or with
// ctx.Err() if ctx ends first; in both cases no slot was claimed.
func (s *Sender[T]) Reserve(ctx context.Context) (*Permit[T], error) {
	if s.released.Load() {
		return nil, channel.ErrClosed
	}
	st := s.st
	for {
		st.mu.Lock()
		if st.closed {
			st.mu.Unlock()
			return nil, channel.ErrClosed
		}
		if st.free() > 0 {
			p := st.claim()
			st.mu.Unlock()
			st.log.Debug().Msg("permit acquired")
			return p, nil
		}
		wake := st.space.Wait()
		st.mu.Unlock()

		if err := channel.Await(ctx, wake); err != nil {
			st.log.Debug().Err(err).Msg("reserve abandoned")
			return nil, err
		}
	}
}

// TryReserve claims a slot only if one is free right now. It fails with
// channel.ErrClosed or channel.ErrFull, closed taking precedence.
func (s *Sender[T]) TryReserve() (*Permit[T], error) {
	if s.released.Load() {
		return nil, channel.ErrClosed
	}
	st := s.st
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return nil, channel.ErrClosed
	}
	if st.free() == 0 {
		return nil, channel.ErrFull
	}
	return st.claim(), nil
}

// claim reserves a slot and a sender reference. Must be called with st.mu held.
func (st *state[T]) claim() *Permit[T] {
	st.reserved++
	st.senders++
	return &Permit[T]{st: st}
}

// Send writes value into the reserved slot and consumes the permit. It cannot
// fail: the slot was claimed by Reserve, and permits granted before the queue
// was closed stay usable. Calling Send on a consumed permit panics.
func (p *Permit[T]) Send(value T) {
	if !p.used.CompareAndSwap(false, true) {
		panic("queue: permit already used")
	}
	st := p.st
	st.mu.Lock()
	st.reserved--
	st.push(value)
	st.releaseSender()
	st.mu.Unlock()
	st.committed()
	st.log.Debug().Msg("value sent with permit")
}

// Release returns the reserved slot unused. No metric changes. Releasing a
// consumed permit is a no-op.
func (p *Permit[T]) Release() {
	if !p.used.CompareAndSwap(false, true) {
		return
	}
	st := p.st
	st.mu.Lock()
	st.reserved--
	st.space.Broadcast()
	// a closed queue may have been waiting for this permit to drain
	st.data.Broadcast()
	st.releaseSender()
	st.mu.Unlock()
	st.log.Debug().Msg("permit released")
}

// WithPermit first reserves a slot on s and only then runs fn, returning its
// result together with the permit. If ctx ends while waiting for the slot,
// fn is never called and nothing is claimed. Once the permit is held, fn's
// result is always returned with it; the caller decides whether to Send
// through the permit or Release it.
func WithPermit[T, R any](ctx context.Context, s *Sender[T], fn func(context.Context) R) (*Permit[T], R, error) {
	var zero R
	permit, err := s.Reserve(ctx)
	if err != nil {
		return nil, zero, err
	}
	return permit, fn(ctx), nil
}
