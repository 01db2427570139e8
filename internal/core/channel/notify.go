package channel

import "context"

// Notifier wakes every goroutine waiting for a state change. It is not safe
// on its own: Wait and Broadcast must be called with the owner's lock held.
// The zero value is ready to use.
type Notifier struct {
	ch chan struct{}
}

// Wait returns a channel that is closed by the next Broadcast.
func (n *Notifier) Wait() <-chan struct{} {
	if n.ch == nil {
		n.ch = make(chan struct{})
	}
	return n.ch
}

// Broadcast wakes all current waiters. Late waiters get a fresh channel, so
// nothing is allocated while nobody waits.
func (n *Notifier) Broadcast() {
	if n.ch == nil {
		return
	}
	close(n.ch)
	n.ch = nil
}

// Await blocks until wake is closed or ctx ends. Callers must not hold any
// channel state across Await, so returning ctx.Err() leaves nothing behind.
func Await(ctx context.Context, wake <-chan struct{}) error {
	select {
	case <-wake:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
