// Package channel defines domain-specific errors
package channel

import (
	"errors"
	"fmt"
)

// Domain errors shared by the queue, broadcast and watch channels.
var (
	// Send side
	ErrClosed = errors.New("channel is closed")
	ErrFull   = errors.New("channel is full")

	// Receive side
	ErrEmpty  = errors.New("channel is empty")
	ErrLagged = errors.New("receiver lagged behind")
)

// SendError is returned when a value could not be delivered. The original
// value is handed back unmodified so the caller can redirect, retry or drop it.
// It unwraps to ErrClosed or ErrFull.
type SendError[T any] struct {
	Err   error
	Value T
}

func (e *SendError[T]) Error() string {
	return fmt.Sprintf("send error: %v", e.Err)
}

func (e *SendError[T]) Unwrap() error { return e.Err }

// Closed builds the error for a send attempted on a closed channel.
func Closed[T any](value T) error {
	return &SendError[T]{Err: ErrClosed, Value: value}
}

// Full builds the error for a non-waiting send on a channel with no free slot.
func Full[T any](value T) error {
	return &SendError[T]{Err: ErrFull, Value: value}
}

// Unsent extracts the payload carried by a *SendError[T] anywhere in err's chain.
func Unsent[T any](err error) (T, bool) {
	var se *SendError[T]
	if errors.As(err, &se) {
		return se.Value, true
	}
	var zero T
	return zero, false
}

// LaggedError reports that a broadcast receiver fell behind the retention
// window. The receiver has already been moved to the oldest retained entry,
// so the next receive succeeds.
type LaggedError struct {
	Skipped uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("receiver lagged behind by %d messages", e.Skipped)
}

// Is makes errors.Is(err, ErrLagged) match any lag amount.
func (e *LaggedError) Is(target error) bool { return target == ErrLagged }
