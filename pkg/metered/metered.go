package metered

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowgraph/metered/internal/core/channel"
	"github.com/flowgraph/metered/internal/core/channel/broadcast"
	"github.com/flowgraph/metered/internal/core/channel/queue"
	"github.com/flowgraph/metered/internal/core/channel/watch"
	"github.com/flowgraph/metered/internal/infrastructure/metrics"
)

// Re-export channel types for convenience
type (
	QueueSender[T any]       = queue.Sender[T]
	QueueReceiver[T any]     = queue.Receiver[T]
	Permit[T any]            = queue.Permit[T]
	QueueStats               = queue.Stats
	BroadcastSender[T any]   = broadcast.Sender[T]
	BroadcastReceiver[T any] = broadcast.Receiver[T]
	WatchSender[T any]       = watch.Sender[T]
	WatchReceiver[T any]     = watch.Receiver[T]
)

// Re-export the metrics binding and error types
type (
	Binding          = metrics.Binding
	SendError[T any] = channel.SendError[T]
	LaggedError      = channel.LaggedError
	Option           = channel.Option
	RuntimeConfig    = channel.RuntimeConfig
	Registerer       = prometheus.Registerer
	Gatherer         = prometheus.Gatherer
)

// Errors returned by channel operations. Queue end-of-stream is io.EOF.
var (
	ErrClosed        = channel.ErrClosed
	ErrFull          = channel.ErrFull
	ErrEmpty         = channel.ErrEmpty
	ErrLagged        = channel.ErrLagged
	ErrDuplicateName = metrics.ErrDuplicateName
)

// Queue creates a bounded multi-producer single-consumer FIFO channel.
func Queue[T any](capacity int, m Binding, opts ...Option) (*QueueSender[T], *QueueReceiver[T]) {
	return queue.New[T](capacity, m, opts...)
}

// Broadcast creates a channel whose subscribers each see every value, keeping
// the last capacity values for slow subscribers.
func Broadcast[T any](capacity int, m Binding, opts ...Option) (*BroadcastSender[T], *BroadcastReceiver[T]) {
	return broadcast.New[T](capacity, m, opts...)
}

// Watch creates a latest-value channel holding initial.
func Watch[T any](initial T, m Binding, opts ...Option) (*WatchSender[T], *WatchReceiver[T]) {
	return watch.New(initial, m, opts...)
}

// WithPermit reserves a queue slot and only then calls fn, returning the
// permit together with fn's result. If ctx ends while waiting for the slot,
// fn is not called and nothing changes.
func WithPermit[T, R any](ctx context.Context, s *QueueSender[T], fn func(context.Context) R) (*Permit[T], R, error) {
	return queue.WithPermit(ctx, s, fn)
}

// Unsent extracts the value a failed send handed back.
func Unsent[T any](err error) (T, bool) {
	return channel.Unsent[T](err)
}

// NewMetrics registers {name}_queue_size and {name}_total_messages in reg.
func NewMetrics(name, help string, reg Registerer) (Binding, error) {
	return metrics.New(name, help, reg)
}

// NewBasicMetrics registers only {name}_queue_size in reg.
func NewBasicMetrics(name, help string, reg Registerer) (Binding, error) {
	return metrics.NewBasic(name, help, reg)
}

// FromCollectors binds collectors the caller has already registered.
// total may be nil.
func FromCollectors(name string, occupancy prometheus.Gauge, total prometheus.Counter) Binding {
	return metrics.FromCollectors(name, occupancy, total)
}

// NewRegistry returns an empty Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return metrics.NewRegistry()
}

// Handler serves the metrics gathered from g in the Prometheus text format.
func Handler(g Gatherer) http.Handler {
	return metrics.Handler(g)
}

// WithLogger attaches a zerolog logger to a channel.
var WithLogger = channel.WithLogger

// SetDefaultRuntimeConfig overrides constructor defaults process-wide.
func SetDefaultRuntimeConfig(cfg RuntimeConfig) {
	channel.SetDefaultRuntimeConfig(cfg)
}
