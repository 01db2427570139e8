// Package channel provides the pieces shared by the metered queue, broadcast
// and watch channels: the error taxonomy, constructor options and runtime
// defaults, and the wake-up primitive their waiting operations block on.
package channel

import (
	"github.com/rs/zerolog"
)

// Kind names a channel implementation in logs and stats.
type Kind string

const (
	// KindQueue is the bounded multi-producer single-consumer queue
	KindQueue Kind = "queue"
	// KindBroadcast is the lossy multi-consumer ring
	KindBroadcast Kind = "broadcast"
	// KindWatch is the single latest-value cell
	KindWatch Kind = "watch"
)

// Options holds constructor settings common to every channel kind.
type Options struct {
	Logger *zerolog.Logger
}

// Option configures a channel at construction time.
type Option func(*Options)

// WithLogger attaches a logger to the channel. Operations log at debug level;
// sends rejected by a closed channel log at warn.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) { o.Logger = &l }
}

// NewLogger applies opts and returns the channel's logger, tagged with the
// metric name and channel kind.
func NewLogger(kind Kind, name string, opts []Option) zerolog.Logger {
	var o Options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	base := defaultLogger()
	if o.Logger != nil {
		base = *o.Logger
	}
	return base.With().Str("channel", name).Str("kind", string(kind)).Logger()
}
