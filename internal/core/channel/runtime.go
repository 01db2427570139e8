package channel

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Built-in defaults used when neither the caller nor the runtime config set a value.
const (
	DefaultQueueCapacity     = 1024
	DefaultBroadcastCapacity = 256
)

// RuntimeConfig controls default behavior for channel constructors.
// Zero values mean "use built-in defaults".
type RuntimeConfig struct {
	QueueCapacity     int
	BroadcastCapacity int

	// Logger is the base logger for every channel built without WithLogger.
	// Nil means zerolog.Nop().
	Logger *zerolog.Logger
}

var defaultRuntimeConfig atomic.Pointer[RuntimeConfig]

// SetDefaultRuntimeConfig overrides the default channel settings.
func SetDefaultRuntimeConfig(cfg RuntimeConfig) { defaultRuntimeConfig.Store(&cfg) }

func runtimeConfig() RuntimeConfig {
	if cfg := defaultRuntimeConfig.Load(); cfg != nil {
		return *cfg
	}
	return RuntimeConfig{}
}

// QueueCapacity resolves a requested queue capacity against the defaults.
func QueueCapacity(requested int) int {
	if requested > 0 {
		return requested
	}
	if c := runtimeConfig().QueueCapacity; c > 0 {
		return c
	}
	return DefaultQueueCapacity
}

// BroadcastCapacity resolves a requested ring size against the defaults.
func BroadcastCapacity(requested int) int {
	if requested > 0 {
		return requested
	}
	if c := runtimeConfig().BroadcastCapacity; c > 0 {
		return c
	}
	return DefaultBroadcastCapacity
}

func defaultLogger() zerolog.Logger {
	if l := runtimeConfig().Logger; l != nil {
		return *l
	}
	return zerolog.Nop()
}
