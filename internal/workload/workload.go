// Package workload drives synthetic traffic through metered channels so their
// occupancy and throughput series move. It backs the metered-server workload
// endpoints and the metrics-load example.
package workload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/flowgraph/metered/pkg/metered"
)

// DefaultInterval is the per-producer send period when a Spec leaves RateMS unset.
const DefaultInterval = 50 * time.Millisecond

// Spec describes one workload.
type Spec struct {
	Name      string `json:"name" validate:"required,metric_name"`
	Kind      string `json:"kind" validate:"required,channel_kind"`
	Capacity  int    `json:"capacity" validate:"min=0,max=1048576"`
	Producers int    `json:"producers" validate:"min=0,max=64"`
	Consumers int    `json:"consumers" validate:"min=0,max=64"`
	RateMS    int    `json:"rate_ms" validate:"min=0,max=60000"`
}

// Interval returns the send period, def when RateMS is unset.
func (s Spec) Interval(def time.Duration) time.Duration {
	if s.RateMS > 0 {
		return time.Duration(s.RateMS) * time.Millisecond
	}
	if def > 0 {
		return def
	}
	return DefaultInterval
}

func (s Spec) producers() int {
	if s.Producers > 0 {
		return s.Producers
	}
	return 1
}

func (s Spec) consumers() int {
	if s.Consumers > 0 {
		return s.Consumers
	}
	return 1
}

// Run pushes traffic through a channel of spec.Kind bound to m until ctx
// ends, then lets consumers drain what is left. Stopping through ctx is not
// an error.
func Run(ctx context.Context, spec Spec, every time.Duration, m metered.Binding, log zerolog.Logger) error {
	log = log.With().Str("workload", spec.Name).Str("kind", spec.Kind).Logger()
	log.Info().Msg("workload started")

	var err error
	switch spec.Kind {
	case "queue":
		err = runQueue(ctx, spec, every, m, log)
	case "broadcast":
		err = runBroadcast(ctx, spec, every, m, log)
	case "watch":
		err = runWatch(ctx, spec, every, m, log)
	default:
		return fmt.Errorf("unknown channel kind: %s", spec.Kind)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	if err != nil {
		log.Error().Err(err).Msg("workload failed")
		return err
	}
	log.Info().Msg("workload stopped")
	return nil
}

// tick calls fn once per period until ctx ends or fn fails.
func tick(ctx context.Context, every time.Duration, fn func(seq int64) error) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for seq := int64(0); ; seq++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		if err := fn(seq); err != nil {
			return err
		}
	}
}

// runQueue alternates plain sends with reserve-then-send on every producer.
// The single consumer keeps going after ctx ends until every producer has
// closed its handle and the queue is drained.
func runQueue(ctx context.Context, spec Spec, every time.Duration, m metered.Binding, log zerolog.Logger) error {
	tx, rx := metered.Queue[int64](spec.Capacity, m, metered.WithLogger(log))
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < spec.producers(); i++ {
		h := tx.Clone()
		g.Go(func() error {
			defer h.Close()
			return tick(gctx, every, func(seq int64) error {
				if seq%2 == 0 {
					return h.Send(gctx, seq)
				}
				permit, v, err := metered.WithPermit(gctx, h, func(context.Context) int64 { return seq })
				if err != nil {
					return err
				}
				permit.Send(v)
				return nil
			})
		})
	}
	tx.Close()

	drain := context.WithoutCancel(gctx)
	g.Go(func() error {
		defer rx.Close()
		for {
			if _, err := rx.Recv(drain); err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
		}
	})
	return g.Wait()
}

// runBroadcast fans every value out to spec.Consumers subscribers. Lagging
// subscribers log and carry on.
func runBroadcast(ctx context.Context, spec Spec, every time.Duration, m metered.Binding, log zerolog.Logger) error {
	tx, rx := metered.Broadcast[int64](spec.Capacity, m, metered.WithLogger(log))
	subs := []*metered.BroadcastReceiver[int64]{rx}
	for i := 1; i < spec.consumers(); i++ {
		subs = append(subs, tx.Subscribe())
	}

	g, gctx := errgroup.WithContext(ctx)
	drain := context.WithoutCancel(gctx)
	for _, sub := range subs {
		g.Go(func() error {
			defer sub.Close()
			for {
				_, err := sub.Recv(drain)
				switch {
				case err == nil:
				case errors.Is(err, metered.ErrLagged):
					log.Warn().Err(err).Msg("subscriber lagged")
				case errors.Is(err, metered.ErrClosed):
					return nil
				default:
					return err
				}
			}
		})
	}

	for i := 0; i < spec.producers(); i++ {
		h := tx.Clone()
		g.Go(func() error {
			defer h.Close()
			return tick(gctx, every, func(seq int64) error { return h.Send(seq) })
		})
	}
	tx.Close()
	return g.Wait()
}

// runWatch publishes a counter to spec.Consumers receivers. A watch channel
// has one sender, so spec.Producers is ignored.
func runWatch(ctx context.Context, spec Spec, every time.Duration, m metered.Binding, log zerolog.Logger) error {
	tx, rx := metered.Watch[int64](0, m, metered.WithLogger(log))
	receivers := []*metered.WatchReceiver[int64]{rx}
	for i := 1; i < spec.consumers(); i++ {
		receivers = append(receivers, rx.Clone())
	}

	g, gctx := errgroup.WithContext(ctx)
	drain := context.WithoutCancel(gctx)
	for _, r := range receivers {
		g.Go(func() error {
			defer r.Close()
			for {
				if err := r.Changed(drain); err != nil {
					if errors.Is(err, metered.ErrClosed) {
						return nil
					}
					return err
				}
				_ = r.Borrow()
			}
		})
	}

	g.Go(func() error {
		defer tx.Close()
		return tick(gctx, every, func(seq int64) error { return tx.Send(seq + 1) })
	})
	return g.Wait()
}
