// Package metered is the public entry point for instrumented in-process
// channels. It re-exports the queue, broadcast and watch channel types and
// the Prometheus metrics binding they report to, so application code does
// not import internal packages.
//
// A typical setup registers a binding and builds a channel from it:
//
//	reg := metered.NewRegistry()
//	m, err := metered.NewMetrics("orders", "order intake", reg)
//	if err != nil {
//		return err
//	}
//	tx, rx := metered.Queue[Order](128, m)
//
// The binding exposes orders_queue_size and orders_total_messages through
// metered.Handler(reg).
package metered
