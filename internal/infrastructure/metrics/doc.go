// Package metrics binds a channel to Prometheus collectors: an occupancy
// gauge and an optional lifetime message counter, registered once under a
// name and shared by every handle of the channel. It also exposes the
// registry and the /metrics exposition handler used by metered-server.
package metrics
