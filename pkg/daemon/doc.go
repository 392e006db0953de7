/*
Package daemon runs the Hindsight background agent.

The daemon owns the event store and the activity graph, starts every
configured collector on its own goroutine, and funnels all emitted events
through one sink that persists first and updates the graph second. A
collector that fails to start is logged and skipped; the rest keep running.

Periodic maintenance snapshots the graph, windows recent events to feed
co-occurrence edges, and logs a status heartbeat. Shutdown is ordered:
collectors stop, a final snapshot is written, the store closes, the pid file
is removed. The pid file plus a signal-0 probe keeps a second daemon from
starting against the same data directory, and stale files from a crashed
daemon are cleaned up automatically.
*/
package daemon
