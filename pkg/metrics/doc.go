// Package metrics defines Prometheus instrumentation for the Hindsight
// daemon. The agent never exposes a network endpoint; counters accumulate in
// a private registry and the daemon logs a summary periodically.
package metrics
