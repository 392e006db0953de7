/*
Package inference derives meaning from the raw event stream: activity
windows, task labels, context switches and stalled work.

Windowing is gap-based. Events sorted by time belong to the same window until
the stream goes quiet for longer than the gap; every event lands in exactly
one window. Task inference scores each window against a fixed set of task
patterns (coding, research, git workflow, terminal work, file organization)
using the window's event type mix and the processes seen in it; an
unrecognizable window is labeled general_activity with low confidence.

All functions here are pure: same events in, same windows out. The daemon
and the CLI both call them, the daemon to feed window co-occurrence into the
graph, the CLI to build reports on demand.
*/
package inference
