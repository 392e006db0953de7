/*
Package graph maintains the activity graph: which files, repositories,
domains, commands and processes tend to appear together.

AddEvent creates nodes from the event stream and links the relationships an
event carries by itself (file to repository, url to domain, command to the
files it referenced). AddWindow adds co-occurrence edges between every pair of
entities active in the same inferred window; edge weights only ever grow.

The graph lives in memory and is periodically snapshotted to a bolt file with
two buckets, nodes and edges, holding JSON values. Load tolerates a missing
snapshot so a fresh installation starts with an empty graph.
*/
package graph
