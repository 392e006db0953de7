/*
Package storage implements the append-only event store on a single SQLite
file.

The store holds one table of normalized events indexed by timestamp, type,
subject, source, and repository. Inserts use INSERT OR IGNORE keyed on the
event id, which makes retried inserts idempotent. Nothing ever updates or
deletes a row; the only write paths are Insert, InsertMany and Vacuum.

Reads are plain SQL range scans returning events newest first. Iterate walks
the whole table oldest first in fixed-size batches for graph rebuilds.
*/
package storage
