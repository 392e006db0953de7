/*
Package types defines the unified event model shared by every Hindsight
component.

Event is the single normalized record all collectors emit: a random 128-bit
id, a closed event type enumeration, a microsecond timestamp, a primary
subject, optional typed slots (repository, branch, process, url), and an open
metadata map. Two events with equal ids are equal by definition; the store
deduplicates on insert.

ActivityWindow is the derived value the inference engine works with: a time
interval plus the events it contains, annotated with a task label, a
confidence score and the window's key subjects.
*/
package types
