/*
Package log provides structured logging for Hindsight using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. The daemon initializes the global logger once at
startup, teeing output between the console and the log file in the data
directory; every other package obtains a child logger via WithComponent or
WithCollector.

Log levels follow the usual semantics: healthy long-running operation logs at
debug, anomalies (a locked browser database, a failed insert, a collector
back-off) log at warn or error. Nothing in the hot event path logs above
debug.
*/
package log
