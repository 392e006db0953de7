/*
Package collector contains the observers that turn raw digital activity into
normalized events.

Five collectors ship with the daemon: filesystem (fsnotify watches over the
configured roots), git (polling discovered repositories for commits and
branch changes), process (sampling the process table through gopsutil),
terminal (tailing shell history files), and browser (reading Chrome and
Firefox history databases).

Every collector implements the same small contract: Start prepares resources
and seeds state so pre-existing activity is not replayed, Run blocks
producing events until its context is cancelled, and Stop releases resources.
Collectors emit through a Sink installed by the daemon and never touch
storage themselves. A collector that cannot start is skipped; the rest keep
running.
*/
package collector
