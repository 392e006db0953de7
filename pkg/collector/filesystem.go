package collector

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/hindsight-sh/hindsight/pkg/log"
	"github.com/hindsight-sh/hindsight/pkg/metrics"
	"github.com/hindsight-sh/hindsight/pkg/types"
)

// watchQueueSize bounds the raw notification queue between the watcher
// goroutine and normalization. Overflow drops notifications rather than
// blocking the watcher.
const watchQueueSize = 4096

// Filesystem watches the configured directory trees and emits file.create,
// file.modify, file.delete and file.move events. Paths inside version
// control metadata, caches and build output are filtered out.
type Filesystem struct {
	roots  []string
	sink   Sink
	logger zerolog.Logger

	watcher  *fsnotify.Watcher
	queue    chan fsnotify.Event
	stopOnce sync.Once
}

// NewFilesystem creates a filesystem collector for the given root
// directories.
func NewFilesystem(roots []string) *Filesystem {
	return &Filesystem{
		roots:  roots,
		logger: log.WithCollector("filesystem"),
		queue:  make(chan fsnotify.Event, watchQueueSize),
	}
}

func (f *Filesystem) Name() string { return "filesystem" }

func (f *Filesystem) SetSink(sink Sink) { f.sink = sink }

// Start creates the watcher and registers every directory under the
// configured roots. Unreadable subtrees are skipped.
func (f *Filesystem) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	f.watcher = watcher

	watched := 0
	for _, root := range f.roots {
		watched += f.watchTree(root)
	}
	f.logger.Info().Int("directories", watched).Msg("Filesystem watcher started")
	return nil
}

// watchTree registers root and its subdirectories, returning the number of
// watches added.
func (f *Filesystem) watchTree(root string) int {
	added := 0
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fs.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skippableDir(d.Name()) {
			return fs.SkipDir
		}
		if err := f.watcher.Add(path); err != nil {
			f.logger.Debug().Err(err).Str("path", path).Msg("Failed to watch directory")
			return nil
		}
		added++
		return nil
	})
	return added
}

// skippableDir reports whether a directory subtree is never worth watching.
func skippableDir(name string) bool {
	if strings.HasPrefix(name, ".") && name != "." {
		return true
	}
	switch name {
	case "node_modules", "__pycache__", "venv", "dist", "build", "target":
		return true
	}
	return false
}

// Run pumps raw notifications into the bounded queue on one goroutine and
// normalizes them on the calling goroutine until the context is cancelled.
func (f *Filesystem) Run(ctx context.Context) {
	go f.forward(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-f.queue:
			metrics.QueueDepth.Set(float64(len(f.queue)))
			f.handle(ev)
		}
	}
}

// forward moves notifications from the watcher into the queue, dropping on
// overflow so the watcher never blocks.
func (f *Filesystem) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			select {
			case f.queue <- ev:
				metrics.QueueDepth.Set(float64(len(f.queue)))
			default:
				metrics.QueueDropped.Inc()
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			metrics.CollectorErrors.WithLabelValues("filesystem").Inc()
			f.logger.Warn().Err(err).Msg("Watcher error")
		}
	}
}

func (f *Filesystem) handle(ev fsnotify.Event) {
	if ignoredPath(ev.Name) {
		return
	}

	var eventType types.EventType
	switch {
	case ev.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			// New directory: extend the watch, no event.
			if !skippableDir(filepath.Base(ev.Name)) {
				f.watchTree(ev.Name)
			}
			return
		}
		eventType = types.FileCreate
	case ev.Has(fsnotify.Write):
		eventType = types.FileModify
	case ev.Has(fsnotify.Remove):
		eventType = types.FileDelete
	case ev.Has(fsnotify.Rename):
		// The notification names the old path only; the destination, if any,
		// shows up as a separate create.
		eventType = types.FileMove
	default:
		return
	}

	e := types.NewEvent(eventType, "filesystem", ev.Name)
	e.Repository = repositoryFor(ev.Name)
	f.sink(e)
}

// repositoryFor walks up from path looking for an enclosing git work tree.
func repositoryFor(path string) string {
	dir := filepath.Dir(path)
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Stop closes the watcher. Safe to call more than once.
func (f *Filesystem) Stop() error {
	var err error
	f.stopOnce.Do(func() {
		if f.watcher != nil {
			err = f.watcher.Close()
		}
	})
	return err
}
