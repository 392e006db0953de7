package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hindsight-sh/hindsight/pkg/collector"
	"github.com/hindsight-sh/hindsight/pkg/config"
	"github.com/hindsight-sh/hindsight/pkg/graph"
	"github.com/hindsight-sh/hindsight/pkg/inference"
	"github.com/hindsight-sh/hindsight/pkg/log"
	"github.com/hindsight-sh/hindsight/pkg/metrics"
	"github.com/hindsight-sh/hindsight/pkg/storage"
	"github.com/hindsight-sh/hindsight/pkg/types"
)

// insertTimeout bounds how long one event insert may block the sink.
const insertTimeout = 5 * time.Second

// Daemon supervises the collectors and owns the store and the graph. One
// daemon runs per data directory, enforced by the pid file.
type Daemon struct {
	cfg    *config.Config
	logger zerolog.Logger

	store      *storage.Store
	graph      *graph.Graph
	collectors []collector.Collector

	started      time.Time
	lastAnalysis time.Time
}

// New creates a daemon for the given configuration.
func New(cfg *config.Config) *Daemon {
	return &Daemon{
		cfg:    cfg,
		logger: log.WithComponent("daemon"),
	}
}

// Run executes the daemon until the context is cancelled: open storage,
// start collectors, run periodic maintenance, then shut everything down in
// order.
func (d *Daemon) Run(ctx context.Context) error {
	d.started = time.Now()
	if err := d.cfg.EnsureDataDir(); err != nil {
		return err
	}

	store, err := storage.Open(d.cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	d.store = store

	d.graph = graph.New()
	if _, err := d.graph.Load(d.cfg.GraphPath()); err != nil {
		// A corrupt snapshot is not fatal; the graph rebuilds over time.
		d.logger.Warn().Err(err).Msg("Failed to load graph snapshot, starting empty")
	}

	if err := WritePIDFile(d.cfg.PIDPath()); err != nil {
		d.store.Close()
		return err
	}
	defer RemovePIDFile(d.cfg.PIDPath())

	d.startCollectors(ctx)
	d.lastAnalysis = time.Now()

	var wg sync.WaitGroup
	for _, c := range d.collectors {
		wg.Add(1)
		go func(c collector.Collector) {
			defer wg.Done()
			c.Run(ctx)
		}(c)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.maintenance(ctx)
	}()

	d.logger.Info().
		Int("collectors", len(d.collectors)).
		Str("data_dir", d.cfg.DataDir).
		Msg("Daemon started")

	<-ctx.Done()
	d.logger.Info().Msg("Shutting down")
	wg.Wait()

	for _, c := range d.collectors {
		if err := c.Stop(); err != nil {
			d.logger.Warn().Err(err).Str("collector", c.Name()).Msg("Failed to stop collector")
		}
	}
	d.saveGraph()
	if err := d.store.Close(); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to close event store")
	}
	d.logger.Info().Msg("Daemon stopped")
	return nil
}

// startCollectors builds and starts every configured collector. A collector
// that fails to start is skipped; the others keep running.
func (d *Daemon) startCollectors(ctx context.Context) {
	candidates := []collector.Collector{
		collector.NewFilesystem(d.cfg.WatchPaths),
		collector.NewGit(d.cfg.WatchPaths, d.cfg.GitPoll()),
		collector.NewProcess(d.cfg.ProcessPoll()),
		collector.NewTerminal(d.cfg.ShellHistoryPaths, d.cfg.ShellPoll()),
		collector.NewBrowser(d.cfg.ChromeHistoryPath, d.cfg.FirefoxHistoryPath, d.cfg.BrowserPoll()),
	}
	for _, c := range candidates {
		c.SetSink(d.handleEvent)
		if err := c.Start(ctx); err != nil {
			d.logger.Warn().Err(err).Str("collector", c.Name()).Msg("Collector failed to start, skipping")
			continue
		}
		d.collectors = append(d.collectors, c)
	}
}

// handleEvent is the single sink every collector feeds. An event that fails
// to persist is dropped with a warning; the graph only sees stored events.
func (d *Daemon) handleEvent(e *types.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()

	if err := d.store.Insert(ctx, e); err != nil {
		metrics.InsertErrors.Inc()
		d.logger.Warn().Err(err).Str("type", string(e.Type)).Msg("Dropping event, insert failed")
		return
	}
	d.graph.AddEvent(e)
	metrics.EventsCollected.WithLabelValues(string(e.Type), e.Source).Inc()
}

// maintenance runs the periodic tasks: graph snapshots, window analysis and
// the status heartbeat.
func (d *Daemon) maintenance(ctx context.Context) {
	saveTicker := time.NewTicker(time.Duration(d.cfg.GraphSaveInterval) * time.Second)
	statusTicker := time.NewTicker(time.Duration(d.cfg.StatusInterval) * time.Second)
	defer saveTicker.Stop()
	defer statusTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-saveTicker.C:
			d.analyzeRecent(ctx)
			d.saveGraph()
		case <-statusTicker.C:
			d.logStatus(ctx)
		}
	}
}

// analyzeRecent windows the events since the last pass and feeds the
// co-occurrence edges into the graph.
func (d *Daemon) analyzeRecent(ctx context.Context) {
	now := time.Now()
	events, err := d.store.EventsInRange(ctx, d.lastAnalysis, now, storage.QueryFilter{})
	if err != nil {
		d.logger.Warn().Err(err).Msg("Failed to load events for analysis")
		return
	}
	d.lastAnalysis = now
	if len(events) == 0 {
		return
	}

	windows := inference.AnalyzeWindows(events, inference.DefaultWindowGap)
	for _, w := range windows {
		d.graph.AddWindow(w)
	}
	d.logger.Debug().Int("events", len(events)).Int("windows", len(windows)).Msg("Analyzed recent activity")
}

func (d *Daemon) saveGraph() {
	stats := d.graph.Summary()
	metrics.GraphNodes.Set(float64(stats.Nodes))
	metrics.GraphEdges.Set(float64(stats.Edges))

	if err := d.graph.Save(d.cfg.GraphPath()); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to save graph snapshot")
		return
	}
	metrics.GraphSaves.Inc()
	d.logger.Debug().Int("nodes", stats.Nodes).Int("edges", stats.Edges).Msg("Graph snapshot saved")
}

func (d *Daemon) logStatus(ctx context.Context) {
	count, err := d.store.Count(ctx, time.Time{}, time.Time{})
	if err != nil {
		d.logger.Warn().Err(err).Msg("Failed to count events")
		return
	}
	stats := d.graph.Summary()
	d.logger.Info().
		Int64("events", count).
		Int("graph_nodes", stats.Nodes).
		Int("graph_edges", stats.Edges).
		Dur("uptime", time.Since(d.started)).
		Msg("Status")
	metrics.LogSummary(d.logger)
}
