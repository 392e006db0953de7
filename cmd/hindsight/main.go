package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"regexp"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hindsight-sh/hindsight/pkg/config"
	"github.com/hindsight-sh/hindsight/pkg/daemon"
	"github.com/hindsight-sh/hindsight/pkg/graph"
	"github.com/hindsight-sh/hindsight/pkg/inference"
	"github.com/hindsight-sh/hindsight/pkg/log"
	"github.com/hindsight-sh/hindsight/pkg/report"
	"github.com/hindsight-sh/hindsight/pkg/storage"
	"github.com/hindsight-sh/hindsight/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hindsight",
	Short: "Hindsight - Local activity memory for your machine",
	Long: `Hindsight is a privacy-first background agent that observes your digital
activity (files, git, processes, terminal, browser), stores it locally,
and answers questions like "what was I working on yesterday afternoon?".

All data stays on this machine. Nothing ever leaves it.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Hindsight version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	startCmd.Flags().BoolP("foreground", "f", false, "Run in the foreground instead of daemonizing")
	startCmd.Flags().BoolP("verbose", "v", false, "Enable debug logging")

	explainCmd.Flags().String("last", "2h", "Lookback period (e.g. 90, 2h, 1d; bare numbers are minutes)")
	eventsCmd.Flags().String("last", "24h", "Lookback period")
	eventsCmd.Flags().Int("limit", 50, "Maximum events to show")
	eventsCmd.Flags().String("type", "", "Only show events of this type")
	switchesCmd.Flags().String("last", "8h", "Lookback period")
	stallsCmd.Flags().String("last", "24h", "Lookback period")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(switchesCmd)
	rootCmd.AddCommand(stallsCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(graphStatsCmd)
}

// lookbackPattern accepts bare minutes or a number with an m/h/d suffix.
var lookbackPattern = regexp.MustCompile(`^(\d+)([mhd]?)$`)

// parseLookback turns "90", "2h" or "1d" into a duration. Bare numbers are
// minutes.
func parseLookback(s string) (time.Duration, error) {
	m := lookbackPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid period %q (use 90, 2h or 1d)", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid period %q: %w", s, err)
	}
	switch m[2] {
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return time.Duration(n) * time.Minute, nil
	}
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the background agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		foreground, _ := cmd.Flags().GetBool("foreground")
		verbose, _ := cmd.Flags().GetBool("verbose")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := cfg.EnsureDataDir(); err != nil {
			return err
		}
		if pid, running := daemon.RunningPID(cfg.PIDPath()); running {
			fmt.Fprintf(os.Stderr, "Hindsight is already running (pid %d)\n", pid)
			os.Exit(1)
		}

		if !foreground {
			return startBackground(cfg)
		}

		level := log.ParseLevel(cfg.LogLevel)
		if verbose {
			level = log.DebugLevel
		}
		logFile, err := os.OpenFile(cfg.LogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer logFile.Close()
		log.Init(log.Config{Level: level, Output: io.MultiWriter(os.Stdout, logFile)})

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return daemon.New(cfg).Run(ctx)
	},
}

// startBackground re-executes the binary detached with --foreground, logging
// to the file in the data directory.
func startBackground(cfg *config.Config) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}
	logFile, err := os.OpenFile(cfg.LogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, "start", "--foreground")
	child.Stdout = logFile
	child.Stderr = logFile
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := child.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	fmt.Printf("Hindsight started (pid %d)\n", child.Process.Pid)
	fmt.Printf("Data directory: %s\n", cfg.DataDir)
	return nil
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		pid, running := daemon.RunningPID(cfg.PIDPath())
		if !running {
			fmt.Fprintln(os.Stderr, "Hindsight is not running")
			os.Exit(1)
		}

		if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
			return fmt.Errorf("failed to signal daemon: %w", err)
		}
		for i := 0; i < 10; i++ {
			time.Sleep(500 * time.Millisecond)
			if _, stillRunning := daemon.RunningPID(cfg.PIDPath()); !stillRunning {
				fmt.Println("Hindsight stopped")
				return nil
			}
		}
		// Graceful shutdown took too long.
		syscall.Kill(pid, syscall.SIGKILL)
		daemon.RemovePIDFile(cfg.PIDPath())
		fmt.Println("Hindsight stopped (forced)")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent status and data summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		fmt.Printf("Hindsight %s\n", Version)
		fmt.Printf("Data directory: %s\n", cfg.DataDir)
		if pid, running := daemon.RunningPID(cfg.PIDPath()); running {
			fmt.Printf("Status:         running (pid %d)\n", pid)
		} else {
			fmt.Printf("Status:         stopped\n")
		}

		store, err := openStore(cfg)
		if err != nil {
			fmt.Printf("Events:         unavailable (%v)\n", err)
			return nil
		}
		defer store.Close()

		ctx := cmd.Context()
		count, err := store.Count(ctx, time.Time{}, time.Time{})
		if err != nil {
			return err
		}
		fmt.Printf("Events:         %d\n", count)
		if info, err := os.Stat(cfg.DatabasePath()); err == nil {
			fmt.Printf("Database size:  %d KB\n", info.Size()/1024)
		}

		counts, err := store.CountsByType(ctx)
		if err != nil {
			return err
		}
		if len(counts) > 3 {
			counts = counts[:3]
		}
		for _, tc := range counts {
			fmt.Printf("  %-20s %d\n", tc.Type, tc.Count)
		}

		g := graph.New()
		if ok, err := g.Load(cfg.GraphPath()); err == nil && ok {
			stats := g.Summary()
			fmt.Printf("Graph:          %d nodes, %d edges\n", stats.Nodes, stats.Edges)
		}
		return nil
	},
}

var explainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Explain what you were working on recently",
	RunE: func(cmd *cobra.Command, args []string) error {
		last, _ := cmd.Flags().GetString("last")
		lookback, err := parseLookback(last)
		if err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		end := time.Now()
		start := end.Add(-lookback)
		events, err := store.EventsInRange(cmd.Context(), start, end, storage.QueryFilter{})
		if err != nil {
			return err
		}

		windows := inference.AnalyzeWindows(events, inference.DefaultWindowGap)
		switches := inference.DetectContextSwitches(windows)
		fmt.Print(report.ExplainTimeWindow(windows, switches, start, end))
		return nil
	},
}

var traceCmd = &cobra.Command{
	Use:   "trace <subject>",
	Short: "Trace everything known about a file, repository or topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subject := args[0]
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		events, err := store.EventsForSubject(cmd.Context(), subject, 0)
		if err != nil {
			return err
		}

		var related []graph.Neighbor
		g := graph.New()
		if ok, err := g.Load(cfg.GraphPath()); err == nil && ok {
			if matches := g.Find(subject); len(matches) > 0 {
				related = g.Related(matches[0].ID, 2, 1)
				if len(related) > 10 {
					related = related[:10]
				}
			}
		}
		fmt.Print(report.TraceSubject(subject, events, related))
		return nil
	},
}

var switchesCmd = &cobra.Command{
	Use:   "switches",
	Short: "Show recent context switches",
	RunE: func(cmd *cobra.Command, args []string) error {
		last, _ := cmd.Flags().GetString("last")
		lookback, err := parseLookback(last)
		if err != nil {
			return err
		}
		windows, err := analyzeLookback(cmd.Context(), lookback)
		if err != nil {
			return err
		}
		fmt.Print(report.ExplainSwitches(inference.DetectContextSwitches(windows), lookback))
		return nil
	},
}

var stallsCmd = &cobra.Command{
	Use:   "stalls",
	Short: "Show work that was started and then went quiet",
	RunE: func(cmd *cobra.Command, args []string) error {
		last, _ := cmd.Flags().GetString("last")
		lookback, err := parseLookback(last)
		if err != nil {
			return err
		}
		windows, err := analyzeLookback(cmd.Context(), lookback)
		if err != nil {
			return err
		}
		fmt.Print(report.ExplainStalls(inference.FindStalledTasks(windows), lookback))
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List raw events",
	RunE: func(cmd *cobra.Command, args []string) error {
		last, _ := cmd.Flags().GetString("last")
		limit, _ := cmd.Flags().GetInt("limit")
		typeFilter, _ := cmd.Flags().GetString("type")
		lookback, err := parseLookback(last)
		if err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		filter := storage.QueryFilter{Limit: limit}
		if typeFilter != "" {
			t := types.EventType(typeFilter)
			if !t.Valid() {
				return fmt.Errorf("unknown event type %q", typeFilter)
			}
			filter.Types = []types.EventType{t}
		}
		end := time.Now()
		events, err := store.EventsInRange(cmd.Context(), end.Add(-lookback), end, filter)
		if err != nil {
			return err
		}

		for _, e := range events {
			fmt.Printf("%s  %-18s %s\n",
				e.Timestamp.Format("Jan 2 15:04:05"), e.Type, e.Subject)
		}
		if len(events) == 0 {
			fmt.Println("No events in this period.")
		}
		return nil
	},
}

var graphStatsCmd = &cobra.Command{
	Use:   "graph-stats",
	Short: "Show activity graph statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		g := graph.New()
		loaded, err := g.Load(cfg.GraphPath())
		if err != nil {
			return err
		}
		if !loaded {
			fmt.Println("No graph snapshot yet (is the daemon running?)")
			return nil
		}

		stats := g.Summary()
		fmt.Printf("Nodes: %d\n", stats.Nodes)
		fmt.Printf("Edges: %d\n", stats.Edges)
		for t, n := range stats.NodesByType {
			fmt.Printf("  %-12s %d\n", t, n)
		}

		top := g.MostConnected(10)
		if len(top) > 0 {
			fmt.Println("\nMost connected:")
			for _, n := range top {
				fmt.Printf("  %-12s %-60s %.0f\n", n.Node.Type, n.Node.Value, n.Weight)
			}
		}
		return nil
	},
}

// openStore opens the event store for read-only CLI queries.
func openStore(cfg *config.Config) (*storage.Store, error) {
	if _, err := os.Stat(cfg.DatabasePath()); err != nil {
		return nil, fmt.Errorf("no event database at %s (is the daemon running?)", cfg.DatabasePath())
	}
	return storage.Open(cfg.DatabasePath())
}

// analyzeLookback loads and windows the events of the last period.
func analyzeLookback(ctx context.Context, lookback time.Duration) ([]*types.ActivityWindow, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	end := time.Now()
	events, err := store.EventsInRange(ctx, end.Add(-lookback), end, storage.QueryFilter{})
	if err != nil {
		return nil, err
	}
	return inference.AnalyzeWindows(events, inference.DefaultWindowGap), nil
}
