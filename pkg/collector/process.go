package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/hindsight-sh/hindsight/pkg/log"
	"github.com/hindsight-sh/hindsight/pkg/types"
)

const (
	// trackCPUThreshold and trackMemThreshold decide whether an uncategorized
	// process is interesting enough to track at all.
	trackCPUThreshold = 1.0
	trackMemThreshold = 1.0
	// activeCPUThreshold marks a tracked process as actively working.
	activeCPUThreshold = 5.0

	maxCmdline = 200
)

type trackedProc struct {
	handle   *process.Process
	name     string
	category string
	ignored  bool
	started  bool
}

// Process samples the process table and emits process.start, process.active
// and process.end events for applications the user is working in. System
// daemons and kernel threads are ignored; everything else is tracked when it
// is a known application category or uses noticeable cpu or memory.
type Process struct {
	interval time.Duration
	sink     Sink
	logger   zerolog.Logger
	known    map[int32]*trackedProc
}

// NewProcess creates a process collector sampling at the given interval.
func NewProcess(interval time.Duration) *Process {
	return &Process{
		interval: interval,
		logger:   log.WithCollector("process"),
		known:    make(map[int32]*trackedProc),
	}
}

func (p *Process) Name() string { return "process" }

func (p *Process) SetSink(sink Sink) { p.sink = sink }

// Start enumerates the current process table once to prime cpu baselines.
// Processes already running when the daemon starts never produce a start
// event.
func (p *Process) Start(ctx context.Context) error {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to list processes: %w", err)
	}
	for _, proc := range procs {
		entry := p.track(proc)
		if entry != nil && !entry.ignored {
			// First CPUPercent call establishes the measurement baseline.
			entry.handle.CPUPercentWithContext(ctx)
			entry.started = true
		}
	}
	p.logger.Info().Int("processes", len(p.known)).Msg("Process collector started")
	return nil
}

func (p *Process) Run(ctx context.Context) {
	pollLoop(ctx, p.Name(), p.interval, p.sample)
}

func (p *Process) Stop() error { return nil }

func (p *Process) track(proc *process.Process) *trackedProc {
	name, err := proc.Name()
	if err != nil || name == "" {
		return nil
	}
	entry := &trackedProc{handle: proc, name: name}
	if _, ignored := ignoreProcesses[name]; ignored {
		entry.ignored = true
	} else {
		entry.category = processCategories[name]
	}
	p.known[proc.Pid] = entry
	return entry
}

func (p *Process) sample(ctx context.Context) error {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to list processes: %w", err)
	}

	alive := make(map[int32]bool, len(procs))
	for _, proc := range procs {
		alive[proc.Pid] = true

		entry, seen := p.known[proc.Pid]
		if !seen {
			entry = p.track(proc)
			if entry == nil || entry.ignored {
				continue
			}
			cpu, _ := entry.handle.CPUPercentWithContext(ctx)
			mem, _ := entry.handle.MemoryPercentWithContext(ctx)
			if p.trackable(entry, cpu, float64(mem)) {
				entry.started = true
				p.emit(ctx, types.ProcessStart, entry, proc.Pid, cpu, float64(mem))
			}
			continue
		}
		if entry.ignored {
			continue
		}

		cpu, _ := entry.handle.CPUPercentWithContext(ctx)
		mem, _ := entry.handle.MemoryPercentWithContext(ctx)
		if !entry.started && p.trackable(entry, cpu, float64(mem)) {
			entry.started = true
			p.emit(ctx, types.ProcessStart, entry, proc.Pid, cpu, float64(mem))
			continue
		}
		if entry.started && cpu > activeCPUThreshold {
			p.emit(ctx, types.ProcessActive, entry, proc.Pid, cpu, float64(mem))
		}
	}

	for pid, entry := range p.known {
		if alive[pid] {
			continue
		}
		if entry.started && !entry.ignored {
			p.emit(ctx, types.ProcessEnd, entry, pid, 0, 0)
		}
		delete(p.known, pid)
	}
	return nil
}

func (p *Process) trackable(entry *trackedProc, cpu, mem float64) bool {
	return entry.category != "" || cpu > trackCPUThreshold || mem > trackMemThreshold
}

func (p *Process) emit(ctx context.Context, t types.EventType, entry *trackedProc, pid int32, cpu, mem float64) {
	e := types.NewEvent(t, "process", entry.name)
	e.ProcessName = entry.name
	e.ProcessID = pid
	e.Metadata = types.Metadata{}
	if entry.category != "" {
		e.Metadata["category"] = entry.category
	}
	if t != types.ProcessEnd {
		e.Metadata["cpu_percent"] = cpu
		e.Metadata["memory_percent"] = mem
		if cmdline, err := entry.handle.CmdlineWithContext(ctx); err == nil && cmdline != "" {
			if len(cmdline) > maxCmdline {
				cmdline = cmdline[:maxCmdline]
			}
			e.Metadata["cmdline"] = cmdline
		}
		if cwd, err := entry.handle.CwdWithContext(ctx); err == nil && cwd != "" {
			e.Metadata["cwd"] = cwd
		}
	}
	p.sink(e)
}
