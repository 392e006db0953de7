package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hindsight-sh/hindsight/pkg/graph"
	"github.com/hindsight-sh/hindsight/pkg/inference"
	"github.com/hindsight-sh/hindsight/pkg/types"
)

// taskDescriptions maps task labels to readable phrases.
var taskDescriptions = map[string]string{
	"coding":            "Writing and editing code",
	"research":          "Reading documentation and browsing references",
	"git_workflow":      "Managing branches and commits",
	"terminal_work":     "Working in the terminal",
	"file_organization": "Organizing and cleaning up files",
	"general_activity":  "General computer activity",
}

func describeTask(label string) string {
	if d, ok := taskDescriptions[label]; ok {
		return d
	}
	return label
}

// maxRecentActivity bounds the event listing in a subject trace.
const maxRecentActivity = 20

// ExplainTimeWindow renders a narrative of what happened between start and
// end: a summary, how time split across tasks, a timeline of windows, and
// any context switches.
func ExplainTimeWindow(windows []*types.ActivityWindow, switches []inference.ContextSwitch, start, end time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Activity from %s to %s\n\n",
		start.Format("Jan 2 15:04"), end.Format("Jan 2 15:04"))

	if len(windows) == 0 {
		b.WriteString("No activity recorded in this period.\n")
		return b.String()
	}

	summary := inference.Summarize(windows)
	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "%d events across %d activity windows, spanning %s of active work.\n",
		summary.Events, summary.Windows, formatDuration(activeTime(summary)))
	if summary.Dominant != "" {
		fmt.Fprintf(&b, "Mostly **%s** (%s), with %d context switches.\n",
			summary.Dominant, describeTask(summary.Dominant), summary.Switches)
	}
	b.WriteString("\n")

	b.WriteString("## Task Distribution\n\n")
	for _, label := range sortedTasks(summary) {
		fmt.Fprintf(&b, "- **%s** (%s): %s across %d windows\n",
			label, describeTask(label),
			formatDuration(summary.TaskDurations[label]), summary.TaskWindows[label])
	}
	b.WriteString("\n")

	b.WriteString("## Activity Timeline\n\n")
	for _, w := range windows {
		fmt.Fprintf(&b, "- %s to %s: **%s** (confidence %.0f%%), %d events",
			w.Start.Format("15:04"), w.End.Format("15:04"),
			w.TaskLabel, w.TaskConfidence*100, w.EventCount())
		if len(w.KeySubjects) > 0 {
			fmt.Fprintf(&b, ", working on %s", shortSubject(w.KeySubjects[0]))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if len(switches) > 0 {
		b.WriteString("## Context Switches\n\n")
		for _, sw := range switches {
			fmt.Fprintf(&b, "- %s: %s\n", sw.At.Format("15:04"), sw.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// TraceSubject renders everything known about one subject: event totals,
// graph neighborhood and recent activity.
func TraceSubject(subject string, events []*types.Event, related []graph.Neighbor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Trace: %s\n\n", subject)

	if len(events) == 0 {
		b.WriteString("No recorded events mention this subject.\n")
		return b.String()
	}

	first := events[len(events)-1].Timestamp
	last := events[0].Timestamp
	b.WriteString("## Overview\n\n")
	fmt.Fprintf(&b, "%d events, first seen %s, last seen %s.\n\n",
		len(events), first.Format("Jan 2 15:04"), last.Format("Jan 2 15:04"))

	counts := make(map[types.EventType]int)
	for _, e := range events {
		counts[e.Type]++
	}
	b.WriteString("## Event Types\n\n")
	for _, tc := range sortedCounts(counts) {
		fmt.Fprintf(&b, "- %s: %d\n", tc.t, tc.n)
	}
	b.WriteString("\n")

	if len(related) > 0 {
		b.WriteString("## Related Items\n\n")
		for _, n := range related {
			fmt.Fprintf(&b, "- %s `%s` (weight %.1f)\n",
				n.Node.Type, shortSubject(n.Node.Value), n.Weight)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Recent Activity\n\n")
	limit := len(events)
	if limit > maxRecentActivity {
		limit = maxRecentActivity
	}
	for _, e := range events[:limit] {
		fmt.Fprintf(&b, "- %s %s: %s\n",
			e.Timestamp.Format("Jan 2 15:04"), e.Type, shortSubject(e.Subject))
	}
	return b.String()
}

// ExplainSwitches renders context switches with a short analysis when
// switching is frequent.
func ExplainSwitches(switches []inference.ContextSwitch, since time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Context switches in the last %s\n\n", formatDuration(since))

	if len(switches) == 0 {
		b.WriteString("No context switches detected. Focused session.\n")
		return b.String()
	}
	for _, sw := range switches {
		fmt.Fprintf(&b, "- %s: %s\n", sw.At.Format("15:04"), sw.Description)
	}
	b.WriteString("\n")

	if len(switches) > 5 {
		fmt.Fprintf(&b, "%d switches is a lot of task churn. ", len(switches))
		b.WriteString("Consider batching similar work together.\n")
	}
	return b.String()
}

// ExplainStalls renders stalled work, oldest stall first.
func ExplainStalls(stalls []inference.StalledTask, since time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Stalled work in the last %s\n\n", formatDuration(since))

	if len(stalls) == 0 {
		b.WriteString("Nothing looks stalled. Everything touched recently was followed up.\n")
		return b.String()
	}
	for _, s := range stalls {
		fmt.Fprintf(&b, "- **%s** (%s): last active %s, idle %s\n",
			shortSubject(s.Subject), s.TaskLabel,
			s.LastActive.Format("Jan 2 15:04"), formatDuration(s.Idle))
	}
	return b.String()
}

func activeTime(s inference.Summary) time.Duration {
	var total time.Duration
	for _, d := range s.TaskDurations {
		total += d
	}
	return total
}

func sortedTasks(s inference.Summary) []string {
	labels := make([]string, 0, len(s.TaskDurations))
	for label := range s.TaskDurations {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if s.TaskDurations[labels[i]] != s.TaskDurations[labels[j]] {
			return s.TaskDurations[labels[i]] > s.TaskDurations[labels[j]]
		}
		return labels[i] < labels[j]
	})
	return labels
}

type typeCount struct {
	t types.EventType
	n int
}

func sortedCounts(counts map[types.EventType]int) []typeCount {
	out := make([]typeCount, 0, len(counts))
	for t, n := range counts {
		out = append(out, typeCount{t, n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].n != out[j].n {
			return out[i].n > out[j].n
		}
		return out[i].t < out[j].t
	})
	return out
}

// shortSubject trims long values for display.
func shortSubject(s string) string {
	if len(s) > 80 {
		return "..." + s[len(s)-77:]
	}
	return s
}

// formatDuration renders a duration as minutes or hours and minutes.
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	hours := minutes / 60
	minutes = minutes % 60
	if hours >= 24 && minutes == 0 && hours%24 == 0 {
		return fmt.Sprintf("%dd", hours/24)
	}
	if minutes == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dh%dm", hours, minutes)
}
