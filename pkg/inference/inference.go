package inference

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hindsight-sh/hindsight/pkg/types"
)

const (
	// DefaultWindowGap is the idle period that closes an activity window.
	DefaultWindowGap = 5 * time.Minute

	// switchGapThreshold is the break length that turns consecutive windows
	// with different tasks into a context switch even without overlap logic.
	switchGapThreshold = 30 * time.Minute

	// stallThreshold is how long a subject must sit untouched before the work
	// on it counts as stalled.
	stallThreshold = 60 * time.Minute

	maxKeySubjects = 5

	fallbackLabel      = "general_activity"
	fallbackConfidence = 0.3
)

// eventWeights ranks how strongly each event type signals deliberate work.
var eventWeights = map[types.EventType]float64{
	types.FileCreate:      0.8,
	types.FileModify:      0.7,
	types.FileDelete:      0.5,
	types.FileMove:        0.6,
	types.GitCommit:       1.0,
	types.GitBranchSwitch: 0.9,
	types.GitBranchCreate: 0.8,
	types.ProcessStart:    0.6,
	types.ProcessActive:   0.4,
	types.ShellCommand:    0.7,
	types.BrowserVisit:    0.5,
}

const defaultEventWeight = 0.5

// repositoryWeightFactor boosts a window's repository above individual files
// when ranking key subjects.
const repositoryWeightFactor = 1.5

// taskPattern describes one recognizable kind of work. Every required type
// must appear in a window before the pattern scores; optional types only add
// bonuses.
type taskPattern struct {
	label            string
	requiredTypes    map[types.EventType]struct{}
	optionalTypes    map[types.EventType]struct{}
	processHints     map[string]struct{}
	minBrowserVisits int
	minCommands      int
}

var taskPatterns = []taskPattern{
	{
		label:         "coding",
		requiredTypes: typeSet(types.FileModify),
		optionalTypes: typeSet(types.GitCommit, types.ShellCommand),
		processHints:  hintSet("code", "vim", "nvim", "pycharm", "idea"),
	},
	{
		label:            "research",
		requiredTypes:    typeSet(types.BrowserVisit),
		processHints:     hintSet("chrome", "firefox", "safari"),
		minBrowserVisits: 3,
	},
	{
		label:         "git_workflow",
		requiredTypes: typeSet(types.GitCommit),
		optionalTypes: typeSet(types.GitBranchSwitch),
	},
	{
		label:         "terminal_work",
		requiredTypes: typeSet(types.ShellCommand),
		processHints:  hintSet("terminal", "iterm", "alacritty"),
		minCommands:   3,
	},
	{
		label:         "file_organization",
		requiredTypes: typeSet(types.FileMove, types.FileDelete),
		processHints:  hintSet("finder", "explorer"),
	},
}

func typeSet(ts ...types.EventType) map[types.EventType]struct{} {
	out := make(map[types.EventType]struct{}, len(ts))
	for _, t := range ts {
		out[t] = struct{}{}
	}
	return out
}

func hintSet(names ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

// ContextSwitch records a transition between two differently-labeled
// activity windows.
type ContextSwitch struct {
	From        string        `json:"from_task"`
	To          string        `json:"to_task"`
	At          time.Time     `json:"at"`
	Gap         time.Duration `json:"gap"`
	Description string        `json:"description"`
}

// StalledTask records a piece of work that went quiet.
type StalledTask struct {
	Subject     string        `json:"subject"`
	TaskLabel   string        `json:"task_label"`
	LastActive  time.Time     `json:"last_active"`
	Idle        time.Duration `json:"idle"`
	Description string        `json:"description"`
}

// Summary aggregates a set of analyzed windows.
type Summary struct {
	Windows       int                      `json:"windows"`
	Events        int                      `json:"events"`
	Start         time.Time                `json:"start"`
	End           time.Time                `json:"end"`
	TaskDurations map[string]time.Duration `json:"task_durations"`
	TaskWindows   map[string]int           `json:"task_windows"`
	Dominant      string                   `json:"dominant_task,omitempty"`
	Switches      int                      `json:"context_switches"`
}

// CreateWindows groups events into activity windows: events are ordered by
// time and a new window opens whenever the gap to the previous event exceeds
// gap. The input slice is not modified. Output is deterministic for equal
// input sets.
func CreateWindows(events []*types.Event, gap time.Duration) []*types.ActivityWindow {
	if len(events) == 0 {
		return nil
	}
	if gap <= 0 {
		gap = DefaultWindowGap
	}

	sorted := make([]*types.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].ID < sorted[j].ID
	})

	var windows []*types.ActivityWindow
	current := types.NewWindow(sorted[0])
	for _, e := range sorted[1:] {
		if e.Timestamp.Sub(current.End) > gap {
			windows = append(windows, current)
			current = types.NewWindow(e)
			continue
		}
		current.AddEvent(e)
	}
	return append(windows, current)
}

// InferTask labels a window with the best matching task pattern and a
// confidence in [0,1]. A window matching no pattern gets the fallback label.
func InferTask(w *types.ActivityWindow) {
	typeCounts := make(map[types.EventType]int)
	processes := make(map[string]struct{})
	for _, e := range w.Events {
		typeCounts[e.Type]++
		if e.ProcessName != "" {
			processes[strings.ToLower(e.ProcessName)] = struct{}{}
		}
	}

	bestLabel := fallbackLabel
	bestScore := -1.0
	for _, pattern := range taskPatterns {
		score, ok := scorePattern(pattern, typeCounts, processes)
		if ok && score > bestScore {
			bestScore = score
			bestLabel = pattern.label
		}
	}
	if bestScore < 0 {
		w.TaskLabel = fallbackLabel
		w.TaskConfidence = fallbackConfidence
		return
	}
	w.TaskLabel = bestLabel
	w.TaskConfidence = bestScore
}

// scorePattern scores one pattern against a window's type counts and process
// names. The second return is false when a required type is missing.
func scorePattern(p taskPattern, typeCounts map[types.EventType]int, processes map[string]struct{}) (float64, bool) {
	for t := range p.requiredTypes {
		if typeCounts[t] == 0 {
			return 0, false
		}
	}

	score := 0.5
	for t := range p.optionalTypes {
		if typeCounts[t] > 0 {
			score += 0.1
		}
	}
	for hint := range p.processHints {
		if _, ok := processes[hint]; ok {
			score += 0.15
		}
	}
	if p.minBrowserVisits > 0 && typeCounts[types.BrowserVisit] < p.minBrowserVisits {
		score *= 0.5
	}
	if p.minCommands > 0 && typeCounts[types.ShellCommand] < p.minCommands {
		score *= 0.5
	}
	if score > 1.0 {
		score = 1.0
	}
	return score, true
}

// KeySubjects ranks what the window was about: each event's subject earns
// the event's weight, and the enclosing repository earns an extra boosted
// share. The top subjects are stored on the window.
func KeySubjects(w *types.ActivityWindow) {
	scores := make(map[string]float64)
	for _, e := range w.Events {
		weight, ok := eventWeights[e.Type]
		if !ok {
			weight = defaultEventWeight
		}
		if e.Subject != "" {
			scores[e.Subject] += weight
		}
		if e.Repository != "" {
			scores[e.Repository] += repositoryWeightFactor * weight
		}
	}

	subjects := make([]string, 0, len(scores))
	for s := range scores {
		subjects = append(subjects, s)
	}
	sort.Slice(subjects, func(i, j int) bool {
		if scores[subjects[i]] != scores[subjects[j]] {
			return scores[subjects[i]] > scores[subjects[j]]
		}
		return subjects[i] < subjects[j]
	})
	if len(subjects) > maxKeySubjects {
		subjects = subjects[:maxKeySubjects]
	}
	w.KeySubjects = subjects
}

// AnalyzeWindows runs the full pipeline: windowing, task inference and key
// subject extraction.
func AnalyzeWindows(events []*types.Event, gap time.Duration) []*types.ActivityWindow {
	windows := CreateWindows(events, gap)
	for _, w := range windows {
		InferTask(w)
		KeySubjects(w)
	}
	return windows
}

// DetectContextSwitches finds transitions between consecutive windows whose
// tasks differ. A label change with shared key subjects is the same piece of
// work viewed differently, not a switch, unless a long break separates the
// windows.
func DetectContextSwitches(windows []*types.ActivityWindow) []ContextSwitch {
	var switches []ContextSwitch
	for i := 1; i < len(windows); i++ {
		prev, cur := windows[i-1], windows[i]
		if prev.TaskLabel == cur.TaskLabel {
			continue
		}
		gap := cur.Start.Sub(prev.End)
		if sharesSubject(prev.KeySubjects, cur.KeySubjects) && gap <= switchGapThreshold {
			continue
		}

		desc := fmt.Sprintf("Switched from %s to %s", prev.TaskLabel, cur.TaskLabel)
		if gap > switchGapThreshold {
			desc += fmt.Sprintf(" (after %d min break)", int(gap.Minutes()))
		}
		switches = append(switches, ContextSwitch{
			From:        prev.TaskLabel,
			To:          cur.TaskLabel,
			At:          cur.Start,
			Gap:         gap,
			Description: desc,
		})
	}
	return switches
}

func sharesSubject(a, b []string) bool {
	for _, s := range a {
		for _, t := range b {
			if s == t {
				return true
			}
		}
	}
	return false
}

// FindStalledTasks reports work that was picked up again only after a long
// break: windows are grouped by path-like key subject, and each adjacent pair
// within a group separated by more than the stall threshold yields one
// record.
func FindStalledTasks(windows []*types.ActivityWindow) []StalledTask {
	groups := make(map[string][]*types.ActivityWindow)
	for _, w := range windows {
		for _, subject := range w.KeySubjects {
			if pathLike(subject) {
				groups[subject] = append(groups[subject], w)
			}
		}
	}

	var stalled []StalledTask
	for subject, group := range groups {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			return group[i].End.Before(group[j].End)
		})
		for i := 0; i < len(group)-1; i++ {
			gap := group[i+1].Start.Sub(group[i].End)
			if gap <= stallThreshold {
				continue
			}
			stalled = append(stalled, StalledTask{
				Subject:    subject,
				TaskLabel:  group[i].TaskLabel,
				LastActive: group[i].End,
				Idle:       gap,
				Description: fmt.Sprintf("Work on %s paused for %d minutes",
					subject, int(gap.Minutes())),
			})
		}
	}
	sort.Slice(stalled, func(i, j int) bool {
		if !stalled[i].LastActive.Equal(stalled[j].LastActive) {
			return stalled[i].LastActive.Before(stalled[j].LastActive)
		}
		return stalled[i].Subject < stalled[j].Subject
	})
	return stalled
}

// pathLike reports whether a subject looks like a file or repository path,
// the only subjects worth calling stalled work.
func pathLike(subject string) bool {
	return (strings.Contains(subject, "/") || strings.Contains(subject, `\`)) &&
		!strings.Contains(subject, "://")
}

// Summarize aggregates analyzed windows into totals per task.
func Summarize(windows []*types.ActivityWindow) Summary {
	s := Summary{
		TaskDurations: make(map[string]time.Duration),
		TaskWindows:   make(map[string]int),
	}
	for _, w := range windows {
		s.Windows++
		s.Events += w.EventCount()
		s.TaskDurations[w.TaskLabel] += w.Duration()
		s.TaskWindows[w.TaskLabel]++
		if s.Start.IsZero() || w.Start.Before(s.Start) {
			s.Start = w.Start
		}
		if w.End.After(s.End) {
			s.End = w.End
		}
	}
	for label, d := range s.TaskDurations {
		best, ok := s.TaskDurations[s.Dominant]
		if !ok || d > best || (d == best && label < s.Dominant) {
			s.Dominant = label
		}
	}
	s.Switches = len(DetectContextSwitches(windows))
	return s
}
