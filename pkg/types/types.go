package types

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies an observation. The set is closed; the store and the
// inference engine both switch on these values.
type EventType string

const (
	// Filesystem events
	FileCreate EventType = "file.create"
	FileModify EventType = "file.modify"
	FileDelete EventType = "file.delete"
	FileMove   EventType = "file.move"

	// Git events
	GitCommit       EventType = "git.commit"
	GitBranchSwitch EventType = "git.branch_switch"
	GitBranchCreate EventType = "git.branch_create"
	GitMerge        EventType = "git.merge"
	GitPull         EventType = "git.pull"
	GitPush         EventType = "git.push"

	// Process events
	ProcessStart  EventType = "process.start"
	ProcessActive EventType = "process.active"
	ProcessEnd    EventType = "process.end"

	// Terminal events
	ShellCommand EventType = "shell.command"

	// Browser events
	BrowserVisit EventType = "browser.visit"
)

// AllEventTypes lists every valid event type.
var AllEventTypes = []EventType{
	FileCreate, FileModify, FileDelete, FileMove,
	GitCommit, GitBranchSwitch, GitBranchCreate, GitMerge, GitPull, GitPush,
	ProcessStart, ProcessActive, ProcessEnd,
	ShellCommand, BrowserVisit,
}

// Valid reports whether t belongs to the closed event type set.
func (t EventType) Valid() bool {
	for _, known := range AllEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Metadata is an open string-keyed map of auxiliary values. No collector
// depends on another collector's keys. Persisted as JSON text.
type Metadata map[string]any

// Event is the unified record every collector normalizes into. Events are
// immutable once created: inserted into the store exactly once and never
// mutated or deleted afterwards.
type Event struct {
	ID               string    `json:"id"`
	Type             EventType `json:"event_type"`
	Timestamp        time.Time `json:"timestamp"`
	Source           string    `json:"source"`
	Subject          string    `json:"subject"`
	SubjectSecondary string    `json:"subject_secondary,omitempty"`
	Description      string    `json:"description,omitempty"`
	Repository       string    `json:"repository,omitempty"`
	Branch           string    `json:"branch,omitempty"`
	ProcessName      string    `json:"process_name,omitempty"`
	ProcessID        int32     `json:"process_id,omitempty"`
	URL              string    `json:"url,omitempty"`
	Title            string    `json:"title,omitempty"`
	Browser          string    `json:"browser,omitempty"`
	Metadata         Metadata  `json:"metadata,omitempty"`

	// Confidence is in [0,1]; collectors emit 1.0, inferred events may be
	// lower.
	Confidence float64 `json:"confidence"`
}

// NewEvent creates an event with a fresh random id, the given type, source
// and subject, a timestamp of now, and confidence 1.0.
func NewEvent(t EventType, source, subject string) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Type:       t,
		Timestamp:  time.Now(),
		Source:     source,
		Subject:    subject,
		Confidence: 1.0,
	}
}

// ActivityWindow is a derived, transient value: a time interval and the
// ordered events contained in it, annotated by the inference engine.
type ActivityWindow struct {
	Start  time.Time `json:"start_time"`
	End    time.Time `json:"end_time"`
	Events []*Event  `json:"events"`

	TaskLabel      string   `json:"task_label,omitempty"`
	TaskConfidence float64  `json:"task_confidence"`
	KeySubjects    []string `json:"key_subjects,omitempty"`
}

// NewWindow opens a window on a single event.
func NewWindow(e *Event) *ActivityWindow {
	return &ActivityWindow{
		Start:  e.Timestamp,
		End:    e.Timestamp,
		Events: []*Event{e},
	}
}

// AddEvent appends an event, widening the interval when the event falls
// outside it.
func (w *ActivityWindow) AddEvent(e *Event) {
	w.Events = append(w.Events, e)
	if e.Timestamp.Before(w.Start) {
		w.Start = e.Timestamp
	}
	if e.Timestamp.After(w.End) {
		w.End = e.Timestamp
	}
}

// Duration returns the window's time span.
func (w *ActivityWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// EventCount returns the number of events in the window.
func (w *ActivityWindow) EventCount() int {
	return len(w.Events)
}

// Merge returns a new window spanning both inputs with their combined
// events. Neither input is modified.
func (w *ActivityWindow) Merge(other *ActivityWindow) *ActivityWindow {
	merged := &ActivityWindow{Start: w.Start, End: w.End}
	if other.Start.Before(merged.Start) {
		merged.Start = other.Start
	}
	if other.End.After(merged.End) {
		merged.End = other.End
	}
	merged.Events = append(merged.Events, w.Events...)
	merged.Events = append(merged.Events, other.Events...)
	return merged
}
