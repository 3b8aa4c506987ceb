package model

import (
	"strings"
	"time"
)

// Level identifies the severity of a log entry.
type Level string

const (
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Defaults applied during normalization when the producer omits a field.
const (
	DefaultProject = "unknown"
	DefaultModule  = "other"
)

// ParseLevel canonicalizes a raw level string. Only the five recognized
// values are accepted, case-insensitively; everything else reports ok=false.
func ParseLevel(raw string) (Level, bool) {
	switch Level(strings.ToLower(strings.TrimSpace(raw))) {
	case LevelDebug:
		return LevelDebug, true
	case LevelInfo:
		return LevelInfo, true
	case LevelWarning:
		return LevelWarning, true
	case LevelError:
		return LevelError, true
	case LevelCritical:
		return LevelCritical, true
	}
	return "", false
}

// Entry is one normalized log record. Immutable once stored.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Project   string    `json:"project"`
	Module    string    `json:"module"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Details   Value     `json:"details"`
	Context   Value     `json:"context"`
}

// Filter selects entries for query and stats. Zero values mean no
// constraint; all set fields combine with AND semantics. Start and End are
// inclusive bounds.
type Filter struct {
	Project         string
	Module          string
	Level           Level
	Start           time.Time
	End             time.Time
	MessageContains string
}

// Validate rejects malformed filters before any scanning happens.
func (f Filter) Validate() error {
	if !f.Start.IsZero() && !f.End.IsZero() && f.End.Before(f.Start) {
		return &QueryError{Reason: "end_date is before start_date"}
	}
	return nil
}

// Matches reports whether e satisfies every set constraint of f.
func (f Filter) Matches(e *Entry) bool {
	if f.Project != "" && e.Project != f.Project {
		return false
	}
	if f.Module != "" && e.Module != f.Module {
		return false
	}
	if f.Level != "" && e.Level != f.Level {
		return false
	}
	if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && e.Timestamp.After(f.End) {
		return false
	}
	if f.MessageContains != "" && !strings.Contains(e.Message, f.MessageContains) {
		return false
	}
	return true
}

// OverlapsRange reports whether the filter's time window intersects
// [min, max]. Used to skip whole segments without reading their records.
func (f Filter) OverlapsRange(min, max time.Time) bool {
	if !f.Start.IsZero() && max.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && min.After(f.End) {
		return false
	}
	return true
}

// BatchResult reports the per-entry outcome of a batch submission. A batch
// is never all-or-nothing: IDs holds the identifiers assigned to accepted
// entries and Failures the rejection reason for each refused one.
type BatchResult struct {
	IDs      []string          `json:"ids"`
	Failures []ValidationError `json:"failures"`
}

// TimePeriod is the resolved time window of a stats aggregation: the
// requested bounds when supplied, otherwise the observed min/max timestamp
// of the matched entries. Nil means unbounded with no matching data.
type TimePeriod struct {
	Start *time.Time `json:"start"`
	End   *time.Time `json:"end"`
}

// Stats summarizes the entries matched by a filter. TotalLogs always equals
// the total-matched count of an unpaginated query over the same filter.
type Stats struct {
	TotalLogs  int            `json:"total_logs"`
	ByLevel    map[string]int `json:"by_level"`
	ByProject  map[string]int `json:"by_project"`
	ByModule   map[string]int `json:"by_module"`
	TimePeriod TimePeriod     `json:"time_period"`
}
