// Package policy resolves retention windows for stored segments.
//
// A policy carries a global default plus optional per-project and per-level
// day overrides. Overrides are more specific than the default and win over
// it; when both a project and a level override apply to the same entry the
// shorter of the two wins. Archived segments fall back to their own default
// when no override is more specific, since compressed history is typically
// kept longer than the hot store.
package policy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Day is the unit every retention setting is expressed in.
const Day = 24 * time.Hour

// Policy holds retention windows in days. Zero disables the corresponding
// default; an explicit zero override is treated as absent.
type Policy struct {
	DefaultDays int            `yaml:"days_to_keep"`
	ArchiveDays int            `yaml:"archive_days_to_keep"`
	Projects    map[string]int `yaml:"projects"`
	Levels      map[string]int `yaml:"levels"`
}

// Default mirrors the stock deployment: 90 days hot, 365 days archived.
func Default() Policy {
	return Policy{DefaultDays: 90, ArchiveDays: 365}
}

// Load reads a policy overrides file. The file replaces the whole policy,
// so it should state its own defaults.
func Load(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("reading retention policy: %w", err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parsing retention policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate rejects negative day counts.
func (p Policy) Validate() error {
	if p.DefaultDays < 0 {
		return fmt.Errorf("days_to_keep must not be negative: %d", p.DefaultDays)
	}
	if p.ArchiveDays < 0 {
		return fmt.Errorf("archive_days_to_keep must not be negative: %d", p.ArchiveDays)
	}
	for name, d := range p.Projects {
		if d < 0 {
			return fmt.Errorf("project %q: retention must not be negative: %d", name, d)
		}
	}
	for name, d := range p.Levels {
		if d < 0 {
			return fmt.Errorf("level %q: retention must not be negative: %d", name, d)
		}
	}
	return nil
}

// WindowFor resolves the retention window for entries of one project and
// level. When both a project and a level override exist, the shorter wins.
// Zero means retention is disabled for that class of entries.
func (p Policy) WindowFor(project, level string, archived bool) time.Duration {
	pd, hasProject := p.Projects[project]
	ld, hasLevel := p.Levels[level]
	if hasProject && pd <= 0 {
		hasProject = false
	}
	if hasLevel && ld <= 0 {
		hasLevel = false
	}

	switch {
	case hasProject && hasLevel:
		if ld < pd {
			return time.Duration(ld) * Day
		}
		return time.Duration(pd) * Day
	case hasProject:
		return time.Duration(pd) * Day
	case hasLevel:
		return time.Duration(ld) * Day
	}

	days := p.DefaultDays
	if archived && p.ArchiveDays > 0 {
		days = p.ArchiveDays
	}
	if days <= 0 {
		return 0
	}
	return time.Duration(days) * Day
}

// SegmentWindow resolves the window for a whole segment from the levels it
// contains. A segment is only deletable once every entry in it has expired,
// so the result is the longest per-level window present. Segments without
// level metadata fall back to the project/default resolution.
func (p Policy) SegmentWindow(project string, levelCounts map[string]int, archived bool) time.Duration {
	var max time.Duration
	seen := false
	for level, count := range levelCounts {
		if count <= 0 {
			continue
		}
		seen = true
		if w := p.WindowFor(project, level, archived); w > max {
			max = w
		}
	}
	if !seen {
		return p.WindowFor(project, "", archived)
	}
	return max
}
