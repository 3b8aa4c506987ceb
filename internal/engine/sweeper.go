package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/logharbor/logharbor/internal/model"
	"github.com/logharbor/logharbor/internal/policy"
	"github.com/logharbor/logharbor/internal/storage"
)

// SweepResult reports one retention pass.
type SweepResult struct {
	SegmentsDeleted int
	EntriesDeleted  int
}

// CleanupResult reports an on-demand cleanup. DeletedCount is the number
// of entries in the deleted segments.
type CleanupResult struct {
	DeletedCount int `json:"deleted_count"`
}

// Sweeper deletes immutable segments whose retention window has passed.
// Active segments are never touched; rotation seals them first and a
// later pass picks them up.
type Sweeper struct {
	store    *Store
	policy   policy.Policy
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewSweeper(store *Store, pol policy.Policy, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = store.logger
	}
	return &Sweeper{
		store:    store,
		policy:   pol,
		interval: interval,
		logger:   logger.With("component", "sweeper"),
		now:      store.now,
	}
}

// Run executes retention passes on a ticker until the context is done.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.logger.Info("retention loop started",
		"interval", sw.interval,
		"default_days", sw.policy.DefaultDays,
		"archive_days", sw.policy.ArchiveDays)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := sw.SweepOnce(ctx)
			if err != nil {
				sw.logger.Error("retention pass", "err", err)
			}
			if res.SegmentsDeleted > 0 {
				sw.logger.Info("expired segments removed",
					"segments", res.SegmentsDeleted,
					"entries", res.EntriesDeleted)
			}
		}
	}
}

// SweepOnce deletes every sealed or archived segment whose newest entry
// has outlived its resolved retention window. Per-segment failures are
// collected and reported together; the pass never stops early for them.
func (sw *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	return sw.sweep(ctx, "", func(meta storage.Meta, archived bool) bool {
		window := sw.policy.SegmentWindow(meta.Project, meta.LevelCounts, archived)
		if window <= 0 {
			return false
		}
		return sw.now().Sub(meta.MaxTime) > window
	})
}

// Cleanup deletes segments older than an explicit day count, bypassing
// the policy. A project filter narrows the scan. A level filter only
// deletes segments made up entirely of that level, so a mixed segment
// never loses other levels' entries.
func (sw *Sweeper) Cleanup(ctx context.Context, days int, project string, level model.Level) (CleanupResult, error) {
	if days < 1 {
		return CleanupResult{}, &model.QueryError{Reason: "days_to_keep must be at least 1"}
	}
	cutoff := sw.now().Add(-time.Duration(days) * policy.Day)

	res, err := sw.sweep(ctx, project, func(meta storage.Meta, archived bool) bool {
		if level != "" && !onlyLevel(meta.LevelCounts, level) {
			return false
		}
		return meta.MaxTime.Before(cutoff)
	})
	return CleanupResult{DeletedCount: res.EntriesDeleted}, err
}

// sweep walks the immutable segments of every matching scope and deletes
// those the predicate marks expired, checking the context between files.
func (sw *Sweeper) sweep(ctx context.Context, project string, expired func(meta storage.Meta, archived bool) bool) (SweepResult, error) {
	dirs, err := sw.store.scanDirs(project)
	if err != nil {
		return SweepResult{}, err
	}

	var res SweepResult
	var failures []string
	for _, dir := range dirs {
		files, err := listSegmentFiles(dir)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", dir, err))
			continue
		}
		for _, f := range files {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			meta, err := sw.store.reader.ReadMeta(f.path)
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", f.path, err))
				continue
			}
			if project != "" && meta.Project != project {
				continue
			}
			if !expired(meta, f.archived) {
				continue
			}
			if err := os.Remove(f.path); err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", f.path, err))
				continue
			}
			if f.sealedDup != "" {
				os.Remove(f.sealedDup)
			}
			res.SegmentsDeleted++
			res.EntriesDeleted += meta.EntryCount
			sw.logger.Info("expired segment deleted", "path", f.path, "entries", meta.EntryCount)
		}
		pruneEmptyDir(dir)
	}

	if len(failures) > 0 {
		return res, &model.SweepError{Failures: failures}
	}
	return res, nil
}

// onlyLevel reports whether counts contains level and nothing else.
func onlyLevel(counts map[string]int, level model.Level) bool {
	if counts[string(level)] == 0 {
		return false
	}
	for name, count := range counts {
		if count > 0 && name != string(level) {
			return false
		}
	}
	return true
}

// pruneEmptyDir removes a scope directory once nothing is left in it.
// The next append for that project simply recreates it.
func pruneEmptyDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	os.Remove(dir)
}
