package engine

import (
	"sort"

	"github.com/logharbor/logharbor/internal/model"
)

const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// QueryOptions carries pagination on top of the entry filter. A zero or
// negative limit means the default; limits above MaxQueryLimit are capped.
type QueryOptions struct {
	Filter model.Filter
	Limit  int
	Offset int
}

// QueryResult is one page of matches plus the total match count before
// pagination.
type QueryResult struct {
	Entries []model.Entry
	Total   int
}

// Query scans active, sealed, and archived segments, merges the matches
// newest first, and applies offset and limit after the merge so pages are
// consistent across segment boundaries.
func (s *Store) Query(opts QueryOptions) (QueryResult, error) {
	if err := opts.Filter.Validate(); err != nil {
		return QueryResult{}, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	matched, err := s.scanMatching(opts.Filter)
	if err != nil {
		return QueryResult{}, err
	}

	// Newest first; stable so entries sharing a timestamp keep their
	// arrival order.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	total := len(matched)
	if offset >= total {
		return QueryResult{Entries: []model.Entry{}, Total: total}, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return QueryResult{Entries: matched[offset:end], Total: total}, nil
}

// scanMatching is the shared scan primitive under Query, Stats, and
// Histogram: a snapshot of every matching scope's active segment plus all
// sealed and archived files, with metadata pruning before any record is
// read. Unreadable segment files are logged and skipped so one bad file
// cannot take down the whole result.
func (s *Store) scanMatching(filter model.Filter) ([]model.Entry, error) {
	var result []model.Entry

	for _, sc := range s.snapshotScopes(filter.Project) {
		sc.mu.RLock()
		if sc.active != nil {
			result = append(result, sc.active.search(filter)...)
		}
		sc.mu.RUnlock()
	}

	dirs, err := s.scanDirs(filter.Project)
	if err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		files, err := listSegmentFiles(dir)
		if err != nil {
			s.logger.Warn("listing segments", "dir", dir, "err", err)
			continue
		}
		for _, f := range files {
			rows, err := s.reader.Scan(f.path, filter)
			if err != nil {
				s.logger.Warn("scanning segment", "path", f.path, "err", err)
				continue
			}
			result = append(result, rows...)
		}
	}
	return result, nil
}
