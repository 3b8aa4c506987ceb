package engine

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/logharbor/logharbor/internal/model"
)

const topModuleCount = 10

// Stats aggregates the entries matched by a filter. It rides the same
// scan primitive as Query, so TotalLogs always equals the total of an
// unpaginated query over the same filter.
func (s *Store) Stats(filter model.Filter) (model.Stats, error) {
	if err := filter.Validate(); err != nil {
		return model.Stats{}, err
	}

	matched, err := s.scanMatching(filter)
	if err != nil {
		return model.Stats{}, err
	}

	stats := model.Stats{
		TotalLogs: len(matched),
		ByLevel:   make(map[string]int),
		ByProject: make(map[string]int),
		ByModule:  make(map[string]int),
	}

	var minT, maxT time.Time
	for i := range matched {
		e := &matched[i]
		stats.ByLevel[string(e.Level)]++
		stats.ByProject[e.Project]++
		stats.ByModule[e.Module]++
		if minT.IsZero() || e.Timestamp.Before(minT) {
			minT = e.Timestamp
		}
		if e.Timestamp.After(maxT) {
			maxT = e.Timestamp
		}
	}
	stats.ByModule = topModules(stats.ByModule, topModuleCount)

	// The reported period is the requested bounds when supplied, otherwise
	// the observed range of the matched entries.
	switch {
	case !filter.Start.IsZero():
		start := filter.Start
		stats.TimePeriod.Start = &start
	case !minT.IsZero():
		stats.TimePeriod.Start = &minT
	}
	switch {
	case !filter.End.IsZero():
		end := filter.End
		stats.TimePeriod.End = &end
	case !maxT.IsZero():
		stats.TimePeriod.End = &maxT
	}

	return stats, nil
}

// topModules keeps the n highest-counted modules, ties broken by name.
func topModules(counts map[string]int, n int) map[string]int {
	if len(counts) <= n {
		return counts
	}

	type moduleCount struct {
		name  string
		count int
	}
	list := make([]moduleCount, 0, len(counts))
	for name, count := range counts {
		list = append(list, moduleCount{name, count})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].count != list[j].count {
			return list[i].count > list[j].count
		}
		return list[i].name < list[j].name
	})

	top := make(map[string]int, n)
	for _, mc := range list[:n] {
		top[mc.name] = mc.count
	}
	return top
}

// DiskUsage reports the total bytes stored under the data directory.
func (s *Store) DiskUsage() int64 {
	var size int64
	_ = filepath.Walk(s.dataDir, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}
