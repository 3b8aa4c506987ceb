package engine

import (
	"sort"
	"time"

	"github.com/logharbor/logharbor/internal/model"
)

// HistogramPoint is one time bucket of matched entries.
type HistogramPoint struct {
	Time  time.Time `json:"time"`
	Count int       `json:"count"`
}

// Histogram buckets the entries matched by a filter over fixed intervals,
// oldest bucket first. Empty buckets are omitted.
func (s *Store) Histogram(filter model.Filter, interval time.Duration) ([]HistogramPoint, error) {
	if interval <= 0 {
		interval = time.Hour
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	matched, err := s.scanMatching(filter)
	if err != nil {
		return nil, err
	}

	buckets := make(map[time.Time]int)
	for i := range matched {
		buckets[matched[i].Timestamp.Truncate(interval)]++
	}

	points := make([]HistogramPoint, 0, len(buckets))
	for t, c := range buckets {
		points = append(points, HistogramPoint{Time: t, Count: c})
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Time.Before(points[j].Time)
	})
	return points, nil
}
