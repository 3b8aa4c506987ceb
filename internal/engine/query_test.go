package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/logharbor/logharbor/internal/model"
)

func TestQueryPagination(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 0)
	defer s.Close()

	// Half the entries end up sealed, half stay active, so pagination
	// crosses a segment boundary.
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("e%02d", i)
		mustAppend(t, s, seedEntry(id, "web", "auth", model.LevelInfo, testBase.Add(time.Duration(i)*time.Minute)))
		if i == 4 {
			if _, err := s.SealActive("web"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
	}

	res, err := s.Query(QueryOptions{Limit: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Total != 10 {
		t.Fatalf("expected total 10, got %d", res.Total)
	}
	want := []string{"e09", "e08", "e07"}
	for i, e := range res.Entries {
		if e.ID != want[i] {
			t.Errorf("page 1 position %d: expected %s, got %s", i, want[i], e.ID)
		}
	}

	res, err = s.Query(QueryOptions{Limit: 3, Offset: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want = []string{"e06", "e05", "e04"}
	for i, e := range res.Entries {
		if e.ID != want[i] {
			t.Errorf("page 2 position %d: expected %s, got %s", i, want[i], e.ID)
		}
	}

	res, err = s.Query(QueryOptions{Limit: 3, Offset: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Entries) != 0 || res.Total != 10 {
		t.Errorf("expected empty page with total 10, got %d entries, total %d", len(res.Entries), res.Total)
	}
}

func TestQueryAcrossSegmentStates(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir, 0)
	defer s.Close()

	mustAppend(t, s,
		seedEntry("old1", "web", "auth", model.LevelInfo, testBase),
		seedEntry("old2", "web", "auth", model.LevelError, testBase.Add(time.Second)),
	)
	sealedPath, err := s.SealActive("web")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Archive the sealed segment, then keep writing.
	backdateSegment(t, sealedPath)
	c := NewCompactor(s, time.Hour, time.Hour, discardLogger())
	if n, err := c.CompactOnce(context.Background()); err != nil || n != 1 {
		t.Fatalf("expected one archived segment, got %d, %v", n, err)
	}

	mustAppend(t, s,
		seedEntry("mid", "web", "auth", model.LevelInfo, testBase.Add(2*time.Second)),
	)
	if _, err := s.SealActive("web"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mustAppend(t, s,
		seedEntry("new", "web", "auth", model.LevelInfo, testBase.Add(3*time.Second)),
	)

	ids := queryIDs(t, s, QueryOptions{})
	want := []string{"new", "mid", "old2", "old1"}
	if len(ids) != len(want) {
		t.Fatalf("expected %d entries across all states, got %v", len(want), ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], ids[i])
		}
	}
}

func TestQueryFilterCombinations(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 0)
	defer s.Close()

	mustAppend(t, s,
		seedEntry("a", "web", "auth", model.LevelInfo, testBase),
		seedEntry("b", "web", "jobs", model.LevelError, testBase.Add(time.Minute)),
		seedEntry("c", "api", "auth", model.LevelError, testBase.Add(2*time.Minute)),
		seedEntry("d", "web", "auth", model.LevelError, testBase.Add(3*time.Minute)),
	)

	tests := []struct {
		name   string
		filter model.Filter
		want   []string
	}{
		{"project and level", model.Filter{Project: "web", Level: model.LevelError}, []string{"d", "b"}},
		{"module", model.Filter{Module: "auth"}, []string{"d", "c", "a"}},
		{"inclusive bounds", model.Filter{Start: testBase.Add(time.Minute), End: testBase.Add(2 * time.Minute)}, []string{"c", "b"}},
		{"start only", model.Filter{Start: testBase.Add(3 * time.Minute)}, []string{"d"}},
		{"no match", model.Filter{Project: "api", Module: "jobs"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := queryIDs(t, s, QueryOptions{Filter: tt.filter})
			if len(ids) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, ids)
			}
			for i := range tt.want {
				if ids[i] != tt.want[i] {
					t.Errorf("position %d: expected %s, got %s", i, tt.want[i], ids[i])
				}
			}
		})
	}
}

func TestQueryRejectsInvertedRange(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 0)
	defer s.Close()

	_, err := s.Query(QueryOptions{Filter: model.Filter{
		Start: testBase.Add(time.Hour),
		End:   testBase,
	}})
	var qerr *model.QueryError
	if !errors.As(err, &qerr) {
		t.Fatalf("expected QueryError, got %T: %v", err, err)
	}
}

func TestQueryLimitCap(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 0)
	defer s.Close()

	for i := 0; i < MaxQueryLimit+5; i++ {
		mustAppend(t, s, seedEntry(fmt.Sprintf("e%04d", i), "web", "auth", model.LevelInfo, testBase.Add(time.Duration(i)*time.Second)))
	}

	res, err := s.Query(QueryOptions{Limit: 5000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Entries) != MaxQueryLimit {
		t.Errorf("expected limit capped at %d, got %d", MaxQueryLimit, len(res.Entries))
	}
	if res.Total != MaxQueryLimit+5 {
		t.Errorf("expected total %d, got %d", MaxQueryLimit+5, res.Total)
	}
}

func TestQueryStableOrderForEqualTimestamps(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 0)
	defer s.Close()

	mustAppend(t, s,
		seedEntry("first", "web", "auth", model.LevelInfo, testBase),
		seedEntry("second", "web", "auth", model.LevelInfo, testBase),
		seedEntry("third", "web", "auth", model.LevelInfo, testBase),
	)

	ids := queryIDs(t, s, QueryOptions{})
	want := []string{"first", "second", "third"}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], ids[i])
		}
	}
}
