package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/logharbor/logharbor/internal/model"
	"github.com/logharbor/logharbor/internal/policy"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		DataDir:   t.TempDir(),
		Retention: policy.Default(),
		Logger:    discardLogger(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestManagerSubmit(t *testing.T) {
	m := newTestManager(t)

	e, err := m.Submit([]byte(`{"project":"web","module":"auth","level":"info","message":"hello"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.ID == "" {
		t.Error("expected an assigned id")
	}
	if e.Level != model.LevelInfo {
		t.Errorf("expected level info, got %q", e.Level)
	}

	res, err := m.Query(QueryOptions{Filter: model.Filter{Project: "web"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Total != 1 || res.Entries[0].ID != e.ID {
		t.Fatalf("expected the submitted entry queryable, got %+v", res)
	}
}

func TestManagerSubmitRejectsInvalid(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Submit([]byte(`{"level":"info"}`))
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}

	res, err := m.Query(QueryOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Total != 0 {
		t.Errorf("expected nothing stored, got %d", res.Total)
	}
}

func TestManagerSubmitBatchPartialSuccess(t *testing.T) {
	m := newTestManager(t)

	body := `[
		{"project":"web","level":"info","message":"one"},
		{"project":"web","level":"shouting","message":"two"},
		{"project":"web","level":"error","message":"three"}
	]`
	res, err := m.SubmitBatch([]byte(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.IDs) != 2 {
		t.Fatalf("expected 2 accepted entries, got %d", len(res.IDs))
	}
	if len(res.Failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(res.Failures))
	}
	if res.Failures[0].Index != 1 {
		t.Errorf("expected failure naming entry 1, got %d", res.Failures[0].Index)
	}

	q, err := m.Query(QueryOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Total != 2 {
		t.Errorf("expected 2 stored entries, got %d", q.Total)
	}
}

func TestManagerStatsAndHistogram(t *testing.T) {
	m := newTestManager(t)

	for _, body := range []string{
		`{"project":"web","level":"info","message":"a","timestamp":"2026-08-01T10:05:00Z"}`,
		`{"project":"web","level":"error","message":"b","timestamp":"2026-08-01T10:06:00Z"}`,
		`{"project":"api","level":"error","message":"c","timestamp":"2026-08-01T11:06:00Z"}`,
	} {
		if _, err := m.Submit([]byte(body)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	stats, err := m.Stats(model.Filter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalLogs != 3 || stats.ByLevel["error"] != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	points, err := m.Histogram(model.Filter{}, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(points) != 2 || points[0].Count != 2 || points[1].Count != 1 {
		t.Errorf("unexpected histogram: %v", points)
	}
}

func TestManagerCleanup(t *testing.T) {
	m := newTestManager(t)

	old := time.Now().Add(-10 * policy.Day).UTC().Format(time.RFC3339)
	if _, err := m.Submit([]byte(`{"project":"web","level":"info","message":"old","timestamp":"` + old + `"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.SealActive("web"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := m.Cleanup(context.Background(), 5, "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.DeletedCount != 1 {
		t.Errorf("expected deleted count 1, got %d", res.DeletedCount)
	}

	q, err := m.Query(QueryOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Total != 0 {
		t.Errorf("expected store emptied, got %d", q.Total)
	}
}

func TestManagerHealth(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.Submit([]byte(`{"project":"web","level":"info","message":"hi"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.SealActive("web"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h := m.Health()
	if h.Status != "ok" {
		t.Errorf("expected status ok, got %q", h.Status)
	}
	if h.Scopes != 1 {
		t.Errorf("expected 1 scope, got %d", h.Scopes)
	}
	if h.Segments < 1 {
		t.Errorf("expected at least one segment, got %d", h.Segments)
	}
	if h.DiskUsage <= 0 {
		t.Errorf("expected positive disk usage, got %d", h.DiskUsage)
	}
}

func TestManagerRunStopsOnCancel(t *testing.T) {
	m, err := NewManager(Config{
		DataDir:          t.TempDir(),
		RotationInterval: 10 * time.Millisecond,
		CompactInterval:  10 * time.Millisecond,
		SweepInterval:    10 * time.Millisecond,
		Retention:        policy.Default(),
		Logger:           discardLogger(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to stop after cancellation")
	}
}
