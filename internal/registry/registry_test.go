package registry

import (
	"context"
	"testing"
	"time"
)

func TestRegisterOrUpdatePreservesRegisteredAt(t *testing.T) {
	r := New()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	r.RegisterOrUpdate(Producer{InstanceID: "sdk-1", Project: "web", Hostname: "host-a"})

	first, ok := r.Get("sdk-1")
	if !ok {
		t.Fatal("producer should be registered")
	}
	if first.RegisteredAt != base.Unix() {
		t.Errorf("expected registered_at %d, got %d", base.Unix(), first.RegisteredAt)
	}

	r.now = func() time.Time { return base.Add(time.Hour) }
	r.RegisterOrUpdate(Producer{InstanceID: "sdk-1", Project: "web", Hostname: "host-b"})

	second, ok := r.Get("sdk-1")
	if !ok {
		t.Fatal("producer should still be registered")
	}
	if second.RegisteredAt != first.RegisteredAt {
		t.Errorf("registered_at changed on update: %d -> %d", first.RegisteredAt, second.RegisteredAt)
	}
	if second.LastSeenAt != base.Add(time.Hour).Unix() {
		t.Errorf("expected last_seen_at %d, got %d", base.Add(time.Hour).Unix(), second.LastSeenAt)
	}
	if second.Hostname != "host-b" {
		t.Errorf("expected hostname host-b, got %q", second.Hostname)
	}
}

func TestTouch(t *testing.T) {
	r := New()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	r.RegisterOrUpdate(Producer{InstanceID: "sdk-1", Project: "web"})

	r.now = func() time.Time { return base.Add(30 * time.Minute) }
	r.Touch("sdk-1")
	r.Touch("sdk-unknown")

	p, ok := r.Get("sdk-1")
	if !ok {
		t.Fatal("producer should be registered")
	}
	if p.LastSeenAt != base.Add(30*time.Minute).Unix() {
		t.Errorf("expected last_seen_at %d, got %d", base.Add(30*time.Minute).Unix(), p.LastSeenAt)
	}
	if len(r.List()) != 1 {
		t.Errorf("expected 1 producer, got %d", len(r.List()))
	}
}

func TestPruneStale(t *testing.T) {
	r := New()
	r.RegisterOrUpdate(Producer{InstanceID: "stale-1", Project: "web"})
	r.RegisterOrUpdate(Producer{InstanceID: "fresh-1", Project: "web"})

	// Backdate past the timeout, bypassing RegisterOrUpdate's overwrite.
	r.mu.Lock()
	r.producers["stale-1"].LastSeenAt = time.Now().Add(-20 * time.Minute).Unix()
	r.mu.Unlock()

	pruned := r.PruneStale(10 * time.Minute)
	if pruned != 1 {
		t.Errorf("expected 1 pruned, got %d", pruned)
	}
	if _, ok := r.Get("stale-1"); ok {
		t.Error("stale-1 should have been pruned")
	}
	if _, ok := r.Get("fresh-1"); !ok {
		t.Error("fresh-1 should still exist")
	}
}

func TestListSorted(t *testing.T) {
	r := New()
	r.RegisterOrUpdate(Producer{InstanceID: "b", Project: "web"})
	r.RegisterOrUpdate(Producer{InstanceID: "a", Project: "web"})
	r.RegisterOrUpdate(Producer{InstanceID: "z", Project: "api"})

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 producers, got %d", len(list))
	}
	want := []string{"api/z", "web/a", "web/b"}
	for i, p := range list {
		got := p.Project + "/" + p.InstanceID
		if got != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got)
		}
	}
}

func TestRunPrunesOnTicker(t *testing.T) {
	r := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.RegisterOrUpdate(Producer{InstanceID: "stale-1", Project: "web"})
	r.mu.Lock()
	r.producers["stale-1"].LastSeenAt = time.Now().Add(-20 * time.Minute).Unix()
	r.mu.Unlock()
	r.RegisterOrUpdate(Producer{InstanceID: "fresh-1", Project: "web"})

	done := make(chan struct{})
	go func() {
		r.Run(ctx, 10*time.Millisecond, 10*time.Minute)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)

	if _, ok := r.Get("stale-1"); ok {
		t.Error("stale-1 should have been pruned")
	}
	if _, ok := r.Get("fresh-1"); !ok {
		t.Error("fresh-1 should still exist")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
