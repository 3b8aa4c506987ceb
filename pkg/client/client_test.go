package client

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type capture struct {
	mu      sync.Mutex
	entries []map[string]interface{}
	apiKeys []string
}

func (c *capture) add(entries []map[string]interface{}, apiKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entries...)
	c.apiKeys = append(c.apiKeys, apiKey)
}

func (c *capture) all() []map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]interface{}, len(c.entries))
	copy(out, c.entries)
	return out
}

func newTestServer(t *testing.T, got *capture) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/logs/batch", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("reading batch body: %v", err)
		}
		var batch []map[string]interface{}
		if err := json.Unmarshal(body, &batch); err != nil {
			t.Errorf("batch is not a JSON array: %v", err)
		}
		got.add(batch, r.Header.Get("X-API-Key"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ids": [], "failures": [], "count": 0}`))
	})
	mux.HandleFunc("/api/registry/handshake", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "registered"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHandlerSendsBatches(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	got := &capture{}
	srv := newTestServer(t, got)

	h := NewHandler(Options{ServerURL: srv.URL, APIKey: "lh-test", Project: "web", Module: "auth"})
	logger := slog.New(h)

	logger.Info("hello", "user_id", 42)
	logger.Error("boom")
	h.Shutdown()

	entries := got.all()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	first := entries[0]
	if first["message"] != "hello" || first["level"] != "info" {
		t.Errorf("unexpected first entry: %v", first)
	}
	if first["project"] != "web" || first["module"] != "auth" {
		t.Errorf("expected project/module from options, got %v", first)
	}
	details := first["details"].(map[string]interface{})
	if int(details["user_id"].(float64)) != 42 {
		t.Errorf("expected user_id 42, got %v", details["user_id"])
	}
	ctxMap := first["context"].(map[string]interface{})
	if ctxMap["instance_id"] == "" || ctxMap["instance_id"] == nil {
		t.Error("expected instance_id in context")
	}
	if _, err := time.Parse(time.RFC3339Nano, first["timestamp"].(string)); err != nil {
		t.Errorf("timestamp not RFC3339: %v", err)
	}

	if entries[1]["level"] != "error" {
		t.Errorf("expected level error, got %v", entries[1]["level"])
	}

	got.mu.Lock()
	defer got.mu.Unlock()
	for _, k := range got.apiKeys {
		if k != "lh-test" {
			t.Errorf("expected X-API-Key lh-test, got %q", k)
		}
	}
}

func TestWithAttrsAndGroups(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	got := &capture{}
	srv := newTestServer(t, got)

	h := NewHandler(Options{ServerURL: srv.URL, Project: "web"})
	logger := slog.New(h).WithGroup("request").With("id", "req-123")

	logger.Info("handled", "code", 200)
	h.Shutdown()

	entries := got.all()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	details := entries[0]["details"].(map[string]interface{})
	if details["request.id"] != "req-123" {
		t.Errorf("expected request.id req-123, got %v", details)
	}
	if int(details["request.code"].(float64)) != 200 {
		t.Errorf("expected request.code 200, got %v", details)
	}
}

func TestLevelMapping(t *testing.T) {
	cases := []struct {
		level slog.Level
		want  string
	}{
		{slog.LevelDebug - 4, "debug"},
		{slog.LevelDebug, "debug"},
		{slog.LevelInfo, "info"},
		{slog.LevelInfo + 2, "info"},
		{slog.LevelWarn, "warning"},
		{slog.LevelError, "error"},
		{slog.LevelError + 4, "critical"},
	}
	for _, tc := range cases {
		if got := levelString(tc.level); got != tc.want {
			t.Errorf("levelString(%v) = %q, want %q", tc.level, got, tc.want)
		}
	}
}

func TestHandshakeSentOnStartup(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	received := make(chan handshakeRequest, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/registry/handshake", func(w http.ResponseWriter, r *http.Request) {
		var req handshakeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding handshake: %v", err)
		}
		received <- req
		w.Write([]byte(`{"status": "registered"}`))
	})
	mux.HandleFunc("/api/logs/batch", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ids": [], "failures": [], "count": 0}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	h := NewHandler(Options{ServerURL: srv.URL, APIKey: "lh-test", Project: "web"})
	defer h.Shutdown()

	select {
	case req := <-received:
		if req.InstanceID == "" {
			t.Error("expected instance_id in handshake")
		}
		if req.Project != "web" {
			t.Errorf("expected project web, got %q", req.Project)
		}
		if req.ClientVersion != Version {
			t.Errorf("expected client_version %s, got %q", Version, req.ClientVersion)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handshake never arrived")
	}
}

func TestInstanceIDStable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	first, err := ensureInstanceID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := ensureInstanceID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == "" || first != second {
		t.Errorf("expected a stable id, got %q then %q", first, second)
	}

	home, _ := os.UserHomeDir()
	if _, err := os.Stat(filepath.Join(home, ".logharbor", "id")); err != nil {
		t.Errorf("id file missing: %v", err)
	}
}
