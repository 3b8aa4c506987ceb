// Package client ships logs from Go programs to a logharbor server.
// It implements slog.Handler: records are queued in memory, batched,
// and posted to the batch ingest endpoint by a background sender, so
// logging never blocks on the network.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Version identifies this client to the server during the handshake.
const Version = "0.1.0"

const (
	queueSize     = 10000
	maxBatchSize  = 100
	flushInterval = time.Second
)

type Options struct {
	ServerURL string
	APIKey    string
	Project   string
	Module    string
}

// Handler is a slog.Handler backed by a shared sending pipeline.
// WithAttrs and WithGroup return light copies over the same pipeline.
type Handler struct {
	pipe   *pipeline
	attrs  []slog.Attr
	groups []string
}

type pipeline struct {
	opts       Options
	instanceID string
	hostname   string
	queue      chan []byte
	done       chan struct{}
	wg         sync.WaitGroup
	closeOnce  sync.Once
	client     *http.Client
}

type wireEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Project   string                 `json:"project,omitempty"`
	Module    string                 `json:"module,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Context   map[string]interface{} `json:"context"`
}

func NewHandler(opts Options) *Handler {
	id, _ := ensureInstanceID()
	hostname, _ := os.Hostname()

	p := &pipeline{
		opts:       opts,
		instanceID: id,
		hostname:   hostname,
		queue:      make(chan []byte, queueSize),
		done:       make(chan struct{}),
		client:     &http.Client{Timeout: 5 * time.Second},
	}

	// Register asynchronously so startup never waits on the server.
	go func() {
		if err := p.handshake(); err != nil {
			fmt.Fprintf(os.Stderr, "logharbor: handshake failed: %v\n", err)
		}
	}()

	p.wg.Add(1)
	go p.run()

	return &Handler{pipe: p}
}

func (h *Handler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	details := make(map[string]interface{}, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		details[a.Key] = a.Value.Resolve().Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		details[h.qualify(a.Key)] = a.Value.Resolve().Any()
		return true
	})

	ctxMap := map[string]interface{}{
		"hostname":    h.pipe.hostname,
		"instance_id": h.pipe.instanceID,
	}
	if r.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{r.PC})
		frame, _ := frames.Next()
		ctxMap["file"] = frame.File
		ctxMap["line"] = frame.Line
	}

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	data, err := json.Marshal(wireEntry{
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
		Level:     levelString(r.Level),
		Message:   r.Message,
		Project:   h.pipe.opts.Project,
		Module:    h.pipe.opts.Module,
		Details:   details,
		Context:   ctxMap,
	})
	if err != nil {
		return err
	}

	select {
	case h.pipe.queue <- data:
	default:
		fmt.Fprintln(os.Stderr, "logharbor: queue full, dropping entry")
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := h.clone()
	for _, a := range attrs {
		h2.attrs = append(h2.attrs, slog.Attr{Key: h.qualify(a.Key), Value: a.Value})
	}
	return h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := h.clone()
	h2.groups = append(h2.groups, name)
	return h2
}

func (h *Handler) clone() *Handler {
	h2 := &Handler{
		pipe:   h.pipe,
		attrs:  make([]slog.Attr, len(h.attrs), len(h.attrs)+4),
		groups: make([]string, len(h.groups), len(h.groups)+1),
	}
	copy(h2.attrs, h.attrs)
	copy(h2.groups, h.groups)
	return h2
}

func (h *Handler) qualify(key string) string {
	if len(h.groups) == 0 {
		return key
	}
	return strings.Join(h.groups, ".") + "." + key
}

// Shutdown flushes everything still queued and stops the sender. Safe
// to call on any copy of the handler.
func (h *Handler) Shutdown() {
	h.pipe.closeOnce.Do(func() { close(h.pipe.done) })
	h.pipe.wg.Wait()
}

func levelString(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return "debug"
	case l < slog.LevelWarn:
		return "info"
	case l < slog.LevelError:
		return "warning"
	case l > slog.LevelError:
		return "critical"
	}
	return "error"
}

func (p *pipeline) run() {
	defer p.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	var batch [][]byte

	send := func() {
		if len(batch) == 0 {
			return
		}
		// Entries are pre-marshaled; join them into a JSON array.
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, b := range batch {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.Write(b)
		}
		buf.WriteByte(']')

		req, err := http.NewRequest(http.MethodPost, strings.TrimRight(p.opts.ServerURL, "/")+"/api/logs/batch", &buf)
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-API-Key", p.opts.APIKey)

			resp, err := p.client.Do(req)
			if err != nil {
				fmt.Fprintf(os.Stderr, "logharbor: send failed: %v\n", err)
			} else {
				resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					fmt.Fprintf(os.Stderr, "logharbor: send failed: HTTP %d\n", resp.StatusCode)
				}
			}
		}

		batch = nil
	}

	for {
		select {
		case data := <-p.queue:
			batch = append(batch, data)
			if len(batch) >= maxBatchSize {
				send()
			}
		case <-ticker.C:
			send()
		case <-p.done:
			for {
				select {
				case data := <-p.queue:
					batch = append(batch, data)
					if len(batch) >= maxBatchSize {
						send()
					}
				default:
					send()
					return
				}
			}
		}
	}
}
