package main

import (
	"errors"
	"log/slog"
	"time"

	"github.com/logharbor/logharbor/pkg/client"
)

func main() {
	handler := client.NewHandler(client.Options{
		ServerURL: "http://localhost:8080",
		APIKey:    "lh-dev-test-key",
		Project:   "example-service",
		Module:    "worker",
	})
	defer handler.Shutdown()

	logger := slog.New(handler)

	logger.Info("service started", "user_id", 42, "status", "active")
	logger.Warn("retrying upstream call", "retry_count", 3)
	logger.Error("upstream call failed", "error", errors.New("connection refused"))

	reqLogger := logger.WithGroup("request").With("id", "req-123")
	reqLogger.Info("request handled", "duration_ms", 18)

	// Give the background sender a tick to flush before exiting; the
	// deferred Shutdown flushes whatever is left.
	time.Sleep(2 * time.Second)

	logger.Info("service stopping")
}
