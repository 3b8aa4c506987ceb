// Package server exposes the log manager over HTTP: ingest, query,
// stats, cleanup, key administration, and the producer registry.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/logharbor/logharbor/internal/engine"
	"github.com/logharbor/logharbor/internal/keystore"
	"github.com/logharbor/logharbor/internal/model"
	"github.com/logharbor/logharbor/internal/registry"
)

// Core is the narrow engine contract required by the HTTP API.
type Core interface {
	Submit(body []byte) (*model.Entry, error)
	SubmitBatch(body []byte) (model.BatchResult, error)
	Query(opts engine.QueryOptions) (engine.QueryResult, error)
	Stats(filter model.Filter) (model.Stats, error)
	Histogram(filter model.Filter, interval time.Duration) ([]engine.HistogramPoint, error)
	Cleanup(ctx context.Context, days int, project string, level model.Level) (engine.CleanupResult, error)
	Health() engine.Health
}

// Config carries the server's own settings; everything else arrives as
// a collaborator.
type Config struct {
	Addr        string
	AuthEnabled bool
}

type Server struct {
	cfg      Config
	core     Core
	keys     *keystore.Store
	registry *registry.Registry
	logger   *slog.Logger
}

func New(cfg Config, core Core, keys *keystore.Store, reg *registry.Registry, logger *slog.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		core:     core,
		keys:     keys,
		registry: reg,
		logger:   logger,
	}
}

// Handler builds the router. Split from Run so tests can drive it with
// httptest directly.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)
	r.GET("/api/admin/status", s.handleAdminStatus)
	r.POST("/api/admin/setup", s.handleAdminSetup)

	api := r.Group("/api", s.requireKey())
	api.POST("/logs", s.handleSubmit)
	api.POST("/logs/batch", s.handleSubmitBatch)
	api.GET("/logs", s.handleQueryLogs)
	api.GET("/logs/stats", s.handleStats)
	api.GET("/logs/histogram", s.handleHistogram)
	api.DELETE("/logs/cleanup", s.handleCleanup)
	api.POST("/registry/handshake", s.handleHandshake)

	admin := r.Group("/api/admin", s.requireAdmin())
	admin.POST("/keys", s.handleCreateKey)
	admin.GET("/keys", s.handleListKeys)
	admin.DELETE("/keys/:id", s.handleDeleteKey)
	admin.GET("/registry/producers", s.handleListProducers)

	return r
}

// Run serves until ctx is done, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", s.cfg.Addr, "auth", s.cfg.AuthEnabled)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.logger.Info("http server stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// requireKey gates the producer-facing API. The original service checked
// key validity only on ingest; here scoped keys are additionally held to
// the project they name whenever the request carries one.
func (s *Server) requireKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.cfg.AuthEnabled {
			c.Next()
			return
		}
		secret := c.GetHeader("X-API-Key")
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}
		if !s.keys.Authorize(secret, c.Query("project")) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid or expired API key"})
			return
		}
		c.Next()
	}
}

// requireAdmin gates key management behind HTTP basic auth checked
// against the stored bcrypt hash.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.cfg.AuthEnabled {
			c.Next()
			return
		}
		user, pass, ok := c.Request.BasicAuth()
		if !ok || user != "admin" || !s.keys.CheckAdminPassword(pass) {
			c.Header("WWW-Authenticate", `Basic realm="logharbor admin"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin authorization required"})
			return
		}
		c.Next()
	}
}
