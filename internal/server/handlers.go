package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/logharbor/logharbor/internal/engine"
	"github.com/logharbor/logharbor/internal/ingest"
	"github.com/logharbor/logharbor/internal/model"
	"github.com/logharbor/logharbor/internal/registry"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.core.Health())
}

func (s *Server) handleSubmit(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reading request body: " + err.Error()})
		return
	}

	entry, err := s.core.Submit(body)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": entry.ID, "message": "log recorded"})
}

func (s *Server) handleSubmitBatch(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reading request body: " + err.Error()})
		return
	}

	result, err := s.core.SubmitBatch(body)
	ids := result.IDs
	if ids == nil {
		ids = []string{}
	}
	failures := result.Failures
	if failures == nil {
		failures = []model.ValidationError{}
	}

	// A store failure mid-batch still reports what was accepted.
	if errors.Is(err, model.ErrStoreUnavailable) {
		s.logger.Error("batch aborted by store", "accepted", len(ids), "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": err.Error(),
			"ids":   ids,
			"count": len(ids),
		})
		return
	}
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ids":      ids,
		"failures": failures,
		"count":    len(ids),
	})
}

func (s *Server) handleQueryLogs(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	limit, err := intParam(c, "limit", 0)
	if err != nil {
		s.writeError(c, err)
		return
	}
	offset, err := intParam(c, "offset", 0)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if offset < 0 {
		offset = 0
	}

	result, err := s.core.Query(engine.QueryOptions{Filter: filter, Limit: limit, Offset: offset})
	if err != nil {
		s.writeError(c, err)
		return
	}

	entries := result.Entries
	if entries == nil {
		entries = []model.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"total":   result.Total,
		"limit":   effectiveLimit(limit),
		"offset":  offset,
	})
}

func (s *Server) handleStats(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	stats, err := s.core.Stats(filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleHistogram(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		s.writeError(c, err)
		return
	}

	interval := time.Hour
	if raw := c.Query("interval"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			s.writeError(c, &model.QueryError{Reason: "interval must be a positive duration such as 15m or 1h"})
			return
		}
		interval = d
	}

	points, err := s.core.Histogram(filter, interval)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if points == nil {
		points = []engine.HistogramPoint{}
	}
	c.JSON(http.StatusOK, gin.H{"points": points, "interval": interval.String()})
}

func (s *Server) handleCleanup(c *gin.Context) {
	if c.Query("days_to_keep") == "" {
		s.writeError(c, &model.QueryError{Reason: "days_to_keep is required"})
		return
	}
	days, err := intParam(c, "days_to_keep", 0)
	if err != nil {
		s.writeError(c, err)
		return
	}

	var level model.Level
	if raw := c.Query("level"); raw != "" {
		lv, ok := model.ParseLevel(raw)
		if !ok {
			s.writeError(c, &model.QueryError{Reason: "level must be one of debug, info, warning, error, critical"})
			return
		}
		level = lv
	}

	result, err := s.core.Cleanup(c.Request.Context(), days, c.Query("project"), level)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"deleted_count": result.DeletedCount,
		"message":       fmt.Sprintf("deleted %d log entries", result.DeletedCount),
	})
}

func (s *Server) handleHandshake(c *gin.Context) {
	var p registry.Producer
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	if p.InstanceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instance_id is required"})
		return
	}
	p.IP = c.ClientIP()
	s.registry.RegisterOrUpdate(p)
	c.JSON(http.StatusOK, gin.H{"status": "registered"})
}

func (s *Server) handleListProducers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"producers": s.registry.List()})
}

func (s *Server) handleAdminStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"initialized": s.keys.HasAdminPassword()})
}

// handleAdminSetup sets the admin password once; afterwards changes go
// through an authenticated channel.
func (s *Server) handleAdminSetup(c *gin.Context) {
	if s.keys.HasAdminPassword() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "admin password already set"})
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password is required"})
		return
	}
	if err := s.keys.SetAdminPassword(req.Password); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "initialized"})
}

func (s *Server) handleCreateKey(c *gin.Context) {
	var req struct {
		Name     string   `json:"name"`
		Projects []string `json:"projects"`
		TTLDays  int      `json:"ttl_days"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	key, err := s.keys.Create(req.Name, req.Projects, req.TTLDays)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, key)
}

func (s *Server) handleListKeys(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"keys": s.keys.List()})
}

func (s *Server) handleDeleteKey(c *gin.Context) {
	if err := s.keys.Delete(c.Param("id")); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
			return
		}
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// writeError maps the model's error taxonomy onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	var ve *model.ValidationError
	var qe *model.QueryError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error(), "field": ve.Field, "reason": ve.Reason})
	case errors.As(err, &qe):
		c.JSON(http.StatusBadRequest, gin.H{"error": qe.Error()})
	case errors.Is(err, ingest.ErrBatchTooLarge):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrStoreUnavailable):
		s.logger.Error("store unavailable", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func parseFilter(c *gin.Context) (model.Filter, error) {
	f := model.Filter{
		Project:         c.Query("project"),
		Module:          c.Query("module"),
		MessageContains: c.Query("message"),
	}
	if raw := c.Query("level"); raw != "" {
		lv, ok := model.ParseLevel(raw)
		if !ok {
			return f, &model.QueryError{Reason: "level must be one of debug, info, warning, error, critical"}
		}
		f.Level = lv
	}
	var err error
	if f.Start, err = timeParam(c.Query("start_date"), "start_date"); err != nil {
		return f, err
	}
	if f.End, err = timeParam(c.Query("end_date"), "end_date"); err != nil {
		return f, err
	}
	return f, nil
}

// filterTimeLayouts are the accepted forms for start_date and end_date,
// matching what producers send for entry timestamps plus bare dates.
var filterTimeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

func timeParam(raw, name string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range filterTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &model.QueryError{Reason: name + " must be an RFC3339 time or a YYYY-MM-DD date"}
}

func intParam(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &model.QueryError{Reason: name + " must be an integer"}
	}
	return n, nil
}

// effectiveLimit mirrors the clamping the query engine applies so the
// response echoes the page size actually used.
func effectiveLimit(limit int) int {
	if limit <= 0 {
		return engine.DefaultQueryLimit
	}
	if limit > engine.MaxQueryLimit {
		return engine.MaxQueryLimit
	}
	return limit
}
