package web

import (
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vzahanych/violence-watch/internal/health"
	"github.com/vzahanych/violence-watch/internal/stream"
)

const maxEpisodeLimit = 500

// handleIndex serves the embedded landing page
func (s *Server) handleIndex(c *gin.Context) {
	content, err := fs.ReadFile(staticContentFS, "index.html")
	if err != nil {
		c.String(http.StatusInternalServerError, "index page missing")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", content)
}

// handleVideoFeed streams the annotated feed until the viewer disconnects or
// the capture ends. The response is committed before the first frame, so a
// feed that never produces frames yields an empty 200 body.
func (s *Server) handleVideoFeed(c *gin.Context) {
	viewer, err := s.deps.Feed.Subscribe()
	if err != nil {
		if errors.Is(err, stream.ErrStopped) {
			c.Status(http.StatusServiceUnavailable)
			return
		}
		s.LogError("Failed to attach viewer", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	defer viewer.Close()

	c.Header("Content-Type", stream.ContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("Pragma", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case frame, ok := <-viewer.C:
			if !ok {
				return false
			}
			if err := stream.WritePart(w, frame); err != nil {
				return false
			}
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// handleViolenceStatus reports the current detection flag
func (s *Server) handleViolenceStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"violence": s.deps.Alerts.Snapshot().ViolenceDetected})
}

// handleHealth runs the dependency checks
func (s *Server) handleHealth(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": health.StatusHealthy})
		return
	}

	report := s.deps.Health.Check(c.Request.Context())
	code := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

// handleStatus handles the system status endpoint
func (s *Server) handleStatus(c *gin.Context) {
	uptime := time.Since(s.startTime)

	c.JSON(http.StatusOK, gin.H{
		"version":        s.version,
		"uptime":         uptime.String(),
		"uptime_seconds": int64(uptime.Seconds()),
		"alert":          s.deps.Alerts.Snapshot(),
		"viewers":        s.deps.Feed.Viewers(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// handleListEpisodes returns recorded episodes, newest first
func (s *Server) handleListEpisodes(c *gin.Context) {
	if s.deps.Episodes == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Episode history not available"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxEpisodeLimit)
	}

	episodes, err := s.deps.Episodes.ListEpisodes(c.Request.Context(), limit)
	if err != nil {
		s.LogError("Failed to list episodes", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list episodes"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"episodes": episodes,
		"count":    len(episodes),
	})
}
