// Package web serves the live view, the status endpoints and the JSON API.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vzahanych/violence-watch/internal/alert"
	"github.com/vzahanych/violence-watch/internal/config"
	"github.com/vzahanych/violence-watch/internal/health"
	"github.com/vzahanych/violence-watch/internal/logger"
	"github.com/vzahanych/violence-watch/internal/service"
	"github.com/vzahanych/violence-watch/internal/state"
	"github.com/vzahanych/violence-watch/internal/stream"
)

//go:embed static/*
var staticFiles embed.FS

var staticContentFS fs.FS

func init() {
	var err error
	staticContentFS, err = fs.Sub(staticFiles, "static")
	if err != nil {
		staticContentFS = staticFiles
	}
}

// VideoFeed hands out viewers of the annotated MJPEG stream
type VideoFeed interface {
	Subscribe() (*stream.Viewer, error)
	Viewers() int
}

// AlertStatus exposes the current alert flags
type AlertStatus interface {
	Snapshot() alert.Snapshot
}

// EpisodeStore lists recorded episodes
type EpisodeStore interface {
	ListEpisodes(ctx context.Context, limit int) ([]state.Episode, error)
}

// HealthReporter runs dependency checks
type HealthReporter interface {
	Check(ctx context.Context) health.HealthReport
}

// Dependencies are the components the server reads from.
// Feed and Alerts are required; the rest are optional.
type Dependencies struct {
	Feed      VideoFeed
	Alerts    AlertStatus
	Episodes  EpisodeStore
	Health    HealthReporter
	StatusHub http.Handler
}

// Server represents the web server service
type Server struct {
	*service.ServiceBase
	config     config.WebConfig
	deps       Dependencies
	httpServer *http.Server
	router     *gin.Engine
	version    string
	startTime  time.Time

	mu   sync.RWMutex
	addr net.Addr

	// cancelRequests ends the context of every in-flight request so long
	// lived feeds return before Shutdown waits on them
	cancelRequests context.CancelFunc
}

// NewServer creates a new web server service
func NewServer(cfg config.WebConfig, deps Dependencies, log *logger.Logger) *Server {
	// Debug mode can be enabled via GIN_MODE environment variable
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log.Named("http")))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	s := &Server{
		ServiceBase: service.NewServiceBase("web-server", log),
		config:      cfg,
		deps:        deps,
		router:      router,
		version:     "dev",
		startTime:   time.Now(),
	}
	s.setupRoutes()
	return s
}

// SetVersion sets the application version reported by /api/status
func (s *Server) SetVersion(version string) {
	s.version = version
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the bound listener address once started
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Start binds the listener and serves in the background
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	reqCtx, cancel := context.WithCancel(context.Background())

	// WriteTimeout stays disabled: /video_feed responses last as long as the viewer
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return reqCtx },
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.cancelRequests = cancel
	s.mu.Unlock()

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.LogError("Web server error", err, "address", ln.Addr().String())
		}
	}()

	s.LogInfo("Web server started", "address", ln.Addr().String())
	return nil
}

// Stop cancels in-flight requests, so open video feeds end, then shuts down
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.LogInfo("Stopping web server")

	s.mu.RLock()
	cancel := s.cancelRequests
	s.mu.RUnlock()
	if cancel != nil {
		cancel()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		// connections still busy at the deadline are cut
		_ = s.httpServer.Close()
		return fmt.Errorf("web server shutdown: %w", err)
	}
	return nil
}

// setupRoutes sets up all routes
func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleIndex)
	s.router.GET("/video_feed", s.handleVideoFeed)
	s.router.GET("/violence_status", s.handleViolenceStatus)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if s.deps.StatusHub != nil {
		s.router.GET("/ws/status", gin.WrapH(s.deps.StatusHub))
	}

	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/status", s.handleStatus)
		api.GET("/episodes", s.handleListEpisodes)
	}

	s.router.StaticFS("/static", http.FS(staticContentFS))

	s.router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		c.String(http.StatusNotFound, "404 page not found")
	})
}

// ginLogger creates a Gin middleware for logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// corsMiddleware creates a CORS middleware for local network access
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
