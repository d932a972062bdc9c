// Package admin serves the operational HTTP surface: health, stats,
// Prometheus metrics, and the WebSocket game endpoint.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cory-johannsen/rps/internal/config"
	"github.com/cory-johannsen/rps/internal/transport"
)

const shutdownTimeout = 5 * time.Second

// HealthChecker reports whether a backing store is reachable.
type HealthChecker interface {
	Health(ctx context.Context, timeout time.Duration) error
}

// Presence reports which usernames are logged in.
type Presence interface {
	Online() int
	IsOnline(username string) bool
}

// Deps are the components the admin surface reports on.
type Deps struct {
	// Lobby reports the matchmaking queue length.
	Lobby interface{ Waiting() int }
	// Sessions reports the number of registered sessions.
	Sessions interface{ Count() int }
	// Online reports logged-in usernames.
	Online Presence
	// DB is checked by /readyz; nil when no database is configured.
	DB HealthChecker
	// Gatherer backs /metrics.
	Gatherer prometheus.Gatherer
	// Handler serves /ws connections; nil disables the endpoint.
	Handler transport.SessionHandler
}

// PlayerStatus is the /players/:username response body.
type PlayerStatus struct {
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// Stats is the /stats response body.
type Stats struct {
	Waiting  int `json:"waiting"`
	Sessions int `json:"sessions"`
	Online   int `json:"online"`
}

// Server is the admin HTTP server.
type Server struct {
	cfg          config.AdminConfig
	deps         Deps
	writeTimeout time.Duration
	logger       *zap.Logger
	router       *gin.Engine
	upgrader     websocket.Upgrader
	srv          *http.Server

	// mu orders WebSocket handler registration against Stop closing quit
	mu       sync.Mutex
	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup
	listener net.Listener
}

// New builds the admin server and its routes.
//
// Precondition: deps.Lobby, deps.Sessions, deps.Online, deps.Gatherer and logger must be non-nil.
// Postcondition: Returns a Server ready for ListenAndServe; Handler is usable immediately.
func New(cfg config.AdminConfig, writeTimeout time.Duration, deps Deps, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:          cfg,
		deps:         deps,
		writeTimeout: writeTimeout,
		logger:       logger,
		quit:         make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if cfg.AllowedOrigin == "" {
				return true
			}
			return r.Header.Get("Origin") == cfg.AllowedOrigin
		},
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	r.GET("/healthz", s.healthz)
	r.GET("/readyz", s.readyz)
	r.GET("/stats", s.stats)
	r.GET("/players/:username", s.player)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	if deps.Handler != nil {
		r.GET("/ws", s.serveWS)
	}
	s.router = r
	s.srv = &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("admin request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) readyz(c *gin.Context) {
	if s.deps.DB != nil {
		if err := s.deps.DB.Health(c.Request.Context(), 2*time.Second); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, Stats{
		Waiting:  s.deps.Lobby.Waiting(),
		Sessions: s.deps.Sessions.Count(),
		Online:   s.deps.Online.Online(),
	})
}

func (s *Server) player(c *gin.Context) {
	name := c.Param("username")
	c.JSON(http.StatusOK, PlayerStatus{
		Username: name,
		Online:   s.deps.Online.IsOnline(name),
	})
}

func (s *Server) serveWS(c *gin.Context) {
	s.mu.Lock()
	select {
	case <-s.quit:
		s.mu.Unlock()
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "shutting down"})
		return
	default:
	}
	s.wg.Add(1)
	s.mu.Unlock()

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response
		s.wg.Done()
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	conn := transport.NewWSConn(ws, s.writeTimeout, s.logger)

	go func() {
		defer s.wg.Done()
		transport.Serve(s.quit, conn, s.deps.Handler, s.logger)
	}()
}

// ListenAndServe serves until Stop is called.
//
// Postcondition: Returns nil after Stop, or the listen error.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("admin server listening", zap.String("addr", ln.Addr().String()))
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

// Stop shuts the HTTP server down and disconnects WebSocket clients.
//
// Postcondition: Every WebSocket handler has returned and no new one starts.
func (s *Server) Stop() {
	s.mu.Lock()
	s.quitOnce.Do(func() { close(s.quit) })
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("admin shutdown", zap.Error(err))
	}
	s.wg.Wait()
	s.logger.Info("admin server stopped")
}

// Addr returns the listening address, or empty string if not yet listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
