// Package adminapi provides an optional read-only Gin-based admin surface
// (SPEC_FULL §A.5): health check, engine statistics, host resource usage,
// and recent closed-connection history. It polls a published snapshot off
// the engine (engine.Engine.Stats) and never touches protocol state, so it
// never interferes with the single-threaded cooperative poll loop.
package adminapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jroosing/inetstack/internal/adminapi/dashboard"
	"github.com/jroosing/inetstack/internal/adminapi/handlers"
	"github.com/jroosing/inetstack/internal/adminapi/middleware"
	"github.com/jroosing/inetstack/internal/config"
)

// Server is the admin REST API server.
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	engine     *gin.Engine
	httpServer *http.Server
}

// New builds an admin server reading stats from statsProvider and (when
// non-nil) closed-connection history from historyProvider. It never
// starts listening until ListenAndServe is called.
func New(cfg *config.Config, logger *slog.Logger, statsProvider handlers.StatsProvider, historyProvider handlers.HistoryProvider) *Server {
	if cfg == nil {
		panic("adminapi.New: cfg is nil")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.SlogRequestLogger(logger))

	h := handlers.New(logger, statsProvider, historyProvider)
	registerRoutes(engine, h)
	dashboard.Mount(engine, logger)

	addr := net.JoinHostPort(cfg.Admin.Host, strconv.Itoa(cfg.Admin.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{cfg: cfg, logger: logger, engine: engine, httpServer: httpServer}
}

func (s *Server) Addr() string {
	if s.httpServer == nil {
		return ""
	}
	return s.httpServer.Addr
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
