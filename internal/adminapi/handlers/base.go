// Package handlers implements the admin REST API endpoint handlers.
//
// @title inetstack Admin API
// @version 1.0
// @description Read-only health and statistics API for a running inetstack engine.
//
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
//
// @host localhost:8080
// @BasePath /api/v1
package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/jroosing/inetstack/internal/engine"
	"github.com/jroosing/inetstack/internal/store"
)

// StatsProvider is the subset of *engine.Engine the admin API depends on.
// Handlers never touch protocol state directly.
type StatsProvider interface {
	Stats() engine.Stats
}

// HistoryProvider is the subset of *store.DB the admin API depends on.
type HistoryProvider interface {
	RecentConnections(ctx context.Context, limit int) ([]store.ConnectionRecord, error)
}

// Handler contains dependencies for admin API handlers.
type Handler struct {
	logger    *slog.Logger
	startTime time.Time

	stats   StatsProvider
	history HistoryProvider
}

// New creates a new Handler. history may be nil when no store is configured.
func New(logger *slog.Logger, stats StatsProvider, history HistoryProvider) *Handler {
	return &Handler{
		logger:    logger,
		startTime: time.Now(),
		stats:     stats,
		history:   history,
	}
}
