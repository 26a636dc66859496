package adminapi

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/jroosing/inetstack/internal/adminapi/handlers"
)

// registerRoutes wires the read-only admin surface (SPEC_FULL §A.5): no
// write endpoints exist since this stack has no configuration to mutate
// over HTTP, unlike the teacher's management API.
func registerRoutes(r *gin.Engine, h *handlers.Handler) {
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.Group("/api/v1")
	api.GET("/healthz", h.Health)
	api.GET("/stats", h.Stats)
	api.GET("/stats/host", h.StatsHost)
	api.GET("/connections", h.Connections)
}
