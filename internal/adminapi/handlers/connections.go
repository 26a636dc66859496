package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jroosing/inetstack/internal/adminapi/models"
)

const defaultConnectionHistoryLimit = 50

// Connections godoc
// @Summary Recent closed connections
// @Description Returns the most recently closed TCP connections from the connection-history store
// @Tags connections
// @Produce json
// @Success 200 {object} models.ConnectionHistoryResponse
// @Failure 503 {object} models.ErrorResponse
// @Router /connections [get]
func (h *Handler) Connections(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "connection history store not configured"})
		return
	}

	records, err := h.history.RecentConnections(c.Request.Context(), defaultConnectionHistoryLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		return
	}

	resp := models.ConnectionHistoryResponse{Connections: make([]models.ConnectionRecordResponse, 0, len(records))}
	for _, r := range records {
		resp.Connections = append(resp.Connections, models.ConnectionRecordResponse{
			CorrelationID: r.CorrelationID,
			LocalAddr:     r.LocalAddr,
			LocalPort:     r.LocalPort,
			RemoteAddr:    r.RemoteAddr,
			RemotePort:    r.RemotePort,
			OpenedAt:      r.OpenedAt.Format("2006-01-02T15:04:05Z07:00"),
			ClosedAt:      r.ClosedAt.Format("2006-01-02T15:04:05Z07:00"),
			BytesSent:     r.BytesSent,
			BytesRecv:     r.BytesRecv,
			FinalState:    r.FinalState,
		})
	}
	c.JSON(http.StatusOK, resp)
}
