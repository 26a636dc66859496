package handlers

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jroosing/inetstack/internal/adminapi/models"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Health godoc
// @Summary Health check
// @Description Returns admin API liveness
// @Tags system
// @Produce json
// @Success 200 {object} models.StatusResponse
// @Router /healthz [get]
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, models.StatusResponse{Status: "ok"})
}

// Stats godoc
// @Summary Engine statistics
// @Description Returns scheduler/queue/ARP cache counters from the running engine
// @Tags system
// @Produce json
// @Success 200 {object} models.EngineStatsResponse
// @Router /stats [get]
func (h *Handler) Stats(c *gin.Context) {
	s := h.stats.Stats()
	c.JSON(http.StatusOK, models.EngineStatsResponse{
		SchedulerTasks:  s.SchedulerTasks,
		OpenSockets:     s.OpenSockets,
		TCPConnections:  s.TCPConnections,
		TCPListeners:    s.TCPListeners,
		PendingAccepts:  s.PendingAccepts,
		ARPCacheEntries: s.ARPCacheEntries,
		TickCount:       s.TickCount,
		UptimeSeconds:   int64(time.Since(h.startTime).Seconds()),
	})
}

// StatsHost godoc
// @Summary Host statistics
// @Description Returns process and host resource usage
// @Tags system
// @Produce json
// @Success 200 {object} models.HostStatsResponse
// @Router /stats/host [get]
func (h *Handler) StatsHost(c *gin.Context) {
	resp := models.HostStatsResponse{
		NumCPU:               runtime.NumCPU(),
		ProcessNumGoroutines: runtime.NumGoroutine(),
	}

	if vmStat, err := mem.VirtualMemory(); err == nil {
		resp.MemTotalMB = float64(vmStat.Total) / 1024 / 1024
		resp.MemUsedMB = float64(vmStat.Used) / 1024 / 1024
		resp.MemUsedPercent = vmStat.UsedPercent
	}

	if cpuPercent, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		resp.CPUUsedPercent = cpuPercent[0]
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := proc.MemoryInfo(); err == nil && mi != nil {
			resp.ProcessRSSMB = float64(mi.RSS) / 1024 / 1024
		}
		if fds, err := proc.NumFDs(); err == nil {
			resp.ProcessNumFDs = fds
		}
	}

	c.JSON(http.StatusOK, resp)
}
