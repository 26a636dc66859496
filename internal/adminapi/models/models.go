// Package models defines request and response types for the admin REST
// API. All types are JSON-serializable.
package models

// StatusResponse represents a simple status response.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// EngineStatsResponse mirrors engine.Stats for the /stats endpoint.
type EngineStatsResponse struct {
	SchedulerTasks  int    `json:"scheduler_tasks"`
	OpenSockets     int    `json:"open_sockets"`
	TCPConnections  int    `json:"tcp_connections"`
	TCPListeners    int    `json:"tcp_listeners"`
	PendingAccepts  int    `json:"pending_accepts"`
	ARPCacheEntries int    `json:"arp_cache_entries"`
	TickCount       uint64 `json:"tick_count"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
}

// HostStatsResponse reports process/host resource usage (gopsutil-backed).
type HostStatsResponse struct {
	NumCPU          int     `json:"num_cpu"`
	CPUUsedPercent  float64 `json:"cpu_used_percent"`
	MemTotalMB      float64 `json:"mem_total_mb"`
	MemUsedMB       float64 `json:"mem_used_mb"`
	MemUsedPercent  float64 `json:"mem_used_percent"`
	ProcessRSSMB    float64 `json:"process_rss_mb"`
	ProcessNumFDs   int32   `json:"process_num_fds"`
	ProcessNumGoroutines int `json:"process_num_goroutines"`
}

// ConnectionHistoryResponse is the response for GET /connections.
type ConnectionHistoryResponse struct {
	Connections []ConnectionRecordResponse `json:"connections"`
}

// ConnectionRecordResponse describes one closed TCP connection.
type ConnectionRecordResponse struct {
	CorrelationID string `json:"correlation_id"`
	LocalAddr     string `json:"local_addr"`
	LocalPort     uint16 `json:"local_port"`
	RemoteAddr    string `json:"remote_addr"`
	RemotePort    uint16 `json:"remote_port"`
	OpenedAt      string `json:"opened_at"`
	ClosedAt      string `json:"closed_at"`
	BytesSent     uint64 `json:"bytes_sent"`
	BytesRecv     uint64 `json:"bytes_recv"`
	FinalState    string `json:"final_state"`
}
