package engine

// Stats is a point-in-time snapshot of engine-internal counters, published
// for the admin surface to poll (SPEC_FULL §A.5). It never exposes
// protocol state directly, only aggregate counts.
type Stats struct {
	SchedulerTasks  int
	OpenSockets     int
	TCPConnections  int
	TCPListeners    int
	PendingAccepts  int
	ARPCacheEntries int
	TickCount       uint64
}

// snapshot recomputes Stats from live engine state. Only ever called from
// the poll loop goroutine.
func (e *Engine) snapshot() Stats {
	return Stats{
		SchedulerTasks:  e.sched.Len(),
		OpenSockets:     e.sockets.Len(),
		TCPConnections:  len(e.tcpByTuple),
		TCPListeners:    len(e.tcpListen),
		PendingAccepts:  len(e.pendingAccept),
		ARPCacheEntries: e.arpCache.Len(),
		TickCount:       e.tickCount,
	}
}

// publishStats refreshes the stats snapshot under statsMu, called once per
// PollBgWork tick so a reader on another goroutine (the admin HTTP server)
// never touches protocol state directly.
func (e *Engine) publishStats() {
	s := e.snapshot()
	e.statsMu.Lock()
	e.publishedStats = s
	e.statsMu.Unlock()
}

// Stats returns the most recently published snapshot. Safe to call
// concurrently with PollBgWork from another goroutine.
func (e *Engine) Stats() Stats {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	return e.publishedStats
}
