package store

import (
	"context"
	"time"
)

// ConnectionRecord describes one closed TCP connection as recorded in
// connection_history.
type ConnectionRecord struct {
	ID            int64
	CorrelationID string
	LocalAddr     string
	LocalPort     uint16
	RemoteAddr    string
	RemotePort    uint16
	OpenedAt      time.Time
	ClosedAt      time.Time
	BytesSent     uint64
	BytesRecv     uint64
	FinalState    string
}

// RecordClosedConnection inserts a closed-connection audit entry.
func (db *DB) RecordClosedConnection(ctx context.Context, rec ConnectionRecord) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO connection_history
			(correlation_id, local_addr, local_port, remote_addr, remote_port,
			 opened_at, closed_at, bytes_sent, bytes_recv, final_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.CorrelationID, rec.LocalAddr, rec.LocalPort, rec.RemoteAddr, rec.RemotePort,
		rec.OpenedAt.UTC(), rec.ClosedAt.UTC(), rec.BytesSent, rec.BytesRecv, rec.FinalState)
	return err
}

// RecentConnections returns up to limit connection records, most recently
// closed first.
func (db *DB) RecentConnections(ctx context.Context, limit int) ([]ConnectionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, correlation_id, local_addr, local_port, remote_addr, remote_port,
		       opened_at, closed_at, bytes_sent, bytes_recv, final_state
		FROM connection_history
		ORDER BY closed_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ConnectionRecord
	for rows.Next() {
		var rec ConnectionRecord
		if err := rows.Scan(&rec.ID, &rec.CorrelationID, &rec.LocalAddr, &rec.LocalPort,
			&rec.RemoteAddr, &rec.RemotePort, &rec.OpenedAt, &rec.ClosedAt,
			&rec.BytesSent, &rec.BytesRecv, &rec.FinalState); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ConnectionCount returns the total number of rows in connection_history.
func (db *DB) ConnectionCount(ctx context.Context) (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var count int64
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM connection_history`).Scan(&count)
	return count, err
}
