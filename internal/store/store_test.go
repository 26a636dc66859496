package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenRunsMigrations(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Health())

	count, err := db.ConnectionCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestRecordAndQueryClosedConnection(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	opened := time.Unix(1000, 0)
	closed := opened.Add(5 * time.Second)

	rec := ConnectionRecord{
		CorrelationID: "conn-1",
		LocalAddr:     "10.0.0.1",
		LocalPort:     9000,
		RemoteAddr:    "10.0.0.2",
		RemotePort:    5555,
		OpenedAt:      opened,
		ClosedAt:      closed,
		BytesSent:     128,
		BytesRecv:     64,
		FinalState:    "CLOSED",
	}
	require.NoError(t, db.RecordClosedConnection(ctx, rec))

	count, err := db.ConnectionCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	records, err := db.RecentConnections(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, rec.CorrelationID, records[0].CorrelationID)
	assert.Equal(t, rec.RemoteAddr, records[0].RemoteAddr)
	assert.Equal(t, rec.FinalState, records[0].FinalState)
}

func TestRecentConnectionsRespectsLimit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := ConnectionRecord{
			CorrelationID: "conn",
			LocalAddr:     "10.0.0.1",
			LocalPort:     9000,
			RemoteAddr:    "10.0.0.2",
			RemotePort:    uint16(5000 + i),
			OpenedAt:      time.Unix(int64(1000+i), 0),
			ClosedAt:      time.Unix(int64(1010+i), 0),
			FinalState:    "CLOSED",
		}
		require.NoError(t, db.RecordClosedConnection(ctx, rec))
	}

	records, err := db.RecentConnections(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
