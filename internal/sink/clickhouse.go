package sink

import (
	"context"
	"fmt"
	"time"

	"keepalive-service/internal/models"
)

const createArchiveTable = `
CREATE TABLE IF NOT EXISTS heartbeat_archive (
    id String,
    created_at DateTime64(3, 'UTC'),
    kind LowCardinality(String),
    source String,
    client_timestamp String,
    evicted_at DateTime64(3, 'UTC')
) ENGINE = MergeTree
ORDER BY (kind, created_at)`

const insertArchive = `INSERT INTO heartbeat_archive (id, created_at, kind, source, client_timestamp, evicted_at)`

// BatchWriter is the subset of client.ClickHouseClient the archive uses.
type BatchWriter interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
	BatchInsert(ctx context.Context, query string, data [][]interface{}) error
}

// ClickHouseArchive keeps evicted heartbeats for long-term history.
type ClickHouseArchive struct {
	writer  BatchWriter
	nowFunc func() time.Time
}

func NewClickHouseArchive(writer BatchWriter) *ClickHouseArchive {
	return &ClickHouseArchive{
		writer:  writer,
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// EnsureTable creates the archive table if it does not exist.
func (a *ClickHouseArchive) EnsureTable(ctx context.Context) error {
	if err := a.writer.Exec(ctx, createArchiveTable); err != nil {
		return fmt.Errorf("failed to create heartbeat_archive: %w", err)
	}
	return nil
}

func (a *ClickHouseArchive) ArchiveEvicted(ctx context.Context, records []models.HeartbeatRecord) error {
	if len(records) == 0 {
		return nil
	}

	evictedAt := a.nowFunc()
	rows := make([][]interface{}, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []interface{}{
			rec.ID,
			rec.CreatedAt,
			rec.Kind,
			rec.Details.Source,
			rec.Details.Timestamp,
			evictedAt,
		})
	}

	if err := a.writer.BatchInsert(ctx, insertArchive, rows); err != nil {
		return fmt.Errorf("failed to archive %d heartbeats: %w", len(records), err)
	}
	return nil
}
