package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"keepalive-service/internal/models"
)

// Append inserts one heartbeat row.
func (s *Store) Append(ctx context.Context, record *models.HeartbeatRecord) (string, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.nowFunc()
	}

	details, err := json.Marshal(record.Details)
	if err != nil {
		return "", fmt.Errorf("failed to encode heartbeat details: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO heartbeats (id, created_at, kind, details) VALUES (?, ?, ?, ?)`,
		record.ID, record.CreatedAt.UTC().UnixNano(), record.Kind, string(details))
	if err != nil {
		return "", wrapErr("failed to insert heartbeat", err)
	}
	return record.ID, nil
}

// ListAllByRecencyDesc returns every heartbeat, newest first. Rows stamped with the
// same instant come back in reverse insertion order.
func (s *Store) ListAllByRecencyDesc(ctx context.Context) ([]models.HeartbeatRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, kind, details FROM heartbeats ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, wrapErr("failed to list heartbeats", err)
	}
	defer rows.Close()

	var records []models.HeartbeatRecord
	for rows.Next() {
		var (
			rec       models.HeartbeatRecord
			createdAt int64
			details   string
		)
		if err := rows.Scan(&rec.ID, &createdAt, &rec.Kind, &details); err != nil {
			return nil, fmt.Errorf("failed to scan heartbeat: %w", err)
		}
		rec.CreatedAt = time.Unix(0, createdAt).UTC()
		if err := json.Unmarshal([]byte(details), &rec.Details); err != nil {
			return nil, fmt.Errorf("failed to decode heartbeat %s details: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate heartbeats: %w", err)
	}
	return records, nil
}

// DeleteByIDs removes the given rows in one statement.
func (s *Store) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM heartbeats WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, wrapErr("failed to delete heartbeats", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted heartbeats: %w", err)
	}
	return n, nil
}

// Get reads a client state value.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM client_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapErr("failed to read client state", err)
	}
	return value, true, nil
}

// Set overwrites a client state value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO client_state (key, value, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.nowFunc().UnixNano())
	if err != nil {
		return wrapErr("failed to write client state", err)
	}
	return nil
}
