package scylla

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"keepalive-service/internal/models"
	"keepalive-service/internal/repository"
	"keepalive-service/internal/util"
)

// HeartbeatRepository stores heartbeats in one partition per kind, clustered newest first.
// heartbeats_by_id maps an id back to its clustering key so deletes can be keyed by id.
type HeartbeatRepository struct {
	client *ScyllaClient
	kind   string
}

func NewHeartbeatRepository(client *ScyllaClient) *HeartbeatRepository {
	return &HeartbeatRepository{
		client: client,
		kind:   models.KindKeepAlive,
	}
}

func (r *HeartbeatRepository) Append(ctx context.Context, record *models.HeartbeatRecord) (string, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		// Scylla timestamps carry millisecond precision.
		record.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}
	if record.Kind == "" {
		record.Kind = r.kind
	}

	stmts := r.client.Statements
	batch := r.client.Batch(ctx, gocql.LoggedBatch)
	batch.Query(stmts.InsertHeartbeat,
		record.Kind, record.CreatedAt, record.ID, record.Details.Source, record.Details.Timestamp)
	batch.Query(stmts.InsertHeartbeatByID, record.ID, record.Kind, record.CreatedAt)

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to insert heartbeat",
			zap.String("id", record.ID),
			zap.String("source", record.Details.Source),
			zap.Error(err))
		return "", fmt.Errorf("failed to insert heartbeat: %w", err)
	}

	util.Debug("Heartbeat inserted",
		zap.String("id", record.ID),
		zap.Time("created_at", record.CreatedAt))
	return record.ID, nil
}

func (r *HeartbeatRepository) ListAllByRecencyDesc(ctx context.Context) ([]models.HeartbeatRecord, error) {
	iter := r.client.Query(ctx, r.client.Statements.ListHeartbeats, r.kind).Iter()

	var (
		records []models.HeartbeatRecord
		rec     models.HeartbeatRecord
	)
	for iter.Scan(&rec.ID, &rec.CreatedAt, &rec.Kind, &rec.Details.Source, &rec.Details.Timestamp) {
		rec.CreatedAt = rec.CreatedAt.UTC()
		records = append(records, rec)
		rec = models.HeartbeatRecord{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list heartbeats: %w", err)
	}

	// Clustering order already gives this; the sort keeps the contract independent of table options.
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

func (r *HeartbeatRepository) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	stmts := r.client.Statements
	batch := r.client.Batch(ctx, gocql.LoggedBatch)
	var found int64

	for _, id := range ids {
		var (
			kind      string
			createdAt time.Time
		)
		err := r.client.ScanWithRetry(r.client.Query(ctx, stmts.GetHeartbeatKey, id), &kind, &createdAt)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("failed to resolve heartbeat %s: %w", id, err)
		}
		batch.Query(stmts.DeleteHeartbeat, kind, createdAt, id)
		batch.Query(stmts.DeleteHeartbeatByID, id)
		found++
	}

	if found == 0 {
		return 0, nil
	}
	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to delete heartbeats",
			zap.Int("count", len(ids)),
			zap.Error(err))
		return 0, fmt.Errorf("failed to delete heartbeats: %w", err)
	}
	return found, nil
}

func (r *HeartbeatRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}

// Close is a no-op; the factory owns the session.
func (r *HeartbeatRepository) Close() error { return nil }
