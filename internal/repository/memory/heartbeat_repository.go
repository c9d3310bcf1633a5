package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"keepalive-service/internal/models"
)

type entry struct {
	record models.HeartbeatRecord
	seq    uint64
}

// HeartbeatRepository keeps heartbeat history in process memory.
// It is safe for concurrent use.
type HeartbeatRepository struct {
	mu      sync.RWMutex
	entries map[string]entry
	seq     uint64
	nowFunc func() time.Time
}

func NewHeartbeatRepository() *HeartbeatRepository {
	return &HeartbeatRepository{
		entries: make(map[string]entry),
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock used to stamp CreatedAt.
func (r *HeartbeatRepository) WithClock(now func() time.Time) *HeartbeatRepository {
	r.nowFunc = now
	return r
}

func (r *HeartbeatRepository) Append(_ context.Context, record *models.HeartbeatRecord) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = r.nowFunc()
	}
	r.seq++
	r.entries[record.ID] = entry{record: *record, seq: r.seq}
	return record.ID, nil
}

func (r *HeartbeatRepository) ListAllByRecencyDesc(_ context.Context) ([]models.HeartbeatRecord, error) {
	r.mu.RLock()
	ordered := make([]entry, 0, len(r.entries))
	for _, e := range r.entries {
		ordered = append(ordered, e)
	}
	r.mu.RUnlock()

	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.record.CreatedAt.Equal(b.record.CreatedAt) {
			return a.record.CreatedAt.After(b.record.CreatedAt)
		}
		return a.seq > b.seq
	})

	out := make([]models.HeartbeatRecord, len(ordered))
	for i, e := range ordered {
		out[i] = e.record
	}
	return out, nil
}

func (r *HeartbeatRepository) DeleteByIDs(_ context.Context, ids []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for _, id := range ids {
		if _, ok := r.entries[id]; ok {
			delete(r.entries, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *HeartbeatRepository) HealthCheck(context.Context) error { return nil }

func (r *HeartbeatRepository) Close() error { return nil }
