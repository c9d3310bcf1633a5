package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keepalive-service/internal/models"
	"keepalive-service/internal/repository"
	"keepalive-service/internal/repository/memory"
	"keepalive-service/internal/repository/sqlite"
)

type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

type failingRepo struct {
	repository.HeartbeatRepository
	appendErr error
	listErr   error
	deleteErr error
}

func (r *failingRepo) Append(ctx context.Context, rec *models.HeartbeatRecord) (string, error) {
	if r.appendErr != nil {
		return "", r.appendErr
	}
	return r.HeartbeatRepository.Append(ctx, rec)
}

func (r *failingRepo) ListAllByRecencyDesc(ctx context.Context) ([]models.HeartbeatRecord, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	return r.HeartbeatRepository.ListAllByRecencyDesc(ctx)
}

func (r *failingRepo) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if r.deleteErr != nil {
		return 0, r.deleteErr
	}
	return r.HeartbeatRepository.DeleteByIDs(ctx, ids)
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.HeartbeatEvent
	err    error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Publish(_ context.Context, e models.HeartbeatEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

type recordingArchive struct {
	batches [][]models.HeartbeatRecord
	err     error
}

func (a *recordingArchive) ArchiveEvicted(_ context.Context, recs []models.HeartbeatRecord) error {
	a.batches = append(a.batches, recs)
	return a.err
}

func newSQLiteRepo(t *testing.T, clock func() time.Time) repository.HeartbeatRepository {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store.WithClock(clock)
}

func repoBackends(t *testing.T) map[string]func(clock func() time.Time) repository.HeartbeatRepository {
	return map[string]func(clock func() time.Time) repository.HeartbeatRepository{
		"memory": func(clock func() time.Time) repository.HeartbeatRepository {
			return memory.NewHeartbeatRepository().WithClock(clock)
		},
		"sqlite": func(clock func() time.Time) repository.HeartbeatRepository {
			return newSQLiteRepo(t, clock)
		},
	}
}

func TestRecord_RetainsNewestThirty(t *testing.T) {
	for name, build := range repoBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := &steppingClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), step: time.Minute}
			repo := build(clock.Now)
			svc := NewHeartbeatService(repo, nil, Options{})

			var ids []string
			for i := 0; i < 35; i++ {
				res, err := svc.Record(ctx, "web")
				require.NoError(t, err)
				ids = append(ids, res.ID)
			}

			records, err := repo.ListAllByRecencyDesc(ctx)
			require.NoError(t, err)
			require.Len(t, records, DefaultRetentionCap)

			for i, rec := range records {
				assert.Equal(t, ids[len(ids)-1-i], rec.ID)
			}
		})
	}
}

func TestRecord_RetainsAllBelowCap(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewHeartbeatRepository()
	svc := NewHeartbeatService(repo, nil, Options{})

	for i := 0; i < 5; i++ {
		res, err := svc.Record(ctx, "web")
		require.NoError(t, err)
		assert.Equal(t, i+1, res.Retained)
		assert.Zero(t, res.Evicted)
	}
}

func TestRecord_StoresDetails(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2024, 5, 6, 7, 8, 9, 123000000, time.UTC)
	repo := memory.NewHeartbeatRepository()
	svc := NewHeartbeatService(repo, nil, Options{Now: func() time.Time { return fixed }})

	res, err := svc.Record(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, "web", res.Source)

	records, err := repo.ListAllByRecencyDesc(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.KindKeepAlive, records[0].Kind)
	assert.Equal(t, "2024-05-06T07:08:09.123Z", records[0].Details.Timestamp)
	assert.Equal(t, "web", records[0].Details.Source)
}

func TestRecord_DefaultsSource(t *testing.T) {
	ctx := context.Background()
	svc := NewHeartbeatService(memory.NewHeartbeatRepository(), nil, Options{})

	res, err := svc.Record(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultSource, res.Source)

	res, err = svc.Record(ctx, "   ")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultSource, res.Source)
}

func TestResolveSource(t *testing.T) {
	assert.Equal(t, "unknown", ResolveSource(nil))
	assert.Equal(t, "unknown", ResolveSource(42))
	assert.Equal(t, "unknown", ResolveSource(map[string]interface{}{"a": 1}))
	assert.Equal(t, "unknown", ResolveSource(" \t"))
	assert.Equal(t, "cron", ResolveSource("  cron "))
	assert.Len(t, ResolveSource(strings.Repeat("x", 500)), maxSourceLength)
	assert.Equal(t, "R&D <admin>", ResolveSource("R&D <admin>"))
	assert.Equal(t, "O'Brien", ResolveSource("O'Brien"))
	assert.Equal(t, strings.Repeat("&", maxSourceLength), ResolveSource(strings.Repeat("&", 200)))
}

func TestRecord_InsertFailure(t *testing.T) {
	repo := &failingRepo{HeartbeatRepository: memory.NewHeartbeatRepository(), appendErr: errors.New("disk full")}
	svc := NewHeartbeatService(repo, nil, Options{})

	_, err := svc.Record(context.Background(), "web")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStore)
	assert.Contains(t, err.Error(), "disk full")
}

func TestRecord_SweepFailureAfterInsert(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewHeartbeatRepository()
	repo := &failingRepo{HeartbeatRepository: inner, listErr: errors.New("timeout")}
	svc := NewHeartbeatService(repo, nil, Options{})

	_, err := svc.Record(ctx, "web")
	require.ErrorIs(t, err, ErrStore)

	// The insert is not rolled back.
	records, err := inner.ListAllByRecencyDesc(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRecord_DeleteFailure(t *testing.T) {
	ctx := context.Background()
	repo := &failingRepo{HeartbeatRepository: memory.NewHeartbeatRepository(), deleteErr: errors.New("locked")}
	svc := NewHeartbeatService(repo, nil, Options{RetentionCap: 1})

	_, err := svc.Record(ctx, "web")
	require.NoError(t, err)

	_, err = svc.Record(ctx, "web")
	require.ErrorIs(t, err, ErrStore)
	assert.Contains(t, err.Error(), "locked")
}

func TestSweep_ArchivesEvictedAndToleratesArchiveErrors(t *testing.T) {
	ctx := context.Background()
	clock := &steppingClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), step: time.Second}
	repo := memory.NewHeartbeatRepository().WithClock(clock.Now)
	archive := &recordingArchive{err: errors.New("clickhouse down")}
	svc := NewHeartbeatService(repo, nil, Options{RetentionCap: 2, Archive: archive})

	first, err := svc.Record(ctx, "a")
	require.NoError(t, err)
	_, err = svc.Record(ctx, "b")
	require.NoError(t, err)
	res, err := svc.Record(ctx, "c")
	require.NoError(t, err)

	assert.Equal(t, 2, res.Retained)
	assert.Equal(t, 1, res.Evicted)
	require.Len(t, archive.batches, 1)
	assert.Equal(t, first.ID, archive.batches[0][0].ID)
}

// partialDeleteRepo skips the last requested id, as a delete that loses a race would.
type partialDeleteRepo struct {
	*memory.HeartbeatRepository
}

func (r partialDeleteRepo) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) > 0 {
		ids = ids[:len(ids)-1]
	}
	return r.HeartbeatRepository.DeleteByIDs(ctx, ids)
}

func TestSweep_ReportsRowsActuallyDeleted(t *testing.T) {
	ctx := context.Background()
	clock := &steppingClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), step: time.Second}
	repo := memory.NewHeartbeatRepository().WithClock(clock.Now)
	for i := 0; i < 6; i++ {
		_, err := repo.Append(ctx, &models.HeartbeatRecord{Kind: models.KindKeepAlive})
		require.NoError(t, err)
	}

	svc := NewHeartbeatService(partialDeleteRepo{repo}, nil, Options{RetentionCap: 3})
	res, err := svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Evicted, 3)
	assert.Equal(t, 4, res.Retained)

	records, err := repo.ListAllByRecencyDesc(ctx)
	require.NoError(t, err)
	assert.Len(t, records, res.Retained)
}

func TestSweep_TrimsPreexistingOverflow(t *testing.T) {
	ctx := context.Background()
	clock := &steppingClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), step: time.Second}
	repo := memory.NewHeartbeatRepository().WithClock(clock.Now)
	for i := 0; i < 10; i++ {
		_, err := repo.Append(ctx, &models.HeartbeatRecord{Kind: models.KindKeepAlive})
		require.NoError(t, err)
	}

	svc := NewHeartbeatService(repo, nil, Options{RetentionCap: 4})
	res, err := svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Retained)
	assert.Len(t, res.Evicted, 6)

	records, err := repo.ListAllByRecencyDesc(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 4)
}

func TestRecord_PublishesEvent(t *testing.T) {
	events := &recordingSink{err: errors.New("ignored")}
	svc := NewHeartbeatService(memory.NewHeartbeatRepository(), nil, Options{Events: events})

	res, err := svc.Record(context.Background(), "cli")
	require.NoError(t, err)
	svc.Cleanup()

	require.Len(t, events.events, 1)
	assert.Equal(t, res.ID, events.events[0].ID)
	assert.Equal(t, "cli", events.events[0].Source)
	assert.Equal(t, 1, events.events[0].Retained)
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	loc := time.UTC
	schedule := Schedule{Location: loc, DailyHour: 8, Cadence: 3 * day, RiskThreshold: 5 * day}

	t.Run("no history", func(t *testing.T) {
		now := time.Date(2024, 1, 1, 9, 0, 0, 0, loc)
		svc := NewHeartbeatService(memory.NewHeartbeatRepository(), nil,
			Options{Schedule: &schedule, Now: func() time.Time { return now }})

		status, err := svc.Status(ctx)
		require.NoError(t, err)
		assert.Nil(t, status.LastHeartbeat)
		assert.True(t, status.AtRisk)
		assert.Equal(t, time.Date(2024, 1, 2, 8, 0, 0, 0, loc), status.NextExpected)
		assert.Zero(t, status.RetainedCount)
		assert.Equal(t, DefaultRetentionCap, status.RetentionCap)
	})

	t.Run("recent heartbeat", func(t *testing.T) {
		last := time.Date(2024, 1, 1, 8, 0, 0, 0, loc)
		repo := memory.NewHeartbeatRepository().WithClock(func() time.Time { return last })
		now := last.Add(26 * time.Hour)
		svc := NewHeartbeatService(repo, nil,
			Options{Schedule: &schedule, Now: func() time.Time { return now }})

		_, err := repo.Append(ctx, &models.HeartbeatRecord{Kind: models.KindKeepAlive})
		require.NoError(t, err)

		status, err := svc.Status(ctx)
		require.NoError(t, err)
		require.NotNil(t, status.LastHeartbeat)
		assert.False(t, status.AtRisk)
		assert.Equal(t, time.Date(2024, 1, 4, 8, 0, 0, 0, loc), status.NextExpected)
		assert.Equal(t, 1, status.RetainedCount)
	})
}

func TestList(t *testing.T) {
	ctx := context.Background()
	clock := &steppingClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), step: time.Second}
	svc := NewHeartbeatService(memory.NewHeartbeatRepository().WithClock(clock.Now), nil, Options{})

	empty, err := svc.List(ctx, 0)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	for i := 0; i < 5; i++ {
		_, err := svc.Record(ctx, "web")
		require.NoError(t, err)
	}

	records, err := svc.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.True(t, records[0].CreatedAt.After(records[1].CreatedAt))

	all, err := svc.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	_, err = svc.List(ctx, -1)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
