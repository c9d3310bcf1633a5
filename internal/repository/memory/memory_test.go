package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keepalive-service/internal/models"
)

func TestHeartbeatRepository_OrdersNewestFirst(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	tick := 0
	repo := NewHeartbeatRepository().WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	})

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := repo.Append(ctx, &models.HeartbeatRecord{Kind: models.KindKeepAlive})
		require.NoError(t, err)
		require.NotEmpty(t, id)
		ids = append(ids, id)
	}

	records, err := repo.ListAllByRecencyDesc(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, ids[2], records[0].ID)
	assert.Equal(t, ids[0], records[2].ID)
	assert.True(t, records[0].CreatedAt.After(records[1].CreatedAt))
}

func TestHeartbeatRepository_TiesBreakByInsertionOrder(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	repo := NewHeartbeatRepository().WithClock(func() time.Time { return fixed })

	first, _ := repo.Append(ctx, &models.HeartbeatRecord{})
	second, _ := repo.Append(ctx, &models.HeartbeatRecord{})

	records, err := repo.ListAllByRecencyDesc(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{second, first}, []string{records[0].ID, records[1].ID})
}

func TestHeartbeatRepository_DeleteByIDs(t *testing.T) {
	ctx := context.Background()
	repo := NewHeartbeatRepository()

	a, _ := repo.Append(ctx, &models.HeartbeatRecord{})
	b, _ := repo.Append(ctx, &models.HeartbeatRecord{})

	n, err := repo.DeleteByIDs(ctx, []string{a, "missing"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	records, _ := repo.ListAllByRecencyDesc(ctx)
	require.Len(t, records, 1)
	assert.Equal(t, b, records[0].ID)
}

func TestStateStore_GetSet(t *testing.T) {
	ctx := context.Background()
	s := NewStateStore()

	_, ok, err := s.Get(ctx, "lastKeepAlive")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "lastKeepAlive", "1"))
	require.NoError(t, s.Set(ctx, "lastKeepAlive", "2"))

	v, ok, err := s.Get(ctx, "lastKeepAlive")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", v)
}
