package repository

import (
	"context"
	"testing"
	"time"

	"wisefido-alerting/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestAlertCache(t *testing.T) (*miniredis.Miniredis, *AlertCache) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, NewAlertCache(client, "alerting:subject:", 30*time.Second, zap.NewNop())
}

func TestAlertCache_UpdateAndGet(t *testing.T) {
	mr, cache := setupTestAlertCache(t)
	ctx := context.Background()
	subject := models.SubjectRef{Type: models.SubjectResident, ID: "resident-1"}

	alerts := []*models.Alert{
		{ID: "alert-1", TenantID: "tenant-1", Subject: subject, AlertType: models.AlertTypeFall, Level: models.LevelL1, Status: models.StatusPending},
	}
	require.NoError(t, cache.Update(ctx, "tenant-1", subject, alerts))

	key := "alerting:subject:tenant-1:resident:resident-1:alerts"
	assert.True(t, mr.Exists(key))
	assert.Equal(t, 30*time.Second, mr.TTL(key))

	got, err := cache.Get(ctx, "tenant-1", subject)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "alert-1", got[0].ID)
	assert.Equal(t, models.LevelL1, got[0].Level)

	mr.FastForward(31 * time.Second)
	got, err = cache.Get(ctx, "tenant-1", subject)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAlertCache_EmptyClearsKey(t *testing.T) {
	mr, cache := setupTestAlertCache(t)
	ctx := context.Background()
	subject := models.SubjectRef{Type: models.SubjectDevice, ID: "device-1"}

	require.NoError(t, cache.Update(ctx, "tenant-1", subject, []*models.Alert{{ID: "alert-1"}}))
	require.NoError(t, cache.Update(ctx, "tenant-1", subject, nil))

	assert.False(t, mr.Exists("alerting:subject:tenant-1:device:device-1:alerts"))
}
