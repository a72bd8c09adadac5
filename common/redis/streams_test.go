package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestCreateConsumerGroup_Idempotent(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, CreateConsumerGroup(ctx, client, "telemetry:events", "alerting"))
	require.NoError(t, CreateConsumerGroup(ctx, client, "telemetry:events", "alerting"))
}

func TestPublishAndRead(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, CreateConsumerGroup(ctx, client, "telemetry:events", "alerting"))

	_, err := PublishJSONToStream(ctx, client, "telemetry:events", map[string]interface{}{
		"tenant_id": "tenant-1",
		"metrics":   map[string]float64{"heart_rate": 120},
	})
	require.NoError(t, err)

	msgs, err := ReadFromStream(ctx, client, "telemetry:events", "alerting", "worker-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &payload))
	assert.Equal(t, "tenant-1", payload["tenant_id"])

	require.NoError(t, AckMessages(ctx, client, "telemetry:events", "alerting", msgs[0].ID))

	// 已读取的消息不会再次投递给同组消费者
	msgs, err = ReadFromStream(ctx, client, "telemetry:events", "alerting", "worker-1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestClaimPending(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	require.NoError(t, CreateConsumerGroup(ctx, client, "telemetry:events", "alerting"))
	for i := 0; i < 3; i++ {
		_, err := PublishJSONToStream(ctx, client, "telemetry:events", map[string]int{"seq": i})
		require.NoError(t, err)
	}

	// crashed 读取后未确认
	msgs, err := ReadFromStream(ctx, client, "telemetry:events", "alerting", "crashed", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	// 空闲时间不足时不认领
	claimed, err := ClaimPending(ctx, client, "telemetry:events", "alerting", "worker-1", time.Minute, 2)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	mr.SetTime(time.Now().Add(time.Hour))
	claimed, err = ClaimPending(ctx, client, "telemetry:events", "alerting", "worker-1", time.Minute, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	assert.Equal(t, msgs[0].ID, claimed[0].ID)
	assert.Equal(t, msgs[2].ID, claimed[2].ID)

	pending, err := client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: "telemetry:events", Group: "alerting", Start: "-", End: "+", Count: 10,
	}).Result()
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for _, p := range pending {
		assert.Equal(t, "worker-1", p.Consumer)
	}
}

func TestStringify(t *testing.T) {
	cases := map[string]interface{}{
		"abc":          "abc",
		"42":           42,
		"1.5":          1.5,
		"true":         true,
		`{"a":1}`:      map[string]int{"a": 1},
		"9000000000":   int64(9000000000),
		"raw-bytes-ok": []byte("raw-bytes-ok"),
	}
	for want, in := range cases {
		got, err := stringify(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
