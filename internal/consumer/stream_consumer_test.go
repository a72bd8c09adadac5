package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	commonredis "wisefido-alerting/common/redis"
	"wisefido-alerting/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testStream = "telemetry:events"

type recordingHandler struct {
	mu     sync.Mutex
	events []models.TelemetryEvent
	fail   string
}

func (h *recordingHandler) Evaluate(ctx context.Context, event models.TelemetryEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	if event.Subject.ID == h.fail {
		return errors.New("evaluation failed")
	}
	return nil
}

func (h *recordingHandler) snapshot() []models.TelemetryEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.TelemetryEvent(nil), h.events...)
}

func setupTestRedis(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func publishEvent(t *testing.T, client *redis.Client, subjectID string, ts int64, hr float64) {
	_, err := commonredis.PublishJSONToStream(context.Background(), client, testStream, models.TelemetryEvent{
		TenantID:  "tenant-1",
		Subject:   models.SubjectRef{Type: models.SubjectResident, ID: subjectID},
		Timestamp: ts,
		Metrics:   map[string]float64{models.MetricHeartRate: hr},
	})
	require.NoError(t, err)
}

func TestStreamConsumer_ProcessesAndAcks(t *testing.T) {
	client := setupTestRedis(t)
	handler := &recordingHandler{fail: "resident-3"}
	c := NewStreamConsumer(client, StreamConfig{
		Stream:       testStream,
		Group:        "alerting",
		Consumer:     "worker-1",
		Workers:      3,
		PollInterval: 10 * time.Millisecond,
	}, handler, nil, zap.NewNop())

	require.NoError(t, commonredis.CreateConsumerGroup(context.Background(), client, testStream, "alerting"))
	for i := int64(0); i < 5; i++ {
		publishEvent(t, client, "resident-1", 1000+i, 100+float64(i))
		publishEvent(t, client, "resident-2", 1000+i, 60)
	}
	publishEvent(t, client, "resident-3", 1000, 60)
	_, err := commonredis.PublishToStream(context.Background(), client, testStream, map[string]interface{}{"data": "not json"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	assert.Eventually(t, func() bool { return len(handler.snapshot()) == 11 }, 3*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("consumer did not stop")
	}

	// 同一对象的事件保持顺序
	var last int64
	for _, e := range handler.snapshot() {
		if e.Subject.ID != "resident-1" {
			continue
		}
		assert.Greater(t, e.Timestamp, last)
		last = e.Timestamp
	}

	pending, err := client.XPending(context.Background(), testStream, "alerting").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)
}

func TestStreamConsumer_ClaimsMessagesLeftByCrashedConsumer(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, commonredis.CreateConsumerGroup(ctx, client, testStream, "alerting"))
	publishEvent(t, client, "resident-1", 1000, 120)
	publishEvent(t, client, "resident-1", 1001, 121)

	// 其他消费者读取后未确认就退出
	msgs, err := commonredis.ReadFromStream(ctx, client, testStream, "alerting", "crashed", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	time.Sleep(20 * time.Millisecond)

	handler := &recordingHandler{}
	c := NewStreamConsumer(client, StreamConfig{
		Stream:       testStream,
		Group:        "alerting",
		Consumer:     "worker-1",
		Workers:      2,
		PollInterval: 10 * time.Millisecond,
		ClaimMinIdle: 10 * time.Millisecond,
	}, handler, nil, zap.NewNop())

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- c.Start(runCtx) }()

	assert.Eventually(t, func() bool { return len(handler.snapshot()) == 2 }, 3*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	events := handler.snapshot()
	assert.Equal(t, int64(1000), events[0].Timestamp)
	assert.Equal(t, int64(1001), events[1].Timestamp)

	pending, err := client.XPending(ctx, testStream, "alerting").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)
}

func TestStreamConsumer_ShardIsStable(t *testing.T) {
	c := NewStreamConsumer(nil, StreamConfig{Workers: 8}, &recordingHandler{}, nil, zap.NewNop())
	event := models.TelemetryEvent{TenantID: "tenant-1", Subject: models.SubjectRef{Type: models.SubjectResident, ID: "resident-1"}}

	first := c.shard(event)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, c.shard(event))
	}
	assert.GreaterOrEqual(t, first, 0)
	assert.Less(t, first, 8)
}

func TestDecodeEvent(t *testing.T) {
	_, err := decodeEvent(commonredis.StreamMessage{ID: "1-0", Values: map[string]interface{}{}})
	assert.Error(t, err)

	_, err = decodeEvent(commonredis.StreamMessage{ID: "1-0", Values: map[string]interface{}{
		"data": `{"tenant_id":"tenant-1","subject":{"type":"resident","id":"r1"},"timestamp":1}`,
	}})
	assert.Error(t, err, "event without metrics or event_type")

	event, err := decodeEvent(commonredis.StreamMessage{ID: "1-0", Values: map[string]interface{}{
		"data": `{"tenant_id":"tenant-1","subject":{"type":"resident","id":"r1"},"timestamp":1,"event_type":"Fall"}`,
	}})
	require.NoError(t, err)
	assert.Equal(t, "Fall", event.EventType)
}
