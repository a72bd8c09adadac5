package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wisefido-alerting/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubPending struct {
	alerts []*models.Alert
	err    error
}

func (s stubPending) ListPendingAlerts(ctx context.Context) ([]*models.Alert, error) {
	return s.alerts, s.err
}

type stubRedispatcher struct {
	mu    sync.Mutex
	calls []string
}

func (s *stubRedispatcher) Redispatch(ctx context.Context, alertID string) (*models.DispatchReport, error) {
	s.mu.Lock()
	s.calls = append(s.calls, alertID)
	s.mu.Unlock()
	switch alertID {
	case "broken":
		return nil, errors.New("version conflict")
	case "not-due":
		return nil, nil
	}
	return &models.DispatchReport{AlertID: alertID, Sent: []models.Channel{models.ChannelWeb}}, nil
}

func (s *stubRedispatcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func TestSweep_RedispatchesPendingAlerts(t *testing.T) {
	source := stubPending{alerts: []*models.Alert{{ID: "a1"}, {ID: "broken"}, {ID: "not-due"}, {ID: "a2"}}}
	rd := &stubRedispatcher{}
	s := NewRepeatSweeper(source, rd, "@every 1m", zap.NewNop())

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a1", "broken", "not-due", "a2"}, rd.calls)
}

type pruningRedispatcher struct {
	stubRedispatcher
	pruned int
}

func (p *pruningRedispatcher) PruneRateLimits() int {
	p.pruned++
	return 3
}

func TestSweep_PrunesRateLimits(t *testing.T) {
	rd := &pruningRedispatcher{}
	s := NewRepeatSweeper(stubPending{alerts: []*models.Alert{{ID: "a1"}}}, rd, "@every 1m", zap.NewNop())

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, rd.pruned)
}

func TestSweep_SourceError(t *testing.T) {
	s := NewRepeatSweeper(stubPending{err: errors.New("db down")}, &stubRedispatcher{}, "@every 1m", zap.NewNop())
	_, err := s.Sweep(context.Background())
	assert.Error(t, err)
}

func TestSweeper_StartInvalidSchedule(t *testing.T) {
	s := NewRepeatSweeper(stubPending{}, &stubRedispatcher{}, "not a schedule", zap.NewNop())
	err := s.Start(context.Background())
	require.Error(t, err)
	s.Stop()
}

func TestSweeper_RunsOnSchedule(t *testing.T) {
	rd := &stubRedispatcher{}
	s := NewRepeatSweeper(stubPending{alerts: []*models.Alert{{ID: "a1"}}}, rd, "@every 1s", zap.NewNop())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool { return rd.callCount() > 0 }, 3*time.Second, 50*time.Millisecond)
}
