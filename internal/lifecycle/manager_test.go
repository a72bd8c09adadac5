package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"wisefido-alerting/internal/clock"
	"wisefido-alerting/internal/models"
	"wisefido-alerting/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type notifyCall struct {
	alertID string
	level   models.DangerLevel
	reason  models.DispatchReason
}

// fakeNotifier 按 DueChannels / Silenced 规则模拟发送
type fakeNotifier struct {
	mu    sync.Mutex
	clock clock.Clock
	calls []notifyCall
}

func (n *fakeNotifier) Notify(ctx context.Context, alert *models.Alert, policy *models.Policy, reason models.DispatchReason) models.DispatchReport {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.clock.Now()
	report := models.DispatchReport{AlertID: alert.ID, Reason: reason, At: now}
	if policy.Silenced(alert.Level, reason, now) {
		report.Silenced = true
		return report
	}
	rule, _ := policy.Rule(alert.Level)
	report.Sent = alert.DueChannels(rule, now, reason == models.ReasonEscalation)
	n.calls = append(n.calls, notifyCall{alertID: alert.ID, level: alert.Level, reason: reason})
	return report
}

func (n *fakeNotifier) Calls() []notifyCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifyCall(nil), n.calls...)
}

type fixture struct {
	mgr      *Manager
	repo     *repository.MemoryAlertRepository
	notifier *fakeNotifier
	clock    *clock.Fake
	policy   *models.Policy
}

var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, mutate func(p *models.Policy)) *fixture {
	t.Helper()
	clk := clock.NewFake(t0)
	policy := models.DefaultPolicy("tenant-1")
	// L2 也立即发送，方便断言
	rule := policy.NotificationRules[models.LevelL2]
	rule.Immediate = true
	policy.NotificationRules[models.LevelL2] = rule
	if mutate != nil {
		mutate(policy)
	}
	require.NoError(t, policy.Validate())

	repo := repository.NewMemoryAlertRepository()
	notifier := &fakeNotifier{clock: clk}
	mgr := NewManager(repo, notifier, nil, clk, nil, zap.NewNop())
	t.Cleanup(mgr.Close)
	return &fixture{mgr: mgr, repo: repo, notifier: notifier, clock: clk, policy: policy}
}

func (f *fixture) decision(alertType string, level models.DangerLevel) models.AlertDecision {
	return models.AlertDecision{
		Kind:      models.DecisionRaise,
		TenantID:  "tenant-1",
		Subject:   models.SubjectRef{Type: models.SubjectResident, ID: "resident-1"},
		DeviceID:  "device-1",
		AlertType: alertType,
		Level:     level,
		Timestamp: f.clock.Now(),
		Policy:    f.policy,
	}
}

func withEscalation(p *models.Policy) {
	p.Escalation = models.EscalationRule{Enabled: true, EscalateAfterSec: 300, EscalateToLevel: models.LevelL1}
}

func TestCreate_NewAlertDispatchesImmediately(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.mgr.Create(ctx, f.decision(models.AlertTypeFall, models.LevelL1))
	require.NoError(t, err)

	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, models.StatusPending, res.Alert.Status)
	assert.Equal(t, 1, res.Alert.OccurrenceCount)
	require.NotNil(t, res.Report)
	assert.ElementsMatch(t, []models.Channel{models.ChannelWeb, models.ChannelApp, models.ChannelPhone}, res.Report.Sent)

	stored, err := f.repo.GetAlert(ctx, res.Alert.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastDispatchAt)
	assert.Equal(t, t0, *stored.LastDispatchAt)
	assert.Len(t, stored.ChannelDispatchAt, 3)
	assert.JSONEq(t, `{"event_type":"Fall","device_id":"device-1","timestamp":1709542800}`, string(stored.TriggerData))
}

func TestCreate_RejectsNonRaisingLevel(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.mgr.Create(context.Background(), f.decision(models.AlertTypeAbnormalHeartRate, models.LevelNormal))
	assert.Error(t, err)

	d := f.decision(models.AlertTypeFall, models.LevelL1)
	d.TenantID = ""
	_, err = f.mgr.Create(context.Background(), d)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "tenant_id is required")
}

func TestCreate_SuppressesDuplicateWithinWindow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.mgr.Create(ctx, f.decision(models.AlertTypeFall, models.LevelL1))
	require.NoError(t, err)

	f.clock.Advance(30 * time.Second)
	second, err := f.mgr.Create(ctx, f.decision(models.AlertTypeFall, models.LevelL1))
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuppressed, second.Outcome)
	assert.Equal(t, first.Alert.ID, second.Alert.ID)
	assert.Equal(t, 2, second.Alert.OccurrenceCount)
	assert.Equal(t, t0.Add(30*time.Second), second.Alert.LastOccurredAt)
	assert.Nil(t, second.Report)
	assert.Len(t, f.notifier.Calls(), 1)

	all, _, err := f.repo.ListAlerts(ctx, "tenant-1", models.AlertFilters{}, 1, 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCreate_OutsideWindowCreatesNewAlert(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.mgr.Create(ctx, f.decision(models.AlertTypeFall, models.LevelL1))
	require.NoError(t, err)

	f.clock.Advance(61 * time.Second)
	second, err := f.mgr.Create(ctx, f.decision(models.AlertTypeFall, models.LevelL1))
	require.NoError(t, err)

	assert.Equal(t, OutcomeCreated, second.Outcome)
	assert.NotEqual(t, first.Alert.ID, second.Alert.ID)
	assert.Len(t, f.notifier.Calls(), 2)
}

func TestCreate_RateLimitRollingHour(t *testing.T) {
	f := newFixture(t, func(p *models.Policy) {
		p.Suppression = models.SuppressionRule{Enabled: true, SuppressDuplicateSec: 0, MaxAlertsPerHour: 3}
	})
	ctx := context.Background()

	var outcomes []Outcome
	for i := 0; i < 5; i++ {
		res, err := f.mgr.Create(ctx, f.decision(models.AlertTypeFall, models.LevelL1))
		require.NoError(t, err)
		outcomes = append(outcomes, res.Outcome)
		f.clock.Advance(5 * time.Minute)
	}

	assert.Equal(t, []Outcome{
		OutcomeCreated, OutcomeCreated, OutcomeCreated, OutcomeRateLimited, OutcomeRateLimited,
	}, outcomes)
	assert.Len(t, f.notifier.Calls(), 3)

	// 限流的报警仍然落库
	all, total, err := f.repo.ListAlerts(ctx, "tenant-1", models.AlertFilters{}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, all, 5)

	// 第一次发送滑出窗口后恢复
	f.clock.Set(t0.Add(61 * time.Minute))
	res, err := f.mgr.Create(ctx, f.decision(models.AlertTypeFall, models.LevelL1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
}

func TestCreate_RateLimitIsPerTriple(t *testing.T) {
	f := newFixture(t, func(p *models.Policy) {
		p.Suppression = models.SuppressionRule{Enabled: true, MaxAlertsPerHour: 1}
	})
	ctx := context.Background()

	res, err := f.mgr.Create(ctx, f.decision(models.AlertTypeFall, models.LevelL1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)

	res, err = f.mgr.Create(ctx, f.decision(models.AlertTypeDeviceFailure, models.LevelL1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)

	d := f.decision(models.AlertTypeFall, models.LevelL1)
	d.Subject.ID = "resident-2"
	res, err = f.mgr.Create(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
}

func TestEscalation_AcknowledgeBeforeTimer(t *testing.T) {
	f := newFixture(t, withEscalation)
	ctx := context.Background()

	res, err := f.mgr.Create(ctx, f.decision(models.AlertTypeSuspectedFall, models.LevelL2))
	require.NoError(t, err)
	assert.Equal(t, 1, f.mgr.PendingEscalations())

	f.clock.Advance(200 * time.Second)
	acked, err := f.mgr.Acknowledge(ctx, res.Alert.ID, "nurse-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAcknowledged, acked.Status)
	assert.Equal(t, 0, f.mgr.PendingEscalations())

	f.clock.Advance(10 * time.Minute)

	stored, err := f.repo.GetAlert(ctx, res.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LevelL2, stored.Level)
	assert.Equal(t, 0, stored.EscalationCount)
	assert.Len(t, f.notifier.Calls(), 1)
}

func TestEscalation_FiresWhenUnacknowledged(t *testing.T) {
	f := newFixture(t, withEscalation)
	ctx := context.Background()

	res, err := f.mgr.Create(ctx, f.decision(models.AlertTypeSuspectedFall, models.LevelL2))
	require.NoError(t, err)

	f.clock.Advance(299 * time.Second)
	stored, err := f.repo.GetAlert(ctx, res.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LevelL2, stored.Level)

	f.clock.Advance(time.Second)
	stored, err = f.repo.GetAlert(ctx, res.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LevelL1, stored.Level)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Equal(t, 1, stored.EscalationCount)
	assert.Equal(t, 0, f.mgr.PendingEscalations())

	calls := f.notifier.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, models.ReasonEscalation, calls[1].reason)
	assert.Equal(t, models.LevelL1, calls[1].level)
	assert.Equal(t, t0.Add(300*time.Second), stored.ChannelDispatchAt[models.ChannelPhone])
}

func TestEscalation_ResolvedBeforeTimer(t *testing.T) {
	f := newFixture(t, withEscalation)
	ctx := context.Background()

	res, err := f.mgr.Create(ctx, f.decision(models.AlertTypeSuspectedFall, models.LevelL2))
	require.NoError(t, err)

	_, err = f.mgr.Resolve(ctx, res.Alert.ID, "nurse-1", "checked")
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	stored, err := f.repo.GetAlert(ctx, res.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, stored.Status)
	assert.Equal(t, 0, stored.EscalationCount)
	require.NotNil(t, stored.ResolveNote)
	assert.Equal(t, "checked", *stored.ResolveNote)
}

func TestAcknowledge_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.mgr.Create(ctx, f.decision(models.AlertTypeFall, models.LevelL1))
	require.NoError(t, err)

	first, err := f.mgr.Acknowledge(ctx, res.Alert.ID, "nurse-1")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second, err := f.mgr.Acknowledge(ctx, res.Alert.ID, "nurse-2")
	require.NoError(t, err)

	assert.Equal(t, "nurse-1", *second.AcknowledgedBy)
	assert.Equal(t, *first.AcknowledgedAt, *second.AcknowledgedAt)
	assert.Equal(t, first.Version, second.Version)
}

func TestTransitions_Invalid(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.mgr.Create(ctx, f.decision(models.AlertTypeFall, models.LevelL1))
	require.NoError(t, err)
	id := res.Alert.ID

	_, err = f.mgr.Acknowledge(ctx, id, "nurse-1")
	require.NoError(t, err)

	_, err = f.mgr.Dismiss(ctx, id, "nurse-1", "")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = f.mgr.Resolve(ctx, id, "nurse-1", "ok")
	require.NoError(t, err)

	_, err = f.mgr.Resolve(ctx, id, "nurse-1", "again")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	_, err = f.mgr.Acknowledge(ctx, id, "nurse-1")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	_, err = f.mgr.Dismiss(ctx, id, "nurse-1", "")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = f.mgr.Acknowledge(ctx, "missing", "nurse-1")
	assert.ErrorIs(t, err, models.ErrAlertNotFound)
	assert.True(t, IsNotFound(err))

	_, err = f.mgr.Resolve(ctx, id, "", "")
	assert.Error(t, err)
}

func TestDismiss_FiresTerminalHook(t *testing.T) {
	f := newFixture(t, withEscalation)
	ctx := context.Background()

	var hooked []string
	f.mgr.OnTerminal(func(ctx context.Context, a *models.Alert) {
		hooked = append(hooked, a.ID+":"+string(a.Status))
	})

	res, err := f.mgr.Create(ctx, f.decision(models.AlertTypeSuspectedFall, models.LevelL2))
	require.NoError(t, err)

	dismissed, err := f.mgr.Dismiss(ctx, res.Alert.ID, "nurse-1", "false alarm")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDismissed, dismissed.Status)
	assert.Equal(t, []string{res.Alert.ID + ":Dismissed"}, hooked)
	assert.Equal(t, 0, f.mgr.PendingEscalations())
}

func TestResolveOpen_ClosesAllOpenForTriple(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	a, err := f.mgr.Create(ctx, f.decision(models.AlertTypeAbnormalHeartRate, models.LevelL2))
	require.NoError(t, err)
	f.clock.Advance(2 * time.Minute)
	b, err := f.mgr.Create(ctx, f.decision(models.AlertTypeAbnormalHeartRate, models.LevelL1))
	require.NoError(t, err)
	other, err := f.mgr.Create(ctx, f.decision(models.AlertTypeFall, models.LevelL1))
	require.NoError(t, err)

	var hooked int
	f.mgr.OnTerminal(func(ctx context.Context, a *models.Alert) { hooked++ })

	resolved, err := f.mgr.ResolveOpen(ctx, "tenant-1",
		models.SubjectRef{Type: models.SubjectResident, ID: "resident-1"},
		models.AlertTypeAbnormalHeartRate, "system")
	require.NoError(t, err)
	assert.Len(t, resolved, 2)
	assert.Equal(t, 2, hooked)

	for _, id := range []string{a.Alert.ID, b.Alert.ID} {
		stored, err := f.repo.GetAlert(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusResolved, stored.Status)
		assert.Equal(t, "system", *stored.ResolvedBy)
	}
	stored, err := f.repo.GetAlert(ctx, other.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)

	resolved, err = f.mgr.ResolveOpen(ctx, "tenant-1",
		models.SubjectRef{Type: models.SubjectResident, ID: "resident-1"},
		models.AlertTypeAbnormalHeartRate, "system")
	require.NoError(t, err)
	assert.Empty(t, resolved)
}

func TestRedispatch_HonorsRepeatInterval(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.mgr.Create(ctx, f.decision(models.AlertTypeFall, models.LevelL1))
	require.NoError(t, err)

	f.clock.Advance(100 * time.Second)
	report, err := f.mgr.Redispatch(ctx, res.Alert.ID)
	require.NoError(t, err)
	assert.Nil(t, report)

	f.clock.Advance(200 * time.Second)
	report, err = f.mgr.Redispatch(ctx, res.Alert.ID)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, models.ReasonRepeat, report.Reason)
	assert.Len(t, report.Sent, 3)

	_, err = f.mgr.Acknowledge(ctx, res.Alert.ID, "nurse-1")
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	report, err = f.mgr.Redispatch(ctx, res.Alert.ID)
	require.NoError(t, err)
	assert.Nil(t, report)
}

func TestRedispatch_DeferredFirstDelivery(t *testing.T) {
	f := newFixture(t, func(p *models.Policy) {
		rule := p.NotificationRules[models.LevelL2]
		rule.Immediate = false
		p.NotificationRules[models.LevelL2] = rule
	})
	ctx := context.Background()

	res, err := f.mgr.Create(ctx, f.decision(models.AlertTypeLowBattery, models.LevelL2))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Nil(t, res.Report)
	assert.Empty(t, f.notifier.Calls())

	report, err := f.mgr.Redispatch(ctx, res.Alert.ID)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.ElementsMatch(t, []models.Channel{models.ChannelWeb, models.ChannelApp}, report.Sent)
}

func TestRedispatch_RateLimitCountsRepeats(t *testing.T) {
	f := newFixture(t, func(p *models.Policy) {
		p.Suppression = models.SuppressionRule{Enabled: true, MaxAlertsPerHour: 2}
		rule := p.NotificationRules[models.LevelL1]
		rule.RepeatIntervalSec = 60
		p.NotificationRules[models.LevelL1] = rule
	})
	ctx := context.Background()

	res, err := f.mgr.Create(ctx, f.decision(models.AlertTypeFall, models.LevelL1))
	require.NoError(t, err)

	sent := 0
	for i := 0; i < 10; i++ {
		f.clock.Advance(time.Minute)
		report, err := f.mgr.Redispatch(ctx, res.Alert.ID)
		require.NoError(t, err)
		if report != nil {
			sent++
		}
	}
	// 创建 1 次 + 重复 1 次
	assert.Equal(t, 1, sent)
	assert.Len(t, f.notifier.Calls(), 2)
}

func TestCreate_SilencedDoesNotConsumeBudget(t *testing.T) {
	f := newFixture(t, func(p *models.Policy) {
		p.Silence = models.SilenceRule{Enabled: true, Days: []string{"Monday"}}
		p.Suppression = models.SuppressionRule{Enabled: true, MaxAlertsPerHour: 1}
	})
	ctx := context.Background()

	res, err := f.mgr.Create(ctx, f.decision(models.AlertTypeLowBattery, models.LevelL2))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	require.NotNil(t, res.Report)
	assert.True(t, res.Report.Silenced)

	// L1 不受静默影响，配额仍可用
	res, err = f.mgr.Create(ctx, f.decision(models.AlertTypeLowBattery, models.LevelL1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.False(t, res.Report.Silenced)
}

func TestRestoreEscalations(t *testing.T) {
	f := newFixture(t, withEscalation)
	ctx := context.Background()

	mgr := NewManager(f.repo, f.notifier, staticPolicy{f.policy}, f.clock, nil, zap.NewNop())
	defer mgr.Close()

	stale := &models.Alert{
		ID:        "alert-stale",
		TenantID:  "tenant-1",
		Subject:   models.SubjectRef{Type: models.SubjectResident, ID: "resident-1"},
		AlertType: models.AlertTypeSuspectedFall,
		Level:     models.LevelL2,
		Status:    models.StatusPending,
		CreatedAt: t0.Add(-10 * time.Minute),
	}
	require.NoError(t, f.repo.CreateAlert(ctx, stale))

	n, err := mgr.RestoreEscalations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f.clock.Advance(0)
	stored, err := f.repo.GetAlert(ctx, "alert-stale")
	require.NoError(t, err)
	assert.Equal(t, models.LevelL1, stored.Level)
	assert.Equal(t, 1, stored.EscalationCount)
}

type staticPolicy struct{ p *models.Policy }

func (s staticPolicy) GetPolicy(ctx context.Context, tenantID string) (*models.Policy, error) {
	return s.p, nil
}

func TestConcurrentAcknowledgeAndEscalation(t *testing.T) {
	f := newFixture(t, withEscalation)
	ctx := context.Background()

	res, err := f.mgr.Create(ctx, f.decision(models.AlertTypeSuspectedFall, models.LevelL2))
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		f.clock.Advance(300 * time.Second)
	}()
	go func() {
		defer wg.Done()
		_, _ = f.mgr.Acknowledge(ctx, res.Alert.ID, "nurse-1")
	}()
	wg.Wait()

	stored, err := f.repo.GetAlert(ctx, res.Alert.ID)
	require.NoError(t, err)
	// 二者只能有一个生效：要么已确认未升级，要么升级后被确认
	if stored.EscalationCount == 1 {
		assert.Equal(t, models.LevelL1, stored.Level)
	} else {
		assert.Equal(t, models.LevelL2, stored.Level)
	}
	assert.Equal(t, models.StatusAcknowledged, stored.Status)
	assert.Equal(t, 0, f.mgr.PendingEscalations())
}

// racingRepository 写入后立即触发回调（模拟其他请求读到新报警）
type racingRepository struct {
	*repository.MemoryAlertRepository
	onCreate func(alertID string)
}

func (r *racingRepository) CreateAlert(ctx context.Context, alert *models.Alert) error {
	if err := r.MemoryAlertRepository.CreateAlert(ctx, alert); err != nil {
		return err
	}
	if r.onCreate != nil {
		r.onCreate(alert.ID)
	}
	return nil
}

func TestCreate_AcknowledgeDuringCreateWaitsForDispatchRecord(t *testing.T) {
	clk := clock.NewFake(t0)
	repo := &racingRepository{MemoryAlertRepository: repository.NewMemoryAlertRepository()}
	notifier := &fakeNotifier{clock: clk}
	mgr := NewManager(repo, notifier, nil, clk, nil, zap.NewNop())
	t.Cleanup(mgr.Close)
	ctx := context.Background()

	ackDone := make(chan error, 1)
	repo.onCreate = func(alertID string) {
		go func() {
			_, err := mgr.Acknowledge(ctx, alertID, "nurse-1")
			ackDone <- err
		}()
		time.Sleep(20 * time.Millisecond)
	}

	d := models.AlertDecision{
		Kind:      models.DecisionRaise,
		TenantID:  "tenant-1",
		Subject:   models.SubjectRef{Type: models.SubjectResident, ID: "resident-1"},
		AlertType: models.AlertTypeFall,
		Level:     models.LevelL1,
		Timestamp: t0,
		Policy:    models.DefaultPolicy("tenant-1"),
	}
	res, err := mgr.Create(ctx, d)
	require.NoError(t, err)
	require.NoError(t, <-ackDone)

	stored, err := repo.GetAlert(ctx, res.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAcknowledged, stored.Status)
	require.NotNil(t, stored.LastDispatchAt)
	assert.Len(t, stored.ChannelDispatchAt, 3)
	assert.Equal(t, 3, stored.Version)
}

func TestPruneRateLimits_DropsExpiredKeys(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.mgr.Create(ctx, f.decision(models.AlertTypeFall, models.LevelL1))
	require.NoError(t, err)
	assert.Equal(t, 1, f.mgr.limiter.Len())

	assert.Equal(t, 0, f.mgr.PruneRateLimits())
	f.clock.Advance(61 * time.Minute)
	assert.Equal(t, 1, f.mgr.PruneRateLimits())
	assert.Equal(t, 0, f.mgr.limiter.Len())
}
