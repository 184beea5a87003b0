package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clawkeeper/internal/models"
	"clawkeeper/internal/storage"
)

type fixture struct {
	store     *storage.MockStorage
	evaluator *Evaluator
	org       *models.Organization
	host      *models.Host
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := storage.NewMockStorage()
	org, err := store.CreateOrganization("acme", "owner@acme.test", models.PlanPro)
	require.NoError(t, err)

	host := &models.Host{OrgID: org.ID, Hostname: "web-01"}
	require.NoError(t, store.CreateHost(host))

	return &fixture{
		store:     store,
		evaluator: NewEvaluator(store, nil),
		org:       org,
		host:      host,
	}
}

func (f *fixture) addRule(t *testing.T, ruleType string, config models.AlertRuleConfig) *models.AlertRule {
	t.Helper()

	rule := &models.AlertRule{
		OrgID:    f.org.ID,
		Name:     "test rule",
		RuleType: ruleType,
		Config:   config,
		Enabled:  true,
	}
	require.NoError(t, f.store.CreateAlertRule(rule))
	return rule
}

func (f *fixture) addScan(t *testing.T, grade string, score int, scannedAt time.Time) *models.Scan {
	t.Helper()

	scan := &models.Scan{
		HostID:    f.host.ID,
		OrgID:     f.org.ID,
		Grade:     grade,
		Score:     score,
		ScannedAt: scannedAt,
	}
	require.NoError(t, f.store.CreateScan(scan))
	return scan
}

func (f *fixture) events(t *testing.T) []*models.AlertEvent {
	t.Helper()
	events, err := f.store.ListAlertEvents(f.org.ID, 0)
	require.NoError(t, err)
	return events
}

func TestGradeDropFires(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, models.RuleGradeDrop, models.AlertRuleConfig{})

	f.addScan(t, "B", 85, time.Now().Add(-time.Hour))
	scan := f.addScan(t, "D", 60, time.Now())

	f.evaluator.Evaluate(f.host, scan, &models.ScanPayload{Grade: "D", Score: 60})

	events := f.events(t)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Message, "from B to D")
	assert.Equal(t, scan.ID, events[0].ScanID)
}

func TestGradeDropIgnoresImprovement(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, models.RuleGradeDrop, models.AlertRuleConfig{})

	f.addScan(t, "D", 60, time.Now().Add(-time.Hour))
	scan := f.addScan(t, "B", 85, time.Now())

	f.evaluator.Evaluate(f.host, scan, &models.ScanPayload{Grade: "B", Score: 85})
	assert.Empty(t, f.events(t))
}

func TestGradeDropNeedsPreviousScan(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, models.RuleGradeDrop, models.AlertRuleConfig{})

	scan := f.addScan(t, "F", 10, time.Now())
	f.evaluator.Evaluate(f.host, scan, &models.ScanPayload{Grade: "F", Score: 10})

	// First scan: there is no baseline to drop from
	assert.Empty(t, f.events(t))
}

func TestScoreBelowThreshold(t *testing.T) {
	tests := []struct {
		name      string
		score     int
		threshold int
		wantFire  bool
	}{
		{name: "below threshold fires", score: 59, threshold: 60, wantFire: true},
		{name: "at threshold does not fire", score: 60, threshold: 60, wantFire: false},
		{name: "above threshold does not fire", score: 80, threshold: 60, wantFire: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.addRule(t, models.RuleScoreBelow, models.AlertRuleConfig{Threshold: tt.threshold})

			scan := f.addScan(t, "C", tt.score, time.Now())
			f.evaluator.Evaluate(f.host, scan, &models.ScanPayload{Grade: "C", Score: tt.score})

			if tt.wantFire {
				assert.Len(t, f.events(t), 1)
			} else {
				assert.Empty(t, f.events(t))
			}
		})
	}
}

func TestCheckFailSubstringMatch(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, models.RuleCheckFail, models.AlertRuleConfig{CheckName: "firewall"})

	scan := f.addScan(t, "C", 70, time.Now())
	payload := &models.ScanPayload{
		Grade: "C",
		Score: 70,
		Checks: []models.CheckPayload{
			{Status: models.CheckStatusPass, CheckName: "Firewall enabled"},
			{Status: models.CheckStatusFail, CheckName: "UFW Firewall active"},
		},
	}

	// Case-insensitive substring match against failing checks only
	f.evaluator.Evaluate(f.host, scan, payload)

	events := f.events(t)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Message, "UFW Firewall active")
}

func TestCheckFailNoMatch(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, models.RuleCheckFail, models.AlertRuleConfig{CheckName: "firewall"})

	scan := f.addScan(t, "C", 70, time.Now())
	payload := &models.ScanPayload{
		Grade: "C",
		Score: 70,
		Checks: []models.CheckPayload{
			{Status: models.CheckStatusFail, CheckName: "SSH root login disabled"},
		},
	}

	f.evaluator.Evaluate(f.host, scan, payload)
	assert.Empty(t, f.events(t))
}

func TestCheckFailEmptyCheckNameNeverFires(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, models.RuleCheckFail, models.AlertRuleConfig{})

	scan := f.addScan(t, "C", 70, time.Now())
	payload := &models.ScanPayload{
		Grade: "C",
		Score: 70,
		Checks: []models.CheckPayload{
			{Status: models.CheckStatusFail, CheckName: "Firewall enabled"},
			{Status: models.CheckStatusFail, CheckName: "SSH root login disabled"},
		},
	}

	f.evaluator.Evaluate(f.host, scan, payload)
	assert.Empty(t, f.events(t))
}

func TestDisabledRuleNeverFires(t *testing.T) {
	f := newFixture(t)
	rule := f.addRule(t, models.RuleScoreBelow, models.AlertRuleConfig{Threshold: 100})
	rule.Enabled = false
	require.NoError(t, f.store.UpdateAlertRule(rule))

	scan := f.addScan(t, "F", 10, time.Now())
	f.evaluator.Evaluate(f.host, scan, &models.ScanPayload{Grade: "F", Score: 10})
	assert.Empty(t, f.events(t))
}

func TestRateLimitSuppressesSecondFiring(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, models.RuleScoreBelow, models.AlertRuleConfig{Threshold: 60})

	first := f.addScan(t, "F", 10, time.Now().Add(-time.Minute))
	f.evaluator.Evaluate(f.host, first, &models.ScanPayload{Grade: "F", Score: 10})
	require.Len(t, f.events(t), 1)

	second := f.addScan(t, "F", 12, time.Now())
	f.evaluator.Evaluate(f.host, second, &models.ScanPayload{Grade: "F", Score: 12})

	// Still one: the rule fired less than an hour ago
	assert.Len(t, f.events(t), 1)
}

func TestRateLimitExpires(t *testing.T) {
	f := newFixture(t)
	rule := f.addRule(t, models.RuleScoreBelow, models.AlertRuleConfig{Threshold: 60})

	stale := &models.AlertEvent{
		OrgID:      f.org.ID,
		RuleID:     rule.ID,
		HostID:     f.host.ID,
		ScanID:     "old-scan",
		Message:    "old firing",
		NotifiedAt: time.Now().Add(-2 * time.Hour),
	}
	require.NoError(t, f.store.CreateAlertEvent(stale))

	scan := f.addScan(t, "F", 10, time.Now())
	f.evaluator.Evaluate(f.host, scan, &models.ScanPayload{Grade: "F", Score: 10})

	assert.Len(t, f.events(t), 2)
}

func TestEvaluateIsIndependentPerRule(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, models.RuleScoreBelow, models.AlertRuleConfig{Threshold: 60})
	f.addRule(t, models.RuleGradeDrop, models.AlertRuleConfig{})

	f.addScan(t, "B", 85, time.Now().Add(-time.Hour))
	scan := f.addScan(t, "F", 10, time.Now())

	f.evaluator.Evaluate(f.host, scan, &models.ScanPayload{Grade: "F", Score: 10})

	// Both rules matched the same scan
	assert.Len(t, f.events(t), 2)
}
