package alerts

import (
	"fmt"
	"strings"
	"time"

	"clawkeeper/internal/logger"
	"clawkeeper/internal/metrics"
	"clawkeeper/internal/models"
	"clawkeeper/internal/notify"
	"clawkeeper/internal/storage"
)

// RateLimitWindow suppresses a rule that already fired within the window.
// The AlertEvent row is the marker: no event recorded means no suppression.
const RateLimitWindow = time.Hour

// Evaluator runs an organization's enabled alert rules against each newly
// persisted scan. Like the event engine it is best-effort: evaluation
// failures are logged and never surface to the ingest caller.
type Evaluator struct {
	store      storage.Storage
	dispatcher *notify.Dispatcher
	now        func() time.Time
}

// NewEvaluator creates an alert evaluator
func NewEvaluator(store storage.Storage, dispatcher *notify.Dispatcher) *Evaluator {
	return &Evaluator{store: store, dispatcher: dispatcher, now: time.Now}
}

// Evaluate runs every enabled rule for the scan's organization. A rule that
// matches and is not rate-limited records an AlertEvent and dispatches
// notifications.
func (e *Evaluator) Evaluate(host *models.Host, scan *models.Scan, payload *models.ScanPayload) {
	rules, err := e.store.ListEnabledAlertRules(scan.OrgID)
	if err != nil {
		logger.WithOrg(scan.OrgID).Error().Err(err).Msg("Failed to load alert rules")
		return
	}
	if len(rules) == 0 {
		return
	}

	// Loaded once, shared by all matching rules
	prev, err := e.store.GetPreviousScan(host.ID, scan.ID)
	if err != nil && err != storage.ErrNotFound {
		logger.WithHost(scan.OrgID, host.ID).Error().Err(err).
			Msg("Failed to load previous scan for alert evaluation")
		return
	}

	for _, rule := range rules {
		message, matched := e.match(rule, host, scan, payload, prev)
		if !matched {
			continue
		}
		e.fire(rule, host, scan, message)
	}
}

// match evaluates one rule against the scan and returns the alert message
// when the rule's condition holds.
func (e *Evaluator) match(rule *models.AlertRule, host *models.Host, scan *models.Scan, payload *models.ScanPayload, prev *models.Scan) (string, bool) {
	switch rule.RuleType {
	case models.RuleGradeDrop:
		if prev == nil || !models.GradeWorse(scan.Grade, prev.Grade) {
			return "", false
		}
		return fmt.Sprintf("Grade on %s dropped from %s to %s", host.Hostname, prev.Grade, scan.Grade), true

	case models.RuleScoreBelow:
		if scan.Score >= rule.Config.Threshold {
			return "", false
		}
		return fmt.Sprintf("Score on %s is %d, below threshold %d", host.Hostname, scan.Score, rule.Config.Threshold), true

	case models.RuleCheckFail:
		needle := strings.ToLower(rule.Config.CheckName)
		if needle == "" {
			return "", false
		}
		for _, check := range payload.Checks {
			if check.Status != models.CheckStatusFail {
				continue
			}
			if strings.Contains(strings.ToLower(check.CheckName), needle) {
				return fmt.Sprintf("Check %q failed on %s", check.CheckName, host.Hostname), true
			}
		}
		return "", false

	default:
		logger.WithOrg(rule.OrgID).Warn().
			Str("rule_id", rule.ID).
			Str("rule_type", rule.RuleType).
			Msg("Skipping alert rule with unknown type")
		return "", false
	}
}

// fire records the alert event and dispatches notifications, unless the rule
// already fired inside the rate-limit window.
func (e *Evaluator) fire(rule *models.AlertRule, host *models.Host, scan *models.Scan, message string) {
	since := e.now().Add(-RateLimitWindow)
	recent, err := e.store.CountAlertEventsSince(rule.ID, since)
	if err != nil {
		logger.WithOrg(rule.OrgID).Error().Err(err).
			Str("rule_id", rule.ID).
			Msg("Failed to check alert rate limit")
		return
	}
	if recent > 0 {
		logger.WithOrg(rule.OrgID).Debug().
			Str("rule_id", rule.ID).
			Msg("Alert suppressed by rate limit")
		return
	}

	event := &models.AlertEvent{
		OrgID:      rule.OrgID,
		RuleID:     rule.ID,
		HostID:     host.ID,
		ScanID:     scan.ID,
		Message:    message,
		NotifiedAt: e.now().UTC(),
	}
	if err := e.store.CreateAlertEvent(event); err != nil {
		logger.WithOrg(rule.OrgID).Error().Err(err).
			Str("rule_id", rule.ID).
			Msg("Failed to record alert event")
		return
	}

	metrics.AlertEventsTotal.WithLabelValues(rule.RuleType).Inc()
	logger.WithHost(rule.OrgID, host.ID).Info().
		Str("rule_id", rule.ID).
		Str("rule_type", rule.RuleType).
		Str("message", message).
		Msg("Alert rule fired")

	e.notifyChannels(rule, host, message)
}

// notifyChannels delivers the alert over the organization's configured
// channels. Missing settings simply mean no channels.
func (e *Evaluator) notifyChannels(rule *models.AlertRule, host *models.Host, message string) {
	if e.dispatcher == nil {
		return
	}

	settings, err := e.store.GetNotificationSettings(rule.OrgID)
	if err != nil {
		if err != storage.ErrNotFound {
			logger.WithOrg(rule.OrgID).Error().Err(err).Msg("Failed to load notification settings")
		}
		return
	}

	e.dispatcher.Dispatch(rule.OrgID, settings, &notify.Message{
		Event:       "alert." + rule.RuleType,
		Severity:    severityFor(rule.RuleType),
		Title:       rule.Name,
		Description: message,
		Hostname:    host.Hostname,
		Metadata:    map[string]string{"rule_id": rule.ID, "host_id": host.ID},
		Timestamp:   e.now().UTC(),
	})
}

func severityFor(ruleType string) string {
	switch ruleType {
	case models.RuleGradeDrop, models.RuleCheckFail:
		return models.SeverityHigh
	default:
		return models.SeverityMedium
	}
}
