package insights

import (
	"fmt"
	"strings"
	"time"

	"clawkeeper/internal/logger"
	"clawkeeper/internal/models"
	"clawkeeper/internal/notify"
	"clawkeeper/internal/storage"
)

const (
	// NotifyWindow limits insight notifications to one per type per window,
	// counted over insight creation times.
	NotifyWindow = time.Hour

	// StaleThreshold is how long a host may go without a scan before the
	// stale host analyzer flags it.
	StaleThreshold = 3 * 24 * time.Hour

	// StaleSevereAfter is the staleness at which a stale host insight is
	// raised from low to medium severity.
	StaleSevereAfter = 7 * 24 * time.Hour

	// GradeBaselineWindow is how far back grade degradation looks for its
	// comparison scan. The baseline is the most recent scan at least this
	// old, so short-lived dips within the window do not trigger.
	GradeBaselineWindow = 7 * 24 * time.Hour
)

// criticalKeywords mark a failing check as a critical finding. Matched
// case-insensitively against the check name.
var criticalKeywords = []string{
	"firewall",
	"root login",
	"disk encryption",
	"automatic updates",
	"antivirus",
}

// Analyzer turns scan results into deduplicated, self-resolving findings.
// While open, an insight is keyed by (org, type, check name) and accumulates
// affected hosts; when the underlying condition clears it resolves itself.
type Analyzer struct {
	store      storage.Storage
	dispatcher *notify.Dispatcher
	now        func() time.Time
}

// NewAnalyzer creates an insight analyzer
func NewAnalyzer(store storage.Storage, dispatcher *notify.Dispatcher) *Analyzer {
	return &Analyzer{store: store, dispatcher: dispatcher, now: time.Now}
}

// AnalyzeScan runs all per-scan analyzers for a freshly persisted scan, then
// resolves open insights this scan has cleared. Best-effort throughout.
func (a *Analyzer) AnalyzeScan(host *models.Host, scan *models.Scan, payload *models.ScanPayload) {
	prev, err := a.store.GetPreviousScan(host.ID, scan.ID)
	if err != nil && err != storage.ErrNotFound {
		logger.WithHost(scan.OrgID, host.ID).Error().Err(err).
			Msg("Failed to load previous scan for insight analysis")
		return
	}

	a.criticalFailures(host, scan, payload)
	a.newRegressions(host, scan, payload, prev)
	a.gradeDegradation(host, scan)
	a.resolveCleared(host, scan, payload)
}

// AnalyzeStaleHosts flags hosts that have not reported a scan within the
// stale threshold. Intended to be invoked periodically per organization.
func (a *Analyzer) AnalyzeStaleHosts(orgID string) {
	cutoff := a.now().Add(-StaleThreshold)
	stale, err := a.store.ListHostsLastScannedBefore(orgID, cutoff)
	if err != nil {
		logger.WithOrg(orgID).Error().Err(err).Msg("Failed to list stale hosts")
		return
	}

	for _, host := range stale {
		severity := models.SeverityLow
		if a.now().Sub(host.LastScanAt) >= StaleSevereAfter {
			severity = models.SeverityMedium
		}

		a.upsert(&models.Insight{
			OrgID:       orgID,
			InsightType: models.InsightStaleHost,
			Severity:    severity,
			Title:       "Host not reporting",
			Description: fmt.Sprintf("Host %s has not reported a scan since %s", host.Hostname, host.LastScanAt.Format(time.RFC3339)),
			Remediation: "Verify the agent is installed and running on the host",
		}, &models.AffectedHost{
			HostID:   host.ID,
			Hostname: host.Hostname,
			Detail:   fmt.Sprintf("last scan %s", host.LastScanAt.Format(time.RFC3339)),
		}, "")
	}
}

// criticalFailures flags failing checks whose names match the critical
// keyword list.
func (a *Analyzer) criticalFailures(host *models.Host, scan *models.Scan, payload *models.ScanPayload) {
	for _, check := range payload.Checks {
		if check.Status != models.CheckStatusFail || !isCritical(check.CheckName) {
			continue
		}

		a.upsert(&models.Insight{
			OrgID:       scan.OrgID,
			InsightType: models.InsightCriticalFailure,
			Severity:    models.SeverityCritical,
			Title:       fmt.Sprintf("Critical check failing: %s", check.CheckName),
			Description: fmt.Sprintf("The check %q is failing", check.CheckName),
			Remediation: remediationFor(check),
			CheckName:   check.CheckName,
		}, &models.AffectedHost{
			HostID:   host.ID,
			Hostname: host.Hostname,
			Detail:   check.Detail,
		}, scan.ID)
	}
}

// newRegressions flags checks that passed on the previous scan and fail now.
func (a *Analyzer) newRegressions(host *models.Host, scan *models.Scan, payload *models.ScanPayload, prev *models.Scan) {
	if prev == nil {
		return
	}

	prevChecks, err := a.store.GetChecks(prev.ID)
	if err != nil {
		logger.WithHost(scan.OrgID, host.ID).Error().Err(err).
			Msg("Failed to load previous checks for regression analysis")
		return
	}

	passedBefore := make(map[string]bool, len(prevChecks))
	for _, check := range prevChecks {
		if check.Status == models.CheckStatusPass || check.Status == models.CheckStatusFixed {
			passedBefore[check.CheckName] = true
		}
	}

	for _, check := range payload.Checks {
		if check.Status != models.CheckStatusFail || !passedBefore[check.CheckName] {
			continue
		}

		a.upsert(&models.Insight{
			OrgID:       scan.OrgID,
			InsightType: models.InsightNewRegression,
			Severity:    models.SeverityHigh,
			Title:       fmt.Sprintf("Regression: %s", check.CheckName),
			Description: fmt.Sprintf("The check %q passed on the previous scan and is now failing", check.CheckName),
			Remediation: remediationFor(check),
			CheckName:   check.CheckName,
		}, &models.AffectedHost{
			HostID:   host.ID,
			Hostname: host.Hostname,
			Detail:   check.Detail,
		}, scan.ID)
	}
}

// gradeDegradation flags a host whose letter grade is worse than its
// baseline, the most recent scan at least a week old. Hosts without a scan
// that old have no baseline and are skipped.
func (a *Analyzer) gradeDegradation(host *models.Host, scan *models.Scan) {
	baseline, err := a.store.GetScanAsOf(host.ID, a.now().Add(-GradeBaselineWindow))
	if err != nil {
		if err != storage.ErrNotFound {
			logger.WithHost(scan.OrgID, host.ID).Error().Err(err).
				Msg("Failed to load baseline scan for grade analysis")
		}
		return
	}

	oldIdx := gradeIndex(baseline.Grade)
	newIdx := gradeIndex(scan.Grade)
	if oldIdx < 0 || newIdx <= oldIdx {
		return
	}

	severity := models.SeverityMedium
	if newIdx-oldIdx >= 2 {
		severity = models.SeverityHigh
	}

	a.upsert(&models.Insight{
		OrgID:       scan.OrgID,
		InsightType: models.InsightGradeDegradation,
		Severity:    severity,
		Title:       "Security grade degraded",
		Description: fmt.Sprintf("Host %s dropped from grade %s to %s over the last 7 days", host.Hostname, baseline.Grade, scan.Grade),
		Remediation: "Review the failing checks introduced since the previous scan",
	}, &models.AffectedHost{
		HostID:   host.ID,
		Hostname: host.Hostname,
		Detail:   fmt.Sprintf("grade %s, score %d", scan.Grade, scan.Score),
	}, scan.ID)
}

// resolveCleared removes this host from open insights whose condition no
// longer holds, resolving any insight left with no affected hosts.
func (a *Analyzer) resolveCleared(host *models.Host, scan *models.Scan, payload *models.ScanPayload) {
	open, err := a.store.ListOpenInsights(scan.OrgID)
	if err != nil {
		logger.WithOrg(scan.OrgID).Error().Err(err).Msg("Failed to list open insights")
		return
	}

	status := make(map[string]string, len(payload.Checks))
	for _, check := range payload.Checks {
		status[check.CheckName] = check.Status
	}

	for _, insight := range open {
		if !a.clearedFor(insight, scan, status) {
			continue
		}
		a.removeHost(insight, host.ID)
	}
}

// clearedFor reports whether this scan clears the insight's condition for
// the scanned host.
func (a *Analyzer) clearedFor(insight *models.Insight, scan *models.Scan, checkStatus map[string]string) bool {
	switch insight.InsightType {
	case models.InsightCriticalFailure, models.InsightNewRegression:
		s, reported := checkStatus[insight.CheckName]
		return reported && s != models.CheckStatusFail

	case models.InsightGradeDegradation:
		if scan.Grade == "A" {
			return true
		}
		baseline, err := a.store.GetScanAsOf(scan.HostID, a.now().Add(-GradeBaselineWindow))
		if err != nil {
			return false
		}
		return !models.GradeWorse(scan.Grade, baseline.Grade)

	case models.InsightStaleHost:
		// The host just reported
		return true

	default:
		return false
	}
}

// removeHost drops one host from an insight's affected list and resolves the
// insight when the list empties.
func (a *Analyzer) removeHost(insight *models.Insight, hostID string) {
	remaining := insight.AffectedHosts[:0]
	removed := false
	for _, affected := range insight.AffectedHosts {
		if affected.HostID == hostID {
			removed = true
			continue
		}
		remaining = append(remaining, affected)
	}
	if !removed {
		return
	}

	insight.AffectedHosts = remaining
	if len(remaining) == 0 {
		now := a.now().UTC()
		insight.IsResolved = true
		insight.ResolvedAt = &now
	}

	if err := a.store.UpdateInsight(insight); err != nil {
		logger.WithOrg(insight.OrgID).Error().Err(err).
			Str("insight_id", insight.ID).
			Msg("Failed to update insight")
		return
	}

	if insight.IsResolved {
		logger.WithOrg(insight.OrgID).Info().
			Str("insight_id", insight.ID).
			Str("insight_type", insight.InsightType).
			Msg("Insight resolved")
	}
}

// upsert creates the insight or folds the affected host into an existing
// open one with the same (type, check name) key.
func (a *Analyzer) upsert(insight *models.Insight, affected *models.AffectedHost, scanID string) {
	existing, err := a.store.FindOpenInsight(insight.OrgID, insight.InsightType, insight.CheckName)
	if err != nil && err != storage.ErrNotFound {
		logger.WithOrg(insight.OrgID).Error().Err(err).Msg("Failed to look up open insight")
		return
	}

	if existing != nil {
		for i, known := range existing.AffectedHosts {
			if known.HostID == affected.HostID {
				existing.AffectedHosts[i].Detail = affected.Detail
				existing.ScanID = scanID
				if err := a.store.UpdateInsight(existing); err != nil {
					logger.WithOrg(insight.OrgID).Error().Err(err).Msg("Failed to update insight")
				}
				return
			}
		}

		existing.AffectedHosts = append(existing.AffectedHosts, *affected)
		existing.ScanID = scanID
		if err := a.store.UpdateInsight(existing); err != nil {
			logger.WithOrg(insight.OrgID).Error().Err(err).Msg("Failed to update insight")
		}
		return
	}

	insight.AffectedHosts = []models.AffectedHost{*affected}
	insight.ScanID = scanID
	if err := a.store.CreateInsight(insight); err != nil {
		logger.WithOrg(insight.OrgID).Error().Err(err).Msg("Failed to create insight")
		return
	}

	logger.WithOrg(insight.OrgID).Info().
		Str("insight_id", insight.ID).
		Str("insight_type", insight.InsightType).
		Str("severity", insight.Severity).
		Msg("Insight created")

	a.maybeNotify(insight)
}

// maybeNotify dispatches a notification for a newly created insight, at most
// one per insight type per window.
func (a *Analyzer) maybeNotify(insight *models.Insight) {
	if a.dispatcher == nil {
		return
	}

	since := a.now().Add(-NotifyWindow)
	count, err := a.store.CountInsightsSince(insight.OrgID, insight.InsightType, since)
	if err != nil {
		logger.WithOrg(insight.OrgID).Error().Err(err).Msg("Failed to check insight notify limit")
		return
	}
	// The freshly created insight is included in the count
	if count > 1 {
		return
	}

	settings, err := a.store.GetNotificationSettings(insight.OrgID)
	if err != nil {
		if err != storage.ErrNotFound {
			logger.WithOrg(insight.OrgID).Error().Err(err).Msg("Failed to load notification settings")
		}
		return
	}
	if insight.Severity == models.SeverityCritical && !settings.NotifyOnCritical {
		return
	}

	hostname := ""
	if len(insight.AffectedHosts) > 0 {
		hostname = insight.AffectedHosts[0].Hostname
	}

	a.dispatcher.Dispatch(insight.OrgID, settings, &notify.Message{
		Event:       "insight." + insight.InsightType,
		Severity:    insight.Severity,
		Title:       insight.Title,
		Description: insight.Description,
		Remediation: insight.Remediation,
		Hostname:    hostname,
		Timestamp:   a.now().UTC(),
	})
}

func gradeIndex(g string) int {
	for i, v := range models.ValidGrades {
		if g == v {
			return i
		}
	}
	return -1
}

func isCritical(checkName string) bool {
	lowered := strings.ToLower(checkName)
	for _, keyword := range criticalKeywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}

func remediationFor(check models.CheckPayload) string {
	if check.Detail != "" {
		return check.Detail
	}
	return fmt.Sprintf("Investigate and fix the failing check %q", check.CheckName)
}
