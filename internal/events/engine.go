package events

import (
	"encoding/json"
	"fmt"

	"clawkeeper/internal/logger"
	"clawkeeper/internal/metrics"
	"clawkeeper/internal/models"
	"clawkeeper/internal/storage"
)

// Engine derives audit trail events from a freshly persisted scan. It is
// best-effort side-effect machinery: every failure is logged and swallowed,
// the scan that triggered it is already durable and must not be affected.
type Engine struct {
	store storage.Storage
}

// NewEngine creates an event engine backed by the given storage
func NewEngine(store storage.Storage) *Engine {
	return &Engine{store: store}
}

// RecordScanEvents writes the audit events for one persisted scan:
// host.registered when the upload created the host, scan.completed always,
// grade.changed when the letter grade moved, and one check.flipped per check
// whose status differs from the previous scan. Never returns an error.
func (e *Engine) RecordScanEvents(host *models.Host, scan *models.Scan, payload *models.ScanPayload, newHost bool) {
	if newHost {
		e.emit(&models.Event{
			OrgID:     scan.OrgID,
			HostID:    host.ID,
			EventType: models.EventHostRegistered,
			Title:     fmt.Sprintf("Host %s registered", host.Hostname),
			Detail:    detailJSON(map[string]interface{}{"hostname": host.Hostname, "platform": host.Platform}),
			Actor:     models.ActorAgent,
		})
	}

	e.emit(&models.Event{
		OrgID:     scan.OrgID,
		HostID:    host.ID,
		EventType: models.EventScanCompleted,
		Title:     fmt.Sprintf("Scan completed on %s: grade %s, score %d", host.Hostname, scan.Grade, scan.Score),
		Detail: detailJSON(map[string]interface{}{
			"scan_id": scan.ID,
			"grade":   scan.Grade,
			"score":   scan.Score,
			"passed":  scan.Passed,
			"failed":  scan.Failed,
		}),
		Actor: models.ActorAgent,
	})

	// A brand-new host has no history to diff against
	if newHost {
		return
	}

	prev, err := e.store.GetPreviousScan(host.ID, scan.ID)
	if err != nil {
		if err != storage.ErrNotFound {
			logger.WithHost(scan.OrgID, host.ID).Error().Err(err).
				Msg("Failed to load previous scan for event diff")
		}
		// First scan for this host, nothing to diff against
		return
	}

	if prev.Grade != scan.Grade {
		e.emit(&models.Event{
			OrgID:     scan.OrgID,
			HostID:    host.ID,
			EventType: models.EventGradeChanged,
			Title:     fmt.Sprintf("Grade changed from %s to %s on %s", prev.Grade, scan.Grade, host.Hostname),
			Detail: detailJSON(map[string]interface{}{
				"scan_id": scan.ID,
				"from":    prev.Grade,
				"to":      scan.Grade,
			}),
			Actor: models.ActorSystem,
		})
	}

	e.diffChecks(host, scan, payload, prev)
}

// diffChecks compares the new scan's checks against the previous scan's by
// check name and emits check.flipped for every status change. Checks present
// in only one of the two scans are not flips.
func (e *Engine) diffChecks(host *models.Host, scan *models.Scan, payload *models.ScanPayload, prev *models.Scan) {
	prevChecks, err := e.store.GetChecks(prev.ID)
	if err != nil {
		logger.WithHost(scan.OrgID, host.ID).Error().Err(err).
			Msg("Failed to load previous checks for event diff")
		return
	}

	prevStatus := make(map[string]string, len(prevChecks))
	for _, check := range prevChecks {
		prevStatus[check.CheckName] = check.Status
	}

	for _, check := range payload.Checks {
		before, seen := prevStatus[check.CheckName]
		if !seen || before == check.Status {
			continue
		}

		e.emit(&models.Event{
			OrgID:     scan.OrgID,
			HostID:    host.ID,
			EventType: models.EventCheckFlipped,
			Title:     fmt.Sprintf("Check %q flipped from %s to %s on %s", check.CheckName, before, check.Status, host.Hostname),
			Detail: detailJSON(map[string]interface{}{
				"scan_id":    scan.ID,
				"check_name": check.CheckName,
				"from":       before,
				"to":         check.Status,
			}),
			Actor: models.ActorSystem,
		})
	}
}

// emit writes one event, logging and swallowing any storage failure.
func (e *Engine) emit(event *models.Event) {
	if err := e.store.CreateEvent(event); err != nil {
		logger.WithOrg(event.OrgID).Error().Err(err).
			Str("event_type", event.EventType).
			Msg("Failed to record audit event")
		return
	}
	metrics.AuditEventsTotal.WithLabelValues(event.EventType).Inc()
}

func detailJSON(fields map[string]interface{}) json.RawMessage {
	raw, err := json.Marshal(fields)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
