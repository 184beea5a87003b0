package ingest

import (
	"clawkeeper/internal/alerts"
	"clawkeeper/internal/credits"
	"clawkeeper/internal/events"
	"clawkeeper/internal/insights"
	"clawkeeper/internal/logger"
	"clawkeeper/internal/metrics"
	"clawkeeper/internal/models"
	"clawkeeper/internal/report"
	"clawkeeper/internal/storage"
)

// Service is the scan ingestion pipeline: credit gate, payload validation,
// host resolution, scan persistence, then asynchronous side effects. Only
// the persistence of the scan and host is on the caller's success path.
type Service struct {
	store    storage.Storage
	ledger   *credits.Ledger
	events   *events.Engine
	alerts   *alerts.Evaluator
	insights *insights.Analyzer

	async bool
}

// Option configures a Service
type Option func(*Service)

// WithSynchronousSideEffects runs diffing, alerting, and insight analysis
// inline instead of in a detached goroutine. Used by tests and batch tools
// that need side effects completed before returning.
func WithSynchronousSideEffects() Option {
	return func(s *Service) { s.async = false }
}

// NewService wires an ingestion pipeline
func NewService(store storage.Storage, ledger *credits.Ledger, eventEngine *events.Engine, evaluator *alerts.Evaluator, analyzer *insights.Analyzer, opts ...Option) *Service {
	s := &Service{
		store:    store,
		ledger:   ledger,
		events:   eventEngine,
		alerts:   evaluator,
		insights: analyzer,
		async:    true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest processes one uploaded scan report for an authenticated
// organization. On success the scan and host are durably committed; audit
// events, alerts, and insights are produced afterwards and cannot fail the
// call. Error types map to the HTTP boundary: report.ValidationError and
// QuotaExceededError are client errors, PersistenceError is a server error.
func (s *Service) Ingest(orgID string, raw []byte) (*models.IngestResponse, error) {
	remaining, err := s.ledger.CheckAndDeduct(orgID)
	if err != nil {
		if err == credits.ErrInsufficientCredits {
			metrics.CreditsDeniedTotal.WithLabelValues(orgID).Inc()
			metrics.ScansRejectedTotal.WithLabelValues("credits").Inc()
			return nil, &QuotaExceededError{Kind: QuotaCredits, Reason: "monthly scan credits exhausted"}
		}
		return nil, &PersistenceError{Op: "credit check", Err: err}
	}

	payload, err := report.Validate(raw)
	if err != nil {
		metrics.ScansRejectedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	host, newHost, err := s.resolveHost(orgID, payload)
	if err != nil {
		if _, ok := err.(*QuotaExceededError); ok {
			metrics.ScansRejectedTotal.WithLabelValues("host_limit").Inc()
		}
		return nil, err
	}

	scan := &models.Scan{
		HostID:    host.ID,
		OrgID:     orgID,
		Score:     payload.Score,
		Grade:     payload.Grade,
		Passed:    payload.Passed,
		Failed:    payload.Failed,
		Fixed:     payload.Fixed,
		Skipped:   payload.Skipped,
		RawReport: payload.RawReport,
		ScannedAt: payload.ScannedAt,
	}
	if err := s.store.CreateScan(scan); err != nil {
		return nil, &PersistenceError{Op: "scan insert", Err: err}
	}

	// Checks are advisory: a scan that persisted without them is a partial
	// success, not a failure.
	if err := s.store.InsertChecks(scan.ID, payload.Checks); err != nil {
		logger.WithHost(orgID, host.ID).Error().Err(err).
			Str("scan_id", scan.ID).
			Msg("Failed to insert scan checks, scan persisted without them")
	}

	s.updateHostSummary(host, scan, payload)

	metrics.ScansIngestedTotal.WithLabelValues(orgID).Inc()
	logger.WithHost(orgID, host.ID).Info().
		Str("scan_id", scan.ID).
		Str("grade", scan.Grade).
		Int("score", scan.Score).
		Int("credits_remaining", remaining).
		Bool("new_host", newHost).
		Msg("Scan ingested")

	if s.async {
		go s.runSideEffects(host, scan, payload, newHost)
	} else {
		s.runSideEffects(host, scan, payload, newHost)
	}

	return &models.IngestResponse{OK: true, HostID: host.ID, ScanID: scan.ID}, nil
}

// resolveHost maps (org, hostname) to a host row, creating it when absent.
// Creation is quota-gated by the plan's host limit. Two concurrent uploads
// for an unseen hostname race on the unique constraint: the loser falls back
// to the row the winner created.
func (s *Service) resolveHost(orgID string, payload *models.ScanPayload) (*models.Host, bool, error) {
	host, err := s.store.GetHostByHostname(orgID, payload.Hostname)
	if err == nil {
		return host, false, nil
	}
	if err != storage.ErrNotFound {
		return nil, false, &PersistenceError{Op: "host lookup", Err: err}
	}

	org, err := s.store.GetOrganizationByID(orgID)
	if err != nil {
		return nil, false, &PersistenceError{Op: "organization lookup", Err: err}
	}

	count, err := s.store.CountHosts(orgID)
	if err != nil {
		return nil, false, &PersistenceError{Op: "host count", Err: err}
	}
	if !org.Plan.CanAddHost(count) {
		return nil, false, &QuotaExceededError{Kind: QuotaHosts, Reason: "host limit reached for plan"}
	}

	host = &models.Host{
		OrgID:        orgID,
		Hostname:     payload.Hostname,
		Platform:     payload.Platform,
		OSVersion:    payload.OSVersion,
		AgentVersion: payload.AgentVersion,
	}
	err = s.store.CreateHost(host)
	if err == nil {
		return host, true, nil
	}
	if err != storage.ErrConflict {
		return nil, false, &PersistenceError{Op: "host create", Err: err}
	}

	// Lost the creation race, the host exists now
	host, err = s.store.GetHostByHostname(orgID, payload.Hostname)
	if err != nil {
		return nil, false, &PersistenceError{Op: "host lookup after conflict", Err: err}
	}
	return host, false, nil
}

// updateHostSummary overwrites the host's denormalized last-scan fields.
// Last-write-wins; failures are logged, the scan itself is already durable.
func (s *Service) updateHostSummary(host *models.Host, scan *models.Scan, payload *models.ScanPayload) {
	host.Platform = payload.Platform
	host.OSVersion = payload.OSVersion
	host.AgentVersion = payload.AgentVersion
	host.LastGrade = scan.Grade
	host.LastScore = scan.Score
	host.LastScanAt = scan.ScannedAt

	if err := s.store.UpdateHostScanSummary(host); err != nil {
		logger.WithHost(scan.OrgID, host.ID).Error().Err(err).
			Msg("Failed to update host scan summary")
	}
}

// runSideEffects drives the best-effort consumers of a persisted scan.
// A panic in any of them must not escape past this boundary.
func (s *Service) runSideEffects(host *models.Host, scan *models.Scan, payload *models.ScanPayload, newHost bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithHost(scan.OrgID, host.ID).Error().
				Interface("panic", r).
				Str("scan_id", scan.ID).
				Msg("Panic in scan side effects")
		}
	}()

	if s.events != nil {
		s.events.RecordScanEvents(host, scan, payload, newHost)
	}
	if s.alerts != nil {
		s.alerts.Evaluate(host, scan, payload)
	}
	if s.insights != nil {
		s.insights.AnalyzeScan(host, scan, payload)
	}
}
