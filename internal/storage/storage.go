package storage

import (
	"errors"
	"time"

	"clawkeeper/internal/models"
)

var (
	// ErrNotFound is returned when a requested resource is not found
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an insert loses a uniqueness race
	// (e.g. two concurrent first-sightings of the same hostname)
	ErrConflict = errors.New("conflict")
)

// Storage defines the persistence interface for the ingestion pipeline and
// its read plumbing. All queries are scoped by organization.
type Storage interface {
	// Organization methods
	CreateOrganization(name, ownerEmail string, plan models.Plan) (*models.Organization, error)
	GetOrganizationByID(orgID string) (*models.Organization, error)

	// UpdateOrganizationPlan changes the plan and overwrites the credit
	// fields. Used by the billing-webhook collaborator on plan changes.
	UpdateOrganizationPlan(orgID string, plan models.Plan, balance, cap int) error

	// RefillCredits persists a refreshed balance only if the row's
	// credits_last_refill_at still equals prevRefillAt. Returns false when
	// another writer refilled first; callers must reload and not retry the
	// refill.
	RefillCredits(orgID string, balance, cap int, refillAt, prevRefillAt time.Time) (bool, error)

	// DeductCredit atomically decrements the balance when it is positive.
	// Returns the new balance and whether the deduction happened. Two
	// concurrent calls at balance=1 yield exactly one true.
	DeductCredit(orgID string) (int, bool, error)

	// Host methods
	// CreateHost returns ErrConflict when (org_id, hostname) already exists.
	CreateHost(host *models.Host) error
	GetHostByHostname(orgID, hostname string) (*models.Host, error)
	GetHost(hostID, orgID string) (*models.Host, error)
	// UpdateHostScanSummary overwrites the denormalized last-scan fields,
	// last-write-wins.
	UpdateHostScanSummary(host *models.Host) error
	CountHosts(orgID string) (int, error)
	ListHosts(orgID string) ([]*models.Host, error)
	ListHostsLastScannedBefore(orgID string, cutoff time.Time) ([]*models.Host, error)
	DeleteHost(hostID, orgID string) error

	// Scan methods
	CreateScan(scan *models.Scan) error
	// InsertChecks bulk-inserts the check rows of one scan.
	InsertChecks(scanID string, checks []models.CheckPayload) error
	// GetPreviousScan returns the host's most recent scan by scanned_at,
	// excluding excludeScanID. ErrNotFound when the host has no prior scan.
	GetPreviousScan(hostID, excludeScanID string) (*models.Scan, error)
	// GetScanAsOf returns the host's most recent scan with scanned_at at or
	// before the cutoff. ErrNotFound when none exists.
	GetScanAsOf(hostID string, cutoff time.Time) (*models.Scan, error)
	ListScans(hostID, orgID string, limit int) ([]*models.Scan, error)
	GetChecks(scanID string) ([]*models.Check, error)

	// Alert rule methods
	CreateAlertRule(rule *models.AlertRule) error
	UpdateAlertRule(rule *models.AlertRule) error
	DeleteAlertRule(ruleID, orgID string) error
	ListAlertRules(orgID string) ([]*models.AlertRule, error)
	ListEnabledAlertRules(orgID string) ([]*models.AlertRule, error)

	// Alert event methods
	CreateAlertEvent(event *models.AlertEvent) error
	// CountAlertEventsSince counts firings of one rule with notified_at at
	// or after since. This is the notification rate-limit window check.
	CountAlertEventsSince(ruleID string, since time.Time) (int, error)
	ListAlertEvents(orgID string, limit int) ([]*models.AlertEvent, error)

	// Audit event methods
	CreateEvent(event *models.Event) error
	ListEvents(orgID, eventType string, limit int) ([]*models.Event, error)

	// Insight methods
	// FindOpenInsight looks up the unresolved insight keyed by
	// (org, insight_type, check_name); checkName may be empty.
	FindOpenInsight(orgID, insightType, checkName string) (*models.Insight, error)
	CreateInsight(insight *models.Insight) error
	UpdateInsight(insight *models.Insight) error
	ListOpenInsights(orgID string) ([]*models.Insight, error)
	ListInsights(orgID string, includeResolved bool, limit int) ([]*models.Insight, error)
	CountInsightsSince(orgID, insightType string, since time.Time) (int, error)

	// Notification settings methods
	GetNotificationSettings(orgID string) (*models.NotificationSettings, error)
	UpsertNotificationSettings(settings *models.NotificationSettings) error

	// API key methods
	CreateAPIKey(orgID, keyHash, keyPrefix, name string) (*models.APIKey, error)
	GetAPIKeysByPrefix(keyPrefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(keyID string) error

	// Close closes the database connection
	Close() error
}
