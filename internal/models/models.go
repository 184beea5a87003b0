package models

import (
	"encoding/json"
	"time"
)

// Plan identifies an organization's subscription tier
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// Organization represents a tenant. The credit fields are mutated only by the
// credit ledger and by the billing webhook on plan changes.
// @Description Organization entity for multi-tenant support
type Organization struct {
	ID                  string    `json:"id"`   // UUID primary key
	Name                string    `json:"name"` // Organization name
	Plan                Plan      `json:"plan"`
	CreditsBalance      int       `json:"credits_balance"`
	CreditsMonthlyCap   int       `json:"credits_monthly_cap"`
	CreditsLastRefillAt time.Time `json:"credits_last_refill_at"`
	OwnerEmail          string    `json:"owner_email,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Host belongs to exactly one organization, unique on (org_id, hostname).
// The last_* fields are denormalized from the most recent scan and
// overwritten on every upload.
// @Description Monitored host with denormalized last-scan summary
type Host struct {
	ID           string    `json:"id"`
	OrgID        string    `json:"org_id"`
	Hostname     string    `json:"hostname"`
	Platform     string    `json:"platform"`
	OSVersion    string    `json:"os_version"`
	AgentVersion string    `json:"agent_version"`
	LastGrade    string    `json:"last_grade"`
	LastScore    int       `json:"last_score"`
	LastScanAt   time.Time `json:"last_scan_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// Scan is an immutable record of one agent upload.
// @Description Security scan result with aggregate counts
type Scan struct {
	ID        string    `json:"id"`
	HostID    string    `json:"host_id"`
	OrgID     string    `json:"org_id"`
	Score     int       `json:"score"`
	Grade     string    `json:"grade"`
	Passed    int       `json:"passed"`
	Failed    int       `json:"failed"`
	Fixed     int       `json:"fixed"`
	Skipped   int       `json:"skipped"`
	RawReport string    `json:"raw_report,omitempty"`
	ScannedAt time.Time `json:"scanned_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Check statuses as reported by the agent
const (
	CheckStatusPass    = "PASS"
	CheckStatusFail    = "FAIL"
	CheckStatusFixed   = "FIXED"
	CheckStatusSkipped = "SKIPPED"
)

// Check is a single check result within a scan. Checks are append-only and
// compared across consecutive scans by check_name to detect flips.
// @Description Individual check result belonging to one scan
type Check struct {
	ID        string `json:"id"`
	ScanID    string `json:"scan_id"`
	Status    string `json:"status"`
	CheckName string `json:"check_name"`
	Detail    string `json:"detail,omitempty"`
}

// Alert rule types
const (
	RuleGradeDrop  = "grade_drop"
	RuleScoreBelow = "score_below"
	RuleCheckFail  = "check_fail"
)

// AlertRuleConfig is the type-specific configuration blob of an alert rule.
type AlertRuleConfig struct {
	Threshold int    `json:"threshold,omitempty"`  // score_below
	CheckName string `json:"check_name,omitempty"` // check_fail (case-insensitive substring)
}

// AlertRule is a user-defined alerting condition evaluated on every new scan
// for hosts in its organization.
// @Description User-defined alert rule
type AlertRule struct {
	ID        string          `json:"id"`
	OrgID     string          `json:"org_id"`
	Name      string          `json:"name"`
	RuleType  string          `json:"rule_type"`
	Config    AlertRuleConfig `json:"config"`
	Enabled   bool            `json:"enabled"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// AlertEvent records one rule firing for one scan. It doubles as the
// rate-limit window marker: a rule is suppressed while an AlertEvent with
// notified_at inside the window exists.
// @Description Immutable record of an alert rule firing
type AlertEvent struct {
	ID         string    `json:"id"`
	OrgID      string    `json:"org_id"`
	RuleID     string    `json:"alert_rule_id"`
	HostID     string    `json:"host_id"`
	ScanID     string    `json:"scan_id"`
	Message    string    `json:"message"`
	NotifiedAt time.Time `json:"notified_at"`
}

// Audit event types (closed enumeration)
const (
	EventScanCompleted  = "scan.completed"
	EventGradeChanged   = "grade.changed"
	EventCheckFlipped   = "check.flipped"
	EventHostRegistered = "host.registered"
	EventAgentInstalled = "agent.installed"
	EventAgentStarted   = "agent.started"
	EventAgentStopped   = "agent.stopped"
	EventAgentRemoved   = "agent.uninstalled"
	EventShieldBlocked  = "shield.blocked"
	EventShieldWarned   = "shield.warned"
)

// Event actors
const (
	ActorAgent  = "agent"
	ActorSystem = "system"
)

// Event is an append-only audit trail entry scoped to one organization.
// @Description Audit trail event
type Event struct {
	ID        string          `json:"id"`
	OrgID     string          `json:"org_id"`
	HostID    string          `json:"host_id,omitempty"`
	EventType string          `json:"event_type"`
	Title     string          `json:"title"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	Actor     string          `json:"actor"`
	CreatedAt time.Time       `json:"created_at"`
}

// Insight types and severities
const (
	InsightCriticalFailure  = "critical_failure"
	InsightNewRegression    = "new_regression"
	InsightGradeDegradation = "grade_degradation"
	InsightStaleHost        = "stale_host"
)

const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// AffectedHost is one host entry inside an insight.
type AffectedHost struct {
	HostID   string `json:"host_id"`
	Hostname string `json:"hostname"`
	Detail   string `json:"detail"`
}

// Insight is a deduplicated finding. While unresolved it is keyed by
// (org, insight_type, check_name) and updated in place; once resolved it is
// frozen.
// @Description Deduplicated security finding
type Insight struct {
	ID            string         `json:"id"`
	OrgID         string         `json:"org_id"`
	InsightType   string         `json:"insight_type"`
	Severity      string         `json:"severity"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Remediation   string         `json:"remediation"`
	CheckName     string         `json:"check_name,omitempty"`
	AffectedHosts []AffectedHost `json:"affected_hosts"`
	ScanID        string         `json:"scan_id"`
	IsResolved    bool           `json:"is_resolved"`
	ResolvedAt    *time.Time     `json:"resolved_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// NotificationSettings holds an organization's delivery channels for alert and
// insight notifications.
// @Description Per-organization notification channel settings
type NotificationSettings struct {
	OrgID             string    `json:"org_id"`
	EmailEnabled      bool      `json:"email_enabled"`
	EmailAddress      string    `json:"email_address,omitempty"`
	WebhookEnabled    bool      `json:"webhook_enabled"`
	WebhookURL        string    `json:"webhook_url,omitempty"`
	WebhookSecret     string    `json:"-"`
	NotifyOnGradeDrop bool      `json:"notify_on_grade_drop"`
	NotifyOnCritical  bool      `json:"notify_on_critical"`
	NotifyOnNewHost   bool      `json:"notify_on_new_host"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// APIKey authenticates an agent and resolves it to an organization.
// The plain key is shown once; only the bcrypt hash is stored.
// @Description API key metadata (the key itself is never returned)
type APIKey struct {
	ID         string     `json:"id"`
	OrgID      string     `json:"org_id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"key_prefix"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
