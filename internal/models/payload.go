package models

import "time"

// CheckPayload is one check entry in an uploaded scan report.
// @Description Check entry in an uploaded scan report
type CheckPayload struct {
	Status    string `json:"status"`
	CheckName string `json:"check_name"`
	Detail    string `json:"detail,omitempty"`
}

// ScanPayload is a validated scan report as uploaded by an agent. Produced
// only by report.Validate; handlers never construct one from raw input.
// @Description Validated scan report from a clawkeeper agent
type ScanPayload struct {
	Hostname     string         `json:"hostname"`
	Platform     string         `json:"platform"`
	OSVersion    string         `json:"os_version"`
	Score        int            `json:"score"`
	Grade        string         `json:"grade"`
	Passed       int            `json:"passed"`
	Failed       int            `json:"failed"`
	Fixed        int            `json:"fixed"`
	Skipped      int            `json:"skipped"`
	Checks       []CheckPayload `json:"checks"`
	RawReport    string         `json:"raw_report,omitempty"`
	ScannedAt    time.Time      `json:"scanned_at"`
	AgentVersion string         `json:"agent_version"`
}

// IngestResponse is returned after a scan upload is accepted.
// @Description Response after successfully ingesting a scan report
type IngestResponse struct {
	OK     bool   `json:"ok"`
	HostID string `json:"host_id"`
	ScanID string `json:"scan_id"`
}

// CreditStatus reports an organization's remaining scan credits. A cap of -1
// means the plan is unlimited.
// @Description Credit balance for display
type CreditStatus struct {
	Remaining int `json:"credits_remaining"`
	Cap       int `json:"credits_monthly_cap"`
}

// HealthResponse represents the health check response
// @Description Health check response with service and database status
type HealthResponse struct {
	Status   string `json:"status" example:"ok"`          // Overall service status (ok or error)
	Service  string `json:"service" example:"clawkeeper"` // Service name
	Database string `json:"database" example:"connected"` // Database connection status (connected or disconnected)
}
