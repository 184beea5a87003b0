package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"clawkeeper/internal/models"
)

// Limits applied to uploaded scan reports. Reports are produced by agents in
// the field, so every field is treated as hostile until validated.
const (
	MaxHostnameLength  = 255
	MaxPlatformLength  = 64
	MaxOSVersionLength = 128
	MaxGradeLength     = 1
	MaxChecks          = 500
	MaxCheckNameLength = 255
	MaxDetailLength    = 4096
	MaxRawReportBytes  = 1_000_000
	MaxAgentVersion    = 64

	// DefaultAgentVersion is recorded when the agent does not report one
	DefaultAgentVersion = "unknown"
)

// ValidationError describes a rejected scan report. Field names the first
// offending payload field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid scan report: %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate parses and validates a raw scan report body. It is pure: no I/O,
// no logging, no storage access. On success the returned payload has all
// optional fields defaulted; on failure the error names the first field that
// failed, and nothing downstream ever sees the payload.
func Validate(raw []byte) (*models.ScanPayload, error) {
	// A null or scalar body unmarshals cleanly into the zero struct and
	// would surface as a misleading missing-field error.
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, invalid("body", "must be a JSON object")
	}

	var payload models.ScanPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return nil, invalid(typeErr.Field, "must be of type %s, got %s", typeErr.Type, typeErr.Value)
		}
		return nil, invalid("body", "malformed JSON: %v", err)
	}

	if payload.Hostname == "" {
		return nil, invalid("hostname", "is required")
	}
	if len(payload.Hostname) > MaxHostnameLength {
		return nil, invalid("hostname", "exceeds %d characters", MaxHostnameLength)
	}

	if payload.Platform == "" {
		return nil, invalid("platform", "is required")
	}
	if len(payload.Platform) > MaxPlatformLength {
		return nil, invalid("platform", "exceeds %d characters", MaxPlatformLength)
	}
	if len(payload.OSVersion) > MaxOSVersionLength {
		return nil, invalid("os_version", "exceeds %d characters", MaxOSVersionLength)
	}

	if payload.Score < 0 || payload.Score > 100 {
		return nil, invalid("score", "must be between 0 and 100, got %d", payload.Score)
	}

	if payload.Grade == "" {
		return nil, invalid("grade", "is required")
	}
	if !models.IsValidGrade(payload.Grade) {
		return nil, invalid("grade", "must be one of A, B, C, D, F, got %q", payload.Grade)
	}

	if payload.Passed < 0 {
		return nil, invalid("passed", "must not be negative")
	}
	if payload.Failed < 0 {
		return nil, invalid("failed", "must not be negative")
	}
	if payload.Fixed < 0 {
		return nil, invalid("fixed", "must not be negative")
	}
	if payload.Skipped < 0 {
		return nil, invalid("skipped", "must not be negative")
	}

	if len(payload.Checks) > MaxChecks {
		return nil, invalid("checks", "exceeds %d entries", MaxChecks)
	}
	for i, check := range payload.Checks {
		if check.CheckName == "" {
			return nil, invalid(fmt.Sprintf("checks[%d].check_name", i), "is required")
		}
		if len(check.CheckName) > MaxCheckNameLength {
			return nil, invalid(fmt.Sprintf("checks[%d].check_name", i), "exceeds %d characters", MaxCheckNameLength)
		}
		if !models.IsValidCheckStatus(check.Status) {
			return nil, invalid(fmt.Sprintf("checks[%d].status", i), "must be one of PASS, FAIL, FIXED, SKIPPED, got %q", check.Status)
		}
		if len(check.Detail) > MaxDetailLength {
			return nil, invalid(fmt.Sprintf("checks[%d].detail", i), "exceeds %d characters", MaxDetailLength)
		}
	}

	if len(payload.RawReport) > MaxRawReportBytes {
		return nil, invalid("raw_report", "exceeds %d bytes", MaxRawReportBytes)
	}
	if len(payload.AgentVersion) > MaxAgentVersion {
		return nil, invalid("agent_version", "exceeds %d characters", MaxAgentVersion)
	}

	// Defaults for optional fields
	if payload.AgentVersion == "" {
		payload.AgentVersion = DefaultAgentVersion
	}
	if payload.ScannedAt.IsZero() {
		payload.ScannedAt = time.Now().UTC()
	}

	return &payload, nil
}
