package ingest

import "fmt"

// Quota kinds, for HTTP status mapping at the boundary
const (
	QuotaCredits = "credits"
	QuotaHosts   = "hosts"
)

// QuotaExceededError is returned when an organization hits its credit or
// host-count limit. Surfaced verbatim so the operator knows to upgrade.
type QuotaExceededError struct {
	Kind   string
	Reason string
}

func (e *QuotaExceededError) Error() string {
	return "quota exceeded: " + e.Reason
}

// PersistenceError wraps a failed authoritative write. It is the only error
// class that fails an ingestion after validation passed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
