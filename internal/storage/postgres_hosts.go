package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clawkeeper/internal/models"
)

const hostColumns = `id, org_id, hostname, platform, os_version, agent_version, last_grade, last_score, last_scan_at, created_at`

func scanHostRow(scanner interface{ Scan(...any) error }) (*models.Host, error) {
	host := &models.Host{}
	err := scanner.Scan(
		&host.ID, &host.OrgID, &host.Hostname,
		&host.Platform, &host.OSVersion, &host.AgentVersion,
		&host.LastGrade, &host.LastScore, &host.LastScanAt,
		&host.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return host, nil
}

// CreateHost inserts a new host. Returns ErrConflict when another request
// created the same (org_id, hostname) first; callers fall back to an update.
func (ps *PostgresStorage) CreateHost(host *models.Host) error {
	if host.ID == "" {
		host.ID = uuid.New().String()
	}
	if host.CreatedAt.IsZero() {
		host.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO hosts (` + hostColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := ps.db.Exec(query,
		host.ID, host.OrgID, host.Hostname,
		host.Platform, host.OSVersion, host.AgentVersion,
		host.LastGrade, host.LastScore, host.LastScanAt,
		host.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create host: %w", err)
	}

	return nil
}

// GetHostByHostname looks a host up by its (org, hostname) identity
func (ps *PostgresStorage) GetHostByHostname(orgID, hostname string) (*models.Host, error) {
	query := `SELECT ` + hostColumns + ` FROM hosts WHERE org_id = $1 AND hostname = $2`

	host, err := scanHostRow(ps.db.QueryRow(query, orgID, hostname))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get host by hostname: %w", err)
	}

	return host, nil
}

// GetHost returns a host by ID, verifying it belongs to the organization
func (ps *PostgresStorage) GetHost(hostID, orgID string) (*models.Host, error) {
	query := `SELECT ` + hostColumns + ` FROM hosts WHERE id = $1 AND org_id = $2`

	host, err := scanHostRow(ps.db.QueryRow(query, hostID, orgID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get host: %w", err)
	}

	return host, nil
}

// UpdateHostScanSummary overwrites the denormalized last-scan fields.
// Last-write-wins; concurrent uploads from the same host are not reconciled.
func (ps *PostgresStorage) UpdateHostScanSummary(host *models.Host) error {
	query := `
		UPDATE hosts
		SET platform = $2, os_version = $3, agent_version = $4, last_grade = $5, last_score = $6, last_scan_at = $7
		WHERE id = $1
	`

	result, err := ps.db.Exec(query,
		host.ID, host.Platform, host.OSVersion, host.AgentVersion,
		host.LastGrade, host.LastScore, host.LastScanAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update host: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// CountHosts returns the number of hosts in an organization
func (ps *PostgresStorage) CountHosts(orgID string) (int, error) {
	var count int
	err := ps.db.QueryRow(`SELECT COUNT(*) FROM hosts WHERE org_id = $1`, orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count hosts: %w", err)
	}
	return count, nil
}

// ListHosts returns all hosts in an organization, most recently scanned first
func (ps *PostgresStorage) ListHosts(orgID string) ([]*models.Host, error) {
	query := `SELECT ` + hostColumns + ` FROM hosts WHERE org_id = $1 ORDER BY last_scan_at DESC`

	rows, err := ps.db.Query(query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}
	defer rows.Close()

	var hosts []*models.Host
	for rows.Next() {
		host, err := scanHostRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan host: %w", err)
		}
		hosts = append(hosts, host)
	}

	return hosts, rows.Err()
}

// ListHostsLastScannedBefore returns hosts whose last scan is older than the cutoff
func (ps *PostgresStorage) ListHostsLastScannedBefore(orgID string, cutoff time.Time) ([]*models.Host, error) {
	query := `SELECT ` + hostColumns + ` FROM hosts WHERE org_id = $1 AND last_scan_at < $2`

	rows, err := ps.db.Query(query, orgID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale hosts: %w", err)
	}
	defer rows.Close()

	var hosts []*models.Host
	for rows.Next() {
		host, err := scanHostRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan host: %w", err)
		}
		hosts = append(hosts, host)
	}

	return hosts, rows.Err()
}

// DeleteHost removes a host and, via cascading foreign keys, its scan history
func (ps *PostgresStorage) DeleteHost(hostID, orgID string) error {
	result, err := ps.db.Exec(`DELETE FROM hosts WHERE id = $1 AND org_id = $2`, hostID, orgID)
	if err != nil {
		return fmt.Errorf("failed to delete host: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}
