package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"clawkeeper/internal/models"
)

const scanColumns = `id, host_id, org_id, score, grade, passed, failed, fixed, skipped, raw_report, scanned_at, created_at`

func scanScanRow(scanner interface{ Scan(...any) error }) (*models.Scan, error) {
	scan := &models.Scan{}
	err := scanner.Scan(
		&scan.ID, &scan.HostID, &scan.OrgID,
		&scan.Score, &scan.Grade,
		&scan.Passed, &scan.Failed, &scan.Fixed, &scan.Skipped,
		&scan.RawReport, &scan.ScannedAt, &scan.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return scan, nil
}

// CreateScan inserts an immutable scan row
func (ps *PostgresStorage) CreateScan(scan *models.Scan) error {
	if scan.ID == "" {
		scan.ID = uuid.New().String()
	}
	if scan.CreatedAt.IsZero() {
		scan.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO scans (` + scanColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := ps.db.Exec(query,
		scan.ID, scan.HostID, scan.OrgID,
		scan.Score, scan.Grade,
		scan.Passed, scan.Failed, scan.Fixed, scan.Skipped,
		scan.RawReport, scan.ScannedAt, scan.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create scan: %w", err)
	}

	return nil
}

// InsertChecks bulk-inserts the check rows of one scan using COPY
func (ps *PostgresStorage) InsertChecks(scanID string, checks []models.CheckPayload) error {
	if len(checks) == 0 {
		return nil
	}

	tx, err := ps.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin check insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(pq.CopyIn("scan_checks", "id", "scan_id", "status", "check_name", "detail"))
	if err != nil {
		return fmt.Errorf("failed to prepare check insert: %w", err)
	}

	for _, check := range checks {
		if _, err := stmt.Exec(uuid.New().String(), scanID, check.Status, check.CheckName, check.Detail); err != nil {
			stmt.Close()
			return fmt.Errorf("failed to insert check: %w", err)
		}
	}

	// Flush the COPY buffer
	if _, err := stmt.Exec(); err != nil {
		stmt.Close()
		return fmt.Errorf("failed to flush check insert: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("failed to close check insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit check insert: %w", err)
	}

	return nil
}

// GetPreviousScan returns the host's most recent scan by scanned_at,
// excluding the given scan ID
func (ps *PostgresStorage) GetPreviousScan(hostID, excludeScanID string) (*models.Scan, error) {
	query := `
		SELECT ` + scanColumns + `
		FROM scans
		WHERE host_id = $1 AND id <> $2
		ORDER BY scanned_at DESC
		LIMIT 1
	`

	scan, err := scanScanRow(ps.db.QueryRow(query, hostID, excludeScanID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get previous scan: %w", err)
	}

	return scan, nil
}

// GetScanAsOf returns the host's most recent scan at or before the cutoff
func (ps *PostgresStorage) GetScanAsOf(hostID string, cutoff time.Time) (*models.Scan, error) {
	query := `
		SELECT ` + scanColumns + `
		FROM scans
		WHERE host_id = $1 AND scanned_at <= $2
		ORDER BY scanned_at DESC
		LIMIT 1
	`

	scan, err := scanScanRow(ps.db.QueryRow(query, hostID, cutoff))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan as of %s: %w", cutoff, err)
	}

	return scan, nil
}

// ListScans returns a host's scan history, newest first
func (ps *PostgresStorage) ListScans(hostID, orgID string, limit int) ([]*models.Scan, error) {
	query := `
		SELECT ` + scanColumns + `
		FROM scans
		WHERE host_id = $1 AND org_id = $2
		ORDER BY scanned_at DESC
		LIMIT $3
	`

	rows, err := ps.db.Query(query, hostID, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	defer rows.Close()

	var scans []*models.Scan
	for rows.Next() {
		scan, err := scanScanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		scans = append(scans, scan)
	}

	return scans, rows.Err()
}

// GetChecks returns all check rows of one scan
func (ps *PostgresStorage) GetChecks(scanID string) ([]*models.Check, error) {
	query := `
		SELECT id, scan_id, status, check_name, detail
		FROM scan_checks
		WHERE scan_id = $1
	`

	rows, err := ps.db.Query(query, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to get checks: %w", err)
	}
	defer rows.Close()

	var checks []*models.Check
	for rows.Next() {
		check := &models.Check{}
		if err := rows.Scan(&check.ID, &check.ScanID, &check.Status, &check.CheckName, &check.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan check: %w", err)
		}
		checks = append(checks, check)
	}

	return checks, rows.Err()
}
