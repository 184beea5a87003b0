package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clawkeeper/internal/models"
)

const insightColumns = `id, org_id, insight_type, severity, title, description, remediation, check_name, affected_hosts, scan_id, is_resolved, resolved_at, created_at, updated_at`

func scanInsightRow(scanner interface{ Scan(...any) error }) (*models.Insight, error) {
	insight := &models.Insight{}
	var affected []byte
	var resolvedAt sql.NullTime

	err := scanner.Scan(
		&insight.ID, &insight.OrgID, &insight.InsightType, &insight.Severity,
		&insight.Title, &insight.Description, &insight.Remediation, &insight.CheckName,
		&affected, &insight.ScanID, &insight.IsResolved, &resolvedAt,
		&insight.CreatedAt, &insight.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if resolvedAt.Valid {
		insight.ResolvedAt = &resolvedAt.Time
	}
	if len(affected) > 0 {
		if err := json.Unmarshal(affected, &insight.AffectedHosts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal affected hosts: %w", err)
		}
	}

	return insight, nil
}

// FindOpenInsight looks up the unresolved insight keyed by
// (org, insight_type, check_name). checkName may be empty for types that
// dedupe on type alone.
func (ps *PostgresStorage) FindOpenInsight(orgID, insightType, checkName string) (*models.Insight, error) {
	query := `
		SELECT ` + insightColumns + `
		FROM insights
		WHERE org_id = $1 AND insight_type = $2 AND check_name = $3 AND is_resolved = FALSE
		LIMIT 1
	`

	insight, err := scanInsightRow(ps.db.QueryRow(query, orgID, insightType, checkName))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find insight: %w", err)
	}

	return insight, nil
}

// CreateInsight inserts a new unresolved insight
func (ps *PostgresStorage) CreateInsight(insight *models.Insight) error {
	if insight.ID == "" {
		insight.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if insight.CreatedAt.IsZero() {
		insight.CreatedAt = now
	}
	insight.UpdatedAt = now

	affected, err := json.Marshal(insight.AffectedHosts)
	if err != nil {
		return fmt.Errorf("failed to marshal affected hosts: %w", err)
	}

	query := `
		INSERT INTO insights (` + insightColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	var resolvedAt sql.NullTime
	if insight.ResolvedAt != nil {
		resolvedAt = sql.NullTime{Time: *insight.ResolvedAt, Valid: true}
	}

	_, err = ps.db.Exec(query,
		insight.ID, insight.OrgID, insight.InsightType, insight.Severity,
		insight.Title, insight.Description, insight.Remediation, insight.CheckName,
		affected, insight.ScanID, insight.IsResolved, resolvedAt,
		insight.CreatedAt, insight.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create insight: %w", err)
	}

	return nil
}

// UpdateInsight rewrites a mutable (unresolved or just-resolved) insight
func (ps *PostgresStorage) UpdateInsight(insight *models.Insight) error {
	insight.UpdatedAt = time.Now().UTC()

	affected, err := json.Marshal(insight.AffectedHosts)
	if err != nil {
		return fmt.Errorf("failed to marshal affected hosts: %w", err)
	}

	var resolvedAt sql.NullTime
	if insight.ResolvedAt != nil {
		resolvedAt = sql.NullTime{Time: *insight.ResolvedAt, Valid: true}
	}

	query := `
		UPDATE insights
		SET severity = $2, title = $3, description = $4, remediation = $5,
			affected_hosts = $6, scan_id = $7, is_resolved = $8, resolved_at = $9, updated_at = $10
		WHERE id = $1
	`

	result, err := ps.db.Exec(query,
		insight.ID, insight.Severity, insight.Title, insight.Description, insight.Remediation,
		affected, insight.ScanID, insight.IsResolved, resolvedAt, insight.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update insight: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ListOpenInsights returns all unresolved insights of an organization
func (ps *PostgresStorage) ListOpenInsights(orgID string) ([]*models.Insight, error) {
	query := `
		SELECT ` + insightColumns + `
		FROM insights
		WHERE org_id = $1 AND is_resolved = FALSE
		ORDER BY updated_at DESC
	`

	return ps.queryInsights(query, orgID)
}

// ListInsights returns an organization's insights, newest first
func (ps *PostgresStorage) ListInsights(orgID string, includeResolved bool, limit int) ([]*models.Insight, error) {
	query := `
		SELECT ` + insightColumns + `
		FROM insights
		WHERE org_id = $1
	`
	if !includeResolved {
		query += ` AND is_resolved = FALSE`
	}
	query += ` ORDER BY updated_at DESC LIMIT $2`

	return ps.queryInsights(query, orgID, limit)
}

func (ps *PostgresStorage) queryInsights(query string, args ...any) ([]*models.Insight, error) {
	rows, err := ps.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list insights: %w", err)
	}
	defer rows.Close()

	var insights []*models.Insight
	for rows.Next() {
		insight, err := scanInsightRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan insight: %w", err)
		}
		insights = append(insights, insight)
	}

	return insights, rows.Err()
}

// CountInsightsSince counts insights of one type created inside the
// notification rate-limit window
func (ps *PostgresStorage) CountInsightsSince(orgID, insightType string, since time.Time) (int, error) {
	var count int
	err := ps.db.QueryRow(
		`SELECT COUNT(*) FROM insights WHERE org_id = $1 AND insight_type = $2 AND created_at >= $3`,
		orgID, insightType, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count insights: %w", err)
	}
	return count, nil
}
