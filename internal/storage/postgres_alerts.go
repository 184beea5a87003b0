package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clawkeeper/internal/models"
)

// CreateAlertRule inserts a user-defined alert rule
func (ps *PostgresStorage) CreateAlertRule(rule *models.AlertRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	config, err := json.Marshal(rule.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal rule config: %w", err)
	}

	query := `
		INSERT INTO alert_rules (id, org_id, name, rule_type, config, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = ps.db.Exec(query,
		rule.ID, rule.OrgID, rule.Name, rule.RuleType, config, rule.Enabled,
		rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert rule: %w", err)
	}

	return nil
}

// UpdateAlertRule updates a rule's name, type, config, and enabled flag
func (ps *PostgresStorage) UpdateAlertRule(rule *models.AlertRule) error {
	config, err := json.Marshal(rule.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal rule config: %w", err)
	}

	query := `
		UPDATE alert_rules
		SET name = $3, rule_type = $4, config = $5, enabled = $6, updated_at = NOW()
		WHERE id = $1 AND org_id = $2
	`

	result, err := ps.db.Exec(query, rule.ID, rule.OrgID, rule.Name, rule.RuleType, config, rule.Enabled)
	if err != nil {
		return fmt.Errorf("failed to update alert rule: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteAlertRule removes a rule; its alert events are kept as history
func (ps *PostgresStorage) DeleteAlertRule(ruleID, orgID string) error {
	result, err := ps.db.Exec(`DELETE FROM alert_rules WHERE id = $1 AND org_id = $2`, ruleID, orgID)
	if err != nil {
		return fmt.Errorf("failed to delete alert rule: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

func (ps *PostgresStorage) listAlertRules(orgID string, enabledOnly bool) ([]*models.AlertRule, error) {
	query := `
		SELECT id, org_id, name, rule_type, config, enabled, created_at, updated_at
		FROM alert_rules
		WHERE org_id = $1
	`
	if enabledOnly {
		query += ` AND enabled = TRUE`
	}
	query += ` ORDER BY created_at`

	rows, err := ps.db.Query(query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.AlertRule
	for rows.Next() {
		rule := &models.AlertRule{}
		var config []byte
		if err := rows.Scan(&rule.ID, &rule.OrgID, &rule.Name, &rule.RuleType, &config, &rule.Enabled, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert rule: %w", err)
		}
		if len(config) > 0 {
			if err := json.Unmarshal(config, &rule.Config); err != nil {
				return nil, fmt.Errorf("failed to unmarshal rule config: %w", err)
			}
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// ListAlertRules returns all rules of an organization
func (ps *PostgresStorage) ListAlertRules(orgID string) ([]*models.AlertRule, error) {
	return ps.listAlertRules(orgID, false)
}

// ListEnabledAlertRules returns the rules evaluated on every new scan
func (ps *PostgresStorage) ListEnabledAlertRules(orgID string) ([]*models.AlertRule, error) {
	return ps.listAlertRules(orgID, true)
}

// CreateAlertEvent records one rule firing for one scan
func (ps *PostgresStorage) CreateAlertEvent(event *models.AlertEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.NotifiedAt.IsZero() {
		event.NotifiedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO alert_events (id, org_id, alert_rule_id, host_id, scan_id, message, notified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := ps.db.Exec(query,
		event.ID, event.OrgID, event.RuleID, event.HostID, event.ScanID,
		event.Message, event.NotifiedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert event: %w", err)
	}

	return nil
}

// CountAlertEventsSince counts one rule's firings inside the rate-limit window
func (ps *PostgresStorage) CountAlertEventsSince(ruleID string, since time.Time) (int, error) {
	var count int
	err := ps.db.QueryRow(
		`SELECT COUNT(*) FROM alert_events WHERE alert_rule_id = $1 AND notified_at >= $2`,
		ruleID, since,
	).Scan(&count)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to count alert events: %w", err)
	}
	return count, nil
}

// ListAlertEvents returns an organization's alert history, newest first
func (ps *PostgresStorage) ListAlertEvents(orgID string, limit int) ([]*models.AlertEvent, error) {
	query := `
		SELECT id, org_id, alert_rule_id, host_id, scan_id, message, notified_at
		FROM alert_events
		WHERE org_id = $1
		ORDER BY notified_at DESC
		LIMIT $2
	`

	rows, err := ps.db.Query(query, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert events: %w", err)
	}
	defer rows.Close()

	var events []*models.AlertEvent
	for rows.Next() {
		event := &models.AlertEvent{}
		if err := rows.Scan(&event.ID, &event.OrgID, &event.RuleID, &event.HostID, &event.ScanID, &event.Message, &event.NotifiedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert event: %w", err)
		}
		events = append(events, event)
	}

	return events, rows.Err()
}
