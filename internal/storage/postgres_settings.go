package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clawkeeper/internal/models"
)

// GetNotificationSettings returns an organization's notification channel
// settings. ErrNotFound when the org never configured notifications.
func (ps *PostgresStorage) GetNotificationSettings(orgID string) (*models.NotificationSettings, error) {
	query := `
		SELECT org_id, email_enabled, email_address, webhook_enabled, webhook_url, webhook_secret,
			notify_on_grade_drop, notify_on_critical, notify_on_new_host, updated_at
		FROM notification_settings
		WHERE org_id = $1
	`

	settings := &models.NotificationSettings{}
	err := ps.db.QueryRow(query, orgID).Scan(
		&settings.OrgID, &settings.EmailEnabled, &settings.EmailAddress,
		&settings.WebhookEnabled, &settings.WebhookURL, &settings.WebhookSecret,
		&settings.NotifyOnGradeDrop, &settings.NotifyOnCritical, &settings.NotifyOnNewHost,
		&settings.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification settings: %w", err)
	}

	return settings, nil
}

// UpsertNotificationSettings creates or replaces an organization's settings
func (ps *PostgresStorage) UpsertNotificationSettings(settings *models.NotificationSettings) error {
	settings.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO notification_settings (org_id, email_enabled, email_address, webhook_enabled, webhook_url, webhook_secret,
			notify_on_grade_drop, notify_on_critical, notify_on_new_host, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (org_id) DO UPDATE SET
			email_enabled = EXCLUDED.email_enabled,
			email_address = EXCLUDED.email_address,
			webhook_enabled = EXCLUDED.webhook_enabled,
			webhook_url = EXCLUDED.webhook_url,
			webhook_secret = EXCLUDED.webhook_secret,
			notify_on_grade_drop = EXCLUDED.notify_on_grade_drop,
			notify_on_critical = EXCLUDED.notify_on_critical,
			notify_on_new_host = EXCLUDED.notify_on_new_host,
			updated_at = EXCLUDED.updated_at
	`

	_, err := ps.db.Exec(query,
		settings.OrgID, settings.EmailEnabled, settings.EmailAddress,
		settings.WebhookEnabled, settings.WebhookURL, settings.WebhookSecret,
		settings.NotifyOnGradeDrop, settings.NotifyOnCritical, settings.NotifyOnNewHost,
		settings.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert notification settings: %w", err)
	}

	return nil
}

// CreateAPIKey stores a hashed API key for an organization
func (ps *PostgresStorage) CreateAPIKey(orgID, keyHash, keyPrefix, name string) (*models.APIKey, error) {
	key := &models.APIKey{
		ID:        uuid.New().String(),
		OrgID:     orgID,
		Name:      name,
		KeyHash:   keyHash,
		KeyPrefix: keyPrefix,
		CreatedAt: time.Now().UTC(),
	}

	query := `
		INSERT INTO api_keys (id, org_id, name, key_hash, key_prefix, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := ps.db.Exec(query, key.ID, key.OrgID, key.Name, key.KeyHash, key.KeyPrefix, key.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create API key: %w", err)
	}

	return key, nil
}

// GetAPIKeysByPrefix returns all keys sharing a prefix; the caller verifies
// the full key against each candidate's hash
func (ps *PostgresStorage) GetAPIKeysByPrefix(keyPrefix string) ([]*models.APIKey, error) {
	query := `
		SELECT id, org_id, name, key_hash, key_prefix, last_used_at, created_at
		FROM api_keys
		WHERE key_prefix = $1
	`

	rows, err := ps.db.Query(query, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to get API keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		key := &models.APIKey{}
		var lastUsed sql.NullTime
		if err := rows.Scan(&key.ID, &key.OrgID, &key.Name, &key.KeyHash, &key.KeyPrefix, &lastUsed, &key.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan API key: %w", err)
		}
		if lastUsed.Valid {
			key.LastUsedAt = &lastUsed.Time
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

// UpdateAPIKeyLastUsed stamps the key; called async on each authentication
func (ps *PostgresStorage) UpdateAPIKeyLastUsed(keyID string) error {
	_, err := ps.db.Exec(`UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, keyID)
	if err != nil {
		return fmt.Errorf("failed to update API key last used: %w", err)
	}
	return nil
}
