package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clawkeeper/internal/models"
)

// CreateEvent appends an audit trail event
func (ps *PostgresStorage) CreateEvent(event *models.Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	detail := event.Detail
	if len(detail) == 0 {
		detail = []byte(`{}`)
	}

	var hostID sql.NullString
	if event.HostID != "" {
		hostID = sql.NullString{String: event.HostID, Valid: true}
	}

	query := `
		INSERT INTO events (id, org_id, host_id, event_type, title, detail, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := ps.db.Exec(query,
		event.ID, event.OrgID, hostID, event.EventType, event.Title,
		[]byte(detail), event.Actor, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}

	return nil
}

// ListEvents returns an organization's audit trail, newest first.
// eventType filters to one type when non-empty.
func (ps *PostgresStorage) ListEvents(orgID, eventType string, limit int) ([]*models.Event, error) {
	query := `
		SELECT id, org_id, host_id, event_type, title, detail, actor, created_at
		FROM events
		WHERE org_id = $1
	`
	args := []any{orgID}

	if eventType != "" {
		query += ` AND event_type = $2`
		args = append(args, eventType)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := ps.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		event := &models.Event{}
		var hostID sql.NullString
		var detail []byte
		if err := rows.Scan(&event.ID, &event.OrgID, &hostID, &event.EventType, &event.Title, &detail, &event.Actor, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.HostID = hostID.String
		event.Detail = detail
		events = append(events, event)
	}

	return events, rows.Err()
}
