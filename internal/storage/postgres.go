package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"clawkeeper/internal/models"
)

// PostgresStorage implements Storage using PostgreSQL
type PostgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage creates a new PostgreSQL-backed storage
func NewPostgresStorage(dsn string) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStorage{db: db}, nil
}

// DB exposes the underlying connection for pool metrics registration
func (ps *PostgresStorage) DB() *sql.DB {
	return ps.db
}

// isUniqueViolation reports whether err is a postgres unique constraint violation
func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}

// CreateOrganization creates an organization with the plan's initial credit allotment
func (ps *PostgresStorage) CreateOrganization(name, ownerEmail string, plan models.Plan) (*models.Organization, error) {
	limits := plan.Limits()
	balance := limits.CreditsMonthly
	if balance == models.Unlimited {
		balance = 0
	}

	org := &models.Organization{
		ID:                  uuid.New().String(),
		Name:                name,
		Plan:                plan,
		CreditsBalance:      balance,
		CreditsMonthlyCap:   limits.CreditsMonthly,
		CreditsLastRefillAt: time.Now().UTC(),
		OwnerEmail:          ownerEmail,
		CreatedAt:           time.Now().UTC(),
		UpdatedAt:           time.Now().UTC(),
	}

	query := `
		INSERT INTO organizations (id, name, plan, credits_balance, credits_monthly_cap, credits_last_refill_at, owner_email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := ps.db.Exec(query,
		org.ID, org.Name, string(org.Plan),
		org.CreditsBalance, org.CreditsMonthlyCap, org.CreditsLastRefillAt,
		org.OwnerEmail, org.CreatedAt, org.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}

	return org, nil
}

// GetOrganizationByID returns an organization by its UUID
func (ps *PostgresStorage) GetOrganizationByID(orgID string) (*models.Organization, error) {
	query := `
		SELECT id, name, plan, credits_balance, credits_monthly_cap, credits_last_refill_at, owner_email, created_at, updated_at
		FROM organizations
		WHERE id = $1
	`

	org := &models.Organization{}
	var plan string

	err := ps.db.QueryRow(query, orgID).Scan(
		&org.ID, &org.Name, &plan,
		&org.CreditsBalance, &org.CreditsMonthlyCap, &org.CreditsLastRefillAt,
		&org.OwnerEmail, &org.CreatedAt, &org.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	org.Plan = models.Plan(plan)
	return org, nil
}

// UpdateOrganizationPlan changes the plan and overwrites the credit fields.
// Called by the billing-webhook collaborator on upgrade/downgrade.
func (ps *PostgresStorage) UpdateOrganizationPlan(orgID string, plan models.Plan, balance, cap int) error {
	query := `
		UPDATE organizations
		SET plan = $2, credits_balance = $3, credits_monthly_cap = $4, updated_at = NOW()
		WHERE id = $1
	`

	result, err := ps.db.Exec(query, orgID, string(plan), balance, cap)
	if err != nil {
		return fmt.Errorf("failed to update organization plan: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// RefillCredits persists a refreshed balance with a compare-and-swap on the
// previous refill timestamp so exactly one concurrent refiller wins.
func (ps *PostgresStorage) RefillCredits(orgID string, balance, cap int, refillAt, prevRefillAt time.Time) (bool, error) {
	query := `
		UPDATE organizations
		SET credits_balance = $2, credits_monthly_cap = $3, credits_last_refill_at = $4, updated_at = NOW()
		WHERE id = $1 AND credits_last_refill_at = $5
	`

	result, err := ps.db.Exec(query, orgID, balance, cap, refillAt, prevRefillAt)
	if err != nil {
		return false, fmt.Errorf("failed to refill credits: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to refill credits: %w", err)
	}

	return rows > 0, nil
}

// DeductCredit decrements the balance in a single conditional update so two
// concurrent deductions at balance=1 cannot both succeed.
func (ps *PostgresStorage) DeductCredit(orgID string) (int, bool, error) {
	query := `
		UPDATE organizations
		SET credits_balance = credits_balance - 1, updated_at = NOW()
		WHERE id = $1 AND credits_balance > 0
		RETURNING credits_balance
	`

	var remaining int
	err := ps.db.QueryRow(query, orgID).Scan(&remaining)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to deduct credit: %w", err)
	}

	return remaining, true, nil
}

// Close closes the database connection
func (ps *PostgresStorage) Close() error {
	return ps.db.Close()
}
