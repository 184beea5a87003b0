package credits

import (
	"errors"
	"fmt"
	"time"

	"clawkeeper/internal/logger"
	"clawkeeper/internal/models"
	"clawkeeper/internal/storage"
)

// RefillInterval is the credit period length. Refills are lazy: nothing runs
// on a schedule, the period boundary is applied when credits are next touched.
const RefillInterval = 30 * 24 * time.Hour

// ErrInsufficientCredits is returned when an organization has no scan
// credits left in the current period.
var ErrInsufficientCredits = errors.New("insufficient scan credits")

// Ledger manages per-organization scan credits. All mutations go through
// conditional storage updates, so concurrent scans against the same
// organization never double-refill or drive the balance negative.
type Ledger struct {
	store storage.Storage
	now   func() time.Time
}

// NewLedger creates a credit ledger backed by the given storage
func NewLedger(store storage.Storage) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// rolloverBalance computes the post-refill balance for a plan. Plans with
// rollover keep unused credits up to twice the monthly cap; plans without
// reset to the cap.
func rolloverBalance(limits models.PlanLimits, balance int) int {
	if !limits.CreditsRollover {
		return limits.CreditsMonthly
	}
	next := balance + limits.CreditsMonthly
	if max := limits.CreditsMonthly * 2; next > max {
		next = max
	}
	return next
}

// refillDue reports whether the organization's refill period has elapsed.
func (l *Ledger) refillDue(org *models.Organization) bool {
	return !l.now().Before(org.CreditsLastRefillAt.Add(RefillInterval))
}

// applyRefill attempts the lazy refill for an organization whose period has
// elapsed. The storage update is conditional on the previous refill
// timestamp, so exactly one concurrent caller wins; losers re-read the row
// the winner wrote.
func (l *Ledger) applyRefill(org *models.Organization) (*models.Organization, error) {
	limits := org.Plan.Limits()
	balance := rolloverBalance(limits, org.CreditsBalance)
	refillAt := l.now().UTC()

	won, err := l.store.RefillCredits(org.ID, balance, limits.CreditsMonthly, refillAt, org.CreditsLastRefillAt)
	if err != nil {
		return nil, fmt.Errorf("failed to refill credits: %w", err)
	}

	if won {
		logger.WithOrg(org.ID).Info().
			Int("balance", balance).
			Int("cap", limits.CreditsMonthly).
			Bool("rollover", limits.CreditsRollover).
			Msg("Refilled scan credits")
	}

	return l.store.GetOrganizationByID(org.ID)
}

// CheckAndDeduct consumes one scan credit for the organization, applying a
// lazy refill first if the period has elapsed. Returns the remaining balance.
// Unlimited plans never deduct and report models.Unlimited remaining.
func (l *Ledger) CheckAndDeduct(orgID string) (int, error) {
	org, err := l.store.GetOrganizationByID(orgID)
	if err != nil {
		return 0, fmt.Errorf("failed to load organization: %w", err)
	}

	if org.Plan.Limits().CreditsMonthly == models.Unlimited {
		return models.Unlimited, nil
	}

	if l.refillDue(org) {
		if org, err = l.applyRefill(org); err != nil {
			return 0, err
		}
	}

	remaining, ok, err := l.store.DeductCredit(orgID)
	if err != nil {
		return 0, fmt.Errorf("failed to deduct credit: %w", err)
	}
	if !ok {
		return 0, ErrInsufficientCredits
	}
	return remaining, nil
}

// Peek reports the organization's credit status without consuming anything.
// A due refill is projected into the result but not persisted, so reads
// stay cheap and the write happens on the next scan.
func (l *Ledger) Peek(orgID string) (*models.CreditStatus, error) {
	org, err := l.store.GetOrganizationByID(orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to load organization: %w", err)
	}

	limits := org.Plan.Limits()
	if limits.CreditsMonthly == models.Unlimited {
		return &models.CreditStatus{Remaining: models.Unlimited, Cap: models.Unlimited}, nil
	}

	remaining := org.CreditsBalance
	if l.refillDue(org) {
		remaining = rolloverBalance(limits, org.CreditsBalance)
	}

	return &models.CreditStatus{Remaining: remaining, Cap: limits.CreditsMonthly}, nil
}

// ApplyPlanChange moves an organization to a new plan. Upgrades grant the
// new cap immediately; downgrades clamp the balance so a leftover large
// balance cannot outlive the plan that paid for it.
func (l *Ledger) ApplyPlanChange(orgID string, newPlan models.Plan) error {
	org, err := l.store.GetOrganizationByID(orgID)
	if err != nil {
		return fmt.Errorf("failed to load organization: %w", err)
	}

	limits := newPlan.Limits()
	newCap := limits.CreditsMonthly

	var balance int
	switch {
	case newCap == models.Unlimited:
		balance = 0
	case org.CreditsMonthlyCap == models.Unlimited || newCap >= org.CreditsMonthlyCap:
		balance = newCap
	default:
		balance = org.CreditsBalance
		if balance > newCap {
			balance = newCap
		}
	}

	if err := l.store.UpdateOrganizationPlan(orgID, newPlan, balance, limits.CreditsMonthly); err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}

	logger.WithOrg(orgID).Info().
		Str("plan", string(newPlan)).
		Int("balance", balance).
		Msg("Applied plan change")
	return nil
}
