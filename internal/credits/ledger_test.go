package credits

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clawkeeper/internal/models"
	"clawkeeper/internal/storage"
)

func newTestLedger(t *testing.T, plan models.Plan) (*Ledger, *storage.MockStorage, *models.Organization) {
	t.Helper()

	store := storage.NewMockStorage()
	org, err := store.CreateOrganization("acme", "owner@acme.test", plan)
	require.NoError(t, err)

	return NewLedger(store), store, org
}

func TestCheckAndDeductDecrements(t *testing.T) {
	ledger, _, org := newTestLedger(t, models.PlanFree)

	remaining, err := ledger.CheckAndDeduct(org.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, remaining)

	remaining, err = ledger.CheckAndDeduct(org.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, remaining)
}

func TestCheckAndDeductExhaustion(t *testing.T) {
	ledger, store, org := newTestLedger(t, models.PlanFree)
	store.SetOrganizationCredits(org.ID, 1, 10, time.Now().UTC())

	remaining, err := ledger.CheckAndDeduct(org.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	_, err = ledger.CheckAndDeduct(org.ID)
	assert.ErrorIs(t, err, ErrInsufficientCredits)
}

func TestCheckAndDeductUnlimited(t *testing.T) {
	ledger, store, org := newTestLedger(t, models.PlanEnterprise)

	for i := 0; i < 50; i++ {
		remaining, err := ledger.CheckAndDeduct(org.ID)
		require.NoError(t, err)
		assert.Equal(t, models.Unlimited, remaining)
	}

	// Balance row is untouched for unlimited plans
	loaded, err := store.GetOrganizationByID(org.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.CreditsBalance)
}

func TestLazyRefillWithoutRollover(t *testing.T) {
	ledger, store, org := newTestLedger(t, models.PlanFree)

	// Free plan: 3 leftover credits are discarded at the period boundary
	staleRefill := time.Now().UTC().Add(-31 * 24 * time.Hour)
	store.SetOrganizationCredits(org.ID, 3, 10, staleRefill)

	remaining, err := ledger.CheckAndDeduct(org.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, remaining)

	loaded, err := store.GetOrganizationByID(org.ID)
	require.NoError(t, err)
	assert.True(t, loaded.CreditsLastRefillAt.After(staleRefill))
}

func TestLazyRefillWithRollover(t *testing.T) {
	tests := []struct {
		name          string
		balance       int
		wantRemaining int
	}{
		{name: "partial balance rolls over", balance: 150, wantRemaining: 349},
		{name: "rollover capped at twice monthly", balance: 350, wantRemaining: 399},
		{name: "empty balance refills to cap", balance: 0, wantRemaining: 199},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger, store, org := newTestLedger(t, models.PlanPro)
			store.SetOrganizationCredits(org.ID, tt.balance, 200, time.Now().UTC().Add(-31*24*time.Hour))

			remaining, err := ledger.CheckAndDeduct(org.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRemaining, remaining)
		})
	}
}

func TestRefillNotDueBeforeInterval(t *testing.T) {
	ledger, store, org := newTestLedger(t, models.PlanFree)

	recentRefill := time.Now().UTC().Add(-29 * 24 * time.Hour)
	store.SetOrganizationCredits(org.ID, 3, 10, recentRefill)

	remaining, err := ledger.CheckAndDeduct(org.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)

	loaded, err := store.GetOrganizationByID(org.ID)
	require.NoError(t, err)
	assert.True(t, loaded.CreditsLastRefillAt.Equal(recentRefill))
}

func TestConcurrentDeductNeverOverspends(t *testing.T) {
	ledger, store, org := newTestLedger(t, models.PlanFree)
	store.SetOrganizationCredits(org.ID, 5, 10, time.Now().UTC())

	const attempts = 20
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.CheckAndDeduct(org.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var granted, denied int
	for err := range results {
		switch {
		case err == nil:
			granted++
		case err == ErrInsufficientCredits:
			denied++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 5, granted)
	assert.Equal(t, attempts-5, denied)

	loaded, err := store.GetOrganizationByID(org.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.CreditsBalance)
}

func TestConcurrentRefillAppliesOnce(t *testing.T) {
	ledger, store, org := newTestLedger(t, models.PlanFree)
	store.SetOrganizationCredits(org.ID, 0, 10, time.Now().UTC().Add(-40*24*time.Hour))

	const attempts = 10
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ledger.CheckAndDeduct(org.ID)
		}()
	}
	wg.Wait()

	// One refill to 10, then ten deductions
	loaded, err := store.GetOrganizationByID(org.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.CreditsBalance)
}

func TestPeekProjectsRefillWithoutPersisting(t *testing.T) {
	ledger, store, org := newTestLedger(t, models.PlanFree)

	staleRefill := time.Now().UTC().Add(-31 * 24 * time.Hour)
	store.SetOrganizationCredits(org.ID, 2, 10, staleRefill)

	status, err := ledger.Peek(org.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, status.Remaining)
	assert.Equal(t, 10, status.Cap)

	// Peek is read-only
	loaded, err := store.GetOrganizationByID(org.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.CreditsBalance)
	assert.True(t, loaded.CreditsLastRefillAt.Equal(staleRefill))
}

func TestPeekUnlimited(t *testing.T) {
	ledger, _, org := newTestLedger(t, models.PlanEnterprise)

	status, err := ledger.Peek(org.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Unlimited, status.Remaining)
	assert.Equal(t, models.Unlimited, status.Cap)
}

func TestApplyPlanChange(t *testing.T) {
	t.Run("upgrade grants new cap", func(t *testing.T) {
		ledger, store, org := newTestLedger(t, models.PlanFree)
		store.SetOrganizationCredits(org.ID, 4, 10, time.Now().UTC())

		require.NoError(t, ledger.ApplyPlanChange(org.ID, models.PlanPro))

		loaded, err := store.GetOrganizationByID(org.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PlanPro, loaded.Plan)
		assert.Equal(t, 200, loaded.CreditsBalance)
		assert.Equal(t, 200, loaded.CreditsMonthlyCap)
	})

	t.Run("downgrade clamps balance", func(t *testing.T) {
		ledger, store, org := newTestLedger(t, models.PlanPro)
		store.SetOrganizationCredits(org.ID, 180, 200, time.Now().UTC())

		require.NoError(t, ledger.ApplyPlanChange(org.ID, models.PlanFree))

		loaded, err := store.GetOrganizationByID(org.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PlanFree, loaded.Plan)
		assert.Equal(t, 10, loaded.CreditsBalance)
		assert.Equal(t, 10, loaded.CreditsMonthlyCap)
	})

	t.Run("upgrade to enterprise zeroes balance", func(t *testing.T) {
		ledger, store, org := newTestLedger(t, models.PlanPro)

		require.NoError(t, ledger.ApplyPlanChange(org.ID, models.PlanEnterprise))

		loaded, err := store.GetOrganizationByID(org.ID)
		require.NoError(t, err)
		assert.Equal(t, models.Unlimited, loaded.CreditsMonthlyCap)
		assert.Equal(t, 0, loaded.CreditsBalance)
	})
}
