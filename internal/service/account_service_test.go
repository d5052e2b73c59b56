package service

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"

	"creditledger/internal/config"
	"creditledger/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureAccount_WelcomeCreditOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, created, err := env.accounts.EnsureAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := env.accounts.EnsureAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, again)

	welcome := env.entries(t, id, model.ReferenceWelcomeBonus)
	require.Len(t, welcome, 1)
	assert.Equal(t, int64(1000), welcome[0].Amount)
	assert.True(t, env.clock.Now().Equal(welcome[0].CreatedAt))

	acc := env.mustAccount(t, id)
	assert.Equal(t, "CREDIT", acc.Currency)
	assert.True(t, acc.IsActive)
}

func TestEnsureAccount_Concurrent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const callers = 12
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[int64]struct{}{}
		creates int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, created, err := env.accounts.EnsureAccount(ctx, "shared-user")
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			ids[id] = struct{}{}
			if created {
				creates++
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 1)
	assert.Equal(t, 1, creates)
	for id := range ids {
		assert.Len(t, env.entries(t, id, model.ReferenceWelcomeBonus), 1)
		assert.Equal(t, int64(1000), env.balance(t, id).Balance)
	}
}

func TestEnsureAccount_NoWelcomeCredit(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Business.WelcomeCredit = 0 })
	id := env.account(t, "user-1")

	assert.Zero(t, env.balance(t, id).Balance)
	page, err := env.accounts.ListTransactions(context.Background(), id, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestEnsureAccount_InvalidUserID(t *testing.T) {
	env := newTestEnv(t)
	for _, userID := range []string{"", strings.Repeat("x", 129)} {
		_, _, err := env.accounts.EnsureAccount(context.Background(), userID)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	}
}

func TestGetBalance_UnknownAccount(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.accounts.GetBalance(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListTransactions_Paging(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Business.DefaultPageSize = 2
		c.Business.MaxPageSize = 3
	})
	ctx := context.Background()
	accountID := env.account(t, "user-1")
	for i := 0; i < 3; i++ {
		res := env.reserve(t, accountID, 10)
		_, err := env.reservations.CommitReservation(ctx, accountID, res.ReservationID, "")
		require.NoError(t, err)
	}
	// 1 welcome + 3 x (reserve, debit)

	page, err := env.accounts.ListTransactions(ctx, accountID, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(7), page.Total)
	assert.Equal(t, 2, page.PageSize)
	assert.Len(t, page.List, 2)
	assert.Equal(t, model.TransactionTypeDebit, page.List[0].Type, "newest first")

	page, err = env.accounts.ListTransactions(ctx, accountID, 1, 500)
	require.NoError(t, err)
	assert.Equal(t, 3, page.PageSize)
	assert.Len(t, page.List, 3, "page size is clamped")

	page, err = env.accounts.ListTransactions(ctx, accountID, 3, 3)
	require.NoError(t, err)
	require.Len(t, page.List, 1)
	assert.Equal(t, model.ReferenceWelcomeBonus, page.List[0].Reference)

	page, err = env.accounts.ListTransactions(ctx, accountID, -4, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Len(t, page.List, 3)

	_, err = env.accounts.ListTransactions(ctx, accountID+1, 1, 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListTransactions_HugePageIsClamped(t *testing.T) {
	env := newTestEnv(t)
	accountID := env.account(t, "user-1")

	page, err := env.accounts.ListTransactions(context.Background(), accountID, math.MaxInt, 0)
	require.NoError(t, err)
	assert.Equal(t, MaxPage, page.Page)
	assert.Equal(t, int64(1), page.Total)
	assert.Empty(t, page.List, "an out-of-range page is empty, never the first page")
}

func TestReconcile_HealsDrift(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	accountID := env.account(t, "user-1")

	corrected, err := env.accounts.Reconcile(ctx, accountID)
	require.NoError(t, err)
	assert.False(t, corrected)

	require.NoError(t, env.db.Model(&model.Account{}).Where("id = ?", accountID).Update("balance", 5).Error)

	corrected, err = env.accounts.Reconcile(ctx, accountID)
	require.NoError(t, err)
	assert.True(t, corrected)
	assert.Equal(t, int64(1000), env.balance(t, accountID).Balance)

	corrected, err = env.accounts.Reconcile(ctx, accountID)
	require.NoError(t, err)
	assert.False(t, corrected)
}

func TestGetBalance_ReconcileOnRead(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Business.ReconcileOnRead = true })
	accountID := env.account(t, "user-1")
	require.NoError(t, env.db.Model(&model.Account{}).Where("id = ?", accountID).Update("balance", 1).Error)

	assert.Equal(t, int64(1000), env.balance(t, accountID).Balance)
}

func TestCreateReservation_ReconcilesBeforeHold(t *testing.T) {
	env := newTestEnv(t)
	accountID := env.account(t, "user-1")
	require.NoError(t, env.db.Model(&model.Account{}).Where("id = ?", accountID).Update("balance", 50).Error)

	_, err := env.reservations.CreateReservation(context.Background(), CreateReservationInput{AccountID: accountID, Amount: 600, JobID: "j"})
	require.NoError(t, err, "the drifted cache must not block a hold the ledger covers")
	env.requireLedgerMatches(t, accountID)
}
