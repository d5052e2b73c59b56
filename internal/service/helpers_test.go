package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/model"
	"creditledger/internal/repository"
	"creditledger/internal/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	db           *gorm.DB
	cfg          *config.Config
	clock        *fakeClock
	accounts     *AccountService
	reservations *ReservationService
	topups       *TopUpService
	ledgerRepo   *repository.TransactionRepository
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Business.WelcomeCredit = 1000
	cfg.Payment.WebhookSecret = ""
	return cfg
}

func testOpts(clock *fakeClock) []Option {
	return []Option{
		WithClock(clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRetryPolicy(RetryPolicy{MaxTries: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}),
	}
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}
	db := testutil.NewDB(t)
	clock := newFakeClock()
	opts := testOpts(clock)
	return &testEnv{
		db:           db,
		cfg:          cfg,
		clock:        clock,
		accounts:     NewAccountService(db, cfg, opts...),
		reservations: NewReservationService(db, cfg, opts...),
		topups:       NewTopUpService(db, cfg, opts...),
		ledgerRepo:   repository.NewTransactionRepository(db),
	}
}

func (e *testEnv) account(t *testing.T, userID string) int64 {
	t.Helper()
	id, _, err := e.accounts.EnsureAccount(context.Background(), userID)
	require.NoError(t, err)
	return id
}

func (e *testEnv) balance(t *testing.T, accountID int64) *Balance {
	t.Helper()
	b, err := e.accounts.GetBalance(context.Background(), accountID)
	require.NoError(t, err)
	return b
}

func (e *testEnv) reserve(t *testing.T, accountID, amount int64) *ReservationResult {
	t.Helper()
	res, err := e.reservations.CreateReservation(context.Background(), CreateReservationInput{
		AccountID: accountID,
		Amount:    amount,
		JobID:     "job",
	})
	require.NoError(t, err)
	return res
}

// requireLedgerMatches checks that the cached balance equals the signed ledger sum.
func (e *testEnv) requireLedgerMatches(t *testing.T, accountID int64) {
	t.Helper()
	sum, err := e.ledgerRepo.SumBalance(context.Background(), nil, accountID)
	require.NoError(t, err)
	require.Equal(t, sum, e.balance(t, accountID).Balance)
}

func (e *testEnv) entries(t *testing.T, accountID int64, reference string) []*model.AccountTransaction {
	t.Helper()
	var entries []*model.AccountTransaction
	require.NoError(t, e.db.Where("account_id = ? AND reference = ?", accountID, reference).
		Order("id ASC").Find(&entries).Error)
	return entries
}

func (e *testEnv) mustAccount(t *testing.T, accountID int64) *model.Account {
	t.Helper()
	var acc model.Account
	require.NoError(t, e.db.First(&acc, accountID).Error)
	return &acc
}

func (e *testEnv) count(t *testing.T, table interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(table).Where(query, args...).Count(&n).Error)
	return n
}
