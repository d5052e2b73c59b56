package service

import (
	"context"
	"testing"

	"creditledger/internal/config"
	"creditledger/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A full hold, settle and top-up cycle for one account.
func TestLedger_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	accountID := env.account(t, "user-1")
	assert.Equal(t, int64(1000), env.balance(t, accountID).Available)

	first := env.reserve(t, accountID, 400)
	b := env.balance(t, accountID)
	assert.Equal(t, int64(1000), b.Balance)
	assert.Equal(t, int64(400), b.Held)
	assert.Equal(t, int64(600), b.Available)

	_, err := env.reservations.CreateReservation(ctx, CreateReservationInput{AccountID: accountID, Amount: 700, JobID: "job-2"})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	debited, err := env.reservations.CommitReservation(ctx, accountID, first.ReservationID, "")
	require.NoError(t, err)
	assert.Equal(t, int64(400), debited)

	b = env.balance(t, accountID)
	assert.Equal(t, int64(600), b.Balance)
	assert.Equal(t, int64(0), b.Held)

	_, err = env.reservations.ReleaseReservation(ctx, accountID, 987654, "", "")
	assert.ErrorIs(t, err, ErrNotFound)

	intent, err := env.topups.CreateTopUpIntent(ctx, TopUpInput{AccountID: accountID, Amount: 500})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, intent.Status)
	assert.Equal(t, int64(600), env.balance(t, accountID).Balance, "an intent alone never credits")

	require.NoError(t, env.topups.HandleProviderConfirmation(ctx, intent.ProviderIntentRef, `{"status":"ok"}`))
	require.NoError(t, env.topups.HandleProviderConfirmation(ctx, intent.ProviderIntentRef, `{"status":"ok"}`))
	assert.Equal(t, int64(1100), env.balance(t, accountID).Balance)

	env.requireLedgerMatches(t, accountID)

	credits := env.entries(t, accountID, intent.ProviderIntentRef)
	require.Len(t, credits, 1)
	assert.Equal(t, model.TransactionTypeCredit, credits[0].Type)

	settled := env.entries(t, accountID, model.ReservationReference(first.ReservationID))
	require.Len(t, settled, 2)
	assert.Equal(t, model.TransactionTypeReserve, settled[0].Type)
	assert.Equal(t, model.TransactionTypeDebit, settled[1].Type)
}

func TestLedger_OutboxOnlyWhenBrokerConfigured(t *testing.T) {
	countPending := func(env *testEnv) int64 {
		return env.count(t, &model.OutboxMessage{}, "status = ?", model.OutboxStatusPending)
	}

	env := newTestEnv(t)
	accountID := env.account(t, "user-1")
	res := env.reserve(t, accountID, 100)
	_, err := env.reservations.CommitReservation(context.Background(), accountID, res.ReservationID, "")
	require.NoError(t, err)
	assert.Zero(t, countPending(env))

	env = newTestEnv(t, func(c *config.Config) {
		c.Kafka.Brokers = []string{"localhost:9092"}
		c.Kafka.Topic.LedgerEvents = "ledger-events"
	})
	accountID = env.account(t, "user-1")
	res = env.reserve(t, accountID, 100)
	_, err = env.reservations.CommitReservation(context.Background(), accountID, res.ReservationID, "")
	require.NoError(t, err)
	released := env.reserve(t, accountID, 50)
	_, err = env.reservations.ReleaseReservation(context.Background(), accountID, released.ReservationID, "cancelled by user", "")
	require.NoError(t, err)

	assert.Equal(t, int64(2), countPending(env))
	pending, err := env.reservations.outbox.GetPendingMessages(context.Background(), 10)
	require.NoError(t, err)
	assert.Contains(t, pending[0].Payload, model.EventReservationCommitted)
	assert.Contains(t, pending[1].Payload, model.EventReservationReleased)
	assert.Equal(t, model.AccountMessageKey(accountID), pending[0].MessageKey)
}
