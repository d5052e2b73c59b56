package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"creditledger/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listCall struct {
	since   time.Time
	afterID int64
}

type fakeAccounts struct {
	ids   []int64
	calls []listCall
}

func (f *fakeAccounts) ListIDsUpdatedSince(_ context.Context, since time.Time, afterID int64, limit int) ([]int64, error) {
	f.calls = append(f.calls, listCall{since: since, afterID: afterID})
	var out []int64
	for _, id := range f.ids {
		if id > afterID && len(out) < limit {
			out = append(out, id)
		}
	}
	return out, nil
}

type fakeReconciler struct {
	drifted map[int64]bool
	failing map[int64]bool
	seen    []int64
}

func (f *fakeReconciler) Reconcile(_ context.Context, accountID int64) (bool, error) {
	f.seen = append(f.seen, accountID)
	if f.failing[accountID] {
		return false, errors.New("store unavailable")
	}
	return f.drifted[accountID], nil
}

func TestBalanceReconcileJob_RunOnce(t *testing.T) {
	cfg := config.Default()
	cfg.Business.ReconcileBatchSize = 2
	cfg.Business.ReconcileInterval = 10 * time.Minute

	accounts := &fakeAccounts{ids: []int64{1, 2, 3, 4, 5}}
	reconciler := &fakeReconciler{
		drifted: map[int64]bool{2: true, 5: true},
		failing: map[int64]bool{4: true},
	}
	j := NewBalanceReconcileJob(reconciler, accounts, cfg, nil, discard)

	start := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return start }

	checked, corrected, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, checked)
	assert.Equal(t, 2, corrected)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, reconciler.seen)

	require.Len(t, accounts.calls, 3)
	assert.True(t, accounts.calls[0].since.IsZero(), "the first run covers every account")
	assert.Equal(t, int64(2), accounts.calls[1].afterID)
	assert.Equal(t, int64(4), accounts.calls[2].afterID)

	accounts.calls = nil
	_, _, err = j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, start.Add(-10*time.Minute), accounts.calls[0].since)
}

func TestBalanceReconcileJob_SkipsWhenLockHeld(t *testing.T) {
	accounts := &fakeAccounts{ids: []int64{1}}
	reconciler := &fakeReconciler{}
	j := NewBalanceReconcileJob(reconciler, accounts, config.Default(), (&fakeLocker{}).factory(), discard)

	_, _, err := j.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrLockHeld)
	assert.Empty(t, reconciler.seen)
}
