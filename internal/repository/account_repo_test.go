package repository

import (
	"context"
	"testing"
	"time"

	"creditledger/internal/model"
	"creditledger/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestAccountRepository_CreateIfAbsent(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	created, err := repo.CreateIfAbsent(ctx, nil, &model.Account{UserID: "u-1", Balance: 200, IsActive: true})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.CreateIfAbsent(ctx, nil, &model.Account{UserID: "u-1", Balance: 999, IsActive: true})
	require.NoError(t, err)
	assert.False(t, created)

	acc, err := repo.GetByUserID(ctx, nil, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), acc.Balance)

	_, err = repo.GetByUserID(ctx, nil, "u-2")
	assert.ErrorIs(t, err, ErrAccountNotFound)
	_, err = repo.GetByID(ctx, nil, 4242)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestAccountRepository_VersionedWrites(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	acc := &model.Account{UserID: "u-1", Balance: 100, IsActive: true}
	_, err := repo.CreateIfAbsent(ctx, nil, acc)
	require.NoError(t, err)

	require.NoError(t, repo.ApplyDelta(ctx, nil, acc.ID, -30, 0))
	assert.ErrorIs(t, repo.ApplyDelta(ctx, nil, acc.ID, -30, 0), ErrOptimisticLock, "stale version must not apply")

	require.NoError(t, repo.Touch(ctx, nil, acc.ID, 1))
	require.NoError(t, repo.SetBalance(ctx, nil, acc.ID, 500, 2))
	assert.ErrorIs(t, repo.SetBalance(ctx, nil, acc.ID, 1, 2), ErrOptimisticLock)

	got, err := repo.GetByID(ctx, nil, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.Balance)
	assert.Equal(t, int64(3), got.Version)
}

func TestAccountRepository_GetByIDForUpdate(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	acc := &model.Account{UserID: "u-1", IsActive: true}
	_, err := repo.CreateIfAbsent(ctx, nil, acc)
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		locked, err := repo.GetByIDForUpdate(ctx, tx, acc.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, "u-1", locked.UserID)
		_, err = repo.GetByIDForUpdate(ctx, tx, acc.ID+1)
		assert.ErrorIs(t, err, ErrAccountNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestAccountRepository_ListIDsUpdatedSince(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	for _, u := range []string{"a", "b", "c"} {
		_, err := repo.CreateIfAbsent(ctx, nil, &model.Account{UserID: u, IsActive: true})
		require.NoError(t, err)
	}

	ids, err := repo.ListIDsUpdatedSince(ctx, time.Time{}, 0, 2)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	rest, err := repo.ListIDsUpdatedSince(ctx, time.Time{}, ids[1], 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)

	none, err := repo.ListIDsUpdatedSince(ctx, time.Now().UTC().Add(time.Hour), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
