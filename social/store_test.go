package social

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/divelog/server/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func pendingEdge(subjectID, objectID int64) *model.Relationship {
	return &model.Relationship{
		SubjectID:   subjectID,
		ObjectID:    objectID,
		Status:      model.StatusPending,
		RequestedAt: time.Now().UTC(),
	}
}

func TestGormStore_InsertDuplicateIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Insert(ctx, pendingEdge(1, 2)))

	err := f.store.Insert(ctx, pendingEdge(1, 2))
	require.Error(t, err)
	assert.Equal(t, KindConflict, KindOf(err))

	// the reverse direction is a different pair
	assert.NoError(t, f.store.Insert(ctx, pendingEdge(2, 1)))
}

func TestGormStore_FindMissing(t *testing.T) {
	f := newFixture(t)
	rel, err := f.store.Find(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Nil(t, rel)
	rel, err = f.store.FindByID(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, rel)
}

func TestGormStore_EvaluateOnlyPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rel := pendingEdge(1, 2)
	require.NoError(t, f.store.Insert(ctx, rel))
	at := time.Now().UTC()

	require.NoError(t, f.store.Evaluate(ctx, rel.ID, model.StatusRejected, "x", at, false))
	err := f.store.Evaluate(ctx, rel.ID, model.StatusApproved, "", at, false)
	assert.Equal(t, KindConflict, KindOf(err))

	got, err := f.store.FindByID(ctx, rel.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, got.Status)
	require.NotNil(t, got.EvaluatedAt)
}

func TestGormStore_ResetOnlyRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rel := pendingEdge(1, 2)
	require.NoError(t, f.store.Insert(ctx, rel))

	err := f.store.ResetToPending(ctx, rel.ID, time.Now().UTC())
	assert.Equal(t, KindConflict, KindOf(err))

	require.NoError(t, f.store.Evaluate(ctx, rel.ID, model.StatusRejected, "no", time.Now().UTC(), false))
	require.NoError(t, f.store.ResetToPending(ctx, rel.ID, time.Now().UTC()))
	got, err := f.store.FindByID(ctx, rel.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Nil(t, got.EvaluatedAt)
}

func TestGormStore_UpsertApprovedIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, f.store.UpsertApproved(ctx, 1, 2, "r", at, false))
	first, err := f.store.Find(ctx, 1, 2)
	require.NoError(t, err)
	require.NoError(t, f.store.UpsertApproved(ctx, 1, 2, "r", at, false))
	second, err := f.store.Find(ctx, 1, 2)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, model.StatusApproved, second.Status)
	assert.True(t, second.EvaluatedAt.Equal(at))
	assert.Equal(t, int64(1), f.countPair(t, 1, 2))
}

func TestGormStore_DeleteMissingIsNoop(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.store.Delete(context.Background(), 1, 2))
	assert.NoError(t, f.store.DeleteMany(context.Background(), 1, []int64{2, 3}))
}

func TestGormStore_CountActiveOutgoing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := int64(2); i <= 4; i++ {
		require.NoError(t, f.store.Insert(ctx, pendingEdge(1, i)))
	}
	rel, err := f.store.Find(ctx, 1, 4)
	require.NoError(t, err)
	require.NoError(t, f.store.Evaluate(ctx, rel.ID, model.StatusRejected, "", time.Now().UTC(), false))
	require.NoError(t, f.store.UpsertApproved(ctx, 1, 5, "", time.Now().UTC(), false))

	n, err := f.store.CountActiveOutgoing(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestGormStore_TransactionRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.store.Transaction(ctx, func(tx Store) error {
		if err := tx.Insert(ctx, pendingEdge(1, 2)); err != nil {
			return err
		}
		return newError(KindConflict, "test", "abort")
	})
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Nil(t, f.edge(t, 1, 2))
}

func TestGormStore_LockPair(t *testing.T) {
	f := newFixture(t)
	alice := f.account(t, "alice", model.VisibilityPublic)
	bob := f.account(t, "bob", model.VisibilityPublic)
	ctx := context.Background()

	require.NoError(t, f.store.LockPair(ctx, alice.ID, bob.ID))
	err := f.store.Transaction(ctx, func(tx Store) error {
		if err := tx.LockPair(ctx, bob.ID, alice.ID); err != nil {
			return err
		}
		return tx.Insert(ctx, pendingEdge(alice.ID, bob.ID))
	})
	require.NoError(t, err)
	assert.NotNil(t, f.edge(t, alice.ID, bob.ID))
}

func TestGormStore_ClosedDBIsUnavailable(t *testing.T) {
	f := newFixture(t)
	sqlDB, err := f.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = f.store.Find(context.Background(), 1, 2)
	require.Error(t, err)
	assert.Equal(t, KindUnavailable, KindOf(err))
	assert.True(t, IsRetryable(err))
}

func TestStoreError(t *testing.T) {
	assert.Nil(t, storeError("op", nil))
	assert.Equal(t, KindConflict, KindOf(storeError("op", gorm.ErrDuplicatedKey)))
	assert.Equal(t, KindConflict, KindOf(storeError("op", errors.New("UNIQUE constraint failed: relationships.subject_id"))))
	assert.Equal(t, KindUnavailable, KindOf(storeError("op", context.DeadlineExceeded)))

	inner := newError(KindForbidden, "inner", "nope")
	err := storeError("op", fmt.Errorf("wrapped: %w", inner))
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, KindForbidden, KindOf(err))
}
