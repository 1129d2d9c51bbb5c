package social

import (
	"context"
	"testing"
	"time"

	"github.com/divelog/server/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flakyLifecycle(t *testing.T, f *fixture, failures int, cfg Config) (*Lifecycle, *flakyStore) {
	t.Helper()
	fs := &flakyStore{Store: f.store, failures: failures}
	return NewLifecycle(fs, f.accounts, f.notifier, cfg, f.life.logger), fs
}

func TestGuard_NonAtomicRetriesTransientFailure(t *testing.T) {
	f := newFixture(t)
	life, fs := flakyLifecycle(t, f, 2, f.cfg)
	alice := f.account(t, "alice", model.VisibilityPublic)
	bob := f.account(t, "bob", model.VisibilityPublic)
	ctx := context.Background()

	rel, err := life.RequestFriendship(ctx, alice.ID, bob.ID, model.RoleUser)
	require.NoError(t, err)
	_, err = life.ApproveRequest(ctx, bob.ID, rel, "")
	require.NoError(t, err)

	assert.Equal(t, 3, fs.calls)
	back := f.edge(t, bob.ID, alice.ID)
	require.NotNil(t, back)
	assert.Equal(t, model.StatusApproved, back.Status)
	assert.False(t, f.edge(t, alice.ID, bob.ID).MirrorPending)
}

func TestGuard_AbandonedMirrorIsRepaired(t *testing.T) {
	f := newFixture(t)
	life, _ := flakyLifecycle(t, f, 100, f.cfg)
	alice := f.account(t, "alice", model.VisibilityPublic)
	bob := f.account(t, "bob", model.VisibilityPublic)
	ctx := context.Background()

	rel, err := life.RequestFriendship(ctx, alice.ID, bob.ID, model.RoleUser)
	require.NoError(t, err)
	_, err = life.ApproveRequest(ctx, bob.ID, rel, "ok")
	require.Error(t, err)
	assert.True(t, IsRetryable(err))

	half := f.edge(t, alice.ID, bob.ID)
	assert.Equal(t, model.StatusApproved, half.Status)
	assert.True(t, half.MirrorPending)
	assert.Nil(t, f.edge(t, bob.ID, alice.ID))

	rep := NewRepairer(f.store, f.cfg, 0, f.life.logger)
	fixed, err := rep.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fixed)

	forward := f.edge(t, alice.ID, bob.ID)
	back := f.edge(t, bob.ID, alice.ID)
	require.NotNil(t, back)
	assert.Equal(t, model.StatusApproved, back.Status)
	assert.Equal(t, "ok", back.Reason)
	assert.True(t, forward.EvaluatedAt.Equal(*back.EvaluatedAt))
	assert.False(t, forward.MirrorPending)

	fixed, err = rep.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, fixed)
}

func TestGuard_RetriedApproveFinishesAbandonedMirror(t *testing.T) {
	f := newFixture(t)
	life, fs := flakyLifecycle(t, f, 100, f.cfg)
	alice := f.account(t, "alice", model.VisibilityPublic)
	bob := f.account(t, "bob", model.VisibilityPublic)
	ctx := context.Background()

	rel, err := life.RequestFriendship(ctx, alice.ID, bob.ID, model.RoleUser)
	require.NoError(t, err)
	_, err = life.ApproveRequest(ctx, bob.ID, rel, "see you underwater")
	require.Error(t, err)
	assert.Equal(t, KindUnavailable, KindOf(err))

	fs.mu.Lock()
	fs.failures = 0
	fs.mu.Unlock()

	half, err := life.FindRequest(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	require.True(t, half.MirrorPending)

	_, err = life.RejectRequest(ctx, bob.ID, half, "")
	assert.Equal(t, KindConflict, KindOf(err))
	_, err = life.ApproveRequest(ctx, alice.ID, half, "")
	assert.Equal(t, KindForbidden, KindOf(err))

	out, err := life.ApproveRequest(ctx, bob.ID, half, "ignored")
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, out.Status)
	assert.Equal(t, "see you underwater", out.Reason)
	assert.False(t, out.MirrorPending)
	assert.True(t, out.EvaluatedAt.Equal(*half.EvaluatedAt))

	forward := f.edge(t, alice.ID, bob.ID)
	back := f.edge(t, bob.ID, alice.ID)
	require.NotNil(t, back)
	assert.Equal(t, model.StatusApproved, back.Status)
	assert.Equal(t, "see you underwater", back.Reason)
	assert.True(t, forward.EvaluatedAt.Equal(*back.EvaluatedAt))
	assert.False(t, forward.MirrorPending)

	sent := f.notifier.Sent()
	require.NotEmpty(t, sent)
	assert.Equal(t, sentMail{To: alice.ID, Subject: "Friend request approved"}, sent[len(sent)-1])

	again, err := life.FindRequest(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	_, err = life.ApproveRequest(ctx, bob.ID, again, "")
	assert.Equal(t, KindConflict, KindOf(err))

	fixed, err := NewRepairer(f.store, f.cfg, 0, f.life.logger).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, fixed)
}

func TestRepair_LeavesAsymmetricDeleteAlone(t *testing.T) {
	f := newFixture(t)
	alice := f.account(t, "alice", model.VisibilityPublic)
	bob := f.account(t, "bob", model.VisibilityPublic)
	ctx := context.Background()
	f.befriend(t, alice, bob)
	require.NoError(t, f.life.DeleteFriendship(ctx, bob.ID, alice.ID))

	fixed, err := NewRepairer(f.store, f.cfg, 10, f.life.logger).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, fixed)
	assert.Nil(t, f.edge(t, bob.ID, alice.ID))
}

func TestGuard_AtomicRollsBackOnMirrorFailure(t *testing.T) {
	f := newFixture(t)
	alice := f.account(t, "alice", model.VisibilityPublic)
	bob := f.account(t, "bob", model.VisibilityPublic)
	ctx := context.Background()

	rel, err := f.life.RequestFriendship(ctx, alice.ID, bob.ID, model.RoleUser)
	require.NoError(t, err)

	// Inside a transaction the tx-bound store is used directly, so wrap the
	// store at the Transaction boundary.
	g := NewGuard(&failingTxStore{Store: f.store}, f.cfg, f.life.logger)
	err = g.ApplyApproval(ctx, rel, "", time.Now().UTC())
	require.Error(t, err)
	assert.Equal(t, KindUnavailable, KindOf(err))

	assert.Equal(t, model.StatusPending, f.edge(t, alice.ID, bob.ID).Status)
	assert.Nil(t, f.edge(t, bob.ID, alice.ID))
}

func TestGuard_LinkPairNonAtomic(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.AtomicApproval = false })
	alice := f.account(t, "alice", model.VisibilityPublic)
	bob := f.account(t, "bob", model.VisibilityPublic)
	at := time.Now().UTC().Truncate(time.Microsecond)

	g := NewGuard(f.store, f.cfg, f.life.logger)
	require.NoError(t, g.LinkPair(context.Background(), alice.ID, bob.ID, "", at))

	a := f.edge(t, alice.ID, bob.ID)
	b := f.edge(t, bob.ID, alice.ID)
	assert.False(t, a.MirrorPending)
	assert.Equal(t, model.StatusApproved, b.Status)
	assert.True(t, a.EvaluatedAt.Equal(at))
}

func TestGuard_MirrorHonoursCancel(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.MirrorRetryBackoff = time.Hour })
	fs := &flakyStore{Store: f.store, failures: 5}
	g := NewGuard(fs, f.cfg, f.life.logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.mirror(ctx, 1, 2, 3, "", time.Now().UTC())
	assert.Equal(t, KindUnavailable, KindOf(err))
	assert.Equal(t, 1, fs.calls)
}

// failingTxStore hands fn a tx store whose reciprocal upsert always fails.
type failingTxStore struct {
	Store
}

func (s *failingTxStore) Transaction(ctx context.Context, fn func(Store) error) error {
	return s.Store.Transaction(ctx, func(tx Store) error {
		return fn(&flakyStore{Store: tx, failures: 1, atomic: true})
	})
}
