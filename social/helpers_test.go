package social

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/divelog/server/model"
	"github.com/divelog/server/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type sentMail struct {
	To      int64
	Subject string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMail
	fail bool
}

func (n *recordingNotifier) SendMail(_ context.Context, to *model.Account, subject, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("smtp down")
	}
	n.sent = append(n.sent, sentMail{To: to.ID, Subject: subject})
	return nil
}

func (n *recordingNotifier) Sent() []sentMail {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMail(nil), n.sent...)
}

type fixture struct {
	db       *gorm.DB
	store    *GormStore
	accounts *GormAccounts
	notifier *recordingNotifier
	life     *Lifecycle
	eval     *Evaluator
	roster   *Roster
	cfg      Config
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MirrorRetryBackoff = time.Millisecond
	for _, m := range mutate {
		m(&cfg)
	}
	db := testutil.SetupTestDB(t)
	f := &fixture{
		db:       db,
		store:    NewGormStore(db, 5*time.Second),
		accounts: NewGormAccounts(db),
		notifier: &recordingNotifier{},
		cfg:      cfg,
	}
	logger := testutil.Logger(t)
	f.life = NewLifecycle(f.store, f.accounts, f.notifier, cfg, logger)
	f.eval = NewEvaluator(f.store, f.accounts, cfg)
	f.roster = NewRoster(f.store, f.accounts)
	return f
}

func (f *fixture) account(t *testing.T, name string, vis model.Visibility) *model.Account {
	t.Helper()
	return testutil.CreateAccount(t, f.db, name, model.RoleUser, vis)
}

func (f *fixture) admin(t *testing.T, name string) *model.Account {
	t.Helper()
	return testutil.CreateAccount(t, f.db, name, model.RoleAdmin, model.VisibilityPrivate)
}

// edge loads subject→object straight from the store.
func (f *fixture) edge(t *testing.T, subjectID, objectID int64) *model.Relationship {
	t.Helper()
	rel, err := f.store.Find(context.Background(), subjectID, objectID)
	require.NoError(t, err)
	return rel
}

func (f *fixture) countPair(t *testing.T, subjectID, objectID int64) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&model.Relationship{}).
		Where("subject_id = ? AND object_id = ?", subjectID, objectID).Count(&n).Error)
	return n
}

// approved inserts subject→object as approved without its reciprocal.
func (f *fixture) approved(t *testing.T, subjectID, objectID int64) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, f.store.Insert(context.Background(), &model.Relationship{
		SubjectID:   subjectID,
		ObjectID:    objectID,
		Status:      model.StatusApproved,
		RequestedAt: now,
		EvaluatedAt: &now,
	}))
}

// befriend runs the full request/approve cycle a→b.
func (f *fixture) befriend(t *testing.T, a, b *model.Account) {
	t.Helper()
	ctx := context.Background()
	rel, err := f.life.RequestFriendship(ctx, a.ID, b.ID, a.Role)
	require.NoError(t, err)
	_, err = f.life.ApproveRequest(ctx, b.ID, rel, "")
	require.NoError(t, err)
}

// flakyStore fails UpsertApproved a fixed number of times with Unavailable.
type flakyStore struct {
	Store
	mu       sync.Mutex
	failures int
	calls    int
	atomic   bool
}

func (s *flakyStore) UpsertApproved(ctx context.Context, subjectID, objectID int64, reason string, at time.Time, mirrorPending bool) error {
	s.mu.Lock()
	s.calls++
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return &Error{Kind: KindUnavailable, Op: "flaky", Msg: "store timeout", Err: context.DeadlineExceeded}
	}
	return s.Store.UpsertApproved(ctx, subjectID, objectID, reason, at, mirrorPending)
}

func (s *flakyStore) Atomic() bool { return s.atomic }
