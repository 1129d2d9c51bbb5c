package social

import (
	"context"
	"fmt"
	"time"

	"github.com/divelog/server/model"
	"github.com/divelog/server/sanitize"
	"go.uber.org/zap"
)

// MaxReasonLen caps the stored reason text.
const MaxReasonLen = 512

// Lifecycle is the friend-request state machine:
//
//	NONE → PENDING → APPROVED | REJECTED,  REJECTED → PENDING (same row)
//
// It is stateless. Requests on one pair of accounts are serialised by the
// store's pair lock and its unique (subject, object) key.
type Lifecycle struct {
	store    Store
	accounts AccountDirectory
	notifier Notifier
	guard    *Guard
	limit    int
	logger   *zap.Logger
	now      func() time.Time
}

// NewLifecycle creates a Lifecycle. notifier may be nil.
func NewLifecycle(store Store, accounts AccountDirectory, notifier Notifier, cfg Config, logger *zap.Logger) *Lifecycle {
	return &Lifecycle{
		store:    store,
		accounts: accounts,
		notifier: notifier,
		guard:    NewGuard(store, cfg, logger),
		limit:    cfg.FriendLimit,
		logger:   logger,
		now:      time.Now,
	}
}

func (l *Lifecycle) timestamp() time.Time {
	return l.now().UTC().Truncate(time.Microsecond)
}

// RequestFriendship creates a pending edge subject→object, or resets a
// previously rejected one. Admins bypass the quota only.
func (l *Lifecycle) RequestFriendship(ctx context.Context, subjectID, objectID int64, requesterRole model.Role) (*model.Relationship, error) {
	const op = "RequestFriendship"
	if subjectID == objectID {
		return nil, newError(KindInvalidOperation, op, "cannot befriend yourself")
	}
	subject, object, err := l.pair(ctx, op, subjectID, objectID)
	if err != nil {
		return nil, err
	}

	var rel *model.Relationship
	err = l.pairTx(ctx, subjectID, objectID, func(tx Store) error {
		var err error
		rel, err = l.openRequest(ctx, tx, op, subjectID, objectID, requesterRole)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.notify(ctx, object, "New friend request",
		fmt.Sprintf("%s would like to add you as a friend.", subject.Username))
	return rel, nil
}

// openRequest runs the checks and the write of RequestFriendship against tx.
func (l *Lifecycle) openRequest(ctx context.Context, tx Store, op string, subjectID, objectID int64, requesterRole model.Role) (*model.Relationship, error) {
	reciprocal, err := tx.Find(ctx, objectID, subjectID)
	if err != nil {
		return nil, err
	}
	if reciprocal != nil {
		return nil, newError(KindConflict, op,
			fmt.Sprintf("the other account already has a %s relationship with you", reciprocal.Status))
	}

	existing, err := tx.Find(ctx, subjectID, objectID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status != model.StatusRejected {
		return nil, newError(KindConflict, op, fmt.Sprintf("relationship already %s", existing.Status))
	}

	if requesterRole != model.RoleAdmin && l.limit > 0 {
		n, err := tx.CountActiveOutgoing(ctx, subjectID)
		if err != nil {
			return nil, err
		}
		if n >= int64(l.limit) {
			return nil, newError(KindLimitExceeded, op, fmt.Sprintf("friend limit of %d reached", l.limit))
		}
	}

	at := l.timestamp()
	var rel *model.Relationship
	if existing != nil {
		if err := tx.ResetToPending(ctx, existing.ID, at); err != nil {
			return nil, err
		}
		existing.Status = model.StatusPending
		existing.Reason = ""
		existing.RequestedAt = at
		existing.EvaluatedAt = nil
		rel = existing
	} else {
		rel = &model.Relationship{
			SubjectID:   subjectID,
			ObjectID:    objectID,
			Status:      model.StatusPending,
			RequestedAt: at,
		}
		if err := tx.Insert(ctx, rel); err != nil {
			return nil, err
		}
	}
	return rel, nil
}

// pairTx runs fn in a store transaction holding the pair lock, or directly
// when the store cannot do transactions.
func (l *Lifecycle) pairTx(ctx context.Context, a, b int64, fn func(Store) error) error {
	if !l.store.Atomic() {
		return fn(l.store)
	}
	return l.store.Transaction(ctx, func(tx Store) error {
		if err := tx.LockPair(ctx, a, b); err != nil {
			return err
		}
		return fn(tx)
	})
}

// LinkFriends is the administrative variant: both directions become approved
// immediately, replacing any existing edges between a and b. No quota or
// pending-state checks apply.
func (l *Lifecycle) LinkFriends(ctx context.Context, a, b int64, reason string) ([2]*model.Relationship, error) {
	const op = "LinkFriends"
	var out [2]*model.Relationship
	if a == b {
		return out, newError(KindInvalidOperation, op, "cannot befriend yourself")
	}
	if _, _, err := l.pair(ctx, op, a, b); err != nil {
		return out, err
	}

	reason = sanitize.Text(reason, MaxReasonLen)
	if err := l.guard.LinkPair(ctx, a, b, reason, l.timestamp()); err != nil {
		return out, err
	}

	var err error
	if out[0], err = l.store.Find(ctx, a, b); err != nil {
		return out, err
	}
	if out[1], err = l.store.Find(ctx, b, a); err != nil {
		return out, err
	}
	return out, nil
}

// FindRequest returns the edge subject→object.
func (l *Lifecycle) FindRequest(ctx context.Context, subjectID, objectID int64) (*model.Relationship, error) {
	const op = "FindRequest"
	if _, _, err := l.pair(ctx, op, subjectID, objectID); err != nil {
		return nil, err
	}
	rel, err := l.store.Find(ctx, subjectID, objectID)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, newError(KindNotFound, op, "no such request")
	}
	return rel, nil
}

// ApproveRequest approves a pending edge addressed to callerID and writes
// the reciprocal approved edge with the same evaluation time. Admins may not
// act on behalf of the addressed account.
//
// An edge left approved with MirrorPending set by an earlier Unavailable
// approval is finished instead; its stored reason and evaluation time win
// over reason.
func (l *Lifecycle) ApproveRequest(ctx context.Context, callerID int64, edge *model.Relationship, reason string) (*model.Relationship, error) {
	const op = "ApproveRequest"
	var at time.Time
	if resumable(callerID, edge) {
		reason = edge.Reason
		at = *edge.EvaluatedAt
		if err := l.guard.ResumeApproval(ctx, edge); err != nil {
			return nil, err
		}
	} else {
		if err := l.checkEvaluable(op, callerID, edge); err != nil {
			return nil, err
		}
		reason = sanitize.Text(reason, MaxReasonLen)
		at = l.timestamp()
		if err := l.guard.ApplyApproval(ctx, edge, reason, at); err != nil {
			return nil, err
		}
	}

	out := *edge
	out.Status = model.StatusApproved
	out.Reason = reason
	out.EvaluatedAt = &at
	out.MirrorPending = false

	if subject, object, err := l.pair(ctx, op, edge.SubjectID, edge.ObjectID); err == nil {
		l.notify(ctx, subject, "Friend request approved",
			fmt.Sprintf("%s approved your friend request.", object.Username))
	}
	return &out, nil
}

// RejectRequest rejects a pending edge addressed to callerID. The reverse
// direction is not touched.
func (l *Lifecycle) RejectRequest(ctx context.Context, callerID int64, edge *model.Relationship, reason string) (*model.Relationship, error) {
	const op = "RejectRequest"
	if err := l.checkEvaluable(op, callerID, edge); err != nil {
		return nil, err
	}
	reason = sanitize.Text(reason, MaxReasonLen)
	at := l.timestamp()
	if err := l.store.Evaluate(ctx, edge.ID, model.StatusRejected, reason, at, false); err != nil {
		return nil, err
	}

	out := *edge
	out.Status = model.StatusRejected
	out.Reason = reason
	out.EvaluatedAt = &at
	return &out, nil
}

// DeleteFriendship removes subject→object only. Deleting a missing edge is a no-op.
func (l *Lifecycle) DeleteFriendship(ctx context.Context, subjectID, objectID int64) error {
	return l.store.Delete(ctx, subjectID, objectID)
}

// BulkDelete removes subject→o for every o in objectIDs.
func (l *Lifecycle) BulkDelete(ctx context.Context, subjectID int64, objectIDs []int64) error {
	return l.store.DeleteMany(ctx, subjectID, objectIDs)
}

func (l *Lifecycle) checkEvaluable(op string, callerID int64, edge *model.Relationship) error {
	if edge == nil {
		return newError(KindNotFound, op, "no such request")
	}
	if edge.ObjectID != callerID {
		return newError(KindForbidden, op, "request is not addressed to you")
	}
	if !edge.Pending() {
		return newError(KindConflict, op, fmt.Sprintf("request already %s", edge.Status))
	}
	return nil
}

// resumable reports whether edge is callerID's own approval whose reciprocal
// write has not landed yet.
func resumable(callerID int64, edge *model.Relationship) bool {
	return edge != nil &&
		edge.ObjectID == callerID &&
		edge.Status == model.StatusApproved &&
		edge.MirrorPending &&
		edge.EvaluatedAt != nil
}

// pair resolves both accounts, failing with NotFound if either is absent.
func (l *Lifecycle) pair(ctx context.Context, op string, subjectID, objectID int64) (*model.Account, *model.Account, error) {
	subject, err := l.accounts.FindAccountByID(ctx, subjectID)
	if err != nil {
		return nil, nil, err
	}
	if subject == nil {
		return nil, nil, newError(KindNotFound, op, fmt.Sprintf("account %d not found", subjectID))
	}
	object, err := l.accounts.FindAccountByID(ctx, objectID)
	if err != nil {
		return nil, nil, err
	}
	if object == nil {
		return nil, nil, newError(KindNotFound, op, fmt.Sprintf("account %d not found", objectID))
	}
	return subject, object, nil
}

func (l *Lifecycle) notify(ctx context.Context, to *model.Account, subject, body string) {
	if l.notifier == nil || to == nil {
		return
	}
	if err := l.notifier.SendMail(ctx, to, subject, body); err != nil {
		l.logger.Warn("friend notification failed",
			zap.Int64("to", to.ID),
			zap.String("subject", subject),
			zap.Error(err))
	}
}
