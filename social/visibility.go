package social

import (
	"context"

	"github.com/divelog/server/model"
)

// Anonymous is the viewer ID of an unauthenticated principal.
const Anonymous int64 = 0

// Evaluator decides whether a viewer may read or modify an owner's
// resources. It only reads; it holds no locks and is safe for concurrent use.
type Evaluator struct {
	store    Store
	accounts AccountDirectory
	mutual   bool
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(store Store, accounts AccountDirectory, cfg Config) *Evaluator {
	return &Evaluator{store: store, accounts: accounts, mutual: cfg.MutualFriendsOnly}
}

// CanRead reports whether viewerID (or Anonymous) may read ownerID's data.
//
// Rules, first match wins:
//  1. the owner or an admin may read
//  2. public owners are readable by anyone
//  3. friends-only owners are readable by viewers the owner has approved
//     (owner→viewer approved; with MutualFriendsOnly also viewer→owner)
//  4. private owners are readable by nobody else
//  5. anything else is denied
func (e *Evaluator) CanRead(ctx context.Context, viewerID, ownerID int64) (bool, error) {
	viewer, owner, err := e.resolve(ctx, "CanRead", viewerID, ownerID)
	if err != nil {
		return false, err
	}
	if viewer == nil || owner.Visibility != model.VisibilityFriendsOnly || isSelfOrAdmin(viewer, owner) {
		return Decide(viewer, owner, false), nil
	}
	approved, err := e.ownerApproved(ctx, owner.ID, viewer.ID)
	if err != nil {
		return false, err
	}
	return Decide(viewer, owner, approved), nil
}

// CanWrite reports whether viewerID may modify ownerID's data. Visibility
// plays no part: only the owner and admins may write.
func (e *Evaluator) CanWrite(ctx context.Context, viewerID, ownerID int64) (bool, error) {
	viewer, owner, err := e.resolve(ctx, "CanWrite", viewerID, ownerID)
	if err != nil {
		return false, err
	}
	return viewer != nil && isSelfOrAdmin(viewer, owner), nil
}

func (e *Evaluator) ownerApproved(ctx context.Context, ownerID, viewerID int64) (bool, error) {
	rel, err := e.store.Find(ctx, ownerID, viewerID)
	if err != nil {
		return false, err
	}
	if rel == nil || rel.Status != model.StatusApproved {
		return false, nil
	}
	if !e.mutual {
		return true, nil
	}
	back, err := e.store.Find(ctx, viewerID, ownerID)
	if err != nil {
		return false, err
	}
	return back != nil && back.Status == model.StatusApproved, nil
}

// resolve loads both principals. An unknown owner is NotFound; a viewer ID
// that no longer resolves is treated as anonymous.
func (e *Evaluator) resolve(ctx context.Context, op string, viewerID, ownerID int64) (*model.Account, *model.Account, error) {
	owner, err := e.accounts.FindAccountByID(ctx, ownerID)
	if err != nil {
		return nil, nil, err
	}
	if owner == nil {
		return nil, nil, newError(KindNotFound, op, "account not found")
	}
	if viewerID == Anonymous {
		return nil, owner, nil
	}
	if viewerID == owner.ID {
		return owner, owner, nil
	}
	viewer, err := e.accounts.FindAccountByID(ctx, viewerID)
	if err != nil {
		return nil, nil, err
	}
	return viewer, owner, nil
}

// Decide applies the read rules to already-loaded principals. viewer is nil
// for anonymous; ownerApproved says whether the friends-only edge check
// passed.
func Decide(viewer, owner *model.Account, ownerApproved bool) bool {
	if viewer != nil && isSelfOrAdmin(viewer, owner) {
		return true
	}
	switch owner.Visibility {
	case model.VisibilityPublic:
		return true
	case model.VisibilityFriendsOnly:
		return viewer != nil && ownerApproved
	case model.VisibilityPrivate:
		return false
	}
	return false
}

func isSelfOrAdmin(viewer, owner *model.Account) bool {
	return viewer.ID == owner.ID || viewer.IsAdmin()
}
