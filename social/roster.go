package social

import (
	"context"
	"time"

	"github.com/divelog/server/model"
)

// FriendsView selects which edges of an owner a listing shows.
type FriendsView int

const (
	ViewFriends FriendsView = iota
	ViewIncoming
	ViewOutgoing
)

func (v FriendsView) String() string {
	switch v {
	case ViewFriends:
		return "friends"
	case ViewIncoming:
		return "incoming"
	case ViewOutgoing:
		return "outgoing"
	}
	return "unknown"
}

// ParseFriendsView maps a query-string value to a view. Empty means friends.
func ParseFriendsView(s string) (FriendsView, error) {
	switch s {
	case "", "friends":
		return ViewFriends, nil
	case "incoming":
		return ViewIncoming, nil
	case "outgoing":
		return ViewOutgoing, nil
	}
	return 0, newError(KindInvalidOperation, "ParseFriendsView", "unknown view "+s)
}

// FriendSummary is an edge plus public details of the counterpart account.
type FriendSummary struct {
	Relationship model.Relationship `json:"relationship"`
	AccountID    int64              `json:"account_id"`
	Username     string             `json:"username"`
	DisplayName  string             `json:"display_name"`
	MemberSince  time.Time          `json:"member_since"`
}

// Roster lists an owner's friends and requests.
type Roster struct {
	store    Store
	accounts AccountDirectory
}

// NewRoster creates a Roster.
func NewRoster(store Store, accounts AccountDirectory) *Roster {
	return &Roster{store: store, accounts: accounts}
}

// List returns the edges selected by view, newest first.
//   - friends: owner→X approved
//   - incoming: X→owner pending
//   - outgoing: owner→X pending
func (r *Roster) List(ctx context.Context, ownerID int64, view FriendsView) ([]FriendSummary, error) {
	var (
		rels []model.Relationship
		err  error
	)
	switch view {
	case ViewFriends:
		rels, err = r.store.ListOutgoing(ctx, ownerID, model.StatusApproved)
	case ViewIncoming:
		rels, err = r.store.ListIncoming(ctx, ownerID, model.StatusPending)
	case ViewOutgoing:
		rels, err = r.store.ListOutgoing(ctx, ownerID, model.StatusPending)
	default:
		return nil, newError(KindInvalidOperation, "Roster.List", "unknown view")
	}
	if err != nil {
		return nil, err
	}
	return r.summarise(ctx, ownerID, rels)
}

// ListFriends returns the owner's approved outgoing edges.
func (r *Roster) ListFriends(ctx context.Context, ownerID int64) ([]FriendSummary, error) {
	return r.List(ctx, ownerID, ViewFriends)
}

// ListIncomingRequests returns pending requests addressed to the owner.
func (r *Roster) ListIncomingRequests(ctx context.Context, ownerID int64) ([]FriendSummary, error) {
	return r.List(ctx, ownerID, ViewIncoming)
}

// ListOutgoingRequests returns the owner's own pending requests.
func (r *Roster) ListOutgoingRequests(ctx context.Context, ownerID int64) ([]FriendSummary, error) {
	return r.List(ctx, ownerID, ViewOutgoing)
}

func (r *Roster) summarise(ctx context.Context, ownerID int64, rels []model.Relationship) ([]FriendSummary, error) {
	ids := make([]int64, 0, len(rels))
	for _, rel := range rels {
		ids = append(ids, counterpart(rel, ownerID))
	}
	accs, err := r.accounts.FindAccountsByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]FriendSummary, 0, len(rels))
	for _, rel := range rels {
		acc, ok := accs[counterpart(rel, ownerID)]
		if !ok {
			// Counterpart deleted; its edges are stale.
			continue
		}
		out = append(out, FriendSummary{
			Relationship: rel,
			AccountID:    acc.ID,
			Username:     acc.Username,
			DisplayName:  acc.DisplayName,
			MemberSince:  acc.CreatedAt,
		})
	}
	return out, nil
}

func counterpart(rel model.Relationship, ownerID int64) int64 {
	if rel.SubjectID == ownerID {
		return rel.ObjectID
	}
	return rel.SubjectID
}
