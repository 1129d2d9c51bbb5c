package social

import (
	"context"
	"time"

	"github.com/divelog/server/model"
	"go.uber.org/zap"
)

// Guard applies the multi-edge writes of the lifecycle so that a reader never
// sees a reciprocal edge without its approved original.
//
// An approval is three writes: mark the original approved with
// MirrorPending set, upsert the reciprocal, clear MirrorPending. When the
// store is transactional and AtomicApproval is on, all three commit together.
// Otherwise the reciprocal upsert is retried, and if it still fails the
// original is left approved with MirrorPending set so Repairer can finish it.
type Guard struct {
	store   Store
	atomic  bool
	retries int
	backoff time.Duration
	logger  *zap.Logger
}

// NewGuard creates a Guard over store.
func NewGuard(store Store, cfg Config, logger *zap.Logger) *Guard {
	retries := cfg.MirrorRetries
	if retries < 1 {
		retries = 1
	}
	return &Guard{
		store:   store,
		atomic:  cfg.AtomicApproval && store.Atomic(),
		retries: retries,
		backoff: cfg.MirrorRetryBackoff,
		logger:  logger,
	}
}

// ApplyApproval moves edge from pending to approved and writes its reciprocal.
func (g *Guard) ApplyApproval(ctx context.Context, edge *model.Relationship, reason string, at time.Time) error {
	if g.atomic {
		return g.store.Transaction(ctx, func(tx Store) error {
			if err := tx.Evaluate(ctx, edge.ID, model.StatusApproved, reason, at, true); err != nil {
				return err
			}
			if err := tx.UpsertApproved(ctx, edge.ObjectID, edge.SubjectID, reason, at, false); err != nil {
				return err
			}
			return tx.ClearMirrorPending(ctx, edge.ID)
		})
	}

	if err := g.store.Evaluate(ctx, edge.ID, model.StatusApproved, reason, at, true); err != nil {
		return err
	}
	return g.mirror(ctx, edge.ID, edge.ObjectID, edge.SubjectID, reason, at)
}

// ResumeApproval finishes an approved edge whose reciprocal write was
// abandoned, reusing the reason and evaluation time stored on it.
func (g *Guard) ResumeApproval(ctx context.Context, edge *model.Relationship) error {
	if edge.EvaluatedAt == nil {
		return newError(KindConflict, "guard.ResumeApproval", "approved edge has no evaluation time")
	}
	return g.mirror(ctx, edge.ID, edge.ObjectID, edge.SubjectID, edge.Reason, *edge.EvaluatedAt)
}

// LinkPair writes both directions between a and b as approved, replacing
// whatever edges existed.
func (g *Guard) LinkPair(ctx context.Context, a, b int64, reason string, at time.Time) error {
	if g.atomic {
		return g.store.Transaction(ctx, func(tx Store) error {
			if err := tx.UpsertApproved(ctx, a, b, reason, at, false); err != nil {
				return err
			}
			return tx.UpsertApproved(ctx, b, a, reason, at, false)
		})
	}

	if err := g.store.UpsertApproved(ctx, a, b, reason, at, true); err != nil {
		return err
	}
	first, err := g.store.Find(ctx, a, b)
	if err != nil {
		return err
	}
	if first == nil {
		// Deleted concurrently; nothing left to mirror.
		return nil
	}
	return g.mirror(ctx, first.ID, b, a, reason, at)
}

// mirror upserts the reciprocal (subjectID→objectID) of the edge originalID
// and then clears the original's MirrorPending flag. Safe to re-run.
func (g *Guard) mirror(ctx context.Context, originalID, subjectID, objectID int64, reason string, at time.Time) error {
	var err error
	for attempt := 1; attempt <= g.retries; attempt++ {
		err = g.store.UpsertApproved(ctx, subjectID, objectID, reason, at, false)
		if err == nil {
			break
		}
		if !IsRetryable(err) || attempt == g.retries {
			break
		}
		g.logger.Warn("reciprocal write failed, retrying",
			zap.Int64("edge_id", originalID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return storeError("guard.mirror", ctx.Err())
		case <-time.After(g.backoff):
		}
	}
	if err != nil {
		g.logger.Error("reciprocal write abandoned; edge left for repair",
			zap.Int64("edge_id", originalID),
			zap.Int64("subject_id", subjectID),
			zap.Int64("object_id", objectID),
			zap.Error(err))
		return err
	}

	if err := g.store.ClearMirrorPending(ctx, originalID); err != nil {
		// The reciprocal exists; a later repair pass re-runs the idempotent upsert.
		g.logger.Warn("clearing mirror flag failed", zap.Int64("edge_id", originalID), zap.Error(err))
	}
	return nil
}
