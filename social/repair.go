package social

import (
	"context"

	"go.uber.org/zap"
)

// RepairTaskName is the scheduler task name under which the repairer runs.
const RepairTaskName = "relationship_repair"

// Repairer finishes approvals whose reciprocal write never landed, i.e.
// approved edges still carrying MirrorPending.
type Repairer struct {
	store  Store
	guard  *Guard
	batch  int
	logger *zap.Logger
}

// NewRepairer creates a Repairer that handles up to batch edges per Run
// (batch <= 0 means all).
func NewRepairer(store Store, cfg Config, batch int, logger *zap.Logger) *Repairer {
	return &Repairer{store: store, guard: NewGuard(store, cfg, logger), batch: batch, logger: logger}
}

// Run re-applies the reciprocal upsert for every flagged edge and returns how
// many were fixed. It stops at the first store failure.
func (r *Repairer) Run(ctx context.Context) (int, error) {
	rels, err := r.store.ListMirrorPending(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	fixed := 0
	for _, rel := range rels {
		if rel.EvaluatedAt == nil {
			r.logger.Warn("flagged edge has no evaluation time, skipping", zap.Int64("edge_id", rel.ID))
			continue
		}
		if err := r.guard.ResumeApproval(ctx, &rel); err != nil {
			return fixed, err
		}
		fixed++
	}
	if fixed > 0 {
		r.logger.Info("repaired half-applied approvals", zap.Int("count", fixed))
	}
	return fixed, nil
}
