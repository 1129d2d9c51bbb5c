package social

import (
	"context"
	"time"

	"github.com/divelog/server/model"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists relationship edges. Every write operation the lifecycle
// performs goes through one of these methods; nothing else mutates edges.
//
// Find and FindByID return (nil, nil) when no row matches.
type Store interface {
	Find(ctx context.Context, subjectID, objectID int64) (*model.Relationship, error)
	FindByID(ctx context.Context, id int64) (*model.Relationship, error)
	Insert(ctx context.Context, rel *model.Relationship) error
	ResetToPending(ctx context.Context, id int64, at time.Time) error
	Evaluate(ctx context.Context, id int64, status model.RelationshipStatus, reason string, at time.Time, mirrorPending bool) error
	UpsertApproved(ctx context.Context, subjectID, objectID int64, reason string, at time.Time, mirrorPending bool) error
	ClearMirrorPending(ctx context.Context, id int64) error
	Delete(ctx context.Context, subjectID, objectID int64) error
	DeleteMany(ctx context.Context, subjectID int64, objectIDs []int64) error
	CountActiveOutgoing(ctx context.Context, subjectID int64) (int64, error)
	ListOutgoing(ctx context.Context, subjectID int64, status model.RelationshipStatus) ([]model.Relationship, error)
	ListIncoming(ctx context.Context, objectID int64, status model.RelationshipStatus) ([]model.Relationship, error)
	ListMirrorPending(ctx context.Context, limit int) ([]model.Relationship, error)
	All(ctx context.Context) ([]model.Relationship, error)

	// Atomic reports whether Transaction applies its writes as one unit.
	Atomic() bool
	Transaction(ctx context.Context, fn func(Store) error) error
	// LockPair blocks other LockPair calls on the same two accounts until the
	// surrounding transaction ends. Outside a transaction it is a no-op.
	LockPair(ctx context.Context, a, b int64) error
}

// GormStore is the gorm-backed Store. Uniqueness of (subject, object) is
// enforced by the idx_relationship_pair index.
type GormStore struct {
	db      *gorm.DB
	timeout time.Duration
	inTx    bool
}

// NewGormStore wraps db. A positive timeout bounds every store call.
func NewGormStore(db *gorm.DB, timeout time.Duration) *GormStore {
	return &GormStore{db: db, timeout: timeout}
}

func (s *GormStore) conn(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	if s.timeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		return s.db.WithContext(ctx), cancel
	}
	return s.db.WithContext(ctx), func() {}
}

func (s *GormStore) Find(ctx context.Context, subjectID, objectID int64) (*model.Relationship, error) {
	db, cancel := s.conn(ctx)
	defer cancel()
	var rel model.Relationship
	err := db.Where("subject_id = ? AND object_id = ?", subjectID, objectID).Take(&rel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("store.Find", errors.Wrap(err, "select relationship by pair"))
	}
	return &rel, nil
}

func (s *GormStore) FindByID(ctx context.Context, id int64) (*model.Relationship, error) {
	db, cancel := s.conn(ctx)
	defer cancel()
	var rel model.Relationship
	err := db.Where("id = ?", id).Take(&rel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("store.FindByID", errors.Wrap(err, "select relationship by id"))
	}
	return &rel, nil
}

func (s *GormStore) Insert(ctx context.Context, rel *model.Relationship) error {
	db, cancel := s.conn(ctx)
	defer cancel()
	if err := db.Create(rel).Error; err != nil {
		return storeError("store.Insert", errors.Wrap(err, "insert relationship"))
	}
	return nil
}

func (s *GormStore) ResetToPending(ctx context.Context, id int64, at time.Time) error {
	db, cancel := s.conn(ctx)
	defer cancel()
	res := db.Model(&model.Relationship{}).
		Where("id = ? AND status = ?", id, model.StatusRejected).
		Updates(map[string]interface{}{
			"status":       model.StatusPending,
			"reason":       "",
			"requested_at": at,
			"evaluated_at": nil,
		})
	if res.Error != nil {
		return storeError("store.ResetToPending", errors.Wrap(res.Error, "reset relationship"))
	}
	if res.RowsAffected == 0 {
		return newError(KindConflict, "store.ResetToPending", "relationship is no longer rejected")
	}
	return nil
}

func (s *GormStore) Evaluate(ctx context.Context, id int64, status model.RelationshipStatus, reason string, at time.Time, mirrorPending bool) error {
	db, cancel := s.conn(ctx)
	defer cancel()
	res := db.Model(&model.Relationship{}).
		Where("id = ? AND status = ?", id, model.StatusPending).
		Updates(map[string]interface{}{
			"status":         status,
			"reason":         reason,
			"evaluated_at":   at,
			"mirror_pending": mirrorPending,
		})
	if res.Error != nil {
		return storeError("store.Evaluate", errors.Wrap(res.Error, "evaluate relationship"))
	}
	if res.RowsAffected == 0 {
		return newError(KindConflict, "store.Evaluate", "request is no longer pending")
	}
	return nil
}

// UpsertApproved writes (subject→object, approved) keyed by the pair. Running
// it twice with the same arguments leaves the same row.
func (s *GormStore) UpsertApproved(ctx context.Context, subjectID, objectID int64, reason string, at time.Time, mirrorPending bool) error {
	db, cancel := s.conn(ctx)
	defer cancel()
	evaluated := at
	rel := &model.Relationship{
		SubjectID:     subjectID,
		ObjectID:      objectID,
		Status:        model.StatusApproved,
		Reason:        reason,
		RequestedAt:   at,
		EvaluatedAt:   &evaluated,
		MirrorPending: mirrorPending,
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subject_id"}, {Name: "object_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "reason", "requested_at", "evaluated_at", "mirror_pending"}),
	}).Create(rel).Error
	if err != nil {
		return storeError("store.UpsertApproved", errors.Wrap(err, "upsert approved relationship"))
	}
	return nil
}

func (s *GormStore) ClearMirrorPending(ctx context.Context, id int64) error {
	db, cancel := s.conn(ctx)
	defer cancel()
	err := db.Model(&model.Relationship{}).Where("id = ?", id).Update("mirror_pending", false).Error
	if err != nil {
		return storeError("store.ClearMirrorPending", errors.Wrap(err, "clear mirror flag"))
	}
	return nil
}

func (s *GormStore) Delete(ctx context.Context, subjectID, objectID int64) error {
	db, cancel := s.conn(ctx)
	defer cancel()
	err := db.Where("subject_id = ? AND object_id = ?", subjectID, objectID).Delete(&model.Relationship{}).Error
	if err != nil {
		return storeError("store.Delete", errors.Wrap(err, "delete relationship"))
	}
	return nil
}

func (s *GormStore) DeleteMany(ctx context.Context, subjectID int64, objectIDs []int64) error {
	if len(objectIDs) == 0 {
		return nil
	}
	db, cancel := s.conn(ctx)
	defer cancel()
	err := db.Where("subject_id = ? AND object_id IN ?", subjectID, objectIDs).Delete(&model.Relationship{}).Error
	if err != nil {
		return storeError("store.DeleteMany", errors.Wrap(err, "bulk delete relationships"))
	}
	return nil
}

func (s *GormStore) CountActiveOutgoing(ctx context.Context, subjectID int64) (int64, error) {
	db, cancel := s.conn(ctx)
	defer cancel()
	var n int64
	err := db.Model(&model.Relationship{}).
		Where("subject_id = ? AND status <> ?", subjectID, model.StatusRejected).
		Count(&n).Error
	if err != nil {
		return 0, storeError("store.CountActiveOutgoing", errors.Wrap(err, "count outgoing"))
	}
	return n, nil
}

func (s *GormStore) ListOutgoing(ctx context.Context, subjectID int64, status model.RelationshipStatus) ([]model.Relationship, error) {
	return s.list(ctx, "store.ListOutgoing", "subject_id = ? AND status = ?", subjectID, status)
}

func (s *GormStore) ListIncoming(ctx context.Context, objectID int64, status model.RelationshipStatus) ([]model.Relationship, error) {
	return s.list(ctx, "store.ListIncoming", "object_id = ? AND status = ?", objectID, status)
}

func (s *GormStore) list(ctx context.Context, op, where string, args ...interface{}) ([]model.Relationship, error) {
	db, cancel := s.conn(ctx)
	defer cancel()
	var rels []model.Relationship
	if err := db.Where(where, args...).Order("requested_at DESC, id DESC").Find(&rels).Error; err != nil {
		return nil, storeError(op, errors.Wrap(err, "list relationships"))
	}
	return rels, nil
}

func (s *GormStore) ListMirrorPending(ctx context.Context, limit int) ([]model.Relationship, error) {
	db, cancel := s.conn(ctx)
	defer cancel()
	var rels []model.Relationship
	q := db.Where("mirror_pending = ? AND status = ?", true, model.StatusApproved).Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rels).Error; err != nil {
		return nil, storeError("store.ListMirrorPending", errors.Wrap(err, "list half-applied approvals"))
	}
	return rels, nil
}

func (s *GormStore) All(ctx context.Context) ([]model.Relationship, error) {
	db, cancel := s.conn(ctx)
	defer cancel()
	var rels []model.Relationship
	if err := db.Order("id").Find(&rels).Error; err != nil {
		return nil, storeError("store.All", errors.Wrap(err, "list all relationships"))
	}
	return rels, nil
}

func (s *GormStore) Atomic() bool { return true }

// Transaction runs fn against a store bound to one database transaction.
// Nested calls reuse the outer transaction.
func (s *GormStore) Transaction(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, timeout: s.timeout, inTx: true})
	})
	if err != nil {
		return storeError("store.Transaction", err)
	}
	return nil
}

// LockPair takes row locks on both account rows in id order. SQLite has no
// row locks; its single connection already serialises transactions.
func (s *GormStore) LockPair(ctx context.Context, a, b int64) error {
	if !s.inTx || s.db.Dialector.Name() == "sqlite" {
		return nil
	}
	db, cancel := s.conn(ctx)
	defer cancel()
	var ids []int64
	err := db.Model(&model.Account{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", []int64{a, b}).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return storeError("store.LockPair", errors.Wrap(err, "lock account pair"))
	}
	return nil
}
