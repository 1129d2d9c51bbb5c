package model

import "time"

// RelationshipStatus is the approval state of a directed edge.
type RelationshipStatus string

const (
	StatusPending  RelationshipStatus = "pending"
	StatusApproved RelationshipStatus = "approved"
	StatusRejected RelationshipStatus = "rejected"
)

// Relationship is a directed edge: Subject regards Object as a friend with
// the given approval status. A friendship is two approved edges, one per
// direction. At most one row exists per (SubjectID, ObjectID).
//
// MirrorPending is set while the reciprocal edge of an approval has not yet
// been written; the repair pass looks for it.
type Relationship struct {
	ID            int64              `gorm:"primaryKey;autoIncrement" json:"id"`
	SubjectID     int64              `gorm:"uniqueIndex:idx_relationship_pair;not null" json:"subject_id"`
	ObjectID      int64              `gorm:"uniqueIndex:idx_relationship_pair;index:idx_relationship_object;not null" json:"object_id"`
	Status        RelationshipStatus `gorm:"size:16;not null;default:pending;index" json:"status"`
	Reason        string             `gorm:"size:512" json:"reason,omitempty"`
	RequestedAt   time.Time          `gorm:"not null" json:"requested_at"`
	EvaluatedAt   *time.Time         `json:"evaluated_at"`
	MirrorPending bool               `gorm:"not null;default:false;index" json:"-"`
}

// Pending reports whether the edge still awaits evaluation.
func (r *Relationship) Pending() bool {
	return r.Status == StatusPending
}
