package model

import "time"

// DiveLog is a single logged dive owned by an account.
type DiveLog struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID     int64     `gorm:"index:idx_divelog_owner;not null" json:"owner_id"`
	Site        string    `gorm:"size:128;not null" json:"site"`
	DivedAt     time.Time `gorm:"index:idx_divelog_owner" json:"dived_at"`
	MaxDepthM   float64   `json:"max_depth_m"`
	DurationMin int       `json:"duration_min"`
	Notes       string    `gorm:"type:text" json:"notes"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
