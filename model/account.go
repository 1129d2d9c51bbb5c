package model

import "time"

// Role is the privilege level of an account.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Visibility gates who may read an account's profile, logs and friends list.
type Visibility string

const (
	VisibilityPrivate     Visibility = "private"
	VisibilityFriendsOnly Visibility = "friends"
	VisibilityPublic      Visibility = "public"
)

// Valid reports whether v is one of the declared levels.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPrivate, VisibilityFriendsOnly, VisibilityPublic:
		return true
	}
	return false
}

// Account represents a diver account.
type Account struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string     `gorm:"uniqueIndex;size:32;not null" json:"username"`
	DisplayName  string     `gorm:"size:64" json:"display_name"`
	PasswordHash string     `gorm:"size:64;not null" json:"-"`
	Email        string     `gorm:"size:128" json:"email,omitempty"`
	Role         Role       `gorm:"size:16;not null;default:user" json:"role"`
	Visibility   Visibility `gorm:"size:16;not null;default:private" json:"visibility"`
	Status       int        `gorm:"default:1" json:"status"` // 0=banned 1=normal
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	LastLoginIP  string     `gorm:"size:45" json:"-"`
}

// IsAdmin reports whether the account holds the admin role.
func (a *Account) IsAdmin() bool {
	return a != nil && a.Role == RoleAdmin
}
