package model

import "time"

// Mail is a notification queued for an account, e.g. "you have a new friend request".
type Mail struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ToAccountID int64      `gorm:"index:idx_mail_to;not null" json:"to_account_id"`
	ToAddress   string     `gorm:"size:128" json:"-"`
	FromAddress string     `gorm:"size:128" json:"from"`
	Subject     string     `gorm:"size:128" json:"subject"`
	Body        string     `gorm:"type:text" json:"body"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	SentAt      *time.Time `json:"sent_at"`
}
