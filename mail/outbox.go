// Package mail queues account notifications in the mails table. Delivery to
// an external transport is out of scope; the rows double as an in-app inbox.
package mail

import (
	"context"
	"errors"
	"time"

	"github.com/divelog/server/model"
	"github.com/divelog/server/sanitize"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrDisabled is returned by SendMail when the outbox is switched off.
var ErrDisabled = errors.New("mail: outbox disabled")

const (
	maxSubjectLen = 128
	listLimit     = 50
)

// Publisher is told about every queued message, e.g. to push it to live
// connections of the recipient.
type Publisher interface {
	Publish(accountID int64, m *model.Mail)
}

// Outbox persists notifications. It implements social.Notifier.
type Outbox struct {
	db      *gorm.DB
	from    string
	enabled bool
	pub     Publisher
	logger  *zap.Logger
}

// NewOutbox creates an Outbox sending as from.
func NewOutbox(db *gorm.DB, from string, enabled bool, logger *zap.Logger) *Outbox {
	return &Outbox{db: db, from: from, enabled: enabled, logger: logger}
}

// SetPublisher attaches p. Call before serving requests.
func (o *Outbox) SetPublisher(p Publisher) {
	o.pub = p
}

// SendMail queues a message for to.
func (o *Outbox) SendMail(ctx context.Context, to *model.Account, subject, body string) error {
	if !o.enabled {
		return ErrDisabled
	}
	if to == nil {
		return errors.New("mail: no recipient")
	}
	m := &model.Mail{
		ToAccountID: to.ID,
		ToAddress:   to.Email,
		FromAddress: o.from,
		Subject:     sanitize.Line(subject, maxSubjectLen),
		Body:        sanitize.Text(body, 0),
	}
	if err := o.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	o.logger.Debug("mail queued",
		zap.Int64("to", to.ID),
		zap.String("subject", m.Subject))
	if o.pub != nil {
		o.pub.Publish(to.ID, m)
	}
	return nil
}

// List returns the newest messages for accountID.
func (o *Outbox) List(ctx context.Context, accountID int64) ([]model.Mail, error) {
	var mails []model.Mail
	err := o.db.WithContext(ctx).
		Where("to_account_id = ?", accountID).
		Order("created_at DESC, id DESC").
		Limit(listLimit).
		Find(&mails).Error
	return mails, err
}

// MarkSent stamps the given messages as delivered.
func (o *Outbox) MarkSent(ctx context.Context, accountID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return o.db.WithContext(ctx).Model(&model.Mail{}).
		Where("to_account_id = ? AND id IN ? AND sent_at IS NULL", accountID, ids).
		Update("sent_at", time.Now().UTC()).Error
}
