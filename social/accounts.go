package social

import (
	"context"
	"strings"

	"github.com/divelog/server/model"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// AccountDirectory looks up accounts. Lookups return (nil, nil) for unknown accounts.
type AccountDirectory interface {
	FindAccountByID(ctx context.Context, id int64) (*model.Account, error)
	FindAccountByUsername(ctx context.Context, username string) (*model.Account, error)
	FindAccountsByID(ctx context.Context, ids []int64) (map[int64]*model.Account, error)
}

// Notifier delivers best-effort notifications to an account.
type Notifier interface {
	SendMail(ctx context.Context, to *model.Account, subject, body string) error
}

// GormAccounts reads accounts from the accounts table.
type GormAccounts struct {
	db *gorm.DB
}

// NewGormAccounts creates a GormAccounts.
func NewGormAccounts(db *gorm.DB) *GormAccounts {
	return &GormAccounts{db: db}
}

func (a *GormAccounts) FindAccountByID(ctx context.Context, id int64) (*model.Account, error) {
	if id == 0 {
		return nil, nil
	}
	return a.take(ctx, "accounts.FindAccountByID", "id = ?", id)
}

func (a *GormAccounts) FindAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	if username == "" {
		return nil, nil
	}
	return a.take(ctx, "accounts.FindAccountByUsername", "username = ?", strings.ToLower(username))
}

func (a *GormAccounts) take(ctx context.Context, op, where string, arg interface{}) (*model.Account, error) {
	var acc model.Account
	err := a.db.WithContext(ctx).Where(where, arg).Take(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError(op, errors.Wrap(err, "select account"))
	}
	return &acc, nil
}

func (a *GormAccounts) FindAccountsByID(ctx context.Context, ids []int64) (map[int64]*model.Account, error) {
	out := make(map[int64]*model.Account, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var accs []model.Account
	if err := a.db.WithContext(ctx).Where("id IN ?", ids).Find(&accs).Error; err != nil {
		return nil, storeError("accounts.FindAccountsByID", errors.Wrap(err, "select accounts"))
	}
	for i := range accs {
		out[accs[i].ID] = &accs[i]
	}
	return out, nil
}
