package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/divelog/server/cache"
	"github.com/divelog/server/config"
	dbadapter "github.com/divelog/server/db"
	"github.com/divelog/server/model"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var dbSeq int64

// SetupTestDB creates a private in-memory SQLite DB and runs AutoMigrate.
// It requires no external services and is safe to use in parallel tests.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, atomic.AddInt64(&dbSeq, 1))
	db, err := dbadapter.Open(config.DatabaseConfig{
		Mode:       dbadapter.ModeSQLite,
		SQLitePath: dsn,
	})
	require.NoError(t, err, "SetupTestDB: Open")
	require.NoError(t, model.AutoMigrate(db), "SetupTestDB: AutoMigrate")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// SetupTestCache creates an in-process session cache (no Redis required).
func SetupTestCache(t *testing.T) cache.Cache {
	t.Helper()
	c, err := cache.NewCache(cache.CacheConfig{})
	require.NoError(t, err, "SetupTestCache: NewCache")
	if s, ok := c.(interface{ Close() }); ok {
		t.Cleanup(s.Close)
	}
	return c
}

// Logger returns a development logger for tests.
func Logger(t *testing.T) *zap.Logger {
	t.Helper()
	l, err := zap.NewDevelopment()
	require.NoError(t, err)
	return l
}

// CreateAccount inserts an account with password "pass1234".
func CreateAccount(t *testing.T, db *gorm.DB, username string, role model.Role, vis model.Visibility) *model.Account {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("pass1234"), bcrypt.MinCost)
	require.NoError(t, err)
	acc := &model.Account{
		Username:     username,
		DisplayName:  username,
		PasswordHash: string(hash),
		Email:        username + "@example.com",
		Role:         role,
		Visibility:   vis,
		Status:       1,
	}
	require.NoError(t, db.Create(acc).Error, "CreateAccount %s", username)
	return acc
}
