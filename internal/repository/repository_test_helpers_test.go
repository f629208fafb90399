package repository

import (
	"fmt"
	"strings"
	"testing"

	"github.com/draftpulse/contest-payments/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newRepositoryDBForTest(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&domain.Account{},
		&domain.LedgerEntry{},
		&domain.Transaction{},
		&domain.TransactionEvent{},
		&domain.WebhookLock{},
		&domain.PayoutItem{},
		&domain.OperationSwitch{},
	); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}

func newStoreForTest(t *testing.T) *Store {
	t.Helper()
	return NewStore(newRepositoryDBForTest(t))
}
