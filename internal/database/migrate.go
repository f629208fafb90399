package database

import (
	"github.com/draftpulse/contest-payments/internal/domain"

	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Account{},
		&domain.LedgerEntry{},
		&domain.Transaction{},
		&domain.TransactionEvent{},
		&domain.WebhookLock{},
		&domain.PayoutItem{},
		&domain.OperationSwitch{},
		&domain.IdempotencyRecord{},
	)
}
