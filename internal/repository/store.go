package repository

import (
	"context"

	"gorm.io/gorm"
)

// Store bundles the repositories over one gorm handle. Atomic rebinds all of
// them to a single database transaction so multi-record updates (for example
// a transaction status change plus the paired balance credit) commit or roll
// back as one unit.
type Store struct {
	db *gorm.DB

	Ledger       LedgerRepository
	Transactions TransactionRepository
	WebhookLocks WebhookLockRepository
	Payouts      PayoutRepository
	Switches     SwitchRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:           db,
		Ledger:       NewLedgerRepository(db),
		Transactions: NewTransactionRepository(db),
		WebhookLocks: NewWebhookLockRepository(db),
		Payouts:      NewPayoutRepository(db),
		Switches:     NewSwitchRepository(db),
	}
}

func (s *Store) Atomic(ctx context.Context, fn func(s *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}
