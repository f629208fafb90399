package domain

import "time"

// Account is the authoritative per-user balance, denominated in USD minor
// units. Balance stays >= 0 at every committed state; PendingWithdrawalRef is
// a single-slot mutex holding the reference of the one in-flight withdrawal.
type Account struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	UserID               string    `gorm:"size:64;not null;uniqueIndex" json:"user_id"`
	BalanceMinorUnits    int64     `gorm:"not null;default:0" json:"balance_minor_units"`
	Currency             string    `gorm:"size:8;not null;default:USD" json:"currency"`
	PendingWithdrawalRef *string   `gorm:"size:128" json:"pending_withdrawal_ref,omitempty"`
	LastUpdate           time.Time `json:"last_update"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// LedgerEntry is the append-only journal of balance mutations. Every
// mutation carries an idempotency key, unique across entries, so replays of
// the same logical change are detected inside the mutation transaction.
type LedgerEntry struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	AccountID       uint      `gorm:"not null;index" json:"account_id"`
	TransactionID   *uint     `gorm:"index" json:"transaction_id,omitempty"`
	DeltaMinorUnits int64     `gorm:"not null" json:"delta_minor_units"`
	IdempotencyKey  string    `gorm:"size:160;not null;uniqueIndex" json:"-"`
	Note            string    `gorm:"size:256" json:"note,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
