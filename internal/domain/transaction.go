package domain

import "time"

type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
)

type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusApproved   TransactionStatus = "approved"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusCompleted  TransactionStatus = "completed"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusVoided     TransactionStatus = "voided"
	TransactionStatusRefunded   TransactionStatus = "refunded"
)

// Transaction records one provider-side money movement. Rows are never
// deleted; status changes are mirrored as append-only TransactionEvent rows.
type Transaction struct {
	ID     uint            `gorm:"primaryKey" json:"id"`
	UserID string          `gorm:"size:64;not null;index" json:"user_id"`
	Type   TransactionType `gorm:"size:16;not null" json:"type"`

	Status TransactionStatus `gorm:"size:16;not null;index" json:"status"`

	// Amounts in USD minor units; Local* carry the provider-currency audit
	// trail when currency conversion applied.
	AmountMinorUnits      int64  `gorm:"not null" json:"amount_minor_units"`
	Currency              string `gorm:"size:8;not null;default:USD" json:"currency"`
	LocalAmountMinorUnits int64  `json:"local_amount_minor_units,omitempty"`
	LocalCurrency         string `gorm:"size:8" json:"local_currency,omitempty"`

	Provider          string `gorm:"size:32;not null;index" json:"provider"`
	ProviderReference string `gorm:"size:128;index" json:"provider_reference"`
	IdempotencyKey    string `gorm:"size:160;not null;uniqueIndex" json:"-"`

	// BalanceUpdated marks that the account credit already happened, either
	// on the synchronous path or inside a webhook handler. The capture
	// handler checks it inside the same transaction as the status update to
	// keep a redelivered event from crediting twice.
	BalanceUpdated bool `gorm:"not null;default:false" json:"balance_updated"`

	Metadata string `gorm:"type:text" json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TransactionEvent is the append-only status history of a Transaction.
type TransactionEvent struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	TransactionID uint              `gorm:"not null;index" json:"transaction_id"`
	FromStatus    TransactionStatus `gorm:"size:16;not null" json:"from_status"`
	ToStatus      TransactionStatus `gorm:"size:16;not null" json:"to_status"`
	Note          string            `gorm:"size:512" json:"note,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}
