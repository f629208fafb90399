package domain

import "time"

type PayoutStatus string

const (
	PayoutStatusPending PayoutStatus = "pending"
	PayoutStatusSuccess PayoutStatus = "success"
	PayoutStatusFailed  PayoutStatus = "failed"
)

// PayoutItem is the withdrawal-side record for one payout sent to a provider.
// SenderItemID is our reference echoed back by payout webhooks; it is how a
// payout-item-failed event finds the withdrawal to compensate.
type PayoutItem struct {
	ID               uint         `gorm:"primaryKey" json:"id"`
	TransactionID    uint         `gorm:"not null;index" json:"transaction_id"`
	UserID           string       `gorm:"size:64;not null;index" json:"user_id"`
	Provider         string       `gorm:"size:32;not null" json:"provider"`
	BatchReference   string       `gorm:"size:128;index" json:"batch_reference"`
	SenderItemID     string       `gorm:"size:128;not null;uniqueIndex" json:"sender_item_id"`
	AmountMinorUnits int64        `gorm:"not null" json:"amount_minor_units"`
	FeeMinorUnits    int64        `gorm:"not null;default:0" json:"fee_minor_units"`
	Currency         string       `gorm:"size:8;not null;default:USD" json:"currency"`
	RecipientHandle  string       `gorm:"size:256;not null" json:"recipient_handle"`
	Status           PayoutStatus `gorm:"size:16;not null;index" json:"status"`
	FailureReason    string       `gorm:"size:512" json:"failure_reason,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}
