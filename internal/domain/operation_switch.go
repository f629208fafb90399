package domain

import "time"

// OperationSwitch is an operator-managed kill switch for a payment surface,
// keyed "provider.operation" ("paypal.deposits", "paypal.withdrawals"). A
// missing switch means the operation is enabled; switches exist to turn
// things off during provider incidents or maintenance.
type OperationSwitch struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Key         string    `gorm:"uniqueIndex;size:128;not null" json:"key"`
	Description string    `gorm:"size:512" json:"description"`
	Enabled     bool      `gorm:"not null;default:true" json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
