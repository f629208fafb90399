package domain

import "time"

type WebhookLockStatus string

const (
	WebhookLockStatusProcessing WebhookLockStatus = "processing"
	WebhookLockStatusCompleted  WebhookLockStatus = "completed"
	WebhookLockStatusFailed     WebhookLockStatus = "failed"
)

// WebhookLock is the persisted mutual-exclusion record for one inbound
// provider event. At most one row exists per (provider, event id); rows are
// never deleted and double as the processing audit trail.
type WebhookLock struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	Provider      string            `gorm:"size:32;not null;uniqueIndex:idx_webhook_lock_provider_event" json:"provider"`
	EventID       string            `gorm:"size:128;not null;uniqueIndex:idx_webhook_lock_provider_event" json:"event_id"`
	EventType     string            `gorm:"size:64;not null" json:"event_type"`
	Status        WebhookLockStatus `gorm:"size:16;not null;index" json:"status"`
	StartedAt     time.Time         `gorm:"not null" json:"started_at"`
	FailureReason string            `gorm:"size:512" json:"failure_reason,omitempty"`
	Metadata      string            `gorm:"type:text" json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}
