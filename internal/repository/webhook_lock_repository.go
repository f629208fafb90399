package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/draftpulse/contest-payments/internal/domain"
	"github.com/draftpulse/contest-payments/internal/observability"
)

var ErrWebhookLockNotFound = errors.New("webhook lock not found")

type WebhookLockRepository interface {
	Find(ctx context.Context, provider, eventID string) (*domain.WebhookLock, error)
	// InsertProcessing creates the lock row for a first delivery. It returns
	// false when another handler won the race on the unique index.
	InsertProcessing(ctx context.Context, lock *domain.WebhookLock) (bool, error)
	// ReclaimProcessing takes over an existing stale or failed lock row,
	// resetting it to processing with a fresh StartedAt.
	ReclaimProcessing(ctx context.Context, lock *domain.WebhookLock) error
	SetStatus(ctx context.Context, lock *domain.WebhookLock, status domain.WebhookLockStatus, reason string) error
}

type GormWebhookLockRepository struct{ db *gorm.DB }

func NewWebhookLockRepository(db *gorm.DB) WebhookLockRepository {
	return &GormWebhookLockRepository{db: db}
}

func (r *GormWebhookLockRepository) Find(ctx context.Context, provider, eventID string) (*domain.WebhookLock, error) {
	var lock domain.WebhookLock
	err := r.db.WithContext(ctx).
		Where("provider = ? AND event_id = ?", provider, eventID).
		First(&lock).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWebhookLockNotFound
		}
		observability.RecordRepositoryOperation(ctx, "webhook_lock", "find", "error")
		return nil, err
	}
	return &lock, nil
}

func (r *GormWebhookLockRepository) InsertProcessing(ctx context.Context, lock *domain.WebhookLock) (bool, error) {
	lock.Status = domain.WebhookLockStatusProcessing
	if lock.StartedAt.IsZero() {
		lock.StartedAt = time.Now().UTC()
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
			DoNothing: true,
		}).
		Create(lock)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "webhook_lock", "insert", "error")
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "webhook_lock", "insert", "lost_race")
		return false, nil
	}
	observability.RecordRepositoryOperation(ctx, "webhook_lock", "insert", "success")
	return true, nil
}

func (r *GormWebhookLockRepository) ReclaimProcessing(ctx context.Context, lock *domain.WebhookLock) error {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Model(&domain.WebhookLock{}).
		Where("id = ?", lock.ID).
		Updates(map[string]any{
			"status":         domain.WebhookLockStatusProcessing,
			"started_at":     now,
			"failure_reason": "",
		}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "webhook_lock", "reclaim", "error")
		return err
	}
	lock.Status = domain.WebhookLockStatusProcessing
	lock.StartedAt = now
	lock.FailureReason = ""
	observability.RecordRepositoryOperation(ctx, "webhook_lock", "reclaim", "success")
	return nil
}

func (r *GormWebhookLockRepository) SetStatus(ctx context.Context, lock *domain.WebhookLock, status domain.WebhookLockStatus, reason string) error {
	err := r.db.WithContext(ctx).Model(&domain.WebhookLock{}).
		Where("id = ?", lock.ID).
		Updates(map[string]any{
			"status":         status,
			"failure_reason": reason,
		}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "webhook_lock", "set_status", "error")
		return err
	}
	lock.Status = status
	lock.FailureReason = reason
	observability.RecordRepositoryOperation(ctx, "webhook_lock", "set_status", "success")
	return nil
}
