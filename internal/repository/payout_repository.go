package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/draftpulse/contest-payments/internal/domain"
	"github.com/draftpulse/contest-payments/internal/observability"
)

var ErrPayoutNotFound = errors.New("payout item not found")

type PayoutRepository interface {
	Create(ctx context.Context, item *domain.PayoutItem) error
	FindBySenderItemID(ctx context.Context, senderItemID string) (*domain.PayoutItem, error)
	ListByBatchReference(ctx context.Context, provider, batchRef string) ([]domain.PayoutItem, error)
	SetBatchReference(ctx context.Context, item *domain.PayoutItem, batchRef string) error
	SetStatus(ctx context.Context, item *domain.PayoutItem, status domain.PayoutStatus, reason string) error
}

type GormPayoutRepository struct{ db *gorm.DB }

func NewPayoutRepository(db *gorm.DB) PayoutRepository {
	return &GormPayoutRepository{db: db}
}

func (r *GormPayoutRepository) Create(ctx context.Context, item *domain.PayoutItem) error {
	if err := r.db.WithContext(ctx).Create(item).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "payout", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "payout", "create", "success")
	return nil
}

func (r *GormPayoutRepository) FindBySenderItemID(ctx context.Context, senderItemID string) (*domain.PayoutItem, error) {
	var item domain.PayoutItem
	err := r.db.WithContext(ctx).Where("sender_item_id = ?", senderItemID).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "payout", "find_by_sender_item", "not_found")
			return nil, ErrPayoutNotFound
		}
		observability.RecordRepositoryOperation(ctx, "payout", "find_by_sender_item", "error")
		return nil, err
	}
	return &item, nil
}

func (r *GormPayoutRepository) ListByBatchReference(ctx context.Context, provider, batchRef string) ([]domain.PayoutItem, error) {
	var items []domain.PayoutItem
	err := r.db.WithContext(ctx).
		Where("provider = ? AND batch_reference = ?", provider, batchRef).
		Order("id asc").Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *GormPayoutRepository) SetBatchReference(ctx context.Context, item *domain.PayoutItem, batchRef string) error {
	err := r.db.WithContext(ctx).Model(&domain.PayoutItem{}).
		Where("id = ?", item.ID).
		Update("batch_reference", batchRef).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "payout", "set_batch_reference", "error")
		return err
	}
	item.BatchReference = batchRef
	return nil
}

func (r *GormPayoutRepository) SetStatus(ctx context.Context, item *domain.PayoutItem, status domain.PayoutStatus, reason string) error {
	err := r.db.WithContext(ctx).Model(&domain.PayoutItem{}).
		Where("id = ?", item.ID).
		Updates(map[string]any{
			"status":         status,
			"failure_reason": reason,
		}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "payout", "set_status", "error")
		return err
	}
	item.Status = status
	item.FailureReason = reason
	observability.RecordRepositoryOperation(ctx, "payout", "set_status", "success")
	return nil
}
