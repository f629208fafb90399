package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/draftpulse/contest-payments/internal/domain"
	"github.com/draftpulse/contest-payments/internal/observability"
)

var ErrSwitchNotFound = errors.New("operation switch not found")

type SwitchRepository interface {
	ListSwitches(ctx context.Context, page PageRequest) (*PageResult[domain.OperationSwitch], error)
	FindSwitchByKey(ctx context.Context, key string) (*domain.OperationSwitch, error)
	UpsertSwitch(ctx context.Context, sw *domain.OperationSwitch) error
	DeleteSwitch(ctx context.Context, key string) error
}

type GormSwitchRepository struct{ db *gorm.DB }

func NewSwitchRepository(db *gorm.DB) SwitchRepository {
	return &GormSwitchRepository{db: db}
}

func normalizeSwitchKey(key string) string {
	return strings.TrimSpace(strings.ToLower(key))
}

func (r *GormSwitchRepository) ListSwitches(ctx context.Context, page PageRequest) (*PageResult[domain.OperationSwitch], error) {
	page = normalizePageRequest(page)

	var total int64
	if err := r.db.WithContext(ctx).Model(&domain.OperationSwitch{}).Count(&total).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "operation_switch", "list", "error")
		return nil, err
	}
	var switches []domain.OperationSwitch
	err := r.db.WithContext(ctx).
		Order("key asc").
		Offset((page.Page - 1) * page.PageSize).
		Limit(page.PageSize).
		Find(&switches).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "operation_switch", "list", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "operation_switch", "list", "success")
	return &PageResult[domain.OperationSwitch]{
		Items:      switches,
		Page:       page.Page,
		PageSize:   page.PageSize,
		Total:      total,
		TotalPages: calcTotalPages(total, page.PageSize),
	}, nil
}

func (r *GormSwitchRepository) FindSwitchByKey(ctx context.Context, key string) (*domain.OperationSwitch, error) {
	var sw domain.OperationSwitch
	err := r.db.WithContext(ctx).Where("key = ?", normalizeSwitchKey(key)).First(&sw).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "operation_switch", "find_by_key", "not_found")
			return nil, ErrSwitchNotFound
		}
		observability.RecordRepositoryOperation(ctx, "operation_switch", "find_by_key", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "operation_switch", "find_by_key", "success")
	return &sw, nil
}

func (r *GormSwitchRepository) UpsertSwitch(ctx context.Context, sw *domain.OperationSwitch) error {
	sw.Key = normalizeSwitchKey(sw.Key)
	sw.Description = strings.TrimSpace(sw.Description)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"description", "enabled", "updated_at"}),
	}).Create(sw).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "operation_switch", "upsert", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "operation_switch", "upsert", "success")
	return nil
}

func (r *GormSwitchRepository) DeleteSwitch(ctx context.Context, key string) error {
	res := r.db.WithContext(ctx).Where("key = ?", normalizeSwitchKey(key)).Delete(&domain.OperationSwitch{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "operation_switch", "delete", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "operation_switch", "delete", "not_found")
		return ErrSwitchNotFound
	}
	observability.RecordRepositoryOperation(ctx, "operation_switch", "delete", "success")
	return nil
}
