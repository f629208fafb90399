package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/draftpulse/contest-payments/internal/domain"
	"github.com/draftpulse/contest-payments/internal/observability"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrDuplicateKey        = errors.New("idempotency key already used")
)

type TransactionRepository interface {
	Create(ctx context.Context, txn *domain.Transaction) error
	FindByID(ctx context.Context, id uint) (*domain.Transaction, error)
	FindByProviderReference(ctx context.Context, provider, reference string) (*domain.Transaction, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error)
	Transition(ctx context.Context, txn *domain.Transaction, to domain.TransactionStatus, note string) error
	SetBalanceUpdated(ctx context.Context, txn *domain.Transaction) error
	// SetProviderReference repoints the provider-side reference, used when a
	// capture succeeds and later provider events key on the capture id
	// instead of the order id.
	SetProviderReference(ctx context.Context, txn *domain.Transaction, reference string) error
}

type GormTransactionRepository struct{ db *gorm.DB }

func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &GormTransactionRepository{db: db}
}

func (r *GormTransactionRepository) Create(ctx context.Context, txn *domain.Transaction) error {
	err := r.db.WithContext(ctx).Create(txn).Error
	if err != nil {
		if isUniqueViolation(err) {
			observability.RecordRepositoryOperation(ctx, "transaction", "create", "duplicate")
			return ErrDuplicateKey
		}
		observability.RecordRepositoryOperation(ctx, "transaction", "create", "error")
		return err
	}
	event := domain.TransactionEvent{
		TransactionID: txn.ID,
		FromStatus:    txn.Status,
		ToStatus:      txn.Status,
		Note:          "created",
	}
	if err := r.db.WithContext(ctx).Create(&event).Error; err != nil {
		return err
	}
	observability.RecordRepositoryOperation(ctx, "transaction", "create", "success")
	return nil
}

func (r *GormTransactionRepository) FindByID(ctx context.Context, id uint) (*domain.Transaction, error) {
	var txn domain.Transaction
	if err := r.db.WithContext(ctx).First(&txn, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &txn, nil
}

func (r *GormTransactionRepository) FindByProviderReference(ctx context.Context, provider, reference string) (*domain.Transaction, error) {
	var txn domain.Transaction
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_reference = ?", provider, reference).
		First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "transaction", "find_by_reference", "not_found")
			return nil, ErrTransactionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "transaction", "find_by_reference", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "transaction", "find_by_reference", "success")
	return &txn, nil
}

func (r *GormTransactionRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	var txn domain.Transaction
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &txn, nil
}

// Transition moves txn to a new status and appends the matching history row.
// Transitions are append-only; nothing is ever physically deleted.
func (r *GormTransactionRepository) Transition(ctx context.Context, txn *domain.Transaction, to domain.TransactionStatus, note string) error {
	from := txn.Status
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.Transaction{}).Where("id = ?", txn.ID).
			Update("status", to).Error; err != nil {
			return err
		}
		event := domain.TransactionEvent{
			TransactionID: txn.ID,
			FromStatus:    from,
			ToStatus:      to,
			Note:          note,
		}
		return tx.Create(&event).Error
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "transaction", "transition", "error")
		return err
	}
	txn.Status = to
	observability.RecordRepositoryOperation(ctx, "transaction", "transition", "success")
	return nil
}

func (r *GormTransactionRepository) SetBalanceUpdated(ctx context.Context, txn *domain.Transaction) error {
	if err := r.db.WithContext(ctx).Model(&domain.Transaction{}).
		Where("id = ?", txn.ID).Update("balance_updated", true).Error; err != nil {
		return err
	}
	txn.BalanceUpdated = true
	return nil
}

func (r *GormTransactionRepository) SetProviderReference(ctx context.Context, txn *domain.Transaction, reference string) error {
	if err := r.db.WithContext(ctx).Model(&domain.Transaction{}).
		Where("id = ?", txn.ID).Update("provider_reference", reference).Error; err != nil {
		return err
	}
	txn.ProviderReference = reference
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "constraint failed")
}
