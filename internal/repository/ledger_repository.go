package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/draftpulse/contest-payments/internal/domain"
	"github.com/draftpulse/contest-payments/internal/observability"
)

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrWithdrawalInProgress = errors.New("withdrawal already in progress")
	ErrNegativeAmount       = errors.New("mutation amount must not be negative")
)

type MutationDirection string

const (
	DirectionDebit  MutationDirection = "debit"
	DirectionCredit MutationDirection = "credit"
)

// BalanceMutation describes one atomic conditional change to an account.
type BalanceMutation struct {
	UserID           string
	AmountMinorUnits int64
	Direction        MutationDirection

	// IdempotencyKey makes the mutation replay-safe: a second application
	// with the same key is a no-op returning the current account. Required.
	IdempotencyKey string

	// Reference identifies the in-flight withdrawal occupying the
	// single-slot pending mutex. SetPendingRef occupies the slot,
	// ClearPendingRef vacates it when it holds Reference.
	Reference       string
	SetPendingRef   bool
	ClearPendingRef bool

	TransactionID *uint
	Note          string
}

type LedgerRepository interface {
	FindAccountByUserID(ctx context.Context, userID string) (*domain.Account, error)
	CreateAccountIfMissing(ctx context.Context, userID string) (*domain.Account, error)
	ApplyBalanceMutation(ctx context.Context, m BalanceMutation) (*domain.Account, error)
	ListEntries(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error)
}

type GormLedgerRepository struct{ db *gorm.DB }

func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &GormLedgerRepository{db: db}
}

func (r *GormLedgerRepository) FindAccountByUserID(ctx context.Context, userID string) (*domain.Account, error) {
	var acct domain.Account
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&acct).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "account", "find_by_user", "not_found")
			return nil, ErrAccountNotFound
		}
		observability.RecordRepositoryOperation(ctx, "account", "find_by_user", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "account", "find_by_user", "success")
	return &acct, nil
}

func (r *GormLedgerRepository) CreateAccountIfMissing(ctx context.Context, userID string) (*domain.Account, error) {
	acct := domain.Account{UserID: userID, Currency: "USD", LastUpdate: time.Now().UTC()}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&acct).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "account", "create_if_missing", "error")
		return nil, err
	}
	return r.FindAccountByUserID(ctx, userID)
}

// ApplyBalanceMutation executes the conditional balance change as a single
// database transaction: row lock, idempotency-replay check, invariant checks,
// balance write, pending-slot update, and journal insert all commit or roll
// back together, so concurrent callers never observe a torn read. The store
// retries serialization conflicts internally; callers only see the final
// committed result or a terminal business error.
func (r *GormLedgerRepository) ApplyBalanceMutation(ctx context.Context, m BalanceMutation) (*domain.Account, error) {
	if m.IdempotencyKey == "" {
		return nil, errors.New("balance mutation requires an idempotency key")
	}
	if m.AmountMinorUnits < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeAmount, m.AmountMinorUnits)
	}
	var result domain.Account
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var acct domain.Account
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", m.UserID).First(&acct).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAccountNotFound
			}
			return err
		}

		var existing domain.LedgerEntry
		err := tx.Where("idempotency_key = ?", m.IdempotencyKey).First(&existing).Error
		if err == nil {
			// Replay of an already-applied mutation.
			result = acct
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		delta := m.AmountMinorUnits
		if m.Direction == DirectionDebit {
			if acct.BalanceMinorUnits < m.AmountMinorUnits {
				return ErrInsufficientBalance
			}
			delta = -m.AmountMinorUnits
		}

		if m.SetPendingRef {
			if acct.PendingWithdrawalRef != nil && *acct.PendingWithdrawalRef != m.Reference {
				return ErrWithdrawalInProgress
			}
			ref := m.Reference
			acct.PendingWithdrawalRef = &ref
		}
		if m.ClearPendingRef {
			if acct.PendingWithdrawalRef != nil && *acct.PendingWithdrawalRef == m.Reference {
				acct.PendingWithdrawalRef = nil
			}
		}

		acct.BalanceMinorUnits += delta
		acct.LastUpdate = time.Now().UTC()
		if err := tx.Model(&domain.Account{}).Where("id = ?", acct.ID).
			Updates(map[string]any{
				"balance_minor_units":    acct.BalanceMinorUnits,
				"pending_withdrawal_ref": acct.PendingWithdrawalRef,
				"last_update":            acct.LastUpdate,
			}).Error; err != nil {
			return err
		}

		entry := domain.LedgerEntry{
			AccountID:       acct.ID,
			TransactionID:   m.TransactionID,
			DeltaMinorUnits: delta,
			IdempotencyKey:  m.IdempotencyKey,
			Note:            m.Note,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		result = acct
		return nil
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrWithdrawalInProgress) || errors.Is(err, ErrAccountNotFound) {
			outcome = "rejected"
		}
		observability.RecordRepositoryOperation(ctx, "account", "balance_mutation", outcome)
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "account", "balance_mutation", "success")
	return &result, nil
}

func (r *GormLedgerRepository) ListEntries(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	acct, err := r.FindAccountByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var entries []domain.LedgerEntry
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", acct.ID).
		Order("id desc").Limit(limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
