package service

import (
	"context"
	"log/slog"

	"github.com/draftpulse/contest-payments/internal/domain"
	"github.com/draftpulse/contest-payments/internal/repository"
	"github.com/draftpulse/contest-payments/internal/resilience"
)

const ledgerProtectionKey = "store.accounts"

// LedgerService fronts the account store with the protection facade. All
// balance mutations flow through here so every call site inherits retry,
// breaker, and budget behavior from one place.
type LedgerService struct {
	ledger   repository.LedgerRepository
	registry *resilience.Registry
	logger   *slog.Logger
}

func NewLedgerService(ledger repository.LedgerRepository, registry *resilience.Registry, logger *slog.Logger) *LedgerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerService{ledger: ledger, registry: registry, logger: logger}
}

func (s *LedgerService) Balance(ctx context.Context, userID string) (*domain.Account, error) {
	var acct *domain.Account
	err := s.registry.Protect(ctx, ledgerProtectionKey, resilience.OpRead, func(ctx context.Context) error {
		found, err := s.ledger.FindAccountByUserID(ctx, userID)
		if err != nil {
			return err
		}
		acct = found
		return nil
	})
	return acct, err
}

func (s *LedgerService) EnsureAccount(ctx context.Context, userID string) (*domain.Account, error) {
	var acct *domain.Account
	err := s.registry.Protect(ctx, ledgerProtectionKey, resilience.OpWrite, func(ctx context.Context) error {
		created, err := s.ledger.CreateAccountIfMissing(ctx, userID)
		if err != nil {
			return err
		}
		acct = created
		return nil
	})
	return acct, err
}

func (s *LedgerService) Entries(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	err := s.registry.Protect(ctx, ledgerProtectionKey, resilience.OpRead, func(ctx context.Context) error {
		found, err := s.ledger.ListEntries(ctx, userID, limit)
		if err != nil {
			return err
		}
		entries = found
		return nil
	})
	return entries, err
}

// Apply runs one protected balance mutation.
func (s *LedgerService) Apply(ctx context.Context, m repository.BalanceMutation) (*domain.Account, error) {
	var acct *domain.Account
	err := s.registry.Protect(ctx, ledgerProtectionKey, resilience.OpWrite, func(ctx context.Context) error {
		updated, err := s.ledger.ApplyBalanceMutation(ctx, m)
		if err != nil {
			return err
		}
		acct = updated
		return nil
	})
	return acct, err
}

// CompensateDebit restores a debit that was applied for an operation which
// later failed downstream. The key is derived from the original reference so
// redelivered failure notifications restore at most once, and the pending
// slot is vacated in the same mutation.
func (s *LedgerService) CompensateDebit(ctx context.Context, userID string, amountMinorUnits int64, reference string, transactionID *uint, note string) (*domain.Account, error) {
	return s.Apply(ctx, repository.BalanceMutation{
		UserID:           userID,
		AmountMinorUnits: amountMinorUnits,
		Direction:        repository.DirectionCredit,
		IdempotencyKey:   reference + ":restore",
		Reference:        reference,
		ClearPendingRef:  true,
		TransactionID:    transactionID,
		Note:             note,
	})
}
