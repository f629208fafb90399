package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/draftpulse/contest-payments/internal/domain"
	"github.com/draftpulse/contest-payments/internal/repository"
	"github.com/draftpulse/contest-payments/internal/resilience"
)

type OrderClient interface {
	// CreateOrder opens a provider checkout order and returns its id.
	CreateOrder(ctx context.Context, amountMinorUnits int64, currency string) (string, error)
	// CaptureOrder captures an approved order and returns the capture id.
	CaptureOrder(ctx context.Context, orderID string) (string, error)
}

type DepositRequest struct {
	UserID           string
	AmountMinorUnits int64
	IdempotencyKey   string
}

type DepositResult struct {
	TransactionID    uint                     `json:"transaction_id"`
	OrderID          string                   `json:"order_id"`
	Status           domain.TransactionStatus `json:"status"`
	AmountMinorUnits int64                    `json:"amount_minor_units"`
}

type DepositConfig struct {
	Provider      string
	MinMinorUnits int64
}

// DepositService opens provider orders for deposits and, on the synchronous
// confirmation path, captures and credits them directly. The webhook
// processor covers the same captures asynchronously; the balance-updated
// flag keeps the two paths from crediting twice.
type DepositService struct {
	store    *repository.Store
	orders   OrderClient
	registry *resilience.Registry
	switches *SwitchService
	cfg      DepositConfig
	logger   *slog.Logger
}

func NewDepositService(
	store *repository.Store,
	orders OrderClient,
	registry *resilience.Registry,
	switches *SwitchService,
	cfg DepositConfig,
	logger *slog.Logger,
) *DepositService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DepositService{store: store, orders: orders, registry: registry, switches: switches, cfg: cfg, logger: logger}
}

func (s *DepositService) Initiate(ctx context.Context, req DepositRequest) (*DepositResult, error) {
	if s.orders == nil {
		return nil, ErrProviderNotConfigured
	}
	if err := s.switches.Guard(ctx, SwitchKey(s.cfg.Provider, "deposits")); err != nil {
		return nil, err
	}
	if req.AmountMinorUnits < s.cfg.MinMinorUnits {
		return nil, fmt.Errorf("%w: minimum is %d minor units", ErrAmountTooSmall, s.cfg.MinMinorUnits)
	}

	idemKey := req.IdempotencyKey
	if idemKey == "" {
		idemKey = "dep-" + uuid.NewString()
	} else if existing, err := s.replay(ctx, idemKey); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	var orderID string
	err := s.registry.Protect(ctx, "provider."+s.cfg.Provider+".orders", resilience.OpWrite, func(ctx context.Context) error {
		id, err := s.orders.CreateOrder(ctx, req.AmountMinorUnits, "USD")
		if err != nil {
			return err
		}
		orderID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	txn := &domain.Transaction{
		UserID:            req.UserID,
		Type:              domain.TransactionTypeDeposit,
		Status:            domain.TransactionStatusPending,
		AmountMinorUnits:  req.AmountMinorUnits,
		Currency:          "USD",
		Provider:          s.cfg.Provider,
		ProviderReference: orderID,
		IdempotencyKey:    idemKey,
	}
	err = s.registry.Protect(ctx, txnProtectionKey, resilience.OpWrite, func(ctx context.Context) error {
		return s.store.Transactions.Create(ctx, txn)
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			if existing, rerr := s.replay(ctx, idemKey); rerr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}

	return &DepositResult{
		TransactionID:    txn.ID,
		OrderID:          orderID,
		Status:           txn.Status,
		AmountMinorUnits: req.AmountMinorUnits,
	}, nil
}

// Confirm captures an approved order and credits the balance synchronously.
// The credit, flag, and status change commit together, mirroring the webhook
// capture handler, so whichever path runs second becomes a no-op.
func (s *DepositService) Confirm(ctx context.Context, userID, orderID string) (*DepositResult, error) {
	if s.orders == nil {
		return nil, ErrProviderNotConfigured
	}
	txn, err := s.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if txn.UserID != userID {
		return nil, repository.ErrTransactionNotFound
	}
	if txn.BalanceUpdated {
		return s.result(txn), nil
	}

	var captureID string
	err = s.registry.Protect(ctx, "provider."+s.cfg.Provider+".orders", resilience.OpWrite, func(ctx context.Context) error {
		id, err := s.orders.CaptureOrder(ctx, orderID)
		if err != nil {
			return err
		}
		captureID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.registry.Protect(ctx, txnProtectionKey, resilience.OpWrite, func(ctx context.Context) error {
		return s.store.Atomic(ctx, func(st *repository.Store) error {
			current, err := st.Transactions.FindByID(ctx, txn.ID)
			if err != nil {
				return err
			}
			if current.BalanceUpdated {
				*txn = *current
				return nil
			}
			if _, err := st.Ledger.CreateAccountIfMissing(ctx, current.UserID); err != nil {
				return err
			}
			if _, err := st.Ledger.ApplyBalanceMutation(ctx, repository.BalanceMutation{
				UserID:           current.UserID,
				AmountMinorUnits: current.AmountMinorUnits,
				Direction:        repository.DirectionCredit,
				IdempotencyKey:   fmt.Sprintf("%s:capture:%s", s.cfg.Provider, captureID),
				TransactionID:    &current.ID,
				Note:             "deposit capture " + captureID,
			}); err != nil {
				return err
			}
			if err := st.Transactions.SetBalanceUpdated(ctx, current); err != nil {
				return err
			}
			if err := st.Transactions.Transition(ctx, current, domain.TransactionStatusCompleted, "capture "+captureID); err != nil {
				return err
			}
			if captureID != "" && current.ProviderReference != captureID {
				if err := st.Transactions.SetProviderReference(ctx, current, captureID); err != nil {
					return err
				}
			}
			*txn = *current
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return s.result(txn), nil
}

func (s *DepositService) findOrder(ctx context.Context, orderID string) (*domain.Transaction, error) {
	var txn *domain.Transaction
	err := s.registry.Protect(ctx, txnProtectionKey, resilience.OpRead, func(ctx context.Context) error {
		found, err := s.store.Transactions.FindByProviderReference(ctx, s.cfg.Provider, orderID)
		if err != nil {
			if errors.Is(err, repository.ErrTransactionNotFound) {
				txn = nil
				return nil
			}
			return err
		}
		txn = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, repository.ErrTransactionNotFound
	}
	return txn, nil
}

func (s *DepositService) result(txn *domain.Transaction) *DepositResult {
	return &DepositResult{
		TransactionID:    txn.ID,
		OrderID:          txn.ProviderReference,
		Status:           txn.Status,
		AmountMinorUnits: txn.AmountMinorUnits,
	}
}

func (s *DepositService) replay(ctx context.Context, key string) (*DepositResult, error) {
	txn, err := s.store.Transactions.FindByIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return s.result(txn), nil
}
