package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/draftpulse/contest-payments/internal/domain"
	"github.com/draftpulse/contest-payments/internal/repository"
	"github.com/draftpulse/contest-payments/internal/resilience"
)

var (
	ErrProviderNotConfigured = errors.New("payment provider not configured")
	ErrAmountTooSmall        = errors.New("amount below minimum")
	ErrMissingRecipient      = errors.New("recipient handle required")
	ErrCurrencyMismatch      = errors.New("unsupported currency")
)

// PayoutRequest is one transfer handed to the provider. AmountMinorUnits is
// the net amount sent after fees.
type PayoutRequest struct {
	SenderItemID     string
	RecipientHandle  string
	AmountMinorUnits int64
	Currency         string
	Note             string
}

type PayoutClient interface {
	// SendPayout submits the transfer and returns the provider batch
	// reference used by settlement webhooks.
	SendPayout(ctx context.Context, req PayoutRequest) (string, error)
}

type WithdrawalRequest struct {
	UserID           string
	AmountMinorUnits int64
	Currency         string
	RecipientHandle  string
	IdempotencyKey   string
}

type WithdrawalResult struct {
	TransactionID     uint                     `json:"transaction_id"`
	TransferReference string                   `json:"transfer_reference"`
	Status            domain.TransactionStatus `json:"status"`
	AmountMinorUnits  int64                    `json:"amount_minor_units"`
	FeeMinorUnits     int64                    `json:"fee_minor_units"`
	NetMinorUnits     int64                    `json:"net_minor_units"`
	BalanceMinorUnits int64                    `json:"balance_minor_units"`
}

type WithdrawalConfig struct {
	Provider       string
	FeeBps         int64
	MinMinorUnits  int64
	SettleCurrency string
}

// WithdrawalService runs the full initiation flow: validate, convert, debit
// with the pending slot held, record the payout item, and hand the transfer
// to the provider. A provider failure triggers an immediate compensating
// credit under the same reference the async failure path would use, so the
// two paths can never double-restore.
type WithdrawalService struct {
	store    *repository.Store
	ledger   *LedgerService
	rates    ExchangeRateSource
	payouts  PayoutClient
	registry *resilience.Registry
	switches *SwitchService
	cfg      WithdrawalConfig
	logger   *slog.Logger
}

func NewWithdrawalService(
	store *repository.Store,
	ledger *LedgerService,
	rates ExchangeRateSource,
	payouts PayoutClient,
	registry *resilience.Registry,
	switches *SwitchService,
	cfg WithdrawalConfig,
	logger *slog.Logger,
) *WithdrawalService {
	if cfg.SettleCurrency == "" {
		cfg.SettleCurrency = "USD"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WithdrawalService{
		store:    store,
		ledger:   ledger,
		rates:    rates,
		payouts:  payouts,
		registry: registry,
		switches: switches,
		cfg:      cfg,
		logger:   logger,
	}
}

func (s *WithdrawalService) Initiate(ctx context.Context, req WithdrawalRequest) (*WithdrawalResult, error) {
	if req.RecipientHandle == "" {
		return nil, ErrMissingRecipient
	}
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.Currency != "" && !validCurrencyCode(req.Currency) {
		return nil, fmt.Errorf("%w: %q", ErrCurrencyMismatch, req.Currency)
	}
	if s.payouts == nil {
		return nil, ErrProviderNotConfigured
	}
	if err := s.switches.Guard(ctx, SwitchKey(s.cfg.Provider, "withdrawals")); err != nil {
		return nil, err
	}

	amount := req.AmountMinorUnits
	localAmount := int64(0)
	localCurrency := ""
	if req.Currency != "" && req.Currency != s.cfg.SettleCurrency {
		rate, err := s.rates.Rate(ctx, req.Currency, s.cfg.SettleCurrency)
		if err != nil {
			return nil, err
		}
		localAmount = req.AmountMinorUnits
		localCurrency = req.Currency
		amount = int64(math.Round(float64(req.AmountMinorUnits) * rate))
	}
	if amount < s.cfg.MinMinorUnits {
		return nil, fmt.Errorf("%w: minimum is %d minor units", ErrAmountTooSmall, s.cfg.MinMinorUnits)
	}

	if req.IdempotencyKey != "" {
		if existing, err := s.replay(ctx, req.IdempotencyKey); err != nil {
			return nil, err
		} else if existing != nil {
			return existing, nil
		}
	}

	// Reject obviously underfunded requests before creating any records.
	// The debit below still enforces the invariant under concurrency.
	acct, err := s.ledger.Balance(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if acct.BalanceMinorUnits < amount {
		return nil, repository.ErrInsufficientBalance
	}
	if acct.PendingWithdrawalRef != nil {
		return nil, repository.ErrWithdrawalInProgress
	}

	fee := amount * s.cfg.FeeBps / 10000
	net := amount - fee
	if net <= 0 {
		return nil, fmt.Errorf("%w: fee consumes the full amount", ErrAmountTooSmall)
	}

	senderItemID := "wd-" + uuid.NewString()
	idemKey := req.IdempotencyKey
	if idemKey == "" {
		idemKey = senderItemID
	}

	txn := &domain.Transaction{
		UserID:                req.UserID,
		Type:                  domain.TransactionTypeWithdrawal,
		Status:                domain.TransactionStatusProcessing,
		AmountMinorUnits:      amount,
		Currency:              s.cfg.SettleCurrency,
		LocalAmountMinorUnits: localAmount,
		LocalCurrency:         localCurrency,
		Provider:              s.cfg.Provider,
		ProviderReference:     senderItemID,
		IdempotencyKey:        idemKey,
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

	acct, err = s.ledger.Apply(ctx, repository.BalanceMutation{
		UserID:           req.UserID,
		AmountMinorUnits: amount,
		Direction:        repository.DirectionDebit,
		IdempotencyKey:   senderItemID + ":debit",
		Reference:        senderItemID,
		SetPendingRef:    true,
		TransactionID:    &txn.ID,
		Note:             "withdrawal to " + req.RecipientHandle,
	})
	if err != nil {
		s.failTransaction(ctx, txn, "debit rejected: "+err.Error())
		return nil, err
	}

	item := &domain.PayoutItem{
		TransactionID:    txn.ID,
		UserID:           req.UserID,
		Provider:         s.cfg.Provider,
		SenderItemID:     senderItemID,
		AmountMinorUnits: amount,
		FeeMinorUnits:    fee,
		Currency:         s.cfg.SettleCurrency,
		RecipientHandle:  req.RecipientHandle,
		Status:           domain.PayoutStatusPending,
	}
	err = s.registry.Protect(ctx, "store.payouts", resilience.OpWrite, func(ctx context.Context) error {
		return s.store.Payouts.Create(ctx, item)
	})
	if err != nil {
		s.compensateInitiation(ctx, txn, item, "payout record failed: "+err.Error())
		return nil, err
	}

	var batchRef string
	err = s.registry.Protect(ctx, "provider."+s.cfg.Provider+".payouts", resilience.OpWrite, func(ctx context.Context) error {
		ref, err := s.payouts.SendPayout(ctx, PayoutRequest{
			SenderItemID:     senderItemID,
			RecipientHandle:  req.RecipientHandle,
			AmountMinorUnits: net,
			Currency:         s.cfg.SettleCurrency,
			Note:             "contest winnings withdrawal",
		})
		if err != nil {
			return err
		}
		batchRef = ref
		return nil
	})
	if err != nil {
		s.compensateInitiation(ctx, txn, item, "provider rejected payout: "+err.Error())
		return nil, err
	}

	if err := s.store.Payouts.SetBatchReference(ctx, item, batchRef); err != nil {
		// The transfer is in flight; settlement webhooks fall back to the
		// sender item id, so this is recoverable noise.
		s.logger.WarnContext(ctx, "failed to record payout batch reference",
			"sender_item_id", senderItemID, "batch_reference", batchRef, "error", err.Error())
	}

	return &WithdrawalResult{
		TransactionID:     txn.ID,
		TransferReference: senderItemID,
		Status:            txn.Status,
		AmountMinorUnits:  amount,
		FeeMinorUnits:     fee,
		NetMinorUnits:     net,
		BalanceMinorUnits: acct.BalanceMinorUnits,
	}, nil
}

// compensateInitiation reverses a debit already applied when a later
// initiation step fails. The restore key matches the async failure path, so
// a webhook arriving for the same reference is a no-op.
func (s *WithdrawalService) compensateInitiation(ctx context.Context, txn *domain.Transaction, item *domain.PayoutItem, reason string) {
	s.failTransaction(ctx, txn, reason)
	if item.ID != 0 {
		if err := s.store.Payouts.SetStatus(ctx, item, domain.PayoutStatusFailed, reason); err != nil {
			s.logger.WarnContext(ctx, "failed to mark payout item failed", "sender_item_id", item.SenderItemID, "error", err.Error())
		}
	}
	_, err := s.ledger.CompensateDebit(ctx, txn.UserID, txn.AmountMinorUnits, txn.ProviderReference, &txn.ID, "withdrawal initiation failed")
	if err != nil {
		s.logger.ErrorContext(ctx, "compensating credit failed, manual intervention required",
			"transfer_reference", txn.ProviderReference,
			"user_id", txn.UserID,
			"amount_minor_units", txn.AmountMinorUnits,
			"error", err.Error())
	}
}

// validCurrencyCode accepts ISO 4217 alphabetic codes.
func validCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return false
		}
	}
	return true
}

func (s *WithdrawalService) failTransaction(ctx context.Context, txn *domain.Transaction, note string) {
	if err := s.store.Transactions.Transition(ctx, txn, domain.TransactionStatusFailed, note); err != nil {
		s.logger.WarnContext(ctx, "failed to mark transaction failed", "transaction_id", txn.ID, "error", err.Error())
	}
}

func (s *WithdrawalService) replay(ctx context.Context, key string) (*WithdrawalResult, error) {
	txn, err := s.store.Transactions.FindByIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	result := &WithdrawalResult{
		TransactionID:     txn.ID,
		TransferReference: txn.ProviderReference,
		Status:            txn.Status,
		AmountMinorUnits:  txn.AmountMinorUnits,
	}
	if item, err := s.store.Payouts.FindBySenderItemID(ctx, txn.ProviderReference); err == nil {
		result.FeeMinorUnits = item.FeeMinorUnits
		result.NetMinorUnits = item.AmountMinorUnits - item.FeeMinorUnits
	}
	if acct, err := s.ledger.Balance(ctx, txn.UserID); err == nil {
		result.BalanceMinorUnits = acct.BalanceMinorUnits
	}
	return result, nil
}
