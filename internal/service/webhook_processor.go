package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/draftpulse/contest-payments/internal/domain"
	"github.com/draftpulse/contest-payments/internal/observability"
	"github.com/draftpulse/contest-payments/internal/repository"
	"github.com/draftpulse/contest-payments/internal/resilience"
)

type ProcessStatus string

const (
	// ProcessProcessed means the event changed state.
	ProcessProcessed ProcessStatus = "processed"
	// ProcessIgnored means the event was recognized but had no work left to
	// do, for example a redelivery or an unknown reference.
	ProcessIgnored ProcessStatus = "ignored"
	// ProcessDeferred means the event arrived before the record it refers to;
	// a later redelivery may succeed once the record lands.
	ProcessDeferred ProcessStatus = "deferred"
)

const txnProtectionKey = "store.transactions"

// Processor applies one parsed provider event to the local records. Every
// handler is replay-safe: ledger mutations carry idempotency keys, the
// capture credit is flag-guarded inside its transaction, and status updates
// on already-terminal records degrade to no-ops.
type Processor struct {
	store    *repository.Store
	registry *resilience.Registry
	logger   *slog.Logger
}

func NewProcessor(store *repository.Store, registry *resilience.Registry, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{store: store, registry: registry, logger: logger}
}

func (p *Processor) Handle(ctx context.Context, provider string, ev Event) (ProcessStatus, error) {
	switch e := ev.(type) {
	case OrderApproved:
		return p.handleOrderApproved(ctx, provider, e)
	case CaptureCompleted:
		return p.handleCaptureCompleted(ctx, provider, e)
	case CaptureDenied:
		return p.handleCaptureDenied(ctx, provider, e)
	case CaptureRefunded:
		return p.handleCaptureRefunded(ctx, provider, e)
	case PayoutBatchSuccess:
		return p.handlePayoutBatchSuccess(ctx, provider, e)
	case PayoutItemFailed:
		return p.handlePayoutItemFailed(ctx, provider, e)
	default:
		return ProcessIgnored, fmt.Errorf("%w: %T", ErrUnsupportedEvent, ev)
	}
}

func (p *Processor) handleOrderApproved(ctx context.Context, provider string, ev OrderApproved) (ProcessStatus, error) {
	txn, err := p.findByReference(ctx, provider, ev.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			p.logger.WarnContext(ctx, "order approved for unknown transaction", "provider", provider, "order_id", ev.OrderID)
			return ProcessIgnored, nil
		}
		return ProcessIgnored, err
	}
	if txn.Status != domain.TransactionStatusPending {
		return ProcessIgnored, nil
	}
	err = p.registry.Protect(ctx, txnProtectionKey, resilience.OpWrite, func(ctx context.Context) error {
		return p.store.Transactions.Transition(ctx, txn, domain.TransactionStatusApproved, "order approved by payer "+ev.PayerID)
	})
	if err != nil {
		return ProcessIgnored, err
	}
	return ProcessProcessed, nil
}

// handleCaptureCompleted credits the deposit. The credit, the balance-updated
// flag, and the status transition commit in one database transaction; a
// redelivered event finds the flag set and leaves the balance alone.
func (p *Processor) handleCaptureCompleted(ctx context.Context, provider string, ev CaptureCompleted) (ProcessStatus, error) {
	txn, err := p.findCaptureTransaction(ctx, provider, ev.OrderID, ev.CaptureID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			p.logger.WarnContext(ctx, "capture completed for unknown transaction",
				"provider", provider, "order_id", ev.OrderID, "capture_id", ev.CaptureID)
			return ProcessIgnored, nil
		}
		return ProcessIgnored, err
	}
	if txn.BalanceUpdated && txn.Status == domain.TransactionStatusCompleted {
		return ProcessIgnored, nil
	}

	err = p.registry.Protect(ctx, txnProtectionKey, resilience.OpWrite, func(ctx context.Context) error {
		return p.store.Atomic(ctx, func(st *repository.Store) error {
			current, err := st.Transactions.FindByID(ctx, txn.ID)
			if err != nil {
				return err
			}
			if !current.BalanceUpdated {
				if _, err := st.Ledger.CreateAccountIfMissing(ctx, current.UserID); err != nil {
					return err
				}
				if _, err := st.Ledger.ApplyBalanceMutation(ctx, repository.BalanceMutation{
					UserID:           current.UserID,
					AmountMinorUnits: current.AmountMinorUnits,
					Direction:        repository.DirectionCredit,
					IdempotencyKey:   fmt.Sprintf("%s:capture:%s", provider, ev.CaptureID),
					TransactionID:    &current.ID,
					Note:             "deposit capture " + ev.CaptureID,
				}); err != nil {
					return err
				}
				if err := st.Transactions.SetBalanceUpdated(ctx, current); err != nil {
					return err
				}
			}
			if current.Status != domain.TransactionStatusCompleted {
				if err := st.Transactions.Transition(ctx, current, domain.TransactionStatusCompleted, "capture "+ev.CaptureID); err != nil {
					return err
				}
			}
			// Refund events reference the capture, not the order.
			if current.ProviderReference != ev.CaptureID && ev.CaptureID != "" {
				if err := st.Transactions.SetProviderReference(ctx, current, ev.CaptureID); err != nil {
					return err
				}
			}
			*txn = *current
			return nil
		})
	})
	if err != nil {
		return ProcessIgnored, err
	}
	return ProcessProcessed, nil
}

func (p *Processor) handleCaptureDenied(ctx context.Context, provider string, ev CaptureDenied) (ProcessStatus, error) {
	txn, err := p.findCaptureTransaction(ctx, provider, ev.OrderID, ev.CaptureID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			p.logger.WarnContext(ctx, "capture denied for unknown transaction",
				"provider", provider, "order_id", ev.OrderID, "capture_id", ev.CaptureID)
			return ProcessIgnored, nil
		}
		return ProcessIgnored, err
	}
	if txn.Status == domain.TransactionStatusVoided {
		return ProcessIgnored, nil
	}
	note := "capture denied"
	if ev.Reason != "" {
		note += ": " + ev.Reason
	}
	err = p.registry.Protect(ctx, txnProtectionKey, resilience.OpWrite, func(ctx context.Context) error {
		return p.store.Transactions.Transition(ctx, txn, domain.TransactionStatusVoided, note)
	})
	if err != nil {
		return ProcessIgnored, err
	}
	return ProcessProcessed, nil
}

// handleCaptureRefunded marks the deposit refunded and claws the credited
// amount back. A balance already spent down below the refund amount is
// logged and left alone; support reconciles those by hand.
func (p *Processor) handleCaptureRefunded(ctx context.Context, provider string, ev CaptureRefunded) (ProcessStatus, error) {
	txn, err := p.findByReference(ctx, provider, ev.CaptureID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			// The capture may still be in flight; deferring keeps the lock
			// reclaimable so a redelivery can land once the capture does.
			p.logger.WarnContext(ctx, "refund for unknown transaction, deferring", "provider", provider, "capture_id", ev.CaptureID)
			return ProcessDeferred, nil
		}
		return ProcessIgnored, err
	}
	if txn.Status == domain.TransactionStatusRefunded {
		return ProcessIgnored, nil
	}

	err = p.registry.Protect(ctx, txnProtectionKey, resilience.OpWrite, func(ctx context.Context) error {
		return p.store.Atomic(ctx, func(st *repository.Store) error {
			if err := st.Transactions.Transition(ctx, txn, domain.TransactionStatusRefunded, "refund "+ev.RefundID); err != nil {
				return err
			}
			_, err := st.Ledger.ApplyBalanceMutation(ctx, repository.BalanceMutation{
				UserID:           txn.UserID,
				AmountMinorUnits: ev.AmountMinorUnits,
				Direction:        repository.DirectionDebit,
				IdempotencyKey:   fmt.Sprintf("%s:refund:%s", provider, ev.RefundID),
				TransactionID:    &txn.ID,
				Note:             "refund " + ev.RefundID,
			})
			if errors.Is(err, repository.ErrInsufficientBalance) {
				p.logger.WarnContext(ctx, "refund exceeds remaining balance, skipping deduction",
					"provider", provider, "refund_id", ev.RefundID, "user_id", txn.UserID,
					"amount_minor_units", ev.AmountMinorUnits)
				return nil
			}
			return err
		})
	})
	if err != nil {
		return ProcessIgnored, err
	}
	return ProcessProcessed, nil
}

func (p *Processor) handlePayoutBatchSuccess(ctx context.Context, provider string, ev PayoutBatchSuccess) (ProcessStatus, error) {
	items, err := p.store.Payouts.ListByBatchReference(ctx, provider, ev.BatchReference)
	if err != nil {
		return ProcessIgnored, err
	}
	if len(items) == 0 {
		p.logger.WarnContext(ctx, "payout batch success for unknown batch", "provider", provider, "batch_reference", ev.BatchReference)
		return ProcessIgnored, nil
	}

	status := ProcessIgnored
	for i := range items {
		item := &items[i]
		if item.Status != domain.PayoutStatusPending {
			continue
		}
		err := p.registry.Protect(ctx, txnProtectionKey, resilience.OpWrite, func(ctx context.Context) error {
			return p.store.Atomic(ctx, func(st *repository.Store) error {
				if err := st.Payouts.SetStatus(ctx, item, domain.PayoutStatusSuccess, ""); err != nil {
					return err
				}
				txn, err := st.Transactions.FindByID(ctx, item.TransactionID)
				if err != nil {
					return err
				}
				if txn.Status == domain.TransactionStatusProcessing {
					if err := st.Transactions.Transition(ctx, txn, domain.TransactionStatusCompleted, "payout batch "+ev.BatchReference); err != nil {
						return err
					}
				}
				// Vacate the pending-withdrawal slot; the money already left
				// at initiation so the settlement entry carries no delta.
				_, err = st.Ledger.ApplyBalanceMutation(ctx, repository.BalanceMutation{
					UserID:          item.UserID,
					Direction:       repository.DirectionCredit,
					IdempotencyKey:  item.SenderItemID + ":settle",
					Reference:       item.SenderItemID,
					ClearPendingRef: true,
					TransactionID:   &item.TransactionID,
					Note:            "payout settled, batch " + ev.BatchReference,
				})
				return err
			})
		})
		if err != nil {
			return status, err
		}
		status = ProcessProcessed
	}
	return status, nil
}

// handlePayoutItemFailed reverses a withdrawal whose payout bounced: the item
// and transaction are marked failed, then the debited amount is credited back
// under a key derived from the transfer reference. A failed credit-back is
// the one state this subsystem cannot self-heal from, so it is flagged for
// operators before the error propagates and the event is retried.
func (p *Processor) handlePayoutItemFailed(ctx context.Context, provider string, ev PayoutItemFailed) (ProcessStatus, error) {
	item, err := p.store.Payouts.FindBySenderItemID(ctx, ev.SenderItemID)
	if err != nil {
		if errors.Is(err, repository.ErrPayoutNotFound) {
			p.logger.WarnContext(ctx, "payout item failed for unknown item", "provider", provider, "sender_item_id", ev.SenderItemID)
			return ProcessIgnored, nil
		}
		return ProcessIgnored, err
	}
	if item.Status == domain.PayoutStatusFailed {
		return ProcessIgnored, nil
	}

	err = p.registry.Protect(ctx, txnProtectionKey, resilience.OpWrite, func(ctx context.Context) error {
		if err := p.store.Payouts.SetStatus(ctx, item, domain.PayoutStatusFailed, ev.Reason); err != nil {
			return err
		}
		txn, err := p.store.Transactions.FindByID(ctx, item.TransactionID)
		if err != nil {
			return err
		}
		if txn.Status != domain.TransactionStatusFailed {
			note := "payout item failed"
			if ev.Reason != "" {
				note += ": " + ev.Reason
			}
			if err := p.store.Transactions.Transition(ctx, txn, domain.TransactionStatusFailed, note); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ProcessIgnored, err
	}

	_, err = p.compensate(ctx, item)
	if err != nil {
		observability.RecordCompensationFailure(provider)
		p.logger.ErrorContext(ctx, "compensating credit failed, manual intervention required",
			"provider", provider,
			"sender_item_id", ev.SenderItemID,
			"user_id", item.UserID,
			"amount_minor_units", item.AmountMinorUnits,
			"error", err.Error())
		return ProcessIgnored, fmt.Errorf("compensate payout %s: %w", ev.SenderItemID, err)
	}
	return ProcessProcessed, nil
}

func (p *Processor) compensate(ctx context.Context, item *domain.PayoutItem) (*domain.Account, error) {
	var acct *domain.Account
	err := p.registry.Protect(ctx, ledgerProtectionKey, resilience.OpWrite, func(ctx context.Context) error {
		restored, err := p.store.Ledger.ApplyBalanceMutation(ctx, repository.BalanceMutation{
			UserID:           item.UserID,
			AmountMinorUnits: item.AmountMinorUnits,
			Direction:        repository.DirectionCredit,
			IdempotencyKey:   item.SenderItemID + ":restore",
			Reference:        item.SenderItemID,
			ClearPendingRef:  true,
			TransactionID:    &item.TransactionID,
			Note:             "payout failure restore",
		})
		if err != nil {
			return err
		}
		acct = restored
		return nil
	})
	return acct, err
}

func (p *Processor) findByReference(ctx context.Context, provider, reference string) (*domain.Transaction, error) {
	var txn *domain.Transaction
	err := p.registry.Protect(ctx, txnProtectionKey, resilience.OpRead, func(ctx context.Context) error {
		found, err := p.store.Transactions.FindByProviderReference(ctx, provider, reference)
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

// findCaptureTransaction looks up by order id first, then by capture id,
// which becomes the stored reference after the first completed capture.
func (p *Processor) findCaptureTransaction(ctx context.Context, provider, orderID, captureID string) (*domain.Transaction, error) {
	if orderID != "" {
		txn, err := p.findByReference(ctx, provider, orderID)
		if err == nil {
			return txn, nil
		}
		if !errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, err
		}
	}
	if captureID == "" {
		return nil, repository.ErrTransactionNotFound
	}
	return p.findByReference(ctx, provider, captureID)
}

// EventMetadata serializes an event for the lock row audit column.
func EventMetadata(ev Event) string {
	raw, err := json.Marshal(map[string]string{"event_type": ev.EventType()})
	if err != nil {
		return ""
	}
	return string(raw)
}
