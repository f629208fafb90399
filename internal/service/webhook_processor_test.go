package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/draftpulse/contest-payments/internal/domain"
	"github.com/draftpulse/contest-payments/internal/repository"
	"github.com/draftpulse/contest-payments/internal/resilience"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newProcessorForTest(t *testing.T) (*Processor, *repository.Store) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	models := []any{
		&domain.Account{},
		&domain.LedgerEntry{},
		&domain.Transaction{},
		&domain.TransactionEvent{},
		&domain.PayoutItem{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := resilience.NewRegistry(log, resilience.Options{
		Retry:   resilience.RetryPolicy{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Breaker: resilience.BreakerConfig{FailureThreshold: 100, ResetTimeout: time.Second, HalfOpenMaxAttempts: 1},
		Budget:  resilience.BudgetConfig{MaxTokens: 1000, RefillRate: 1000},
	})
	store := repository.NewStore(db)
	return NewProcessor(store, registry, log), store
}

func seedDeposit(t *testing.T, store *repository.Store, userID, reference string, amount int64, status domain.TransactionStatus) *domain.Transaction {
	t.Helper()
	txn := &domain.Transaction{
		UserID:            userID,
		Type:              domain.TransactionTypeDeposit,
		Status:            status,
		AmountMinorUnits:  amount,
		Currency:          "USD",
		Provider:          "paypal",
		ProviderReference: reference,
		IdempotencyKey:    "seed-" + reference,
	}
	if err := store.Transactions.Create(context.Background(), txn); err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
	return txn
}

func creditBalance(t *testing.T, store *repository.Store, userID string, amount int64, key string) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.Ledger.CreateAccountIfMissing(ctx, userID); err != nil {
		t.Fatalf("create account: %v", err)
	}
	_, err := store.Ledger.ApplyBalanceMutation(ctx, repository.BalanceMutation{
		UserID:           userID,
		AmountMinorUnits: amount,
		Direction:        repository.DirectionCredit,
		IdempotencyKey:   key,
		Note:             "seed credit",
	})
	if err != nil {
		t.Fatalf("seed credit: %v", err)
	}
}

func balanceOf(t *testing.T, store *repository.Store, userID string) int64 {
	t.Helper()
	acct, err := store.Ledger.FindAccountByUserID(context.Background(), userID)
	if err != nil {
		t.Fatalf("find account: %v", err)
	}
	return acct.BalanceMinorUnits
}

func TestProcessorOrderApprovedTransitionsPendingDeposit(t *testing.T) {
	proc, store := newProcessorForTest(t)
	txn := seedDeposit(t, store, "user-1", "ORD-1", 2500, domain.TransactionStatusPending)

	status, err := proc.Handle(context.Background(), "paypal", OrderApproved{ID: "WH-1", OrderID: "ORD-1", PayerID: "payer-9"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if status != ProcessProcessed {
		t.Fatalf("expected processed, got %s", status)
	}

	current, err := store.Transactions.FindByID(context.Background(), txn.ID)
	if err != nil {
		t.Fatalf("reload transaction: %v", err)
	}
	if current.Status != domain.TransactionStatusApproved {
		t.Fatalf("expected approved, got %s", current.Status)
	}

	// A redelivered approval finds the transaction past pending.
	status, err = proc.Handle(context.Background(), "paypal", OrderApproved{ID: "WH-1", OrderID: "ORD-1", PayerID: "payer-9"})
	if err != nil {
		t.Fatalf("redelivered handle: %v", err)
	}
	if status != ProcessIgnored {
		t.Fatalf("expected ignored on redelivery, got %s", status)
	}
}

func TestProcessorCaptureDeniedVoidsTransaction(t *testing.T) {
	proc, store := newProcessorForTest(t)
	txn := seedDeposit(t, store, "user-1", "ORD-1", 2500, domain.TransactionStatusPending)

	ev := CaptureDenied{ID: "WH-1", OrderID: "ORD-1", CaptureID: "CAP-1", Reason: "risk decline"}
	status, err := proc.Handle(context.Background(), "paypal", ev)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if status != ProcessProcessed {
		t.Fatalf("expected processed, got %s", status)
	}

	current, err := store.Transactions.FindByID(context.Background(), txn.ID)
	if err != nil {
		t.Fatalf("reload transaction: %v", err)
	}
	if current.Status != domain.TransactionStatusVoided {
		t.Fatalf("expected voided, got %s", current.Status)
	}

	status, err = proc.Handle(context.Background(), "paypal", ev)
	if err != nil {
		t.Fatalf("redelivered handle: %v", err)
	}
	if status != ProcessIgnored {
		t.Fatalf("expected ignored on redelivery, got %s", status)
	}
}

func TestProcessorCaptureDeniedUnknownTransactionIsIgnored(t *testing.T) {
	proc, _ := newProcessorForTest(t)

	status, err := proc.Handle(context.Background(), "paypal", CaptureDenied{ID: "WH-1", OrderID: "ORD-missing"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if status != ProcessIgnored {
		t.Fatalf("expected ignored, got %s", status)
	}
}

func TestProcessorCaptureRefundedClawsBackCredit(t *testing.T) {
	proc, store := newProcessorForTest(t)
	txn := seedDeposit(t, store, "user-1", "CAP-1", 5000, domain.TransactionStatusCompleted)
	creditBalance(t, store, "user-1", 5000, "paypal:capture:CAP-1")

	ev := CaptureRefunded{ID: "WH-1", CaptureID: "CAP-1", RefundID: "REF-1", AmountMinorUnits: 5000, Currency: "USD"}
	status, err := proc.Handle(context.Background(), "paypal", ev)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if status != ProcessProcessed {
		t.Fatalf("expected processed, got %s", status)
	}
	if got := balanceOf(t, store, "user-1"); got != 0 {
		t.Fatalf("expected balance 0 after clawback, got %d", got)
	}

	current, err := store.Transactions.FindByID(context.Background(), txn.ID)
	if err != nil {
		t.Fatalf("reload transaction: %v", err)
	}
	if current.Status != domain.TransactionStatusRefunded {
		t.Fatalf("expected refunded, got %s", current.Status)
	}

	// Redelivery after the terminal transition is a no-op.
	status, err = proc.Handle(context.Background(), "paypal", ev)
	if err != nil {
		t.Fatalf("redelivered handle: %v", err)
	}
	if status != ProcessIgnored {
		t.Fatalf("expected ignored on redelivery, got %s", status)
	}
	if got := balanceOf(t, store, "user-1"); got != 0 {
		t.Fatalf("redelivery must not debit again, balance %d", got)
	}
}

func TestProcessorCaptureRefundedRejectsNegativeAmount(t *testing.T) {
	proc, store := newProcessorForTest(t)
	txn := seedDeposit(t, store, "user-1", "CAP-1", 1000, domain.TransactionStatusCompleted)
	creditBalance(t, store, "user-1", 1000, "paypal:capture:CAP-1")

	// A negative clawback would credit the account instead of debiting it.
	ev := CaptureRefunded{ID: "WH-1", CaptureID: "CAP-1", RefundID: "REF-1", AmountMinorUnits: -500, Currency: "USD"}
	_, err := proc.Handle(context.Background(), "paypal", ev)
	if err == nil {
		t.Fatal("expected a negative refund amount to be rejected")
	}
	if got := balanceOf(t, store, "user-1"); got != 1000 {
		t.Fatalf("expected balance untouched at 1000, got %d", got)
	}

	current, err := store.Transactions.FindByID(context.Background(), txn.ID)
	if err != nil {
		t.Fatalf("reload transaction: %v", err)
	}
	if current.Status != domain.TransactionStatusCompleted {
		t.Fatalf("expected status rolled back to completed, got %s", current.Status)
	}
}

func TestProcessorCaptureRefundedUnknownTransactionIsDeferred(t *testing.T) {
	proc, store := newProcessorForTest(t)

	ev := CaptureRefunded{ID: "WH-1", CaptureID: "CAP-1", RefundID: "REF-1", AmountMinorUnits: 1000, Currency: "USD"}
	status, err := proc.Handle(context.Background(), "paypal", ev)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if status != ProcessDeferred {
		t.Fatalf("expected deferred for an out-of-order refund, got %s", status)
	}

	// Once the capture lands, a redelivery of the same refund applies.
	seedDeposit(t, store, "user-1", "CAP-1", 1000, domain.TransactionStatusCompleted)
	creditBalance(t, store, "user-1", 1000, "paypal:capture:CAP-1")
	status, err = proc.Handle(context.Background(), "paypal", ev)
	if err != nil {
		t.Fatalf("redelivered handle: %v", err)
	}
	if status != ProcessProcessed {
		t.Fatalf("expected processed on redelivery, got %s", status)
	}
	if got := balanceOf(t, store, "user-1"); got != 0 {
		t.Fatalf("expected balance 0 after the redelivered refund, got %d", got)
	}
}

func TestProcessorCaptureRefundedSkipsDeductionWhenBalanceSpentDown(t *testing.T) {
	proc, store := newProcessorForTest(t)
	txn := seedDeposit(t, store, "user-1", "CAP-1", 5000, domain.TransactionStatusCompleted)
	creditBalance(t, store, "user-1", 5000, "paypal:capture:CAP-1")

	// Spend most of the deposit before the refund lands.
	_, err := store.Ledger.ApplyBalanceMutation(context.Background(), repository.BalanceMutation{
		UserID:           "user-1",
		AmountMinorUnits: 4000,
		Direction:        repository.DirectionDebit,
		IdempotencyKey:   "contest-entry-1",
		Note:             "contest entry",
	})
	if err != nil {
		t.Fatalf("spend down: %v", err)
	}

	ev := CaptureRefunded{ID: "WH-1", CaptureID: "CAP-1", RefundID: "REF-1", AmountMinorUnits: 5000, Currency: "USD"}
	status, err := proc.Handle(context.Background(), "paypal", ev)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if status != ProcessProcessed {
		t.Fatalf("expected processed, got %s", status)
	}
	if got := balanceOf(t, store, "user-1"); got != 1000 {
		t.Fatalf("underwater refund must leave the balance alone, got %d", got)
	}

	current, err := store.Transactions.FindByID(context.Background(), txn.ID)
	if err != nil {
		t.Fatalf("reload transaction: %v", err)
	}
	if current.Status != domain.TransactionStatusRefunded {
		t.Fatalf("expected refunded, got %s", current.Status)
	}
}

func TestProcessorCaptureCompletedRebindsProviderReference(t *testing.T) {
	proc, store := newProcessorForTest(t)
	txn := seedDeposit(t, store, "user-1", "ORD-1", 2500, domain.TransactionStatusPending)

	ev := CaptureCompleted{ID: "WH-1", OrderID: "ORD-1", CaptureID: "CAP-1", AmountMinorUnits: 2500, Currency: "USD"}
	status, err := proc.Handle(context.Background(), "paypal", ev)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if status != ProcessProcessed {
		t.Fatalf("expected processed, got %s", status)
	}

	current, err := store.Transactions.FindByID(context.Background(), txn.ID)
	if err != nil {
		t.Fatalf("reload transaction: %v", err)
	}
	if current.ProviderReference != "CAP-1" {
		t.Fatalf("expected provider reference rebound to capture id, got %q", current.ProviderReference)
	}
	if !current.BalanceUpdated {
		t.Fatal("expected balance-updated flag set")
	}
	if got := balanceOf(t, store, "user-1"); got != 2500 {
		t.Fatalf("expected credited balance 2500, got %d", got)
	}

	// A refund referencing the capture id now resolves the transaction.
	refund := CaptureRefunded{ID: "WH-2", CaptureID: "CAP-1", RefundID: "REF-1", AmountMinorUnits: 2500, Currency: "USD"}
	status, err = proc.Handle(context.Background(), "paypal", refund)
	if err != nil {
		t.Fatalf("refund handle: %v", err)
	}
	if status != ProcessProcessed {
		t.Fatalf("expected refund processed, got %s", status)
	}
	if got := balanceOf(t, store, "user-1"); got != 0 {
		t.Fatalf("expected balance 0 after refund, got %d", got)
	}
}
