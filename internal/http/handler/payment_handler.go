package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/draftpulse/contest-payments/internal/http/middleware"
	"github.com/draftpulse/contest-payments/internal/http/response"
	"github.com/draftpulse/contest-payments/internal/repository"
	"github.com/draftpulse/contest-payments/internal/resilience"
	"github.com/draftpulse/contest-payments/internal/service"
)

type PaymentHandler struct {
	withdrawals *service.WithdrawalService
	deposits    *service.DepositService
	ledger      *service.LedgerService
}

func NewPaymentHandler(withdrawals *service.WithdrawalService, deposits *service.DepositService, ledger *service.LedgerService) *PaymentHandler {
	return &PaymentHandler{withdrawals: withdrawals, deposits: deposits, ledger: ledger}
}

func (h *PaymentHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid user", nil)
		return
	}

	var req struct {
		AmountMinorUnits int64  `json:"amount_minor_units"`
		Currency         string `json:"currency"`
		RecipientHandle  string `json:"recipient_handle"`
		IdempotencyKey   string `json:"idempotency_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if req.AmountMinorUnits <= 0 {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "amount must be positive", nil)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	result, err := h.withdrawals.Initiate(r.Context(), service.WithdrawalRequest{
		UserID:           userID,
		AmountMinorUnits: req.AmountMinorUnits,
		Currency:         req.Currency,
		RecipientHandle:  req.RecipientHandle,
		IdempotencyKey:   req.IdempotencyKey,
	})
	if err != nil {
		writePaymentError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, result)
}

func (h *PaymentHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid user", nil)
		return
	}

	var req struct {
		AmountMinorUnits int64  `json:"amount_minor_units"`
		IdempotencyKey   string `json:"idempotency_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if req.AmountMinorUnits <= 0 {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "amount must be positive", nil)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	result, err := h.deposits.Initiate(r.Context(), service.DepositRequest{
		UserID:           userID,
		AmountMinorUnits: req.AmountMinorUnits,
		IdempotencyKey:   req.IdempotencyKey,
	})
	if err != nil {
		writePaymentError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, result)
}

func (h *PaymentHandler) ConfirmDeposit(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid user", nil)
		return
	}

	var req struct {
		OrderID string `json:"order_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "order_id is required", nil)
		return
	}

	result, err := h.deposits.Confirm(r.Context(), userID, req.OrderID)
	if err != nil {
		writePaymentError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}

func (h *PaymentHandler) Balance(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid user", nil)
		return
	}

	acct, err := h.ledger.EnsureAccount(r.Context(), userID)
	if err != nil {
		writePaymentError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, acct)
}

func (h *PaymentHandler) Entries(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid user", nil)
		return
	}

	entries, err := h.ledger.Entries(r.Context(), userID, 50)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			response.JSON(w, r, http.StatusOK, []struct{}{})
			return
		}
		writePaymentError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, entries)
}

// writePaymentError maps service errors onto stable {code, message} bodies.
// Internal detail never reaches the client.
func writePaymentError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrInsufficientBalance):
		response.Error(w, r, http.StatusConflict, "INSUFFICIENT_BALANCE", "balance too low for this operation", nil)
	case errors.Is(err, repository.ErrWithdrawalInProgress):
		response.Error(w, r, http.StatusConflict, "WITHDRAWAL_IN_PROGRESS", "another withdrawal is already in flight", nil)
	case errors.Is(err, repository.ErrAccountNotFound):
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "account not found", nil)
	case errors.Is(err, repository.ErrTransactionNotFound):
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "transaction not found", nil)
	case errors.Is(err, service.ErrAmountTooSmall):
		response.Error(w, r, http.StatusBadRequest, "AMOUNT_TOO_SMALL", err.Error(), nil)
	case errors.Is(err, service.ErrMissingRecipient):
		response.Error(w, r, http.StatusBadRequest, "MISSING_RECIPIENT", "recipient handle is required", nil)
	case errors.Is(err, service.ErrCurrencyMismatch):
		response.Error(w, r, http.StatusBadRequest, "CURRENCY_MISMATCH", "currency is not supported", nil)
	case errors.Is(err, service.ErrExchangeRateUnavailable):
		response.Error(w, r, http.StatusServiceUnavailable, "EXCHANGE_RATE_UNAVAILABLE", "currency conversion is unavailable", nil)
	case errors.Is(err, service.ErrProviderNotConfigured):
		response.Error(w, r, http.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE", "payment provider is not configured", nil)
	case errors.Is(err, service.ErrOperationDisabled):
		response.Error(w, r, http.StatusServiceUnavailable, "OPERATION_DISABLED", "this operation is temporarily disabled", nil)
	case errors.Is(err, resilience.ErrBreakerOpen), errors.Is(err, resilience.ErrBudgetExhausted):
		response.Error(w, r, http.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE", "service is temporarily unavailable", nil)
	default:
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
