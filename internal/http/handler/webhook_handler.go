package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/draftpulse/contest-payments/internal/http/response"
	"github.com/draftpulse/contest-payments/internal/observability"
	"github.com/draftpulse/contest-payments/internal/security"
	"github.com/draftpulse/contest-payments/internal/service"
)

const maxWebhookBody = 1 << 20

// WebhookHandler is the provider-facing intake. It answers 401 only when the
// signature does not verify; every other outcome, including internal
// failures, acknowledges with 200 so a permanently-broken event cannot keep
// the provider redelivering forever. Details stay in the logs, never in the
// response body.
type WebhookHandler struct {
	locks     *service.WebhookLockService
	processor *service.Processor
	secrets   map[string]string
	logger    *slog.Logger
}

func NewWebhookHandler(locks *service.WebhookLockService, processor *service.Processor, secrets map[string]string, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{locks: locks, processor: processor, secrets: secrets, logger: logger}
}

func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.WarnContext(r.Context(), "webhook body read failed", "provider", provider, "error", err.Error())
		h.ack(w, "invalid")
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")
	if !security.VerifyWebhookSignature(h.secrets[provider], body, signature) {
		observability.RecordWebhookEvent(provider, "unknown", "bad_signature")
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid webhook signature", nil)
		return
	}

	ev, err := service.ParseEvent(body)
	if err != nil {
		if errors.Is(err, service.ErrUnsupportedEvent) {
			observability.RecordWebhookEvent(provider, "unknown", "unsupported")
			h.ack(w, "ignored")
			return
		}
		observability.RecordWebhookEvent(provider, "unknown", "invalid")
		h.logger.WarnContext(r.Context(), "webhook parse failed", "provider", provider, "error", err.Error())
		h.ack(w, "invalid")
		return
	}

	result, err := h.locks.Acquire(r.Context(), provider, ev.EventID(), ev.EventType(), service.EventMetadata(ev))
	if err != nil {
		observability.RecordWebhookEvent(provider, ev.EventType(), "lock_error")
		h.logger.ErrorContext(r.Context(), "webhook lock acquisition failed",
			"provider", provider, "event_id", ev.EventID(), "error", err.Error())
		h.ack(w, "error")
		return
	}

	switch result.Outcome {
	case service.LockAlreadyProcessed:
		observability.RecordWebhookEvent(provider, ev.EventType(), "already_processed")
		h.ack(w, "already_processed")
		return
	case service.LockAlreadyProcessing:
		observability.RecordWebhookEvent(provider, ev.EventType(), "already_processing")
		h.ack(w, "already_processing")
		return
	}

	status, err := h.processor.Handle(r.Context(), provider, ev)
	if err != nil {
		observability.RecordWebhookEvent(provider, ev.EventType(), "failed")
		h.logger.ErrorContext(r.Context(), "webhook processing failed",
			"provider", provider, "event_id", ev.EventID(), "event_type", ev.EventType(), "error", err.Error())
		if ferr := result.Held.MarkFailed(r.Context(), err.Error()); ferr != nil {
			h.logger.ErrorContext(r.Context(), "webhook lock mark-failed failed",
				"provider", provider, "event_id", ev.EventID(), "error", ferr.Error())
		}
		h.ack(w, "failed")
		return
	}

	if status == service.ProcessDeferred {
		// Leave the lock in the failed state so the provider's next
		// redelivery of this event can reclaim it and try again.
		if ferr := result.Held.MarkFailed(r.Context(), "deferred: referenced record not yet visible"); ferr != nil {
			h.logger.ErrorContext(r.Context(), "webhook lock mark-failed failed",
				"provider", provider, "event_id", ev.EventID(), "error", ferr.Error())
		}
		observability.RecordWebhookEvent(provider, ev.EventType(), string(status))
		h.ack(w, string(status))
		return
	}

	if rerr := result.Held.Release(r.Context()); rerr != nil {
		// The work committed; a stuck lock only costs a redundant replay
		// after the liveness window.
		h.logger.ErrorContext(r.Context(), "webhook lock release failed",
			"provider", provider, "event_id", ev.EventID(), "error", rerr.Error())
	}
	observability.RecordWebhookEvent(provider, ev.EventType(), string(status))
	h.ack(w, string(status))
}

// ack writes the provider acknowledgment. Providers expect a bare JSON
// object, not the client API envelope.
func (h *WebhookHandler) ack(w http.ResponseWriter, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"received": true,
		"status":   status,
	})
}
