package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/draftpulse/contest-payments/internal/domain"
	"github.com/draftpulse/contest-payments/internal/repository"
	"github.com/draftpulse/contest-payments/internal/resilience"
)

type LockOutcome string

const (
	LockAcquired          LockOutcome = "acquired"
	LockAlreadyProcessing LockOutcome = "already_processing"
	LockAlreadyProcessed  LockOutcome = "already_processed"
)

// AcquiredLock is the handle returned for a successful acquisition. Handlers
// must call exactly one of Release or MarkFailed on every code path;
// forgetting leaves the event stuck in processing until the liveness window
// expires and redelivery retries it.
type AcquiredLock struct {
	Lock       *domain.WebhookLock
	Release    func(ctx context.Context) error
	MarkFailed func(ctx context.Context, reason string) error
}

type AcquireResult struct {
	Outcome LockOutcome
	Held    *AcquiredLock
}

const lockProtectionKey = "store.webhook_locks"

// WebhookLockService implements the idempotency lock protocol over the
// persisted lock collection, with an optional Redis dedupe fast path in
// front of it. Correctness is anchored to the database row; Redis only
// absorbs hot redeliveries.
type WebhookLockService struct {
	locks    repository.WebhookLockRepository
	registry *resilience.Registry
	dedupe   WebhookDedupe
	liveness time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewWebhookLockService(
	locks repository.WebhookLockRepository,
	registry *resilience.Registry,
	dedupe WebhookDedupe,
	liveness time.Duration,
	logger *slog.Logger,
) *WebhookLockService {
	if liveness <= 0 {
		liveness = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookLockService{
		locks:    locks,
		registry: registry,
		dedupe:   dedupe,
		liveness: liveness,
		logger:   logger,
		now:      time.Now,
	}
}

// Acquire runs the read-then-write protocol for (provider, eventID). It is
// not linearizable against a second process racing the initial read, which
// is acceptable because providers redeliver on non-2xx and every handler is
// replay-safe through ledger idempotency keys; the unique index on the lock
// row closes the insert race within one delivery window.
func (s *WebhookLockService) Acquire(ctx context.Context, provider, eventID, eventType, metadata string) (*AcquireResult, error) {
	if s.dedupe != nil {
		state, err := s.dedupe.Begin(ctx, provider, eventID, s.liveness)
		if err != nil {
			// Dedupe is advisory; fall through to the database on error.
			s.logger.WarnContext(ctx, "webhook dedupe unavailable", "provider", provider, "error", err.Error())
		} else if state == DedupeCompleted {
			return &AcquireResult{Outcome: LockAlreadyProcessed}, nil
		}
	}

	var existing *domain.WebhookLock
	err := s.registry.Protect(ctx, lockProtectionKey, resilience.OpRead, func(ctx context.Context) error {
		found, err := s.locks.Find(ctx, provider, eventID)
		if err != nil {
			if errors.Is(err, repository.ErrWebhookLockNotFound) {
				existing = nil
				return nil
			}
			return err
		}
		existing = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	if existing != nil {
		switch existing.Status {
		case domain.WebhookLockStatusCompleted:
			return &AcquireResult{Outcome: LockAlreadyProcessed}, nil
		case domain.WebhookLockStatusProcessing:
			if s.now().UTC().Sub(existing.StartedAt) < s.liveness {
				return &AcquireResult{Outcome: LockAlreadyProcessing}, nil
			}
			// Stale processing lock: the previous handler died inside the
			// liveness window. Take it over.
		}
		if err := s.registry.Protect(ctx, lockProtectionKey, resilience.OpWrite, func(ctx context.Context) error {
			return s.locks.ReclaimProcessing(ctx, existing)
		}); err != nil {
			return nil, err
		}
		return &AcquireResult{Outcome: LockAcquired, Held: s.handle(existing, provider, eventID)}, nil
	}

	lock := &domain.WebhookLock{
		Provider:  provider,
		EventID:   eventID,
		EventType: eventType,
		Status:    domain.WebhookLockStatusProcessing,
		StartedAt: s.now().UTC(),
		Metadata:  metadata,
	}
	var inserted bool
	err = s.registry.Protect(ctx, lockProtectionKey, resilience.OpWrite, func(ctx context.Context) error {
		ok, err := s.locks.InsertProcessing(ctx, lock)
		inserted = ok
		return err
	})
	if err != nil {
		return nil, err
	}
	if !inserted {
		return &AcquireResult{Outcome: LockAlreadyProcessing}, nil
	}
	return &AcquireResult{Outcome: LockAcquired, Held: s.handle(lock, provider, eventID)}, nil
}

func (s *WebhookLockService) handle(lock *domain.WebhookLock, provider, eventID string) *AcquiredLock {
	return &AcquiredLock{
		Lock: lock,
		Release: func(ctx context.Context) error {
			err := s.registry.Protect(ctx, lockProtectionKey, resilience.OpWrite, func(ctx context.Context) error {
				return s.locks.SetStatus(ctx, lock, domain.WebhookLockStatusCompleted, "")
			})
			if err != nil {
				return err
			}
			if s.dedupe != nil {
				if derr := s.dedupe.Complete(ctx, provider, eventID); derr != nil {
					s.logger.WarnContext(ctx, "webhook dedupe complete failed", "provider", provider, "error", derr.Error())
				}
			}
			return nil
		},
		MarkFailed: func(ctx context.Context, reason string) error {
			return s.registry.Protect(ctx, lockProtectionKey, resilience.OpWrite, func(ctx context.Context) error {
				return s.locks.SetStatus(ctx, lock, domain.WebhookLockStatusFailed, reason)
			})
		},
	}
}
