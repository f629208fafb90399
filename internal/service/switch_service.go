package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/draftpulse/contest-payments/internal/domain"
	"github.com/draftpulse/contest-payments/internal/repository"
	"github.com/draftpulse/contest-payments/internal/resilience"
)

const switchProtectionKey = "store.operation_switches"

// ErrOperationDisabled is returned when a kill switch has turned a payment
// surface off.
var ErrOperationDisabled = errors.New("operation is temporarily disabled")

// SwitchService evaluates and manages operation kill switches. Evaluation
// fails open: a switch that cannot be read counts as enabled, so a cache or
// database blip never blocks payments on its own.
type SwitchService struct {
	switches repository.SwitchRepository
	cache    SwitchCacheStore
	registry *resilience.Registry
	ttl      time.Duration
	logger   *slog.Logger
}

func NewSwitchService(switches repository.SwitchRepository, cache SwitchCacheStore, registry *resilience.Registry, ttl time.Duration, logger *slog.Logger) *SwitchService {
	if cache == nil {
		cache = NewInMemorySwitchCacheStore()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SwitchService{switches: switches, cache: cache, registry: registry, ttl: ttl, logger: logger}
}

// SwitchKey builds the canonical switch key for a provider operation.
func SwitchKey(provider, operation string) string {
	return strings.ToLower(provider + "." + operation)
}

// IsEnabled reports whether the keyed operation is allowed to run.
func (s *SwitchService) IsEnabled(ctx context.Context, key string) bool {
	if enabled, found, err := s.cache.Get(ctx, key); err == nil && found {
		return enabled
	} else if err != nil {
		s.logger.WarnContext(ctx, "switch cache read failed", "key", key, "error", err)
	}

	var sw *domain.OperationSwitch
	err := s.registry.Protect(ctx, switchProtectionKey, resilience.OpRead, func(ctx context.Context) error {
		found, ferr := s.switches.FindSwitchByKey(ctx, key)
		if errors.Is(ferr, repository.ErrSwitchNotFound) {
			return nil
		}
		sw = found
		return ferr
	})
	if err != nil {
		s.logger.WarnContext(ctx, "switch lookup failed, treating as enabled", "key", key, "error", err)
		return true
	}

	enabled := sw == nil || sw.Enabled
	if cerr := s.cache.Set(ctx, key, enabled, s.ttl); cerr != nil {
		s.logger.WarnContext(ctx, "switch cache write failed", "key", key, "error", cerr)
	}
	return enabled
}

// Guard returns ErrOperationDisabled when the keyed operation is off.
func (s *SwitchService) Guard(ctx context.Context, key string) error {
	if s == nil {
		return nil
	}
	if !s.IsEnabled(ctx, key) {
		return fmt.Errorf("%w: %s", ErrOperationDisabled, key)
	}
	return nil
}

func (s *SwitchService) List(ctx context.Context, page repository.PageRequest) (*repository.PageResult[domain.OperationSwitch], error) {
	var result *repository.PageResult[domain.OperationSwitch]
	err := s.registry.Protect(ctx, switchProtectionKey, resilience.OpRead, func(ctx context.Context) error {
		var lerr error
		result, lerr = s.switches.ListSwitches(ctx, page)
		return lerr
	})
	return result, err
}

// Set creates or updates a switch and invalidates its cached evaluation.
func (s *SwitchService) Set(ctx context.Context, key string, enabled bool, description string) (*domain.OperationSwitch, error) {
	sw := &domain.OperationSwitch{Key: key, Enabled: enabled, Description: description}
	err := s.registry.Protect(ctx, switchProtectionKey, resilience.OpWrite, func(ctx context.Context) error {
		return s.switches.UpsertSwitch(ctx, sw)
	})
	if err != nil {
		return nil, err
	}
	if cerr := s.cache.Invalidate(ctx, sw.Key); cerr != nil {
		s.logger.WarnContext(ctx, "switch cache invalidation failed", "key", sw.Key, "error", cerr)
	}
	s.logger.InfoContext(ctx, "operation switch updated", "key", sw.Key, "enabled", enabled)
	return sw, nil
}

// Delete removes a switch, which re-enables the operation.
func (s *SwitchService) Delete(ctx context.Context, key string) error {
	var notFound bool
	err := s.registry.Protect(ctx, switchProtectionKey, resilience.OpWrite, func(ctx context.Context) error {
		derr := s.switches.DeleteSwitch(ctx, key)
		if errors.Is(derr, repository.ErrSwitchNotFound) {
			notFound = true
			return nil
		}
		return derr
	})
	if err != nil {
		return err
	}
	if notFound {
		return repository.ErrSwitchNotFound
	}
	if cerr := s.cache.Invalidate(ctx, key); cerr != nil {
		s.logger.WarnContext(ctx, "switch cache invalidation failed", "key", key, "error", cerr)
	}
	return nil
}
