package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/draftpulse/contest-payments/internal/observability"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

type breaker struct {
	mu               sync.Mutex
	state            breakerState
	failureCount     int
	lastFailureTime  time.Time
	halfOpenAttempts int

	// threshold carries the last config seen by admit into record.
	threshold int
}

// BreakerSet holds the per-key circuit breakers for one process. Breakers are
// created lazily on first use and are never persisted; a restart resets every
// breaker to closed.
type BreakerSet struct {
	mu       sync.Mutex
	breakers map[string]*breaker

	logger *slog.Logger
	now    func() time.Time
}

func NewBreakerSet(logger *slog.Logger) *BreakerSet {
	if logger == nil {
		logger = slog.Default()
	}
	return &BreakerSet{
		breakers: make(map[string]*breaker),
		logger:   logger,
		now:      time.Now,
	}
}

func (s *BreakerSet) get(key string) *breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[key]
	if !ok {
		b = &breaker{}
		s.breakers[key] = b
	}
	return b
}

// Guard runs op through the breaker for key. While open it fails fast with
// ErrBreakerOpen; any error from op counts as a breaker failure and is
// propagated unchanged after bookkeeping.
func (s *BreakerSet) Guard(ctx context.Context, key string, cfg BreakerConfig, op func(ctx context.Context) error) error {
	cfg = cfg.withDefaults()
	b := s.get(key)

	if err := s.admit(ctx, b, key, cfg); err != nil {
		return err
	}

	err := op(ctx)
	s.record(ctx, b, key, err)
	return err
}

func (s *BreakerSet) admit(ctx context.Context, b *breaker, key string, cfg BreakerConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateOpen:
		if s.now().Sub(b.lastFailureTime) < cfg.ResetTimeout {
			return ErrBreakerOpen
		}
		// halfOpenAttempts resets before the first probe is admitted.
		s.transition(ctx, b, key, stateHalfOpen)
		b.halfOpenAttempts = 0
		fallthrough
	case stateHalfOpen:
		if b.halfOpenAttempts >= cfg.HalfOpenMaxAttempts {
			s.transition(ctx, b, key, stateOpen)
			b.lastFailureTime = s.now()
			return ErrBreakerOpen
		}
		b.halfOpenAttempts++
	}
	b.threshold = cfg.FailureThreshold
	return nil
}

func (s *BreakerSet) record(ctx context.Context, b *breaker, key string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state != stateClosed {
			s.transition(ctx, b, key, stateClosed)
		}
		b.failureCount = 0
		return
	}

	switch b.state {
	case stateHalfOpen:
		// A half-open probe failure reopens immediately.
		s.transition(ctx, b, key, stateOpen)
		b.lastFailureTime = s.now()
	default:
		b.failureCount++
		if b.failureCount >= b.threshold {
			s.transition(ctx, b, key, stateOpen)
			b.lastFailureTime = s.now()
		}
	}
}

func (s *BreakerSet) transition(ctx context.Context, b *breaker, key string, to breakerState) {
	from := b.state
	b.state = to
	if to == stateClosed {
		b.failureCount = 0
	}
	observability.RecordBreakerTransition(key, from.String(), to.String())
	s.logger.InfoContext(ctx, "circuit breaker transition",
		"key", key,
		"from", from.String(),
		"to", to.String(),
	)
}
