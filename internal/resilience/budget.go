package resilience

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/draftpulse/contest-payments/internal/observability"
)

type retryBudget struct {
	tokens     float64
	lastRefill time.Time
}

// BudgetSet holds the per-key retry budgets for one process. Refill is
// computed lazily on every check or consume; there is no background timer.
// Like breakers, budgets are advisory per-process protection, not a
// cluster-wide limiter.
type BudgetSet struct {
	mu      sync.Mutex
	budgets map[string]*retryBudget

	logger *slog.Logger
	now    func() time.Time
}

func NewBudgetSet(logger *slog.Logger) *BudgetSet {
	if logger == nil {
		logger = slog.Default()
	}
	return &BudgetSet{
		budgets: make(map[string]*retryBudget),
		logger:  logger,
		now:     time.Now,
	}
}

func (s *BudgetSet) refillLocked(b *retryBudget, cfg BudgetConfig) {
	now := s.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	added := math.Floor(elapsed * cfg.RefillRate)
	if added <= 0 {
		return
	}
	b.tokens = math.Min(cfg.MaxTokens, b.tokens+added)
	b.lastRefill = now
}

func (s *BudgetSet) getLocked(key string, cfg BudgetConfig) *retryBudget {
	b, ok := s.budgets[key]
	if !ok {
		b = &retryBudget{tokens: cfg.MaxTokens, lastRefill: s.now()}
		s.budgets[key] = b
	}
	return b
}

// CanConsume reports whether a token is available for key after lazy refill,
// without decrementing.
func (s *BudgetSet) CanConsume(key string, cfg BudgetConfig) bool {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.getLocked(key, cfg)
	s.refillLocked(b, cfg)
	return b.tokens > 0
}

// Consume refills, then takes one token. It returns false when the bucket was
// already empty, logging the exhaustion.
func (s *BudgetSet) Consume(key string, cfg BudgetConfig) bool {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.getLocked(key, cfg)
	s.refillLocked(b, cfg)
	if b.tokens <= 0 {
		observability.RecordBudgetExhausted(key)
		s.logger.Warn("retry budget exhausted",
			"key", key,
			"max_tokens", cfg.MaxTokens,
			"refill_rate", cfg.RefillRate,
		)
		return false
	}
	b.tokens--
	return true
}
