package lifecycle

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultCooldown is the per-key window within which repeated fetch
// requests are suppressed.
const DefaultCooldown = 3 * time.Second

// Throttle is a per-key cooldown gate. It collapses bursts of redundant
// fetch calls issued by overlapping callers without introducing request
// queuing: suppressed calls simply do not happen.
type Throttle struct {
	mu       sync.Mutex
	lastCall map[string]time.Time
	cooldown time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewThrottle creates a throttle with the default 3s cooldown.
func NewThrottle(logger *zap.Logger) *Throttle {
	return &Throttle{
		lastCall: make(map[string]time.Time),
		cooldown: DefaultCooldown,
		now:      time.Now,
		logger:   logger,
	}
}

// ShouldProceed reports whether a call for key may go ahead. On true the
// invocation timestamp is recorded; on false the call was inside the
// cooldown window and is logged as suppressed.
func (t *Throttle) ShouldProceed(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if last, ok := t.lastCall[key]; ok && now.Sub(last) < t.cooldown {
		t.logger.Debug("call suppressed by cooldown",
			zap.String("key", key),
			zap.Duration("since_last", now.Sub(last)),
		)
		return false
	}
	t.lastCall[key] = now
	return true
}

// Reset clears the recorded timestamp for key so the next call proceeds.
func (t *Throttle) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastCall, key)
}
