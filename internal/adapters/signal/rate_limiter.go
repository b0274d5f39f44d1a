package signal

import (
	"sync"
	"time"

	"github.com/dkeye/chatlink/internal/domain"
	"golang.org/x/time/rate"
)

// ChannelRateLimiter allows one event per interval per channel.
type ChannelRateLimiter struct {
	mu       sync.Mutex
	limiters map[domain.ChannelID]*rate.Limiter
	interval time.Duration
}

func NewChannelRateLimiter(interval time.Duration) *ChannelRateLimiter {
	return &ChannelRateLimiter{
		limiters: make(map[domain.ChannelID]*rate.Limiter),
		interval: interval,
	}
}

func (rl *ChannelRateLimiter) Allow(ch domain.ChannelID) bool {
	if rl.interval <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[ch]
	if !ok {
		l = rate.NewLimiter(rate.Every(rl.interval), 1)
		rl.limiters[ch] = l
	}
	return l.Allow()
}
