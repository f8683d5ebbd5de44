// Package ratelimit limits how often a key (requester or client IP) may
// submit. RateLimiter keeps buckets in process; RedisRateLimiter shares them
// across instances.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter 키 단위 허용 여부 판단
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, *RateLimitInfo, error)
}

// RateLimitInfo Rate Limit 상세 정보
type RateLimitInfo struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"reset_time"`
}

// TokenBucket window 동안 limit개의 토큰이 고르게 채워진다
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	perSecond  float64
	lastRefill time.Time
	now        func() time.Time
}

func newTokenBucket(limit int, window time.Duration, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   float64(limit),
		tokens:     float64(limit),
		perSecond:  float64(limit) / window.Seconds(),
		lastRefill: now(),
		now:        now,
	}
}

// take consumes one token if available and reports what is left
func (tb *TokenBucket) take() (bool, int) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1 {
		tb.tokens--
		return true, int(tb.tokens)
	}
	return false, 0
}

func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed * tb.perSecond
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

func (tb *TokenBucket) full() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return tb.tokens >= tb.capacity
}

// RateLimiter manages one bucket per key in process
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*TokenBucket
	limit   int
	window  time.Duration
	now     func() time.Time

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewRateLimiter limit requests per window per key. Idle buckets are
// dropped every window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	rl := &RateLimiter{
		buckets:  make(map[string]*TokenBucket),
		limit:    limit,
		window:   window,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow checks the key's bucket. The error is always nil.
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, *RateLimitInfo, error) {
	allowed, remaining := rl.bucket(key).take()
	return allowed, &RateLimitInfo{
		Limit:     rl.limit,
		Remaining: remaining,
		ResetTime: rl.now().Add(rl.window / time.Duration(rl.limit)),
	}, nil
}

func (rl *RateLimiter) bucket(key string) *TokenBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = newTokenBucket(rl.limit, rl.window, rl.now)
		rl.buckets[key] = b
	}
	return b
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopChan:
			return
		}
	}
}

// cleanup removes buckets that refilled completely
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, b := range rl.buckets {
		if b.full() {
			delete(rl.buckets, key)
		}
	}
}

// Stop 정리 고루틴 종료
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopChan) })
}
