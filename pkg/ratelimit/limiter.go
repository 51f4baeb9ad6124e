package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limiter provides rate limiting functionality
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Reset(ctx context.Context, key string) error
}

// TokenBucketLimiter implements token bucket rate limiting keyed by an
// arbitrary string. Buckets idle for over an hour are discarded.
type TokenBucketLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	maxTokens  int
	refillRate time.Duration
	cleanupInt time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
}

type bucket struct {
	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
}

// NewTokenBucketLimiter creates a new token bucket rate limiter. Each key
// starts with maxTokens and regains one token per refillRate.
func NewTokenBucketLimiter(maxTokens int, refillRate time.Duration) *TokenBucketLimiter {
	limiter := &TokenBucketLimiter{
		buckets:    make(map[string]*bucket),
		maxTokens:  maxTokens,
		refillRate: refillRate,
		cleanupInt: 5 * time.Minute,
		stopCh:     make(chan struct{}),
	}
	go limiter.cleanup()
	return limiter
}

// Allow checks if a request is allowed
func (l *TokenBucketLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	b, exists := l.buckets[key]
	if !exists {
		b = &bucket{
			tokens:     l.maxTokens,
			lastRefill: time.Now(),
		}
		l.buckets[key] = b
	}
	l.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill)
	if tokensToAdd := int(elapsed / l.refillRate); tokensToAdd > 0 {
		b.tokens += tokensToAdd
		if b.tokens > l.maxTokens {
			b.tokens = l.maxTokens
		}
		b.lastRefill = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true, nil
	}
	return false, nil
}

// Reset resets the rate limit for a key
func (l *TokenBucketLimiter) Reset(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.buckets, key)
	return nil
}

// Stop ends the background cleanup goroutine
func (l *TokenBucketLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// cleanup removes old buckets periodically
func (l *TokenBucketLimiter) cleanup() {
	ticker := time.NewTicker(l.cleanupInt)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.mu.Lock()
			now := time.Now()
			for key, b := range l.buckets {
				b.mu.Lock()
				if now.Sub(b.lastRefill) > time.Hour {
					delete(l.buckets, key)
				}
				b.mu.Unlock()
			}
			l.mu.Unlock()
		}
	}
}

// IPLimiter wraps a rate limiter for client-IP-based limiting. The
// ingest surface uses it to keep a misbehaving crawl worker from
// starving the rest.
type IPLimiter struct {
	limiter Limiter
}

// NewIPLimiter creates a per-IP limiter allowing a sustained
// requestsPerSecond with a burst of the same size.
func NewIPLimiter(requestsPerSecond int) *IPLimiter {
	return &IPLimiter{
		limiter: NewTokenBucketLimiter(requestsPerSecond, time.Second/time.Duration(requestsPerSecond)),
	}
}

// Allow checks if a request from an IP is allowed
func (l *IPLimiter) Allow(ctx context.Context, ip string) (bool, error) {
	return l.limiter.Allow(ctx, fmt.Sprintf("ip:%s", ip))
}

var _ Limiter = (*TokenBucketLimiter)(nil)
