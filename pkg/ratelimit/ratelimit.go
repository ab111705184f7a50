package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter 速率限制器接口
type RateLimiter interface {
	Wait(ctx context.Context) error
	Allow() bool
	GetRemaining() int
}

// TokenBucket 令牌桶速率限制器
// refillRate 为每秒补充的令牌数，允许小数部分累积（避免低速率时永远补不满一个令牌）。
type TokenBucket struct {
	capacity   float64
	tokens     float64
	refillRate float64
	lastRefill time.Time
	mu         sync.Mutex
}

// NewTokenBucket 创建新的令牌桶（初始为满桶）
func NewTokenBucket(capacity int, refillRate float64) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// refill 补充令牌（调用方持锁）
func (tb *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

// Allow 检查是否允许请求（非阻塞）
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(time.Now())
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Wait 等待直到允许请求
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.Allow() {
			return nil
		}

		// 计算补满一个令牌需要的时间
		tb.mu.Lock()
		waitTime := 100 * time.Millisecond
		if tb.refillRate > 0 {
			missing := 1 - tb.tokens
			waitTime = time.Duration(missing / tb.refillRate * float64(time.Second))
			if waitTime < time.Millisecond {
				waitTime = time.Millisecond
			}
		}
		tb.mu.Unlock()

		t := time.NewTimer(waitTime)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// GetRemaining 获取剩余令牌数
func (tb *TokenBucket) GetRemaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill(time.Now())
	return int(tb.tokens)
}

// MethodLimiter 按 RPC 方法分组限流。
// 未注册的方法走 fallback；fallback 为 nil 时不限流。
type MethodLimiter struct {
	mu       sync.RWMutex
	limiters map[string]RateLimiter
	fallback RateLimiter
}

// NewMethodLimiter 创建方法级限流器，requestsPerSecond <= 0 表示不限流
func NewMethodLimiter(requestsPerSecond float64) *MethodLimiter {
	m := &MethodLimiter{limiters: make(map[string]RateLimiter)}
	if requestsPerSecond > 0 {
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		m.fallback = NewTokenBucket(burst, requestsPerSecond)
	}
	return m
}

// Set 为指定方法注册独立的限流器
func (m *MethodLimiter) Set(method string, limiter RateLimiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[method] = limiter
}

// Wait 等待直到 method 允许请求
func (m *MethodLimiter) Wait(ctx context.Context, method string) error {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	limiter, ok := m.limiters[method]
	m.mu.RUnlock()
	if !ok {
		limiter = m.fallback
	}
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}
