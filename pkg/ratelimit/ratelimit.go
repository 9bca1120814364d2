package ratelimit

import (
	"context"
	"sync"
	"time"
)

// 端点 key
const (
	EndpointBalance     = "coincheck:balance:get"
	EndpointOpenOrders  = "coincheck:orders:opens:get"
	EndpointOrderPost   = "coincheck:order:post"
	EndpointOrderDelete = "coincheck:order:delete"
	EndpointOrderBooks  = "coincheck:order_books:get"
	EndpointGeneral     = "coincheck:general"
)

// RateLimiter 速率限制器接口
type RateLimiter interface {
	Wait(ctx context.Context) error
	Allow() bool
	Remaining() int
}

// TokenBucket 令牌桶：容量 capacity，每秒补充 refillPerSec 个
type TokenBucket struct {
	capacity     float64
	tokens       float64
	refillPerSec float64
	lastRefill   time.Time
	mu           sync.Mutex

	now func() time.Time
}

// NewTokenBucket 创建令牌桶（初始为满）
func NewTokenBucket(capacity int, refillPerSec float64) *TokenBucket {
	return &TokenBucket{
		capacity:     float64(capacity),
		tokens:       float64(capacity),
		refillPerSec: refillPerSec,
		lastRefill:   time.Now(),
		now:          time.Now,
	}
}

func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed * tb.refillPerSec
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

// Allow 有令牌则消耗一个并返回 true
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Wait 阻塞直到拿到令牌或 ctx 结束
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.Allow() {
			return nil
		}
		tb.mu.Lock()
		wait := 100 * time.Millisecond
		if tb.refillPerSec > 0 {
			wait = time.Duration((1 - tb.tokens) / tb.refillPerSec * float64(time.Second))
			if wait < time.Millisecond {
				wait = time.Millisecond
			}
		}
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Remaining 剩余令牌数（向下取整）
func (tb *TokenBucket) Remaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return int(tb.tokens)
}

// SlidingWindow 滑动窗口：windowSize 内最多 limit 次
type SlidingWindow struct {
	limit      int
	windowSize time.Duration
	requests   []time.Time
	mu         sync.Mutex

	now func() time.Time
}

// NewSlidingWindow 创建滑动窗口限制器
func NewSlidingWindow(limit int, windowSize time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:      limit,
		windowSize: windowSize,
		now:        time.Now,
	}
}

func (sw *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-sw.windowSize)
	i := 0
	for i < len(sw.requests) && !sw.requests[i].After(cutoff) {
		i++
	}
	sw.requests = sw.requests[i:]
}

// Allow 窗口内未超限则记录本次请求并返回 true
func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	now := sw.now()
	sw.prune(now)
	if len(sw.requests) >= sw.limit {
		return false
	}
	sw.requests = append(sw.requests, now)
	return true
}

// Wait 阻塞直到窗口有空位或 ctx 结束
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		if sw.Allow() {
			return nil
		}
		sw.mu.Lock()
		wait := 50 * time.Millisecond
		if len(sw.requests) > 0 {
			if w := sw.requests[0].Add(sw.windowSize).Sub(sw.now()); w > 0 {
				wait = w
			}
		}
		sw.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Remaining 窗口内剩余次数
func (sw *SlidingWindow) Remaining() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.prune(sw.now())
	if n := sw.limit - len(sw.requests); n > 0 {
		return n
	}
	return 0
}

// Manager 按端点管理限制器
type Manager struct {
	limiters map[string]RateLimiter
	mu       sync.RWMutex
}

// NewManager 创建带 Coincheck 默认限制的管理器
func NewManager() *Manager {
	m := &Manager{limiters: make(map[string]RateLimiter)}
	m.initDefaultLimiters()
	return m
}

// initDefaultLimiters Coincheck 私有 API 的保守限制
func (m *Manager) initDefaultLimiters() {
	m.limiters[EndpointOrderPost] = NewTokenBucket(4, 4)
	m.limiters[EndpointOrderDelete] = NewTokenBucket(4, 4)
	m.limiters[EndpointOpenOrders] = NewSlidingWindow(10, 10*time.Second)
	m.limiters[EndpointBalance] = NewSlidingWindow(10, 10*time.Second)
	m.limiters[EndpointOrderBooks] = NewSlidingWindow(10, 10*time.Second)
	m.limiters[EndpointGeneral] = NewSlidingWindow(50, 10*time.Second)
}

// Set 覆盖某个端点的限制器
func (m *Manager) Set(endpoint string, l RateLimiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[endpoint] = l
}

// Get 获取端点限制器，未知端点使用通用限制
func (m *Manager) Get(endpoint string) RateLimiter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if l, ok := m.limiters[endpoint]; ok {
		return l
	}
	return m.limiters[EndpointGeneral]
}

// Wait 等待端点配额
func (m *Manager) Wait(ctx context.Context, endpoint string) error {
	return m.Get(endpoint).Wait(ctx)
}

// Allow 非阻塞检查
func (m *Manager) Allow(endpoint string) bool {
	return m.Get(endpoint).Allow()
}
