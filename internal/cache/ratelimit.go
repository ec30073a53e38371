package cache

import (
	"context"
	"sync"
	"time"
)

// rateLimiter 以每秒滑动计数限制穿透缓存的计算次数。达到上限时
// 调用方阻塞并按指数退避重试：初始为 base，每次连续触发翻倍，
// 封顶 max；任意一次成功后回落到 base。计算失败按 1.5 倍温和
// 增长，避免连续失败时退避失控。
type rateLimiter struct {
	mu          sync.Mutex
	ceiling     int
	windowStart int64
	count       int

	base    time.Duration
	max     time.Duration
	backoff time.Duration
}

func newRateLimiter(ceiling int, base, max time.Duration) *rateLimiter {
	return &rateLimiter{
		ceiling: ceiling,
		base:    base,
		max:     max,
		backoff: base,
	}
}

// Wait 阻塞直到当前秒窗口仍有配额，或上下文取消。
func (l *rateLimiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now().Unix()
		if now != l.windowStart {
			l.windowStart = now
			l.count = 0
		}
		if l.count < l.ceiling {
			l.count++
			l.mu.Unlock()
			return nil
		}
		delay := l.backoff
		l.backoff = l.capped(l.backoff * 2)
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (l *rateLimiter) recordSuccess() {
	l.mu.Lock()
	l.backoff = l.base
	l.mu.Unlock()
}

func (l *rateLimiter) recordFailure() {
	l.mu.Lock()
	l.backoff = l.capped(l.backoff * 3 / 2)
	l.mu.Unlock()
}

func (l *rateLimiter) capped(d time.Duration) time.Duration {
	if d > l.max {
		return l.max
	}
	return d
}

// currentBackoff 暴露当前退避值，仅用于测试。
func (l *rateLimiter) currentBackoff() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.backoff
}
