package cache

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterBlocksOverCeiling(t *testing.T) {
	l := newRateLimiter(1, 10*time.Millisecond, 80*time.Millisecond)
	ctx := context.Background()

	if err := l.Wait(ctx); err != nil {
		t.Fatalf("first wait should pass: %v", err)
	}

	exhaustWindow(l)
	blocked, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
	defer cancel()
	if err := l.Wait(blocked); err == nil {
		t.Fatal("second wait within the window should block until cancellation")
	}
}

func TestRateLimiterBackoffGrowth(t *testing.T) {
	l := newRateLimiter(1, 10*time.Millisecond, 40*time.Millisecond)
	ctx := context.Background()

	// 连续触发限流，退避应当从 10ms 逐次翻倍并封顶。
	for i := 0; i < 3; i++ {
		exhaustWindow(l)
		blocked, cancel := context.WithTimeout(ctx, time.Millisecond)
		_ = l.Wait(blocked)
		cancel()
	}
	if got := l.currentBackoff(); got != 40*time.Millisecond {
		t.Fatalf("expected backoff capped at 40ms, got %v", got)
	}

	l.recordSuccess()
	if got := l.currentBackoff(); got != 10*time.Millisecond {
		t.Fatalf("expected backoff reset to base, got %v", got)
	}
}

// exhaustWindow 将当前秒窗口的配额直接打满，避免测试跨秒时放行。
func exhaustWindow(l *rateLimiter) {
	l.mu.Lock()
	l.windowStart = time.Now().Unix()
	l.count = l.ceiling
	l.mu.Unlock()
}

func TestRateLimiterFailureGrowsGently(t *testing.T) {
	l := newRateLimiter(10, 10*time.Millisecond, time.Second)

	l.recordFailure()
	if got := l.currentBackoff(); got != 15*time.Millisecond {
		t.Fatalf("expected 1.5x growth, got %v", got)
	}
	l.recordFailure()
	if got := l.currentBackoff(); got != 22500*time.Microsecond {
		t.Fatalf("expected compounded growth, got %v", got)
	}
}
