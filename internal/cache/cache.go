package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	xerrors "ChainGuard/internal/errors"
)

// ComputeFunc 在缓存未命中时计算实际的值。
type ComputeFunc func(ctx context.Context) (any, error)

// Config 描述缓存与限流器的行为参数。
type Config struct {
	// RequestsPerSecond 是每秒允许穿透缓存的最大计算次数。
	RequestsPerSecond int
	// BaseBackoff 是触发限流后的初始等待时间。
	BaseBackoff time.Duration
	// MaxBackoff 是等待时间的上限。
	MaxBackoff time.Duration
	// SweepInterval 控制后台清理过期条目的周期，<=0 表示不启动清理协程。
	SweepInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 50
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
}

// Stats 汇总缓存命中情况，供指标上报使用。
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

// HitRate 返回命中率，无请求时为 0。
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache 是带请求合并能力的进程内缓存。同一 key 的并发未命中
// 只会触发一次计算，其余调用方等待同一个在途结果；计算失败时
// 在途标记随 singleflight 结算一并移除，后续调用会重新计算。
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
	limiter *rateLimiter

	hits     atomic.Uint64
	misses   atomic.Uint64
	observer func(hit bool)

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// Option 定义缓存的可选配置。
type Option func(*Cache)

// WithObserver 注册命中/未命中观察回调，用于对接指标采集。
func WithObserver(fn func(hit bool)) Option {
	return func(c *Cache) {
		c.observer = fn
	}
}

// New 创建缓存实例，并按配置启动过期清理协程。
func New(cfg Config, opts ...Option) *Cache {
	cfg.applyDefaults()
	c := &Cache{
		entries:   make(map[string]entry),
		limiter:   newRateLimiter(cfg.RequestsPerSecond, cfg.BaseBackoff, cfg.MaxBackoff),
		stopSweep: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if cfg.SweepInterval > 0 {
		go c.sweepLoop(cfg.SweepInterval)
	}
	return c
}

// Get 返回 key 对应的值：命中直接返回；同 key 在途计算则等待其结果；
// 真正未命中时经限流器调用 compute 并以 now+ttl 写回。
func (c *Cache) Get(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) (any, error) {
	if compute == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "缓存计算函数不能为空")
	}
	if value, ok := c.lookup(key); ok {
		c.recordHit()
		return value, nil
	}

	value, err, _ := c.group.Do(key, func() (any, error) {
		// 二次检查：等待进入 singleflight 期间可能已有结果写回。
		if value, ok := c.lookup(key); ok {
			c.recordHit()
			return value, nil
		}
		c.recordMiss()
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		value, err := compute(ctx)
		if err != nil {
			c.limiter.recordFailure()
			return nil, err
		}
		c.limiter.recordSuccess()
		c.store(key, value, ttl)
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Peek 返回 key 当前缓存的值而不触发计算，也不计入命中统计。
// 过期但尚未被清理的条目同样返回，供编排层构造降级数据。
func (c *Cache) Peek(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Put 直接写入条目，不经过限流器，也不计入命中统计。
// 用于编排层回写模块结果等已知新鲜的值。
func (c *Cache) Put(key string, value any, ttl time.Duration) {
	c.store(key, value, ttl)
}

// Invalidate 删除指定条目。
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Stats 返回累计的命中统计。
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Close 停止后台清理协程。
func (c *Cache) Close() {
	c.sweepOnce.Do(func() {
		close(c.stopSweep)
	})
}

func (c *Cache) lookup(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		// 惰性清理：过期条目在访问时移除，Peek 仍可读到直至此处或后台清理。
		c.mu.Lock()
		if current, exists := c.entries[key]; exists && current.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

func (c *Cache) store(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

func (c *Cache) recordHit() {
	c.hits.Add(1)
	if c.observer != nil {
		c.observer(true)
	}
}

func (c *Cache) recordMiss() {
	c.misses.Add(1)
	if c.observer != nil {
		c.observer(false)
	}
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopSweep:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
