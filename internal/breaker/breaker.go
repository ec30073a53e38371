package breaker

import (
	"context"
	"sync"
	"time"

	xerrors "ChainGuard/internal/errors"
)

// State 表示熔断器所处的状态。
type State string

const (
	// StateClosed 正常放行调用。
	StateClosed State = "closed"
	// StateOpen 直接拒绝调用，直到恢复窗口结束。
	StateOpen State = "open"
	// StateHalfOpen 试探性放行，根据结果决定恢复或重新熔断。
	StateHalfOpen State = "half_open"
)

// ErrOpen 表示调用被打开状态的熔断器拒绝，未触发实际操作。
var ErrOpen = xerrors.New(xerrors.CodeBreakerOpen, "circuit breaker open")

// Config 描述单个熔断器的阈值参数。
type Config struct {
	// FailureThreshold 是进入 OPEN 状态所需的连续失败次数。
	FailureThreshold int
	// RecoveryTimeout 是 OPEN 状态下距最近一次失败的恢复等待时间。
	RecoveryTimeout time.Duration
	// HalfOpenSuccessThreshold 是 HALF_OPEN 状态下回到 CLOSED 所需的连续成功次数。
	HalfOpenSuccessThreshold int
}

func (c *Config) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 30 * time.Second
	}
	if c.HalfOpenSuccessThreshold <= 0 {
		c.HalfOpenSuccessThreshold = 3
	}
}

// TransitionFunc 在状态切换时回调，用于日志与指标。
type TransitionFunc func(name string, from, to State)

// Breaker 是针对单个分析模块的三态熔断器。状态仅由调用包装器
// 修改，所有变更都在互斥锁内完成。
type Breaker struct {
	name string
	cfg  Config

	mu                sync.Mutex
	state             State
	failures          int
	lastFailure       time.Time
	halfOpenSuccesses int

	onTransition TransitionFunc
}

// NewBreaker 创建处于 CLOSED 状态的熔断器。
func NewBreaker(name string, cfg Config, onTransition TransitionFunc) *Breaker {
	cfg.applyDefaults()
	return &Breaker{
		name:         name,
		cfg:          cfg,
		state:        StateClosed,
		onTransition: onTransition,
	}
}

// Call 以熔断器保护执行 fn。OPEN 状态下直接返回 ErrOpen 而不调用 fn。
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.allow() {
		return ErrOpen
	}
	err := fn(ctx)
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// State 返回当前状态。
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// allow 判断本次调用是否放行，并在恢复窗口结束时进入 HALF_OPEN。
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) >= b.cfg.RecoveryTimeout {
			b.transition(StateHalfOpen)
			b.halfOpenSuccesses = 0
			return true
		}
		return false
	default:
		return true
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.HalfOpenSuccessThreshold {
			b.transition(StateClosed)
			b.failures = 0
			b.halfOpenSuccesses = 0
		}
	case StateClosed:
		// 成功让失败计数衰减，而不是一次清零。
		if b.failures > 0 {
			b.failures--
		}
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailure = time.Now()
	switch b.state {
	case StateHalfOpen:
		b.transition(StateOpen)
		b.halfOpenSuccesses = 0
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	}
}

// transition 要求调用方已持有锁。
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onTransition != nil {
		b.onTransition(b.name, from, to)
	}
}

// Registry 按模块名管理熔断器。每个模块注册一次，之后的查询
// 返回同一实例。
type Registry struct {
	mu           sync.RWMutex
	breakers     map[string]*Breaker
	defaults     Config
	onTransition TransitionFunc
}

// NewRegistry 创建熔断器注册表，defaults 用于未显式配置的模块。
func NewRegistry(defaults Config, onTransition TransitionFunc) *Registry {
	defaults.applyDefaults()
	return &Registry{
		breakers:     make(map[string]*Breaker),
		defaults:     defaults,
		onTransition: onTransition,
	}
}

// Register 为模块创建熔断器。重复注册返回已有实例，零值配置
// 落到注册表的默认阈值。
func (r *Registry) Register(name string, cfg Config) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.breakers[name]; ok {
		return existing
	}
	if cfg == (Config{}) {
		cfg = r.defaults
	}
	b := NewBreaker(name, cfg, r.onTransition)
	r.breakers[name] = b
	return b
}

// Get 返回模块对应的熔断器，未注册时按默认配置创建。
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}
	return r.Register(name, r.defaults)
}

// States 返回各模块当前的熔断状态快照。
func (r *Registry) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	states := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		states[name] = b.State()
	}
	return states
}
