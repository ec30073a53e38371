package analysis

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"ChainGuard/internal/breaker"
	"ChainGuard/internal/cache"
	xerrors "ChainGuard/internal/errors"
	"ChainGuard/pkg/logger"
)

// PhaseOrder 是阶段的固定执行顺序，先注册的模块先出结论。
var PhaseOrder = []string{PhaseImmediate, PhaseQuick, PhaseDeep, PhaseContextual}

const (
	PhaseImmediate  = "immediate"
	PhaseQuick      = "quick"
	PhaseDeep       = "deep"
	PhaseContextual = "contextual"
)

// opportunityScore 是快速结论中判定“机会”的评分下限。
const opportunityScore = 75.0

// PhaseResult 汇总一个阶段内所有模块的输出。
type PhaseResult struct {
	Name     string          `json:"name"`
	Results  []*ModuleResult `json:"results"`
	Duration int64           `json:"duration_ms"`
}

// Result 是一次渐进式分析的完整输出。
type Result struct {
	Address      string        `json:"address"`
	Type         Type          `json:"type"`
	Phases       []PhaseResult `json:"phases"`
	QuickVerdict string        `json:"quick_verdict"`
	Verdict      string        `json:"verdict"`
	Assessment   Assessment    `json:"assessment"`
	Insights     []string      `json:"insights,omitempty"`
	StartedAt    int64         `json:"started_at"`
	CompletedAt  int64         `json:"completed_at"`
	ProcessingMS int64         `json:"processing_ms"`
}

// AddressValidator 校验输入地址，返回错误则分析直接失败。
type AddressValidator func(address string) error

// Orchestrator 按阶段调度分析模块：同一阶段内并发执行，
// 每次调用先经模块熔断器、再经模块自身缓存；失败以降级数据
// 兜底，阶段之间严格串行。
type Orchestrator struct {
	mu       sync.RWMutex
	modules  map[string]Module
	configs  map[string]ModuleConfig
	phases   map[string][]string
	breakers *breaker.Registry
	store    *cache.Cache

	engineOnce sync.Once
	engine     *Engine

	validator AddressValidator
	logger    *slog.Logger
	onResult  func(*Result)
}

// Option 定义编排器的可选配置。
type Option func(*Orchestrator)

// WithLogger 指定日志输出。
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = log
	}
}

// WithAddressValidator 替换默认的 EVM 地址校验。
func WithAddressValidator(v AddressValidator) Option {
	return func(o *Orchestrator) {
		if v != nil {
			o.validator = v
		}
	}
}

// WithResultObserver 注册结果回调，用于指标上报。
func WithResultObserver(fn func(*Result)) Option {
	return func(o *Orchestrator) {
		o.onResult = fn
	}
}

// NewOrchestrator 构造编排器。store 与 breakers 由调用方注入并
// 可在多个编排器间共享。
func NewOrchestrator(store *cache.Cache, breakers *breaker.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		modules:   make(map[string]Module),
		configs:   make(map[string]ModuleConfig),
		phases:    make(map[string][]string),
		breakers:  breakers,
		store:     store,
		validator: defaultValidator,
		logger:    logger.Named("orchestrator"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

func defaultValidator(address string) error {
	if !common.IsHexAddress(strings.TrimSpace(address)) {
		return xerrors.New(xerrors.CodeInvalidAddress, fmt.Sprintf("非法的地址格式: %s", address))
	}
	return nil
}

// Register 注册模块及其配置。配置在此刻固化，熔断器同时创建。
func (o *Orchestrator) Register(module Module, cfg ModuleConfig) error {
	if module == nil || strings.TrimSpace(module.Name()) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "模块不能为空")
	}
	phase := cfg.Phase
	if !validPhase(phase) {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的执行阶段: %s", phase))
	}
	cfg.applyDefaults()

	o.mu.Lock()
	defer o.mu.Unlock()
	name := module.Name()
	if _, exists := o.modules[name]; exists {
		return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("模块 %s 已注册", name))
	}
	o.modules[name] = module
	o.configs[name] = cfg
	o.phases[phase] = append(o.phases[phase], name)
	o.breakers.Register(name, breaker.Config{})
	return nil
}

// Configs 返回各模块的固化配置副本，供信号引擎构造使用。
func (o *Orchestrator) Configs() map[string]ModuleConfig {
	o.mu.RLock()
	defer o.mu.RUnlock()
	cloned := make(map[string]ModuleConfig, len(o.configs))
	for name, cfg := range o.configs {
		cloned[name] = cfg
	}
	return cloned
}

// AnalyzeProgressive 对地址执行完整的分阶段分析。阶段开始后
// 单个模块的任何失败都不会中止流程；唯一的硬失败是阶段执行
// 前的输入校验错误。
func (o *Orchestrator) AnalyzeProgressive(ctx context.Context, address string, analysisType Type, actx Context) (*Result, error) {
	address = strings.TrimSpace(address)
	if err := o.validator(address); err != nil {
		return nil, err
	}
	// 引擎在首次分析时固化模块配置，之后的注册不再生效。
	o.engineOnce.Do(func() {
		o.engine = NewEngine(o.Configs())
	})
	actx.Type = analysisType

	started := time.Now()
	result := &Result{
		Address:   address,
		Type:      analysisType,
		StartedAt: started.Unix(),
	}

	var collected []*ModuleResult
	for _, phaseName := range PhaseOrder {
		o.mu.RLock()
		moduleNames := append([]string(nil), o.phases[phaseName]...)
		o.mu.RUnlock()
		if len(moduleNames) == 0 {
			continue
		}

		phaseStart := time.Now()
		phaseResults := o.runPhase(ctx, phaseName, moduleNames, address, actx)
		result.Phases = append(result.Phases, PhaseResult{
			Name:     phaseName,
			Results:  phaseResults,
			Duration: time.Since(phaseStart).Milliseconds(),
		})
		collected = append(collected, phaseResults...)

		if phaseName == PhaseImmediate {
			result.QuickVerdict = o.quickVerdict(phaseResults)
		}
	}

	result.Assessment = o.engine.ProcessSignals(collected)
	result.Insights = o.extractInsights(collected)
	result.Verdict = o.buildVerdict(result)
	result.CompletedAt = time.Now().Unix()
	result.ProcessingMS = time.Since(started).Milliseconds()

	logger.Audit().Info("分析完成",
		slog.String("address", address),
		slog.String("type", string(analysisType)),
		slog.String("risk_tier", string(result.Assessment.RiskTier)),
		slog.Float64("confidence", result.Assessment.Confidence),
		slog.Int64("processing_ms", result.ProcessingMS),
	)
	if o.onResult != nil {
		o.onResult(result)
	}
	return result, nil
}

// runPhase 并发执行阶段内所有模块，所有调用结算后返回。
func (o *Orchestrator) runPhase(ctx context.Context, phase string, moduleNames []string, address string, actx Context) []*ModuleResult {
	results := make([]*ModuleResult, len(moduleNames))
	var wg sync.WaitGroup
	for idx, name := range moduleNames {
		wg.Add(1)
		go func(idx int, name string) {
			defer wg.Done()
			results[idx] = o.invokeModule(ctx, name, address, actx)
		}(idx, name)
	}
	wg.Wait()

	settled := make([]*ModuleResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			settled = append(settled, r)
		}
	}
	return settled
}

// invokeModule 以熔断器包装单个模块调用，失败时构造降级结果。
func (o *Orchestrator) invokeModule(ctx context.Context, name, address string, actx Context) *ModuleResult {
	o.mu.RLock()
	module := o.modules[name]
	cfg := o.configs[name]
	o.mu.RUnlock()
	if module == nil {
		return nil
	}

	var output *ModuleResult
	err := o.breakers.Get(name).Call(ctx, func(ctx context.Context) (callErr error) {
		// 模块实现由外部注册，panic 折算为模块失败并走降级路径，
		// 同时计入熔断器的失败统计。
		defer func() {
			if r := recover(); r != nil {
				callErr = xerrors.New(xerrors.CodeModuleFailure, fmt.Sprintf("模块 %s panic: %v", name, r))
			}
		}()
		mr, analyzeErr := module.Analyze(ctx, address, actx)
		if analyzeErr != nil {
			return analyzeErr
		}
		if mr == nil {
			return xerrors.New(xerrors.CodeModuleFailure, fmt.Sprintf("模块 %s 返回空结果", name))
		}
		output = mr
		return nil
	})
	if err == nil {
		output.Module = name
		if output.Timestamp == 0 {
			output.Timestamp = time.Now().Unix()
		}
		// 成功结果写回缓存，供后续失败时降级使用。
		o.store.Put(resultCacheKey(name, address), cloneResult(output), cfg.CacheTTL)
		return output
	}

	code := xerrors.CodeOf(err)
	if stdErrors.Is(err, breaker.ErrOpen) {
		code = xerrors.CodeBreakerOpen
		o.logger.Warn("模块被熔断器短路",
			slog.String("module", name),
			slog.String("address", address),
		)
	} else {
		o.logger.Warn("模块调用失败，使用降级数据",
			slog.String("module", name),
			slog.String("address", address),
			slog.Any("error", err),
		)
	}
	return o.fallbackResult(name, address, err, code)
}

// fallbackResult 构造降级结果：优先复用最近一次缓存的成功结果
// （信号置信度减半），否则回退到中性默认值。
func (o *Orchestrator) fallbackResult(name, address string, cause error, code xerrors.Code) *ModuleResult {
	if cached, ok := o.store.Peek(resultCacheKey(name, address)); ok {
		if prior, valid := cached.(*ModuleResult); valid {
			degraded := cloneResult(prior)
			for i := range degraded.Signals {
				degraded.Signals[i].Confidence = clamp01(degraded.Signals[i].Confidence / 2)
			}
			degraded.Error = cause.Error()
			degraded.ErrorCode = string(code)
			degraded.Fallback = true
			degraded.Timestamp = time.Now().Unix()
			return degraded
		}
	}
	return &ModuleResult{
		Module:    name,
		Score:     ScoreOf(NeutralScore),
		Error:     cause.Error(),
		ErrorCode: string(code),
		Fallback:  true,
		Timestamp: time.Now().Unix(),
	}
}

// quickVerdict 只依据 immediate 阶段的评分给出快速结论。
func (o *Orchestrator) quickVerdict(results []*ModuleResult) string {
	if len(results) == 0 {
		return "信号不足，暂无快速结论"
	}
	allHigh := true
	for _, r := range results {
		if !r.Scored() {
			allHigh = false
			continue
		}
		o.mu.RLock()
		cfg := o.configs[r.Module]
		o.mu.RUnlock()
		if r.ScoreValue() < cfg.CriticalThreshold {
			return "检测到高风险信号，建议立即规避"
		}
		if r.ScoreValue() < opportunityScore {
			allHigh = false
		}
	}
	if allHigh {
		return "初步指标全部向好，可能存在机会"
	}
	return "信号好坏参半，建议等待深度分析"
}

// extractInsights 按简单的模块规则提取最多三条横切结论。
func (o *Orchestrator) extractInsights(results []*ModuleResult) []string {
	var insights []string
	add := func(text string) {
		if len(insights) < 3 {
			insights = append(insights, text)
		}
	}
	for _, r := range results {
		if !r.Scored() {
			continue
		}
		score := r.ScoreValue()
		switch r.Module {
		case "reputation":
			if score < 40 {
				add("地址命中风险标签，存在安全隐患")
			}
		case "activity":
			if score >= 70 {
				add("地址链上活动活跃")
			}
		case "liquidity":
			if score < 40 {
				add("流动性薄弱，退出成本可能较高")
			}
		case "holders":
			if score < 40 {
				add("持仓高度集中，抛压风险显著")
			}
		case "contract":
			if score < 40 {
				add("合约特征存疑，建议人工复核")
			}
		}
	}
	return insights
}

// buildVerdict 汇总风险分级、置信度与信号计数生成结论文本。
func (o *Orchestrator) buildVerdict(result *Result) string {
	assessment := result.Assessment
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("风险分级 %s，集成置信度 %.0f%%，共 %d 条信号",
		assessment.RiskTier,
		assessment.Confidence*100,
		assessment.SignalCount,
	))
	if assessment.CriticalCount > 0 {
		builder.WriteString(fmt.Sprintf("（其中 %d 条严重）", assessment.CriticalCount))
	}
	if assessment.ManipulationRisk != ManipulationNone {
		builder.WriteString(fmt.Sprintf("；跨模块操纵风险 %s", assessment.ManipulationRisk))
	}
	for _, insight := range result.Insights {
		builder.WriteString("；")
		builder.WriteString(insight)
	}
	builder.WriteString("。")
	return builder.String()
}

func resultCacheKey(module, address string) string {
	return fmt.Sprintf("%s:%s:result", module, address)
}

func cloneResult(r *ModuleResult) *ModuleResult {
	clone := *r
	if r.Score != nil {
		score := *r.Score
		clone.Score = &score
	}
	clone.Signals = append([]Signal(nil), r.Signals...)
	return &clone
}

func validPhase(phase string) bool {
	for _, p := range PhaseOrder {
		if p == phase {
			return true
		}
	}
	return false
}
