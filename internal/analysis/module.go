package analysis

import (
	"context"
	"time"
)

// Type 表示一次分析针对的对象类别。
type Type string

const (
	TypeWallet Type = "wallet"
	TypeToken  Type = "token"
)

// Context 携带一次分析的附加上下文，随模块调用透传。
// Type 由编排器在分析开始时填入。
type Context struct {
	Chain    string         `json:"chain,omitempty"`
	Type     Type           `json:"type,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Module 是独立失败的分析单元：给定地址产出评分与信号。
// 实现方需要自行处理子因子的并发与超时，部分子因子失败时
// 降级计分而不是返回错误；昂贵的外部调用必须经过共享缓存。
type Module interface {
	Name() string
	Analyze(ctx context.Context, address string, actx Context) (*ModuleResult, error)
}

// ModuleConfig 是模块注册时解析的不可变配置。
type ModuleConfig struct {
	// Phase 指定模块所属的执行阶段。
	Phase string
	// FactorWeights 是各子因子在加权平均中的权重。
	FactorWeights map[string]float64
	// CriticalThreshold 是快速结论中判定高风险的评分下限。
	CriticalThreshold float64
	// CacheTTL 控制模块结果与子因子数据的缓存时长。
	CacheTTL time.Duration
	// Timeout 是模块单次调用的最长耗时，由模块自身执行。
	Timeout time.Duration
	// HistoricalAccuracy 是模块历史准确率，用于集成置信度加权。
	HistoricalAccuracy float64
	// SampleCount 是历史样本量，低样本模块的权重被按比例折减。
	SampleCount int
}

func (c *ModuleConfig) applyDefaults() {
	if c.CriticalThreshold <= 0 {
		c.CriticalThreshold = 30
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.HistoricalAccuracy <= 0 {
		c.HistoricalAccuracy = 0.75
	}
	if c.SampleCount <= 0 {
		c.SampleCount = 100
	}
}

// ModuleResult 记录单个模块对某地址的一次分析输出，
// 归属于当前分析流程，不跨流程共享。
type ModuleResult struct {
	Module    string   `json:"module"`
	Score     *float64 `json:"score,omitempty"`
	Signals   []Signal `json:"signals,omitempty"`
	Error     string   `json:"error,omitempty"`
	ErrorCode string   `json:"error_code,omitempty"`
	Fallback  bool     `json:"fallback,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// Scored 判断模块是否产出了有效评分。
func (r *ModuleResult) Scored() bool {
	return r != nil && r.Score != nil
}

// ScoreValue 返回评分，缺失时返回中性分 50。
func (r *ModuleResult) ScoreValue() float64 {
	if r == nil || r.Score == nil {
		return NeutralScore
	}
	return *r.Score
}

// NeutralScore 是缺少任何因子时的中性评分。
const NeutralScore = 50.0

// ScoreOf 构造评分指针，便于字面量赋值。
func ScoreOf(v float64) *float64 {
	return &v
}

// WeightedScore 按配置权重对可用因子求加权平均。缺失（nil）的
// 因子被忽略；没有任何可用因子时返回中性分。
func WeightedScore(factors map[string]*float64, weights map[string]float64) float64 {
	var weighted, total float64
	for name, value := range factors {
		if value == nil {
			continue
		}
		weight, ok := weights[name]
		if !ok || weight <= 0 {
			continue
		}
		weighted += *value * weight
		total += weight
	}
	if total == 0 {
		return NeutralScore
	}
	return weighted / total
}
