// Package modules 收录具体的分析模块实现。每个模块独立失败，
// 昂贵的链上与链下查询都经过共享缓存，子因子部分失败时降级
// 计分而不是让整个模块报错。
package modules

import (
	"context"
	"fmt"
	"time"

	"ChainGuard/internal/analysis"
	"ChainGuard/internal/cache"
	xerrors "ChainGuard/internal/errors"
	"ChainGuard/internal/labels"
	"ChainGuard/internal/web3/provider"
)

// Deps 汇集模块共享的外部依赖，由启动流程注入。
type Deps struct {
	Chains *provider.Registry
	Market MarketClient
	Labels labels.Provider
	Cache  *cache.Cache
}

// DefaultConfigs 返回内置模块的注册配置，调用方可按配置文件覆盖。
func DefaultConfigs() map[string]analysis.ModuleConfig {
	return map[string]analysis.ModuleConfig{
		"activity": {
			Phase: analysis.PhaseImmediate,
			FactorWeights: map[string]float64{
				"transactions": 0.5,
				"balance":      0.3,
				"account_age":  0.2,
			},
			CacheTTL:           5 * time.Minute,
			Timeout:            5 * time.Second,
			HistoricalAccuracy: 0.8,
			SampleCount:        400,
		},
		"reputation": {
			Phase: analysis.PhaseImmediate,
			FactorWeights: map[string]float64{
				"labels": 1.0,
			},
			CacheTTL:           30 * time.Minute,
			Timeout:            3 * time.Second,
			HistoricalAccuracy: 0.9,
			SampleCount:        1200,
		},
		"liquidity": {
			Phase: analysis.PhaseQuick,
			FactorWeights: map[string]float64{
				"depth":  0.5,
				"volume": 0.3,
				"spread": 0.2,
			},
			CacheTTL:           2 * time.Minute,
			Timeout:            10 * time.Second,
			HistoricalAccuracy: 0.75,
			SampleCount:        250,
		},
		"holders": {
			Phase: analysis.PhaseDeep,
			FactorWeights: map[string]float64{
				"concentration": 0.6,
				"holder_count":  0.4,
			},
			CacheTTL:           10 * time.Minute,
			Timeout:            15 * time.Second,
			HistoricalAccuracy: 0.7,
			SampleCount:        80,
		},
		"contract": {
			Phase: analysis.PhaseContextual,
			FactorWeights: map[string]float64{
				"bytecode": 0.7,
				"age":      0.3,
			},
			CacheTTL:           time.Hour,
			Timeout:            15 * time.Second,
			HistoricalAccuracy: 0.85,
			SampleCount:        600,
		},
	}
}

// pairStatsKey 是交易对行情在共享缓存中的键。流动性与合约模块
// 共用同一份数据，上游只会被查询一次。
func pairStatsKey(chain, address string) string {
	return fmt.Sprintf("market:%s:%s:pairs", chain, address)
}

// cachedFetch 通过共享缓存执行一次外部查询，带模块级超时。
func cachedFetch[T any](ctx context.Context, store *cache.Cache, key string, ttl, timeout time.Duration, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	value, err := store.Get(ctx, key, ttl, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		return zero, err
	}
	typed, ok := value.(T)
	if !ok {
		return zero, xerrors.New(xerrors.CodeModuleFailure, "缓存值类型与预期不符: "+key)
	}
	return typed, nil
}
