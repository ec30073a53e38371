package modules

import (
	"context"
	"fmt"

	"ChainGuard/internal/analysis"
	xerrors "ChainGuard/internal/errors"
)

// HoldersModule 分析代币的持仓分布。头部持仓过于集中或持有人
// 数量过少都会压低评分。
type HoldersModule struct {
	market MarketClient
	deps   Deps
	cfg    analysis.ModuleConfig
}

var _ analysis.Module = (*HoldersModule)(nil)

// NewHoldersModule 创建持仓分布模块。
func NewHoldersModule(deps Deps, cfg analysis.ModuleConfig) *HoldersModule {
	return &HoldersModule{market: deps.Market, deps: deps, cfg: cfg}
}

func (m *HoldersModule) Name() string { return "holders" }

// Analyze 拉取持仓分布并按集中度与持有人数加权评分。
func (m *HoldersModule) Analyze(ctx context.Context, address string, actx analysis.Context) (*analysis.ModuleResult, error) {
	stats, err := cachedFetch(ctx, m.deps.Cache,
		fmt.Sprintf("holders:%s:%s:distribution", actx.Chain, address),
		m.cfg.CacheTTL, m.cfg.Timeout,
		func(ctx context.Context) (*HolderStats, error) {
			return m.market.HolderStats(ctx, actx.Chain, address)
		})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeModuleFailure, err, "拉取持仓分布失败")
	}

	factors := map[string]*float64{
		"concentration": analysis.ScoreOf(scoreConcentration(stats.Top10SharePct)),
		"holder_count":  analysis.ScoreOf(scoreHolderCount(stats.HolderCount)),
	}
	score := analysis.WeightedScore(factors, m.cfg.FactorWeights)

	result := &analysis.ModuleResult{
		Module: m.Name(),
		Score:  analysis.ScoreOf(score),
	}

	switch {
	case stats.Top10SharePct >= 80:
		result.Signals = append(result.Signals, analysis.NewSignal(
			m.Name(), "HOLDER_CONCENTRATION", analysis.SeverityCritical, 0.9,
			"前十持仓占比超过八成，单方可随时砸盘",
			map[string]any{"top10_share_pct": stats.Top10SharePct},
		))
	case stats.Top10SharePct >= 50:
		result.Signals = append(result.Signals, analysis.NewSignal(
			m.Name(), "HOLDER_CONCENTRATION", analysis.SeverityHigh, 0.8,
			"前十持仓占比过半",
			map[string]any{"top10_share_pct": stats.Top10SharePct},
		))
	}
	if stats.HolderCount > 0 && stats.HolderCount < 100 {
		result.Signals = append(result.Signals, analysis.NewSignal(
			m.Name(), "LOW_HOLDER_COUNT", analysis.SeverityMedium, 0.7,
			"持有人不足一百",
			map[string]any{"holder_count": stats.HolderCount},
		))
	}
	if stats.CreatorShare >= 20 {
		result.Signals = append(result.Signals, analysis.NewSignal(
			m.Name(), "CREATOR_HOLDING", analysis.SeverityMedium, 0.65,
			"创建者仍持有两成以上筹码",
			map[string]any{"creator_share_pct": stats.CreatorShare},
		))
	}
	return result, nil
}

// scoreConcentration 把前十持仓占比映射为评分，占比越高分数越低。
func scoreConcentration(top10SharePct float64) float64 {
	switch {
	case top10SharePct <= 0:
		return analysis.NeutralScore
	case top10SharePct < 20:
		return 95
	case top10SharePct < 40:
		return 75
	case top10SharePct < 60:
		return 50
	case top10SharePct < 80:
		return 25
	default:
		return 5
	}
}

// scoreHolderCount 按持有人数量评分，一万人以上视为充分分散。
func scoreHolderCount(count int) float64 {
	switch {
	case count <= 0:
		return analysis.NeutralScore
	case count >= 10_000:
		return 95
	case count >= 1_000:
		return 75
	case count >= 100:
		return 50
	default:
		return 15
	}
}
