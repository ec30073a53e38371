package modules

import (
	"context"
	"math"

	"ChainGuard/internal/analysis"
	xerrors "ChainGuard/internal/errors"
)

// LiquidityModule 依据 DEX 行情评估代币流动性。流动性过低或
// 成交量与流动性严重失衡时产出高严重度信号。
type LiquidityModule struct {
	market MarketClient
	deps   Deps
	cfg    analysis.ModuleConfig
}

var _ analysis.Module = (*LiquidityModule)(nil)

// NewLiquidityModule 创建流动性模块。
func NewLiquidityModule(deps Deps, cfg analysis.ModuleConfig) *LiquidityModule {
	return &LiquidityModule{market: deps.Market, deps: deps, cfg: cfg}
}

func (m *LiquidityModule) Name() string { return "liquidity" }

// Analyze 拉取交易对数据并按深度、成交量、价差加权评分。
func (m *LiquidityModule) Analyze(ctx context.Context, address string, actx analysis.Context) (*analysis.ModuleResult, error) {
	stats, err := cachedFetch(ctx, m.deps.Cache,
		pairStatsKey(actx.Chain, address),
		m.cfg.CacheTTL, m.cfg.Timeout,
		func(ctx context.Context) (*PairStats, error) {
			return m.market.PairStats(ctx, actx.Chain, address)
		})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeModuleFailure, err, "拉取交易对数据失败")
	}

	factors := map[string]*float64{
		"depth":  analysis.ScoreOf(scoreDepth(stats.LiquidityUSD)),
		"volume": analysis.ScoreOf(scoreVolume(stats.Volume24hUSD, stats.LiquidityUSD)),
		"spread": analysis.ScoreOf(scoreSpread(stats.PriceChange24h)),
	}
	score := analysis.WeightedScore(factors, m.cfg.FactorWeights)

	result := &analysis.ModuleResult{
		Module: m.Name(),
		Score:  analysis.ScoreOf(score),
	}

	if stats.LiquidityUSD < 10_000 {
		result.Signals = append(result.Signals, analysis.NewSignal(
			m.Name(), "LOW_LIQUIDITY", analysis.SeverityHigh, 0.85,
			"流动性不足一万美元，退出时可能无法成交",
			map[string]any{"liquidity_usd": stats.LiquidityUSD},
		))
	}
	if stats.LiquidityUSD > 0 && stats.Volume24hUSD/stats.LiquidityUSD > 20 {
		result.Signals = append(result.Signals, analysis.NewSignal(
			m.Name(), "VOLUME_ANOMALY", analysis.SeverityMedium, 0.7,
			"成交量与流动性比例异常，疑似刷量",
			map[string]any{
				"volume_24h_usd": stats.Volume24hUSD,
				"liquidity_usd":  stats.LiquidityUSD,
			},
		))
	}
	if stats.AgeDays > 0 && stats.AgeDays < 3 {
		result.Signals = append(result.Signals, analysis.NewSignal(
			m.Name(), "FRESH_PAIR", analysis.SeverityMedium, 0.6,
			"交易对创建不足三天",
			map[string]any{"age_days": stats.AgeDays},
		))
	}
	return result, nil
}

// scoreDepth 按流动性美元规模取对数评分，100 万美元以上为满分。
func scoreDepth(liquidityUSD float64) float64 {
	if liquidityUSD <= 0 {
		return 0
	}
	score := math.Log10(liquidityUSD) / 6 * 100
	if score > 100 {
		return 100
	}
	return score
}

// scoreVolume 以成交量/流动性比值评分，0.1 到 5 之间视为健康。
func scoreVolume(volumeUSD, liquidityUSD float64) float64 {
	if liquidityUSD <= 0 {
		return 0
	}
	ratio := volumeUSD / liquidityUSD
	switch {
	case ratio >= 0.1 && ratio <= 5:
		return 90
	case ratio > 5 && ratio <= 20:
		return 55
	case ratio > 20:
		return 20
	default:
		return 40
	}
}

// scoreSpread 以 24 小时价格波动幅度评分，波动越剧烈分数越低。
func scoreSpread(priceChange24h float64) float64 {
	swing := math.Abs(priceChange24h)
	switch {
	case swing <= 10:
		return 90
	case swing <= 30:
		return 65
	case swing <= 80:
		return 40
	default:
		return 10
	}
}
