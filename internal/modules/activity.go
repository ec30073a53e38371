package modules

import (
	"context"
	"fmt"
	"math/big"

	"ChainGuard/internal/analysis"
	xerrors "ChainGuard/internal/errors"
	"ChainGuard/internal/web3"
	"ChainGuard/internal/web3/provider"
)

// weiPerEther 用于把余额折算成 ETH 数量级评分。
var weiPerEther = new(big.Float).SetFloat64(1e18)

// ActivityModule 依据链上账户状态评估地址活跃度。
// 交易计数为零或余额为零会压低评分并产出休眠信号。
type ActivityModule struct {
	chains *provider.Registry
	deps   Deps
	cfg    analysis.ModuleConfig
}

var _ analysis.Module = (*ActivityModule)(nil)

// NewActivityModule 创建活跃度模块。
func NewActivityModule(deps Deps, cfg analysis.ModuleConfig) *ActivityModule {
	return &ActivityModule{chains: deps.Chains, deps: deps, cfg: cfg}
}

func (m *ActivityModule) Name() string { return "activity" }

// Analyze 查询账户状态并按子因子加权评分。
func (m *ActivityModule) Analyze(ctx context.Context, address string, actx analysis.Context) (*analysis.ModuleResult, error) {
	client, err := m.chains.ClientFor(actx.Chain)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeModuleFailure, err, "解析链客户端失败")
	}

	state, err := cachedFetch(ctx, m.deps.Cache,
		fmt.Sprintf("activity:%s:%s:state", actx.Chain, address),
		m.cfg.CacheTTL, m.cfg.Timeout,
		func(ctx context.Context) (web3.AccountState, error) {
			return client.AccountState(ctx, address)
		})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeModuleFailure, err, "查询账户状态失败")
	}

	factors := map[string]*float64{
		"transactions": analysis.ScoreOf(scoreTransactions(state.Nonce)),
		"balance":      analysis.ScoreOf(scoreBalance(state.Balance)),
		// 账户年龄需要归档节点支持，当前数据源拿不到，按缺失处理。
		"account_age": nil,
	}
	score := analysis.WeightedScore(factors, m.cfg.FactorWeights)

	result := &analysis.ModuleResult{
		Module: m.Name(),
		Score:  analysis.ScoreOf(score),
	}

	if state.Nonce == 0 && !state.IsContract() {
		result.Signals = append(result.Signals, analysis.NewSignal(
			m.Name(), "DORMANT_ADDRESS", analysis.SeverityLow, 0.7,
			"地址从未发起过交易",
			map[string]any{"nonce": state.Nonce},
		))
	}
	if state.Balance != nil && state.Balance.Sign() == 0 && state.Nonce > 50 {
		result.Signals = append(result.Signals, analysis.NewSignal(
			m.Name(), "DRAINED_ADDRESS", analysis.SeverityMedium, 0.6,
			"历史交易频繁但余额已清零",
			map[string]any{"nonce": state.Nonce},
		))
	}
	return result, nil
}

// scoreTransactions 把交易计数映射到 [0,100]，500 笔以上视为满分。
func scoreTransactions(nonce uint64) float64 {
	if nonce >= 500 {
		return 100
	}
	return float64(nonce) / 5
}

// scoreBalance 按余额数量级评分，1 ETH 以上即为高分。
func scoreBalance(balance *big.Int) float64 {
	if balance == nil || balance.Sign() == 0 {
		return 0
	}
	eth, _ := new(big.Float).Quo(new(big.Float).SetInt(balance), weiPerEther).Float64()
	switch {
	case eth >= 10:
		return 100
	case eth >= 1:
		return 85
	case eth >= 0.1:
		return 65
	case eth >= 0.01:
		return 45
	default:
		return 25
	}
}
