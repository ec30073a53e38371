package modules

import (
	"bytes"
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"ChainGuard/internal/analysis"
	xerrors "ChainGuard/internal/errors"
	"ChainGuard/internal/web3/provider"
)

// eip1167Prefix 是最小代理合约的字节码前缀。
var eip1167Prefix = []byte{0x36, 0x3d, 0x3d, 0x37, 0x3d, 0x3d, 0x3d, 0x36, 0x3d, 0x73}

// ContractModule 检查目标地址的合约字节码特征。代币分析对象
// 没有部署代码时直接给出严重信号。
type ContractModule struct {
	chains *provider.Registry
	deps   Deps
	cfg    analysis.ModuleConfig
}

var _ analysis.Module = (*ContractModule)(nil)

// NewContractModule 创建合约特征模块。
func NewContractModule(deps Deps, cfg analysis.ModuleConfig) *ContractModule {
	return &ContractModule{chains: deps.Chains, deps: deps, cfg: cfg}
}

func (m *ContractModule) Name() string { return "contract" }

// Analyze 并发拉取字节码与交易对信息，分别产出 bytecode 与 age
// 两个子因子。字节码失败整个模块失败；行情失败只让 age 因子
// 缺席，剩余权重归一。
func (m *ContractModule) Analyze(ctx context.Context, address string, actx analysis.Context) (*analysis.ModuleResult, error) {
	client, err := m.chains.ClientFor(actx.Chain)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeModuleFailure, err, "解析链客户端失败")
	}

	var (
		code    []byte
		ageDays float64
		hasAge  bool
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		fetched, fetchErr := cachedFetch(groupCtx, m.deps.Cache,
			fmt.Sprintf("contract:%s:%s:code", actx.Chain, address),
			m.cfg.CacheTTL, m.cfg.Timeout,
			func(ctx context.Context) ([]byte, error) {
				return client.CodeAt(ctx, address)
			})
		if fetchErr != nil {
			return xerrors.Wrap(xerrors.CodeModuleFailure, fetchErr, "拉取合约字节码失败")
		}
		code = fetched
		return nil
	})
	if actx.Type == analysis.TypeToken && m.deps.Market != nil {
		group.Go(func() error {
			stats, fetchErr := cachedFetch(groupCtx, m.deps.Cache,
				pairStatsKey(actx.Chain, address),
				m.cfg.CacheTTL, m.cfg.Timeout,
				func(ctx context.Context) (*PairStats, error) {
					return m.deps.Market.PairStats(ctx, actx.Chain, address)
				})
			if fetchErr != nil {
				return nil
			}
			ageDays = stats.AgeDays
			hasAge = true
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	result := &analysis.ModuleResult{Module: m.Name()}

	if len(code) == 0 {
		result.Score = analysis.ScoreOf(analysis.NeutralScore)
		if actx.Type == analysis.TypeToken {
			result.Score = analysis.ScoreOf(0)
			result.Signals = append(result.Signals, analysis.NewSignal(
				m.Name(), "NO_CONTRACT_CODE", analysis.SeverityCritical, 0.95,
				"代币地址上没有任何合约代码",
				map[string]any{"code_size": 0},
			))
		}
		return result, nil
	}

	bytecodeScore := 80.0
	if bytes.HasPrefix(code, eip1167Prefix) {
		bytecodeScore = 60
		result.Signals = append(result.Signals, analysis.NewSignal(
			m.Name(), "MINIMAL_PROXY", analysis.SeverityLow, 0.75,
			"合约是 EIP-1167 最小代理，实际逻辑在别处",
			map[string]any{"code_size": len(code)},
		))
	}
	if bytes.Contains(code, []byte{0xff}) {
		// SELFDESTRUCT 操作码出现在字节码中只是弱证据，
		// 也可能落在数据段，置信度给得保守。
		bytecodeScore -= 20
		result.Signals = append(result.Signals, analysis.NewSignal(
			m.Name(), "SELFDESTRUCT_OPCODE", analysis.SeverityMedium, 0.5,
			"字节码中出现 SELFDESTRUCT 操作码",
			map[string]any{"code_size": len(code)},
		))
	}
	if len(code) < 100 {
		bytecodeScore -= 15
		result.Signals = append(result.Signals, analysis.NewSignal(
			m.Name(), "TINY_BYTECODE", analysis.SeverityLow, 0.6,
			"合约字节码异常短小",
			map[string]any{"code_size": len(code)},
		))
	}
	if bytecodeScore < 0 {
		bytecodeScore = 0
	}

	// 钱包地址或行情缺失时没有 age 因子。
	var ageFactor *float64
	if hasAge {
		ageFactor = analysis.ScoreOf(scoreContractAge(ageDays))
	}
	factors := map[string]*float64{
		"bytecode": analysis.ScoreOf(bytecodeScore),
		"age":      ageFactor,
	}
	result.Score = analysis.ScoreOf(analysis.WeightedScore(factors, m.cfg.FactorWeights))
	return result, nil
}

// scoreContractAge 按最早交易对的存续天数评分，历史越久分越高。
func scoreContractAge(ageDays float64) float64 {
	switch {
	case ageDays >= 365:
		return 95
	case ageDays >= 90:
		return 80
	case ageDays >= 30:
		return 60
	case ageDays >= 7:
		return 40
	default:
		return 15
	}
}
