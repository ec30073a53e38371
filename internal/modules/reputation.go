package modules

import (
	"context"

	"ChainGuard/internal/analysis"
	"ChainGuard/internal/labels"
)

// ReputationModule 依据静态标签库评估地址声誉。命中风险标签
// 直接产出高严重度信号，命中白名单标签则抬高评分。
type ReputationModule struct {
	labels labels.Provider
	cfg    analysis.ModuleConfig
}

var _ analysis.Module = (*ReputationModule)(nil)

// NewReputationModule 创建声誉模块。未注入标签库时退化为空库，
// 所有地址按无命中处理。
func NewReputationModule(deps Deps, cfg analysis.ModuleConfig) *ReputationModule {
	store := deps.Labels
	if store == nil {
		store = labels.NewStaticProvider(nil)
	}
	return &ReputationModule{labels: store, cfg: cfg}
}

func (m *ReputationModule) Name() string { return "reputation" }

// Analyze 查询标签库并按命中情况评分。标签查询是纯内存操作，
// 不经过共享缓存。
func (m *ReputationModule) Analyze(ctx context.Context, address string, actx analysis.Context) (*analysis.ModuleResult, error) {
	hits := m.labels.Lookup(address)

	result := &analysis.ModuleResult{Module: m.Name()}
	score := analysis.NeutralScore
	for _, label := range hits {
		switch label.Category {
		case labels.CategoryScam:
			score = 0
			result.Signals = append(result.Signals, analysis.NewSignal(
				m.Name(), "KNOWN_SCAM", analysis.SeverityCritical, 0.95,
				"地址命中已知诈骗标签: "+label.Name,
				map[string]any{"source": label.Source},
			))
		case labels.CategoryPhishing:
			score = minScore(score, 5)
			result.Signals = append(result.Signals, analysis.NewSignal(
				m.Name(), "PHISHING_ADDRESS", analysis.SeverityCritical, 0.9,
				"地址命中钓鱼标签: "+label.Name,
				map[string]any{"source": label.Source},
			))
		case labels.CategoryMixer:
			score = minScore(score, 20)
			result.Signals = append(result.Signals, analysis.NewSignal(
				m.Name(), "MIXER_EXPOSURE", analysis.SeverityHigh, 0.8,
				"地址命中混币服务标签: "+label.Name,
				map[string]any{"source": label.Source},
			))
		case labels.CategoryExchange:
			if score == analysis.NeutralScore {
				score = 70
			}
		case labels.CategoryVerified:
			if score == analysis.NeutralScore {
				score = 90
			}
		}
	}

	result.Score = analysis.ScoreOf(score)
	return result, nil
}

func minScore(current, candidate float64) float64 {
	if candidate < current {
		return candidate
	}
	return current
}
