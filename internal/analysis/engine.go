package analysis

import (
	"math"
	"sort"
)

// 相关性启发式的阈值。系数只取档位值：均值差小于
// coordinatedDiff 视为 0.95，小于 correlatedDiff 视为 0.9，
// 其余 0.1。这是对源启发式（均值差近似相关性）的保留，
// 不是统计意义上的 Pearson 相关，刻意不予“修正”。
const (
	correlatedDiff       = 0.05
	coordinatedDiff      = 0.02
	highCorrCoefficient  = 0.9
	coordinatedCoeff     = 0.95
	lowCorrCoefficient   = 0.1
	recordThreshold      = 0.8
	coordinatedThreshold = 0.9
)

// Engine 将多个模块结果聚合为集成置信度、风险分级与操纵评估。
type Engine struct {
	configs map[string]ModuleConfig
}

// NewEngine 创建信号引擎。configs 提供各模块的历史准确率与样本量。
func NewEngine(configs map[string]ModuleConfig) *Engine {
	cloned := make(map[string]ModuleConfig, len(configs))
	for name, cfg := range configs {
		cfg.applyDefaults()
		cloned[name] = cfg
	}
	return &Engine{configs: cloned}
}

// ProcessSignals 聚合模块结果。输入顺序不影响输出：信号按
// (module, type, reason) 排序后再计算，保证幂等。
func (e *Engine) ProcessSignals(results []*ModuleResult) Assessment {
	signals := e.flatten(results)

	assessment := Assessment{
		Signals:          signals,
		RiskTier:         deriveTier(signals),
		Confidence:       e.ensembleConfidence(signals),
		SignalCount:      len(signals),
		CriticalCount:    countSeverity(signals, SeverityCritical),
		ManipulationRisk: ManipulationNone,
	}

	correlations := e.correlate(signals)
	assessment.Correlations = correlations
	assessment.ManipulationRisk = deriveManipulationRisk(correlations)
	return assessment
}

// flatten 展开所有信号并过滤掉非正置信度的条目。
func (e *Engine) flatten(results []*ModuleResult) []Signal {
	var signals []Signal
	for _, result := range results {
		if result == nil {
			continue
		}
		for _, sig := range result.Signals {
			if sig.Confidence <= 0 {
				continue
			}
			sig.Confidence = clamp01(sig.Confidence)
			signals = append(signals, sig)
		}
	}
	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].Module != signals[j].Module {
			return signals[i].Module < signals[j].Module
		}
		if signals[i].Type != signals[j].Type {
			return signals[i].Type < signals[j].Type
		}
		return signals[i].Reason < signals[j].Reason
	})
	return signals
}

// deriveTier 按既定顺序匹配分级规则，先命中者生效。
func deriveTier(signals []Signal) RiskTier {
	critical := countSeverity(signals, SeverityCritical)
	high := countSeverity(signals, SeverityHigh)
	medium := countSeverity(signals, SeverityMedium)

	switch {
	case critical > 0:
		return TierRed
	case high > 2:
		return TierRed
	case high > 0 || medium > 3:
		return TierOrange
	case medium > 0:
		return TierYellow
	default:
		return TierGreen
	}
}

// ensembleConfidence 计算权重归一化的加权平均置信度。
// 单个信号的权重 = 模块历史准确率 × 严重度权重 × min(样本量/100, 1)。
func (e *Engine) ensembleConfidence(signals []Signal) float64 {
	if len(signals) == 0 {
		return 0
	}
	var weighted, total float64
	for _, sig := range signals {
		cfg := e.configOf(sig.Module)
		weight := cfg.HistoricalAccuracy * severityWeight(sig.Severity) * math.Min(float64(cfg.SampleCount)/100, 1)
		weighted += sig.Confidence * weight
		total += weight
	}
	if total == 0 {
		return 0
	}
	return clamp01(weighted / total)
}

// correlate 对每个产出过信号的模块无序对计算相关档位。
func (e *Engine) correlate(signals []Signal) []Correlation {
	means := make(map[string]float64)
	counts := make(map[string]int)
	for _, sig := range signals {
		means[sig.Module] += sig.Confidence
		counts[sig.Module]++
	}
	modules := make([]string, 0, len(means))
	for module := range means {
		means[module] /= float64(counts[module])
		modules = append(modules, module)
	}
	sort.Strings(modules)

	var correlations []Correlation
	for i := 0; i < len(modules); i++ {
		for j := i + 1; j < len(modules); j++ {
			diff := math.Abs(means[modules[i]] - means[modules[j]])
			coefficient := lowCorrCoefficient
			switch {
			case diff < coordinatedDiff:
				coefficient = coordinatedCoeff
			case diff < correlatedDiff:
				coefficient = highCorrCoefficient
			}
			if coefficient <= recordThreshold {
				continue
			}
			class := CorrelationHigh
			if coefficient > coordinatedThreshold {
				class = CorrelationManipulated
			}
			correlations = append(correlations, Correlation{
				ModuleA:     modules[i],
				ModuleB:     modules[j],
				Coefficient: coefficient,
				Class:       class,
			})
		}
	}
	return correlations
}

// deriveManipulationRisk 根据相关对的数量给出操纵风险等级。
func deriveManipulationRisk(correlations []Correlation) ManipulationRisk {
	var coordinated, high int
	for _, corr := range correlations {
		switch corr.Class {
		case CorrelationManipulated:
			coordinated++
		case CorrelationHigh:
			high++
		}
	}
	switch {
	case coordinated > 2:
		return ManipulationHigh
	case coordinated > 0:
		return ManipulationMedium
	case high > 5:
		return ManipulationLow
	default:
		return ManipulationNone
	}
}

func (e *Engine) configOf(module string) ModuleConfig {
	if cfg, ok := e.configs[module]; ok {
		return cfg
	}
	cfg := ModuleConfig{}
	cfg.applyDefaults()
	return cfg
}

func countSeverity(signals []Signal, severity Severity) int {
	count := 0
	for _, sig := range signals {
		if sig.Severity == severity {
			count++
		}
	}
	return count
}
