package analysis

import "time"

// Severity 表示信号的严重程度。
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// severityWeight 返回集成置信度计算中各严重程度的权重。
func severityWeight(s Severity) float64 {
	switch s {
	case SeverityCritical:
		return 1.0
	case SeverityHigh:
		return 0.8
	case SeverityMedium:
		return 0.6
	default:
		return 0.4
	}
}

// RiskTier 是聚合后的分级结论。
type RiskTier string

const (
	TierGreen  RiskTier = "GREEN"
	TierYellow RiskTier = "YELLOW"
	TierOrange RiskTier = "ORANGE"
	TierRed    RiskTier = "RED"
)

// ManipulationRisk 描述跨模块信号相关性暗示的操纵风险等级。
type ManipulationRisk string

const (
	ManipulationNone   ManipulationRisk = "NONE"
	ManipulationLow    ManipulationRisk = "LOW"
	ManipulationMedium ManipulationRisk = "MEDIUM"
	ManipulationHigh   ManipulationRisk = "HIGH"
)

// CorrelationClass 是模块对相关性的分类结果。
type CorrelationClass string

const (
	CorrelationNone        CorrelationClass = "NONE"
	CorrelationHigh        CorrelationClass = "HIGH_CORRELATION"
	CorrelationManipulated CorrelationClass = "COORDINATED_MANIPULATION"
)

// Signal 是一条离散的风险证据，创建后不再修改。
type Signal struct {
	Type       string         `json:"type"`
	Severity   Severity       `json:"severity"`
	Confidence float64        `json:"confidence"`
	Evidence   map[string]any `json:"evidence,omitempty"`
	Reason     string         `json:"reason"`
	Module     string         `json:"module"`
	Timestamp  int64          `json:"timestamp"`
}

// NewSignal 构造信号并把置信度钳制到 [0,1]。
func NewSignal(module, signalType string, severity Severity, confidence float64, reason string, evidence map[string]any) Signal {
	return Signal{
		Type:       signalType,
		Severity:   severity,
		Confidence: clamp01(confidence),
		Evidence:   evidence,
		Reason:     reason,
		Module:     module,
		Timestamp:  time.Now().Unix(),
	}
}

// Correlation 记录一对模块之间的相关性判定，每次分析重新计算。
type Correlation struct {
	ModuleA     string           `json:"module_a"`
	ModuleB     string           `json:"module_b"`
	Coefficient float64          `json:"coefficient"`
	Class       CorrelationClass `json:"class"`
}

// Assessment 是信号引擎的聚合输出。
type Assessment struct {
	Signals          []Signal         `json:"signals"`
	Correlations     []Correlation    `json:"correlations,omitempty"`
	RiskTier         RiskTier         `json:"risk_tier"`
	Confidence       float64          `json:"confidence"`
	SignalCount      int              `json:"signal_count"`
	CriticalCount    int              `json:"critical_count"`
	ManipulationRisk ManipulationRisk `json:"manipulation_risk"`
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
