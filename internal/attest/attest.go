// Package attest 把分析结论折算成可上链的评级证明。评级沿用
// 链上注册表的三档语义（0=red，1=yellow，2=green），分值以万分
// 比表示，证明由授权的 oracle 签发并可被撤销。
package attest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"ChainGuard/internal/analysis"
	xerrors "ChainGuard/internal/errors"
)

// Grade 是链上注册表使用的三档评级。
type Grade uint8

const (
	GradeRed    Grade = 0
	GradeYellow Grade = 1
	GradeGreen  Grade = 2
)

// maxScoreBps 是分值的上限，对应 100%。
const maxScoreBps = 10_000

const (
	CodeOracleInactive xerrors.Code = "ORACLE_INACTIVE"
	CodeInvalidGrade   xerrors.Code = "INVALID_GRADE"
	CodeInvalidScore   xerrors.Code = "INVALID_SCORE"
	CodeInvalidRuleset xerrors.Code = "INVALID_RULESET_VERSION"
	CodeRevoked        xerrors.Code = "ATTESTATION_REVOKED"
)

func init() {
	xerrors.Register(CodeOracleInactive, xerrors.Attributes{
		Message:  "oracle inactive or not authorized",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeInvalidGrade, xerrors.Attributes{
		Message:  "invalid grade value (must be 0-2)",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvalidScore, xerrors.Attributes{
		Message:  "invalid score value (must be 0-10000)",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvalidRuleset, xerrors.Attributes{
		Message:  "invalid ruleset version",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeRevoked, xerrors.Attributes{
		Message:  "attestation already revoked",
		Severity: xerrors.SeverityInfo,
	})
}

// GradeOf 把四档风险分级折算成链上三档评级。橙色没有链上
// 对应档位，并入红档处理。
func GradeOf(tier analysis.RiskTier) Grade {
	switch tier {
	case analysis.TierGreen:
		return GradeGreen
	case analysis.TierYellow:
		return GradeYellow
	default:
		return GradeRed
	}
}

// Attestation 是一条可发布到注册表的评级证明。
type Attestation struct {
	Address        string `json:"address"`
	RulesetVersion uint16 `json:"ruleset_version"`
	ScoreBps       uint16 `json:"score_bps"`
	Grade          Grade  `json:"grade"`
	ProofsHash     string `json:"proofs_hash"`
	AttestedBy     string `json:"attested_by"`
	AttestedAt     int64  `json:"attested_at"`
	Revoked        bool   `json:"revoked"`
}

// Validate 检查证明是否满足注册表的写入约束。
func (a *Attestation) Validate(rulesetVersion uint16) error {
	if a.Grade > GradeGreen {
		return xerrors.New(CodeInvalidGrade, "评级只能是 0/1/2")
	}
	if a.ScoreBps > maxScoreBps {
		return xerrors.New(CodeInvalidScore, "分值不能超过 10000")
	}
	if a.RulesetVersion != rulesetVersion {
		return xerrors.New(CodeInvalidRuleset, "规则集版本与注册表不一致")
	}
	return nil
}

// Build 从一次分析结果构造证明。分值取集成置信度的万分比，
// 证据哈希取信号列表的 SHA-256 摘要。
func Build(result *analysis.Result, rulesetVersion uint16, oracle string) (*Attestation, error) {
	if result == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "分析结果不能为空")
	}
	raw, err := json.Marshal(result.Assessment.Signals)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化信号列表失败")
	}
	digest := sha256.Sum256(raw)

	scoreBps := uint16(result.Assessment.Confidence * maxScoreBps)
	if scoreBps > maxScoreBps {
		scoreBps = maxScoreBps
	}

	return &Attestation{
		Address:        strings.ToLower(result.Address),
		RulesetVersion: rulesetVersion,
		ScoreBps:       scoreBps,
		Grade:          GradeOf(result.Assessment.RiskTier),
		ProofsHash:     hex.EncodeToString(digest[:]),
		AttestedBy:     oracle,
		AttestedAt:     time.Now().Unix(),
	}, nil
}

// Registry 抽象评级证明的发布与查询。
type Registry interface {
	Attest(ctx context.Context, oracle string, attestation *Attestation) error
	Get(ctx context.Context, address string, rulesetVersion uint16) (*Attestation, error)
	Revoke(ctx context.Context, address string, rulesetVersion uint16) error
}

type registryKey struct {
	address string
	version uint16
}

// MemoryRegistry 在进程内维护证明与 oracle 状态，提供与链上
// 注册表一致的校验语义。
type MemoryRegistry struct {
	mu             sync.RWMutex
	rulesetVersion uint16
	oracles        map[string]bool
	attestations   map[registryKey]*Attestation
}

var _ Registry = (*MemoryRegistry)(nil)

// NewMemoryRegistry 创建注册表并固定规则集版本。
func NewMemoryRegistry(rulesetVersion uint16) *MemoryRegistry {
	return &MemoryRegistry{
		rulesetVersion: rulesetVersion,
		oracles:        make(map[string]bool),
		attestations:   make(map[registryKey]*Attestation),
	}
}

// RulesetVersion 返回注册表当前的规则集版本。
func (r *MemoryRegistry) RulesetVersion() uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rulesetVersion
}

// BumpRulesetVersion 提升规则集版本，旧版本的证明保留可查。
func (r *MemoryRegistry) BumpRulesetVersion(v uint16) {
	r.mu.Lock()
	r.rulesetVersion = v
	r.mu.Unlock()
}

// AddOracle 授权一个 oracle。
func (r *MemoryRegistry) AddOracle(oracle string) {
	r.mu.Lock()
	r.oracles[oracle] = true
	r.mu.Unlock()
}

// RemoveOracle 吊销 oracle 的签发资格。
func (r *MemoryRegistry) RemoveOracle(oracle string) {
	r.mu.Lock()
	r.oracles[oracle] = false
	r.mu.Unlock()
}

// Attest 写入或覆盖一条证明。签发方必须是活跃的 oracle。
func (r *MemoryRegistry) Attest(_ context.Context, oracle string, attestation *Attestation) error {
	if attestation == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "证明不能为空")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.oracles[oracle] {
		return xerrors.New(CodeOracleInactive, "oracle 未授权或已吊销: "+oracle)
	}
	if err := attestation.Validate(r.rulesetVersion); err != nil {
		return err
	}
	clone := *attestation
	clone.AttestedBy = oracle
	clone.Revoked = false
	if clone.AttestedAt == 0 {
		clone.AttestedAt = time.Now().Unix()
	}
	r.attestations[registryKey{address: strings.ToLower(attestation.Address), version: attestation.RulesetVersion}] = &clone
	return nil
}

// Get 查询指定地址与规则集版本的证明。
func (r *MemoryRegistry) Get(_ context.Context, address string, rulesetVersion uint16) (*Attestation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attestation, ok := r.attestations[registryKey{address: strings.ToLower(address), version: rulesetVersion}]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "证明不存在")
	}
	clone := *attestation
	return &clone, nil
}

// Revoke 撤销证明，重复撤销报错。
func (r *MemoryRegistry) Revoke(_ context.Context, address string, rulesetVersion uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	attestation, ok := r.attestations[registryKey{address: strings.ToLower(address), version: rulesetVersion}]
	if !ok {
		return xerrors.New(xerrors.CodeNotFound, "证明不存在")
	}
	if attestation.Revoked {
		return xerrors.New(CodeRevoked, "证明已被撤销")
	}
	attestation.Revoked = true
	return nil
}
