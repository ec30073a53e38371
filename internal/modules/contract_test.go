package modules

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"

	"ChainGuard/internal/analysis"
)

func minimalProxyBytecode() []byte {
	var code []byte
	code = append(code, eip1167Prefix...)
	code = append(code, make([]byte, 20)...)
	code = append(code, 0x5a, 0xf4, 0x3d, 0x82, 0x80, 0x3e, 0x90, 0x3d, 0x91, 0x60, 0x2b, 0x57, 0xfd, 0x5b, 0xf3)
	return code
}

func TestContractTokenWithoutCodeIsCritical(t *testing.T) {
	reader := &fakeChainReader{code: nil}
	deps := testDeps(t, reader, nil)
	m := NewContractModule(deps, DefaultConfigs()["contract"])

	result, err := m.Analyze(context.Background(), "0xtoken1", analysis.Context{Chain: "ethereum", Type: analysis.TypeToken})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if result.ScoreValue() != 0 {
		t.Fatalf("expected zero score, got %f", result.ScoreValue())
	}
	if len(result.Signals) != 1 || result.Signals[0].Type != "NO_CONTRACT_CODE" {
		t.Fatalf("expected NO_CONTRACT_CODE, got %v", signalTypes(result.Signals))
	}
	if result.Signals[0].Severity != analysis.SeverityCritical {
		t.Fatalf("expected critical severity, got %s", result.Signals[0].Severity)
	}
}

func TestContractWalletWithoutCodeIsNeutral(t *testing.T) {
	reader := &fakeChainReader{code: nil}
	deps := testDeps(t, reader, nil)
	m := NewContractModule(deps, DefaultConfigs()["contract"])

	result, err := m.Analyze(context.Background(), "0xwallet1", analysis.Context{Chain: "ethereum", Type: analysis.TypeWallet})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if result.ScoreValue() != analysis.NeutralScore {
		t.Fatalf("expected neutral score for a plain wallet, got %f", result.ScoreValue())
	}
	if len(result.Signals) != 0 {
		t.Fatalf("wallet without code should emit no signals, got %v", signalTypes(result.Signals))
	}
}

func TestContractDetectsMinimalProxy(t *testing.T) {
	reader := &fakeChainReader{code: minimalProxyBytecode()}
	deps := testDeps(t, reader, nil)
	m := NewContractModule(deps, DefaultConfigs()["contract"])

	result, err := m.Analyze(context.Background(), "0xtoken2", analysis.Context{Chain: "ethereum", Type: analysis.TypeToken})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	// 45 字节的代理字节码同时触发短小字节码信号。
	for _, want := range []string{"MINIMAL_PROXY", "TINY_BYTECODE"} {
		if !hasSignal(result.Signals, want) {
			t.Fatalf("expected %s, got %v", want, signalTypes(result.Signals))
		}
	}
	if hasSignal(result.Signals, "SELFDESTRUCT_OPCODE") {
		t.Fatal("proxy runtime contains no 0xff byte")
	}
	// bytecode 60 - 15，age 缺失后剩余权重归一，评分落在 45。
	if math.Abs(result.ScoreValue()-45) > 1e-9 {
		t.Fatalf("expected 45, got %f", result.ScoreValue())
	}
}

func TestContractScoresPairAgeForTokens(t *testing.T) {
	code := bytes.Repeat([]byte{0x60, 0x80}, 60)
	reader := &fakeChainReader{code: code}
	market := &fakeMarket{pair: &PairStats{LiquidityUSD: 500_000, Volume24hUSD: 90_000, AgeDays: 400}}
	deps := testDeps(t, reader, market)
	m := NewContractModule(deps, DefaultConfigs()["contract"])

	result, err := m.Analyze(context.Background(), "0xtoken4", analysis.Context{Chain: "ethereum", Type: analysis.TypeToken})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(result.Signals) != 0 {
		t.Fatalf("expected no signals, got %v", signalTypes(result.Signals))
	}
	// bytecode 80 × 0.7 + age 95 × 0.3 = 84.5。
	if math.Abs(result.ScoreValue()-84.5) > 1e-9 {
		t.Fatalf("expected 84.5 with the age factor, got %f", result.ScoreValue())
	}
}

func TestContractMarketFailureDropsAgeFactor(t *testing.T) {
	code := bytes.Repeat([]byte{0x60, 0x80}, 60)
	reader := &fakeChainReader{code: code}
	market := &fakeMarket{err: errors.New("pair lookup down")}
	deps := testDeps(t, reader, market)
	m := NewContractModule(deps, DefaultConfigs()["contract"])

	result, err := m.Analyze(context.Background(), "0xtoken5", analysis.Context{Chain: "ethereum", Type: analysis.TypeToken})
	if err != nil {
		t.Fatalf("market failure must not fail the module: %v", err)
	}
	// age 因子缺失后只剩 bytecode，权重归一后仍是 80。
	if math.Abs(result.ScoreValue()-80) > 1e-9 {
		t.Fatalf("expected bytecode-only score 80, got %f", result.ScoreValue())
	}
}

func TestContractFlagsSelfdestructOpcode(t *testing.T) {
	code := bytes.Repeat([]byte{0x60, 0x80}, 60)
	code = append(code, 0xff)
	reader := &fakeChainReader{code: code}
	deps := testDeps(t, reader, nil)
	m := NewContractModule(deps, DefaultConfigs()["contract"])

	result, err := m.Analyze(context.Background(), "0xtoken3", analysis.Context{Chain: "ethereum", Type: analysis.TypeToken})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(result.Signals) != 1 || result.Signals[0].Type != "SELFDESTRUCT_OPCODE" {
		t.Fatalf("expected only SELFDESTRUCT_OPCODE, got %v", signalTypes(result.Signals))
	}
	if math.Abs(result.ScoreValue()-60) > 1e-9 {
		t.Fatalf("expected 60, got %f", result.ScoreValue())
	}
}
