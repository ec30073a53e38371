package modules

import (
	"context"
	"math"
	"math/big"
	"testing"

	"ChainGuard/internal/analysis"
)

func TestActivityScoresBusyFundedAddress(t *testing.T) {
	reader := &fakeChainReader{
		balance: new(big.Int).Mul(big.NewInt(2), big.NewInt(1e18)),
		nonce:   600,
	}
	deps := testDeps(t, reader, nil)
	m := NewActivityModule(deps, DefaultConfigs()["activity"])

	result, err := m.Analyze(context.Background(), "0x1111111111111111111111111111111111111111", analysis.Context{Chain: "ethereum"})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	// transactions 100 分、balance 85 分，account_age 缺失后按剩余权重归一。
	want := (100*0.5 + 85*0.3) / 0.8
	if math.Abs(result.ScoreValue()-want) > 1e-9 {
		t.Fatalf("expected score %f, got %f", want, result.ScoreValue())
	}
	if len(result.Signals) != 0 {
		t.Fatalf("active funded address should emit no signals, got %v", signalTypes(result.Signals))
	}
}

func TestActivityFlagsDormantAddress(t *testing.T) {
	reader := &fakeChainReader{balance: big.NewInt(0), nonce: 0}
	deps := testDeps(t, reader, nil)
	m := NewActivityModule(deps, DefaultConfigs()["activity"])

	result, err := m.Analyze(context.Background(), "0x2222222222222222222222222222222222222222", analysis.Context{Chain: "ethereum"})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	if result.ScoreValue() != 0 {
		t.Fatalf("expected zero score, got %f", result.ScoreValue())
	}
	if len(result.Signals) != 1 || result.Signals[0].Type != "DORMANT_ADDRESS" {
		t.Fatalf("expected DORMANT_ADDRESS, got %v", signalTypes(result.Signals))
	}
	if result.Signals[0].Severity != analysis.SeverityLow || result.Signals[0].Confidence != 0.7 {
		t.Fatalf("unexpected signal: %+v", result.Signals[0])
	}
}

func TestActivityFlagsDrainedAddress(t *testing.T) {
	reader := &fakeChainReader{balance: big.NewInt(0), nonce: 120}
	deps := testDeps(t, reader, nil)
	m := NewActivityModule(deps, DefaultConfigs()["activity"])

	result, err := m.Analyze(context.Background(), "0x3333333333333333333333333333333333333333", analysis.Context{Chain: "ethereum"})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	if !hasSignal(result.Signals, "DRAINED_ADDRESS") {
		t.Fatalf("expected DRAINED_ADDRESS, got %v", signalTypes(result.Signals))
	}
	if hasSignal(result.Signals, "DORMANT_ADDRESS") {
		t.Fatal("address with transaction history is not dormant")
	}
}

func TestActivityCachesChainLookups(t *testing.T) {
	reader := &fakeChainReader{balance: big.NewInt(1e18), nonce: 10}
	deps := testDeps(t, reader, nil)
	m := NewActivityModule(deps, DefaultConfigs()["activity"])
	ctx := context.Background()
	address := "0x4444444444444444444444444444444444444444"

	if _, err := m.Analyze(ctx, address, analysis.Context{Chain: "ethereum"}); err != nil {
		t.Fatalf("first analyze: %v", err)
	}
	if _, err := m.Analyze(ctx, address, analysis.Context{Chain: "ethereum"}); err != nil {
		t.Fatalf("second analyze: %v", err)
	}

	stats := deps.Cache.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("expected one miss then one hit, got %+v", stats)
	}
}
