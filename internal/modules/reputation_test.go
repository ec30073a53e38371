package modules

import (
	"context"
	"testing"

	"ChainGuard/internal/analysis"
	"ChainGuard/internal/labels"
)

func reputationDeps(t *testing.T, items []labels.Label) Deps {
	t.Helper()
	deps := testDeps(t, nil, nil)
	deps.Labels = labels.NewStaticProvider(items)
	return deps
}

func TestReputationScamLabelZeroesScore(t *testing.T) {
	deps := reputationDeps(t, []labels.Label{
		{Address: "0xBAD", Name: "Fake Airdrop", Category: labels.CategoryScam, Source: "chainalysis"},
	})
	m := NewReputationModule(deps, DefaultConfigs()["reputation"])

	result, err := m.Analyze(context.Background(), "0xbad", analysis.Context{})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if result.ScoreValue() != 0 {
		t.Fatalf("expected zero score for scam label, got %f", result.ScoreValue())
	}
	if len(result.Signals) != 1 {
		t.Fatalf("expected one signal, got %v", signalTypes(result.Signals))
	}
	signal := result.Signals[0]
	if signal.Type != "KNOWN_SCAM" || signal.Severity != analysis.SeverityCritical || signal.Confidence != 0.95 {
		t.Fatalf("unexpected signal: %+v", signal)
	}
}

func TestReputationMixerCapsScore(t *testing.T) {
	deps := reputationDeps(t, []labels.Label{
		{Address: "0xmix", Name: "Tornado Cash", Category: labels.CategoryMixer, Source: "ofac"},
	})
	m := NewReputationModule(deps, DefaultConfigs()["reputation"])

	result, err := m.Analyze(context.Background(), "0xMIX", analysis.Context{})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if result.ScoreValue() != 20 {
		t.Fatalf("expected mixer cap of 20, got %f", result.ScoreValue())
	}
	if !hasSignal(result.Signals, "MIXER_EXPOSURE") {
		t.Fatalf("expected MIXER_EXPOSURE, got %v", signalTypes(result.Signals))
	}
}

func TestReputationVerifiedLabelRaisesScore(t *testing.T) {
	deps := reputationDeps(t, []labels.Label{
		{Address: "0xgood", Name: "Wrapped Ether", Category: labels.CategoryVerified, Source: "etherscan"},
	})
	m := NewReputationModule(deps, DefaultConfigs()["reputation"])

	result, err := m.Analyze(context.Background(), "0xgood", analysis.Context{})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if result.ScoreValue() != 90 {
		t.Fatalf("expected 90 for verified label, got %f", result.ScoreValue())
	}
	if len(result.Signals) != 0 {
		t.Fatalf("verified label should emit no signals, got %v", signalTypes(result.Signals))
	}
}

func TestReputationWithoutLabelSourceIsNeutral(t *testing.T) {
	m := NewReputationModule(Deps{}, DefaultConfigs()["reputation"])

	result, err := m.Analyze(context.Background(), "0xdeadbeef", analysis.Context{})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if result.ScoreValue() != analysis.NeutralScore {
		t.Fatalf("expected neutral score without a label source, got %f", result.ScoreValue())
	}
	if len(result.Signals) != 0 {
		t.Fatalf("expected no signals, got %v", signalTypes(result.Signals))
	}
}

func TestReputationUnknownAddressIsNeutral(t *testing.T) {
	deps := reputationDeps(t, nil)
	m := NewReputationModule(deps, DefaultConfigs()["reputation"])

	result, err := m.Analyze(context.Background(), "0xnobody", analysis.Context{})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if result.ScoreValue() != analysis.NeutralScore {
		t.Fatalf("expected neutral score, got %f", result.ScoreValue())
	}
}
