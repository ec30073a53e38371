package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "chainguard.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Errorf("server address: got %s", cfg.Server.Address)
	}
	if cfg.Storage.JobStore.Driver != "memory" || cfg.Storage.JobStore.MaxRetries != 3 {
		t.Errorf("job store defaults: %+v", cfg.Storage.JobStore)
	}
	if cfg.Queue.Driver != "memory" || cfg.Queue.Workers != 4 {
		t.Errorf("queue defaults: %+v", cfg.Queue)
	}
	if cfg.Queue.Redis.Key != "chainguard:jobs" || cfg.Queue.RabbitMQ.Queue != "chainguard.jobs" {
		t.Errorf("queue key defaults: %+v", cfg.Queue)
	}
	if cfg.Cache.RequestsPerSecond != 50 || cfg.Cache.BaseBackoffMS != 100 || cfg.Cache.MaxBackoffMS != 10_000 {
		t.Errorf("cache defaults: %+v", cfg.Cache)
	}
	if cfg.Market.TimeoutMS != 8_000 {
		t.Errorf("market timeout: got %d", cfg.Market.TimeoutMS)
	}

	baseDir := filepath.Dir(path)
	if cfg.Runtime.DataDir != filepath.Join(baseDir, "data") {
		t.Errorf("data dir: got %s", cfg.Runtime.DataDir)
	}
	if cfg.Runtime.LogDir != filepath.Join(baseDir, "data", "logs") {
		t.Errorf("log dir: got %s", cfg.Runtime.LogDir)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	path := writeConfig(t, `{
		"web3": {"chain_config": "chain.yaml"},
		"labels": {"source": "labels.json"},
		"runtime": {"data_dir": "var", "log_dir": "var/logs"}
	}`)
	baseDir := filepath.Dir(path)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Web3.ChainConfig != filepath.Join(baseDir, "chain.yaml") {
		t.Errorf("chain config: got %s", cfg.Web3.ChainConfig)
	}
	if cfg.Labels.Source != filepath.Join(baseDir, "labels.json") {
		t.Errorf("labels source: got %s", cfg.Labels.Source)
	}
	if cfg.Runtime.DataDir != filepath.Join(baseDir, "var") {
		t.Errorf("data dir: got %s", cfg.Runtime.DataDir)
	}
	if cfg.Runtime.LogDir != filepath.Join(baseDir, "var/logs") {
		t.Errorf("log dir: got %s", cfg.Runtime.LogDir)
	}
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	path := writeConfig(t, `{
		"server": {"address": ":9090"},
		"storage": {"job_store": {"driver": "mysql", "dsn": "user:pass@tcp(127.0.0.1)/cg", "max_retries": 7}},
		"queue": {"driver": "redis", "workers": 16, "redis": {"addr": "127.0.0.1:6379", "key": "custom:jobs"}},
		"attest": {"enabled": true},
		"modules": {"liquidity": {"cache_ttl": "90s", "historical_accuracy": 0.66}}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Address != ":9090" {
		t.Errorf("server address: got %s", cfg.Server.Address)
	}
	if cfg.Storage.JobStore.Driver != "mysql" || cfg.Storage.JobStore.MaxRetries != 7 {
		t.Errorf("job store: %+v", cfg.Storage.JobStore)
	}
	if cfg.Queue.Driver != "redis" || cfg.Queue.Workers != 16 || cfg.Queue.Redis.Key != "custom:jobs" {
		t.Errorf("queue: %+v", cfg.Queue)
	}
	if cfg.Attest.RulesetVersion != 1 || cfg.Attest.Oracle != "chainguard" {
		t.Errorf("attest defaults when enabled: %+v", cfg.Attest)
	}

	override, ok := cfg.Modules["liquidity"]
	if !ok {
		t.Fatal("expected liquidity override")
	}
	if ParseDuration(override.CacheTTL) != 90*time.Second || override.HistoricalAccuracy != 0.66 {
		t.Errorf("module override: %+v", override)
	}
}

func TestLoadRejectsMissingOrInvalidFiles(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("empty path should fail")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("missing file should fail")
	}
	if _, err := Load(writeConfig(t, `{broken`)); err == nil {
		t.Fatal("malformed json should fail")
	}
}

func TestDurationHelpers(t *testing.T) {
	cache := CacheConfig{SweepInterval: "30s"}
	if cache.SweepIntervalDuration() != 30*time.Second {
		t.Errorf("sweep interval: got %v", cache.SweepIntervalDuration())
	}
	if (CacheConfig{}).SweepIntervalDuration() != 0 {
		t.Error("empty sweep interval should be zero")
	}

	breaker := BreakerConfig{RecoveryTimeout: "1m"}
	if breaker.RecoveryTimeoutDuration() != time.Minute {
		t.Errorf("recovery timeout: got %v", breaker.RecoveryTimeoutDuration())
	}
	if (BreakerConfig{RecoveryTimeout: "nope"}).RecoveryTimeoutDuration() != 0 {
		t.Error("invalid recovery timeout should be zero")
	}
}
