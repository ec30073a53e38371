package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述了 ChainGuard 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Storage  StorageConfig  `json:"storage"`
	Queue    QueueConfig    `json:"queue"`
	Web3     Web3Config     `json:"web3"`
	Cache    CacheConfig    `json:"cache"`
	Breaker  BreakerConfig  `json:"breaker"`
	Modules  ModulesConfig  `json:"modules"`
	Labels   LabelsConfig   `json:"labels"`
	Market   MarketConfig   `json:"market"`
	Alerting AlertingConfig `json:"alerting"`
	Attest   AttestConfig   `json:"attest"`
	Logging  LoggingConfig  `json:"logging"`
	Runtime  RuntimeConfig  `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// StorageConfig 统一描述分析任务存储后端的连接信息。
type StorageConfig struct {
	JobStore JobStoreConfig `json:"job_store"`
}

// JobStoreConfig 支持内存与 MySQL 两种驱动。
type JobStoreConfig struct {
	Driver     string `json:"driver"`
	DSN        string `json:"dsn"`
	MaxRetries int    `json:"max_retries"`
}

// QueueConfig 描述任务队列的驱动与连接参数。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Workers  int            `json:"workers"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 是 Redis 队列的连接参数。
type RedisConfig struct {
	Addr             string `json:"addr"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	Key              string `json:"key"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 是 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL   string `json:"url"`
	Queue string `json:"queue"`
}

// Web3Config 包含访问区块链节点所需的 RPC 地址与多链定义文件。
type Web3Config struct {
	RPCURL       string `json:"rpc_url"`
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
}

// CacheConfig 控制共享缓存与限流器的行为。
type CacheConfig struct {
	RequestsPerSecond int    `json:"requests_per_second"`
	BaseBackoffMS     int    `json:"base_backoff_ms"`
	MaxBackoffMS      int    `json:"max_backoff_ms"`
	SweepInterval     string `json:"sweep_interval"`
}

// BreakerConfig 是模块熔断器的默认阈值。
type BreakerConfig struct {
	FailureThreshold         int    `json:"failure_threshold"`
	RecoveryTimeout          string `json:"recovery_timeout"`
	HalfOpenSuccessThreshold int    `json:"half_open_success_threshold"`
}

// ModulesConfig 允许按模块覆盖注册参数，键为模块名。
type ModulesConfig map[string]ModuleOverride

// ModuleOverride 覆盖单个分析模块的默认配置。
type ModuleOverride struct {
	CriticalThreshold  float64            `json:"critical_threshold"`
	CacheTTL           string             `json:"cache_ttl"`
	Timeout            string             `json:"timeout"`
	HistoricalAccuracy float64            `json:"historical_accuracy"`
	SampleCount        int                `json:"sample_count"`
	FactorWeights      map[string]float64 `json:"factor_weights"`
}

// LabelsConfig 指定静态地址标签库文件。
type LabelsConfig struct {
	Source string `json:"source"`
}

// MarketConfig 描述行情数据源（DEX 聚合接口）的访问方式。
type MarketConfig struct {
	BaseURL   string `json:"base_url"`
	APIKey    string `json:"api_key"`
	TimeoutMS int    `json:"timeout_ms"`
}

// AlertingConfig 控制高危结论的告警通道。
type AlertingConfig struct {
	Enabled  bool     `json:"enabled"`
	Channels []string `json:"channels"`
	Webhook  string   `json:"webhook"`
}

// AttestConfig 控制分析结论到链上评级证明的折算。
type AttestConfig struct {
	Enabled        bool   `json:"enabled"`
	RulesetVersion uint16 `json:"ruleset_version"`
	Oracle         string `json:"oracle"`
}

// LoggingConfig 控制运行日志与审计日志的输出。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	Audit       bool     `json:"audit"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
	LogDir  string `json:"log_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.JobStore.Driver == "" {
		c.Storage.JobStore.Driver = "memory"
	}
	if c.Storage.JobStore.MaxRetries <= 0 {
		c.Storage.JobStore.MaxRetries = 3
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 4
	}
	if c.Queue.Redis.Key == "" {
		c.Queue.Redis.Key = "chainguard:jobs"
	}
	if c.Queue.RabbitMQ.Queue == "" {
		c.Queue.RabbitMQ.Queue = "chainguard.jobs"
	}

	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}
	if c.Labels.Source != "" && !filepath.IsAbs(c.Labels.Source) {
		c.Labels.Source = filepath.Join(baseDir, c.Labels.Source)
	}

	if c.Cache.RequestsPerSecond <= 0 {
		c.Cache.RequestsPerSecond = 50
	}
	if c.Cache.BaseBackoffMS <= 0 {
		c.Cache.BaseBackoffMS = 100
	}
	if c.Cache.MaxBackoffMS <= 0 {
		c.Cache.MaxBackoffMS = 10_000
	}

	if c.Market.TimeoutMS <= 0 {
		c.Market.TimeoutMS = 8_000
	}

	if c.Attest.Enabled && c.Attest.RulesetVersion == 0 {
		c.Attest.RulesetVersion = 1
	}
	if c.Attest.Enabled && c.Attest.Oracle == "" {
		c.Attest.Oracle = "chainguard"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	if c.Runtime.LogDir == "" {
		c.Runtime.LogDir = filepath.Join(c.Runtime.DataDir, "logs")
	} else if !filepath.IsAbs(c.Runtime.LogDir) {
		c.Runtime.LogDir = filepath.Join(baseDir, c.Runtime.LogDir)
	}
}

// SweepIntervalDuration 解析缓存清理周期，非法或缺省时返回 0。
func (c CacheConfig) SweepIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil {
		return 0
	}
	return d
}

// RecoveryTimeoutDuration 解析熔断恢复窗口，非法或缺省时返回 0。
func (c BreakerConfig) RecoveryTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.RecoveryTimeout)
	if err != nil {
		return 0
	}
	return d
}

// ParseDuration 解析模块覆盖项中的时长字段，非法时返回 0。
func ParseDuration(raw string) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return d
}
