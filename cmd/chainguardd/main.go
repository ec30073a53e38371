package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ChainGuard/internal/analysis"
	"ChainGuard/internal/api"
	"ChainGuard/internal/attest"
	"ChainGuard/internal/breaker"
	"ChainGuard/internal/cache"
	"ChainGuard/internal/config"
	"ChainGuard/internal/job"
	"ChainGuard/internal/labels"
	"ChainGuard/internal/modules"
	"ChainGuard/internal/observability/alerting"
	"ChainGuard/internal/observability/metrics"
	"ChainGuard/internal/web3/provider"
	"ChainGuard/pkg/logger"
)

// main 是 ChainGuard 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("chainguardd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("CHAINGUARD_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "chainguard.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Logging.Audit,
			Path:    filepath.Join(cfg.Runtime.LogDir, "audit.log"),
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	queue, err := buildQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.L().Error("关闭任务队列失败", slog.Any("error", err))
		}
	}()

	sharedCache := cache.New(cache.Config{
		RequestsPerSecond: cfg.Cache.RequestsPerSecond,
		BaseBackoff:       time.Duration(cfg.Cache.BaseBackoffMS) * time.Millisecond,
		MaxBackoff:        time.Duration(cfg.Cache.MaxBackoffMS) * time.Millisecond,
		SweepInterval:     cfg.Cache.SweepIntervalDuration(),
	}, cache.WithObserver(metrics.ObserveCacheAccess))
	defer sharedCache.Close()

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold:         cfg.Breaker.FailureThreshold,
		RecoveryTimeout:          cfg.Breaker.RecoveryTimeoutDuration(),
		HalfOpenSuccessThreshold: cfg.Breaker.HalfOpenSuccessThreshold,
	}, func(name string, from, to breaker.State) {
		metrics.ObserveBreakerTransition(name, string(from), string(to))
		logger.L().Warn("熔断器状态切换",
			slog.String("module", name),
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
	})

	chainRegistry, err := provider.NewRegistry(ctx, cfg.Web3)
	if err != nil {
		return err
	}
	defer chainRegistry.Close()

	var labelProvider labels.Provider
	if cfg.Labels.Source != "" {
		static, err := labels.LoadStaticProvider(cfg.Labels.Source)
		if err != nil {
			return err
		}
		labelProvider = static
	}

	deps := modules.Deps{
		Chains: chainRegistry,
		Market: modules.NewDexClient(modules.DexConfig{
			BaseURL: cfg.Market.BaseURL,
			APIKey:  cfg.Market.APIKey,
			Timeout: time.Duration(cfg.Market.TimeoutMS) * time.Millisecond,
		}),
		Labels: labelProvider,
		Cache:  sharedCache,
	}

	orchestratorOpts := []analysis.Option{
		analysis.WithLogger(logger.Named("orchestrator")),
	}
	if cfg.Attest.Enabled {
		registry := attest.NewMemoryRegistry(cfg.Attest.RulesetVersion)
		registry.AddOracle(cfg.Attest.Oracle)
		orchestratorOpts = append(orchestratorOpts, analysis.WithResultObserver(func(result *analysis.Result) {
			attestation, err := attest.Build(result, registry.RulesetVersion(), cfg.Attest.Oracle)
			if err != nil {
				logger.L().Error("构造评级证明失败", slog.Any("error", err), slog.String("address", result.Address))
				return
			}
			if err := registry.Attest(context.Background(), cfg.Attest.Oracle, attestation); err != nil {
				logger.L().Error("写入评级证明失败", slog.Any("error", err), slog.String("address", result.Address))
			}
		}))
	}

	orchestrator := analysis.NewOrchestrator(sharedCache, breakers, orchestratorOpts...)
	if err := registerModules(orchestrator, deps, cfg.Modules); err != nil {
		return err
	}

	service := job.NewService(store, queue, cfg.Storage.JobStore.MaxRetries)
	processorOpts := []job.ProcessorOption{
		job.WithWorkerCount(cfg.Queue.Workers),
		job.WithProcessorLogger(logger.Named("processor")),
	}
	if dispatcher := buildAlerting(cfg.Alerting); dispatcher != nil {
		processorOpts = append(processorOpts, job.WithAlertDispatcher(dispatcher))
	}
	processor := job.NewProcessor(orchestrator, store, queue, queue, processorOpts...)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("任务处理器异常退出", slog.Any("error", err))
		}
	}()

	server := api.NewServer(cfg.Server.Address, service)
	logger.L().Info("ChainGuard 启动",
		slog.String("address", cfg.Server.Address),
		slog.String("store", cfg.Storage.JobStore.Driver),
		slog.String("queue", cfg.Queue.Driver),
	)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildStore(cfg *config.Config) (job.Store, error) {
	switch cfg.Storage.JobStore.Driver {
	case "", "memory":
		return job.NewMemoryStore(), nil
	case "mysql":
		return job.NewMySQLStore(cfg.Storage.JobStore.DSN)
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.JobStore.Driver)
	}
}

func buildQueue(cfg *config.Config) (job.Queue, error) {
	switch cfg.Queue.Driver {
	case "", "memory":
		return job.NewMemoryQueue(1024), nil
	case "redis":
		return job.NewRedisQueue(job.RedisQueueConfig{
			Address:   cfg.Queue.Redis.Addr,
			Password:  cfg.Queue.Redis.Password,
			DB:        cfg.Queue.Redis.DB,
			Queue:     cfg.Queue.Redis.Key,
			BlockWait: time.Duration(cfg.Queue.Redis.BlockWaitSeconds) * time.Second,
		})
	case "rabbitmq":
		return job.NewRabbitMQQueue(job.RabbitMQQueueConfig{
			URL:   cfg.Queue.RabbitMQ.URL,
			Queue: cfg.Queue.RabbitMQ.Queue,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
}

// registerModules 注册内置分析模块，配置文件中的覆盖项优先。
func registerModules(orchestrator *analysis.Orchestrator, deps modules.Deps, overrides config.ModulesConfig) error {
	configs := modules.DefaultConfigs()
	for name, override := range overrides {
		base, ok := configs[name]
		if !ok {
			logger.L().Warn("忽略未知模块的配置覆盖", slog.String("module", name))
			continue
		}
		configs[name] = applyOverride(base, override)
	}

	builders := map[string]func(modules.Deps, analysis.ModuleConfig) analysis.Module{
		"activity":   func(d modules.Deps, c analysis.ModuleConfig) analysis.Module { return modules.NewActivityModule(d, c) },
		"reputation": func(d modules.Deps, c analysis.ModuleConfig) analysis.Module { return modules.NewReputationModule(d, c) },
		"liquidity":  func(d modules.Deps, c analysis.ModuleConfig) analysis.Module { return modules.NewLiquidityModule(d, c) },
		"holders":    func(d modules.Deps, c analysis.ModuleConfig) analysis.Module { return modules.NewHoldersModule(d, c) },
		"contract":   func(d modules.Deps, c analysis.ModuleConfig) analysis.Module { return modules.NewContractModule(d, c) },
	}
	for name, build := range builders {
		cfg := configs[name]
		if err := orchestrator.Register(build(deps, cfg), cfg); err != nil {
			return err
		}
	}
	return nil
}

func applyOverride(base analysis.ModuleConfig, override config.ModuleOverride) analysis.ModuleConfig {
	if override.CriticalThreshold > 0 {
		base.CriticalThreshold = override.CriticalThreshold
	}
	if d := config.ParseDuration(override.CacheTTL); d > 0 {
		base.CacheTTL = d
	}
	if d := config.ParseDuration(override.Timeout); d > 0 {
		base.Timeout = d
	}
	if override.HistoricalAccuracy > 0 {
		base.HistoricalAccuracy = override.HistoricalAccuracy
	}
	if override.SampleCount > 0 {
		base.SampleCount = override.SampleCount
	}
	if len(override.FactorWeights) > 0 {
		base.FactorWeights = override.FactorWeights
	}
	return base
}

// buildAlerting 按配置组装通知渠道，没有可用渠道时返回 nil。
func buildAlerting(cfg config.AlertingConfig) alerting.Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	var notifiers []alerting.Notifier
	for _, channel := range cfg.Channels {
		switch alerting.Channel(channel) {
		case alerting.ChannelWebhook:
			if cfg.Webhook == "" {
				logger.L().Warn("webhook 渠道缺少 URL 配置，跳过")
				continue
			}
			notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.Webhook})
		default:
			// 邮件、钉钉与 Slack 渠道需要在部署侧注入发送实现。
			logger.L().Warn("告警渠道未配置发送实现，跳过", slog.String("channel", channel))
		}
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}
