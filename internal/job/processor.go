package job

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"ChainGuard/internal/analysis"
	xerrors "ChainGuard/internal/errors"
	"ChainGuard/internal/observability/alerting"
	"ChainGuard/internal/observability/metrics"
	"ChainGuard/pkg/logger"
)

// Executor 定义了处理器所需的分析能力。
type Executor interface {
	AnalyzeProgressive(ctx context.Context, address string, analysisType analysis.Type, actx analysis.Context) (*analysis.Result, error)
}

// Processor 负责从队列消费任务并交给编排器执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动任务处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, jobID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	job, err := p.store.Claim(ctx, jobID)
	if err != nil {
		if stdErrors.Is(err, ErrJobNotFound) || stdErrors.Is(err, ErrJobCompleted) || stdErrors.Is(err, ErrJobExhausted) {
			p.logDebug("跳过任务", slog.String("job_id", jobID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取任务失败", slog.Any("error", err), slog.String("job_id", jobID))
		p.emitAlert(ctx, &Job{ID: jobID}, CodeJobProcessing, err, "claim")
		return err
	}

	result, execErr := p.executor.AnalyzeProgressive(ctx, job.Address, job.Type, analysis.Context{
		Chain:    job.Chain,
		Metadata: cloneMetadata(job.Metadata),
	})
	if execErr != nil {
		return p.handleExecutionFailure(ctx, job, execErr)
	}

	report := buildReport(result)
	if err := p.store.MarkSucceeded(ctx, job.ID, report); err != nil {
		logger.L().Error("标记任务成功状态失败", slog.Any("error", err), slog.String("job_id", job.ID))
		if storeErr := p.store.MarkFailed(ctx, job.ID, CodeJobProcessing, err.Error(), false); storeErr != nil {
			logger.L().Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("job_id", job.ID))
			return storeErr
		}
		if pubErr := p.producer.Publish(ctx, job.ID); pubErr != nil {
			return xerrors.Wrap(CodeJobPublish, pubErr, fmt.Sprintf("任务 %s 在标记成功失败后重投失败", job.ID))
		}
		logger.Audit().Warn("任务标记成功失败后重试",
			slog.String("job_id", job.ID),
			slog.String("address", job.Address),
			slog.String("error", err.Error()),
		)
		return nil
	}

	metrics.ObserveAnalysis(report.RiskTier, string(job.Type), time.Duration(report.ProcessingMS)*time.Millisecond)
	logger.Audit().Info("任务执行成功",
		slog.String("job_id", job.ID),
		slog.String("address", job.Address),
		slog.String("risk_tier", report.RiskTier),
	)
	if report.RiskTier == string(analysis.TierRed) {
		p.emitRiskAlert(ctx, job, report)
	}
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, job *Job, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeJobProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := job.Attempts >= job.MaxRetries || !retryable

	if storeErr := p.store.MarkFailed(ctx, job.ID, code, execErr.Error(), terminal); storeErr != nil {
		logger.L().Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("job_id", job.ID))
		return storeErr
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("job_id", job.ID),
		slog.String("address", job.Address),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_retries", job.MaxRetries),
	)

	stage := "retry"
	if terminal {
		stage = "terminal"
	} else if !retryable {
		stage = "non_retryable"
	}
	p.emitAlert(ctx, job, code, execErr, stage)

	if retryable && !terminal {
		if pubErr := p.producer.Publish(ctx, job.ID); pubErr != nil {
			return xerrors.Wrap(CodeJobPublish, pubErr, fmt.Sprintf("任务 %s 重投失败", job.ID))
		}
		p.logDebug("任务已重新排队", slog.String("job_id", job.ID), slog.Int("attempts", job.Attempts))
	}
	return nil
}

func buildReport(result *analysis.Result) Report {
	if result == nil {
		return Report{}
	}
	return Report{
		RiskTier:         string(result.Assessment.RiskTier),
		Confidence:       result.Assessment.Confidence,
		QuickVerdict:     result.QuickVerdict,
		Verdict:          result.Verdict,
		SignalCount:      result.Assessment.SignalCount,
		CriticalCount:    result.Assessment.CriticalCount,
		ManipulationRisk: string(result.Assessment.ManipulationRisk),
		ProcessingMS:     result.ProcessingMS,
	}
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, job *Job, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || job == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	metadata := map[string]string{
		"stage": stage,
	}
	if cause != nil {
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		JobID:      job.ID,
		Address:    job.Address,
		Attempts:   job.Attempts,
		MaxRetries: job.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("job_id", job.ID),
			slog.String("stage", stage),
		)
	}
}

// emitRiskAlert 在分析得出红色分级时推送告警。
func (p *Processor) emitRiskAlert(ctx context.Context, job *Job, report Report) {
	if p == nil || p.alerter == nil || job == nil {
		return
	}
	event := alerting.Event{
		Code:     CodeHighRisk,
		Message:  report.Verdict,
		Severity: xerrors.SeverityCritical,
		JobID:    job.ID,
		Address:  job.Address,
		RiskTier: report.RiskTier,
		Metadata: map[string]string{
			"manipulation_risk": report.ManipulationRisk,
			"quick_verdict":     report.QuickVerdict,
		},
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("高危分级告警失败",
			slog.Any("error", err),
			slog.String("job_id", job.ID),
		)
	}
}
