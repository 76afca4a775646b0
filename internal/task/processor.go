package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"

	"AgentHost/internal/agent"
	xerrors "AgentHost/internal/errors"
	"AgentHost/internal/observability/metrics"
	"AgentHost/pkg/logger"
	"AgentHost/pkg/plugin"
)

// Executor 定义了处理器所需的 Agent 能力。
type Executor interface {
	Execute(ctx context.Context, req agent.CommandRequest) (*agent.CommandResult, error)
}

// Processor 负责从队列消费任务并交给 Agent 执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	recovery    RecoveryHandler
	metrics     *metrics.Collector
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

// WithRecoveryHandler 配置失败补偿策略。
func WithRecoveryHandler(handler RecoveryHandler) ProcessorOption {
	return func(p *Processor) {
		p.recovery = handler
	}
}

// WithMetrics 指定指标集合，默认使用 metrics.Default()。
func WithMetrics(c *metrics.Collector) ProcessorOption {
	return func(p *Processor) {
		p.metrics = c
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
	if p.logger == nil {
		p.logger = logger.Named("task-processor")
	}
	if p.metrics == nil {
		p.metrics = metrics.Default()
	}
	return p
}

// Start 启动任务处理循环，直到 ctx 被取消。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, job Job) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	taskID := job.TaskID
	task, err := p.store.Claim(ctx, taskID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) || stdErrors.Is(err, ErrTaskCompleted) || stdErrors.Is(err, ErrTaskExhausted) {
			p.logger.Debug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取任务失败", slog.Any("error", err), slog.String("task_id", taskID))
		return err
	}
	if job.Agent != "" && job.Agent != task.Agent {
		p.logger.Warn("队列消息与任务记录的 Agent 不一致，以存储为准",
			slog.String("task_id", task.ID),
			slog.String("queued_agent", job.Agent),
			slog.String("agent", task.Agent))
	}

	result, execErr := p.executor.Execute(ctx, agent.CommandRequest{
		ID:       task.ID,
		Agent:    task.Agent,
		Command:  task.Command,
		Metadata: cloneMetadata(task.Metadata),
	})
	if execErr != nil {
		return p.handleExecutionFailure(ctx, task, execErr)
	}

	var record ExecutionResult
	outcome := "succeeded"
	if result != nil {
		record = ExecutionResult{
			Output:       result.Output,
			Failed:       result.Failed,
			AgentVersion: result.Version,
		}
		if result.Failed {
			outcome = "agent_failed"
		}
		p.metrics.ObserveTask(task.Agent, outcome, result.Duration)
	}
	if err := p.store.MarkSucceeded(ctx, task.ID, record); err != nil {
		p.logger.Error("标记任务成功状态失败", slog.Any("error", err), slog.String("task_id", task.ID))
		return p.retryAfterStoreFailure(ctx, task, err)
	}
	logger.Audit().Info("任务执行完成",
		slog.String("task_id", task.ID),
		slog.String("agent", task.Agent),
		slog.Bool("failed", record.Failed),
		slog.Int("attempts", task.Attempts),
	)
	return nil
}

// retryAfterStoreFailure 把结果写入失败的任务重新排队，下次领取时会再次执行命令。
func (p *Processor) retryAfterStoreFailure(ctx context.Context, task *Task, cause error) error {
	terminal := task.Attempts >= task.MaxRetries
	if storeErr := p.store.MarkFailed(ctx, task.ID, xerrors.CodeStorageFailure, cause.Error(), terminal); storeErr != nil {
		p.logger.Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("task_id", task.ID))
		return storeErr
	}
	if terminal {
		p.deadLetter(ctx, task, xerrors.CodeStorageFailure, cause.Error())
		return nil
	}
	if pubErr := p.producer.Publish(ctx, JobFor(task)); pubErr != nil {
		return xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("任务 %s 在标记成功失败后重投失败", task.ID))
	}
	logger.Audit().Warn("任务标记成功失败后重试",
		slog.String("task_id", task.ID),
		slog.String("agent", task.Agent),
		slog.String("error", cause.Error()),
	)
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, task *Task, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	retryable := xerrors.RetryableError(execErr) && !stdErrors.Is(execErr, plugin.ErrAgentNotFound)
	terminal := task.Attempts >= task.MaxRetries || !retryable

	if !retryable && p.recovery != nil {
		fallback, recErr := p.recovery.Recover(ctx, task, execErr)
		switch {
		case recErr != nil:
			p.logger.Error("执行补偿逻辑失败",
				slog.Any("error", xerrors.Wrap(CodeTaskCompensate, recErr, "任务补偿失败")),
				slog.String("task_id", task.ID))
		case fallback != nil:
			if err := p.store.MarkSucceeded(ctx, task.ID, *fallback); err != nil {
				p.logger.Error("记录降级结果失败", slog.Any("error", err), slog.String("task_id", task.ID))
				return p.retryAfterStoreFailure(ctx, task, err)
			}
			logger.Audit().Warn("任务降级完成",
				slog.String("task_id", task.ID),
				slog.String("agent", task.Agent),
				slog.String("cause", execErr.Error()),
			)
			return nil
		}
	}

	if storeErr := p.store.MarkFailed(ctx, task.ID, code, execErr.Error(), terminal); storeErr != nil {
		p.logger.Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("task_id", task.ID))
		return storeErr
	}
	if terminal {
		p.metrics.ObserveTask(task.Agent, "failed", 0)
		p.deadLetter(ctx, task, code, execErr.Error())
	} else {
		p.metrics.ObserveTask(task.Agent, "retry", 0)
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", task.ID),
		slog.String("agent", task.Agent),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_retries", task.MaxRetries),
	)

	if !terminal {
		if pubErr := p.producer.Publish(ctx, JobFor(task)); pubErr != nil {
			return xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("任务 %s 重投失败", task.ID))
		}
		p.logger.Debug("任务已重新排队", slog.String("task_id", task.ID), slog.Int("attempts", task.Attempts))
	}
	return nil
}

// deadLetter 在队列支持时转存终态失败的任务，写入失败只记录日志。
func (p *Processor) deadLetter(ctx context.Context, task *Task, code xerrors.Code, reason string) {
	dl, ok := p.producer.(DeadLetterer)
	if !ok {
		return
	}
	err := dl.DeadLetter(ctx, DeadJob{Job: JobFor(task), Code: string(code), Reason: reason})
	if err != nil {
		p.logger.Error("写入死信失败", slog.Any("error", err), slog.String("task_id", task.ID))
	}
}
