package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	"github.com/snehendu098/rayfine/internal/agent"
	xerrors "github.com/snehendu098/rayfine/internal/errors"
	"github.com/snehendu098/rayfine/internal/observability/alerting"
	"github.com/snehendu098/rayfine/pkg/logger"
)

// Executor 定义了处理器所需的编排能力，agent.Orchestrator 满足该接口。
type Executor interface {
	Execute(ctx context.Context, req agent.ActionRequest) (*agent.Receipt, error)
}

// Processor 负责从队列消费任务并交给 Orchestrator 执行。
// 每个任务最多执行一次：失败直接进入终态，从不重新投递。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
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

// WithAlertDispatcher 配置告警派发器，用于存储层与队列层故障。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		workerCount: 1,
		logger:      logger.Named("task"),
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

// Start 启动任务处理循环，ctx 结束时返回。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, taskID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	task, err := p.store.Claim(ctx, taskID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) || stdErrors.Is(err, ErrTaskCompleted) || stdErrors.Is(err, ErrTaskConflict) {
			p.logger.Debug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取任务失败", slog.Any("error", err), slog.String("task_id", taskID))
		p.emitAlert(ctx, &Task{ID: taskID}, err, "claim")
		return err
	}

	req := task.Request
	if req.Network == "" {
		req.Network = task.Network
	}
	receipt, execErr := p.executor.Execute(ctx, req)
	if execErr != nil {
		return p.recordFailure(ctx, task, execErr)
	}

	if err := p.store.MarkSucceeded(ctx, task.ID, *receipt); err != nil {
		// 交易已经确认，此时只能记录失败并保留交易哈希，绝不能重新执行。
		p.logger.Error("记录任务回执失败", slog.Any("error", err), slog.String("task_id", task.ID), slog.String("tx_hash", receipt.TxHash))
		p.emitAlert(ctx, task, err, "mark_succeeded")
		failure := Failure{
			Code:     xerrors.CodeStorageFailure,
			Message:  "交易已确认但回执保存失败: " + receipt.TxHash,
			Metadata: map[string]string{"tx_hash": receipt.TxHash, "explorer_url": receipt.ExplorerURL},
		}
		if storeErr := p.store.MarkFailed(ctx, task.ID, failure); storeErr != nil {
			return storeErr
		}
		return err
	}
	logger.Audit().Info("任务执行成功",
		slog.String("task_id", task.ID),
		slog.String("kind", string(task.Request.Kind)),
		slog.String("network", string(receipt.Network)),
		slog.String("tx_hash", receipt.TxHash),
	)
	return nil
}

func (p *Processor) recordFailure(ctx context.Context, task *Task, execErr error) error {
	failure := FailureOf(execErr)
	if storeErr := p.store.MarkFailed(ctx, task.ID, failure); storeErr != nil {
		p.logger.Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("task_id", task.ID))
		p.emitAlert(ctx, task, storeErr, "mark_failed")
		return storeErr
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", task.ID),
		slog.String("kind", string(task.Request.Kind)),
		slog.String("error_code", string(failure.Code)),
		slog.String("error", failure.Message),
		slog.String("tx_hash", failure.Metadata["tx_hash"]),
	)
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, task *Task, cause error, stage string) {
	if p == nil || p.alerter == nil || task == nil {
		return
	}
	classified, ok := xerrors.From(cause)
	if !ok {
		classified = xerrors.Wrap(xerrors.CodeStorageFailure, cause, cause.Error())
	}
	event := alerting.EventFromError("task", classified)
	event.JobID = task.ID
	event.Kind = string(task.Request.Kind)
	event.Network = string(task.Network)
	if event.Metadata == nil {
		event.Metadata = map[string]string{}
	}
	event.Metadata["stage"] = stage
	event.OccurredAt = time.Now().UTC()
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败",
			slog.Any("error", err),
			slog.String("task_id", task.ID),
			slog.String("stage", stage),
		)
	}
}
