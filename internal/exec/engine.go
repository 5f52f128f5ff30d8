package exec

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"AgentMarket/internal/agent"
	xerrors "AgentMarket/internal/errors"
	"AgentMarket/internal/observability/alerting"
	"AgentMarket/internal/sched"
	"AgentMarket/pkg/logger"
)

// Settler 对一次成功执行进行计费分成，返回总收入。
type Settler interface {
	SettleExecution(ctx context.Context, e *Execution) (decimal.Decimal, error)
}

// Ledger 负责市场路径的钱包扣费。
type Ledger interface {
	DebitExecution(ctx context.Context, e *Execution) error
}

// WorkerRegistry 定义引擎回写工作者表现所需的能力。
type WorkerRegistry interface {
	RecordResult(ctx context.Context, agentID string, success bool) (*agent.Agent, error)
}

// Engine 从队列消费执行，驱动状态机并触发计费、扣费与工作者统计。
// 引擎本身不做执行级重试：失败即终态，重试只存在于支付路径。
type Engine struct {
	store       Store
	consumer    Consumer
	dispatcher  Dispatcher
	tasks       sched.Store
	settler     Settler
	ledger      Ledger
	workers     WorkerRegistry
	alerter     alerting.Dispatcher
	workerCount int
	logger      *slog.Logger
}

// EngineOption 定义可选配置。
type EngineOption func(*Engine)

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) EngineOption {
	return func(e *Engine) {
		if workers > 0 {
			e.workerCount = workers
		}
	}
}

// WithTaskStore 注入任务存储，执行终态时联动任务状态。
func WithTaskStore(tasks sched.Store) EngineOption {
	return func(e *Engine) {
		e.tasks = tasks
	}
}

// WithSettler 注入计费分成实现。
func WithSettler(settler Settler) EngineOption {
	return func(e *Engine) {
		e.settler = settler
	}
}

// WithLedger 注入钱包扣费实现。
func WithLedger(ledger Ledger) EngineOption {
	return func(e *Engine) {
		e.ledger = ledger
	}
}

// WithWorkerRegistry 注入工作者表现回写实现。
func WithWorkerRegistry(workers WorkerRegistry) EngineOption {
	return func(e *Engine) {
		e.workers = workers
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) EngineOption {
	return func(e *Engine) {
		e.alerter = dispatcher
	}
}

// WithEngineLogger 指定日志输出。
func WithEngineLogger(log *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = log
	}
}

// NewEngine 构造执行引擎。
func NewEngine(store Store, consumer Consumer, dispatcher Dispatcher, opts ...EngineOption) *Engine {
	e := &Engine{
		store:       store,
		consumer:    consumer,
		dispatcher:  dispatcher,
		workerCount: 1,
		logger:      logger.Named("exec"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Start 启动执行处理循环，阻塞到 ctx 取消。
func (e *Engine) Start(ctx context.Context) error {
	if e.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置执行消费者")
	}
	if e.store == nil || e.dispatcher == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "执行引擎未初始化")
	}
	return e.consumer.Consume(ctx, e.workerCount, e.Handle)
}

// Handle 处理单个执行 ID。重复投递与已终态的执行被安静跳过。
func (e *Engine) Handle(ctx context.Context, executionID string) error {
	execution, err := e.store.Claim(ctx, executionID)
	if err != nil {
		if stdErrors.Is(err, ErrExecutionNotFound) || stdErrors.Is(err, ErrExecutionFinished) {
			e.logger.Debug("跳过执行",
				slog.String("execution_id", executionID),
				slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取执行失败",
			slog.Any("error", err),
			slog.String("execution_id", executionID))
		return err
	}
	e.transitionTask(ctx, execution.TaskID, sched.TaskStatusExecuting)

	start := time.Now()
	dispatchErr := e.dispatcher.Dispatch(ctx, execution)
	elapsed := time.Since(start).Milliseconds()

	if dispatchErr != nil {
		return e.handleFailure(ctx, execution, elapsed, dispatchErr)
	}
	return e.handleSuccess(ctx, execution, elapsed)
}

func (e *Engine) handleSuccess(ctx context.Context, execution *Execution, elapsedMs int64) error {
	e.appendStep(ctx, execution.ID, "dispatch", "completed", "", elapsedMs)

	revenue := decimal.Zero
	if e.settler != nil {
		settled, err := e.settler.SettleExecution(ctx, execution)
		if err != nil {
			// 分成失败不回滚执行，支付路径有自己的重试。
			logger.L().Error("计费分成失败",
				slog.Any("error", err),
				slog.String("execution_id", execution.ID))
			e.appendStep(ctx, execution.ID, "billing", "failed", err.Error(), 0)
			e.emitAlert(ctx, execution, xerrors.CodePaymentFailure, err, "billing")
		} else {
			revenue = settled
			e.appendStep(ctx, execution.ID, "billing", "completed", "", 0)
		}
	}

	if err := e.store.MarkCompleted(ctx, execution.ID, elapsedMs, revenue); err != nil {
		logger.L().Error("标记执行完成失败",
			slog.Any("error", err),
			slog.String("execution_id", execution.ID))
		return err
	}
	e.transitionTask(ctx, execution.TaskID, sched.TaskStatusCompleted)

	if e.ledger != nil && execution.UserID != "" {
		if err := e.ledger.DebitExecution(ctx, execution); err != nil {
			logger.L().Error("钱包扣费失败",
				slog.Any("error", err),
				slog.String("execution_id", execution.ID),
				slog.String("user_id", execution.UserID))
			e.appendStep(ctx, execution.ID, "wallet_debit", "failed", err.Error(), 0)
			e.emitAlert(ctx, execution, xerrors.CodeInsufficientCredits, err, "wallet_debit")
		} else {
			e.appendStep(ctx, execution.ID, "wallet_debit", "completed", "", 0)
		}
	}

	e.recordWorkerResult(ctx, execution, true)
	logger.Audit().Info("执行完成",
		slog.String("execution_id", execution.ID),
		slog.String("agent_id", execution.AgentID),
		slog.Int64("response_time_ms", elapsedMs),
		slog.String("revenue", revenue.String()),
	)
	return nil
}

func (e *Engine) handleFailure(ctx context.Context, execution *Execution, elapsedMs int64, dispatchErr error) error {
	e.appendStep(ctx, execution.ID, "dispatch", "failed", dispatchErr.Error(), elapsedMs)

	if err := e.store.MarkFailed(ctx, execution.ID, elapsedMs, dispatchErr.Error()); err != nil {
		logger.L().Error("标记执行失败状态出错",
			slog.Any("error", err),
			slog.String("execution_id", execution.ID))
		return err
	}
	e.transitionTask(ctx, execution.TaskID, sched.TaskStatusFailed)
	e.recordWorkerResult(ctx, execution, false)

	code := xerrors.CodeOf(dispatchErr)
	if code == xerrors.CodeUnknown {
		code = CodeExecutionDispatch
	}
	e.emitAlert(ctx, execution, code, dispatchErr, "dispatch")
	logger.Audit().Warn("执行失败",
		slog.String("execution_id", execution.ID),
		slog.String("agent_id", execution.AgentID),
		slog.String("error", dispatchErr.Error()),
		slog.String("error_code", string(code)),
	)
	return nil
}

func (e *Engine) recordWorkerResult(ctx context.Context, execution *Execution, success bool) {
	if e.workers == nil || execution.AgentID == "" {
		return
	}
	updated, err := e.workers.RecordResult(ctx, execution.AgentID, success)
	if err != nil {
		logger.L().Error("回写工作者表现失败",
			slog.Any("error", err),
			slog.String("agent_id", execution.AgentID))
		return
	}
	if updated.Status == agent.StatusError {
		e.emitAlert(ctx, execution, xerrors.CodeExecutionFailure,
			stdErrors.New("工作者连续失败进入 error 状态"), "worker_degraded")
	}
}

func (e *Engine) transitionTask(ctx context.Context, taskID string, status sched.TaskStatus) {
	if e.tasks == nil || taskID == "" {
		return
	}
	if err := e.tasks.UpdateStatus(ctx, taskID, status); err != nil {
		e.logger.Warn("联动任务状态失败",
			slog.String("task_id", taskID),
			slog.String("status", string(status)),
			slog.Any("error", err))
	}
}

func (e *Engine) appendStep(ctx context.Context, executionID, step, status, details string, durationMs int64) {
	rec := &StepRecord{
		ExecutionID: executionID,
		Step:        step,
		Status:      status,
		Details:     details,
		DurationMs:  durationMs,
	}
	if err := e.store.AppendStep(ctx, rec); err != nil {
		e.logger.Warn("写入步骤日志失败",
			slog.String("execution_id", executionID),
			slog.String("step", step),
			slog.Any("error", err))
	}
}

func (e *Engine) emitAlert(ctx context.Context, execution *Execution, code xerrors.Code, cause error, step string) {
	if e.alerter == nil || execution == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	event := alerting.Event{
		Code:        code,
		Message:     message,
		Severity:    attrs.Severity,
		Step:        step,
		ExecutionID: execution.ID,
		AgentID:     execution.AgentID,
		OccurredAt:  time.Now(),
	}
	if err := e.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("execution_id", execution.ID),
			slog.String("step", step),
		)
	}
}
