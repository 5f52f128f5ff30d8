package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	xerrors "AgentMarket/internal/errors"
	"AgentMarket/internal/observability/alerting"
	"AgentMarket/pkg/logger"
)

// Retrier 周期性排空到期的 pending 支付。每一趟都是独立且幂等的：
// 失败的一趟只会把未处理的支付留给下一个周期。
type Retrier struct {
	service *Service
	store   Store
	alerter alerting.Dispatcher
	cron    *cron.Cron
	spec    string
	batch   int
	logger  *slog.Logger
}

// RetrierOption 定义可选配置。
type RetrierOption func(*Retrier)

// WithDrainSpec 设置 cron 表达式，默认 "@every 30s"。
func WithDrainSpec(spec string) RetrierOption {
	return func(r *Retrier) {
		if spec != "" {
			r.spec = spec
		}
	}
}

// WithRetrierAlerter 配置告警派发器，重试耗尽时通知。
func WithRetrierAlerter(dispatcher alerting.Dispatcher) RetrierOption {
	return func(r *Retrier) {
		r.alerter = dispatcher
	}
}

// WithDrainBatch 设置单趟处理的支付数量上限。
func WithDrainBatch(batch int) RetrierOption {
	return func(r *Retrier) {
		if batch > 0 {
			r.batch = batch
		}
	}
}

// NewRetrier 构造支付重试器。
func NewRetrier(service *Service, store Store, opts ...RetrierOption) *Retrier {
	r := &Retrier{
		service: service,
		store:   store,
		spec:    "@every 30s",
		batch:   50,
		logger:  logger.Named("billing"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Start 注册定时排空任务并启动调度器。
func (r *Retrier) Start(ctx context.Context) error {
	if r.service == nil || r.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "支付重试器未初始化")
	}
	r.cron = cron.New()
	if _, err := r.cron.AddFunc(r.spec, func() {
		if err := r.Drain(ctx); err != nil {
			r.logger.Error("排空待确认支付失败", slog.Any("error", err))
		}
	}); err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "注册支付排空任务失败")
	}
	r.cron.Start()
	return nil
}

// Stop 停止调度器并等待进行中的一趟结束。
func (r *Retrier) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// Drain 处理一批到期支付。单笔失败不会中断整趟。
func (r *Retrier) Drain(ctx context.Context) error {
	due, err := r.store.ListDuePayments(ctx, time.Now().Unix(), r.batch)
	if err != nil {
		return err
	}
	for _, payment := range due {
		if err := r.service.attempt(ctx, payment); err != nil {
			r.logger.Warn("支付重试失败",
				slog.String("payment_id", payment.ID),
				slog.Int("attempts", payment.Attempts),
				slog.Any("error", err))
			if payment.Status == PaymentFailed {
				r.emitExhausted(ctx, payment, err)
			}
		}
	}
	return nil
}

func (r *Retrier) emitExhausted(ctx context.Context, payment *PendingPayment, cause error) {
	logger.Audit().Error("支付重试耗尽",
		slog.String("payment_id", payment.ID),
		slog.String("agent_id", payment.AgentID),
		slog.String("amount", payment.Amount.String()),
		slog.Int("attempts", payment.Attempts),
	)
	if r.alerter == nil {
		return
	}
	event := alerting.Event{
		Code:       xerrors.CodePaymentFailure,
		Message:    cause.Error(),
		Severity:   xerrors.SeverityOf(cause),
		Step:       "payment_retry",
		AgentID:    payment.AgentID,
		PaymentID:  payment.ID,
		OccurredAt: time.Now(),
	}
	if err := r.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("payment_id", payment.ID))
	}
}
