package billing

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	xerrors "AgentMarket/internal/errors"
	"AgentMarket/internal/exec"
	"AgentMarket/pkg/logger"
)

// Processor 抽象外部支付处理器。
type Processor interface {
	Charge(ctx context.Context, p *PendingPayment) error
}

// Service 负责执行分成、支付意图创建与日汇总。
type Service struct {
	store     Store
	processor Processor
	logger    *slog.Logger
}

// NewService 构造计费服务。
func NewService(store Store, processor Processor) *Service {
	return &Service{
		store:     store,
		processor: processor,
		logger:    logger.Named("billing"),
	}
}

// SettleExecution 对一次成功执行做三方分成并追加收入记录，返回总收入。
func (s *Service) SettleExecution(ctx context.Context, e *exec.Execution) (decimal.Decimal, error) {
	if e == nil {
		return decimal.Zero, xerrors.New(xerrors.CodeInvalidArgument, "执行不能为空")
	}
	source := "direct"
	if e.UserID != "" {
		source = "marketplace"
	}
	split := ComputeSplit(e.Cost)
	record := &RevenueRecord{
		ID:           uuid.NewString(),
		ExecutionID:  e.ID,
		Source:       source,
		Amount:       split.Revenue,
		PlatformFee:  split.PlatformFee,
		SellerAmount: split.SellerAmount,
		WorkerReward: split.WorkerReward,
		Status:       RevenuePending,
	}
	if err := s.store.CreateRevenue(ctx, record); err != nil {
		return decimal.Zero, err
	}
	logger.Audit().Info("收入分成完成",
		slog.String("execution_id", e.ID),
		slog.String("revenue_id", record.ID),
		slog.String("amount", record.Amount.String()),
		slog.String("platform_fee", record.PlatformFee.String()),
		slog.String("seller_amount", record.SellerAmount.String()),
		slog.String("worker_reward", record.WorkerReward.String()),
	)
	return split.Revenue, nil
}

// CreateExecutionPayment 创建一笔支付意图并立刻尝试扣款。
// 扣款失败时支付保持 pending，由重试器按退避策略继续。
func (s *Service) CreateExecutionPayment(ctx context.Context, agentID, productID string, amount decimal.Decimal) (*PendingPayment, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "agent_id 不能为空")
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "支付金额必须为正数")
	}
	payment := &PendingPayment{
		ID:          uuid.NewString(),
		AgentID:     agentID,
		ProductID:   productID,
		Amount:      amount,
		Status:      PaymentPending,
		NextRetryAt: time.Now().Unix(),
	}
	if err := s.store.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}
	if s.processor != nil {
		if err := s.attempt(ctx, payment); err != nil {
			s.logger.Warn("首次扣款失败，进入重试",
				slog.String("payment_id", payment.ID),
				slog.Any("error", err))
		}
	}
	return s.store.GetPayment(ctx, payment.ID)
}

// GetBillingSummary 返回指定日期的聚合数据，day 为空时取当日（UTC）。
func (s *Service) GetBillingSummary(ctx context.Context, day string) (*Summary, error) {
	if day == "" {
		day = time.Now().UTC().Format("2006-01-02")
	}
	return s.store.SummarizeDay(ctx, day)
}

// attempt 执行一次扣款并更新支付状态。
func (s *Service) attempt(ctx context.Context, payment *PendingPayment) error {
	if s.processor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置支付处理器")
	}
	chargeErr := s.processor.Charge(ctx, payment)
	payment.Attempts++
	if chargeErr == nil {
		payment.Status = PaymentSucceeded
		payment.LastError = ""
		if err := s.store.UpdatePayment(ctx, payment); err != nil {
			return err
		}
		logger.Audit().Info("支付确认成功",
			slog.String("payment_id", payment.ID),
			slog.String("amount", payment.Amount.String()),
			slog.Int("attempts", payment.Attempts),
		)
		return nil
	}

	payment.LastError = chargeErr.Error()
	if payment.Attempts >= maxPaymentRetry {
		payment.Status = PaymentFailed
	} else {
		payment.NextRetryAt = time.Now().Unix() + NextRetryDelaySeconds(payment.Attempts)
	}
	if err := s.store.UpdatePayment(ctx, payment); err != nil {
		return err
	}
	return xerrors.Wrap(xerrors.CodePaymentFailure, chargeErr, "支付处理器扣款失败")
}
