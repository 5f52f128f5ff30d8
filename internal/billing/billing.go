package billing

import (
	"github.com/shopspring/decimal"

	xerrors "AgentMarket/internal/errors"
)

// RevenueStatus 表示收入记录的状态。记录一经写入即不可变，
// 唯一允许的迁移是 pending → collected。
type RevenueStatus string

const (
	RevenuePending   RevenueStatus = "pending"
	RevenueCollected RevenueStatus = "collected"
)

// PaymentStatus 表示外部支付的状态。
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// 统一分成公式：收入 = 成本 × 1.2，平台费 = 收入 × 5%，
// 卖方 70%，工作者拿余额，三者之和与收入精确相等。
var (
	revenueMarkup  = decimal.RequireFromString("1.2")
	platformFeePct = decimal.RequireFromString("0.05")
	sellerSharePct = decimal.RequireFromString("0.70")
)

// 支付重试策略：基础间隔 30 秒，指数退避，最多 5 次。
const (
	retryBaseSeconds = 30
	retryFactor      = 2
	maxPaymentRetry  = 5
)

// RevenueRecord 是一次成功执行的三方分成记录，追加写入后不再修改金额。
type RevenueRecord struct {
	ID           string          `json:"id"`
	ExecutionID  string          `json:"execution_id"`
	Source       string          `json:"source"`
	Amount       decimal.Decimal `json:"amount"`
	PlatformFee  decimal.Decimal `json:"platform_fee"`
	SellerAmount decimal.Decimal `json:"seller_amount"`
	WorkerReward decimal.Decimal `json:"worker_reward"`
	Status       RevenueStatus   `json:"status"`
	CreatedAt    int64           `json:"created_at"`
}

// PendingPayment 是一笔等待外部处理器确认的支付，带有界重试计数。
type PendingPayment struct {
	ID          string          `json:"id"`
	ExecutionID string          `json:"execution_id,omitempty"`
	AgentID     string          `json:"agent_id"`
	ProductID   string          `json:"product_id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Attempts    int             `json:"attempts"`
	NextRetryAt int64           `json:"next_retry_at"`
	Status      PaymentStatus   `json:"status"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   int64           `json:"created_at"`
	UpdatedAt   int64           `json:"updated_at"`
}

// Summary 是按日聚合的计费视图。
type Summary struct {
	Day             string          `json:"day"`
	ExecutionCount  int             `json:"execution_count"`
	TotalRevenue    decimal.Decimal `json:"total_revenue"`
	TotalFees       decimal.Decimal `json:"total_fees"`
	PendingPayments int             `json:"pending_payments"`
}

const (
	CodePaymentNotFound xerrors.Code = "PAYMENT_NOT_FOUND"
	CodeRevenueNotFound xerrors.Code = "REVENUE_NOT_FOUND"
)

var (
	// ErrPaymentNotFound 表示指定支付不存在。
	ErrPaymentNotFound = xerrors.New(CodePaymentNotFound, "payment not found")
	// ErrRevenueNotFound 表示指定收入记录不存在。
	ErrRevenueNotFound = xerrors.New(CodeRevenueNotFound, "revenue record not found")
)

func init() {
	xerrors.Register(CodePaymentNotFound, xerrors.Attributes{
		Message:  "payment not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeRevenueNotFound, xerrors.Attributes{
		Message:  "revenue record not found",
		Severity: xerrors.SeverityInfo,
	})
}

// Split 描述一次分成的结果。
type Split struct {
	Revenue      decimal.Decimal
	PlatformFee  decimal.Decimal
	SellerAmount decimal.Decimal
	WorkerReward decimal.Decimal
}

// ComputeSplit 按统一公式拆分一次执行的成本。工作者份额取余额，
// 保证三方之和与收入精确相等。
func ComputeSplit(cost decimal.Decimal) Split {
	revenue := cost.Mul(revenueMarkup).Round(2)
	fee := revenue.Mul(platformFeePct).Round(2)
	seller := revenue.Mul(sellerSharePct).Round(2)
	worker := revenue.Sub(fee).Sub(seller)
	return Split{
		Revenue:      revenue,
		PlatformFee:  fee,
		SellerAmount: seller,
		WorkerReward: worker,
	}
}

// NextRetryDelaySeconds 返回第 attempts 次失败后的重试间隔秒数。
func NextRetryDelaySeconds(attempts int) int64 {
	delay := int64(retryBaseSeconds)
	for i := 1; i < attempts; i++ {
		delay *= retryFactor
	}
	return delay
}

func clonePayment(p *PendingPayment) *PendingPayment {
	clone := *p
	return &clone
}

func cloneRevenue(r *RevenueRecord) *RevenueRecord {
	clone := *r
	return &clone
}
