package billing

import "context"

// Store 抽象收入记录与待确认支付的持久化接口。
type Store interface {
	// CreateRevenue 追加一条收入记录。
	CreateRevenue(ctx context.Context, r *RevenueRecord) error
	GetRevenue(ctx context.Context, id string) (*RevenueRecord, error)
	// MarkRevenueCollected 把收入记录从 pending 迁移到 collected。
	MarkRevenueCollected(ctx context.Context, id string) error
	// SummarizeDay 聚合指定日期（格式 2006-01-02，UTC）的计费数据。
	SummarizeDay(ctx context.Context, day string) (*Summary, error)

	CreatePayment(ctx context.Context, p *PendingPayment) error
	GetPayment(ctx context.Context, id string) (*PendingPayment, error)
	// ListDuePayments 返回 next_retry_at 已到期的 pending 支付。
	ListDuePayments(ctx context.Context, now int64, limit int) ([]*PendingPayment, error)
	// UpdatePayment 覆盖支付的重试计数、下次重试时间、状态与错误信息。
	UpdatePayment(ctx context.Context, p *PendingPayment) error
	Close() error
}
