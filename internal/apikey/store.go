package apikey

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store 抽象密钥、计量行与预算计数的持久化接口。
type Store interface {
	Create(ctx context.Context, k *Key) error
	Get(ctx context.Context, id string) (*Key, error)
	// GetBySecret 按密钥明文查找。找不到返回 ErrKeyInvalid。
	GetBySecret(ctx context.Context, secret string) (*Key, error)
	// CountUsageSince 统计窗口起点不早于 since 的计量行数。
	CountUsageSince(ctx context.Context, keyID string, since int64) (int, error)
	// RecordUsage 追加一条计量行。
	RecordUsage(ctx context.Context, rec *UsageRecord) error
	// ReserveBudget 原子地把 amount 计入当日消费；若会突破当日预算则
	// 拒绝并返回 ErrBudgetExhausted，消费计数保持不变。day 取 UTC 日期，
	// 跨日时计数自动清零。
	ReserveBudget(ctx context.Context, keyID string, amount decimal.Decimal, day string) error
	// ReleaseBudget 回滚一次预留，用于预留后排队失败的补偿。
	ReleaseBudget(ctx context.Context, keyID string, amount decimal.Decimal, day string) error
	Close() error
}
