package wallet

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store 抽象钱包与积分流水的持久化接口。
type Store interface {
	// GetOrCreate 返回用户钱包，首次访问时以默认赠送积分创建，
	// 并为赠送积分追加一条 credit 流水。
	GetOrCreate(ctx context.Context, userID string) (*Wallet, error)
	// Debit 原子地条件扣费：当前余额不足时返回 ErrInsufficientCredits，
	// 且不写入任何流水。
	Debit(ctx context.Context, userID string, amount decimal.Decimal, source string) (*CreditTransaction, error)
	// Credit 充值并追加 credit 流水。
	Credit(ctx context.Context, userID string, amount decimal.Decimal, source string) (*CreditTransaction, error)
	// ListTransactions 按追加顺序返回用户流水。
	ListTransactions(ctx context.Context, userID string, limit int) ([]*CreditTransaction, error)
	Close() error
}
