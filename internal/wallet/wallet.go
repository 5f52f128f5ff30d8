package wallet

import (
	"github.com/shopspring/decimal"

	xerrors "AgentMarket/internal/errors"
)

// TxType 表示积分流水的方向。
type TxType string

const (
	TxCredit TxType = "credit"
	TxDebit  TxType = "debit"
)

// 新用户首次出现时钱包自动创建并赠送的积分。
var DefaultFreeCredits = decimal.NewFromInt(100)

// Wallet 是用户的预付积分账户。余额永不为负，
// 真实余额以追加写入的流水链为准。
type Wallet struct {
	UserID    string          `json:"user_id"`
	Balance   decimal.Decimal `json:"balance_credits"`
	CreatedAt int64           `json:"created_at"`
	UpdatedAt int64           `json:"updated_at"`
}

// CreditTransaction 是一条不可变的积分流水。
// 链式不变量：balance_after = balance_before ± amount，
// 且下一条流水的 balance_before 等于上一条的 balance_after。
type CreditTransaction struct {
	ID            int64           `json:"id"`
	UserID        string          `json:"user_id"`
	Type          TxType          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Source        string          `json:"source"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	CreatedAt     int64           `json:"created_at"`
}

// ErrInsufficientCredits 表示余额不足以支付本次扣费。
var ErrInsufficientCredits = xerrors.New(xerrors.CodeInsufficientCredits, "钱包积分不足")

func cloneWallet(w *Wallet) *Wallet {
	clone := *w
	return &clone
}
