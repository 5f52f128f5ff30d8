package wallet

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	xerrors "AgentMarket/internal/errors"
	"AgentMarket/internal/exec"
	"AgentMarket/pkg/logger"
)

// Service 是积分账户的业务入口，同时为执行引擎提供市场路径的扣费实现。
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService 构造钱包服务。
func NewService(store Store) *Service {
	return &Service{
		store:  store,
		logger: logger.Named("wallet"),
	}
}

// EnsureFunds 校验余额能否覆盖给定价格。余额不足返回 ErrInsufficientCredits。
// 只做预检，不写流水；真正的扣费在执行成功后进行。
func (s *Service) EnsureFunds(ctx context.Context, userID string, price decimal.Decimal) error {
	w, err := s.store.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	if w.Balance.LessThan(price) {
		return xerrors.New(xerrors.CodeInsufficientCredits, "钱包积分不足",
			xerrors.WithMetadata("balance", w.Balance.String()),
			xerrors.WithMetadata("price", price.String()))
	}
	return nil
}

// DebitExecution 为一次市场路径执行扣费。
func (s *Service) DebitExecution(ctx context.Context, e *exec.Execution) error {
	if e == nil || e.UserID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "市场执行必须关联用户")
	}
	tx, err := s.store.Debit(ctx, e.UserID, e.Cost, "execution")
	if err != nil {
		return err
	}
	logger.Audit().Info("钱包扣费完成",
		slog.String("user_id", e.UserID),
		slog.String("execution_id", e.ID),
		slog.String("amount", tx.Amount.String()),
		slog.String("balance_after", tx.BalanceAfter.String()),
	)
	return nil
}

// Purchase 为用户充值积分。
func (s *Service) Purchase(ctx context.Context, userID string, amount decimal.Decimal) (*CreditTransaction, error) {
	tx, err := s.store.Credit(ctx, userID, amount, "purchase")
	if err != nil {
		return nil, err
	}
	logger.Audit().Info("积分充值完成",
		slog.String("user_id", userID),
		slog.String("amount", amount.String()),
		slog.String("balance_after", tx.BalanceAfter.String()),
	)
	return tx, nil
}

// Balance 返回用户钱包。
func (s *Service) Balance(ctx context.Context, userID string) (*Wallet, error) {
	return s.store.GetOrCreate(ctx, userID)
}

// Transactions 返回用户流水。
func (s *Service) Transactions(ctx context.Context, userID string, limit int) ([]*CreditTransaction, error) {
	return s.store.ListTransactions(ctx, userID, limit)
}

var _ exec.Ledger = (*Service)(nil)
