package wallet

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	xerrors "AgentMarket/internal/errors"
)

// MySQLStore 使用 MySQL 持久化钱包与流水。
// 扣费走 UPDATE ... WHERE balance >= amount 的单行条件更新，
// 并发扣费不会把余额推成负数。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 基于现有连接创建 MySQLStore 并初始化表结构。
func NewMySQLStore(db *sql.DB) (*MySQLStore, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "数据库连接不能为空")
	}
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS wallets (
        user_id VARCHAR(64) PRIMARY KEY,
        balance_credits DECIMAL(20,8) NOT NULL,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS credit_transactions (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        user_id VARCHAR(64) NOT NULL,
        type VARCHAR(16) NOT NULL,
        amount DECIMAL(20,8) NOT NULL,
        source VARCHAR(64) NOT NULL DEFAULT '',
        balance_before DECIMAL(20,8) NOT NULL,
        balance_after DECIMAL(20,8) NOT NULL,
        created_at BIGINT NOT NULL,
        INDEX idx_tx_user (user_id, id)
)`,
	}
	for _, schema := range schemas {
		if _, err := db.Exec(schema); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化钱包表失败")
		}
	}
	return &MySQLStore{db: db}, nil
}

// GetOrCreate 返回用户钱包，不存在时以默认赠送积分创建。
func (s *MySQLStore) GetOrCreate(ctx context.Context, userID string) (*Wallet, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "用户 ID 不能为空")
	}
	if w, err := s.get(ctx, userID); err == nil {
		return w, nil
	} else if !stdErrors.Is(err, sql.ErrNoRows) {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询钱包失败")
	}

	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wallets (user_id, balance_credits, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		userID, DefaultFreeCredits.String(), now, now)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			// 并发创建被唯一键挡下，读已有记录即可。
			w, getErr := s.get(ctx, userID)
			if getErr != nil {
				return nil, xerrors.Wrap(xerrors.CodeStorageFailure, getErr, "查询钱包失败")
			}
			return w, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建钱包失败")
	}
	if err := s.appendTx(ctx, &CreditTransaction{
		UserID:        userID,
		Type:          TxCredit,
		Amount:        DefaultFreeCredits,
		Source:        "signup_bonus",
		BalanceBefore: decimal.Zero,
		BalanceAfter:  DefaultFreeCredits,
	}); err != nil {
		return nil, err
	}
	return s.GetOrCreate(ctx, userID)
}

func (s *MySQLStore) get(ctx context.Context, userID string) (*Wallet, error) {
	var w Wallet
	var balance string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, balance_credits, created_at, updated_at FROM wallets WHERE user_id = ?`,
		userID).Scan(&w.UserID, &balance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if w.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, err
	}
	return &w, nil
}

// Debit 原子条件扣费。
func (s *MySQLStore) Debit(ctx context.Context, userID string, amount decimal.Decimal, source string) (*CreditTransaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "扣费金额必须为正数")
	}
	if _, err := s.GetOrCreate(ctx, userID); err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE wallets SET balance_credits = balance_credits - ?, updated_at = ?
         WHERE user_id = ? AND balance_credits >= ?`,
		amount.String(), time.Now().Unix(), userID, amount.String())
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "钱包扣费失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		return nil, ErrInsufficientCredits
	}
	w, err := s.get(ctx, userID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询钱包失败")
	}
	tx := &CreditTransaction{
		UserID:        userID,
		Type:          TxDebit,
		Amount:        amount,
		Source:        source,
		BalanceBefore: w.Balance.Add(amount),
		BalanceAfter:  w.Balance,
	}
	if err := s.appendTx(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// Credit 充值并追加流水。
func (s *MySQLStore) Credit(ctx context.Context, userID string, amount decimal.Decimal, source string) (*CreditTransaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "充值金额必须为正数")
	}
	if _, err := s.GetOrCreate(ctx, userID); err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE wallets SET balance_credits = balance_credits + ?, updated_at = ? WHERE user_id = ?`,
		amount.String(), time.Now().Unix(), userID); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "钱包充值失败")
	}
	w, err := s.get(ctx, userID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询钱包失败")
	}
	tx := &CreditTransaction{
		UserID:        userID,
		Type:          TxCredit,
		Amount:        amount,
		Source:        source,
		BalanceBefore: w.Balance.Sub(amount),
		BalanceAfter:  w.Balance,
	}
	if err := s.appendTx(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *MySQLStore) appendTx(ctx context.Context, tx *CreditTransaction) error {
	if tx.CreatedAt == 0 {
		tx.CreatedAt = time.Now().Unix()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO credit_transactions
         (user_id, type, amount, source, balance_before, balance_after, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.UserID, string(tx.Type), tx.Amount.String(), tx.Source,
		tx.BalanceBefore.String(), tx.BalanceAfter.String(), tx.CreatedAt)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入积分流水失败")
	}
	if id, err := res.LastInsertId(); err == nil {
		tx.ID = id
	}
	return nil
}

// ListTransactions 按追加顺序返回流水。
func (s *MySQLStore) ListTransactions(ctx context.Context, userID string, limit int) ([]*CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, type, amount, source, balance_before, balance_after, created_at
         FROM credit_transactions WHERE user_id = ? ORDER BY id ASC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询积分流水失败")
	}
	defer rows.Close()
	results := make([]*CreditTransaction, 0)
	for rows.Next() {
		var tx CreditTransaction
		var amount, before, after string
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Type, &amount, &tx.Source,
			&before, &after, &tx.CreatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析积分流水失败")
		}
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析流水金额失败")
		}
		if tx.BalanceBefore, err = decimal.NewFromString(before); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析流水余额失败")
		}
		if tx.BalanceAfter, err = decimal.NewFromString(after); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析流水余额失败")
		}
		results = append(results, &tx)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历积分流水失败")
	}
	return results, nil
}

// Close 由调用方负责关闭共享连接，这里无需操作。
func (s *MySQLStore) Close() error {
	return nil
}

var _ Store = (*MySQLStore)(nil)
