package apikey

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

// MySQLStore 使用 MySQL 持久化密钥与计量数据。预算预留在事务内
// 完成读取、跨日清零与条件累加，修复检查与写入之间的竞态。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 基于现有连接创建 MySQLStore 并初始化表结构。
func NewMySQLStore(db *sql.DB) (*MySQLStore, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "数据库连接不能为空")
	}
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS api_keys (
        id VARCHAR(64) PRIMARY KEY,
        secret VARCHAR(128) NOT NULL,
        name VARCHAR(255) NOT NULL DEFAULT '',
        owner_id VARCHAR(64) NOT NULL DEFAULT '',
        permissions TEXT,
        daily_budget DECIMAL(20,8) NOT NULL DEFAULT 0,
        spent_today DECIMAL(20,8) NOT NULL DEFAULT 0,
        spend_day VARCHAR(10) NOT NULL DEFAULT '',
        rate_limit_per_minute INT NOT NULL DEFAULT 0,
        rate_limit_per_hour INT NOT NULL DEFAULT 0,
        active TINYINT(1) NOT NULL DEFAULT 1,
        expires_at BIGINT NOT NULL DEFAULT 0,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        UNIQUE KEY uq_api_key_secret (secret)
)`,
		`CREATE TABLE IF NOT EXISTS api_key_usage (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        key_id VARCHAR(64) NOT NULL,
        cost DECIMAL(20,8) NOT NULL DEFAULT 0,
        window_start BIGINT NOT NULL,
        created_at BIGINT NOT NULL,
        INDEX idx_usage_window (key_id, window_start)
)`,
	}
	for _, schema := range schemas {
		if _, err := db.Exec(schema); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化密钥表失败")
		}
	}
	return &MySQLStore{db: db}, nil
}

// Create 注册新密钥。
func (s *MySQLStore) Create(ctx context.Context, k *Key) error {
	if k == nil || strings.TrimSpace(k.ID) == "" || strings.TrimSpace(k.Secret) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "密钥 ID 与 secret 不能为空")
	}
	now := time.Now().Unix()
	if k.CreatedAt == 0 {
		k.CreatedAt = now
	}
	k.UpdatedAt = now
	const stmt = `INSERT INTO api_keys
        (id, secret, name, owner_id, permissions, daily_budget, spent_today, spend_day,
         rate_limit_per_minute, rate_limit_per_hour, active, expires_at, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, 0, '', ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt,
		k.ID, k.Secret, k.Name, k.OwnerID, strings.Join(k.Permissions, ","),
		k.DailyBudget.String(), k.RateLimitPerMinute, k.RateLimitPerHour,
		k.Active, k.ExpiresAt, k.CreatedAt, k.UpdatedAt)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return xerrors.New(xerrors.CodeConflict, "密钥已存在")
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入密钥失败")
	}
	return nil
}

const keyColumns = `id, secret, name, owner_id, permissions, daily_budget, spent_today, spend_day,
        rate_limit_per_minute, rate_limit_per_hour, active, expires_at, created_at, updated_at`

func scanKey(scanner interface{ Scan(...any) error }) (*Key, error) {
	var k Key
	var perms, budget, spent string
	if err := scanner.Scan(
		&k.ID, &k.Secret, &k.Name, &k.OwnerID, &perms, &budget, &spent, &k.SpendDay,
		&k.RateLimitPerMinute, &k.RateLimitPerHour, &k.Active, &k.ExpiresAt,
		&k.CreatedAt, &k.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if perms != "" {
		k.Permissions = strings.Split(perms, ",")
	}
	var err error
	if k.DailyBudget, err = decimal.NewFromString(budget); err != nil {
		return nil, err
	}
	if k.SpentToday, err = decimal.NewFromString(spent); err != nil {
		return nil, err
	}
	return &k, nil
}

// Get 返回指定密钥。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Key, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE id = ?`, id)
	k, err := scanKey(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrKeyInvalid
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询密钥失败")
	}
	return k, nil
}

// GetBySecret 按明文查找密钥。
func (s *MySQLStore) GetBySecret(ctx context.Context, secret string) (*Key, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE secret = ?`, secret)
	k, err := scanKey(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrKeyInvalid
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询密钥失败")
	}
	return k, nil
}

// CountUsageSince 统计窗口起点不早于 since 的计量行数。
func (s *MySQLStore) CountUsageSince(ctx context.Context, keyID string, since int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM api_key_usage WHERE key_id = ? AND window_start >= ?`,
		keyID, since).Scan(&count)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计计量行失败")
	}
	return count, nil
}

// RecordUsage 追加计量行。
func (s *MySQLStore) RecordUsage(ctx context.Context, rec *UsageRecord) error {
	if rec == nil || rec.KeyID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "计量行必须关联密钥")
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().Unix()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO api_key_usage (key_id, cost, window_start, created_at) VALUES (?, ?, ?, ?)`,
		rec.KeyID, rec.Cost.String(), rec.WindowStart, rec.CreatedAt)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入计量行失败")
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

// ReserveBudget 在事务内原子预留当日预算。
func (s *MySQLStore) ReserveBudget(ctx context.Context, keyID string, amount decimal.Decimal, day string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return xerrors.New(xerrors.CodeInvalidArgument, "预留金额必须为正数")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	defer tx.Rollback()

	var budget, spent, spendDay string
	err = tx.QueryRowContext(ctx,
		`SELECT daily_budget, spent_today, spend_day FROM api_keys WHERE id = ? FOR UPDATE`,
		keyID).Scan(&budget, &spent, &spendDay)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return ErrKeyInvalid
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询密钥预算失败")
	}
	dailyBudget, err := decimal.NewFromString(budget)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析预算失败")
	}
	spentToday, err := decimal.NewFromString(spent)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析消费计数失败")
	}
	if spendDay != day {
		spentToday = decimal.Zero
	}
	next := spentToday.Add(amount)
	if next.GreaterThan(dailyBudget) {
		return ErrBudgetExhausted
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE api_keys SET spent_today = ?, spend_day = ?, updated_at = ? WHERE id = ?`,
		next.String(), day, time.Now().Unix(), keyID); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新消费计数失败")
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return nil
}

// ReleaseBudget 回滚一次预留，下限为零。
func (s *MySQLStore) ReleaseBudget(ctx context.Context, keyID string, amount decimal.Decimal, day string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET spent_today = GREATEST(spent_today - ?, 0), updated_at = ?
         WHERE id = ? AND spend_day = ?`,
		amount.String(), time.Now().Unix(), keyID, day)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "回滚消费计数失败")
	}
	return nil
}

// Close 由调用方负责关闭共享连接，这里无需操作。
func (s *MySQLStore) Close() error {
	return nil
}

var _ Store = (*MySQLStore)(nil)
