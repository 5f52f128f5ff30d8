package billing

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	xerrors "AgentMarket/internal/errors"
)

// MySQLStore 使用 MySQL 持久化计费数据。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 基于现有连接创建 MySQLStore 并初始化表结构。
func NewMySQLStore(db *sql.DB) (*MySQLStore, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "数据库连接不能为空")
	}
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS revenue_records (
        id VARCHAR(64) PRIMARY KEY,
        execution_id VARCHAR(64) NOT NULL DEFAULT '',
        source VARCHAR(32) NOT NULL DEFAULT '',
        amount DECIMAL(20,8) NOT NULL,
        platform_fee DECIMAL(20,8) NOT NULL,
        seller_amount DECIMAL(20,8) NOT NULL,
        worker_reward DECIMAL(20,8) NOT NULL,
        status VARCHAR(32) NOT NULL,
        created_at BIGINT NOT NULL,
        INDEX idx_revenue_created (created_at)
)`,
		`CREATE TABLE IF NOT EXISTS pending_payments (
        id VARCHAR(64) PRIMARY KEY,
        execution_id VARCHAR(64) NOT NULL DEFAULT '',
        agent_id VARCHAR(64) NOT NULL,
        product_id VARCHAR(64) NOT NULL DEFAULT '',
        amount DECIMAL(20,8) NOT NULL,
        attempts INT NOT NULL DEFAULT 0,
        next_retry_at BIGINT NOT NULL DEFAULT 0,
        status VARCHAR(32) NOT NULL,
        last_error TEXT,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_payment_due (status, next_retry_at)
)`,
	}
	for _, schema := range schemas {
		if _, err := db.Exec(schema); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化计费表失败")
		}
	}
	return &MySQLStore{db: db}, nil
}

// CreateRevenue 追加收入记录。
func (s *MySQLStore) CreateRevenue(ctx context.Context, r *RevenueRecord) error {
	if r == nil || r.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "收入记录 ID 不能为空")
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = time.Now().Unix()
	}
	if r.Status == "" {
		r.Status = RevenuePending
	}
	const stmt = `INSERT INTO revenue_records
        (id, execution_id, source, amount, platform_fee, seller_amount, worker_reward, status, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt,
		r.ID, r.ExecutionID, r.Source,
		r.Amount.String(), r.PlatformFee.String(), r.SellerAmount.String(), r.WorkerReward.String(),
		string(r.Status), r.CreatedAt)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return xerrors.New(xerrors.CodeConflict, "收入记录已存在")
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入收入记录失败")
	}
	return nil
}

// GetRevenue 返回指定收入记录。
func (s *MySQLStore) GetRevenue(ctx context.Context, id string) (*RevenueRecord, error) {
	const stmt = `SELECT id, execution_id, source, amount, platform_fee, seller_amount,
        worker_reward, status, created_at FROM revenue_records WHERE id = ?`
	var r RevenueRecord
	var amount, fee, seller, worker string
	err := s.db.QueryRowContext(ctx, stmt, id).Scan(
		&r.ID, &r.ExecutionID, &r.Source, &amount, &fee, &seller, &worker, &r.Status, &r.CreatedAt)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrRevenueNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询收入记录失败")
	}
	if r.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析收入金额失败")
	}
	if r.PlatformFee, err = decimal.NewFromString(fee); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析平台费失败")
	}
	if r.SellerAmount, err = decimal.NewFromString(seller); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析卖方金额失败")
	}
	if r.WorkerReward, err = decimal.NewFromString(worker); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析工作者报酬失败")
	}
	return &r, nil
}

// MarkRevenueCollected 把 pending 的收入记录迁移到 collected。
func (s *MySQLStore) MarkRevenueCollected(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE revenue_records SET status = ? WHERE id = ? AND status = ?`,
		string(RevenueCollected), id, string(RevenuePending))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新收入记录状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		if _, getErr := s.GetRevenue(ctx, id); getErr != nil {
			return getErr
		}
		return xerrors.New(xerrors.CodeConflict, "收入记录不处于 pending 状态")
	}
	return nil
}

// SummarizeDay 聚合指定日期的计费数据。
func (s *MySQLStore) SummarizeDay(ctx context.Context, day string) (*Summary, error) {
	dayStart, err := time.ParseInLocation("2006-01-02", day, time.UTC)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "日期格式必须为 2006-01-02")
	}
	from := dayStart.Unix()
	to := dayStart.Add(24 * time.Hour).Unix()

	summary := &Summary{Day: day, TotalRevenue: decimal.Zero, TotalFees: decimal.Zero}
	var revenue, fees sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(amount), 0), COALESCE(SUM(platform_fee), 0)
         FROM revenue_records WHERE created_at >= ? AND created_at < ?`,
		from, to).Scan(&summary.ExecutionCount, &revenue, &fees)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "聚合收入数据失败")
	}
	if revenue.Valid {
		if summary.TotalRevenue, err = decimal.NewFromString(revenue.String); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析收入合计失败")
		}
	}
	if fees.Valid {
		if summary.TotalFees, err = decimal.NewFromString(fees.String); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析平台费合计失败")
		}
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_payments
         WHERE status = ? AND created_at >= ? AND created_at < ?`,
		string(PaymentPending), from, to).Scan(&summary.PendingPayments)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计待确认支付失败")
	}
	return summary, nil
}

// CreatePayment 追加待确认支付。
func (s *MySQLStore) CreatePayment(ctx context.Context, p *PendingPayment) error {
	if p == nil || p.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "支付 ID 不能为空")
	}
	now := time.Now().Unix()
	if p.CreatedAt == 0 {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = PaymentPending
	}
	const stmt = `INSERT INTO pending_payments
        (id, execution_id, agent_id, product_id, amount, attempts, next_retry_at, status, last_error, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt,
		p.ID, p.ExecutionID, p.AgentID, p.ProductID, p.Amount.String(),
		p.Attempts, p.NextRetryAt, string(p.Status), p.LastError, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return xerrors.New(xerrors.CodeConflict, "支付已存在")
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入支付失败")
	}
	return nil
}

const paymentColumns = `id, execution_id, agent_id, product_id, amount, attempts,
        next_retry_at, status, last_error, created_at, updated_at`

func scanPayment(scanner interface{ Scan(...any) error }) (*PendingPayment, error) {
	var p PendingPayment
	var amount string
	if err := scanner.Scan(
		&p.ID, &p.ExecutionID, &p.AgentID, &p.ProductID, &amount,
		&p.Attempts, &p.NextRetryAt, &p.Status, &p.LastError, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPayment 返回指定支付。
func (s *MySQLStore) GetPayment(ctx context.Context, id string) (*PendingPayment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM pending_payments WHERE id = ?`, id)
	p, err := scanPayment(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询支付失败")
	}
	return p, nil
}

// ListDuePayments 返回已到期的 pending 支付。
func (s *MySQLStore) ListDuePayments(ctx context.Context, now int64, limit int) ([]*PendingPayment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM pending_payments
         WHERE status = ? AND next_retry_at <= ? ORDER BY next_retry_at ASC LIMIT ?`,
		string(PaymentPending), now, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询到期支付失败")
	}
	defer rows.Close()
	results := make([]*PendingPayment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析支付记录失败")
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历支付记录失败")
	}
	return results, nil
}

// UpdatePayment 覆盖支付状态。
func (s *MySQLStore) UpdatePayment(ctx context.Context, p *PendingPayment) error {
	if p == nil || p.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "支付 ID 不能为空")
	}
	p.UpdatedAt = time.Now().Unix()
	const stmt = `UPDATE pending_payments
        SET attempts = ?, next_retry_at = ?, status = ?, last_error = ?, updated_at = ?
        WHERE id = ?`
	res, err := s.db.ExecContext(ctx, stmt,
		p.Attempts, p.NextRetryAt, string(p.Status), p.LastError, p.UpdatedAt, p.ID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新支付失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		if _, getErr := s.GetPayment(ctx, p.ID); getErr != nil {
			return getErr
		}
	}
	return nil
}

// Close 由调用方负责关闭共享连接，这里无需操作。
func (s *MySQLStore) Close() error {
	return nil
}

var _ Store = (*MySQLStore)(nil)
