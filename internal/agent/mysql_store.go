package agent

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

// MySQLStore 使用 MySQL 记录工作者注册表。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 基于现有连接创建 MySQLStore 并初始化表结构。
func NewMySQLStore(db *sql.DB) (*MySQLStore, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "数据库连接不能为空")
	}
	const schema = `CREATE TABLE IF NOT EXISTS agents (
        id VARCHAR(64) PRIMARY KEY,
        name VARCHAR(255) NOT NULL DEFAULT '',
        type VARCHAR(32) NOT NULL,
        capabilities TEXT,
        status VARCHAR(32) NOT NULL,
        performance_score DOUBLE NOT NULL DEFAULT 0.5,
        daily_budget DECIMAL(20,8) NOT NULL DEFAULT 0,
        wallet_address VARCHAR(64) NOT NULL DEFAULT '',
        current_task_id VARCHAR(64) NOT NULL DEFAULT '',
        total_executions INT NOT NULL DEFAULT 0,
        successful_runs INT NOT NULL DEFAULT 0,
        consecutive_fails INT NOT NULL DEFAULT 0,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_agent_type_status (type, status)
)`
	if _, err := db.Exec(schema); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 agents 表失败")
	}
	return &MySQLStore{db: db}, nil
}

// Create 插入新的工作者记录。
func (s *MySQLStore) Create(ctx context.Context, a *Agent) error {
	if a == nil || strings.TrimSpace(a.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "工作者 ID 不能为空")
	}
	if !IsValidType(a.Type) {
		return xerrors.New(CodeAgentValidation, "不支持的工作者类型")
	}
	wallet, err := NormalizeWallet(a.WalletAddress)
	if err != nil {
		return err
	}
	a.WalletAddress = wallet
	now := time.Now().Unix()
	if a.CreatedAt == 0 {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	if a.Status == "" {
		a.Status = StatusIdle
	}
	const stmt = `INSERT INTO agents
        (id, name, type, capabilities, status, performance_score, daily_budget, wallet_address, current_task_id,
         total_executions, successful_runs, consecutive_fails, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', 0, 0, 0, ?, ?)`
	_, err = s.db.ExecContext(ctx, stmt,
		a.ID,
		a.Name,
		string(a.Type),
		strings.Join(a.Capabilities, ","),
		string(a.Status),
		a.PerformanceScore,
		a.DailyBudget.String(),
		a.WalletAddress,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return xerrors.New(xerrors.CodeConflict, "工作者已存在")
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入工作者失败")
	}
	return nil
}

const agentColumns = `id, name, type, capabilities, status, performance_score, daily_budget, wallet_address,
        current_task_id, total_executions, successful_runs, consecutive_fails, created_at, updated_at`

func scanAgent(scanner interface{ Scan(...any) error }) (*Agent, error) {
	var a Agent
	var caps, budget string
	if err := scanner.Scan(
		&a.ID,
		&a.Name,
		&a.Type,
		&caps,
		&a.Status,
		&a.PerformanceScore,
		&budget,
		&a.WalletAddress,
		&a.CurrentTaskID,
		&a.TotalExecutions,
		&a.SuccessfulRuns,
		&a.ConsecutiveFails,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if caps != "" {
		a.Capabilities = strings.Split(caps, ",")
	}
	var err error
	if a.DailyBudget, err = decimal.NewFromString(budget); err != nil {
		return nil, err
	}
	return &a, nil
}

// Get 查询指定工作者。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrAgentNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询工作者失败")
	}
	return a, nil
}

// List 按创建顺序返回工作者。
func (s *MySQLStore) List(ctx context.Context, limit int) ([]*Agent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents ORDER BY created_at ASC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询工作者列表失败")
	}
	defer rows.Close()
	return collectAgents(rows)
}

// ListIdleByType 返回指定类型的空闲工作者，表现分降序，同分按创建顺序。
func (s *MySQLStore) ListIdleByType(ctx context.Context, t Type) ([]*Agent, error) {
	const stmt = `SELECT ` + agentColumns + ` FROM agents
        WHERE type = ? AND status = ? ORDER BY performance_score DESC, created_at ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, stmt, string(t), string(StatusIdle))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询空闲工作者失败")
	}
	defer rows.Close()
	return collectAgents(rows)
}

func collectAgents(rows *sql.Rows) ([]*Agent, error) {
	results := make([]*Agent, 0)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析工作者记录失败")
		}
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历工作者失败")
	}
	return results, nil
}

// Assign 用单行条件更新把空闲工作者绑定到任务，避免并发双重分配。
func (s *MySQLStore) Assign(ctx context.Context, id, taskID string) error {
	const stmt = `UPDATE agents SET status = ?, current_task_id = ?, updated_at = ?
        WHERE id = ? AND status = ?`
	res, err := s.db.ExecContext(ctx, stmt,
		string(StatusActive), taskID, time.Now().Unix(), id, string(StatusIdle))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "绑定工作者失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return ErrAgentBusy
	}
	return nil
}

// RecordResult 在事务内读取并更新工作者表现数据。
func (s *MySQLStore) RecordResult(ctx context.Context, id string, success bool) (*Agent, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ? FOR UPDATE`, id)
	a, err := scanAgent(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrAgentNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询工作者失败")
	}
	applyResult(a, success)
	a.UpdatedAt = time.Now().Unix()

	const stmt = `UPDATE agents SET status = ?, performance_score = ?, current_task_id = ?,
        total_executions = ?, successful_runs = ?, consecutive_fails = ?, updated_at = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, stmt,
		string(a.Status),
		a.PerformanceScore,
		a.CurrentTaskID,
		a.TotalExecutions,
		a.SuccessfulRuns,
		a.ConsecutiveFails,
		a.UpdatedAt,
		a.ID,
	); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新工作者表现失败")
	}
	if err := tx.Commit(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return a, nil
}

// SetStatus 直接设置工作者状态。
func (s *MySQLStore) SetStatus(ctx context.Context, id string, status Status) error {
	if !IsValidStatus(status) {
		return xerrors.New(xerrors.CodeInvalidArgument, "不支持的工作者状态")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新工作者状态失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// Close 由调用方负责关闭共享连接，这里无需操作。
func (s *MySQLStore) Close() error {
	return nil
}

var _ Store = (*MySQLStore)(nil)
