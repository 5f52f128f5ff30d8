package exec

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	xerrors "AgentMarket/internal/errors"
)

// MySQLStore 使用 MySQL 持久化执行记录与步骤日志。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 基于现有连接创建 MySQLStore 并初始化表结构。
func NewMySQLStore(db *sql.DB) (*MySQLStore, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "数据库连接不能为空")
	}
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS executions (
        id VARCHAR(64) PRIMARY KEY,
        task_id VARCHAR(64) NOT NULL DEFAULT '',
        agent_id VARCHAR(64) NOT NULL,
        api_key_id VARCHAR(64) NOT NULL DEFAULT '',
        user_id VARCHAR(64) NOT NULL DEFAULT '',
        priority INT NOT NULL DEFAULT 0,
        target_url VARCHAR(512) NOT NULL DEFAULT '',
        parameters TEXT,
        cost DECIMAL(20,8) NOT NULL DEFAULT 0,
        revenue DECIMAL(20,8) NOT NULL DEFAULT 0,
        status VARCHAR(32) NOT NULL,
        response_time_ms BIGINT NOT NULL DEFAULT 0,
        error_message TEXT,
        created_at BIGINT NOT NULL,
        started_at BIGINT NOT NULL DEFAULT 0,
        finished_at BIGINT NOT NULL DEFAULT 0,
        INDEX idx_execution_key (api_key_id, created_at),
        INDEX idx_execution_status (status)
)`,
		`CREATE TABLE IF NOT EXISTS execution_steps (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        execution_id VARCHAR(64) NOT NULL,
        step VARCHAR(64) NOT NULL,
        status VARCHAR(32) NOT NULL,
        details TEXT,
        duration_ms BIGINT NOT NULL DEFAULT 0,
        created_at BIGINT NOT NULL,
        INDEX idx_step_execution (execution_id, id)
)`,
	}
	for _, schema := range schemas {
		if _, err := db.Exec(schema); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化执行表失败")
		}
	}
	return &MySQLStore{db: db}, nil
}

// Create 插入 pending 状态的执行记录。
func (s *MySQLStore) Create(ctx context.Context, e *Execution) error {
	if err := validateExecution(e); err != nil {
		return err
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().Unix()
	}
	e.Status = StatusPending
	params, err := json.Marshal(e.Parameters)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化执行参数失败")
	}
	const stmt = `INSERT INTO executions
        (id, task_id, agent_id, api_key_id, user_id, priority, target_url, parameters, cost, revenue,
         status, response_time_ms, error_message, created_at, started_at, finished_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, '', ?, 0, 0)`
	_, err = s.db.ExecContext(ctx, stmt,
		e.ID,
		e.TaskID,
		e.AgentID,
		e.APIKeyID,
		e.UserID,
		e.Priority,
		e.TargetURL,
		string(params),
		e.Cost.String(),
		e.Revenue.String(),
		string(e.Status),
		e.CreatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return xerrors.New(xerrors.CodeConflict, "执行记录已存在")
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入执行记录失败")
	}
	return nil
}

const executionColumns = `id, task_id, agent_id, api_key_id, user_id, priority, target_url, parameters,
        cost, revenue, status, response_time_ms, error_message, created_at, started_at, finished_at`

func scanExecution(scanner interface{ Scan(...any) error }) (*Execution, error) {
	var e Execution
	var params, cost, revenue string
	if err := scanner.Scan(
		&e.ID,
		&e.TaskID,
		&e.AgentID,
		&e.APIKeyID,
		&e.UserID,
		&e.Priority,
		&e.TargetURL,
		&params,
		&cost,
		&revenue,
		&e.Status,
		&e.ResponseTimeMs,
		&e.ErrorMessage,
		&e.CreatedAt,
		&e.StartedAt,
		&e.FinishedAt,
	); err != nil {
		return nil, err
	}
	if params != "" && params != "null" {
		if err := json.Unmarshal([]byte(params), &e.Parameters); err != nil {
			return nil, err
		}
	}
	var err error
	if e.Cost, err = decimal.NewFromString(cost); err != nil {
		return nil, err
	}
	if e.Revenue, err = decimal.NewFromString(revenue); err != nil {
		return nil, err
	}
	return &e, nil
}

// Get 查询指定执行。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	e, err := scanExecution(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrExecutionNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询执行记录失败")
	}
	return e, nil
}

// Claim 用单行条件更新把 pending 的执行迁移到 executing。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Execution, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		string(StatusExecuting), time.Now().Unix(), id, string(StatusPending))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "领取执行失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrExecutionFinished
	}
	return s.Get(ctx, id)
}

// MarkCompleted 把执行迁移到 completed。
func (s *MySQLStore) MarkCompleted(ctx context.Context, id string, responseTimeMs int64, revenue decimal.Decimal) error {
	const stmt = `UPDATE executions SET status = ?, response_time_ms = ?, revenue = ?, finished_at = ?
        WHERE id = ? AND status = ?`
	return s.finish(ctx, stmt,
		string(StatusCompleted), responseTimeMs, revenue.String(), time.Now().Unix(), id, string(StatusExecuting))
}

// MarkFailed 把执行迁移到 failed。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, responseTimeMs int64, errMsg string) error {
	const stmt = `UPDATE executions SET status = ?, response_time_ms = ?, error_message = ?, finished_at = ?
        WHERE id = ? AND status = ?`
	return s.finish(ctx, stmt,
		string(StatusFailed), responseTimeMs, errMsg, time.Now().Unix(), id, string(StatusExecuting))
}

func (s *MySQLStore) finish(ctx context.Context, stmt string, args ...any) error {
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新执行状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		id := args[len(args)-2].(string)
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return ErrExecutionFinished
	}
	return nil
}

// AppendStep 追加一条步骤日志。
func (s *MySQLStore) AppendStep(ctx context.Context, rec *StepRecord) error {
	if rec == nil || rec.ExecutionID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "步骤日志必须关联执行")
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().Unix()
	}
	const stmt = `INSERT INTO execution_steps (execution_id, step, status, details, duration_ms, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, stmt,
		rec.ExecutionID, rec.Step, rec.Status, rec.Details, rec.DurationMs, rec.CreatedAt)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入步骤日志失败")
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

// ListSteps 按插入顺序返回步骤日志。
func (s *MySQLStore) ListSteps(ctx context.Context, executionID string) ([]*StepRecord, error) {
	const stmt = `SELECT id, execution_id, step, status, details, duration_ms, created_at
        FROM execution_steps WHERE execution_id = ? ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, stmt, executionID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询步骤日志失败")
	}
	defer rows.Close()
	results := make([]*StepRecord, 0)
	for rows.Next() {
		var rec StepRecord
		if err := rows.Scan(&rec.ID, &rec.ExecutionID, &rec.Step, &rec.Status,
			&rec.Details, &rec.DurationMs, &rec.CreatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析步骤日志失败")
		}
		results = append(results, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历步骤日志失败")
	}
	return results, nil
}

// ListRecentIDsByAPIKey 返回 API Key 最近发起的执行 ID。
func (s *MySQLStore) ListRecentIDsByAPIKey(ctx context.Context, apiKeyID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM executions WHERE api_key_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		apiKeyID, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询最近执行失败")
	}
	defer rows.Close()
	results := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析执行 ID 失败")
		}
		results = append(results, id)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历执行 ID 失败")
	}
	return results, nil
}

// Close 由调用方负责关闭共享连接，这里无需操作。
func (s *MySQLStore) Close() error {
	return nil
}

var _ Store = (*MySQLStore)(nil)
