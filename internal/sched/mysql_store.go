package sched

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	xerrors "AgentMarket/internal/errors"
)

// MySQLStore 使用 MySQL 持久化任务。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 基于现有连接创建 MySQLStore 并初始化表结构。
func NewMySQLStore(db *sql.DB) (*MySQLStore, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "数据库连接不能为空")
	}
	const schema = `CREATE TABLE IF NOT EXISTS tasks (
        id VARCHAR(64) PRIMARY KEY,
        type VARCHAR(32) NOT NULL,
        priority INT NOT NULL,
        target_kind VARCHAR(32) NOT NULL,
        target_id VARCHAR(64) NOT NULL,
        allocated_budget DECIMAL(20,8) NOT NULL DEFAULT 0,
        expected_revenue DECIMAL(20,8) NOT NULL DEFAULT 0,
        deadline BIGINT NOT NULL DEFAULT 0,
        agent_id VARCHAR(64) NOT NULL DEFAULT '',
        status VARCHAR(32) NOT NULL,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_task_status (status),
        INDEX idx_task_agent (agent_id)
)`
	if _, err := db.Exec(schema); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 tasks 表失败")
	}
	return &MySQLStore{db: db}, nil
}

// Create 插入新任务。
func (s *MySQLStore) Create(ctx context.Context, t *Task) error {
	if err := validateTask(t); err != nil {
		return err
	}
	now := time.Now().Unix()
	if t.CreatedAt == 0 {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	const stmt = `INSERT INTO tasks
        (id, type, priority, target_kind, target_id, allocated_budget, expected_revenue,
         deadline, agent_id, status, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt,
		t.ID,
		string(t.Type),
		t.Priority,
		string(t.TargetKind),
		t.TargetID,
		t.AllocatedBudget.String(),
		t.ExpectedRevenue.String(),
		t.Deadline,
		t.AgentID,
		string(t.Status),
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return xerrors.New(xerrors.CodeConflict, "任务已存在")
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入任务失败")
	}
	return nil
}

const taskColumns = `id, type, priority, target_kind, target_id, allocated_budget,
        expected_revenue, deadline, agent_id, status, created_at, updated_at`

func scanTask(scanner interface{ Scan(...any) error }) (*Task, error) {
	var t Task
	var budget, revenue string
	if err := scanner.Scan(
		&t.ID,
		&t.Type,
		&t.Priority,
		&t.TargetKind,
		&t.TargetID,
		&budget,
		&revenue,
		&t.Deadline,
		&t.AgentID,
		&t.Status,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if t.AllocatedBudget, err = decimal.NewFromString(budget); err != nil {
		return nil, err
	}
	if t.ExpectedRevenue, err = decimal.NewFromString(revenue); err != nil {
		return nil, err
	}
	return &t, nil
}

// Get 查询指定任务。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}
	return t, nil
}

// List 按创建顺序返回任务。
func (s *MySQLStore) List(ctx context.Context, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks ORDER BY created_at ASC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	defer rows.Close()
	results := make([]*Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务记录失败")
		}
		results = append(results, t)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务失败")
	}
	return results, nil
}

// UpdateStatus 在事务内校验并迁移任务状态。
func (s *MySQLStore) UpdateStatus(ctx context.Context, id string, status TaskStatus) error {
	if !IsValidTaskStatus(status) {
		return xerrors.New(xerrors.CodeInvalidArgument, "不支持的任务状态")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	defer tx.Rollback()

	var current TaskStatus
	row := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ? FOR UPDATE`, id)
	if err := row.Scan(&current); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return ErrTaskNotFound
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务状态失败")
	}
	if !CanTransition(current, status) {
		return xerrors.New(CodeTaskInvalidTransition, "非法的任务状态迁移",
			xerrors.WithMetadata("from", string(current)),
			xerrors.WithMetadata("to", string(status)))
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().Unix(), id); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务状态失败")
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return nil
}

// Close 由调用方负责关闭共享连接，这里无需操作。
func (s *MySQLStore) Close() error {
	return nil
}

var _ Store = (*MySQLStore)(nil)
