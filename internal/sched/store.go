package sched

import "context"

// Store 抽象任务的持久化接口。
type Store interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, limit int) ([]*Task, error)
	// UpdateStatus 按 CanTransition 规则迁移任务状态，非法迁移返回
	// CodeTaskInvalidTransition 错误。
	UpdateStatus(ctx context.Context, id string, status TaskStatus) error
	Close() error
}
