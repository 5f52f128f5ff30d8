package sched

import (
	"context"
	"sync"
	"time"

	xerrors "AgentMarket/internal/errors"
)

// MemoryStore 以内存方式保存任务，主要用于测试。
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	order []string
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, t *Task) error {
	if err := validateTask(t); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; ok {
		return xerrors.New(xerrors.CodeConflict, "任务已存在")
	}
	now := time.Now().Unix()
	if t.CreatedAt == 0 {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	m.tasks[t.ID] = cloneTask(t)
	m.order = append(m.order, t.ID)
	return nil
}

// Get 返回指定任务。
func (m *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return cloneTask(t), nil
}

// List 按创建顺序返回任务。
func (m *MemoryStore) List(_ context.Context, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]*Task, 0, limit)
	for _, id := range m.order {
		results = append(results, cloneTask(m.tasks[id]))
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// UpdateStatus 迁移任务状态。
func (m *MemoryStore) UpdateStatus(_ context.Context, id string, status TaskStatus) error {
	if !IsValidTaskStatus(status) {
		return xerrors.New(xerrors.CodeInvalidArgument, "不支持的任务状态")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if !CanTransition(t.Status, status) {
		return xerrors.New(CodeTaskInvalidTransition, "非法的任务状态迁移",
			xerrors.WithMetadata("from", string(t.Status)),
			xerrors.WithMetadata("to", string(status)))
	}
	t.Status = status
	t.UpdatedAt = time.Now().Unix()
	return nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
