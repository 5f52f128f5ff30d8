package exec

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	xerrors "AgentMarket/internal/errors"
)

// MemoryStore 以内存方式保存执行记录，主要用于测试。
type MemoryStore struct {
	mu         sync.RWMutex
	executions map[string]*Execution
	steps      map[string][]*StepRecord
	byKey      map[string][]string
	nextStepID int64
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions: make(map[string]*Execution),
		steps:      make(map[string][]*StepRecord),
		byKey:      make(map[string][]string),
	}
}

// Create 实现 Store 接口，新执行始终处于 pending。
func (m *MemoryStore) Create(_ context.Context, e *Execution) error {
	if err := validateExecution(e); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.executions[e.ID]; ok {
		return xerrors.New(xerrors.CodeConflict, "执行记录已存在")
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().Unix()
	}
	e.Status = StatusPending
	m.executions[e.ID] = cloneExecution(e)
	if e.APIKeyID != "" {
		m.byKey[e.APIKeyID] = append(m.byKey[e.APIKeyID], e.ID)
	}
	return nil
}

// Get 返回指定执行。
func (m *MemoryStore) Get(_ context.Context, id string) (*Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.executions[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return cloneExecution(e), nil
}

// Claim 把 pending 的执行迁移到 executing。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	if IsTerminal(e.Status) {
		return nil, ErrExecutionFinished
	}
	if e.Status == StatusExecuting {
		return nil, ErrExecutionFinished
	}
	e.Status = StatusExecuting
	e.StartedAt = time.Now().Unix()
	return cloneExecution(e), nil
}

// MarkCompleted 把执行迁移到 completed。
func (m *MemoryStore) MarkCompleted(_ context.Context, id string, responseTimeMs int64, revenue decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok {
		return ErrExecutionNotFound
	}
	if e.Status != StatusExecuting {
		return ErrExecutionFinished
	}
	e.Status = StatusCompleted
	e.ResponseTimeMs = responseTimeMs
	e.Revenue = revenue
	e.FinishedAt = time.Now().Unix()
	return nil
}

// MarkFailed 把执行迁移到 failed 并记录错误信息。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, responseTimeMs int64, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok {
		return ErrExecutionNotFound
	}
	if e.Status != StatusExecuting {
		return ErrExecutionFinished
	}
	e.Status = StatusFailed
	e.ResponseTimeMs = responseTimeMs
	e.ErrorMessage = errMsg
	e.FinishedAt = time.Now().Unix()
	return nil
}

// AppendStep 追加步骤日志。
func (m *MemoryStore) AppendStep(_ context.Context, rec *StepRecord) error {
	if rec == nil || rec.ExecutionID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "步骤日志必须关联执行")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextStepID++
	clone := *rec
	clone.ID = m.nextStepID
	if clone.CreatedAt == 0 {
		clone.CreatedAt = time.Now().Unix()
	}
	m.steps[rec.ExecutionID] = append(m.steps[rec.ExecutionID], &clone)
	return nil
}

// ListSteps 按追加顺序返回步骤日志。
func (m *MemoryStore) ListSteps(_ context.Context, executionID string) ([]*StepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := m.steps[executionID]
	results := make([]*StepRecord, 0, len(records))
	for _, rec := range records {
		clone := *rec
		results = append(results, &clone)
	}
	return results, nil
}

// ListRecentIDsByAPIKey 返回 API Key 最近发起的执行 ID。
func (m *MemoryStore) ListRecentIDsByAPIKey(_ context.Context, apiKeyID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byKey[apiKeyID]
	results := make([]string, 0, limit)
	for i := len(ids) - 1; i >= 0 && len(results) < limit; i-- {
		results = append(results, ids[i])
	}
	return results, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
