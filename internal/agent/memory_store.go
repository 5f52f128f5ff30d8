package agent

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "AgentMarket/internal/errors"
)

// MemoryStore 以内存方式保存工作者注册表，主要用于测试。
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	order  []string
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{agents: make(map[string]*Agent)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, a *Agent) error {
	if a == nil || a.ID == "" {
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
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[a.ID]; ok {
		return xerrors.New(xerrors.CodeConflict, "工作者已存在")
	}
	now := time.Now().Unix()
	if a.CreatedAt == 0 {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	if a.Status == "" {
		a.Status = StatusIdle
	}
	m.agents[a.ID] = cloneAgent(a)
	m.order = append(m.order, a.ID)
	return nil
}

// Get 返回指定工作者。
func (m *MemoryStore) Get(_ context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return cloneAgent(a), nil
}

// List 按创建顺序返回工作者。
func (m *MemoryStore) List(_ context.Context, limit int) ([]*Agent, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]*Agent, 0, limit)
	for _, id := range m.order {
		results = append(results, cloneAgent(m.agents[id]))
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// ListIdleByType 返回指定类型的空闲工作者，表现分降序，同分按创建顺序。
func (m *MemoryStore) ListIdleByType(_ context.Context, t Type) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]*Agent, 0)
	for _, id := range m.order {
		a := m.agents[id]
		if a.Type != t || a.Status != StatusIdle {
			continue
		}
		results = append(results, cloneAgent(a))
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].PerformanceScore > results[j].PerformanceScore
	})
	return results, nil
}

// Assign 将空闲工作者绑定到任务。
func (m *MemoryStore) Assign(_ context.Context, id, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	if a.Status != StatusIdle {
		return ErrAgentBusy
	}
	a.Status = StatusActive
	a.CurrentTaskID = taskID
	a.UpdatedAt = time.Now().Unix()
	return nil
}

// RecordResult 记录执行结果并返回更新后的工作者。
func (m *MemoryStore) RecordResult(_ context.Context, id string, success bool) (*Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	applyResult(a, success)
	a.UpdatedAt = time.Now().Unix()
	return cloneAgent(a), nil
}

// SetStatus 直接设置工作者状态，供运维操作使用。
func (m *MemoryStore) SetStatus(_ context.Context, id string, status Status) error {
	if !IsValidStatus(status) {
		return xerrors.New(xerrors.CodeInvalidArgument, "不支持的工作者状态")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	a.Status = status
	a.UpdatedAt = time.Now().Unix()
	return nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
