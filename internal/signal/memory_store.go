package signal

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "AgentMarket/internal/errors"
)

// MemoryStore 以内存方式保存流水线实体，主要用于测试。
type MemoryStore struct {
	mu            sync.RWMutex
	signals       map[string]*Signal
	signalOrder   []string
	intents       map[string]*ClassifiedIntent
	predictions   map[string]*TrendPrediction
	opportunities map[string]*Opportunity
	// bySignal 保证同一信号至多对应一个机会。
	bySignal map[string]string
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		signals:       make(map[string]*Signal),
		intents:       make(map[string]*ClassifiedIntent),
		predictions:   make(map[string]*TrendPrediction),
		opportunities: make(map[string]*Opportunity),
		bySignal:      make(map[string]string),
	}
}

// CreateSignal 实现 Store 接口。
func (m *MemoryStore) CreateSignal(_ context.Context, sig *Signal) error {
	if sig == nil || sig.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "信号 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.signals[sig.ID]; ok {
		return xerrors.New(xerrors.CodeConflict, "信号已存在")
	}
	if sig.CreatedAt == 0 {
		sig.CreatedAt = time.Now().Unix()
	}
	m.signals[sig.ID] = cloneSignal(sig)
	m.signalOrder = append(m.signalOrder, sig.ID)
	return nil
}

// GetSignal 返回指定信号。
func (m *MemoryStore) GetSignal(_ context.Context, id string) (*Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sig, ok := m.signals[id]
	if !ok {
		return nil, ErrSignalNotFound
	}
	return cloneSignal(sig), nil
}

// ListUnprocessedSignals 按创建顺序返回尚未被流水线消费的信号。
func (m *MemoryStore) ListUnprocessedSignals(_ context.Context, limit int) ([]*Signal, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]*Signal, 0, limit)
	for _, id := range m.signalOrder {
		sig := m.signals[id]
		if sig.Processed {
			continue
		}
		results = append(results, cloneSignal(sig))
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// MarkSignalProcessed 标记信号已被消费。
func (m *MemoryStore) MarkSignalProcessed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sig, ok := m.signals[id]
	if !ok {
		return ErrSignalNotFound
	}
	sig.Processed = true
	return nil
}

// CreateIntent 记录分类结果。
func (m *MemoryStore) CreateIntent(_ context.Context, intent *ClassifiedIntent) error {
	if intent == nil || intent.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "意图 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if intent.CreatedAt == 0 {
		intent.CreatedAt = time.Now().Unix()
	}
	clone := *intent
	clone.MatchedKeywords = append([]string(nil), intent.MatchedKeywords...)
	m.intents[intent.ID] = &clone
	return nil
}

// CreatePrediction 记录趋势预测。
func (m *MemoryStore) CreatePrediction(_ context.Context, prediction *TrendPrediction) error {
	if prediction == nil || prediction.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "预测 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prediction.CreatedAt == 0 {
		prediction.CreatedAt = time.Now().Unix()
	}
	clone := *prediction
	m.predictions[prediction.ID] = &clone
	return nil
}

// CreateOpportunity 为信号创建机会，同一信号重复创建返回 ErrOpportunityExists。
func (m *MemoryStore) CreateOpportunity(_ context.Context, opp *Opportunity) error {
	if opp == nil || opp.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "机会 ID 不能为空")
	}
	if opp.SignalID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "机会必须关联信号")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bySignal[opp.SignalID]; ok {
		return ErrOpportunityExists
	}
	now := time.Now().Unix()
	if opp.CreatedAt == 0 {
		opp.CreatedAt = now
	}
	opp.UpdatedAt = now
	m.opportunities[opp.ID] = cloneOpportunity(opp)
	m.bySignal[opp.SignalID] = opp.ID
	return nil
}

// GetOpportunity 返回指定机会。
func (m *MemoryStore) GetOpportunity(_ context.Context, id string) (*Opportunity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	opp, ok := m.opportunities[id]
	if !ok {
		return nil, ErrOpportunityNotFound
	}
	return cloneOpportunity(opp), nil
}

// GetOpportunityBySignal 按信号查找机会。
func (m *MemoryStore) GetOpportunityBySignal(_ context.Context, signalID string) (*Opportunity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.bySignal[signalID]
	if !ok {
		return nil, ErrOpportunityNotFound
	}
	return cloneOpportunity(m.opportunities[id]), nil
}

// ListOpportunities 返回最近创建的机会。
func (m *MemoryStore) ListOpportunities(_ context.Context, limit int) ([]*Opportunity, error) {
	if limit <= 0 {
		limit = 20
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]*Opportunity, 0, len(m.opportunities))
	for _, opp := range m.opportunities {
		results = append(results, cloneOpportunity(opp))
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt == results[j].CreatedAt {
			return results[i].ID < results[j].ID
		}
		return results[i].CreatedAt > results[j].CreatedAt
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// UpdateOpportunityStatus 更新机会状态。
func (m *MemoryStore) UpdateOpportunityStatus(_ context.Context, id string, status OpportunityStatus) error {
	if !IsValidOpportunityStatus(status) {
		return xerrors.New(xerrors.CodeInvalidArgument, "不支持的机会状态")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	opp, ok := m.opportunities[id]
	if !ok {
		return ErrOpportunityNotFound
	}
	opp.Status = status
	opp.UpdatedAt = time.Now().Unix()
	return nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
