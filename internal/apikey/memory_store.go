package apikey

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	xerrors "AgentMarket/internal/errors"
)

// MemoryStore 以内存方式保存密钥与计量数据，主要用于测试。
type MemoryStore struct {
	mu       sync.Mutex
	keys     map[string]*Key
	bySecret map[string]string
	usage    map[string][]*UsageRecord
	nextID   int64
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:     make(map[string]*Key),
		bySecret: make(map[string]string),
		usage:    make(map[string][]*UsageRecord),
	}
}

// Create 注册新密钥。
func (m *MemoryStore) Create(_ context.Context, k *Key) error {
	if k == nil || strings.TrimSpace(k.ID) == "" || strings.TrimSpace(k.Secret) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "密钥 ID 与 secret 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[k.ID]; ok {
		return xerrors.New(xerrors.CodeConflict, "密钥已存在")
	}
	if _, ok := m.bySecret[k.Secret]; ok {
		return xerrors.New(xerrors.CodeConflict, "密钥 secret 已被占用")
	}
	now := time.Now().Unix()
	if k.CreatedAt == 0 {
		k.CreatedAt = now
	}
	k.UpdatedAt = now
	m.keys[k.ID] = cloneKey(k)
	m.bySecret[k.Secret] = k.ID
	return nil
}

// Get 返回指定密钥。
func (m *MemoryStore) Get(_ context.Context, id string) (*Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return nil, ErrKeyInvalid
	}
	return cloneKey(k), nil
}

// GetBySecret 按明文查找密钥。
func (m *MemoryStore) GetBySecret(_ context.Context, secret string) (*Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.bySecret[secret]
	if !ok {
		return nil, ErrKeyInvalid
	}
	return cloneKey(m.keys[id]), nil
}

// CountUsageSince 统计窗口起点不早于 since 的计量行数。
func (m *MemoryStore) CountUsageSince(_ context.Context, keyID string, since int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, rec := range m.usage[keyID] {
		if rec.WindowStart >= since {
			count++
		}
	}
	return count, nil
}

// RecordUsage 追加计量行。
func (m *MemoryStore) RecordUsage(_ context.Context, rec *UsageRecord) error {
	if rec == nil || rec.KeyID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "计量行必须关联密钥")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	clone := *rec
	clone.ID = m.nextID
	if clone.CreatedAt == 0 {
		clone.CreatedAt = time.Now().Unix()
	}
	m.usage[rec.KeyID] = append(m.usage[rec.KeyID], &clone)
	return nil
}

// ReserveBudget 原子预留当日预算。
func (m *MemoryStore) ReserveBudget(_ context.Context, keyID string, amount decimal.Decimal, day string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return xerrors.New(xerrors.CodeInvalidArgument, "预留金额必须为正数")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[keyID]
	if !ok {
		return ErrKeyInvalid
	}
	if k.SpendDay != day {
		k.SpendDay = day
		k.SpentToday = decimal.Zero
	}
	next := k.SpentToday.Add(amount)
	if next.GreaterThan(k.DailyBudget) {
		return ErrBudgetExhausted
	}
	k.SpentToday = next
	k.UpdatedAt = time.Now().Unix()
	return nil
}

// ReleaseBudget 回滚一次预留。
func (m *MemoryStore) ReleaseBudget(_ context.Context, keyID string, amount decimal.Decimal, day string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[keyID]
	if !ok {
		return ErrKeyInvalid
	}
	if k.SpendDay != day {
		return nil
	}
	k.SpentToday = k.SpentToday.Sub(amount)
	if k.SpentToday.IsNegative() {
		k.SpentToday = decimal.Zero
	}
	k.UpdatedAt = time.Now().Unix()
	return nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
