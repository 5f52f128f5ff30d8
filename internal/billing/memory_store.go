package billing

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	xerrors "AgentMarket/internal/errors"
)

// MemoryStore 以内存方式保存计费数据，主要用于测试。
type MemoryStore struct {
	mu       sync.RWMutex
	revenue  map[string]*RevenueRecord
	payments map[string]*PendingPayment
	order    []string
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		revenue:  make(map[string]*RevenueRecord),
		payments: make(map[string]*PendingPayment),
	}
}

// CreateRevenue 追加收入记录。
func (m *MemoryStore) CreateRevenue(_ context.Context, r *RevenueRecord) error {
	if r == nil || r.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "收入记录 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.revenue[r.ID]; ok {
		return xerrors.New(xerrors.CodeConflict, "收入记录已存在")
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = time.Now().Unix()
	}
	if r.Status == "" {
		r.Status = RevenuePending
	}
	m.revenue[r.ID] = cloneRevenue(r)
	m.order = append(m.order, r.ID)
	return nil
}

// GetRevenue 返回指定收入记录。
func (m *MemoryStore) GetRevenue(_ context.Context, id string) (*RevenueRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.revenue[id]
	if !ok {
		return nil, ErrRevenueNotFound
	}
	return cloneRevenue(r), nil
}

// MarkRevenueCollected 把收入记录迁移到 collected。
func (m *MemoryStore) MarkRevenueCollected(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.revenue[id]
	if !ok {
		return ErrRevenueNotFound
	}
	if r.Status != RevenuePending {
		return xerrors.New(xerrors.CodeConflict, "收入记录不处于 pending 状态")
	}
	r.Status = RevenueCollected
	return nil
}

// SummarizeDay 聚合指定日期的计费数据。
func (m *MemoryStore) SummarizeDay(_ context.Context, day string) (*Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	summary := &Summary{
		Day:          day,
		TotalRevenue: decimal.Zero,
		TotalFees:    decimal.Zero,
	}
	for _, id := range m.order {
		r := m.revenue[id]
		if time.Unix(r.CreatedAt, 0).UTC().Format("2006-01-02") != day {
			continue
		}
		summary.ExecutionCount++
		summary.TotalRevenue = summary.TotalRevenue.Add(r.Amount)
		summary.TotalFees = summary.TotalFees.Add(r.PlatformFee)
	}
	for _, p := range m.payments {
		if p.Status == PaymentPending &&
			time.Unix(p.CreatedAt, 0).UTC().Format("2006-01-02") == day {
			summary.PendingPayments++
		}
	}
	return summary, nil
}

// CreatePayment 追加待确认支付。
func (m *MemoryStore) CreatePayment(_ context.Context, p *PendingPayment) error {
	if p == nil || p.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "支付 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.ID]; ok {
		return xerrors.New(xerrors.CodeConflict, "支付已存在")
	}
	now := time.Now().Unix()
	if p.CreatedAt == 0 {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = PaymentPending
	}
	m.payments[p.ID] = clonePayment(p)
	return nil
}

// GetPayment 返回指定支付。
func (m *MemoryStore) GetPayment(_ context.Context, id string) (*PendingPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return clonePayment(p), nil
}

// ListDuePayments 返回已到期的 pending 支付。
func (m *MemoryStore) ListDuePayments(_ context.Context, now int64, limit int) ([]*PendingPayment, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]*PendingPayment, 0)
	for _, p := range m.payments {
		if p.Status != PaymentPending || p.NextRetryAt > now {
			continue
		}
		results = append(results, clonePayment(p))
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// UpdatePayment 覆盖支付状态。
func (m *MemoryStore) UpdatePayment(_ context.Context, p *PendingPayment) error {
	if p == nil || p.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "支付 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.ID]; !ok {
		return ErrPaymentNotFound
	}
	p.UpdatedAt = time.Now().Unix()
	m.payments[p.ID] = clonePayment(p)
	return nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
