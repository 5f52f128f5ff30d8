package wallet

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	xerrors "AgentMarket/internal/errors"
)

// MemoryStore 以内存方式保存钱包与流水，主要用于测试。
type MemoryStore struct {
	mu      sync.Mutex
	wallets map[string]*Wallet
	txs     map[string][]*CreditTransaction
	nextID  int64
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[string]*Wallet),
		txs:     make(map[string][]*CreditTransaction),
	}
}

// GetOrCreate 返回用户钱包，不存在时以默认赠送积分创建。
func (m *MemoryStore) GetOrCreate(_ context.Context, userID string) (*Wallet, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "用户 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.getOrCreateLocked(userID)
	if err != nil {
		return nil, err
	}
	return cloneWallet(w), nil
}

func (m *MemoryStore) getOrCreateLocked(userID string) (*Wallet, error) {
	if w, ok := m.wallets[userID]; ok {
		return w, nil
	}
	now := time.Now().Unix()
	w := &Wallet{
		UserID:    userID,
		Balance:   DefaultFreeCredits,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.wallets[userID] = w
	m.appendLocked(&CreditTransaction{
		UserID:        userID,
		Type:          TxCredit,
		Amount:        DefaultFreeCredits,
		Source:        "signup_bonus",
		BalanceBefore: decimal.Zero,
		BalanceAfter:  DefaultFreeCredits,
	})
	return w, nil
}

func (m *MemoryStore) appendLocked(tx *CreditTransaction) *CreditTransaction {
	m.nextID++
	tx.ID = m.nextID
	if tx.CreatedAt == 0 {
		tx.CreatedAt = time.Now().Unix()
	}
	clone := *tx
	m.txs[tx.UserID] = append(m.txs[tx.UserID], &clone)
	return tx
}

// Debit 条件扣费，余额不足时拒绝且不写流水。
func (m *MemoryStore) Debit(_ context.Context, userID string, amount decimal.Decimal, source string) (*CreditTransaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "扣费金额必须为正数")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.getOrCreateLocked(userID)
	if err != nil {
		return nil, err
	}
	if w.Balance.LessThan(amount) {
		return nil, ErrInsufficientCredits
	}
	before := w.Balance
	w.Balance = before.Sub(amount)
	w.UpdatedAt = time.Now().Unix()
	tx := m.appendLocked(&CreditTransaction{
		UserID:        userID,
		Type:          TxDebit,
		Amount:        amount,
		Source:        source,
		BalanceBefore: before,
		BalanceAfter:  w.Balance,
	})
	return tx, nil
}

// Credit 充值并追加流水。
func (m *MemoryStore) Credit(_ context.Context, userID string, amount decimal.Decimal, source string) (*CreditTransaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "充值金额必须为正数")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.getOrCreateLocked(userID)
	if err != nil {
		return nil, err
	}
	before := w.Balance
	w.Balance = before.Add(amount)
	w.UpdatedAt = time.Now().Unix()
	tx := m.appendLocked(&CreditTransaction{
		UserID:        userID,
		Type:          TxCredit,
		Amount:        amount,
		Source:        source,
		BalanceBefore: before,
		BalanceAfter:  w.Balance,
	})
	return tx, nil
}

// ListTransactions 按追加顺序返回流水。
func (m *MemoryStore) ListTransactions(_ context.Context, userID string, limit int) ([]*CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	records := m.txs[userID]
	results := make([]*CreditTransaction, 0, len(records))
	for _, tx := range records {
		clone := *tx
		results = append(results, &clone)
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
