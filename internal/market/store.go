package market

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	xerrors "AgentMarket/internal/errors"
)

// Store 抽象市场机会的持久化接口。
type Store interface {
	Create(ctx context.Context, opp *Opportunity) error
	// ListTop 返回最近一次扫描中按潜在收入排序的前 limit 条机会。
	ListTop(ctx context.Context, limit int) ([]*Opportunity, error)
	Close() error
}

// MemoryStore 以内存方式保存市场机会，主要用于测试。
type MemoryStore struct {
	mu   sync.RWMutex
	rows []*Opportunity
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, opp *Opportunity) error {
	if opp == nil || opp.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "市场机会 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if opp.CreatedAt == 0 {
		opp.CreatedAt = time.Now().Unix()
	}
	clone := *opp
	m.rows = append(m.rows, &clone)
	return nil
}

// ListTop 返回最近一次扫描的机会，按潜在收入降序。
func (m *MemoryStore) ListTop(_ context.Context, limit int) ([]*Opportunity, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.rows) == 0 {
		return nil, nil
	}
	latestScan := m.rows[len(m.rows)-1].ScanID
	results := make([]*Opportunity, 0, limit)
	for _, row := range m.rows {
		if row.ScanID != latestScan {
			continue
		}
		clone := *row
		results = append(results, &clone)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].PotentialRevenue.GreaterThan(results[j].PotentialRevenue)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)

// MySQLStore 使用 MySQL 记录市场机会。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 基于现有连接创建 MySQLStore 并初始化表结构。
func NewMySQLStore(db *sql.DB) (*MySQLStore, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "数据库连接不能为空")
	}
	const schema = `CREATE TABLE IF NOT EXISTS market_opportunities (
        id VARCHAR(64) PRIMARY KEY,
        product_id VARCHAR(64) NOT NULL,
        product_name VARCHAR(255) NOT NULL DEFAULT '',
        demand_score DOUBLE NOT NULL,
        competition_score DOUBLE NOT NULL,
        complexity_score DOUBLE NOT NULL,
        potential_revenue DECIMAL(20,8) NOT NULL DEFAULT 0,
        window_start BIGINT NOT NULL,
        window_end BIGINT NOT NULL,
        scan_id VARCHAR(64) NOT NULL,
        created_at BIGINT NOT NULL,
        INDEX idx_market_scan (scan_id),
        INDEX idx_market_created (created_at)
)`
	if _, err := db.Exec(schema); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 market_opportunities 表失败")
	}
	return &MySQLStore{db: db}, nil
}

// Create 插入市场机会记录。
func (s *MySQLStore) Create(ctx context.Context, opp *Opportunity) error {
	if opp == nil || strings.TrimSpace(opp.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "市场机会 ID 不能为空")
	}
	if opp.CreatedAt == 0 {
		opp.CreatedAt = time.Now().Unix()
	}
	const stmt = `INSERT INTO market_opportunities
        (id, product_id, product_name, demand_score, competition_score, complexity_score, potential_revenue, window_start, window_end, scan_id, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt,
		opp.ID,
		opp.ProductID,
		opp.ProductName,
		opp.DemandScore,
		opp.CompetitionScore,
		opp.ComplexityScore,
		opp.PotentialRevenue.String(),
		opp.WindowStart,
		opp.WindowEnd,
		opp.ScanID,
		opp.CreatedAt,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入市场机会失败")
	}
	return nil
}

// ListTop 返回最近一次扫描的机会，按潜在收入降序。
func (s *MySQLStore) ListTop(ctx context.Context, limit int) ([]*Opportunity, error) {
	if limit <= 0 {
		limit = 10
	}
	const stmt = `SELECT id, product_id, product_name, demand_score, competition_score, complexity_score,
        potential_revenue, window_start, window_end, scan_id, created_at
        FROM market_opportunities
        WHERE scan_id = (SELECT scan_id FROM market_opportunities ORDER BY created_at DESC LIMIT 1)
        ORDER BY potential_revenue DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, stmt, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询市场机会失败")
	}
	defer rows.Close()
	results := make([]*Opportunity, 0, limit)
	for rows.Next() {
		var opp Opportunity
		var revenue string
		if err := rows.Scan(
			&opp.ID,
			&opp.ProductID,
			&opp.ProductName,
			&opp.DemandScore,
			&opp.CompetitionScore,
			&opp.ComplexityScore,
			&revenue,
			&opp.WindowStart,
			&opp.WindowEnd,
			&opp.ScanID,
			&opp.CreatedAt,
		); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析市场机会失败")
		}
		if opp.PotentialRevenue, err = decimal.NewFromString(revenue); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析潜在收入失败")
		}
		results = append(results, &opp)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历市场机会失败")
	}
	return results, nil
}

// Close 由调用方负责关闭共享连接，这里无需操作。
func (s *MySQLStore) Close() error {
	return nil
}

var _ Store = (*MySQLStore)(nil)
