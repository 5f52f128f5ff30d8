package signal

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	xerrors "AgentMarket/internal/errors"
)

// MySQLStore 使用 MySQL 记录信号评分流水线的各实体。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 基于现有连接创建 MySQLStore 并初始化表结构。
func NewMySQLStore(db *sql.DB) (*MySQLStore, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "数据库连接不能为空")
	}
	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS signals (
        id VARCHAR(64) PRIMARY KEY,
        source VARCHAR(64) NOT NULL DEFAULT '',
        keyword VARCHAR(255) NOT NULL,
        text_body TEXT,
        volume INT NOT NULL DEFAULT 0,
        velocity DOUBLE NOT NULL DEFAULT 0,
        processed TINYINT(1) NOT NULL DEFAULT 0,
        created_at BIGINT NOT NULL,
        INDEX idx_signal_processed (processed, created_at)
)`,
		`CREATE TABLE IF NOT EXISTS classified_intents (
        id VARCHAR(64) PRIMARY KEY,
        signal_id VARCHAR(64) NOT NULL,
        level VARCHAR(32) NOT NULL,
        confidence DOUBLE NOT NULL,
        matched_keywords TEXT,
        reasoning TEXT,
        created_at BIGINT NOT NULL,
        INDEX idx_intent_signal (signal_id)
)`,
		`CREATE TABLE IF NOT EXISTS trend_predictions (
        id VARCHAR(64) PRIMARY KEY,
        intent_id VARCHAR(64) NOT NULL,
        signal_id VARCHAR(64) NOT NULL,
        trend_score DOUBLE NOT NULL,
        momentum DOUBLE NOT NULL,
        growth_rate DOUBLE NOT NULL,
        created_at BIGINT NOT NULL,
        INDEX idx_prediction_intent (intent_id)
)`,
		`CREATE TABLE IF NOT EXISTS opportunities (
        id VARCHAR(64) PRIMARY KEY,
        signal_id VARCHAR(64) NOT NULL,
        intent_id VARCHAR(64) NOT NULL DEFAULT '',
        prediction_id VARCHAR(64) NOT NULL DEFAULT '',
        demand_score DOUBLE NOT NULL,
        temperature VARCHAR(16) NOT NULL,
        service_type VARCHAR(64) NOT NULL DEFAULT '',
        suggested_price DECIMAL(20,8) NOT NULL DEFAULT 0,
        delivery_days INT NOT NULL DEFAULT 0,
        potential_revenue DECIMAL(20,8) NOT NULL DEFAULT 0,
        status VARCHAR(32) NOT NULL,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        UNIQUE KEY uq_opportunity_signal (signal_id),
        INDEX idx_opportunity_status (status),
        INDEX idx_opportunity_created (created_at)
)`,
	}
	for _, schema := range schemas {
		if _, err := s.db.Exec(schema); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化信号流水线表失败")
		}
	}
	return nil
}

// CreateSignal 插入新的信号记录。
func (s *MySQLStore) CreateSignal(ctx context.Context, sig *Signal) error {
	if sig == nil || strings.TrimSpace(sig.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "信号 ID 不能为空")
	}
	if sig.CreatedAt == 0 {
		sig.CreatedAt = time.Now().Unix()
	}
	const stmt = `INSERT INTO signals (id, source, keyword, text_body, volume, velocity, processed, created_at)
        VALUES (?, ?, ?, ?, ?, ?, 0, ?)`
	_, err := s.db.ExecContext(ctx, stmt, sig.ID, sig.Source, sig.Keyword, sig.Text, sig.Volume, sig.Velocity, sig.CreatedAt)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return xerrors.New(xerrors.CodeConflict, "信号已存在")
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入信号失败")
	}
	return nil
}

// GetSignal 查询指定信号。
func (s *MySQLStore) GetSignal(ctx context.Context, id string) (*Signal, error) {
	const stmt = `SELECT id, source, keyword, text_body, volume, velocity, processed, created_at FROM signals WHERE id = ?`
	row := s.db.QueryRowContext(ctx, stmt, id)
	var sig Signal
	if err := row.Scan(&sig.ID, &sig.Source, &sig.Keyword, &sig.Text, &sig.Volume, &sig.Velocity, &sig.Processed, &sig.CreatedAt); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrSignalNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询信号失败")
	}
	return &sig, nil
}

// ListUnprocessedSignals 按创建顺序返回未处理的信号。
func (s *MySQLStore) ListUnprocessedSignals(ctx context.Context, limit int) ([]*Signal, error) {
	if limit <= 0 {
		limit = 50
	}
	const stmt = `SELECT id, source, keyword, text_body, volume, velocity, processed, created_at
        FROM signals WHERE processed = 0 ORDER BY created_at ASC, id ASC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, stmt, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询未处理信号失败")
	}
	defer rows.Close()
	results := make([]*Signal, 0, limit)
	for rows.Next() {
		var sig Signal
		if err := rows.Scan(&sig.ID, &sig.Source, &sig.Keyword, &sig.Text, &sig.Volume, &sig.Velocity, &sig.Processed, &sig.CreatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析信号记录失败")
		}
		results = append(results, &sig)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历信号失败")
	}
	return results, nil
}

// MarkSignalProcessed 标记信号已被消费。
func (s *MySQLStore) MarkSignalProcessed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE signals SET processed = 1 WHERE id = ?`, id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记信号已处理失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrSignalNotFound
	}
	return nil
}

// CreateIntent 记录分类结果。
func (s *MySQLStore) CreateIntent(ctx context.Context, intent *ClassifiedIntent) error {
	if intent == nil || strings.TrimSpace(intent.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "意图 ID 不能为空")
	}
	if intent.CreatedAt == 0 {
		intent.CreatedAt = time.Now().Unix()
	}
	const stmt = `INSERT INTO classified_intents (id, signal_id, level, confidence, matched_keywords, reasoning, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt,
		intent.ID,
		intent.SignalID,
		string(intent.Level),
		intent.Confidence,
		strings.Join(intent.MatchedKeywords, ","),
		intent.Reasoning,
		intent.CreatedAt,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入意图分类失败")
	}
	return nil
}

// CreatePrediction 记录趋势预测。
func (s *MySQLStore) CreatePrediction(ctx context.Context, prediction *TrendPrediction) error {
	if prediction == nil || strings.TrimSpace(prediction.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "预测 ID 不能为空")
	}
	if prediction.CreatedAt == 0 {
		prediction.CreatedAt = time.Now().Unix()
	}
	const stmt = `INSERT INTO trend_predictions (id, intent_id, signal_id, trend_score, momentum, growth_rate, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt,
		prediction.ID,
		prediction.IntentID,
		prediction.SignalID,
		prediction.TrendScore,
		prediction.Momentum,
		prediction.GrowthRate,
		prediction.CreatedAt,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入趋势预测失败")
	}
	return nil
}

// CreateOpportunity 插入机会。signal_id 上的唯一约束保证同一信号不会重复生成机会。
func (s *MySQLStore) CreateOpportunity(ctx context.Context, opp *Opportunity) error {
	if opp == nil || strings.TrimSpace(opp.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "机会 ID 不能为空")
	}
	if strings.TrimSpace(opp.SignalID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "机会必须关联信号")
	}
	now := time.Now().Unix()
	if opp.CreatedAt == 0 {
		opp.CreatedAt = now
	}
	opp.UpdatedAt = now
	const stmt = `INSERT INTO opportunities
        (id, signal_id, intent_id, prediction_id, demand_score, temperature, service_type, suggested_price, delivery_days, potential_revenue, status, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt,
		opp.ID,
		opp.SignalID,
		opp.IntentID,
		opp.PredictionID,
		opp.DemandScore,
		string(opp.Temperature),
		opp.ServiceType,
		opp.SuggestedPrice.String(),
		opp.DeliveryDays,
		opp.PotentialRevenue.String(),
		string(opp.Status),
		opp.CreatedAt,
		opp.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrOpportunityExists
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入机会失败")
	}
	return nil
}

const opportunityColumns = `id, signal_id, intent_id, prediction_id, demand_score, temperature, service_type,
        suggested_price, delivery_days, potential_revenue, status, created_at, updated_at`

func scanOpportunity(scanner interface{ Scan(...any) error }) (*Opportunity, error) {
	var opp Opportunity
	var price, revenue string
	if err := scanner.Scan(
		&opp.ID,
		&opp.SignalID,
		&opp.IntentID,
		&opp.PredictionID,
		&opp.DemandScore,
		&opp.Temperature,
		&opp.ServiceType,
		&price,
		&opp.DeliveryDays,
		&revenue,
		&opp.Status,
		&opp.CreatedAt,
		&opp.UpdatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if opp.SuggestedPrice, err = decimal.NewFromString(price); err != nil {
		return nil, err
	}
	if opp.PotentialRevenue, err = decimal.NewFromString(revenue); err != nil {
		return nil, err
	}
	return &opp, nil
}

// GetOpportunity 查询指定机会。
func (s *MySQLStore) GetOpportunity(ctx context.Context, id string) (*Opportunity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+opportunityColumns+` FROM opportunities WHERE id = ?`, id)
	opp, err := scanOpportunity(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrOpportunityNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询机会失败")
	}
	return opp, nil
}

// GetOpportunityBySignal 按信号查找机会。
func (s *MySQLStore) GetOpportunityBySignal(ctx context.Context, signalID string) (*Opportunity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+opportunityColumns+` FROM opportunities WHERE signal_id = ?`, signalID)
	opp, err := scanOpportunity(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrOpportunityNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "按信号查询机会失败")
	}
	return opp, nil
}

// ListOpportunities 返回最近创建的机会。
func (s *MySQLStore) ListOpportunities(ctx context.Context, limit int) ([]*Opportunity, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+opportunityColumns+` FROM opportunities ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询机会列表失败")
	}
	defer rows.Close()
	results := make([]*Opportunity, 0, limit)
	for rows.Next() {
		opp, err := scanOpportunity(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析机会记录失败")
		}
		results = append(results, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历机会失败")
	}
	return results, nil
}

// UpdateOpportunityStatus 更新机会状态。
func (s *MySQLStore) UpdateOpportunityStatus(ctx context.Context, id string, status OpportunityStatus) error {
	if !IsValidOpportunityStatus(status) {
		return xerrors.New(xerrors.CodeInvalidArgument, "不支持的机会状态")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE opportunities SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新机会状态失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrOpportunityNotFound
	}
	return nil
}

// Close 由调用方负责关闭共享连接，这里无需操作。
func (s *MySQLStore) Close() error {
	return nil
}

var _ Store = (*MySQLStore)(nil)
