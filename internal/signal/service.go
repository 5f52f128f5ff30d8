package signal

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	xerrors "AgentMarket/internal/errors"
	"AgentMarket/pkg/logger"
)

// SubmitRequest 描述一条待入库的原始信号。
type SubmitRequest struct {
	Source   string  `json:"source"`
	Keyword  string  `json:"keyword"`
	Text     string  `json:"signal_text"`
	Volume   int     `json:"signal_volume"`
	Velocity float64 `json:"velocity_score"`
}

// Service 负责信号的接收与查询。
type Service struct {
	store Store
}

// NewService 构造信号服务。
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Submit 校验并追加一条原始信号。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Signal, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "信号存储未初始化")
	}
	if strings.TrimSpace(req.Keyword) == "" {
		return nil, xerrors.New(CodeSignalValidation, "信号关键词不能为空", xerrors.WithStep("signal_intake"))
	}
	if req.Volume < 0 {
		return nil, xerrors.New(CodeSignalValidation, "信号体量不能为负数", xerrors.WithStep("signal_intake"))
	}
	if req.Velocity < 0 {
		return nil, xerrors.New(CodeSignalValidation, "信号速度不能为负数", xerrors.WithStep("signal_intake"))
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = "manual"
	}

	sig := &Signal{
		ID:       uuid.NewString(),
		Source:   source,
		Keyword:  strings.TrimSpace(req.Keyword),
		Text:     strings.TrimSpace(req.Text),
		Volume:   req.Volume,
		Velocity: req.Velocity,
	}
	if err := s.store.CreateSignal(ctx, sig); err != nil {
		return nil, err
	}
	logger.Audit().Info("信号入库成功",
		slog.String("signal_id", sig.ID),
		slog.String("source", sig.Source),
		slog.String("keyword", sig.Keyword),
		slog.Int("volume", sig.Volume),
	)
	return sig, nil
}

// Get 返回指定信号。
func (s *Service) Get(ctx context.Context, id string) (*Signal, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "信号存储未初始化")
	}
	return s.store.GetSignal(ctx, id)
}

// ListPending 返回尚未进入评分流水线的信号。
func (s *Service) ListPending(ctx context.Context, limit int) ([]*Signal, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "信号存储未初始化")
	}
	return s.store.ListUnprocessedSignals(ctx, limit)
}

// Opportunities 返回最近评分产生的机会，新的在前。
func (s *Service) Opportunities(ctx context.Context, limit int) ([]*Opportunity, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "信号存储未初始化")
	}
	return s.store.ListOpportunities(ctx, limit)
}
