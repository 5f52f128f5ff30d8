package scoring

import (
	"context"
	stdErrors "errors"
	"log/slog"

	"github.com/google/uuid"

	"AgentMarket/internal/catalog"
	xerrors "AgentMarket/internal/errors"
	"AgentMarket/internal/signal"
	"AgentMarket/pkg/logger"
)

// Pipeline 将未处理的信号依次送入 分类→预测→评分→落库 流程。
type Pipeline struct {
	store     signal.Store
	catalog   *catalog.Catalog
	batchSize int
	logger    *slog.Logger
}

// PipelineOption 定义可选配置。
type PipelineOption func(*Pipeline)

// WithBatchSize 设置单次 Process 消费的信号上限。
func WithBatchSize(size int) PipelineOption {
	return func(p *Pipeline) {
		if size > 0 {
			p.batchSize = size
		}
	}
}

// WithPipelineLogger 指定日志输出。
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// NewPipeline 构造评分流水线。
func NewPipeline(store signal.Store, cat *catalog.Catalog, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{store: store, catalog: cat, batchSize: 50}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.catalog == nil {
		p.catalog = catalog.Default()
	}
	if p.logger == nil {
		p.logger = logger.Named("scoring")
	}
	return p
}

// Result 汇总一条信号走完流水线后的关键输出。
type Result struct {
	SignalID      string             `json:"signal_id"`
	OpportunityID string             `json:"opportunity_id,omitempty"`
	IntentLevel   signal.IntentLevel `json:"intent_level,omitempty"`
	Confidence    float64            `json:"confidence,omitempty"`
	TrendScore    float64            `json:"trend_score,omitempty"`
	DemandScore   float64            `json:"demand_score,omitempty"`
	Temperature   signal.Temperature `json:"temperature,omitempty"`
	Skipped       bool               `json:"skipped,omitempty"`
	Error         string             `json:"error,omitempty"`
}

// Process 取出未处理信号并逐条评分。单条失败不会中断整批，失败原因随结果返回。
func (p *Pipeline) Process(ctx context.Context) ([]Result, error) {
	if p.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "流水线存储未初始化")
	}
	signals, err := p.store.ListUnprocessedSignals(ctx, p.batchSize)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(signals))
	for _, sig := range signals {
		result := p.processOne(ctx, sig)
		results = append(results, result)
	}
	return results, nil
}

// processOne 处理单条信号。同一信号重复进入流水线时幂等跳过。
func (p *Pipeline) processOne(ctx context.Context, sig *signal.Signal) Result {
	result := Result{SignalID: sig.ID}

	// 幂等保护：已有机会的信号直接跳过。
	if existing, err := p.store.GetOpportunityBySignal(ctx, sig.ID); err == nil {
		result.OpportunityID = existing.ID
		result.Skipped = true
		_ = p.store.MarkSignalProcessed(ctx, sig.ID)
		return result
	} else if !stdErrors.Is(err, signal.ErrOpportunityNotFound) {
		result.Error = err.Error()
		p.logStepError("dedup_check", sig.ID, err)
		return result
	}

	classified := Classify(sig)
	intent := &signal.ClassifiedIntent{
		ID:              uuid.NewString(),
		SignalID:        sig.ID,
		Level:           classified.Level,
		Confidence:      classified.Confidence,
		MatchedKeywords: classified.MatchedKeywords,
		Reasoning:       classified.Reasoning,
	}
	if err := p.store.CreateIntent(ctx, intent); err != nil {
		result.Error = err.Error()
		p.logStepError("classify", sig.ID, err)
		return result
	}
	result.IntentLevel = classified.Level
	result.Confidence = classified.Confidence

	trend := PredictTrend(sig)
	prediction := &signal.TrendPrediction{
		ID:         uuid.NewString(),
		IntentID:   intent.ID,
		SignalID:   sig.ID,
		TrendScore: trend.TrendScore,
		Momentum:   trend.Momentum,
		GrowthRate: trend.GrowthRate,
	}
	if err := p.store.CreatePrediction(ctx, prediction); err != nil {
		result.Error = err.Error()
		p.logStepError("predict", sig.ID, err)
		return result
	}
	result.TrendScore = trend.TrendScore

	offer := BuildOffer(p.catalog, sig, classified.Confidence, trend.TrendScore)
	opp := &signal.Opportunity{
		ID:               uuid.NewString(),
		SignalID:         sig.ID,
		IntentID:         intent.ID,
		PredictionID:     prediction.ID,
		DemandScore:      offer.DemandScore,
		Temperature:      offer.Temperature,
		ServiceType:      offer.ServiceType,
		SuggestedPrice:   offer.SuggestedPrice,
		DeliveryDays:     offer.DeliveryDays,
		PotentialRevenue: offer.PotentialRevenue,
		Status:           signal.OpportunityOfferGenerated,
	}
	if err := p.store.CreateOpportunity(ctx, opp); err != nil {
		if stdErrors.Is(err, signal.ErrOpportunityExists) {
			// 并发处理同一信号时，唯一约束保证只留下一条机会。
			result.Skipped = true
			_ = p.store.MarkSignalProcessed(ctx, sig.ID)
			return result
		}
		result.Error = err.Error()
		p.logStepError("score", sig.ID, err)
		return result
	}
	if err := p.store.MarkSignalProcessed(ctx, sig.ID); err != nil {
		p.logStepError("mark_processed", sig.ID, err)
	}

	result.OpportunityID = opp.ID
	result.DemandScore = offer.DemandScore
	result.Temperature = offer.Temperature

	logger.Audit().Info("信号评分完成",
		slog.String("signal_id", sig.ID),
		slog.String("opportunity_id", opp.ID),
		slog.String("intent", string(classified.Level)),
		slog.Float64("demand_score", offer.DemandScore),
		slog.String("temperature", string(offer.Temperature)),
	)
	return result
}

func (p *Pipeline) logStepError(step, signalID string, err error) {
	p.logger.Error("流水线步骤失败",
		slog.String("step", step),
		slog.String("signal_id", signalID),
		slog.Any("error", err),
	)
}
