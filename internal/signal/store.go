package signal

import "context"

// Store 抽象了信号评分流水线各实体的持久化接口。
type Store interface {
	CreateSignal(ctx context.Context, sig *Signal) error
	GetSignal(ctx context.Context, id string) (*Signal, error)
	ListUnprocessedSignals(ctx context.Context, limit int) ([]*Signal, error)
	MarkSignalProcessed(ctx context.Context, id string) error

	CreateIntent(ctx context.Context, intent *ClassifiedIntent) error
	CreatePrediction(ctx context.Context, prediction *TrendPrediction) error

	// CreateOpportunity 为信号创建机会。同一信号重复创建时返回 ErrOpportunityExists。
	CreateOpportunity(ctx context.Context, opp *Opportunity) error
	GetOpportunity(ctx context.Context, id string) (*Opportunity, error)
	GetOpportunityBySignal(ctx context.Context, signalID string) (*Opportunity, error)
	ListOpportunities(ctx context.Context, limit int) ([]*Opportunity, error)
	UpdateOpportunityStatus(ctx context.Context, id string, status OpportunityStatus) error

	Close() error
}
