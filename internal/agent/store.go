package agent

import "context"

// Store 抽象工作者注册表的持久化接口。调度器每次编排都从这里重建视图，
// 不在并发编排之间共享内存状态。
type Store interface {
	Create(ctx context.Context, a *Agent) error
	Get(ctx context.Context, id string) (*Agent, error)
	List(ctx context.Context, limit int) ([]*Agent, error)
	// ListIdleByType 返回指定类型的空闲工作者，按表现分降序、创建顺序升序排列。
	ListIdleByType(ctx context.Context, t Type) ([]*Agent, error)
	// Assign 将空闲工作者绑定到任务并置为 active。已绑定时返回 ErrAgentBusy。
	Assign(ctx context.Context, id, taskID string) error
	// RecordResult 记录一次执行结果并更新表现分、错误计数与状态。
	RecordResult(ctx context.Context, id string, success bool) (*Agent, error)
	SetStatus(ctx context.Context, id string, status Status) error
	Close() error
}
