package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	xerrors "AgentMarket/internal/errors"
)

// Dispatcher 把执行派发到目标端点。返回 nil 表示目标调用成功。
type Dispatcher interface {
	Dispatch(ctx context.Context, e *Execution) error
}

// HTTPDispatcher 通过 HTTP POST 调用真实目标端点，非 2xx 视为失败。
type HTTPDispatcher struct {
	Client *http.Client
}

// NewHTTPDispatcher 创建 HTTPDispatcher。
func NewHTTPDispatcher(timeout time.Duration) *HTTPDispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPDispatcher{Client: &http.Client{Timeout: timeout}}
}

// Dispatch 执行目标调用。
func (d *HTTPDispatcher) Dispatch(ctx context.Context, e *Execution) error {
	if e == nil || e.TargetURL == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "目标端点不能为空")
	}
	body, err := json.Marshal(e.Parameters)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化执行参数失败")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.TargetURL, bytes.NewReader(body))
	if err != nil {
		return xerrors.Wrap(CodeExecutionDispatch, err, "构造目标请求失败")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.Client.Do(req)
	if err != nil {
		return xerrors.Wrap(CodeExecutionDispatch, err, "调用目标端点失败")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return xerrors.New(CodeExecutionDispatch,
			fmt.Sprintf("目标端点返回 %s", resp.Status),
			xerrors.WithMetadata("status_code", fmt.Sprintf("%d", resp.StatusCode)))
	}
	return nil
}

// SimulatedDispatcher 在没有真实端点时按配置的失败概率模拟目标调用。
type SimulatedDispatcher struct {
	FailureRate float64
	MinLatency  time.Duration
	MaxLatency  time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedDispatcher 创建模拟派发器。failureRate 取值 [0,1]。
func NewSimulatedDispatcher(failureRate float64) *SimulatedDispatcher {
	if failureRate < 0 {
		failureRate = 0
	}
	if failureRate > 1 {
		failureRate = 1
	}
	return &SimulatedDispatcher{
		FailureRate: failureRate,
		MinLatency:  50 * time.Millisecond,
		MaxLatency:  200 * time.Millisecond,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Dispatch 模拟目标调用。
func (d *SimulatedDispatcher) Dispatch(ctx context.Context, e *Execution) error {
	d.mu.Lock()
	roll := d.rng.Float64()
	latency := d.MinLatency
	if d.MaxLatency > d.MinLatency {
		latency += time.Duration(d.rng.Int63n(int64(d.MaxLatency - d.MinLatency)))
	}
	d.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(latency):
	}
	if roll < d.FailureRate {
		return xerrors.New(CodeExecutionDispatch, "模拟目标调用失败")
	}
	return nil
}
