package billing

import (
	"context"
	"math/rand"
	"sync"
	"time"

	xerrors "AgentMarket/internal/errors"
)

// SimulatedProcessor 在没有真实支付通道时按配置的失败概率模拟扣款。
type SimulatedProcessor struct {
	FailureRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedProcessor 创建模拟支付处理器。failureRate 取值 [0,1]。
func NewSimulatedProcessor(failureRate float64) *SimulatedProcessor {
	if failureRate < 0 {
		failureRate = 0
	}
	if failureRate > 1 {
		failureRate = 1
	}
	return &SimulatedProcessor{
		FailureRate: failureRate,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Charge 模拟一次扣款。
func (p *SimulatedProcessor) Charge(_ context.Context, _ *PendingPayment) error {
	p.mu.Lock()
	roll := p.rng.Float64()
	p.mu.Unlock()
	if roll < p.FailureRate {
		return xerrors.New(xerrors.CodePaymentFailure, "模拟支付通道不可用")
	}
	return nil
}

var _ Processor = (*SimulatedProcessor)(nil)
