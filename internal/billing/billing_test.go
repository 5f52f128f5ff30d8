package billing

import (
	"context"
	stdErrors "errors"
	"testing"

	"github.com/shopspring/decimal"

	"AgentMarket/internal/exec"
)

func TestComputeSplitSumInvariant(t *testing.T) {
	costs := []string{"100", "0.01", "19.99", "333.33", "1234.56"}
	for _, raw := range costs {
		split := ComputeSplit(decimal.RequireFromString(raw))
		sum := split.PlatformFee.Add(split.SellerAmount).Add(split.WorkerReward)
		if !sum.Equal(split.Revenue) {
			t.Fatalf("成本 %s: 分成之和 %s != 收入 %s", raw, sum, split.Revenue)
		}
	}
}

func TestComputeSplitFixedVector(t *testing.T) {
	split := ComputeSplit(decimal.NewFromInt(100))
	if !split.Revenue.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("收入 = %s, want 120", split.Revenue)
	}
	if !split.PlatformFee.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("平台费 = %s, want 6", split.PlatformFee)
	}
	if !split.SellerAmount.Equal(decimal.NewFromInt(84)) {
		t.Fatalf("卖方金额 = %s, want 84", split.SellerAmount)
	}
	if !split.WorkerReward.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("工作者报酬 = %s, want 30", split.WorkerReward)
	}
}

func TestNextRetryDelay(t *testing.T) {
	wants := map[int]int64{1: 30, 2: 60, 3: 120, 4: 240}
	for attempts, want := range wants {
		if got := NextRetryDelaySeconds(attempts); got != want {
			t.Fatalf("第 %d 次重试间隔 = %d, want %d", attempts, got, want)
		}
	}
}

func TestSettleExecution(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	service := NewService(store, nil)

	revenue, err := service.SettleExecution(ctx, &exec.Execution{
		ID:      "exec-1",
		AgentID: "agent-1",
		Cost:    decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("分成失败: %v", err)
	}
	if !revenue.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("收入 = %s, want 120", revenue)
	}
	summary, err := service.GetBillingSummary(ctx, "")
	if err != nil {
		t.Fatalf("日汇总失败: %v", err)
	}
	if summary.ExecutionCount != 1 || !summary.TotalRevenue.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("日汇总不符: %+v", summary)
	}
}

type failingProcessor struct {
	failures int
	calls    int
}

func (p *failingProcessor) Charge(_ context.Context, _ *PendingPayment) error {
	p.calls++
	if p.calls <= p.failures {
		return stdErrors.New("processor unavailable")
	}
	return nil
}

func TestPaymentRetryBounded(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	processor := &failingProcessor{failures: 100}
	service := NewService(store, processor)

	payment, err := service.CreateExecutionPayment(ctx, "agent-1", "product-1", decimal.NewFromInt(50))
	if err != nil {
		t.Fatalf("创建支付失败: %v", err)
	}
	if payment.Status != PaymentPending || payment.Attempts != 1 {
		t.Fatalf("首次失败后状态不符: %+v", payment)
	}

	// 手动驱动剩余重试，到第 5 次后支付进入 failed。
	retrier := NewRetrier(service, store)
	for i := 0; i < 10; i++ {
		payment.NextRetryAt = 0
		if err := store.UpdatePayment(ctx, payment); err != nil {
			t.Fatalf("重置重试时间失败: %v", err)
		}
		_ = retrier.Drain(ctx)
		payment, err = store.GetPayment(ctx, payment.ID)
		if err != nil {
			t.Fatalf("查询支付失败: %v", err)
		}
		if payment.Status == PaymentFailed {
			break
		}
	}
	if payment.Status != PaymentFailed {
		t.Fatalf("支付状态 = %s, want failed", payment.Status)
	}
	if payment.Attempts != maxPaymentRetry {
		t.Fatalf("重试次数 = %d, want %d", payment.Attempts, maxPaymentRetry)
	}
}

func TestPaymentRetrySucceeds(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	processor := &failingProcessor{failures: 2}
	service := NewService(store, processor)

	payment, err := service.CreateExecutionPayment(ctx, "agent-1", "product-1", decimal.NewFromInt(50))
	if err != nil {
		t.Fatalf("创建支付失败: %v", err)
	}

	retrier := NewRetrier(service, store)
	for i := 0; i < 5 && payment.Status == PaymentPending; i++ {
		payment.NextRetryAt = 0
		if err := store.UpdatePayment(ctx, payment); err != nil {
			t.Fatalf("重置重试时间失败: %v", err)
		}
		_ = retrier.Drain(ctx)
		payment, err = store.GetPayment(ctx, payment.ID)
		if err != nil {
			t.Fatalf("查询支付失败: %v", err)
		}
	}
	if payment.Status != PaymentSucceeded {
		t.Fatalf("支付状态 = %s, want succeeded", payment.Status)
	}
	if payment.Attempts != 3 {
		t.Fatalf("重试次数 = %d, want 3", payment.Attempts)
	}
}
