package scoring

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"AgentMarket/internal/signal"
)

func TestPipelineProcessScoresSignal(t *testing.T) {
	store := signal.NewMemoryStore()
	ctx := context.Background()
	err := store.CreateSignal(ctx, &signal.Signal{
		ID:       "sig-1",
		Source:   "twitter",
		Keyword:  "weather api",
		Text:     "want to buy a weather api",
		Volume:   500,
		Velocity: 3,
	})
	if err != nil {
		t.Fatalf("写入信号失败: %v", err)
	}

	pipeline := NewPipeline(store, nil)
	results, err := pipeline.Process(ctx)
	if err != nil {
		t.Fatalf("流水线执行失败: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("期望处理 1 条信号, 实际 %d", len(results))
	}
	result := results[0]
	if result.Skipped || result.Error != "" {
		t.Fatalf("不应跳过或失败: %+v", result)
	}
	if result.IntentLevel != signal.IntentPurchase {
		t.Fatalf("意图分级不符: %s", result.IntentLevel)
	}
	if result.OpportunityID == "" {
		t.Fatalf("应生成机会")
	}

	opp, err := store.GetOpportunity(ctx, result.OpportunityID)
	if err != nil {
		t.Fatalf("读取机会失败: %v", err)
	}
	if opp.Status != signal.OpportunityOfferGenerated {
		t.Fatalf("机会状态不符: %s", opp.Status)
	}
	if opp.SuggestedPrice.LessThanOrEqual(decimal.Zero) {
		t.Fatalf("推荐报价应为正数: %s", opp.SuggestedPrice)
	}

	// 处理过的信号不再进入下一批。
	again, err := pipeline.Process(ctx)
	if err != nil {
		t.Fatalf("第二次执行失败: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("已处理信号不应重复评分: %d", len(again))
	}
}

func TestPipelineSkipsSignalWithExistingOpportunity(t *testing.T) {
	store := signal.NewMemoryStore()
	ctx := context.Background()
	if err := store.CreateSignal(ctx, &signal.Signal{
		ID:      "sig-dup",
		Keyword: "sms api",
		Volume:  100,
	}); err != nil {
		t.Fatalf("写入信号失败: %v", err)
	}
	if err := store.CreateOpportunity(ctx, &signal.Opportunity{
		ID:       "opp-existing",
		SignalID: "sig-dup",
		Status:   signal.OpportunityOfferGenerated,
	}); err != nil {
		t.Fatalf("写入机会失败: %v", err)
	}

	pipeline := NewPipeline(store, nil)
	results, err := pipeline.Process(ctx)
	if err != nil {
		t.Fatalf("流水线执行失败: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("期望 1 条结果, 实际 %d", len(results))
	}
	if !results[0].Skipped || results[0].OpportunityID != "opp-existing" {
		t.Fatalf("应幂等跳过并指向既有机会: %+v", results[0])
	}

	// 跳过时同样标记已处理。
	pending, err := store.ListUnprocessedSignals(ctx, 10)
	if err != nil {
		t.Fatalf("查询未处理信号失败: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("信号应被标记为已处理: %d", len(pending))
	}
}
