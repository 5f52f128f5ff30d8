package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"AgentMarket/internal/agent"
	"AgentMarket/internal/apikey"
	"AgentMarket/internal/billing"
	"AgentMarket/internal/catalog"
	"AgentMarket/internal/exec"
	"AgentMarket/internal/scoring"
	"AgentMarket/internal/signal"
	"AgentMarket/internal/wallet"
)

type testEnv struct {
	server     *Server
	handler    http.Handler
	keyStore   apikey.Store
	agents     agent.Store
	execStore  exec.Store
	executions *exec.Service
	wallets    *wallet.Service
}

func newTestEnv(t *testing.T, cat *catalog.Catalog) *testEnv {
	t.Helper()
	keyStore := apikey.NewMemoryStore()
	agents := agent.NewMemoryStore()
	execStore := exec.NewMemoryStore()
	queue := exec.NewMemoryQueue(16)
	executions := exec.NewService(execStore, queue)
	signalStore := signal.NewMemoryStore()
	wallets := wallet.NewService(wallet.NewMemoryStore())
	if cat == nil {
		cat = catalog.Default()
	}

	server := NewServer(":0", Deps{
		Keys:       apikey.NewService(keyStore),
		Agents:     agents,
		Executions: executions,
		Wallets:    wallets,
		Signals:    signal.NewService(signalStore),
		Pipeline:   scoring.NewPipeline(signalStore, cat),
		Billing:    billing.NewService(billing.NewMemoryStore(), billing.NewSimulatedProcessor(0)),
		Catalog:    cat,
	})
	return &testEnv{
		server:     server,
		handler:    server.Handler(),
		keyStore:   keyStore,
		agents:     agents,
		execStore:  execStore,
		executions: executions,
		wallets:    wallets,
	}
}

func (env *testEnv) seedKey(t *testing.T, budget int64, perMinute int) *apikey.Key {
	t.Helper()
	k := &apikey.Key{
		ID:                 "key-1",
		Secret:             "amk_test",
		Name:               "test",
		Permissions:        []string{"execute"},
		DailyBudget:        decimal.NewFromInt(budget),
		RateLimitPerMinute: perMinute,
		Active:             true,
	}
	if err := env.keyStore.Create(context.Background(), k); err != nil {
		t.Fatalf("创建密钥失败: %v", err)
	}
	return k
}

func (env *testEnv) seedWorker(t *testing.T, id string, workerType agent.Type) *agent.Agent {
	t.Helper()
	a := &agent.Agent{ID: id, Name: id, Type: workerType, Status: agent.StatusIdle, PerformanceScore: 0.8}
	if err := env.agents.Create(context.Background(), a); err != nil {
		t.Fatalf("创建工作者失败: %v", err)
	}
	return a
}

func postJSON(t *testing.T, handler http.Handler, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("编码请求体失败: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleExecuteFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedKey(t, 1000, 0)
	env.seedWorker(t, "worker-1", agent.TypeConsumer)

	rec := postJSON(t, env.handler, "/v1/execute", "amk_test", map[string]any{
		"task_type": "api_consumer",
		"payload":   map[string]string{"city": "shanghai"},
		"priority":  2,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("状态码 = %d, want %d, body %s", rec.Code, http.StatusAccepted, rec.Body.String())
	}
	var resp executeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if resp.Status != "pending" {
		t.Fatalf("响应状态 = %s, want pending", resp.Status)
	}
	if resp.Agent.ID != "worker-1" {
		t.Fatalf("响应工作者 = %s, want worker-1", resp.Agent.ID)
	}
	if !resp.Cost.Amount.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("费用 = %s, want 10", resp.Cost.Amount)
	}
	// 费用 10 → 收入 12 → 平台费 5% = 0.6。
	if !resp.Cost.PlatformFee.Equal(decimal.RequireFromString("0.6")) {
		t.Fatalf("平台费 = %s, want 0.6", resp.Cost.PlatformFee)
	}

	stored, err := env.execStore.Get(context.Background(), resp.ExecutionID)
	if err != nil {
		t.Fatalf("查询执行失败: %v", err)
	}
	if stored.Status != exec.StatusPending {
		t.Fatalf("执行状态 = %s, want pending", stored.Status)
	}
	if stored.APIKeyID != "key-1" {
		t.Fatalf("执行密钥 = %s, want key-1", stored.APIKeyID)
	}
	if stored.Priority != 2 {
		t.Fatalf("执行优先级 = %d, want 2", stored.Priority)
	}
}

func TestHandleExecuteAuthErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedKey(t, 1000, 0)

	rec := postJSON(t, env.handler, "/v1/execute", "", map[string]any{"task_type": "api_consumer"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("缺少密钥状态码 = %d, want 401", rec.Code)
	}
	rec = postJSON(t, env.handler, "/v1/execute", "amk_wrong", map[string]any{"task_type": "api_consumer"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("无效密钥状态码 = %d, want 403", rec.Code)
	}

	var payload errorPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("解析错误负载失败: %v", err)
	}
	if payload.Error.Code == "" {
		t.Fatalf("错误负载缺少错误码: %s", rec.Body.String())
	}
}

func TestHandleExecuteNoWorker(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedKey(t, 1000, 0)

	rec := postJSON(t, env.handler, "/v1/execute", "amk_test", map[string]any{"task_type": "api_consumer"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("无工作者状态码 = %d, want 503, body %s", rec.Code, rec.Body.String())
	}
}

func TestHandleExecuteBudgetExhausted(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedKey(t, 5, 0)
	env.seedWorker(t, "worker-1", agent.TypeConsumer)

	rec := postJSON(t, env.handler, "/v1/execute", "amk_test", map[string]any{"task_type": "api_consumer"})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("预算不足状态码 = %d, want 402, body %s", rec.Code, rec.Body.String())
	}
}

func TestHandleExecuteRateLimited(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedKey(t, 100000, 2)
	env.seedWorker(t, "worker-1", agent.TypeConsumer)

	body := map[string]any{"task_type": "api_consumer"}
	for i := 0; i < 2; i++ {
		if rec := postJSON(t, env.handler, "/v1/execute", "amk_test", body); rec.Code != http.StatusAccepted {
			t.Fatalf("第 %d 次调用状态码 = %d, want 202", i+1, rec.Code)
		}
	}
	rec := postJSON(t, env.handler, "/v1/execute", "amk_test", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("超限调用状态码 = %d, want 429", rec.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	execution := &exec.Execution{ID: "exec-1", AgentID: "worker-1", Cost: decimal.NewFromInt(10)}
	if err := env.execStore.Create(ctx, execution); err != nil {
		t.Fatalf("创建执行失败: %v", err)
	}
	if err := env.execStore.AppendStep(ctx, &exec.StepRecord{
		ExecutionID: "exec-1", Step: "dispatch", Status: "completed",
	}); err != nil {
		t.Fatalf("追加步骤失败: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/status/exec-1", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("状态码 = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if resp.Execution == nil || resp.Execution.ID != "exec-1" {
		t.Fatalf("执行记录缺失: %+v", resp.Execution)
	}
	if len(resp.Steps) != 1 || resp.Steps[0].Step != "dispatch" {
		t.Fatalf("步骤日志不符: %+v", resp.Steps)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/status/missing", nil)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("缺失执行状态码 = %d, want 404", rec.Code)
	}
}

func TestHandleBalance(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedKey(t, 1000, 0)
	env.seedWorker(t, "worker-1", agent.TypeConsumer)

	rec := postJSON(t, env.handler, "/v1/execute", "amk_test", map[string]any{"task_type": "api_consumer"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("执行入队失败: %d %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/balance", nil)
	req.Header.Set("Authorization", "Bearer amk_test")
	rec2 := httptest.NewRecorder()
	env.handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Fatalf("余额查询状态码 = %d, body %s", rec2.Code, rec2.Body.String())
	}
	var resp balanceResponse
	if err := json.Unmarshal(rec2.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if !resp.RemainingBudget.Equal(decimal.NewFromInt(990)) {
		t.Fatalf("剩余预算 = %s, want 990", resp.RemainingBudget)
	}
	if len(resp.RecentExecutions) != 1 {
		t.Fatalf("最近执行数 = %d, want 1", len(resp.RecentExecutions))
	}
}

func TestHandleMarketplaceInsufficientCredits(t *testing.T) {
	cat := catalog.Default()
	cat.Products = append(cat.Products, catalog.Product{
		ID: "prod-1", Name: "贵价服务", Keyword: "api_consumer", PricePerCall: 150,
	})
	env := newTestEnv(t, cat)
	env.seedWorker(t, "worker-1", agent.TypeConsumer)

	// 新钱包默认 100 积分，价格 150 的执行应被拒且不写扣费交易。
	rec := postJSON(t, env.handler, "/v1/marketplace", "", map[string]any{
		"action":   "execute",
		"agent_id": "worker-1",
		"user_id":  "user-1",
	})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("余额不足状态码 = %d, want 402, body %s", rec.Code, rec.Body.String())
	}
	txs, err := env.wallets.Transactions(context.Background(), "user-1", 10)
	if err != nil {
		t.Fatalf("查询交易失败: %v", err)
	}
	// 只有开户赠送，没有扣费交易。
	if len(txs) != 1 || txs[0].Source != "signup_bonus" {
		t.Fatalf("交易链不符: %+v", txs)
	}
}

func TestHandleMarketplaceExecute(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedWorker(t, "worker-1", agent.TypeConsumer)

	rec := postJSON(t, env.handler, "/v1/marketplace", "", map[string]any{
		"action":     "execute",
		"agent_id":   "worker-1",
		"user_id":    "user-1",
		"parameters": map[string]string{"query": "btc"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("状态码 = %d, want 202, body %s", rec.Code, rec.Body.String())
	}
	var resp marketplaceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if !resp.Success || resp.ExecutionID == "" {
		t.Fatalf("响应不符: %+v", resp)
	}
	stored, err := env.execStore.Get(context.Background(), resp.ExecutionID)
	if err != nil {
		t.Fatalf("查询执行失败: %v", err)
	}
	if stored.UserID != "user-1" {
		t.Fatalf("执行用户 = %s, want user-1", stored.UserID)
	}
}

func TestHandleSignalsAndPipeline(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := postJSON(t, env.handler, "/v1/signals", "", map[string]any{
		"action":         "scan",
		"source":         "reddit",
		"keyword":        "weather api",
		"signal_text":    "need a weather api integration asap, budget ready",
		"signal_volume":  500,
		"velocity_score": 90.0,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("信号提交状态码 = %d, want 201, body %s", rec.Code, rec.Body.String())
	}

	rec = postJSON(t, env.handler, "/v1/pipeline", "", map[string]any{"action": "process"})
	if rec.Code != http.StatusOK {
		t.Fatalf("流水线状态码 = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	var resp pipelineResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if resp.Processed != 1 {
		t.Fatalf("处理条数 = %d, want 1", resp.Processed)
	}
	if resp.Results[0].Error != "" {
		t.Fatalf("流水线结果报错: %s", resp.Results[0].Error)
	}

	// 再次触发流水线：信号已处理，不应重复产出。
	rec = postJSON(t, env.handler, "/v1/pipeline", "", map[string]any{"action": "process"})
	if rec.Code != http.StatusOK {
		t.Fatalf("二次流水线状态码 = %d, body %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if resp.Processed != 0 {
		t.Fatalf("二次处理条数 = %d, want 0", resp.Processed)
	}
}

func TestHandleBillingActions(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := postJSON(t, env.handler, "/v1/billing", "", map[string]any{
		"action":         "create_execution_payment",
		"agent_id":       "worker-1",
		"api_product_id": "prod-1",
		"amount":         50,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("创建支付状态码 = %d, want 201, body %s", rec.Code, rec.Body.String())
	}

	rec = postJSON(t, env.handler, "/v1/billing", "", map[string]any{"action": "get_billing_summary"})
	if rec.Code != http.StatusOK {
		t.Fatalf("日汇总状态码 = %d, want 200, body %s", rec.Code, rec.Body.String())
	}

	rec = postJSON(t, env.handler, "/v1/billing", "", map[string]any{"action": "unknown"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("未知操作状态码 = %d, want 400", rec.Code)
	}
}

func TestHandleAgentsList(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedWorker(t, "worker-1", agent.TypeConsumer)
	env.seedWorker(t, "worker-2", agent.TypeVolumeGenerator)

	req := httptest.NewRequest(http.MethodGet, "/v1/agents?limit=10", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("状态码 = %d, want 200", rec.Code)
	}
	var resp struct {
		Agents []*agent.Agent `json:"agents"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if len(resp.Agents) != 2 {
		t.Fatalf("工作者数 = %d, want 2", len(resp.Agents))
	}
}
