package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"AgentMarket/internal/agent"
	"AgentMarket/internal/apikey"
	"AgentMarket/internal/billing"
	xerrors "AgentMarket/internal/errors"
	"AgentMarket/internal/exec"
	"AgentMarket/internal/scoring"
	"AgentMarket/internal/signal"
)

type executeRequest struct {
	TaskType  string            `json:"task_type"`
	Payload   map[string]string `json:"payload"`
	Priority  int               `json:"priority"`
	TargetURL string            `json:"target_url"`
}

type agentView struct {
	ID   string     `json:"id"`
	Name string     `json:"name"`
	Type agent.Type `json:"type"`
}

type costView struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	PlatformFee decimal.Decimal `json:"platform_fee"`
}

type executeResponse struct {
	ExecutionID string    `json:"execution_id"`
	Status      string    `json:"status"`
	Agent       agentView `json:"agent"`
	Cost        costView  `json:"cost"`
}

// handleExecute 受理一次付费执行：挑选最佳空闲工作者，原子预留密钥预算，
// 入队后立刻返回 pending 确认，真实调用由引擎异步完成。
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	key, ok := apikey.KeyFrom(r.Context())
	if !ok {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "请求缺少密钥上下文"))
		return
	}
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	if !agent.IsValidType(agent.Type(req.TaskType)) {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "未知任务类型"))
		return
	}

	ctx := r.Context()
	workers, err := s.deps.Agents.ListIdleByType(ctx, agent.Type(req.TaskType))
	if err != nil {
		writeError(w, err)
		return
	}
	if len(workers) == 0 {
		writeError(w, xerrors.New(xerrors.CodeWorkerUnavailable, "没有可用的空闲工作者"))
		return
	}
	worker := workers[0]

	cost := s.priceFor(req.TaskType)
	if err := s.deps.Keys.Admit(ctx, key, cost); err != nil {
		writeError(w, err)
		return
	}

	execution, err := s.deps.Executions.Enqueue(ctx, exec.EnqueueRequest{
		AgentID:    worker.ID,
		APIKeyID:   key.ID,
		Priority:   req.Priority,
		TargetURL:  req.TargetURL,
		Parameters: req.Payload,
		Cost:       cost,
	})
	if err != nil {
		// 入队失败时补偿已预留的预算。
		_ = s.deps.Keys.ReleaseSpend(ctx, key, cost)
		writeError(w, err)
		return
	}

	split := billing.ComputeSplit(cost)
	writeJSON(w, http.StatusAccepted, executeResponse{
		ExecutionID: execution.ID,
		Status:      string(execution.Status),
		Agent:       agentView{ID: worker.ID, Name: worker.Name, Type: worker.Type},
		Cost:        costView{Amount: cost, Currency: "credits", PlatformFee: split.PlatformFee},
	})
}

type statusResponse struct {
	Execution *exec.Execution    `json:"execution"`
	Steps     []*exec.StepRecord `json:"steps"`
}

// handleStatus 返回执行记录与按序的步骤日志。
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/status/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "缺少执行 ID"))
		return
	}
	ctx := r.Context()
	execution, err := s.deps.Executions.Get(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	steps, err := s.deps.Executions.Steps(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Execution: execution, Steps: steps})
}

type balanceResponse struct {
	*apikey.Usage
	RecentExecutions []string `json:"recent_executions"`
}

// handleBalance 返回密钥的用量、剩余预算与最近执行。
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	key, ok := apikey.KeyFrom(r.Context())
	if !ok {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "请求缺少密钥上下文"))
		return
	}
	ctx := r.Context()
	usage, err := s.deps.Keys.UsageOf(ctx, key)
	if err != nil {
		writeError(w, err)
		return
	}
	recent, err := s.deps.Executions.RecentByAPIKey(ctx, key.ID, 10)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Usage: usage, RecentExecutions: recent})
}

type marketplaceRequest struct {
	Action     string            `json:"action"`
	AgentID    string            `json:"agent_id"`
	UserID     string            `json:"user_id"`
	Parameters map[string]string `json:"parameters"`
}

type marketplaceResponse struct {
	Success     bool            `json:"success"`
	ExecutionID string          `json:"execution_id"`
	Status      string          `json:"status"`
	Cost        decimal.Decimal `json:"cost"`
}

// handleMarketplace 受理钱包出资的市场执行：余额预检不足时拒绝，
// 实际扣费在执行完成后由引擎走账本。
func (s *Server) handleMarketplace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req marketplaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	if req.Action != "execute" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "不支持的操作"))
		return
	}
	if req.UserID == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "缺少用户 ID"))
		return
	}

	ctx := r.Context()
	worker, err := s.deps.Agents.Get(ctx, req.AgentID)
	if err != nil {
		writeError(w, err)
		return
	}
	price := s.priceFor(string(worker.Type))
	if err := s.deps.Wallets.EnsureFunds(ctx, req.UserID, price); err != nil {
		writeError(w, err)
		return
	}
	execution, err := s.deps.Executions.Enqueue(ctx, exec.EnqueueRequest{
		AgentID:    worker.ID,
		UserID:     req.UserID,
		Parameters: req.Parameters,
		Cost:       price,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, marketplaceResponse{
		Success:     true,
		ExecutionID: execution.ID,
		Status:      string(execution.Status),
		Cost:        price,
	})
}

type signalRequest struct {
	Action string `json:"action"`
	signal.SubmitRequest
}

// handleSignals 受理外部的需求信号提交。
func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	if req.Action != "scan" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "不支持的操作"))
		return
	}
	sig, err := s.deps.Signals.Submit(r.Context(), req.SubmitRequest)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sig)
}

type pipelineRequest struct {
	Action string `json:"action"`
}

type pipelineResponse struct {
	Processed int              `json:"processed"`
	Results   []scoring.Result `json:"results"`
}

// handlePipeline 触发一次评分流水线：未处理信号依次走分类、预测与机会评分。
func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req pipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	if req.Action != "process" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "不支持的操作"))
		return
	}
	results, err := s.deps.Pipeline.Process(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pipelineResponse{Processed: len(results), Results: results})
}

type billingRequest struct {
	Action       string          `json:"action"`
	AgentID      string          `json:"agent_id"`
	APIProductID string          `json:"api_product_id"`
	Amount       decimal.Decimal `json:"amount"`
	Date         string          `json:"date"`
}

// handleBilling 受理计费操作：创建支付或查询日汇总。
func (s *Server) handleBilling(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req billingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	ctx := r.Context()
	switch req.Action {
	case "create_execution_payment":
		payment, err := s.deps.Billing.CreateExecutionPayment(ctx, req.AgentID, req.APIProductID, req.Amount)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, payment)
	case "get_billing_summary":
		summary, err := s.deps.Billing.GetBillingSummary(ctx, req.Date)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	default:
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "不支持的操作"))
	}
}

// handleOpportunities 返回最近评分产生的机会。
func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	opportunities, err := s.deps.Signals.Opportunities(r.Context(), limitParam(r, 20))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"opportunities": opportunities})
}

// handleAgents 返回工作者注册表视图。
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	agents, err := s.deps.Agents.List(r.Context(), limitParam(r, 20))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func limitParam(r *http.Request, fallback int) int {
	limit := fallback
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	return limit
}
