package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"AgentMarket/internal/agent"
	"AgentMarket/internal/apikey"
	"AgentMarket/internal/billing"
	"AgentMarket/internal/catalog"
	xerrors "AgentMarket/internal/errors"
	"AgentMarket/internal/exec"
	"AgentMarket/internal/observability/metrics"
	"AgentMarket/internal/scoring"
	"AgentMarket/internal/signal"
	"AgentMarket/internal/wallet"
)

// defaultCallPrice 是目录中找不到对应产品时的单次调用价格（积分）。
var defaultCallPrice = decimal.NewFromInt(10)

// Deps 汇集 API 层依赖的各域服务。
type Deps struct {
	Keys       *apikey.Service
	Agents     agent.Store
	Executions *exec.Service
	Wallets    *wallet.Service
	Signals    *signal.Service
	Pipeline   *scoring.Pipeline
	Billing    *billing.Service
	Catalog    *catalog.Catalog
}

// Server 负责暴露 REST 接口，供外部提交信号、触发流水线与发起执行。
type Server struct {
	addr string
	deps Deps
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, deps Deps) *Server {
	return &Server{addr: addr, deps: deps}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler 组装全部路由。需要鉴权的路径经由密钥中间件进入，
// 每条路由都带上指标包装，按 handler 标签记录请求量与延迟。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	auth := s.deps.Keys.Middleware

	mux.Handle("/v1/execute", metrics.Instrument("execute", auth(apikey.MiddlewareConfig{
		RequiredPermission: "execute",
		AuditEvent:         "execute",
	})(http.HandlerFunc(s.handleExecute))))
	mux.Handle("/v1/balance", metrics.Instrument("balance", auth(apikey.MiddlewareConfig{
		AuditEvent: "balance",
	})(http.HandlerFunc(s.handleBalance))))

	mux.Handle("/v1/status/", metrics.Instrument("status", http.HandlerFunc(s.handleStatus)))
	mux.Handle("/v1/marketplace", metrics.Instrument("marketplace", http.HandlerFunc(s.handleMarketplace)))
	mux.Handle("/v1/signals", metrics.Instrument("signals", http.HandlerFunc(s.handleSignals)))
	mux.Handle("/v1/pipeline", metrics.Instrument("pipeline", http.HandlerFunc(s.handlePipeline)))
	mux.Handle("/v1/billing", metrics.Instrument("billing", http.HandlerFunc(s.handleBilling)))
	mux.Handle("/v1/opportunities", metrics.Instrument("opportunities", http.HandlerFunc(s.handleOpportunities)))
	mux.Handle("/v1/agents", metrics.Instrument("agents", http.HandlerFunc(s.handleAgents)))
	return mux
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

// priceFor 按任务类型定价：目录中有同名关键词的产品时用其单次价格，
// 否则落到默认单次价格。
func (s *Server) priceFor(taskType string) decimal.Decimal {
	if s.deps.Catalog != nil {
		for _, p := range s.deps.Catalog.Products {
			if p.Keyword == taskType {
				return p.PricePerCallDecimal()
			}
		}
	}
	return defaultCallPrice
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Step    string `json:"step,omitempty"`
}

type errorPayload struct {
	Error errorBody `json:"error"`
}

// writeError 把领域错误映射为 HTTP 状态码与统一的错误负载。
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), errorPayload{Error: errorBody{
		Code:    string(xerrors.CodeOf(err)),
		Message: err.Error(),
		Step:    xerrors.StepOf(err),
	}})
}

// statusOf 按错误码分类：无效密钥按授权失败处理，其余 *_NOT_FOUND 是 404。
func statusOf(err error) int {
	code := xerrors.CodeOf(err)
	switch code {
	case xerrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case xerrors.CodePermissionDenied, apikey.CodeKeyNotFound, apikey.CodeKeyExpired:
		return http.StatusForbidden
	case xerrors.CodeBudgetExhausted, xerrors.CodeInsufficientCredits:
		return http.StatusPaymentRequired
	case xerrors.CodeRateLimited:
		return http.StatusTooManyRequests
	case xerrors.CodeWorkerUnavailable:
		return http.StatusServiceUnavailable
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeConflict, signal.CodeOpportunityExists:
		return http.StatusConflict
	}
	raw := string(code)
	switch {
	case strings.HasSuffix(raw, "NOT_FOUND"):
		return http.StatusNotFound
	case strings.HasSuffix(raw, "VALIDATION_FAILED"):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
