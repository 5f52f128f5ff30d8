package apikey

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"time"

	xerrors "AgentMarket/internal/errors"
	loggerpkg "AgentMarket/pkg/logger"
)

type contextKey struct{}

// WithKey 把认证通过的密钥写入请求上下文。
func WithKey(ctx context.Context, k *Key) context.Context {
	return context.WithValue(ctx, contextKey{}, k)
}

// KeyFrom 从请求上下文读取密钥。
func KeyFrom(ctx context.Context) (*Key, bool) {
	k, ok := ctx.Value(contextKey{}).(*Key)
	return k, ok
}

// MiddlewareConfig 配置密钥认证中间件的行为。
type MiddlewareConfig struct {
	// RequiredPermission 是访问被保护路径所需的权限，空串表示只认证不鉴权。
	RequiredPermission string
	// AuditEvent 指定记录审计日志时使用的事件名称。
	AuditEvent string
}

// Middleware 返回一个 HTTP 中间件：缺少密钥 401，无效/过期/无权限 403。
func (s *Service) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := s.Authenticate(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				status := http.StatusForbidden
				if stdErrors.Is(err, ErrMissingKey) {
					status = http.StatusUnauthorized
				}
				writeDenied(w, status, err)
				loggerpkg.Audit().Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"status", status,
					"error", err.Error(),
				)
				return
			}
			if cfg.RequiredPermission != "" && !key.HasPermission(cfg.RequiredPermission) {
				writeDenied(w, http.StatusForbidden, ErrPermissionDenied)
				loggerpkg.Audit().Warn("permission_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"key_id", key.ID,
					"permission", cfg.RequiredPermission,
				)
				return
			}
			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			ctx := WithKey(r.Context(), key)
			next.ServeHTTP(aw, r.WithContext(ctx))
			event := cfg.AuditEvent
			if event == "" {
				event = r.URL.Path
			}
			loggerpkg.Audit().Info("api_request",
				"event", event,
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"key_id", key.ID,
			)
		})
	}
}

// writeDenied 以统一的结构化错误负载拒绝请求。
func writeDenied(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    string(xerrors.CodeOf(err)),
			"message": err.Error(),
		},
	})
}

// auditWriter 包装 http.ResponseWriter 以捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获响应状态码并调用底层实现。
func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
