package auth

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"
)

// MiddlewareConfig 配置身份认证中间件的行为。
type MiddlewareConfig struct {
	// AllowQueryToken 判断请求是否允许通过 access_token 查询参数携带令牌。
	AllowQueryToken func(r *http.Request) bool
	// Deny 输出认证失败响应，err 已转换为带错误码的错误。
	Deny func(w http.ResponseWriter, r *http.Request, err error)
	// AuditEvent 指定记录审计日志时使用的事件名称。
	AuditEvent string
}

// Middleware 返回一个 HTTP 中间件，识别请求主体并写入上下文。
func (s *Service) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowQuery := cfg.AllowQueryToken != nil && cfg.AllowQueryToken(r)
			subject, err := s.Identify(r, allowQuery)
			if err != nil {
				s.audit.Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"mode", string(s.Mode()),
					"error", err.Error(),
				)
				coded := Coded(err)
				if cfg.Deny != nil {
					cfg.Deny(w, r, coded)
					return
				}
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(WithSubject(r.Context(), subject)))

			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				return
			}
			event := cfg.AuditEvent
			if event == "" {
				event = r.URL.Path
			}
			s.audit.Info("api_request",
				"event", event,
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"user", subject.ID,
			)
		})
	}
}

// auditWriter 包装 http.ResponseWriter 以捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获响应状态码并调用底层的 WriteHeader 方法。
func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack 透传给底层连接，WebSocket 升级依赖它。
func (w *auditWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Unwrap 供 http.ResponseController 访问底层 ResponseWriter。
func (w *auditWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
