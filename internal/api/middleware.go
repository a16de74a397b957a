package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"SmartTodo/internal/auth"
	xerrors "SmartTodo/internal/errors"
	"SmartTodo/internal/observability/metrics"
)

type requestInfoKey struct{}

// requestInfo 在中间件之间传递认证后的用户，供请求日志使用。
type requestInfo struct {
	userID string
}

// instrument 记录请求日志与指标，并兜底处理 panic。
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		info := &requestInfo{}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		r = r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info))

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		defer func() {
			if p := recover(); p != nil {
				s.log.Error("请求处理发生 panic", slog.Any("panic", p), slog.String("path", r.URL.Path))
				if !rec.wroteHeader {
					s.writeError(rec, r, xerrors.New(xerrors.CodeUnknown, fmt.Sprintf("panic: %v", p), xerrors.WithAlert(true)))
				}
			}
			duration := time.Since(start)
			metrics.ObserveHTTPRequest(route, r.Method, rec.status, duration)
			s.log.Info("HTTP 请求",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Int64("duration_ms", duration.Milliseconds()),
				slog.String("user", info.userID),
			)
		}()
		next.ServeHTTP(rec, r)
	})
}

// captureUser 将认证主体写回请求信息。
func captureUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if info, ok := r.Context().Value(requestInfoKey{}).(*requestInfo); ok {
			info.userID = auth.UserID(r.Context())
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder 捕获响应状态码。
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

// Hijack 透传给底层连接，WebSocket 升级依赖它。
func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("响应不支持 Hijack")
	}
	conn, rw, err := h.Hijack()
	if err == nil {
		w.status = http.StatusSwitchingProtocols
		w.wroteHeader = true
	}
	return conn, rw, err
}

func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusRecorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }
