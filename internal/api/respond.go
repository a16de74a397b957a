package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"SmartTodo/internal/auth"
	xerrors "SmartTodo/internal/errors"
	"SmartTodo/internal/observability/alerting"
	"SmartTodo/internal/todo"
)

// CodePayloadTooLarge 表示请求体超过限制。
const CodePayloadTooLarge xerrors.Code = "PAYLOAD_TOO_LARGE"

func init() {
	xerrors.Register(CodePayloadTooLarge, xerrors.Attributes{
		Message:    "request body too large",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusRequestEntityTooLarge,
	})
}

type dataBody struct {
	Data any `json:"data"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, dataBody{Data: data})
}

func writeJSONError(w http.ResponseWriter, status int, code, message, field string) {
	writeJSON(w, status, errorBody{Error: message, Code: code, Field: field})
}

// writeError 根据错误码输出响应，5xx 只返回通用信息并按需告警。
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := xerrors.HTTPStatusOf(err)
	code := xerrors.CodeOf(err)
	if status < 500 {
		message := http.StatusText(status)
		var field string
		if coded, ok := xerrors.From(err); ok {
			message = coded.Message()
			field = coded.Metadata()["field"]
		}
		writeJSONError(w, status, string(code), message, field)
		return
	}

	userID := auth.UserID(r.Context())
	s.log.Error("请求处理失败",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("user", userID),
		slog.String("code", string(code)),
		slog.Any("error", err),
	)
	if s.alerts != nil && xerrors.ShouldAlert(err) {
		event := alerting.FromError(err, time.Now())
		event.Method = r.Method
		event.Path = r.URL.Path
		event.UserID = userID
		if notifyErr := s.alerts.Notify(r.Context(), event); notifyErr != nil {
			s.log.Warn("发送告警失败", slog.Any("error", notifyErr))
		}
	}
	writeJSONError(w, status, string(code), strings.ToLower(http.StatusText(status)), "")
}

// decodeBody 读取受限大小的请求体，先做 JSON Schema 校验再解码。
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, schema *gojsonschema.Schema, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return xerrors.New(CodePayloadTooLarge, "request body too large")
		}
		return bodyError("failed to read request body")
	}
	if schema != nil {
		result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
		if err != nil {
			return bodyError("invalid JSON body")
		}
		if !result.Valid() {
			first := result.Errors()[0]
			field := first.Field()
			if field == gojsonschema.STRING_CONTEXT_ROOT {
				if prop, ok := first.Details()["property"].(string); ok {
					field = prop
				} else {
					field = "body"
				}
			}
			return xerrors.New(todo.CodeValidationFailed, first.String(), xerrors.WithMetadata("field", field))
		}
	}
	if err := json.Unmarshal(body, dst); err != nil {
		if coded, ok := xerrors.From(err); ok {
			return coded
		}
		return bodyError("invalid JSON body")
	}
	return nil
}

func bodyError(message string) error {
	return xerrors.New(todo.CodeValidationFailed, message, xerrors.WithMetadata("field", "body"))
}
