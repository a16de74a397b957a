package api

import (
	"mime"
	"net/http"
	"strings"

	"SmartTodo/internal/auth"
)

// handleToken 签发访问令牌，同时接受 JSON 与表单两种请求体。
// 成功响应按 OAuth 2.0 令牌格式直接输出，不包裹 data。
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		s.writeError(w, r, auth.Coded(auth.ErrDisabled))
		return
	}
	var req auth.TokenRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
		if err := r.ParseForm(); err != nil {
			s.writeError(w, r, bodyError("invalid form body"))
			return
		}
		req = auth.TokenRequest{
			GrantType:    r.PostForm.Get("grant_type"),
			Username:     r.PostForm.Get("username"),
			Password:     r.PostForm.Get("password"),
			RefreshToken: r.PostForm.Get("refresh_token"),
			Scope:        strings.Fields(r.PostForm.Get("scope")),
		}
	} else if err := s.decodeBody(w, r, tokenRequest, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	pair, err := s.auth.Authenticate(r.Context(), req)
	if err != nil {
		s.writeError(w, r, auth.Coded(err))
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, pair)
}
