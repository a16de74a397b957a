package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"SmartTodo/pkg/logger"
)

const grantTypePassword = "password"

const grantTypeRefresh = "refresh_token"

// Service 负责识别请求主体并签发令牌。
type Service struct {
	mode      Mode
	anonymous string
	header    string
	store     Store
	jwt       *jwtManager
	oauth     *oauthClient
	audit     *slog.Logger
}

// NewService 构造身份认证服务实例。
func NewService(ctx context.Context, cfg Config, store Store) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{
		mode:      mode,
		anonymous: strings.TrimSpace(cfg.AnonymousUser),
		header:    strings.TrimSpace(cfg.Header),
		store:     store,
		audit:     logger.Audit(),
	}

	switch mode {
	case ModeDisabled:
		if svc.anonymous == "" {
			svc.anonymous = "local"
		}
		if svc.anonymous == ReservedSubject {
			return nil, ErrReservedSubject
		}
		return svc, nil
	case ModeHeader:
		if svc.header == "" {
			svc.header = "X-User-ID"
		}
		return svc, nil
	case ModeJWT:
		if strings.TrimSpace(cfg.JWT.Secret) == "" {
			return nil, errors.New("jwt secret must be configured")
		}
		if store == nil {
			memory, err := NewMemoryStore(nil)
			if err != nil {
				return nil, err
			}
			svc.store = memory
		}
		svc.jwt = newJWTManager(cfg.JWT)
	case ModeOAuth:
		client, err := newOAuthClient(cfg.OAuth)
		if err != nil {
			return nil, err
		}
		svc.oauth = client
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if len(cfg.Seeds) > 0 {
		writer, ok := svc.store.(interface {
			ApplySeed(ctx context.Context, seed Seed) error
		})
		if !ok {
			return nil, errors.New("user store does not accept seed users")
		}
		for _, seed := range cfg.Seeds {
			if err := writer.ApplySeed(ctx, seed); err != nil {
				return nil, fmt.Errorf("apply seed %s: %w", seed.Username, err)
			}
		}
	}
	return svc, nil
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// Authenticate 处理令牌端点请求：jwt 模式本地签发，oauth 模式转发到身份提供方。
func (s *Service) Authenticate(ctx context.Context, req TokenRequest) (*TokenPair, error) {
	if s == nil {
		return nil, ErrDisabled
	}
	switch s.mode {
	case ModeJWT:
		return s.authenticateJWT(ctx, req)
	case ModeOAuth:
		return s.oauth.exchange(ctx, req)
	default:
		return nil, ErrDisabled
	}
}

// authenticateJWT 支持 password 与 refresh_token 两种授权方式。
func (s *Service) authenticateJWT(ctx context.Context, req TokenRequest) (*TokenPair, error) {
	grant := strings.TrimSpace(strings.ToLower(req.GrantType))
	if grant == "" {
		grant = grantTypePassword
	}

	var subject *Subject
	switch grant {
	case grantTypePassword:
		user, err := s.store.FindUserByUsername(ctx, strings.TrimSpace(req.Username))
		if err != nil {
			return nil, ErrInvalidCredentials
		}
		if !verifyPassword(user.PasswordHash, req.Password) {
			return nil, ErrInvalidCredentials
		}
		subject, err = s.store.LoadSubject(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("load subject: %w", err)
		}
	case grantTypeRefresh:
		claims, err := s.jwt.Verify(strings.TrimSpace(req.RefreshToken))
		if err != nil {
			return nil, err
		}
		if claims.TokenType != tokenTypeRefresh {
			return nil, ErrInvalidToken
		}
		subject, err = s.store.LoadSubject(ctx, claims.Subject)
		if err != nil {
			return nil, ErrInvalidToken
		}
	default:
		return nil, ErrUnsupportedGrant
	}
	if err := subject.validate(); err != nil {
		return nil, err
	}

	pair, err := s.jwt.Generate(subject)
	if err != nil {
		return nil, err
	}
	pair.Subject = subject.Clone()
	s.audit.Info("token_issued",
		slog.String("grant_type", grant),
		slog.String("user", subject.ID),
	)
	return pair, nil
}

// AuthenticateRequest 校验 Bearer 授权头并返回主体。
func (s *Service) AuthenticateRequest(ctx context.Context, authorization string) (*Subject, error) {
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	return s.VerifyToken(ctx, parts[1])
}

// VerifyToken 校验访问令牌本身。
func (s *Service) VerifyToken(ctx context.Context, token string) (*Subject, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}
	var (
		subject *Subject
		err     error
	)
	switch s.mode {
	case ModeJWT:
		subject, err = s.verifyJWT(ctx, token)
	case ModeOAuth:
		subject, err = s.oauth.introspect(ctx, token)
	default:
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if err := subject.validate(); err != nil {
		return nil, err
	}
	return subject, nil
}

// Identify 根据认证模式识别请求主体，allowQueryToken 为真时也接受 access_token 查询参数。
func (s *Service) Identify(r *http.Request, allowQueryToken bool) (*Subject, error) {
	if s == nil {
		return nil, ErrMissingIdentity
	}
	switch s.mode {
	case ModeDisabled:
		return &Subject{ID: s.anonymous, Username: s.anonymous}, nil
	case ModeHeader:
		subject := &Subject{ID: strings.TrimSpace(r.Header.Get(s.header))}
		subject.Username = subject.ID
		if err := subject.validate(); err != nil {
			return nil, err
		}
		return subject, nil
	}

	authorization := r.Header.Get("Authorization")
	if authorization == "" && allowQueryToken {
		if token := r.URL.Query().Get("access_token"); token != "" {
			return s.VerifyToken(r.Context(), token)
		}
	}
	return s.AuthenticateRequest(r.Context(), authorization)
}

// verifyJWT 验证 JWT 访问令牌。
func (s *Service) verifyJWT(ctx context.Context, token string) (*Subject, error) {
	claims, err := s.jwt.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokenTypeAccess {
		return nil, ErrInvalidToken
	}
	subject, err := s.store.LoadSubject(ctx, claims.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return subject, nil
}

// SetClock 替换令牌签发和校验使用的时间来源，仅用于测试。
func (s *Service) SetClock(now func() time.Time) {
	if s != nil && s.jwt != nil && now != nil {
		s.jwt.now = now
	}
}
