package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	xerrors "SmartTodo/internal/errors"
)

// 认证子系统返回的通用错误。
var (
	ErrDisabled           = errors.New("token issuance is not available in this auth mode")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnsupportedGrant   = errors.New("unsupported grant type")
	ErrInvalidToken       = errors.New("invalid token")
	ErrMissingToken       = errors.New("missing bearer token")
	ErrMissingIdentity    = errors.New("missing user identity")
	ErrReservedSubject    = errors.New("reserved user id")
)

// ReservedSubject 是系统预置数据的所有者，任何请求都不能以它的身份执行。
const ReservedSubject = "default"

// Coded 将认证错误转换为带错误码的错误，便于 HTTP 层统一映射状态码。
func Coded(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := xerrors.From(err); ok {
		return err
	}
	switch {
	case errors.Is(err, ErrDisabled), errors.Is(err, ErrUnsupportedGrant):
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, err.Error())
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrMissingToken),
		errors.Is(err, ErrMissingIdentity),
		errors.Is(err, ErrReservedSubject):
		return xerrors.Wrap(xerrors.CodeUnauthenticated, err, "unauthorized")
	default:
		return xerrors.Wrap(xerrors.CodeUnavailable, err, "身份服务不可用")
	}
}

// Store 提供本地 JWT 模式使用的账号目录，实现必须并发安全。
type Store interface {
	FindUserByUsername(ctx context.Context, username string) (*User, error)
	LoadSubject(ctx context.Context, userID string) (*Subject, error)
}

// User 是带凭据的本地账号。
type User struct {
	ID           string
	Username     string
	PasswordHash string
}

// Subject 是通过认证的请求主体，ID 即待办数据的所有者。
type Subject struct {
	ID       string
	Username string
	Scopes   []string
}

// Clone 返回副本。
func (s *Subject) Clone() *Subject {
	if s == nil {
		return nil
	}
	return &Subject{
		ID:       s.ID,
		Username: s.Username,
		Scopes:   append([]string(nil), s.Scopes...),
	}
}

// validate 拒绝空 ID 和保留 ID。
func (s *Subject) validate() error {
	if s == nil || strings.TrimSpace(s.ID) == "" {
		return ErrMissingIdentity
	}
	if strings.TrimSpace(s.ID) == ReservedSubject {
		return ErrReservedSubject
	}
	return nil
}

// TokenRequest 是令牌端点接受的请求体。
type TokenRequest struct {
	GrantType    string   `json:"grant_type"`
	Username     string   `json:"username,omitempty"`
	Password     string   `json:"password,omitempty"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	Scope        []string `json:"scope,omitempty"`
}

// TokenPair 是签发的访问令牌与刷新令牌。
type TokenPair struct {
	AccessToken      string   `json:"access_token"`
	ExpiresIn        int64    `json:"expires_in"`
	RefreshToken     string   `json:"refresh_token,omitempty"`
	RefreshExpiresIn int64    `json:"refresh_expires_in,omitempty"`
	TokenType        string   `json:"token_type"`
	Subject          *Subject `json:"-"`
	GrantedScopes    []string `json:"scope,omitempty"`
}

// Mode 枚举支持的认证方式。
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeHeader   Mode = "header"
	ModeJWT      Mode = "jwt"
	ModeOAuth    Mode = "oauth"
)

// Config 配置认证服务。
type Config struct {
	Mode Mode
	// AnonymousUser 是 disabled 模式下所有请求使用的身份。
	AnonymousUser string
	// Header 是 header 模式下读取用户 ID 的请求头。
	Header string
	JWT    JWTOptions
	OAuth  OAuthOptions
	Seeds  []Seed
}

// JWTOptions 本地 HS256 签发参数。
type JWTOptions struct {
	Secret     string
	Issuer     string
	Audience   []string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// OAuthOptions 外部身份提供方参数。
type OAuthOptions struct {
	TokenURL         string
	IntrospectionURL string
	ClientID         string
	ClientSecret     string
	Scopes           []string
	Timeout          time.Duration
}

// Seed 定义启动时写入的开发账号，ID 为空时使用用户名。
type Seed struct {
	ID       string
	Username string
	Password string
}
