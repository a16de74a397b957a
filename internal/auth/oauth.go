package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// oauthClient 与外部 OAuth 2.0 身份提供方交互。
type oauthClient struct {
	options OAuthOptions
	token   *oauth2.Config
	client  *http.Client
}

// introspectionResponse 是 RFC 7662 内省响应中用到的字段。
type introspectionResponse struct {
	Active    bool   `json:"active"`
	Subject   string `json:"sub"`
	Username  string `json:"username"`
	Scope     string `json:"scope"`
	ExpiresAt int64  `json:"exp"`
	ClientID  string `json:"client_id"`
}

func newOAuthClient(opts OAuthOptions) (*oauthClient, error) {
	if strings.TrimSpace(opts.IntrospectionURL) == "" {
		return nil, errors.New("oauth introspection_url must be configured")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &oauthClient{
		options: opts,
		token: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Scopes:       opts.Scopes,
			Endpoint:     oauth2.Endpoint{TokenURL: opts.TokenURL},
		},
		client: &http.Client{Timeout: opts.Timeout},
	}, nil
}

// exchange 通过密码授权向身份提供方换取令牌。
func (c *oauthClient) exchange(ctx context.Context, req TokenRequest) (*TokenPair, error) {
	if strings.TrimSpace(c.options.TokenURL) == "" {
		return nil, ErrDisabled
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.client)

	var (
		tok *oauth2.Token
		err error
	)
	switch strings.ToLower(strings.TrimSpace(req.GrantType)) {
	case "", grantTypePassword:
		cfg := *c.token
		if len(req.Scope) > 0 {
			cfg.Scopes = req.Scope
		}
		tok, err = cfg.PasswordCredentialsToken(ctx, req.Username, req.Password)
	case grantTypeRefresh:
		tok, err = c.token.TokenSource(ctx, &oauth2.Token{RefreshToken: req.RefreshToken}).Token()
	default:
		return nil, ErrUnsupportedGrant
	}
	if err != nil {
		var retrieve *oauth2.RetrieveError
		if errors.As(err, &retrieve) && retrieve.Response != nil && retrieve.Response.StatusCode < 500 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, retrieve.ErrorCode)
		}
		return nil, fmt.Errorf("oauth token request failed: %w", err)
	}

	expiresIn := tok.ExpiresIn
	if expiresIn == 0 && !tok.Expiry.IsZero() {
		expiresIn = int64(time.Until(tok.Expiry).Seconds())
	}
	var scopes []string
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		scopes = strings.Fields(scope)
	}
	return &TokenPair{
		AccessToken:   tok.AccessToken,
		ExpiresIn:     expiresIn,
		RefreshToken:  tok.RefreshToken,
		TokenType:     tok.Type(),
		GrantedScopes: scopes,
	}, nil
}

// introspect 按 RFC 7662 校验访问令牌，sub 作为数据所有者。
func (c *oauthClient) introspect(ctx context.Context, token string) (*Subject, error) {
	form := url.Values{}
	form.Set("token", token)
	form.Set("token_type_hint", "access_token")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.options.IntrospectionURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	if c.options.ClientID != "" {
		httpReq.SetBasicAuth(c.options.ClientID, c.options.ClientSecret)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("oauth introspection failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("oauth introspection failed: %s", resp.Status)
	}
	var info introspectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode introspection: %w", err)
	}
	if !info.Active {
		return nil, ErrInvalidToken
	}
	if info.ExpiresAt != 0 && time.Now().Unix() > info.ExpiresAt {
		return nil, ErrInvalidToken
	}
	subject := &Subject{ID: info.Subject, Username: info.Username}
	if subject.Username == "" {
		subject.Username = info.Subject
	}
	if info.Scope != "" {
		subject.Scopes = strings.Fields(info.Scope)
	}
	return subject, nil
}
