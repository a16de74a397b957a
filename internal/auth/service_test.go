package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "SmartTodo/internal/errors"
)

func newJWTService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(context.Background(), Config{
		Mode: ModeJWT,
		JWT:  JWTOptions{Secret: "test-secret", Issuer: "smarttodo", AccessTTL: time.Minute, RefreshTTL: time.Hour},
		Seeds: []Seed{
			{ID: "user-alice", Username: "alice", Password: "wonderland"},
		},
	}, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestDisabledModeUsesAnonymousUser(t *testing.T) {
	svc, err := NewService(context.Background(), Config{Mode: ModeDisabled, AnonymousUser: "me"}, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	subject, err := svc.Identify(httptest.NewRequest(http.MethodGet, "/api/v1/todos", nil), false)
	if err != nil || subject.ID != "me" {
		t.Fatalf("unexpected subject %+v, %v", subject, err)
	}
	if _, err := svc.Authenticate(context.Background(), TokenRequest{}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected disabled, got %v", err)
	}

	if _, err := NewService(context.Background(), Config{Mode: ModeDisabled, AnonymousUser: ReservedSubject}, nil); !errors.Is(err, ErrReservedSubject) {
		t.Fatalf("reserved anonymous user must be rejected, got %v", err)
	}
}

func TestHeaderMode(t *testing.T) {
	svc, err := NewService(context.Background(), Config{Mode: ModeHeader}, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	cases := []struct {
		value string
		want  error
	}{
		{"", ErrMissingIdentity},
		{"default", ErrReservedSubject},
		{" bob ", nil},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/todos", nil)
		if tc.value != "" {
			req.Header.Set("X-User-ID", tc.value)
		}
		subject, err := svc.Identify(req, false)
		if !errors.Is(err, tc.want) {
			t.Fatalf("header %q: expected %v, got %v", tc.value, tc.want, err)
		}
		if tc.want == nil && subject.ID != "bob" {
			t.Fatalf("unexpected subject %+v", subject)
		}
	}
}

func TestJWTIssueAndVerify(t *testing.T) {
	svc := newJWTService(t)
	ctx := context.Background()

	if _, err := svc.Authenticate(ctx, TokenRequest{Username: "alice", Password: "nope"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, TokenRequest{GrantType: "client_credentials"}); !errors.Is(err, ErrUnsupportedGrant) {
		t.Fatalf("expected unsupported grant, got %v", err)
	}

	pair, err := svc.Authenticate(ctx, TokenRequest{Username: "alice", Password: "wonderland"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if pair.TokenType != "Bearer" || pair.ExpiresIn != 60 || pair.RefreshToken == "" {
		t.Fatalf("unexpected pair %+v", pair)
	}

	subject, err := svc.AuthenticateRequest(ctx, "Bearer "+pair.AccessToken)
	if err != nil || subject.ID != "user-alice" {
		t.Fatalf("verify access token: %+v %v", subject, err)
	}
	if _, err := svc.VerifyToken(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token must not authenticate requests, got %v", err)
	}
	if _, err := svc.AuthenticateRequest(ctx, "Basic abc"); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token, got %v", err)
	}

	refreshed, err := svc.Authenticate(ctx, TokenRequest{GrantType: "refresh_token", RefreshToken: pair.RefreshToken})
	if err != nil || refreshed.AccessToken == "" {
		t.Fatalf("refresh grant: %+v %v", refreshed, err)
	}

	svc.SetClock(func() time.Time { return time.Now().Add(2 * time.Minute) })
	if _, err := svc.VerifyToken(ctx, pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestJWTRejectsTamperedToken(t *testing.T) {
	svc := newJWTService(t)
	pair, err := svc.Authenticate(context.Background(), TokenRequest{Username: "alice", Password: "wonderland"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	other, _ := NewService(context.Background(), Config{Mode: ModeJWT, JWT: JWTOptions{Secret: "other"}}, nil)
	if _, err := other.VerifyToken(context.Background(), pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token signed with another secret must fail, got %v", err)
	}
}

func TestQueryTokenOnlyWhenAllowed(t *testing.T) {
	svc := newJWTService(t)
	pair, err := svc.Authenticate(context.Background(), TokenRequest{Username: "alice", Password: "wonderland"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events?access_token="+pair.AccessToken, nil)
	if _, err := svc.Identify(req, false); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("query token must be ignored when not allowed, got %v", err)
	}
	subject, err := svc.Identify(req, true)
	if err != nil || subject.ID != "user-alice" {
		t.Fatalf("expected query token to authenticate, got %+v %v", subject, err)
	}
}

func TestOAuthModeUsesProvider(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("grant_type") != "password" || r.PostForm.Get("password") != "secret" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"bearer","expires_in":3600,"scope":"todos"}`))
	})
	mux.HandleFunc("/introspect", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		resp := introspectionResponse{}
		switch r.PostForm.Get("token") {
		case "tok-1":
			resp = introspectionResponse{Active: true, Subject: "idp|42", Username: "carol"}
		case "tok-default":
			resp = introspectionResponse{Active: true, Subject: "default"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	idp := httptest.NewServer(mux)
	defer idp.Close()

	svc, err := NewService(context.Background(), Config{
		Mode: ModeOAuth,
		OAuth: OAuthOptions{
			TokenURL:         idp.URL + "/token",
			IntrospectionURL: idp.URL + "/introspect",
			ClientID:         "smarttodo",
			ClientSecret:     "s3cret",
		},
	}, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()

	pair, err := svc.Authenticate(ctx, TokenRequest{Username: "carol", Password: "secret"})
	if err != nil {
		t.Fatalf("password grant: %v", err)
	}
	if pair.AccessToken != "tok-1" || pair.TokenType != "Bearer" || len(pair.GrantedScopes) != 1 {
		t.Fatalf("unexpected pair %+v", pair)
	}
	if _, err := svc.Authenticate(ctx, TokenRequest{Username: "carol", Password: "wrong"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}

	subject, err := svc.VerifyToken(ctx, "tok-1")
	if err != nil || subject.ID != "idp|42" || subject.Username != "carol" {
		t.Fatalf("unexpected subject %+v %v", subject, err)
	}
	if _, err := svc.VerifyToken(ctx, "revoked"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("inactive token must fail, got %v", err)
	}
	if _, err := svc.VerifyToken(ctx, "tok-default"); !errors.Is(err, ErrReservedSubject) {
		t.Fatalf("reserved subject must fail, got %v", err)
	}
}

func TestMiddlewareDeniesWithCodedError(t *testing.T) {
	svc, _ := NewService(context.Background(), Config{Mode: ModeHeader}, nil)

	var denied error
	handler := svc.Middleware(MiddlewareConfig{
		Deny: func(w http.ResponseWriter, r *http.Request, err error) {
			denied = err
			w.WriteHeader(xerrors.HTTPStatusOf(err))
		},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserID(r.Context()) != "bob" {
			t.Errorf("subject missing from context")
		}
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/todos", nil))
	if rec.Code != http.StatusUnauthorized || xerrors.CodeOf(denied) != xerrors.CodeUnauthenticated {
		t.Fatalf("expected 401 unauthenticated, got %d %v", rec.Code, denied)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/todos", nil)
	req.Header.Set("X-User-ID", "bob")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
}

func TestCodedMapping(t *testing.T) {
	if xerrors.CodeOf(Coded(ErrDisabled)) != xerrors.CodeInvalidArgument {
		t.Fatal("disabled should map to invalid argument")
	}
	if xerrors.CodeOf(Coded(errors.New("dial tcp: refused"))) != xerrors.CodeUnavailable {
		t.Fatal("provider failures should map to unavailable")
	}
	if Coded(nil) != nil {
		t.Fatal("nil stays nil")
	}
}
