package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/circle/backend/internal/auth"
	"github.com/circle/backend/internal/ratelimit"
)

func TestAuthHandlerSignUp(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.signUp("  Test@Example.com ")
	if resp.Tokens.AccessToken == "" || resp.Tokens.RefreshToken == "" {
		t.Fatalf("expected tokens to be issued, got %+v", resp.Tokens)
	}
	if resp.User == nil || resp.User.Email != "test@example.com" {
		t.Fatalf("expected normalised user in response, got %+v", resp.User)
	}

	stored, err := srv.store.FindByEmail(context.Background(), "test@example.com")
	if err != nil {
		t.Fatalf("expected user to be stored: %v", err)
	}
	if auth.CheckPassword(stored.Password, "password123") != nil {
		t.Fatal("stored password is not hashed")
	}

	rec := srv.do(http.MethodPost, "/api/v1/auth/signup", "", signUpRequest{
		Email:           "test@example.com",
		Password:        "password123",
		ConfirmPassword: "password123",
	})
	expectError(t, rec, http.StatusConflict, "conflict")
}

func TestAuthHandlerSignUpValidation(t *testing.T) {
	cases := map[string]struct {
		req     signUpRequest
		message string
	}{
		"invalid email": {
			req:     signUpRequest{Email: "not-an-email", Password: "password123", ConfirmPassword: "password123"},
			message: "a valid email address is required",
		},
		"short password": {
			req:     signUpRequest{Email: "a@example.com", Password: "short", ConfirmPassword: "short"},
			message: "password must be at least 8 characters",
		},
		"mismatched confirmation": {
			req:     signUpRequest{Email: "a@example.com", Password: "password123", ConfirmPassword: "password124"},
			message: "passwords do not match",
		},
		"missing confirmation": {
			req:     signUpRequest{Email: "a@example.com", Password: "password123"},
			message: "confirmPassword is required",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := newTestServer(t)
			rec := srv.do(http.MethodPost, "/api/v1/auth/signup", "", tc.req)
			body := expectError(t, rec, http.StatusBadRequest, "invalid_argument")
			if body.Error.Message != tc.message {
				t.Fatalf("expected message %q got %q", tc.message, body.Error.Message)
			}
		})
	}
}

func TestAuthHandlerLogin(t *testing.T) {
	srv := newTestServer(t)
	srv.signUp("login@example.com")

	rec := srv.do(http.MethodPost, "/api/v1/auth/login", "", loginRequest{Email: "LOGIN@example.com", Password: "password123"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d got %d", http.StatusOK, rec.Code)
	}
	resp := decode[authResponse](t, rec)
	if resp.Tokens.AccessToken == "" || resp.Tokens.RefreshToken == "" {
		t.Fatalf("expected tokens to be issued, got %+v", resp.Tokens)
	}

	rec = srv.do(http.MethodPost, "/api/v1/auth/login", "", loginRequest{Email: "login@example.com", Password: "wrong-password"})
	expectError(t, rec, http.StatusUnauthorized, "unauthenticated")

	rec = srv.do(http.MethodPost, "/api/v1/auth/login", "", loginRequest{Email: "nobody@example.com", Password: "password123"})
	expectError(t, rec, http.StatusUnauthorized, "unauthenticated")
}

func TestAuthHandlerRefresh(t *testing.T) {
	srv := newTestServer(t)
	issued := srv.signUp("refresh@example.com")

	rec := srv.do(http.MethodPost, "/api/v1/auth/refresh", "", refreshRequest{RefreshToken: issued.Tokens.RefreshToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	rotated := decode[authResponse](t, rec)
	if rotated.Tokens.RefreshToken == issued.Tokens.RefreshToken {
		t.Fatal("expected refresh token to rotate")
	}

	rec = srv.do(http.MethodPost, "/api/v1/auth/refresh", "", refreshRequest{RefreshToken: issued.Tokens.RefreshToken})
	expectError(t, rec, http.StatusUnauthorized, "unauthenticated")

	rec = srv.do(http.MethodPost, "/api/v1/auth/refresh", "", refreshRequest{})
	expectError(t, rec, http.StatusBadRequest, "invalid_argument")
}

func TestAuthHandlerLogout(t *testing.T) {
	srv := newTestServer(t)
	issued := srv.signUp("logout@example.com")

	rec := srv.do(http.MethodPost, "/api/v1/auth/logout", "", refreshRequest{RefreshToken: issued.Tokens.RefreshToken})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status %d got %d: %s", http.StatusNoContent, rec.Code, rec.Body.String())
	}

	rec = srv.do(http.MethodPost, "/api/v1/auth/refresh", "", refreshRequest{RefreshToken: issued.Tokens.RefreshToken})
	expectError(t, rec, http.StatusUnauthorized, "unauthenticated")

	rec = srv.do(http.MethodPost, "/api/v1/auth/logout", "", refreshRequest{RefreshToken: issued.Tokens.RefreshToken})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected repeated logout to succeed, got %d", rec.Code)
	}

	rec = srv.do(http.MethodPost, "/api/v1/auth/logout", "", refreshRequest{})
	expectError(t, rec, http.StatusBadRequest, "invalid_argument")
}

func TestAuthHandlerRateLimited(t *testing.T) {
	srv := newTestServer(t, func(d *Dependencies) {
		d.AuthLimiter = ratelimit.NewLocal(1, time.Minute)
	})

	rec := srv.do(http.MethodPost, "/api/v1/auth/login", "", loginRequest{Email: "a@example.com", Password: "password123"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected first attempt to reach credential check, got %d", rec.Code)
	}

	rec = srv.do(http.MethodPost, "/api/v1/auth/login", "", loginRequest{Email: "a@example.com", Password: "password123"})
	expectError(t, rec, http.StatusTooManyRequests, "rate_limited")
}

func TestAuthHandlerMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(http.MethodGet, "/api/v1/auth/login", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected method not allowed got %d", rec.Code)
	}
}
