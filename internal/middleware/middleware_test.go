package middleware

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/circle/backend/internal/logging"
	"github.com/circle/backend/internal/models"
)

type verifierStub struct {
	identity models.Identity
	err      error
	tokens   []string
}

func (v *verifierStub) Verify(token string) (models.Identity, error) {
	v.tokens = append(v.tokens, token)
	return v.identity, v.err
}

func TestAuthenticateAcceptsBearerToken(t *testing.T) {
	verifier := &verifierStub{identity: models.Identity{UserID: 7, Email: "bob@x.com"}}

	var got models.Identity
	handler := Authenticate(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatal("expected identity in context")
		}
		got = identity
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/friends", nil)
	req.Header.Set("Authorization", "bearer  token-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rec.Code)
	}
	if got != verifier.identity {
		t.Fatalf("unexpected identity %+v", got)
	}
	if len(verifier.tokens) != 1 || verifier.tokens[0] != "token-123" {
		t.Fatalf("unexpected verified tokens %v", verifier.tokens)
	}
}

func TestAuthenticateRejects(t *testing.T) {
	cases := map[string]struct {
		header string
		err    error
	}{
		"missing header": {header: ""},
		"wrong scheme":   {header: "Basic abc"},
		"empty token":    {header: "Bearer "},
		"invalid token":  {header: "Bearer abc", err: errors.New("bad signature")},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			verifier := &verifierStub{identity: models.Identity{UserID: 1}, err: tc.err}
			handler := Authenticate(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("next handler must not run")
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/friends", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401 got %d", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), `"kind":"unauthenticated"`) {
				t.Fatalf("unexpected body %s", rec.Body.String())
			}
		})
	}
}

func TestRequestLoggerPropagatesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var seen string
	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/friend-requests", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "req-42" {
		t.Fatalf("expected request id in context, got %q", seen)
	}
	if rec.Header().Get(RequestIDHeader) != "req-42" {
		t.Fatalf("expected request id echoed, got %q", rec.Header().Get(RequestIDHeader))
	}
	if !strings.Contains(buf.String(), `"status":201`) {
		t.Fatalf("expected completion log with status, got %s", buf.String())
	}
}

func TestRequestLoggerRecoversPanic(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	handler := RequestLogger(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rec.Code)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Fatal("expected generated request id")
	}
}
