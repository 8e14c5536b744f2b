package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/circle/backend/internal/auth"
	"github.com/circle/backend/internal/friends"
	"github.com/circle/backend/internal/repositories"
)

type testServer struct {
	t        *testing.T
	handler  http.Handler
	store    *repositories.MemoryStore
	sessions *auth.InMemorySessionStore
}

type serverOption func(*Dependencies)

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()

	store := repositories.NewMemoryStore()
	sessions := auth.NewInMemorySessionStore()
	manager := auth.NewManager("test-secret", time.Minute, time.Hour, sessions, store)
	friendships := friends.NewFriendships(store)

	deps := Dependencies{
		Users:      store,
		Sessions:   manager,
		Verifier:   manager,
		Requests:   friends.NewRequests(store, store, friendships, nil),
		Friends:    friendships,
		PageLimits: friends.PageLimits{DefaultSize: 20, MaxSize: 50},
	}
	for _, opt := range opts {
		opt(&deps)
	}

	mux := http.NewServeMux()
	RegisterRoutes(mux, deps)

	return &testServer{t: t, handler: mux, store: store, sessions: sessions}
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "203.0.113.7:5000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

// signUp registers an account and returns its access token.
func (s *testServer) signUp(email string) authResponse {
	s.t.Helper()

	rec := s.do(http.MethodPost, "/api/v1/auth/signup", "", signUpRequest{
		Email:           email,
		Password:        "password123",
		ConfirmPassword: "password123",
	})
	if rec.Code != http.StatusCreated {
		s.t.Fatalf("signup %s: expected 201 got %d: %s", email, rec.Code, rec.Body.String())
	}
	return decode[authResponse](s.t, rec)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, kind string) errorBody {
	t.Helper()

	if rec.Code != status {
		t.Fatalf("expected status %d got %d: %s", status, rec.Code, rec.Body.String())
	}
	body := decode[errorBody](t, rec)
	if body.Error.Kind != kind {
		t.Fatalf("expected error kind %q got %q (%s)", kind, body.Error.Kind, body.Error.Message)
	}
	return body
}
