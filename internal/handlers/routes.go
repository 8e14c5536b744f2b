package handlers

import (
	"context"
	"net/http"

	"github.com/circle/backend/internal/friends"
	"github.com/circle/backend/internal/middleware"
)

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{Ping: deps.Ping}
	auth := AuthHandler{Users: deps.Users, Sessions: deps.Sessions, Limiter: deps.AuthLimiter}
	users := UserHandler{Users: deps.Users, Sessions: deps.Sessions, Limits: deps.PageLimits}
	friendships := FriendHandler{Requests: deps.Requests, Friends: deps.Friends, Limits: deps.PageLimits}

	authenticated := middleware.Authenticate(deps.Verifier)
	protect := func(h http.HandlerFunc) http.Handler { return authenticated(h) }

	mux.HandleFunc("GET /healthz", health.Handle)
	mux.HandleFunc("POST /api/v1/auth/signup", auth.SignUp)
	mux.HandleFunc("POST /api/v1/auth/login", auth.Login)
	mux.HandleFunc("POST /api/v1/auth/refresh", auth.Refresh)
	mux.HandleFunc("POST /api/v1/auth/logout", auth.Logout)

	mux.Handle("GET /api/v1/users/me", protect(users.Me))
	mux.Handle("DELETE /api/v1/users/me", protect(users.Delete))
	mux.Handle("GET /api/v1/users/search", protect(users.Search))

	mux.Handle("POST /api/v1/friend-requests", protect(friendships.Send))
	mux.Handle("POST /api/v1/friend-requests/{id}/accept", protect(friendships.Accept))
	mux.Handle("POST /api/v1/friend-requests/{id}/reject", protect(friendships.Reject))
	mux.Handle("GET /api/v1/friend-requests/pending", protect(friendships.Pending))
	mux.Handle("GET /api/v1/friends", protect(friendships.List))
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Users       UserStore
	Sessions    SessionManager
	Verifier    middleware.TokenVerifier
	Requests    FriendRequests
	Friends     FriendLister
	AuthLimiter RateLimiter
	PageLimits  friends.PageLimits
	Ping        func(ctx context.Context) error
}
