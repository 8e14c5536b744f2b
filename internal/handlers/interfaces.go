package handlers

import (
	"context"

	"github.com/circle/backend/internal/models"
)

// UserStore captures the account operations required by the auth and user handlers.
type UserStore interface {
	Create(ctx context.Context, user models.User) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByID(ctx context.Context, id int64) (models.User, error)
	Search(ctx context.Context, query string, page models.Page) ([]models.User, int, error)
	Delete(ctx context.Context, id int64) error
}

// SessionManager issues, refreshes and revokes authentication tokens for users.
type SessionManager interface {
	Issue(ctx context.Context, identity models.Identity) (models.SessionTokens, error)
	Refresh(ctx context.Context, refreshToken string) (models.SessionTokens, error)
	Revoke(ctx context.Context, refreshToken string)
	RevokeAll(ctx context.Context, userID int64) error
}

// FriendRequests drives the friend request lifecycle.
type FriendRequests interface {
	SendRequest(ctx context.Context, from models.Identity, toEmail string) (models.FriendRequest, error)
	Accept(ctx context.Context, requestID int64, actor models.Identity) error
	Reject(ctx context.Context, requestID int64, actor models.Identity) error
}

// FriendLister serves the read side of the friend graph.
type FriendLister interface {
	ListFriends(ctx context.Context, user models.Identity, page models.Page) ([]models.FriendEntry, int, error)
	ListPendingRequests(ctx context.Context, user models.Identity, page models.Page) ([]models.PendingRequest, int, error)
}
