package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/circle/backend/internal/friends"
	"github.com/circle/backend/internal/logging"
	"github.com/circle/backend/internal/middleware"
	"github.com/circle/backend/internal/models"
	"github.com/circle/backend/internal/repositories"
)

const maxSearchQueryLength = 100

// UserHandler serves account endpoints for the authenticated caller.
type UserHandler struct {
	Users    UserStore
	Sessions SessionManager
	Limits   friends.PageLimits
}

// Me handles GET /api/v1/users/me.
func (h UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	user, err := h.Users.FindByID(ctx, identity.UserID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(ctx, w, http.StatusNotFound, string(friends.KindNotFound), "account not found")
			return
		}
		logging.FromContext(ctx).Error("load current user", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, string(friends.KindInternal), "internal server error")
		return
	}

	respondJSON(ctx, w, http.StatusOK, newUserResponse(user))
}

// Delete handles DELETE /api/v1/users/me. Requests, friendships and sessions
// of the account go with it.
func (h UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	if err := h.Users.Delete(ctx, identity.UserID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(ctx, w, http.StatusNotFound, string(friends.KindNotFound), "account not found")
			return
		}
		logger.Error("delete account", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, string(friends.KindInternal), "internal server error")
		return
	}

	if err := h.Sessions.RevokeAll(ctx, identity.UserID); err != nil {
		logger.Warn("revoke sessions of deleted account", "error", err)
	}

	logger.Info("account deleted")
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /api/v1/users/search?q=&page=&pageSize=.
func (h UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireIdentity(w, r); !ok {
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" || utf8.RuneCountInString(query) > maxSearchQueryLength {
		respondError(ctx, w, http.StatusBadRequest, string(friends.KindInvalidArgument), "q must be between 1 and 100 characters")
		return
	}

	page, err := friends.ParsePage(r.URL.Query().Get("page"), r.URL.Query().Get("pageSize"), h.Limits)
	if err != nil {
		respondCoreError(ctx, w, err)
		return
	}

	users, total, err := h.Users.Search(ctx, query, page)
	if err != nil {
		logging.FromContext(ctx).Error("search users", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, string(friends.KindInternal), "internal server error")
		return
	}

	items := make([]userResponse, 0, len(users))
	for _, u := range users {
		items = append(items, *newUserResponse(u))
	}
	respondJSON(ctx, w, http.StatusOK, pageResponse[userResponse]{
		Items:    items,
		Page:     page.Number,
		PageSize: page.Size,
		Total:    total,
	})
}

type userResponse struct {
	ID          int64     `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func newUserResponse(user models.User) *userResponse {
	return &userResponse{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		CreatedAt:   user.CreatedAt,
	}
}

// requireIdentity writes 401 when the route was mounted without Authenticate.
func requireIdentity(w http.ResponseWriter, r *http.Request) (models.Identity, bool) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		respondError(r.Context(), w, http.StatusUnauthorized, kindUnauthenticated, "authentication required")
	}
	return identity, ok
}
