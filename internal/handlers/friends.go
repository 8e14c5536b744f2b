package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/circle/backend/internal/friends"
	"github.com/circle/backend/internal/logging"
	"github.com/circle/backend/internal/models"
)

// FriendHandler exposes the friend request lifecycle and friend listings.
type FriendHandler struct {
	Requests FriendRequests
	Friends  FriendLister
	Limits   friends.PageLimits
}

// Send handles POST /api/v1/friend-requests.
func (h FriendHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req sendRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logging.FromContext(ctx).Warn("invalid friend request payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, string(friends.KindInvalidArgument), "invalid request body")
		return
	}

	request, err := h.Requests.SendRequest(ctx, identity, req.ToUserEmail)
	if err != nil {
		respondCoreError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusCreated, requestStatusResponse{ID: request.ID, Status: request.Status})
}

// Accept handles POST /api/v1/friend-requests/{id}/accept.
func (h FriendHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, models.RequestAccepted, h.Requests.Accept)
}

// Reject handles POST /api/v1/friend-requests/{id}/reject.
func (h FriendHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, models.RequestRejected, h.Requests.Reject)
}

type transitionFunc func(ctx context.Context, requestID int64, actor models.Identity) error

func (h FriendHandler) transition(w http.ResponseWriter, r *http.Request, status models.RequestStatus, apply transitionFunc) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	requestID, err := friends.ParseRequestID(r.PathValue("id"))
	if err != nil {
		respondCoreError(ctx, w, err)
		return
	}

	if err := apply(ctx, requestID, identity); err != nil {
		respondCoreError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, requestStatusResponse{ID: requestID, Status: status})
}

// Pending handles GET /api/v1/friend-requests/pending.
func (h FriendHandler) Pending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	page, err := friends.ParsePage(r.URL.Query().Get("page"), r.URL.Query().Get("pageSize"), h.Limits)
	if err != nil {
		respondCoreError(ctx, w, err)
		return
	}

	pending, total, err := h.Friends.ListPendingRequests(ctx, identity, page)
	if err != nil {
		respondCoreError(ctx, w, err)
		return
	}

	items := make([]pendingResponse, 0, len(pending))
	for _, p := range pending {
		items = append(items, pendingResponse{
			ID:            p.ID,
			FromUserEmail: p.FromUserEmail,
			Status:        p.Status,
			CreatedAt:     p.CreatedAt,
		})
	}
	respondJSON(ctx, w, http.StatusOK, pageResponse[pendingResponse]{
		Items:    items,
		Page:     page.Number,
		PageSize: page.Size,
		Total:    total,
	})
}

// List handles GET /api/v1/friends.
func (h FriendHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	page, err := friends.ParsePage(r.URL.Query().Get("page"), r.URL.Query().Get("pageSize"), h.Limits)
	if err != nil {
		respondCoreError(ctx, w, err)
		return
	}

	entries, total, err := h.Friends.ListFriends(ctx, identity, page)
	if err != nil {
		respondCoreError(ctx, w, err)
		return
	}

	items := make([]friendResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, friendResponse{
			ID:          e.ID,
			UserEmail:   e.UserEmail,
			FriendEmail: e.FriendEmail,
			CreatedAt:   e.CreatedAt,
		})
	}
	respondJSON(ctx, w, http.StatusOK, pageResponse[friendResponse]{
		Items:    items,
		Page:     page.Number,
		PageSize: page.Size,
		Total:    total,
	})
}

type sendRequestBody struct {
	ToUserEmail string `json:"toUserEmail"`
}

type requestStatusResponse struct {
	ID     int64                `json:"id"`
	Status models.RequestStatus `json:"status"`
}

type pendingResponse struct {
	ID            int64                `json:"id"`
	FromUserEmail string               `json:"fromUserEmail"`
	Status        models.RequestStatus `json:"status"`
	CreatedAt     time.Time            `json:"createdAt"`
}

type friendResponse struct {
	ID          int64     `json:"id"`
	UserEmail   string    `json:"userEmail"`
	FriendEmail string    `json:"friendEmail"`
	CreatedAt   time.Time `json:"createdAt"`
}
