package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/circle/backend/internal/friends"
	"github.com/circle/backend/internal/logging"
)

const kindUnauthenticated = "unauthenticated"

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type pageResponse[T any] struct {
	Items    []T `json:"items"`
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
	Total    int `json:"total"`
}

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
		return
	}

	logger := logging.FromContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "status", status, "response", payload)
	case status >= http.StatusBadRequest:
		logger.Warn("request returned client error", "status", status, "response", payload)
	}
}

func respondError(ctx context.Context, w http.ResponseWriter, status int, kind, message string) {
	respondJSON(ctx, w, status, errorBody{Error: errorDetail{Kind: kind, Message: message}})
}

// respondCoreError renders an error returned by the friends core. Internal
// failures get a generic message; the cause was already logged by the core.
func respondCoreError(ctx context.Context, w http.ResponseWriter, err error) {
	kind := friends.KindOf(err)
	message := "internal server error"
	var coreErr *friends.Error
	if kind != friends.KindInternal && errors.As(err, &coreErr) {
		message = coreErr.Message
	}
	respondError(ctx, w, statusForKind(kind), string(kind), message)
}

func statusForKind(kind friends.Kind) int {
	switch kind {
	case friends.KindNotFound:
		return http.StatusNotFound
	case friends.KindForbidden:
		return http.StatusForbidden
	case friends.KindInvalidOperation, friends.KindInvalidArgument:
		return http.StatusBadRequest
	case friends.KindConflict:
		return http.StatusConflict
	case friends.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
