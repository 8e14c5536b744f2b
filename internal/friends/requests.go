package friends

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/circle/backend/internal/logging"
	"github.com/circle/backend/internal/models"
	"github.com/circle/backend/internal/repositories"
)

// Quota limits how often a caller may perform an action within a time window.
type Quota interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RejectionArchive receives snapshots of requests whose rejection has committed.
type RejectionArchive interface {
	Enqueue(ctx context.Context, request models.FriendRequest) error
}

// UserLookup resolves recipients by email.
type UserLookup interface {
	FindByEmail(ctx context.Context, email string) (models.User, error)
}

// Requests is the friend request state machine. Requests start pending and
// end either accepted (row kept) or rejected (row deleted).
type Requests struct {
	users       UserLookup
	store       repositories.FriendRepository
	friendships *Friendships
	quota       Quota

	// Archive is optional; when set it is handed every rejected request after commit.
	Archive RejectionArchive
	// NowFunc overrides the clock used for created_at.
	NowFunc func() time.Time
}

// NewRequests wires the state machine. quota may be nil to disable send limits.
func NewRequests(users UserLookup, store repositories.FriendRepository, friendships *Friendships, quota Quota) *Requests {
	if users == nil || store == nil || friendships == nil {
		panic("friends: users, store and friendships must not be nil")
	}
	return &Requests{
		users:       users,
		store:       store,
		friendships: friendships,
		quota:       quota,
	}
}

// SendRequest creates a pending request from the caller to the user owning toEmail.
func (s *Requests) SendRequest(ctx context.Context, from models.Identity, toEmail string) (_ models.FriendRequest, err error) {
	ctx, span := logging.StartSpan(ctx, "friends.send_request")
	defer func() { span.Fail(err); span.End() }()
	logger := logging.FromContext(ctx)

	if err = s.checkQuota(ctx, from.UserID); err != nil {
		return models.FriendRequest{}, err
	}

	email, err := ValidateEmail(toEmail)
	if err != nil {
		return models.FriendRequest{}, err
	}

	target, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.FriendRequest{}, newError(KindNotFound, "no user with email %s", email)
		}
		return models.FriendRequest{}, translate(ctx, "look up recipient", err)
	}

	if target.ID == from.UserID {
		return models.FriendRequest{}, newError(KindInvalidOperation, "cannot send a friend request to yourself")
	}

	exists, err := s.store.RequestExists(ctx, from.UserID, target.ID)
	if err != nil {
		return models.FriendRequest{}, translate(ctx, "check existing request", err)
	}
	if exists {
		return models.FriendRequest{}, newError(KindConflict, "friend request already exists")
	}

	created, err := s.store.CreateRequest(ctx, models.FriendRequest{
		FromUserID: from.UserID,
		ToUserID:   target.ID,
		Status:     models.RequestPending,
		CreatedAt:  s.now(),
	})
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrConflict):
			// lost the race against a concurrent send for the same pair
			return models.FriendRequest{}, newError(KindConflict, "friend request already exists")
		case errors.Is(err, repositories.ErrNotFound):
			return models.FriendRequest{}, newError(KindNotFound, "no user with email %s", email)
		}
		return models.FriendRequest{}, translate(ctx, "create friend request", err)
	}

	logger.Info("friend request sent", "requestId", created.ID, "fromUserId", created.FromUserID, "toUserId", created.ToUserID)
	return created, nil
}

// Accept marks a pending request accepted and materialises the friendship pair
// in the same transaction. Only the recipient may accept.
func (s *Requests) Accept(ctx context.Context, requestID int64, actor models.Identity) (err error) {
	ctx, span := logging.StartSpan(ctx, "friends.accept_request")
	defer func() { span.Fail(err); span.End() }()

	err = s.store.WithinTx(ctx, func(tx repositories.FriendTx) error {
		request, err := lockPending(ctx, tx, requestID, actor)
		if err != nil {
			return err
		}
		if err := tx.UpdateStatus(ctx, request.ID, models.RequestPending, models.RequestAccepted); err != nil {
			return err
		}
		return s.friendships.CreateFriendship(ctx, tx, request.ToUserID, request.FromUserID)
	})
	if err != nil {
		return translate(ctx, "accept friend request", err)
	}

	logging.FromContext(ctx).Info("friend request accepted", "requestId", requestID, "userId", actor.UserID)
	return nil
}

// Reject deletes a pending request. Only the recipient may reject.
func (s *Requests) Reject(ctx context.Context, requestID int64, actor models.Identity) (err error) {
	ctx, span := logging.StartSpan(ctx, "friends.reject_request")
	defer func() { span.Fail(err); span.End() }()
	logger := logging.FromContext(ctx)

	var rejected models.FriendRequest
	err = s.store.WithinTx(ctx, func(tx repositories.FriendTx) error {
		request, err := lockPending(ctx, tx, requestID, actor)
		if err != nil {
			return err
		}
		if err := tx.DeleteRequest(ctx, request.ID); err != nil {
			return err
		}
		rejected = request
		return nil
	})
	if err != nil {
		return translate(ctx, "reject friend request", err)
	}

	logger.Info("friend request rejected", "requestId", requestID, "userId", actor.UserID)

	if s.Archive != nil {
		rejected.Status = models.RequestRejected
		if err := s.Archive.Enqueue(ctx, rejected); err != nil {
			logger.Error("archive rejected friend request", "requestId", rejected.ID, "error", err)
		}
	}
	return nil
}

func lockPending(ctx context.Context, tx repositories.FriendTx, requestID int64, actor models.Identity) (models.FriendRequest, error) {
	request, err := tx.LockRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.FriendRequest{}, newError(KindNotFound, "friend request %d not found", requestID)
		}
		return models.FriendRequest{}, err
	}

	if request.ToUserID != actor.UserID {
		return models.FriendRequest{}, newError(KindForbidden, "only the recipient can respond to a friend request")
	}

	switch request.Status {
	case models.RequestPending:
		return request, nil
	case models.RequestAccepted:
		return models.FriendRequest{}, newError(KindInvalidOperation, "friend request has already been accepted")
	default:
		return models.FriendRequest{}, newError(KindInvalidOperation, "friend request is %s", request.Status)
	}
}

func (s *Requests) checkQuota(ctx context.Context, userID int64) error {
	if s.quota == nil {
		return nil
	}

	allowed, err := s.quota.Allow(ctx, QuotaKey(userID))
	if err != nil {
		// fail open
		logging.FromContext(ctx).Warn("friend request quota unavailable", "userId", userID, "error", err)
		return nil
	}
	if !allowed {
		return newError(KindRateLimited, "too many friend requests, try again later")
	}
	return nil
}

// QuotaKey is the per-sender key used for the friend request quota.
func QuotaKey(userID int64) string {
	return "friend_request:" + strconv.FormatInt(userID, 10)
}

func (s *Requests) now() time.Time {
	if s.NowFunc != nil {
		return s.NowFunc()
	}
	return time.Now().UTC()
}

// translate converts errors escaping a transaction or store call into *Error.
// Anything unrecognised is logged with its cause and reported as internal.
func translate(ctx context.Context, op string, err error) error {
	var coreErr *Error
	switch {
	case errors.As(err, &coreErr):
		return coreErr
	case errors.Is(err, repositories.ErrNotFound):
		return newError(KindNotFound, "friend request not found")
	case errors.Is(err, repositories.ErrStale):
		return newError(KindInvalidOperation, "friend request is no longer pending")
	case errors.Is(err, repositories.ErrConflict):
		return newError(KindConflict, "record already exists")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logging.FromContext(ctx).Warn(op+" interrupted", "error", err)
		return newError(KindInternal, "%s: request interrupted", op)
	}

	logging.FromContext(ctx).Error(op+" failed", "error", err)
	return newError(KindInternal, "%s failed", op)
}
