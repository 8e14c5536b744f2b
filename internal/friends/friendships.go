package friends

import (
	"context"
	"time"

	"github.com/circle/backend/internal/logging"
	"github.com/circle/backend/internal/models"
	"github.com/circle/backend/internal/repositories"
)

// Friendships materialises and lists friendship edges.
type Friendships struct {
	store repositories.FriendRepository

	// NowFunc overrides the clock used for edge created_at.
	NowFunc func() time.Time
}

// NewFriendships constructs the friendship service over store.
func NewFriendships(store repositories.FriendRepository) *Friendships {
	if store == nil {
		panic("friends: store must not be nil")
	}
	return &Friendships{store: store}
}

// CreateFriendship inserts the a→b and b→a edges inside tx. It is only reached
// through Requests.Accept, never directly from the API.
func (f *Friendships) CreateFriendship(ctx context.Context, tx repositories.FriendTx, userA, userB int64) error {
	if userA == userB {
		return newError(KindInvalidOperation, "a user cannot befriend themselves")
	}
	return tx.InsertFriendshipPair(ctx, userA, userB, f.now())
}

// ListFriends returns the caller's friendship edges ordered by id ascending.
func (f *Friendships) ListFriends(ctx context.Context, user models.Identity, page models.Page) (_ []models.FriendEntry, _ int, err error) {
	ctx, span := logging.StartSpan(ctx, "friends.list_friends")
	defer func() { span.Fail(err); span.End() }()

	entries, total, err := f.store.ListFriends(ctx, user.UserID, normalizePage(page))
	if err != nil {
		return nil, 0, translate(ctx, "list friends", err)
	}
	return entries, total, nil
}

// ListPendingRequests returns requests awaiting the caller's answer, ordered by id ascending.
func (f *Friendships) ListPendingRequests(ctx context.Context, user models.Identity, page models.Page) (_ []models.PendingRequest, _ int, err error) {
	ctx, span := logging.StartSpan(ctx, "friends.list_pending_requests")
	defer func() { span.Fail(err); span.End() }()

	pending, total, err := f.store.ListPendingRequests(ctx, user.UserID, normalizePage(page))
	if err != nil {
		return nil, 0, translate(ctx, "list pending requests", err)
	}
	return pending, total, nil
}

func (f *Friendships) now() time.Time {
	if f.NowFunc != nil {
		return f.NowFunc()
	}
	return time.Now().UTC()
}
