package repositories

import (
	"context"
	"time"

	"github.com/circle/backend/internal/models"
)

// FriendRepository defines data access for friend requests and friendships.
type FriendRepository interface {
	// RequestExists reports whether any request exists for the directed pair, whatever its status.
	RequestExists(ctx context.Context, fromUserID, toUserID int64) (bool, error)
	// CreateRequest inserts a request and returns it with its assigned id. A second
	// request for the same directed pair fails with ErrConflict.
	CreateRequest(ctx context.Context, request models.FriendRequest) (models.FriendRequest, error)
	ListFriends(ctx context.Context, userID int64, page models.Page) ([]models.FriendEntry, int, error)
	ListPendingRequests(ctx context.Context, userID int64, page models.Page) ([]models.PendingRequest, int, error)
	// WithinTx runs fn in a single transaction, committing only when fn returns nil.
	WithinTx(ctx context.Context, fn func(tx FriendTx) error) error
}

// FriendTx is the transactional subset used by the accept and reject transitions.
type FriendTx interface {
	// LockRequest reads a request and holds a row lock on it until the transaction ends.
	LockRequest(ctx context.Context, id int64) (models.FriendRequest, error)
	// UpdateStatus moves a request from one status to another. It returns ErrStale when
	// the row is no longer in the expected status and ErrNotFound when it is gone.
	UpdateStatus(ctx context.Context, id int64, from, to models.RequestStatus) error
	DeleteRequest(ctx context.Context, id int64) error
	// InsertFriendshipPair inserts both directed edges. Edges that already exist are kept.
	InsertFriendshipPair(ctx context.Context, userA, userB int64, at time.Time) error
}
