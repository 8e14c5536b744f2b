package friends

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circle/backend/internal/models"
	"github.com/circle/backend/internal/repositories"
)

type fixture struct {
	store       *repositories.MemoryStore
	friendships *Friendships
	requests    *Requests
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repositories.NewMemoryStore()
	friendships := NewFriendships(store)
	return &fixture{
		store:       store,
		friendships: friendships,
		requests:    NewRequests(store, store, friendships, nil),
	}
}

func (f *fixture) user(t *testing.T, email string) models.Identity {
	t.Helper()
	user, err := f.store.Create(context.Background(), models.User{Email: email, Password: "hash"})
	require.NoError(t, err)
	return models.Identity{UserID: user.ID, Email: user.Email}
}

func (f *fixture) friendCount(t *testing.T, user models.Identity) int {
	t.Helper()
	_, total, err := f.friendships.ListFriends(context.Background(), user, models.Page{Number: 1, Size: 50})
	require.NoError(t, err)
	return total
}

type fakeQuota struct {
	allowed bool
	err     error
	keys    []string
}

func (q *fakeQuota) Allow(_ context.Context, key string) (bool, error) {
	q.keys = append(q.keys, key)
	return q.allowed, q.err
}

type recordingArchive struct {
	mu       sync.Mutex
	requests []models.FriendRequest
	err      error
}

func (a *recordingArchive) Enqueue(_ context.Context, request models.FriendRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, request)
	return a.err
}

func TestAliceAndBobBecomeFriends(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice@x.com")
	bob := f.user(t, "bob@x.com")

	request, err := f.requests.SendRequest(ctx, alice, "bob@x.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), request.ID)
	assert.Equal(t, models.RequestPending, request.Status)

	require.NoError(t, f.requests.Accept(ctx, request.ID, bob))

	aliceFriends, total, err := f.friendships.ListFriends(ctx, alice, models.Page{Number: 1, Size: 20})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, aliceFriends, 1)
	assert.Equal(t, "alice@x.com", aliceFriends[0].UserEmail)
	assert.Equal(t, "bob@x.com", aliceFriends[0].FriendEmail)

	bobFriends, total, err := f.friendships.ListFriends(ctx, bob, models.Page{Number: 1, Size: 20})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, bobFriends, 1)
	assert.Equal(t, "alice@x.com", bobFriends[0].FriendEmail)
}

func TestSendRequestTwiceConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice@x.com")
	f.user(t, "bob@x.com")

	_, err := f.requests.SendRequest(ctx, alice, "bob@x.com")
	require.NoError(t, err)

	_, err = f.requests.SendRequest(ctx, alice, "bob@x.com")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestSendRequestConflictsAfterAccept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice@x.com")
	bob := f.user(t, "bob@x.com")

	request, err := f.requests.SendRequest(ctx, alice, "bob@x.com")
	require.NoError(t, err)
	require.NoError(t, f.requests.Accept(ctx, request.ID, bob))

	_, err = f.requests.SendRequest(ctx, alice, "bob@x.com")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestSendRequestToSelfIsInvalid(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice@x.com")

	_, err := f.requests.SendRequest(context.Background(), alice, "Alice@X.com ")
	assert.ErrorIs(t, err, ErrInvalidOperation)
}

func TestSendRequestValidation(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice@x.com")

	_, err := f.requests.SendRequest(context.Background(), alice, "not-an-email")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.requests.SendRequest(context.Background(), alice, "nobody@x.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAcceptCreatesBothEdges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice@x.com")
	bob := f.user(t, "bob@x.com")

	request, err := f.requests.SendRequest(ctx, alice, bob.Email)
	require.NoError(t, err)
	require.NoError(t, f.requests.Accept(ctx, request.ID, bob))

	assert.Equal(t, 1, f.friendCount(t, alice))
	assert.Equal(t, 1, f.friendCount(t, bob))

	pending, total, err := f.friendships.ListPendingRequests(ctx, bob, models.Page{Number: 1, Size: 20})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, pending)

	exists, err := f.store.RequestExists(ctx, alice.UserID, bob.UserID)
	require.NoError(t, err)
	assert.True(t, exists, "accepted requests are kept")
}

func TestAcceptByNonRecipientIsForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice@x.com")
	bob := f.user(t, "bob@x.com")
	carol := f.user(t, "carol@x.com")

	request, err := f.requests.SendRequest(ctx, alice, bob.Email)
	require.NoError(t, err)

	assert.ErrorIs(t, f.requests.Accept(ctx, request.ID, carol), ErrForbidden)
	assert.ErrorIs(t, f.requests.Accept(ctx, request.ID, alice), ErrForbidden)
	assert.ErrorIs(t, f.requests.Reject(ctx, request.ID, carol), ErrForbidden)

	pending, _, err := f.friendships.ListPendingRequests(ctx, bob, models.Page{Number: 1, Size: 20})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.RequestPending, pending[0].Status)
	assert.Zero(t, f.friendCount(t, alice))
	assert.Zero(t, f.friendCount(t, bob))
}

func TestRejectDeletesRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice@x.com")
	bob := f.user(t, "bob@x.com")

	request, err := f.requests.SendRequest(ctx, alice, bob.Email)
	require.NoError(t, err)
	require.NoError(t, f.requests.Reject(ctx, request.ID, bob))

	exists, err := f.store.RequestExists(ctx, alice.UserID, bob.UserID)
	require.NoError(t, err)
	assert.False(t, exists)

	assert.ErrorIs(t, f.requests.Accept(ctx, request.ID, bob), ErrNotFound)
	assert.ErrorIs(t, f.requests.Reject(ctx, request.ID, bob), ErrNotFound)
	assert.Zero(t, f.friendCount(t, bob))

	// the pair is free again once the request is gone
	_, err = f.requests.SendRequest(ctx, alice, bob.Email)
	assert.NoError(t, err)
}

func TestRejectHandsSnapshotToArchive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice@x.com")
	bob := f.user(t, "bob@x.com")

	archive := &recordingArchive{err: errors.New("bucket unavailable")}
	f.requests.Archive = archive

	request, err := f.requests.SendRequest(ctx, alice, bob.Email)
	require.NoError(t, err)
	require.NoError(t, f.requests.Reject(ctx, request.ID, bob), "archive failures are not reported")

	require.Len(t, archive.requests, 1)
	assert.Equal(t, request.ID, archive.requests[0].ID)
	assert.Equal(t, models.RequestRejected, archive.requests[0].Status)
}

func TestDoubleAcceptIsInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice@x.com")
	bob := f.user(t, "bob@x.com")

	request, err := f.requests.SendRequest(ctx, alice, bob.Email)
	require.NoError(t, err)
	require.NoError(t, f.requests.Accept(ctx, request.ID, bob))

	assert.ErrorIs(t, f.requests.Accept(ctx, request.ID, bob), ErrInvalidOperation)
	assert.ErrorIs(t, f.requests.Reject(ctx, request.ID, bob), ErrInvalidOperation)
	assert.Equal(t, 1, f.friendCount(t, alice))
	assert.Equal(t, 1, f.friendCount(t, bob))
}

func TestConcurrentAcceptCreatesOnePair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice@x.com")
	bob := f.user(t, "bob@x.com")

	request, err := f.requests.SendRequest(ctx, alice, bob.Email)
	require.NoError(t, err)

	const callers = 8
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.requests.Accept(ctx, request.ID, bob)
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded int
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidOperation)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, f.friendCount(t, alice))
}

func TestReverseRequestAfterFriendshipKeepsSingleEdges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice@x.com")
	bob := f.user(t, "bob@x.com")

	first, err := f.requests.SendRequest(ctx, alice, bob.Email)
	require.NoError(t, err)
	require.NoError(t, f.requests.Accept(ctx, first.ID, bob))

	second, err := f.requests.SendRequest(ctx, bob, alice.Email)
	require.NoError(t, err)
	require.NoError(t, f.requests.Accept(ctx, second.ID, alice))

	assert.Equal(t, 1, f.friendCount(t, alice))
	assert.Equal(t, 1, f.friendCount(t, bob))
}

func TestSendRequestQuota(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice@x.com")
	f.user(t, "bob@x.com")

	quota := &fakeQuota{allowed: false}
	requests := NewRequests(f.store, f.store, f.friendships, quota)

	_, err := requests.SendRequest(context.Background(), alice, "bob@x.com")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, []string{QuotaKey(alice.UserID)}, quota.keys)

	exists, err := f.store.RequestExists(context.Background(), alice.UserID, 2)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSendRequestQuotaBackendDownStillSends(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice@x.com")
	f.user(t, "bob@x.com")

	requests := NewRequests(f.store, f.store, f.friendships, &fakeQuota{err: errors.New("connection refused")})

	_, err := requests.SendRequest(context.Background(), alice, "bob@x.com")
	assert.NoError(t, err)
}

func TestSendRequestUsesClock(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice@x.com")
	f.user(t, "bob@x.com")

	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.requests.NowFunc = func() time.Time { return fixed }

	request, err := f.requests.SendRequest(context.Background(), alice, "bob@x.com")
	require.NoError(t, err)
	assert.Equal(t, fixed, request.CreatedAt)
}

type failingStore struct {
	*repositories.MemoryStore
	err error
}

func (s failingStore) WithinTx(context.Context, func(repositories.FriendTx) error) error {
	return s.err
}

func (s failingStore) ListFriends(context.Context, int64, models.Page) ([]models.FriendEntry, int, error) {
	return nil, 0, s.err
}

func TestStoreFailuresBecomeInternal(t *testing.T) {
	memory := repositories.NewMemoryStore()
	store := failingStore{MemoryStore: memory, err: errors.New("connection reset by peer")}
	friendships := NewFriendships(store)
	requests := NewRequests(memory, store, friendships, nil)

	err := requests.Accept(context.Background(), 1, models.Identity{UserID: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInternal)
	assert.NotContains(t, err.Error(), "connection reset")

	var coreErr *Error
	require.True(t, errors.As(err, &coreErr))
	assert.Nil(t, errors.Unwrap(err))

	_, _, err = friendships.ListFriends(context.Background(), models.Identity{UserID: 1}, models.Page{})
	assert.Equal(t, KindInternal, KindOf(err))
}

func TestStaleUpdateIsInvalidOperation(t *testing.T) {
	store := failingStore{MemoryStore: repositories.NewMemoryStore(), err: repositories.ErrStale}
	requests := NewRequests(store, store, NewFriendships(store), nil)

	err := requests.Accept(context.Background(), 1, models.Identity{UserID: 1})
	assert.ErrorIs(t, err, ErrInvalidOperation)
}
