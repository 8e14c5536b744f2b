package repositories

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/circle/backend/internal/models"
)

// MemoryStore implements UserRepository and FriendRepository in process. It is
// used by tests and by the memory database driver for local development.
type MemoryStore struct {
	mu    sync.Mutex
	state memoryState
}

type memoryState struct {
	users       map[int64]models.User
	requests    map[int64]models.FriendRequest
	friendships map[int64]models.Friendship

	nextUserID       int64
	nextRequestID    int64
	nextFriendshipID int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: memoryState{
		users:       make(map[int64]models.User),
		requests:    make(map[int64]models.FriendRequest),
		friendships: make(map[int64]models.Friendship),
	}}
}

func (s memoryState) clone() memoryState {
	out := s
	out.users = make(map[int64]models.User, len(s.users))
	for k, v := range s.users {
		out.users[k] = v
	}
	out.requests = make(map[int64]models.FriendRequest, len(s.requests))
	for k, v := range s.requests {
		out.requests[k] = v
	}
	out.friendships = make(map[int64]models.Friendship, len(s.friendships))
	for k, v := range s.friendships {
		out.friendships[k] = v
	}
	return out
}

// Create stores a new user and assigns its id.
func (s *MemoryStore) Create(_ context.Context, user models.User) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.state.users {
		if existing.Email == user.Email {
			return models.User{}, ErrConflict
		}
	}

	s.state.nextUserID++
	user.ID = s.state.nextUserID
	s.state.users[user.ID] = user
	return user, nil
}

// FindByEmail fetches a user by email address.
func (s *MemoryStore) FindByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.state.users {
		if user.Email == email {
			return user, nil
		}
	}
	return models.User{}, ErrNotFound
}

// FindByID fetches a user by id.
func (s *MemoryStore) FindByID(_ context.Context, id int64) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.state.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return user, nil
}

// Search matches query case-insensitively against email and display name.
func (s *MemoryStore) Search(_ context.Context, query string, page models.Page) ([]models.User, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	needle := strings.ToLower(query)
	var matches []models.User
	for _, user := range s.state.users {
		if strings.Contains(strings.ToLower(user.Email), needle) ||
			strings.Contains(strings.ToLower(user.DisplayName), needle) {
			matches = append(matches, user)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })

	return paginate(matches, page), len(matches), nil
}

// Delete removes a user and every request and friendship referencing them.
func (s *MemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.users[id]; !ok {
		return ErrNotFound
	}
	delete(s.state.users, id)

	for rid, request := range s.state.requests {
		if request.FromUserID == id || request.ToUserID == id {
			delete(s.state.requests, rid)
		}
	}
	for fid, friendship := range s.state.friendships {
		if friendship.UserID == id || friendship.FriendID == id {
			delete(s.state.friendships, fid)
		}
	}
	return nil
}

// RequestExists reports whether any request exists for the directed pair.
func (s *MemoryStore) RequestExists(_ context.Context, fromUserID, toUserID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.findRequest(fromUserID, toUserID), nil
}

// CreateRequest inserts a request, enforcing directed pair uniqueness.
func (s *MemoryStore) CreateRequest(_ context.Context, request models.FriendRequest) (models.FriendRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.users[request.FromUserID]; !ok {
		return models.FriendRequest{}, ErrNotFound
	}
	if _, ok := s.state.users[request.ToUserID]; !ok {
		return models.FriendRequest{}, ErrNotFound
	}
	if s.state.findRequest(request.FromUserID, request.ToUserID) {
		return models.FriendRequest{}, ErrConflict
	}

	s.state.nextRequestID++
	request.ID = s.state.nextRequestID
	s.state.requests[request.ID] = request
	return request, nil
}

// ListFriends returns the user's friendship edges ordered by id.
func (s *MemoryStore) ListFriends(_ context.Context, userID int64, page models.Page) ([]models.FriendEntry, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var owned []models.Friendship
	for _, friendship := range s.state.friendships {
		if friendship.UserID == userID {
			owned = append(owned, friendship)
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].ID < owned[j].ID })

	window := paginate(owned, page)
	entries := make([]models.FriendEntry, 0, len(window))
	for _, friendship := range window {
		entries = append(entries, models.FriendEntry{
			ID:          friendship.ID,
			UserEmail:   s.state.users[friendship.UserID].Email,
			FriendEmail: s.state.users[friendship.FriendID].Email,
			CreatedAt:   friendship.CreatedAt,
		})
	}
	return entries, len(owned), nil
}

// ListPendingRequests returns pending requests addressed to the user ordered by id.
func (s *MemoryStore) ListPendingRequests(_ context.Context, userID int64, page models.Page) ([]models.PendingRequest, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var incoming []models.FriendRequest
	for _, request := range s.state.requests {
		if request.ToUserID == userID && request.Status == models.RequestPending {
			incoming = append(incoming, request)
		}
	}
	sort.Slice(incoming, func(i, j int) bool { return incoming[i].ID < incoming[j].ID })

	window := paginate(incoming, page)
	pending := make([]models.PendingRequest, 0, len(window))
	for _, request := range window {
		pending = append(pending, models.PendingRequest{
			ID:            request.ID,
			FromUserEmail: s.state.users[request.FromUserID].Email,
			Status:        request.Status,
			CreatedAt:     request.CreatedAt,
		})
	}
	return pending, len(incoming), nil
}

// WithinTx runs fn against a copy of the store and swaps it in when fn succeeds.
// The store lock is held throughout, so transactions are serialised.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx FriendTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	draft := s.state.clone()
	if err := fn(&memoryTx{state: &draft}); err != nil {
		return err
	}
	s.state = draft
	return nil
}

func (s *memoryState) findRequest(fromUserID, toUserID int64) bool {
	for _, request := range s.requests {
		if request.FromUserID == fromUserID && request.ToUserID == toUserID {
			return true
		}
	}
	return false
}

type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) LockRequest(_ context.Context, id int64) (models.FriendRequest, error) {
	request, ok := t.state.requests[id]
	if !ok {
		return models.FriendRequest{}, ErrNotFound
	}
	return request, nil
}

func (t *memoryTx) UpdateStatus(_ context.Context, id int64, from, to models.RequestStatus) error {
	request, ok := t.state.requests[id]
	if !ok {
		return ErrNotFound
	}
	if request.Status != from {
		return ErrStale
	}
	request.Status = to
	t.state.requests[id] = request
	return nil
}

func (t *memoryTx) DeleteRequest(_ context.Context, id int64) error {
	if _, ok := t.state.requests[id]; !ok {
		return ErrNotFound
	}
	delete(t.state.requests, id)
	return nil
}

func (t *memoryTx) InsertFriendshipPair(_ context.Context, userA, userB int64, at time.Time) error {
	for _, edge := range [][2]int64{{userA, userB}, {userB, userA}} {
		if t.hasEdge(edge[0], edge[1]) {
			continue
		}
		t.state.nextFriendshipID++
		id := t.state.nextFriendshipID
		t.state.friendships[id] = models.Friendship{
			ID:        id,
			UserID:    edge[0],
			FriendID:  edge[1],
			CreatedAt: at,
		}
	}
	return nil
}

func (t *memoryTx) hasEdge(userID, friendID int64) bool {
	for _, friendship := range t.state.friendships {
		if friendship.UserID == userID && friendship.FriendID == friendID {
			return true
		}
	}
	return false
}

func paginate[T any](items []T, page models.Page) []T {
	if page.Size <= 0 {
		return items
	}
	start := page.Offset()
	if start < 0 || start >= len(items) {
		return nil
	}
	end := start + page.Size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
