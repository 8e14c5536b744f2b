package models

import (
	"math"
	"time"
)

// User represents an account within the Circle platform.
type User struct {
	ID          int64
	Email       string
	DisplayName string
	Password    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RequestStatus is the lifecycle state of a friend request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestRejected RequestStatus = "rejected"
)

// FriendRequest is a directed proposal from one user to another.
type FriendRequest struct {
	ID         int64
	FromUserID int64
	ToUserID   int64
	Status     RequestStatus
	CreatedAt  time.Time
}

// Friendship is one directed "is friend of" edge. A mutual friendship is two edges.
type Friendship struct {
	ID        int64
	UserID    int64
	FriendID  int64
	CreatedAt time.Time
}

// FriendEntry is a friendship row joined with both endpoints' emails.
type FriendEntry struct {
	ID          int64
	UserEmail   string
	FriendEmail string
	CreatedAt   time.Time
}

// PendingRequest is an incoming pending request joined with the sender's email.
type PendingRequest struct {
	ID            int64
	FromUserEmail string
	Status        RequestStatus
	CreatedAt     time.Time
}

// Page selects a window of an id-ordered listing. Number is 1-based.
type Page struct {
	Number int
	Size   int
}

// Offset returns the number of rows to skip. It saturates at math.MaxInt.
func (p Page) Offset() int {
	if p.Number <= 1 || p.Size <= 0 {
		return 0
	}
	if p.Number-1 > math.MaxInt/p.Size {
		return math.MaxInt
	}
	return (p.Number - 1) * p.Size
}

// Identity is the authenticated caller of a core operation.
type Identity struct {
	UserID int64
	Email  string
}

// SessionTokens groups the bearer credentials issued to authenticated users.
type SessionTokens struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}
