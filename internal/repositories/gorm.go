package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/circle/backend/internal/auth"
	"github.com/circle/backend/internal/models"
)

type userRow struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Email        string `gorm:"uniqueIndex;size:254;not null"`
	DisplayName  string `gorm:"size:128;not null;default:''"`
	PasswordHash string `gorm:"size:255;not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (userRow) TableName() string { return "users" }

type friendRequestRow struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	FromUserID int64  `gorm:"uniqueIndex:idx_friend_requests_pair;not null"`
	ToUserID   int64  `gorm:"uniqueIndex:idx_friend_requests_pair;index:idx_friend_requests_to_status;not null"`
	Status     string `gorm:"size:16;not null;index:idx_friend_requests_to_status"`
	CreatedAt  time.Time
}

func (friendRequestRow) TableName() string { return "friend_requests" }

type friendshipRow struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	UserID    int64 `gorm:"uniqueIndex:idx_friendships_edge;not null"`
	FriendID  int64 `gorm:"uniqueIndex:idx_friendships_edge;not null"`
	CreatedAt time.Time
}

func (friendshipRow) TableName() string { return "friendships" }

type sessionRow struct {
	RefreshToken string `gorm:"primaryKey;size:64"`
	UserID       int64  `gorm:"index;not null"`
	ExpiresAt    time.Time
}

func (sessionRow) TableName() string { return "sessions" }

// AutoMigrate creates or updates the tables used by the gorm backends.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&userRow{}, &friendRequestRow{}, &friendshipRow{}, &sessionRow{})
}

func translateGormError(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrConflict
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return ErrNotFound
	}
	// older driver builds return the raw constraint error
	if msg := err.Error(); strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry") {
		return ErrConflict
	}
	return nil
}

// GormStore implements UserRepository and FriendRepository on top of gorm for
// the sqlite and mysql drivers.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an opened gorm handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Create persists a new user record and returns it with its id.
func (s *GormStore) Create(ctx context.Context, user models.User) (models.User, error) {
	row := userRow{
		Email:        user.Email,
		DisplayName:  user.DisplayName,
		PasswordHash: user.Password,
		CreatedAt:    user.CreatedAt.UTC(),
		UpdatedAt:    user.UpdatedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if mapped := translateGormError(err); mapped != nil {
			return models.User{}, mapped
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return row.toModel(), nil
}

// FindByEmail fetches a user by their email address.
func (s *GormStore) FindByEmail(ctx context.Context, email string) (models.User, error) {
	return s.findUser(ctx, "email = ?", email)
}

// FindByID fetches a user by id.
func (s *GormStore) FindByID(ctx context.Context, id int64) (models.User, error) {
	return s.findUser(ctx, "id = ?", id)
}

func (s *GormStore) findUser(ctx context.Context, query string, arg any) (models.User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).Where(query, arg).First(&row).Error; err != nil {
		if mapped := translateGormError(err); mapped != nil {
			return models.User{}, mapped
		}
		return models.User{}, fmt.Errorf("select user: %w", err)
	}
	return row.toModel(), nil
}

// Search matches query as a case-insensitive substring of email or display name.
func (s *GormStore) Search(ctx context.Context, query string, page models.Page) ([]models.User, int, error) {
	pattern := "%" + gormLikeEscaper.Replace(strings.ToLower(query)) + "%"
	scope := s.db.WithContext(ctx).Model(&userRow{}).
		Where("LOWER(email) LIKE ? ESCAPE '!' OR LOWER(display_name) LIKE ? ESCAPE '!'", pattern, pattern)

	var total int64
	if err := scope.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	var rows []userRow
	if err := scope.Session(&gorm.Session{}).Order("id").Limit(page.Size).Offset(page.Offset()).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("search users: %w", err)
	}

	users := make([]models.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toModel())
	}
	return users, int(total), nil
}

// Delete removes the user with their requests, friendships and sessions.
func (s *GormStore) Delete(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("from_user_id = ? OR to_user_id = ?", id, id).Delete(&friendRequestRow{}).Error; err != nil {
			return fmt.Errorf("delete friend requests: %w", err)
		}
		if err := tx.Where("user_id = ? OR friend_id = ?", id, id).Delete(&friendshipRow{}).Error; err != nil {
			return fmt.Errorf("delete friendships: %w", err)
		}
		if err := tx.Where("user_id = ?", id).Delete(&sessionRow{}).Error; err != nil {
			return fmt.Errorf("delete sessions: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&userRow{})
		if res.Error != nil {
			return fmt.Errorf("delete user: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// RequestExists reports whether any request exists for the directed pair.
func (s *GormStore) RequestExists(ctx context.Context, fromUserID, toUserID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&friendRequestRow{}).
		Where("from_user_id = ? AND to_user_id = ?", fromUserID, toUserID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check friend request: %w", err)
	}
	return count > 0, nil
}

// CreateRequest persists a new friend request.
func (s *GormStore) CreateRequest(ctx context.Context, request models.FriendRequest) (models.FriendRequest, error) {
	row := friendRequestRow{
		FromUserID: request.FromUserID,
		ToUserID:   request.ToUserID,
		Status:     string(request.Status),
		CreatedAt:  request.CreatedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if mapped := translateGormError(err); mapped != nil {
			return models.FriendRequest{}, mapped
		}
		return models.FriendRequest{}, fmt.Errorf("insert friend request: %w", err)
	}
	request.ID = row.ID
	return request, nil
}

// ListFriends returns the user's friendship edges joined with both emails.
func (s *GormStore) ListFriends(ctx context.Context, userID int64, page models.Page) ([]models.FriendEntry, int, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&friendshipRow{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count friendships: %w", err)
	}

	var entries []models.FriendEntry
	err := s.db.WithContext(ctx).Table("friendships AS f").
		Select("f.id AS id, u.email AS user_email, fu.email AS friend_email, f.created_at AS created_at").
		Joins("JOIN users u ON u.id = f.user_id").
		Joins("JOIN users fu ON fu.id = f.friend_id").
		Where("f.user_id = ?", userID).
		Order("f.id").
		Limit(page.Size).
		Offset(page.Offset()).
		Scan(&entries).Error
	if err != nil {
		return nil, 0, fmt.Errorf("query friendships: %w", err)
	}

	for i := range entries {
		entries[i].CreatedAt = entries[i].CreatedAt.UTC()
	}
	return entries, int(total), nil
}

// ListPendingRequests returns pending requests addressed to the user.
func (s *GormStore) ListPendingRequests(ctx context.Context, userID int64, page models.Page) ([]models.PendingRequest, int, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&friendRequestRow{}).
		Where("to_user_id = ? AND status = ?", userID, string(models.RequestPending)).
		Count(&total).Error
	if err != nil {
		return nil, 0, fmt.Errorf("count pending requests: %w", err)
	}

	var pending []models.PendingRequest
	err = s.db.WithContext(ctx).Table("friend_requests AS r").
		Select("r.id AS id, u.email AS from_user_email, r.status AS status, r.created_at AS created_at").
		Joins("JOIN users u ON u.id = r.from_user_id").
		Where("r.to_user_id = ? AND r.status = ?", userID, string(models.RequestPending)).
		Order("r.id").
		Limit(page.Size).
		Offset(page.Offset()).
		Scan(&pending).Error
	if err != nil {
		return nil, 0, fmt.Errorf("query pending requests: %w", err)
	}

	for i := range pending {
		pending[i].CreatedAt = pending[i].CreatedAt.UTC()
	}
	return pending, int(total), nil
}

// WithinTx runs fn inside a gorm transaction.
func (s *GormStore) WithinTx(ctx context.Context, fn func(tx FriendTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) LockRequest(ctx context.Context, id int64) (models.FriendRequest, error) {
	var row friendRequestRow
	err := t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&row).Error
	if err != nil {
		if mapped := translateGormError(err); mapped != nil {
			return models.FriendRequest{}, mapped
		}
		return models.FriendRequest{}, fmt.Errorf("lock friend request: %w", err)
	}
	return row.toModel(), nil
}

func (t *gormTx) UpdateStatus(ctx context.Context, id int64, from, to models.RequestStatus) error {
	res := t.db.WithContext(ctx).Model(&friendRequestRow{}).
		Where("id = ? AND status = ?", id, string(from)).
		Update("status", string(to))
	if res.Error != nil {
		return fmt.Errorf("update friend request: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := t.db.WithContext(ctx).Model(&friendRequestRow{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("check friend request: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrStale
}

func (t *gormTx) DeleteRequest(ctx context.Context, id int64) error {
	res := t.db.WithContext(ctx).Where("id = ?", id).Delete(&friendRequestRow{})
	if res.Error != nil {
		return fmt.Errorf("delete friend request: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *gormTx) InsertFriendshipPair(ctx context.Context, userA, userB int64, at time.Time) error {
	rows := []friendshipRow{
		{UserID: userA, FriendID: userB, CreatedAt: at.UTC()},
		{UserID: userB, FriendID: userA, CreatedAt: at.UTC()},
	}
	err := t.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
	if err != nil {
		if mapped := translateGormError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("insert friendships: %w", err)
	}
	return nil
}

// GormSessionStore persists refresh tokens through gorm.
type GormSessionStore struct {
	db *gorm.DB
}

// NewGormSessionStore constructs a session store on an opened gorm handle.
func NewGormSessionStore(db *gorm.DB) *GormSessionStore {
	return &GormSessionStore{db: db}
}

// Save stores or replaces a session record.
func (s *GormSessionStore) Save(ctx context.Context, session auth.Session) error {
	row := sessionRow{
		RefreshToken: session.RefreshToken,
		UserID:       session.UserID,
		ExpiresAt:    session.ExpiresAt.UTC(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "refresh_token"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "expires_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// Find loads a session by its refresh token.
func (s *GormSessionStore) Find(ctx context.Context, refreshToken string) (auth.Session, error) {
	var row sessionRow
	if err := s.db.WithContext(ctx).Where("refresh_token = ?", refreshToken).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return auth.Session{}, auth.ErrSessionNotFound
		}
		return auth.Session{}, fmt.Errorf("select session: %w", err)
	}
	return auth.Session{
		RefreshToken: row.RefreshToken,
		UserID:       row.UserID,
		ExpiresAt:    row.ExpiresAt.UTC(),
	}, nil
}

// Delete removes a session by its refresh token.
func (s *GormSessionStore) Delete(ctx context.Context, refreshToken string) error {
	res := s.db.WithContext(ctx).Where("refresh_token = ?", refreshToken).Delete(&sessionRow{})
	if res.Error != nil {
		return fmt.Errorf("delete session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return auth.ErrSessionNotFound
	}
	return nil
}

// DeleteForUser removes every session owned by userID.
func (s *GormSessionStore) DeleteForUser(ctx context.Context, userID int64) error {
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&sessionRow{}).Error; err != nil {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	return nil
}

var gormLikeEscaper = strings.NewReplacer(`!`, `!!`, `%`, `!%`, `_`, `!_`)

func (r userRow) toModel() models.User {
	return models.User{
		ID:          r.ID,
		Email:       r.Email,
		DisplayName: r.DisplayName,
		Password:    r.PasswordHash,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

func (r friendRequestRow) toModel() models.FriendRequest {
	return models.FriendRequest{
		ID:         r.ID,
		FromUserID: r.FromUserID,
		ToUserID:   r.ToUserID,
		Status:     models.RequestStatus(r.Status),
		CreatedAt:  r.CreatedAt.UTC(),
	}
}
