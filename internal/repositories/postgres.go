package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/circle/backend/internal/db"
	"github.com/circle/backend/internal/models"
)

// translatePgError maps constraint violations onto repository sentinels.
func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return ErrConflict
		case "23503": // foreign_key_violation
			return ErrNotFound
		}
	}
	return nil
}

// PostgresUserRepository provides PostgreSQL-backed persistence for users.
type PostgresUserRepository struct {
	pool db.Pool
}

// NewPostgresUserRepository constructs a user repository backed by PostgreSQL.
func NewPostgresUserRepository(pool db.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// Create persists a new user record and returns it with its id.
func (r *PostgresUserRepository) Create(ctx context.Context, user models.User) (models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	err = conn.QueryRow(ctx, `
        INSERT INTO users (email, display_name, password_hash, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id
    `, user.Email, user.DisplayName, user.Password, user.CreatedAt.UTC(), user.UpdatedAt.UTC()).Scan(&user.ID)
	if err != nil {
		if mapped := translatePgError(err); mapped != nil {
			return models.User{}, mapped
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}

	return user, nil
}

// FindByEmail fetches a user by their email address.
func (r *PostgresUserRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	return r.findOne(ctx, "email = $1", email)
}

// FindByID fetches a user by id.
func (r *PostgresUserRepository) FindByID(ctx context.Context, id int64) (models.User, error) {
	return r.findOne(ctx, "id = $1", id)
}

func (r *PostgresUserRepository) findOne(ctx context.Context, where string, arg any) (models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT id, email, display_name, password_hash, created_at, updated_at
        FROM users
        WHERE `+where, arg)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("select user: %w", err)
	}
	return user, nil
}

// Search matches query as a case-insensitive substring of email or display name.
func (r *PostgresUserRepository) Search(ctx context.Context, query string, page models.Page) ([]models.User, int, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	pattern := "%" + likeEscaper.Replace(query) + "%"

	var total int
	if err := conn.QueryRow(ctx, `
        SELECT COUNT(*)
        FROM users
        WHERE email ILIKE $1 OR display_name ILIKE $1
    `, pattern).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	rows, err := conn.Query(ctx, `
        SELECT id, email, display_name, password_hash, created_at, updated_at
        FROM users
        WHERE email ILIKE $1 OR display_name ILIKE $1
        ORDER BY id
        LIMIT $2 OFFSET $3
    `, pattern, page.Size, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate users: %w", err)
	}

	return users, total, nil
}

// Delete removes a user. Requests, friendships and sessions go with it through
// ON DELETE CASCADE.
func (r *PostgresUserRepository) Delete(ctx context.Context, id int64) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	if err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.Password, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return models.User{}, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return user, nil
}

// PostgresFriendRepository provides PostgreSQL-backed persistence for friend
// requests and friendships.
type PostgresFriendRepository struct {
	pool db.Pool
}

// NewPostgresFriendRepository constructs a friend repository backed by PostgreSQL.
func NewPostgresFriendRepository(pool db.Pool) *PostgresFriendRepository {
	return &PostgresFriendRepository{pool: pool}
}

// RequestExists reports whether any request exists for the directed pair.
func (r *PostgresFriendRepository) RequestExists(ctx context.Context, fromUserID, toUserID int64) (bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var exists bool
	if err := conn.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM friend_requests WHERE from_user_id = $1 AND to_user_id = $2
        )
    `, fromUserID, toUserID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check friend request: %w", err)
	}
	return exists, nil
}

// CreateRequest persists a new friend request.
func (r *PostgresFriendRepository) CreateRequest(ctx context.Context, request models.FriendRequest) (models.FriendRequest, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.FriendRequest{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	err = conn.QueryRow(ctx, `
        INSERT INTO friend_requests (from_user_id, to_user_id, status, created_at)
        VALUES ($1, $2, $3, $4)
        RETURNING id
    `, request.FromUserID, request.ToUserID, string(request.Status), request.CreatedAt.UTC()).Scan(&request.ID)
	if err != nil {
		if mapped := translatePgError(err); mapped != nil {
			return models.FriendRequest{}, mapped
		}
		return models.FriendRequest{}, fmt.Errorf("insert friend request: %w", err)
	}

	return request, nil
}

// ListFriends returns the user's friendship edges joined with both emails.
func (r *PostgresFriendRepository) ListFriends(ctx context.Context, userID int64, page models.Page) ([]models.FriendEntry, int, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM friendships WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count friendships: %w", err)
	}

	rows, err := conn.Query(ctx, `
        SELECT f.id, u.email, fu.email, f.created_at
        FROM friendships f
        JOIN users u ON u.id = f.user_id
        JOIN users fu ON fu.id = f.friend_id
        WHERE f.user_id = $1
        ORDER BY f.id
        LIMIT $2 OFFSET $3
    `, userID, page.Size, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("query friendships: %w", err)
	}
	defer rows.Close()

	var entries []models.FriendEntry
	for rows.Next() {
		var entry models.FriendEntry
		if err := rows.Scan(&entry.ID, &entry.UserEmail, &entry.FriendEmail, &entry.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan friendship: %w", err)
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate friendships: %w", err)
	}

	return entries, total, nil
}

// ListPendingRequests returns pending requests addressed to the user.
func (r *PostgresFriendRepository) ListPendingRequests(ctx context.Context, userID int64, page models.Page) ([]models.PendingRequest, int, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var total int
	if err := conn.QueryRow(ctx, `
        SELECT COUNT(*) FROM friend_requests WHERE to_user_id = $1 AND status = 'pending'
    `, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count pending requests: %w", err)
	}

	rows, err := conn.Query(ctx, `
        SELECT r.id, u.email, r.status, r.created_at
        FROM friend_requests r
        JOIN users u ON u.id = r.from_user_id
        WHERE r.to_user_id = $1 AND r.status = 'pending'
        ORDER BY r.id
        LIMIT $2 OFFSET $3
    `, userID, page.Size, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("query pending requests: %w", err)
	}
	defer rows.Close()

	var pending []models.PendingRequest
	for rows.Next() {
		var (
			request models.PendingRequest
			status  string
		)
		if err := rows.Scan(&request.ID, &request.FromUserEmail, &status, &request.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan pending request: %w", err)
		}
		request.Status = models.RequestStatus(status)
		request.CreatedAt = request.CreatedAt.UTC()
		pending = append(pending, request)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate pending requests: %w", err)
	}

	return pending, total, nil
}

// WithinTx runs fn inside a read committed transaction on a dedicated connection.
// Row locks taken by LockRequest serialise concurrent transitions of one request.
func (r *PostgresFriendRepository) WithinTx(ctx context.Context, fn func(tx FriendTx) error) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&postgresTx{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if mapped := translatePgError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) LockRequest(ctx context.Context, id int64) (models.FriendRequest, error) {
	var (
		request models.FriendRequest
		status  string
	)
	err := t.tx.QueryRow(ctx, `
        SELECT id, from_user_id, to_user_id, status, created_at
        FROM friend_requests
        WHERE id = $1
        FOR UPDATE
    `, id).Scan(&request.ID, &request.FromUserID, &request.ToUserID, &status, &request.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.FriendRequest{}, ErrNotFound
		}
		return models.FriendRequest{}, fmt.Errorf("lock friend request: %w", err)
	}

	request.Status = models.RequestStatus(status)
	request.CreatedAt = request.CreatedAt.UTC()
	return request, nil
}

func (t *postgresTx) UpdateStatus(ctx context.Context, id int64, from, to models.RequestStatus) error {
	tag, err := t.tx.Exec(ctx, `
        UPDATE friend_requests
        SET status = $3
        WHERE id = $1 AND status = $2
    `, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("update friend request: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM friend_requests WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check friend request: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStale
}

func (t *postgresTx) DeleteRequest(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM friend_requests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete friend request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *postgresTx) InsertFriendshipPair(ctx context.Context, userA, userB int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `
        INSERT INTO friendships (user_id, friend_id, created_at)
        VALUES ($1, $2, $3), ($2, $1, $3)
        ON CONFLICT (user_id, friend_id) DO NOTHING
    `, userA, userB, at.UTC())
	if err != nil {
		if mapped := translatePgError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("insert friendships: %w", err)
	}
	return nil
}
