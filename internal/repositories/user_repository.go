package repositories

import (
	"context"

	"github.com/circle/backend/internal/models"
)

// UserRepository defines the data access contract for users.
type UserRepository interface {
	Create(ctx context.Context, user models.User) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByID(ctx context.Context, id int64) (models.User, error)
	Search(ctx context.Context, query string, page models.Page) ([]models.User, int, error)
	// Delete removes the user together with every friend request and friendship
	// that references them.
	Delete(ctx context.Context, id int64) error
}
