package app

import (
	"context"
	"fmt"

	"github.com/circle/backend/internal/auth"
	"github.com/circle/backend/internal/config"
	"github.com/circle/backend/internal/db"
	"github.com/circle/backend/internal/repositories"
)

// backend is one storage implementation behind the service.
type backend struct {
	users    repositories.UserRepository
	friends  repositories.FriendRepository
	sessions auth.SessionStore
	ping     func(ctx context.Context) error
	close    func()
}

func openBackend(ctx context.Context, cfg config.Config) (backend, error) {
	switch cfg.DatabaseDriver {
	case db.DriverPostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return backend{}, err
		}
		return backend{
			users:    repositories.NewPostgresUserRepository(pool),
			friends:  repositories.NewPostgresFriendRepository(pool),
			sessions: repositories.NewPostgresSessionStore(pool),
			ping:     pool.Ping,
			close:    pool.Close,
		}, nil

	case db.DriverSQLite, db.DriverMySQL:
		gdb, err := db.OpenGorm(cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			return backend{}, err
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return backend{}, fmt.Errorf("%s handle: %w", cfg.DatabaseDriver, err)
		}
		if err := repositories.AutoMigrate(gdb.WithContext(ctx)); err != nil {
			_ = sqlDB.Close()
			return backend{}, err
		}
		store := repositories.NewGormStore(gdb)
		return backend{
			users:    store,
			friends:  store,
			sessions: repositories.NewGormSessionStore(gdb),
			ping:     sqlDB.PingContext,
			close:    func() { _ = sqlDB.Close() },
		}, nil

	case db.DriverMemory:
		store := repositories.NewMemoryStore()
		return backend{
			users:    store,
			friends:  store,
			sessions: auth.NewInMemorySessionStore(),
			close:    func() {},
		}, nil

	default:
		return backend{}, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}
}
