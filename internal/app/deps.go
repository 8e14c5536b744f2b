package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/circle/backend/internal/archive"
	"github.com/circle/backend/internal/auth"
	"github.com/circle/backend/internal/config"
	"github.com/circle/backend/internal/friends"
	"github.com/circle/backend/internal/handlers"
	"github.com/circle/backend/internal/ratelimit"
	"github.com/circle/backend/internal/storage"
)

// buildDependencies wires together concrete implementations used by the HTTP
// handlers. The returned cleanup drains the archive and closes limiter
// connections.
func buildDependencies(ctx context.Context, store backend, cfg config.Config, logger *slog.Logger) (handlers.Dependencies, func(context.Context) error, error) {
	var closers []func(context.Context) error
	cleanup := func(ctx context.Context) error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i](ctx))
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (handlers.Dependencies, func(context.Context) error, error) {
		_ = cleanup(ctx)
		return handlers.Dependencies{}, nil, err
	}

	sessions := auth.NewManager(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, store.sessions, store.users)

	quota, closeQuota, err := newLimiter(ctx, cfg, "circle:quota", cfg.FriendRequestQuota, cfg.FriendRequestWindow)
	if err != nil {
		return fail(fmt.Errorf("friend request quota: %w", err))
	}
	closers = append(closers, closeQuota)

	authLimiter, closeAuth, err := newLimiter(ctx, cfg, "circle:auth", cfg.AuthRateLimit, cfg.AuthRateWindow)
	if err != nil {
		return fail(fmt.Errorf("auth rate limit: %w", err))
	}
	closers = append(closers, closeAuth)

	friendships := friends.NewFriendships(store.friends)
	requests := friends.NewRequests(store.users, store.friends, friendships, quota)

	if cfg.Archive.Enabled() {
		objects, err := storage.NewS3Storage(ctx, cfg.Archive)
		if err != nil {
			return fail(fmt.Errorf("rejection archive: %w", err))
		}
		archiver := archive.New(objects, archive.Config{
			Prefix:    cfg.Archive.Prefix,
			QueueSize: cfg.Archive.QueueSize,
			Workers:   cfg.Archive.Workers,
		}, logger)
		requests.Archive = archiver
		closers = append(closers, archiver.Shutdown)
	}

	deps := handlers.Dependencies{
		Users:       store.users,
		Sessions:    sessions,
		Verifier:    sessions,
		Requests:    requests,
		Friends:     friendships,
		AuthLimiter: authLimiter,
		PageLimits:  friends.PageLimits{DefaultSize: cfg.PageSize, MaxSize: cfg.MaxPageSize},
		Ping:        store.ping,
	}

	return deps, cleanup, nil
}

// newLimiter returns a Redis backed limiter when redis_addr is set and an
// in-process one otherwise. A zero limit disables limiting and returns nil.
func newLimiter(ctx context.Context, cfg config.Config, prefix string, limit int, window time.Duration) (ratelimit.Limiter, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if limit <= 0 {
		return nil, noop, nil
	}

	if cfg.RedisAddr == "" {
		return ratelimit.NewLocal(limit, window), noop, nil
	}

	limiter, err := ratelimit.NewRedis(ctx, ratelimit.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, prefix, limit, window)
	if err != nil {
		return nil, noop, err
	}
	return limiter, func(context.Context) error { return limiter.Close() }, nil
}
