package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cache stores access gate answers keyed by user. Implementations may lose
// entries at any time; the store remains the source of truth.
type Cache interface {
	GetClubIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, bool, error)
	SetClubIDs(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) error
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

// ActiveClubs returns the clubs the caller may act in: those where they hold
// a membership and the subscription is in an active-like status. Cancelled
// and expired clubs drop out of the list, which is how access is revoked.
func (s *Service) ActiveClubs(ctx context.Context, caller Caller) ([]uuid.UUID, error) {
	if caller.UserID == uuid.Nil {
		return nil, ErrUnauthenticated
	}

	if ids, ok, err := s.cache.GetClubIDs(ctx, caller.UserID); err != nil {
		s.log.WarnContext(ctx, "access cache read failed",
			slog.String("user_id", caller.UserID.String()),
			slog.Any("error", err))
	} else if ok {
		return ids, nil
	}

	ids, err := s.store.ActiveClubIDs(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetClubIDs(ctx, caller.UserID, ids); err != nil {
		s.log.WarnContext(ctx, "access cache write failed",
			slog.String("user_id", caller.UserID.String()),
			slog.Any("error", err))
	}
	return ids, nil
}

// HasAccess reports whether the caller may act in the given club.
func (s *Service) HasAccess(ctx context.Context, caller Caller, clubID uuid.UUID) (bool, error) {
	ids, err := s.ActiveClubs(ctx, caller)
	if err != nil {
		return false, err
	}
	return slices.Contains(ids, clubID), nil
}

// NoopCache disables caching; every lookup hits the store.
type NoopCache struct{}

func (NoopCache) GetClubIDs(context.Context, uuid.UUID) ([]uuid.UUID, bool, error) {
	return nil, false, nil
}
func (NoopCache) SetClubIDs(context.Context, uuid.UUID, []uuid.UUID) error { return nil }
func (NoopCache) Invalidate(context.Context, uuid.UUID) error              { return nil }

const accessKeyPrefix = "billing:access:"

// RedisCache caches access answers in Redis with a TTL. Status changes that
// arrive via webhook do not invalidate per-user entries, so the TTL bounds
// how long a revoked club can linger in the gate.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisCache creates a RedisCache. TTL must be positive.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	if client == nil {
		panic("billing: redis client is required")
	}
	if ttl <= 0 {
		panic("billing: cache ttl must be positive")
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) GetClubIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, bool, error) {
	raw, err := c.client.Get(ctx, accessKeyPrefix+userID.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get access entry: %w", err)
	}

	var ids []uuid.UUID
	if err := json.Unmarshal(raw, &ids); err != nil {
		// Treat a corrupt entry as a miss; the next Set overwrites it.
		return nil, false, nil
	}
	return ids, true, nil
}

func (c *RedisCache) SetClubIDs(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) error {
	if ids == nil {
		ids = []uuid.UUID{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode access entry: %w", err)
	}
	if err := c.client.Set(ctx, accessKeyPrefix+userID.String(), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set access entry: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, userID uuid.UUID) error {
	if err := c.client.Del(ctx, accessKeyPrefix+userID.String()).Err(); err != nil {
		return fmt.Errorf("delete access entry: %w", err)
	}
	return nil
}
