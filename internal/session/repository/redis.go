package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"mowerhub/backend/internal/session/domain"
)

// lastKey points at the most recently saved session so startup can restore
// without knowing the session ID in advance.
const lastKey = "session:last"

// RedisRepository stores session snapshots in Redis under session:<id> with a
// TTL derived from the token expiry.
type RedisRepository struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewRedisRepository returns a repository using client. defaultTTL applies
// when the session token carries no expiry.
func NewRedisRepository(client *redis.Client, logger *zap.Logger, defaultTTL time.Duration) *RedisRepository {
	return &RedisRepository{client: client, logger: logger, ttl: defaultTTL}
}

func sessionKey(id string) string { return fmt.Sprintf("session:%s", id) }

// Save writes the snapshot and updates the last-session pointer.
func (r *RedisRepository) Save(ctx context.Context, s *domain.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", s.ID, err)
	}

	ttl := r.ttl
	if !s.Token.ExpiresAt.IsZero() {
		if until := time.Until(s.Token.ExpiresAt); until > 0 {
			ttl = until
		}
	}

	if err := r.client.Set(ctx, sessionKey(s.ID), data, ttl).Err(); err != nil {
		r.logger.Error("failed to save session snapshot", zap.Error(err), zap.String("session_id", s.ID))
		return err
	}
	if err := r.client.Set(ctx, lastKey, s.ID, ttl).Err(); err != nil {
		r.logger.Warn("failed to update last-session pointer", zap.Error(err))
	}
	return nil
}

// Load returns the snapshot for id, or ErrNotFound.
func (r *RedisRepository) Load(ctx context.Context, id string) (*domain.Session, error) {
	data, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		r.logger.Error("failed to load session snapshot", zap.Error(err), zap.String("session_id", id))
		return nil, err
	}
	var s domain.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	return &s, nil
}

// LoadLast returns the most recently saved snapshot, or ErrNotFound.
func (r *RedisRepository) LoadLast(ctx context.Context) (*domain.Session, error) {
	id, err := r.client.Get(ctx, lastKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r.Load(ctx, id)
}

// Delete removes the snapshot for id. Missing keys are not an error.
func (r *RedisRepository) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		r.logger.Error("failed to delete session snapshot", zap.Error(err), zap.String("session_id", id))
		return err
	}
	return nil
}
