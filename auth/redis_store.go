package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

const (
	codeKeyPrefix    = "otp:"
	sessionKeyPrefix = "session:"
)

var errCodeCollision = errors.New("link code already issued")

// linkRecord is stored under a one-time code until it is exchanged.
type linkRecord struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// sessionRecord is the live server-side session. Deleting it revokes every
// token issued for the session.
type sessionRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisStore keeps link codes and live sessions in Redis so every instance
// sees the same state.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store using the provided Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// codeKey stores only a fingerprint of the code, never the code itself.
func codeKey(code string) string {
	sum := sha256.Sum256([]byte(code))
	return codeKeyPrefix + hex.EncodeToString(sum[:])
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

// SaveCode records a link code with the given TTL.
func (r *RedisStore) SaveCode(ctx context.Context, code string, rec linkRecord, ttl time.Duration) error {
	data, err := sonic.Marshal(rec)
	if err != nil {
		return err
	}
	ok, err := r.client.SetNX(ctx, codeKey(code), data, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return errCodeCollision
	}
	return nil
}

// TakeCode atomically reads and deletes a link code. It returns nil when the
// code is unknown, expired or already used.
func (r *RedisStore) TakeCode(ctx context.Context, code string) (*linkRecord, error) {
	data, err := r.client.GetDel(ctx, codeKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec linkRecord
	if err := sonic.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveSession stores a live session record.
func (r *RedisStore) SaveSession(ctx context.Context, rec sessionRecord, ttl time.Duration) error {
	data, err := sonic.Marshal(rec)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, sessionKey(rec.ID), data, ttl).Err()
}

// GetSession returns the live session or nil when it no longer exists.
func (r *RedisStore) GetSession(ctx context.Context, id string) (*sessionRecord, error) {
	data, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec sessionRecord
	if err := sonic.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteSession removes a live session. Deleting a missing session is not an
// error.
func (r *RedisStore) DeleteSession(ctx context.Context, id string) error {
	return r.client.Del(ctx, sessionKey(id)).Err()
}

// Ping reports whether Redis is reachable.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
