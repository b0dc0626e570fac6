package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/repository"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "idempotency:transfer"

// Record is the cached owner of an idempotency key.
type Record struct {
	Key             string
	TransferID      uuid.UUID
	SenderAccountID uuid.UUID
	Fingerprint     string
	ServedBy        string
}

// Cache is a read-through cache of key owners. A nil redis client disables it.
type Cache struct {
	redis redis.Cmdable
	ttl   time.Duration
}

func NewCache(redis redis.Cmdable, ttl time.Duration) *Cache {
	return &Cache{redis: redis, ttl: ttl}
}

type cacheEnvelope struct {
	Key         string `json:"key"`
	TransferID  string `json:"transfer_id"`
	SenderID    string `json:"sender_account_id"`
	Fingerprint string `json:"fingerprint"`
}

var errCacheMiss = errors.New("idempotency cache miss")

// Lookup returns the cached owner of key. Redis failures are logged and
// reported as a miss.
func (c *Cache) Lookup(ctx context.Context, key string) (*Record, error) {
	if c == nil || c.redis == nil {
		return nil, errCacheMiss
	}
	val, err := c.redis.Get(ctx, redisKey(key)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("redis idempotency lookup failed", zap.Error(err))
		}
		return nil, errCacheMiss
	}

	var env cacheEnvelope
	if err := json.Unmarshal([]byte(val), &env); err != nil {
		zap.L().Warn("discarding malformed idempotency cache entry", zap.String("key", key), zap.Error(err))
		return nil, errCacheMiss
	}
	transferID, err := uuid.Parse(env.TransferID)
	if err != nil {
		return nil, errCacheMiss
	}
	senderID, err := uuid.Parse(env.SenderID)
	if err != nil {
		return nil, errCacheMiss
	}
	return &Record{
		Key:             env.Key,
		TransferID:      transferID,
		SenderAccountID: senderID,
		Fingerprint:     env.Fingerprint,
		ServedBy:        "redis",
	}, nil
}

// Store caches the owner of a key.
func (c *Cache) Store(ctx context.Context, rec Record) {
	if c == nil || c.redis == nil {
		return
	}
	payload, err := json.Marshal(cacheEnvelope{
		Key:         rec.Key,
		TransferID:  rec.TransferID.String(),
		SenderID:    rec.SenderAccountID.String(),
		Fingerprint: rec.Fingerprint,
	})
	if err != nil {
		zap.L().Warn("marshal idempotency cache", zap.Error(err))
		return
	}
	if err := c.redis.Set(ctx, redisKey(rec.Key), payload, c.ttl).Err(); err != nil {
		zap.L().Warn("redis idempotency cache set failed", zap.Error(err))
	}
}

// Forget drops a cached entry that no longer resolves to a transfer.
func (c *Cache) Forget(ctx context.Context, key string) {
	if c == nil || c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, redisKey(key)).Err(); err != nil {
		zap.L().Warn("redis idempotency cache delete failed", zap.Error(err))
	}
}

func recordFromKey(row repository.IdempotencyKey, servedBy string) Record {
	return Record{
		Key:             row.IdempotencyKey,
		TransferID:      row.TransferID,
		SenderAccountID: row.SenderAccountID,
		Fingerprint:     row.RequestHash,
		ServedBy:        servedBy,
	}
}

func redisKey(key string) string {
	return fmt.Sprintf("%s:%s", redisKeyPrefix, key)
}
