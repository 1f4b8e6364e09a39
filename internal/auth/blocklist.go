package auth

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	formforge "github.com/user/formforge"
	"github.com/user/formforge/internal/storage"
)

// StorageBlocklist persists revoked JTIs in the primary store.
type StorageBlocklist struct {
	storage storage.Storage
}

func NewStorageBlocklist(st storage.Storage) *StorageBlocklist {
	return &StorageBlocklist{storage: st}
}

func (b *StorageBlocklist) Add(ctx context.Context, jti, userID string, expiresAt time.Time) error {
	return b.storage.AddBlocklistEntry(ctx, storage.BlocklistEntry{
		JTI:       jti,
		UserID:    userID,
		ExpiresAt: expiresAt,
	})
}

func (b *StorageBlocklist) Contains(ctx context.Context, jti string) (bool, error) {
	return b.storage.IsBlocklisted(ctx, jti)
}

// RedisBlocklist fronts a StorageBlocklist with a Redis cache keyed by
// JTI with a TTL matching the token expiry. A Redis outage degrades to
// the backing store rather than failing the request.
type RedisBlocklist struct {
	client  *redis.Client
	backing Blocklist
	logger  formforge.Logger
}

func NewRedisBlocklist(client *redis.Client, backing Blocklist, logger formforge.Logger) *RedisBlocklist {
	return &RedisBlocklist{client: client, backing: backing, logger: logger}
}

func blocklistKey(jti string) string { return "blocklist:" + jti }

func (b *RedisBlocklist) Add(ctx context.Context, jti, userID string, expiresAt time.Time) error {
	if err := b.backing.Add(ctx, jti, userID, expiresAt); err != nil {
		return err
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := b.client.Set(ctx, blocklistKey(jti), "1", ttl).Err(); err != nil {
		b.logger.Warn("failed to cache blocklist entry", "jti", jti, "error", err)
	}
	return nil
}

func (b *RedisBlocklist) Contains(ctx context.Context, jti string) (bool, error) {
	val, err := b.client.Get(ctx, blocklistKey(jti)).Result()
	if err == nil {
		return val == "1", nil
	}
	if !errors.Is(err, redis.Nil) {
		b.logger.Warn("blocklist cache lookup failed", "jti", jti, "error", err)
	}
	return b.backing.Contains(ctx, jti)
}
