package auth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key prefix for revoked credentials
const revokedKeyPrefix = "aide:revoked:"

// RedisRevocations shares revocation state across nodes.
type RedisRevocations struct {
	client *redis.Client
}

// NewRedisRevocations creates a revocation list backed by client.
func NewRedisRevocations(client *redis.Client) *RedisRevocations {
	return &RedisRevocations{client: client}
}

// Revoke marks a credential invalid for ttl.
func (r *RedisRevocations) Revoke(ctx context.Context, credential string, ttl time.Duration) error {
	return r.client.Set(ctx, revokedKeyPrefix+hashCredential(credential), "1", ttl).Err()
}

// IsRevoked reports whether the credential has been revoked.
func (r *RedisRevocations) IsRevoked(ctx context.Context, credential string) (bool, error) {
	_, err := r.client.Get(ctx, revokedKeyPrefix+hashCredential(credential)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
