package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/halcyon-fi/custodian/types"
)

// RedisStore persists credentials in Redis keyed by owner id. Entries carry
// a TTL slightly past the token expiry so stale tokens age out on their
// own.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttlSlack  time.Duration
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:    client,
		keyPrefix: "custodian:credential:",
		ttlSlack:  time.Hour,
	}
}

func (s *RedisStore) key(ownerID string) string {
	return s.keyPrefix + ownerID
}

func (s *RedisStore) Load(ctx context.Context, ownerID string) (types.Credential, error) {
	raw, err := s.client.Get(ctx, s.key(ownerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.Credential{}, nil
	}
	if err != nil {
		return types.Credential{}, fmt.Errorf("load credential for %s: %w", ownerID, err)
	}

	var cred types.Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return types.Credential{}, fmt.Errorf("decode credential for %s: %w", ownerID, err)
	}
	return cred, nil
}

func (s *RedisStore) Save(ctx context.Context, ownerID string, cred types.Credential) error {
	raw, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode credential for %s: %w", ownerID, err)
	}

	var ttl time.Duration
	if !cred.ExpiresAt.IsZero() {
		ttl = time.Until(cred.ExpiresAt) + s.ttlSlack
		if ttl < 0 {
			ttl = s.ttlSlack
		}
	}
	if err := s.client.Set(ctx, s.key(ownerID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("save credential for %s: %w", ownerID, err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, ownerID string) error {
	if err := s.client.Del(ctx, s.key(ownerID)).Err(); err != nil {
		return fmt.Errorf("clear credential for %s: %w", ownerID, err)
	}
	return nil
}
