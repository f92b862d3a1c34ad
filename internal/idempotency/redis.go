package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/ec-ordering/internal/apperr"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "idempotency:"

// RedisStore shares idempotency keys between API instances. Begin claims a
// key with SET NX so exactly one instance runs a request.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Begin(ctx context.Context, key, fingerprint string) (*Record, error) {
	pending, err := json.Marshal(Record{Fingerprint: fingerprint})
	if err != nil {
		return nil, err
	}

	claimed, err := s.client.SetNX(ctx, keyPrefix+key, pending, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: redis setnx: %w", apperr.ErrTransient, err)
	}
	if claimed {
		return nil, nil
	}

	data, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired or released between SETNX and GET.
		return s.Begin(ctx, key, fingerprint)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: redis get: %w", apperr.ErrTransient, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal idempotency record: %w", err)
	}
	return check(&rec, fingerprint)
}

func (s *RedisStore) Complete(ctx context.Context, key, fingerprint string, result json.RawMessage) error {
	data, err := json.Marshal(Record{Fingerprint: fingerprint, Completed: true, Result: result})
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, keyPrefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: redis set: %w", apperr.ErrTransient, err)
	}
	return nil
}

// releaseScript deletes the key only while it is still pending.
var releaseScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v and not string.find(v, '"completed":true', 1, true) then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, s.client, []string{keyPrefix + key}).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: redis release: %w", apperr.ErrTransient, err)
	}
	return nil
}
