package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	variantKeyPrefix = "catalog:variant:"
	addOnKeyPrefix   = "catalog:addon:"
)

// CachedCatalog serves lookups from Redis and falls back to the wrapped
// catalog on a miss. Concurrent misses for the same entry share one fallback
// call. Redis failures degrade to the fallback.
type CachedCatalog struct {
	next    Catalog
	client  *redis.Client
	baseTTL time.Duration
	sfg     singleflight.Group
	logger  *zap.Logger
}

func NewCachedCatalog(next Catalog, client *redis.Client, baseTTL time.Duration, logger *zap.Logger) *CachedCatalog {
	return &CachedCatalog{
		next:    next,
		client:  client,
		baseTTL: baseTTL,
		logger:  logger.With(zap.String("component", "catalog_cache")),
	}
}

func (c *CachedCatalog) Variant(ctx context.Context, id string) (*Variant, error) {
	key := variantKeyPrefix + id

	var cached Variant
	if c.get(ctx, key, &cached) {
		return &cached, nil
	}

	v, err, _ := c.sfg.Do(key, func() (any, error) {
		variant, err := c.next.Variant(ctx, id)
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, variant)
		return variant, nil
	})
	if err != nil {
		return nil, err
	}
	variant := *v.(*Variant)
	return &variant, nil
}

func (c *CachedCatalog) AddOns(ctx context.Context, ids []string) ([]AddOn, error) {
	if len(ids) == 0 {
		return []AddOn{}, nil
	}

	found := make(map[string]AddOn, len(ids))
	var missing []string
	for _, id := range ids {
		var a AddOn
		if c.get(ctx, addOnKeyPrefix+id, &a) {
			found[id] = a
		} else if !slices.Contains(missing, id) {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		v, err, _ := c.sfg.Do(addOnKeyPrefix+strings.Join(missing, ","), func() (any, error) {
			addOns, err := c.next.AddOns(ctx, missing)
			if err != nil {
				return nil, err
			}
			for _, a := range addOns {
				c.set(ctx, addOnKeyPrefix+a.ID, a)
			}
			return addOns, nil
		})
		if err != nil {
			return nil, err
		}
		for _, a := range v.([]AddOn) {
			found[a.ID] = a
		}
	}

	out := make([]AddOn, 0, len(ids))
	for _, id := range ids {
		out = append(out, found[id])
	}
	return out, nil
}

// Invalidate drops cached entries after the catalog owner changes them.
func (c *CachedCatalog) Invalidate(ctx context.Context, variantIDs, addOnIDs []string) error {
	keys := make([]string, 0, len(variantIDs)+len(addOnIDs))
	for _, id := range variantIDs {
		keys = append(keys, variantKeyPrefix+id)
	}
	for _, id := range addOnIDs {
		keys = append(keys, addOnKeyPrefix+id)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *CachedCatalog) get(ctx context.Context, key string, dst any) bool {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		c.logger.Warn("cache entry corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c *CachedCatalog) set(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl()).Err(); err != nil {
		c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// ttl spreads expiry over [baseTTL, 1.25*baseTTL) so entries cached together
// do not expire together.
func (c *CachedCatalog) ttl() time.Duration {
	jitter := c.baseTTL / 4
	if jitter <= 0 {
		return c.baseTTL
	}
	return c.baseTTL + rand.N(jitter)
}
