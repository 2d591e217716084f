package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/vending/internal/core/domain"
	"github.com/rl1809/vending/internal/port"
)

const (
	listingIndexKey      = "product_list:keys"
	listingGenerationKey = "product_list:gen"
)

// Bumps the generation and drops every indexed listing key in one step, so
// no reader can observe the new generation while old pages still exist.
var invalidateListingsScript = redis.NewScript(`
local index = KEYS[1]
local gen = KEYS[2]

redis.call('INCR', gen)

local keys = redis.call('SMEMBERS', index)
for i = 1, #keys, 500 do
	redis.call('DEL', unpack(keys, i, math.min(i + 499, #keys)))
end
redis.call('DEL', index)

return #keys
`)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

var _ port.ListingCache = (*RedisAdapter)(nil)

func (r *RedisAdapter) Generation(ctx context.Context) (int64, error) {
	gen, err := r.client.Get(ctx, listingGenerationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get generation: %w", err)
	}
	return gen, nil
}

func (r *RedisAdapter) Get(ctx context.Context, key string) (*domain.ProductPage, bool, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get listing: %w", err)
	}

	var page domain.ProductPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, false, fmt.Errorf("decode listing: %w", err)
	}
	return &page, true, nil
}

func (r *RedisAdapter) Put(ctx context.Context, key string, page domain.ProductPage, ttl time.Duration) error {
	raw, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("encode listing: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, raw, ttl)
		pipe.SAdd(ctx, listingIndexKey, key)
		pipe.Expire(ctx, listingIndexKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("put listing: %w", err)
	}
	return nil
}

func (r *RedisAdapter) Invalidate(ctx context.Context) error {
	keys := []string{listingIndexKey, listingGenerationKey}
	if err := invalidateListingsScript.Run(ctx, r.client, keys).Err(); err != nil {
		return fmt.Errorf("invalidate listings: %w", err)
	}
	return nil
}
