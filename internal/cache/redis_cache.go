package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"retailpos/backend/internal/domain"
)

const catalogKeyPrefix = "pos:catalog:sku:"

type RedisCatalogCache struct {
	client *redis.Client
}

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisCatalogCache(client *redis.Client) *RedisCatalogCache {
	return &RedisCatalogCache{client: client}
}

func (c *RedisCatalogCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCatalogCache) GetProduct(ctx context.Context, sku string) (*domain.Product, bool, error) {
	val, err := c.client.Get(ctx, catalogKeyPrefix+sku).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var product domain.Product
	if err := json.Unmarshal([]byte(val), &product); err != nil {
		return nil, false, err
	}
	return &product, true, nil
}

func (c *RedisCatalogCache) SetProduct(ctx context.Context, sku string, value *domain.Product, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, catalogKeyPrefix+sku, payload, ttl).Err()
}

func (c *RedisCatalogCache) Invalidate(ctx context.Context, sku string) error {
	return c.client.Del(ctx, catalogKeyPrefix+sku).Err()
}
