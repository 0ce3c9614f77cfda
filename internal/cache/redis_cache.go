package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "tdpos:held-cart:"

// RedisCartCache stores held carts as JSON strings with a TTL, so carts
// survive restarts and are visible to every API instance.
type RedisCartCache struct {
	client    *redis.Client
	scanCount int64
}

func NewRedisCartCache(addr string, password string, db int) *RedisCartCache {
	return &RedisCartCache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		scanCount: 100,
	}
}

func (c *RedisCartCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCartCache) Close() error {
	return c.client.Close()
}

func (c *RedisCartCache) Get(ctx context.Context, key string) (*HeldCart, bool, error) {
	return decodeHeld(c.client.Get(ctx, keyPrefix+key).Result())
}

// Take uses GETDEL, so two terminals racing on the same hold get one winner.
func (c *RedisCartCache) Take(ctx context.Context, key string) (*HeldCart, bool, error) {
	return decodeHeld(c.client.GetDel(ctx, keyPrefix+key).Result())
}

func (c *RedisCartCache) Set(ctx context.Context, key string, value *HeldCart, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, keyPrefix+key, payload, ttl).Err()
}

func (c *RedisCartCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, keyPrefix+key).Err()
}

// List walks matching keys with SCAN and loads them with one MGET per batch.
// Keys that expire between the two calls are skipped.
func (c *RedisCartCache) List(ctx context.Context, prefix string) ([]HeldCart, error) {
	out := make([]HeldCart, 0, 4)
	iter := c.client.Scan(ctx, 0, keyPrefix+prefix+"*", c.scanCount).Iterator()

	batch := make([]string, 0, c.scanCount)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		values, err := c.client.MGet(ctx, batch...).Result()
		if err != nil {
			return err
		}
		for _, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			var held HeldCart
			if err := json.Unmarshal([]byte(raw), &held); err != nil {
				return err
			}
			out = append(out, held)
		}
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if int64(len(batch)) >= c.scanCount {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	sortHeld(out)
	return out, nil
}

func decodeHeld(val string, err error) (*HeldCart, bool, error) {
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var held HeldCart
	if err := json.Unmarshal([]byte(val), &held); err != nil {
		return nil, false, err
	}
	return &held, true, nil
}
