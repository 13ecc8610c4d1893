package redis

import (
	"context"
	"time"

	"github.com/aiorreal/quota-core/internal/config"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	cli *redis.Client
}

func NewClient(ctx context.Context, cfg *config.RedisConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:     cfg.URL,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Client{cli: c}, nil
}

func (c *Client) Ping(ctx context.Context) error { return c.cli.Ping(ctx).Err() }

// SetNX sets key to value with the given ttl only if key does not
// already exist, reporting whether the set took effect. The Wallet
// Manager's lock uses this for lock acquisition.
func (c *Client) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	return c.cli.SetNX(ctx, key, value, ttl).Result()
}

// Eval runs a Lua script against the underlying connection. The lock's
// compare-and-delete unlock runs through here so it stays atomic without
// every caller needing a *redis.Client of its own.
func (c *Client) Eval(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error) {
	return script.Run(ctx, c.cli, keys, args...).Result()
}

func (c *Client) Close() error { return c.cli.Close() }
