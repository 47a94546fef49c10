package replay

import (
	"context"
	"fmt"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

const defaultPrefix = "punchcard:nonce:"

type redisGuard struct {
	c      *rdb.Client
	prefix string
}

func newRedis(cfg Config) (*redisGuard, error) {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	c := rdb.NewClient(&rdb.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &redisGuard{c: c, prefix: prefix}, nil
}

// FirstUse se apoya en SET NX: solo el primer kiosko que ve el nonce logra
// escribirlo.
func (g *redisGuard) FirstUse(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	ok, err := g.c.SetNX(ctx, g.prefix+nonce, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("replay setnx: %w", err)
	}
	return ok, nil
}

func (g *redisGuard) Ping(ctx context.Context) error {
	return g.c.Ping(ctx).Err()
}

func (g *redisGuard) Close() error {
	return g.c.Close()
}
