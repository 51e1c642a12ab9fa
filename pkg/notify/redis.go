package notify

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Redis publishes each change on channel "<prefix>.<kind>".
type Redis struct {
	rdb    *goredis.Client
	prefix string
}

// NewRedis connects to addr and pings it.
func NewRedis(ctx context.Context, addr, prefix string) (*Redis, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{rdb: rdb, prefix: prefix}, nil
}

// Channel returns the channel a change of the given kind is published on.
func (r *Redis) Channel(kind string) string {
	return topic(r.prefix, kind)
}

func (r *Redis) Publish(ctx context.Context, c Change) error {
	data, err := c.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode change: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.Channel(c.Kind), data).Err(); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
