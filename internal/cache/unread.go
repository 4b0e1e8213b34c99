// Package cache keeps per-user unread counters in Redis, one hash per user
// keyed by room.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"collab-relay/pkg/protocol"

	"github.com/redis/go-redis/v9"
)

type UnreadCounter interface {
	Incr(ctx context.Context, userID string, room protocol.RoomKey) (int64, error)
	Reset(ctx context.Context, userID string, room protocol.RoomKey) error
	All(ctx context.Context, userID string) (map[string]int64, error)
}

type RedisUnread struct {
	client *redis.Client
	prefix string
}

// Open parses a redis:// URL and pings the server.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func NewRedisUnread(client *redis.Client, prefix string) *RedisUnread {
	if prefix == "" {
		prefix = "unread:"
	}
	return &RedisUnread{client: client, prefix: prefix}
}

func (u *RedisUnread) key(userID string) string {
	return u.prefix + userID
}

func (u *RedisUnread) Incr(ctx context.Context, userID string, room protocol.RoomKey) (int64, error) {
	return u.client.HIncrBy(ctx, u.key(userID), room.String(), 1).Result()
}

func (u *RedisUnread) Reset(ctx context.Context, userID string, room protocol.RoomKey) error {
	return u.client.HDel(ctx, u.key(userID), room.String()).Err()
}

// All returns the non-zero counters of a user by room key.
func (u *RedisUnread) All(ctx context.Context, userID string) (map[string]int64, error) {
	raw, err := u.client.HGetAll(ctx, u.key(userID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for room, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n == 0 {
			continue
		}
		out[room] = n
	}
	return out, nil
}
