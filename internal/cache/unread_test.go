package cache

import (
	"context"
	"testing"

	"collab-relay/pkg/protocol"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Requires Redis on localhost:6379; skipped otherwise.
const testRedisAddr = "localhost:6379"

func setupUnread(t *testing.T) *RedisUnread {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", testRedisAddr, err)
	}

	prefix := "test-unread:" + t.Name() + ":"
	t.Cleanup(func() {
		keys, _ := client.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		client.Close()
	})
	return NewRedisUnread(client, prefix)
}

func TestRedisUnread_IncrAndAll(t *testing.T) {
	u := setupUnread(t)
	ctx := context.Background()
	direct := protocol.DirectRoom("alice", "bob")
	team := protocol.TeamRoom("p1")

	n, err := u.Incr(ctx, "bob", direct)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = u.Incr(ctx, "bob", direct)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	_, err = u.Incr(ctx, "bob", team)
	require.NoError(t, err)

	all, err := u.All(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{direct.String(): 2, team.String(): 1}, all)
}

func TestRedisUnread_Reset(t *testing.T) {
	u := setupUnread(t)
	ctx := context.Background()
	room := protocol.TeamRoom("p1")

	_, err := u.Incr(ctx, "bob", room)
	require.NoError(t, err)
	require.NoError(t, u.Reset(ctx, "bob", room))

	all, err := u.All(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, all)

	// resetting an absent counter is fine
	assert.NoError(t, u.Reset(ctx, "nobody", room))
}
