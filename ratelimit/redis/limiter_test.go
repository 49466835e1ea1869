package redislimiter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowNamedRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	l := New(rdb, map[string]Limit{"gateway:protected": {Limit: 3, Window: time.Minute}})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.AllowNamed(ctx, "gateway:protected", "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := l.AllowNamed(ctx, "gateway:protected", "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)

	// Denied attempts are not recorded.
	card, err := rdb.ZCard(ctx, "authgate:ratelimit:10.0.0.1:gateway:protected").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 3, card)

	ok, err = l.AllowNamed(ctx, "gateway:protected", "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAllowNamedRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	l := New(rdb, nil)
	mr.Close()

	_, err := l.AllowNamed(context.Background(), "b", "k")
	assert.Error(t, err)
}
