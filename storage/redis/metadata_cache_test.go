package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oidckit "github.com/PaulFidika/authgate/oidc"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestMetadataCacheRoundTrip(t *testing.T) {
	mr, rdb := newRedis(t)
	c := NewMetadataCache(rdb, "", 0)
	ctx := context.Background()
	md := &oidckit.ProviderMetadata{
		Issuer:        "http://idp",
		JWKSURI:       "http://idp/certs",
		TokenEndpoint: "http://idp/token",
	}

	require.NoError(t, c.Put(ctx, "http://idp", md))
	assert.True(t, mr.Exists(DefaultKeyPrefix+"http://idp"))
	assert.Zero(t, mr.TTL(DefaultKeyPrefix+"http://idp"))

	got, ok, err := c.Get(ctx, "http://idp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, *md, *got)

	require.NoError(t, c.Del(ctx, "http://idp"))
	_, ok, err = c.Get(ctx, "http://idp")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMetadataCacheTTL(t *testing.T) {
	mr, rdb := newRedis(t)
	c := NewMetadataCache(rdb, "test:", time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "http://idp", &oidckit.ProviderMetadata{JWKSURI: "x"}))
	assert.Equal(t, time.Minute, mr.TTL("test:http://idp"))

	mr.FastForward(2 * time.Minute)
	_, ok, err := c.Get(ctx, "http://idp")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMetadataCacheCorruptEntry(t *testing.T) {
	mr, rdb := newRedis(t)
	c := NewMetadataCache(rdb, "", 0)
	require.NoError(t, mr.Set(DefaultKeyPrefix+"http://idp", "{not json"))

	_, ok, err := c.Get(context.Background(), "http://idp")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestMetadataCacheBackendDown(t *testing.T) {
	mr, rdb := newRedis(t)
	c := NewMetadataCache(rdb, "", 0)
	mr.Close()

	_, _, err := c.Get(context.Background(), "http://idp")
	assert.Error(t, err)
}
