package memorystore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	oidckit "github.com/PaulFidika/authgate/oidc"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestMetadataCacheNoTTLNeverExpires(t *testing.T) {
	c := NewMetadataCache(0)
	defer c.Close()
	ctx := context.Background()
	md := &oidckit.ProviderMetadata{Issuer: "http://idp", JWKSURI: "http://idp/certs"}

	require.NoError(t, c.Put(ctx, "http://idp", md))
	got, ok, err := c.Get(ctx, "http://idp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Same(t, md, got)

	require.NoError(t, c.Del(ctx, "http://idp"))
	_, ok, _ = c.Get(ctx, "http://idp")
	assert.False(t, ok)
}

func TestMetadataCacheTTLExpires(t *testing.T) {
	c := NewMetadataCache(20 * time.Millisecond)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "http://idp", &oidckit.ProviderMetadata{JWKSURI: "x"}))
	_, ok, _ := c.Get(ctx, "http://idp")
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	_, ok, _ = c.Get(ctx, "http://idp")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestMetadataCacheCleanupSweepsExpired(t *testing.T) {
	c := &MetadataCache{ttl: time.Millisecond, data: make(map[string]item), closed: make(chan struct{})}
	go c.cleanupLoop(5 * time.Millisecond)
	defer c.Close()

	require.NoError(t, c.Put(context.Background(), "a", &oidckit.ProviderMetadata{JWKSURI: "x"}))
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMetadataCacheCloseIdempotent(t *testing.T) {
	c := NewMetadataCache(time.Minute)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestMetadataCacheBacksResolver(t *testing.T) {
	c := NewMetadataCache(0)
	defer c.Close()
	var _ oidckit.MetadataCache = c
}
