package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	oidckit "github.com/PaulFidika/authgate/oidc"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces discovery documents in a shared Redis.
const DefaultKeyPrefix = "authgate:oidc:metadata:"

// MetadataCache shares discovery documents between gateway replicas.
type MetadataCache struct {
	rdb   redis.UniversalClient
	keyNS string
	ttl   time.Duration
}

// NewMetadataCache stores entries under keyPrefix. ttl <= 0 stores them
// without expiry.
func NewMetadataCache(rdb redis.UniversalClient, keyPrefix string, ttl time.Duration) *MetadataCache {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	if ttl < 0 {
		ttl = 0
	}
	return &MetadataCache{rdb: rdb, keyNS: keyPrefix, ttl: ttl}
}

func (s *MetadataCache) key(issuer string) string { return s.keyNS + issuer }

func (s *MetadataCache) Put(ctx context.Context, issuer string, md *oidckit.ProviderMetadata) error {
	b, err := json.Marshal(md)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key(issuer), b, s.ttl).Err()
}

func (s *MetadataCache) Get(ctx context.Context, issuer string) (*oidckit.ProviderMetadata, bool, error) {
	val, err := s.rdb.Get(ctx, s.key(issuer)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var md oidckit.ProviderMetadata
	if err := json.Unmarshal(val, &md); err != nil {
		return nil, false, err
	}
	if md.JWKSURI == "" {
		return nil, false, nil
	}
	return &md, true, nil
}

func (s *MetadataCache) Del(ctx context.Context, issuer string) error {
	return s.rdb.Del(ctx, s.key(issuer)).Err()
}
