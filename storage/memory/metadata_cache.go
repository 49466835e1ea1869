package memorystore

import (
	"context"
	"sync"
	"time"

	oidckit "github.com/PaulFidika/authgate/oidc"
)

// MetadataCache is an in-memory implementation of oidckit.MetadataCache with
// an optional TTL.
type MetadataCache struct {
	mu     sync.Mutex
	ttl    time.Duration
	data   map[string]item
	closed chan struct{}
	once   sync.Once
}

type item struct {
	v   *oidckit.ProviderMetadata
	exp time.Time // zero never expires
}

// NewMetadataCache creates an in-memory metadata cache. If ttl <= 0 entries
// live for the lifetime of the cache and no cleanup goroutine is started.
// Otherwise expired entries are swept every minute until Close.
func NewMetadataCache(ttl time.Duration) *MetadataCache {
	c := &MetadataCache{ttl: ttl, data: make(map[string]item), closed: make(chan struct{})}
	if ttl > 0 {
		go c.cleanupLoop(time.Minute)
	}
	return c
}

func (s *MetadataCache) Put(ctx context.Context, issuer string, md *oidckit.ProviderMetadata) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var exp time.Time
	if s.ttl > 0 {
		exp = time.Now().Add(s.ttl)
	}
	s.data[issuer] = item{v: md, exp: exp}
	return nil
}

func (s *MetadataCache) Get(ctx context.Context, issuer string) (*oidckit.ProviderMetadata, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.data[issuer]
	if !ok {
		return nil, false, nil
	}
	if it.expired(time.Now()) {
		delete(s.data, issuer)
		return nil, false, nil
	}
	return it.v, true, nil
}

func (s *MetadataCache) Del(ctx context.Context, issuer string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, issuer)
	return nil
}

// Len returns the number of entries, expired or not.
func (s *MetadataCache) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

func (it item) expired(now time.Time) bool {
	return !it.exp.IsZero() && now.After(it.exp)
}

func (s *MetadataCache) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.closed:
			return
		}
	}
}

// cleanup removes all expired entries from the cache.
func (s *MetadataCache) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for k, v := range s.data {
		if v.expired(now) {
			delete(s.data, k)
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call more than once.
func (s *MetadataCache) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
